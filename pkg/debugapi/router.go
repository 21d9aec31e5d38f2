// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package debugapi

import (
	"net/http"
	"net/http/pprof"

	"github.com/aer0ss/aerofs-sub003/pkg/jsonhttp"
	"github.com/aer0ss/aerofs-sub003/pkg/logging/httpaccess"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"resenje.org/web"
)

// newBasicRouter constructs the routes that need no replication component:
// /health, /metrics and pprof.
func (s *Service) newBasicRouter() *mux.Router {
	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(jsonhttp.NotFoundHandler)

	router.Path("/metrics").Handler(web.ChainHandlers(
		httpaccess.SetAccessLogLevelHandler(0),
		web.FinalHandler(promhttp.InstrumentMetricHandler(
			s.metricsRegistry,
			promhttp.HandlerFor(s.metricsRegistry, promhttp.HandlerOpts{}),
		)),
	))

	router.Handle("/debug/pprof", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u := r.URL
		u.Path += "/"
		http.Redirect(w, r, u.String(), http.StatusPermanentRedirect)
	}))
	router.Handle("/debug/pprof/cmdline", http.HandlerFunc(pprof.Cmdline))
	router.Handle("/debug/pprof/profile", http.HandlerFunc(pprof.Profile))
	router.Handle("/debug/pprof/symbol", http.HandlerFunc(pprof.Symbol))
	router.Handle("/debug/pprof/trace", http.HandlerFunc(pprof.Trace))
	router.PathPrefix("/debug/pprof/").Handler(http.HandlerFunc(pprof.Index))

	router.Handle("/health", web.ChainHandlers(
		httpaccess.SetAccessLogLevelHandler(0),
		web.FinalHandlerFunc(s.statusHandler),
	))

	return router
}

// newRouter adds the routes served once the replication components are
// configured. /readiness answers only from then on.
func (s *Service) newRouter() *mux.Router {
	router := s.newBasicRouter()

	router.Handle("/readiness", web.ChainHandlers(
		httpaccess.SetAccessLogLevelHandler(0),
		web.FinalHandlerFunc(s.statusHandler),
	))

	router.Handle("/devices", jsonhttp.MethodHandler{
		"GET": http.HandlerFunc(s.devicesHandler),
	})
	router.Handle("/devices/{did}", jsonhttp.MethodHandler{
		"GET": http.HandlerFunc(s.deviceHandler),
	})
	router.Handle("/devices/{did}/ping", jsonhttp.MethodHandler{
		"POST": http.HandlerFunc(s.pingHandler),
	})

	router.Handle("/downloads", jsonhttp.MethodHandler{
		"GET": http.HandlerFunc(s.downloadsHandler),
	})
	router.Handle("/downloads/{socid}", jsonhttp.MethodHandler{
		"GET":  http.HandlerFunc(s.downloadHandler),
		"POST": http.HandlerFunc(s.requestDownloadHandler),
	})

	return router
}

func (s *Service) setRouter(router http.Handler) {
	h := http.NewServeMux()
	h.Handle("/", web.ChainHandlers(
		httpaccess.NewHTTPAccessLogHandler(s.logger, logrus.InfoLevel, s.tracer, "debug api access"),
		handlers.CompressHandler,
		s.corsHandler,
		web.NoCacheHeadersHandler,
		web.FinalHandler(router),
	))

	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()

	s.handler = h
}

func (s *Service) corsHandler(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if o := r.Header.Get("Origin"); o != "" && s.allowedOrigin(o) {
			w.Header().Set("Access-Control-Allow-Origin", o)
			w.Header().Set("Access-Control-Allow-Headers", "Origin, Accept, Content-Type")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Max-Age", "3600")
		}
		h.ServeHTTP(w, r)
	})
}

func (s *Service) allowedOrigin(origin string) bool {
	for _, o := range s.corsAllowed {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}
