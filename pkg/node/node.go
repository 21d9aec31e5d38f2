// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package node defines the replication daemon by bootstrapping and
// injecting all necessary dependencies.
package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	stdlog "log"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	replicad "github.com/aer0ss/aerofs-sub003"
	"github.com/aer0ss/aerofs-sub003/pkg/causality"
	"github.com/aer0ss/aerofs-sub003/pkg/debugapi"
	"github.com/aer0ss/aerofs-sub003/pkg/depgraph"
	"github.com/aer0ss/aerofs-sub003/pkg/devices"
	"github.com/aer0ss/aerofs-sub003/pkg/dlstate"
	"github.com/aer0ss/aerofs-sub003/pkg/download"
	"github.com/aer0ss/aerofs-sub003/pkg/identity"
	"github.com/aer0ss/aerofs-sub003/pkg/ids"
	"github.com/aer0ss/aerofs-sub003/pkg/logging"
	"github.com/aer0ss/aerofs-sub003/pkg/p2p/websocket"
	"github.com/aer0ss/aerofs-sub003/pkg/protocol"
	"github.com/aer0ss/aerofs-sub003/pkg/reacher"
	"github.com/aer0ss/aerofs-sub003/pkg/rpc"
	"github.com/aer0ss/aerofs-sub003/pkg/sched"
	"github.com/aer0ss/aerofs-sub003/pkg/statestore/leveldb"
	"github.com/aer0ss/aerofs-sub003/pkg/storage/leveldbstore"
	"github.com/aer0ss/aerofs-sub003/pkg/streams"
	"github.com/aer0ss/aerofs-sub003/pkg/to"
	"github.com/aer0ss/aerofs-sub003/pkg/tokens"
	"github.com/aer0ss/aerofs-sub003/pkg/tracing"
	"github.com/gorilla/mux"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

// CarrierPath is the HTTP path where the websocket carrier accepts peers.
const CarrierPath = "/replicad"

const defaultDialInterval = 5 * time.Second

var ErrShutdownInProgress = errors.New("shutdown in progress")

type Replicad struct {
	ctxCancel        context.CancelFunc
	carrierServer    *http.Server
	debugAPIServer   *http.Server
	downloadsCloser  io.Closer
	carrierCloser    io.Closer
	reacherCloser    io.Closer
	schedulerCloser  io.Closer
	queueCloser      io.Closer
	stateStoreCloser io.Closer
	storeCloser      io.Closer
	tracerCloser     io.Closer
	errorLogWriter   *io.PipeWriter
	dialers          sync.WaitGroup
	metrics          metrics

	carrierAddr  net.Addr
	debugAPIAddr net.Addr
	carrier      *websocket.Transport
	devices      *devices.Registry
	downloads    *download.Downloads
	users        *identity.Mapper
	tracker      *dlstate.Tracker
	store        *leveldbstore.Store
	trigger      *trigger

	shutdownInProgress bool
	shutdownMutex      sync.Mutex
}

type Options struct {
	// DataDir holds the object store, content files and the identity
	// store. Empty keeps everything in memory.
	DataDir string
	// DeviceID and UserID identify the local device.
	DeviceID ids.DID
	UserID   ids.UserID
	// Stores are the indices of the stores the device is a member of.
	Stores []ids.SIndex
	// ListenAddr is the address the websocket carrier listens on.
	ListenAddr string
	// Peers are the websocket urls of devices to connect to.
	Peers        []string
	DialInterval time.Duration
	// DebugAPIAddr enables the diagnostics API when not empty.
	DebugAPIAddr       string
	CORSAllowedOrigins []string
	Logger             logging.Logger

	ClientDownloads   int64
	IdentityCacheSize int
	RPCTimeout        time.Duration
	MaxcastEnabled    bool
	StreamChunkSize   int
	StreamTimeout     time.Duration
	SchedulerWorkers  int
	MaxUnicastSize    int

	TracingEnabled     bool
	TracingEndpoint    string
	TracingServiceName string
}

func NewReplicad(o Options) (b *Replicad, err error) {
	start := time.Now()
	logger := o.Logger

	b = &Replicad{
		errorLogWriter: logger.WriterLevel(logrus.ErrorLevel),
		metrics:        newMetrics(),
	}
	defer func() {
		if err != nil {
			if e := b.Shutdown(); e != nil {
				logger.Errorf("failed to shut down: %v", e)
			}
		}
	}()

	ctx, ctxCancel := context.WithCancel(context.Background())
	b.ctxCancel = ctxCancel

	tracer, tracerCloser, err := tracing.NewTracer(&tracing.Options{
		Enabled:     o.TracingEnabled,
		Endpoint:    o.TracingEndpoint,
		ServiceName: o.TracingServiceName,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer: %w", err)
	}
	b.tracerCloser = tracerCloser

	var debugAPIService *debugapi.Service
	if o.DebugAPIAddr != "" {
		debugAPIListener, err := net.Listen("tcp", o.DebugAPIAddr)
		if err != nil {
			return nil, fmt.Errorf("debug api listener: %w", err)
		}
		debugAPIService = debugapi.New(logger, tracer, o.CORSAllowedOrigins)
		b.debugAPIServer = b.serve(debugAPIListener, debugAPIService, "debug api", logger)
		b.debugAPIAddr = debugAPIListener.Addr()
	}

	fs := afero.NewMemMapFs()
	var storePath string
	if o.DataDir != "" {
		fs = afero.NewBasePathFs(afero.NewOsFs(), filepath.Join(o.DataDir, "content"))
		storePath = filepath.Join(o.DataDir, "objects")
	}
	store, err := leveldbstore.New(logger, leveldbstore.Options{Path: storePath, Fs: fs, Local: o.DeviceID})
	if err != nil {
		return nil, fmt.Errorf("object store: %w", err)
	}
	b.store = store
	b.storeCloser = store
	for _, sidx := range o.Stores {
		if err := store.CreateStore(sidx); err != nil {
			return nil, fmt.Errorf("create store %s: %w", sidx, err)
		}
	}

	var stateStore *leveldb.Store
	if o.DataDir == "" {
		stateStore, err = leveldb.NewInMemoryStateStore(logger)
	} else {
		stateStore, err = leveldb.NewStateStore(filepath.Join(o.DataDir, "statestore"), logger)
	}
	if err != nil {
		return nil, fmt.Errorf("state store: %w", err)
	}
	b.stateStoreCloser = stateStore

	carrier, err := websocket.New(logger, websocket.Options{
		Local:           o.DeviceID,
		Stores:          o.Stores,
		ProtocolVersion: replicad.ProtocolVersion,
		MaxUnicastSize:  o.MaxUnicastSize,
	})
	if err != nil {
		return nil, fmt.Errorf("websocket carrier: %w", err)
	}
	b.carrier = carrier
	b.carrierCloser = carrier

	reg := devices.New(logger, carrier)
	b.devices = reg
	prober := reacher.New(reg, reg, nil)
	b.reacherCloser = prober

	users, err := identity.New(stateStore, logger, identity.Options{
		CacheSize: o.IdentityCacheSize,
		LocalDID:  o.DeviceID,
		LocalUser: o.UserID,
	})
	if err != nil {
		return nil, fmt.Errorf("identity: %w", err)
	}
	b.users = users

	queue := sched.NewQueue(logger, sched.Options{Workers: o.SchedulerWorkers})
	b.queueCloser = queue
	scheduler := sched.NewScheduler(queue)
	b.schedulerCloser = scheduler

	sender := protocol.NewSender(reg, carrier)
	rpcService := rpc.New(sender, prober, logger, rpc.Options{Timeout: o.RPCTimeout})
	incoming := streams.NewIncoming(logger, streams.IncomingOptions{ChunkTimeout: o.StreamTimeout})
	outgoing := streams.NewOutgoing(logger)

	resolver := causality.New(store, logger)
	knowledge := download.NewKnowledge(store)
	factory := to.NewFactory(reg, to.Options{MaxcastEnabled: o.MaxcastEnabled})

	protocolService := protocol.New(store, resolver, knowledge, users, rpcService, sender, outgoing, tracer, logger, protocol.Options{
		Timeout:   o.RPCTimeout,
		ChunkSize: o.StreamChunkSize,
	})
	dispatcher := protocol.NewDispatcher(reg, sender, rpcService, incoming, outgoing, scheduler, tracer, logger)
	protocolService.Register(dispatcher)
	users.SetResolver(protocolService)

	tracker := dlstate.New(logger)
	b.tracker = tracker
	tokenManager := tokens.New(logger, tokens.Options{ClientLimit: o.ClientDownloads})
	downloads := download.New(protocolService, resolver, store, knowledge, factory, tokenManager, tracker, depgraph.New(), logger, tracer, download.Options{
		Category: tokens.CatClient,
	})
	b.downloads = downloads
	b.downloadsCloser = downloads

	b.trigger = &trigger{
		downloads: downloads,
		knowledge: knowledge,
		factory:   factory,
		scheduler: scheduler,
		stores:    store,
		logger:    logger,
		metrics:   b.metrics,
		retry:     defaultRetryDelay,
	}
	protocolService.SetUpdateListener(b.trigger)

	carrier.SetReceiver(dispatcher)

	if o.ListenAddr != "" {
		carrierListener, err := net.Listen("tcp", o.ListenAddr)
		if err != nil {
			return nil, fmt.Errorf("carrier listener: %w", err)
		}
		router := mux.NewRouter()
		router.Handle(CarrierPath, carrier)
		b.carrierServer = b.serve(carrierListener, router, "carrier", logger)
		b.carrierAddr = carrierListener.Addr()
	}

	interval := o.DialInterval
	if interval <= 0 {
		interval = defaultDialInterval
	}
	for _, url := range o.Peers {
		b.dialers.Add(1)
		go b.dial(ctx, url, interval, logger)
	}

	if debugAPIService != nil {
		debugAPIService.MustRegisterMetrics(logger.Metrics()...)
		debugAPIService.MustRegisterMetrics(b.Metrics()...)
		debugAPIService.MustRegisterMetrics(carrier.Metrics()...)
		debugAPIService.MustRegisterMetrics(reg.Metrics()...)
		debugAPIService.MustRegisterMetrics(users.Metrics()...)
		debugAPIService.MustRegisterMetrics(queue.Metrics()...)
		debugAPIService.MustRegisterMetrics(rpcService.Metrics()...)
		debugAPIService.MustRegisterMetrics(incoming.Metrics()...)
		debugAPIService.MustRegisterMetrics(outgoing.Metrics()...)
		debugAPIService.MustRegisterMetrics(resolver.Metrics()...)
		debugAPIService.MustRegisterMetrics(protocolService.Metrics()...)
		debugAPIService.MustRegisterMetrics(dispatcher.Metrics()...)
		debugAPIService.MustRegisterMetrics(tracker.Metrics()...)
		debugAPIService.MustRegisterMetrics(tokenManager.Metrics()...)
		debugAPIService.MustRegisterMetrics(downloads.Metrics()...)

		debugAPIService.Configure(debugapi.Options{
			Devices:   reg,
			Tracker:   tracker,
			Requester: b.trigger,
		})
	}

	b.metrics.StartDuration.Observe(time.Since(start).Seconds())
	logger.Infof("replicad %s started as device %s", replicad.Version, o.DeviceID.Short())
	return b, nil
}

func (b *Replicad) serve(l net.Listener, h http.Handler, name string, logger logging.Logger) *http.Server {
	server := &http.Server{
		IdleTimeout:       30 * time.Second,
		ReadHeaderTimeout: 3 * time.Second,
		Handler:           h,
		ErrorLog:          stdlog.New(b.errorLogWriter, "", 0),
	}
	go func() {
		logger.Infof("%s address: %s", name, l.Addr())
		if err := server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Debugf("%s server: %v", name, err)
			logger.Errorf("unable to serve %s", name)
		}
	}()
	return server
}

// dial keeps a session open with the peer at url until ctx is done.
func (b *Replicad) dial(ctx context.Context, url string, interval time.Duration, logger logging.Logger) {
	defer b.dialers.Done()

	var (
		did       ids.DID
		connected bool
	)
	for {
		if !connected || !b.online(did) {
			b.metrics.DialAttempts.Inc()
			d, err := b.carrier.Connect(ctx, url)
			switch {
			case err == nil:
				did, connected = d, true
				logger.Infof("connected to %s at %s", did.Short(), url)
			case errors.Is(err, websocket.ErrDuplicate):
				// the peer dialed first
			default:
				b.metrics.DialFailures.Inc()
				logger.Debugf("connect %s: %v", url, err)
				connected = false
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

func (b *Replicad) online(did ids.DID) bool {
	for _, p := range b.carrier.Peers() {
		if p == did {
			return true
		}
	}
	return false
}

// CarrierAddr is the address the websocket carrier listens on, if any.
func (b *Replicad) CarrierAddr() net.Addr { return b.carrierAddr }

// DebugAPIAddr is the address of the diagnostics API, if enabled.
func (b *Replicad) DebugAPIAddr() net.Addr { return b.debugAPIAddr }

func (b *Replicad) Devices() *devices.Registry { return b.devices }

func (b *Replicad) Downloads() *download.Downloads { return b.downloads }

func (b *Replicad) Tracker() *dlstate.Tracker { return b.tracker }

// Users maps the devices met so far to their owners.
func (b *Replicad) Users() *identity.Mapper { return b.users }

func (b *Replicad) Store() *leveldbstore.Store { return b.store }

// Request starts downloading socid from any member of its store.
func (b *Replicad) Request(socid ids.SOCID) error { return b.trigger.Request(socid) }

func (b *Replicad) Shutdown() error {
	var mErr error

	b.shutdownMutex.Lock()
	if b.shutdownInProgress {
		b.shutdownMutex.Unlock()
		return ErrShutdownInProgress
	}
	b.shutdownInProgress = true
	b.shutdownMutex.Unlock()

	tryClose := func(c io.Closer, errMsg string) {
		if c == nil {
			return
		}
		if err := c.Close(); err != nil {
			mErr = multierror.Append(mErr, fmt.Errorf("%s: %w", errMsg, err))
		}
	}

	if b.ctxCancel != nil {
		b.ctxCancel()
	}
	b.dialers.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var eg errgroup.Group
	if b.debugAPIServer != nil {
		eg.Go(func() error {
			if err := b.debugAPIServer.Shutdown(ctx); err != nil {
				return fmt.Errorf("debug api server: %w", err)
			}
			return nil
		})
	}
	if b.carrierServer != nil {
		eg.Go(func() error {
			if err := b.carrierServer.Shutdown(ctx); err != nil {
				return fmt.Errorf("carrier server: %w", err)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		mErr = multierror.Append(mErr, err)
	}

	tryClose(b.downloadsCloser, "downloads")
	tryClose(b.carrierCloser, "carrier")
	tryClose(b.reacherCloser, "reacher")
	tryClose(b.schedulerCloser, "scheduler")
	tryClose(b.queueCloser, "scheduler queue")
	tryClose(b.stateStoreCloser, "state store")
	tryClose(b.storeCloser, "object store")
	tryClose(b.tracerCloser, "tracer")
	tryClose(b.errorLogWriter, "error log writer")

	return mErr
}
