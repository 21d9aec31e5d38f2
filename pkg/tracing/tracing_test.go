// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tracing_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/aer0ss/aerofs-sub003/pkg/logging"
	"github.com/aer0ss/aerofs-sub003/pkg/protocol/pb"
	"github.com/aer0ss/aerofs-sub003/pkg/tracing"
	"github.com/opentracing/opentracing-go"
	"github.com/uber/jaeger-client-go"
)

func TestSpanFromCore(t *testing.T) {
	tracer, closer := newTracer(t)
	defer closer.Close()

	span, _, ctx := tracer.StartSpanFromContext(context.Background(), "get-component", nil)
	defer span.Finish()

	msg := &pb.Core{Type: pb.Type_GET_COMPONENT_REQUEST}
	if err := tracer.InjectCore(ctx, msg); err != nil {
		t.Fatal(err)
	}

	got, err := tracer.FromCore(msg)
	if err != nil {
		t.Fatal(err)
	}
	if fmt.Sprint(got) != fmt.Sprint(span.Context()) {
		t.Errorf("got span context %+v, want %+v", got, span.Context())
	}

	ctx, err = tracer.WithContextFromCore(context.Background(), msg)
	if err != nil {
		t.Fatal(err)
	}
	if got := tracing.FromContext(ctx); fmt.Sprint(got) != fmt.Sprint(span.Context()) {
		t.Errorf("got span context %+v, want %+v", got, span.Context())
	}
}

func TestFromCoreWithoutTrace(t *testing.T) {
	tracer, closer := newTracer(t)
	defer closer.Close()

	if _, err := tracer.FromCore(&pb.Core{}); err != tracing.ErrContextNotFound {
		t.Fatalf("got error %v, want %v", err, tracing.ErrContextNotFound)
	}
	if err := tracer.InjectCore(context.Background(), &pb.Core{}); err != tracing.ErrContextNotFound {
		t.Fatalf("got error %v, want %v", err, tracing.ErrContextNotFound)
	}
}

func TestNilTracer(t *testing.T) {
	var tracer *tracing.Tracer

	span, _, ctx := tracer.StartSpanFromContext(context.Background(), "download", nil)
	defer span.Finish()

	if err := tracer.InjectCore(ctx, &pb.Core{}); err != nil {
		t.Fatal(err)
	}
}

func TestFromContext(t *testing.T) {
	tracer, closer := newTracer(t)
	defer closer.Close()

	span, _, ctx := tracer.StartSpanFromContext(context.Background(), "download", nil)
	defer span.Finish()

	wantSpanContext := span.Context()
	if fmt.Sprint(wantSpanContext) == "" {
		t.Fatal("got empty start span context")
	}

	gotSpanContext := tracing.FromContext(ctx)
	if fmt.Sprint(gotSpanContext) == "" {
		t.Fatal("got empty span context")
	}

	if fmt.Sprint(gotSpanContext) != fmt.Sprint(wantSpanContext) {
		t.Errorf("got span context %+v, want %+v", gotSpanContext, wantSpanContext)
	}
}

func TestWithContext(t *testing.T) {
	tracer, closer := newTracer(t)
	defer closer.Close()

	span, _, _ := tracer.StartSpanFromContext(context.Background(), "download", nil)
	defer span.Finish()

	wantSpanContext := span.Context()
	if fmt.Sprint(wantSpanContext) == "" {
		t.Fatal("got empty start span context")
	}

	ctx := tracing.WithContext(context.Background(), span.Context())

	gotSpanContext := tracing.FromContext(ctx)
	if fmt.Sprint(gotSpanContext) == "" {
		t.Fatal("got empty span context")
	}

	if fmt.Sprint(gotSpanContext) != fmt.Sprint(wantSpanContext) {
		t.Errorf("got span context %+v, want %+v", gotSpanContext, wantSpanContext)
	}
}

func TestStartSpanFromContext_logger(t *testing.T) {
	tracer, closer := newTracer(t)
	defer closer.Close()

	span, logger, _ := tracer.StartSpanFromContext(context.Background(), "download", logging.New(io.Discard, 0))
	defer span.Finish()

	wantTraceID := span.Context().(jaeger.SpanContext).TraceID()

	v, ok := logger.Data[tracing.LogField]
	if !ok {
		t.Fatalf("log field %q not found", tracing.LogField)
	}

	gotTraceID, ok := v.(string)
	if !ok {
		t.Fatalf("log field %q is not string", tracing.LogField)
	}

	if gotTraceID != wantTraceID.String() {
		t.Errorf("got trace id %q, want %q", gotTraceID, wantTraceID.String())
	}
}

func TestStartSpanFromContext_nilLogger(t *testing.T) {
	tracer, closer := newTracer(t)
	defer closer.Close()

	span, logger, _ := tracer.StartSpanFromContext(context.Background(), "download", nil)
	defer span.Finish()

	if logger != nil {
		t.Error("logger is not nil")
	}
}

func TestNewLoggerWithTraceID(t *testing.T) {
	tracer, closer := newTracer(t)
	defer closer.Close()

	span, _, ctx := tracer.StartSpanFromContext(context.Background(), "download", nil)
	defer span.Finish()

	logger := tracing.NewLoggerWithTraceID(ctx, logging.New(io.Discard, 0))

	wantTraceID := span.Context().(jaeger.SpanContext).TraceID()

	v, ok := logger.Data[tracing.LogField]
	if !ok {
		t.Fatalf("log field %q not found", tracing.LogField)
	}

	gotTraceID, ok := v.(string)
	if !ok {
		t.Fatalf("log field %q is not string", tracing.LogField)
	}

	if gotTraceID != wantTraceID.String() {
		t.Errorf("got trace id %q, want %q", gotTraceID, wantTraceID.String())
	}
}

func TestNewLoggerWithTraceID_nilLogger(t *testing.T) {
	tracer, closer := newTracer(t)
	defer closer.Close()

	span, _, ctx := tracer.StartSpanFromContext(context.Background(), "download", nil)
	defer span.Finish()

	logger := tracing.NewLoggerWithTraceID(ctx, nil)

	if logger != nil {
		t.Error("logger is not nil")
	}
}

func newTracer(t *testing.T) (*tracing.Tracer, io.Closer) {
	t.Helper()

	tracer, closer, err := tracing.NewTracer(&tracing.Options{
		Enabled:     true,
		ServiceName: "test",
	})
	if err != nil {
		t.Fatal(err)
	}

	return tracer, closer
}

func TestWithContextFromHTTPHeaders(t *testing.T) {
	tracer, closer := newTracer(t)
	defer closer.Close()

	span, _, _ := tracer.StartSpanFromContext(context.Background(), "debug-api", nil)
	defer span.Finish()

	headers := make(http.Header)
	if err := span.Tracer().Inject(span.Context(), opentracing.HTTPHeaders, opentracing.HTTPHeadersCarrier(headers)); err != nil {
		t.Fatal(err)
	}
	if headers.Get(tracing.TraceContextHeaderName) == "" {
		t.Fatalf("header %s not set", tracing.TraceContextHeaderName)
	}

	ctx, err := tracer.WithContextFromHTTPHeaders(context.Background(), headers)
	if err != nil {
		t.Fatal(err)
	}
	if got := tracing.FromContext(ctx); fmt.Sprint(got) != fmt.Sprint(span.Context()) {
		t.Errorf("got span context %+v, want %+v", got, span.Context())
	}

	if _, err := tracer.WithContextFromHTTPHeaders(context.Background(), make(http.Header)); !errors.Is(err, tracing.ErrContextNotFound) {
		t.Errorf("got error %v, want %v", err, tracing.ErrContextNotFound)
	}
}
