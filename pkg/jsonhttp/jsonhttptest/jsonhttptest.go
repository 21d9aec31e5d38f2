// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package jsonhttptest issues requests against JSON handlers in tests.
package jsonhttptest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/aer0ss/aerofs-sub003/pkg/jsonhttp"
	"github.com/google/go-cmp/cmp"
)

// Request sends a request with client and checks the response against the
// expectations given as options. It returns the response headers.
func Request(t testing.TB, client *http.Client, method, url string, responseCode int, opts ...Option) http.Header {
	t.Helper()

	o := new(options)
	for _, opt := range opts {
		if err := opt(o); err != nil {
			t.Fatal(err)
		}
	}

	ctx := o.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, method, url, o.requestBody)
	if err != nil {
		t.Fatal(err)
	}
	if o.requestHeaders != nil {
		req.Header = o.requestHeaders
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != responseCode {
		t.Errorf("got response status %s, want %v %s", resp.Status, responseCode, http.StatusText(responseCode))
	}

	got, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}

	switch {
	case o.expectedJSONResponse != nil:
		if v := resp.Header.Get("Content-Type"); v != jsonhttp.DefaultContentTypeHeader {
			t.Errorf("got content type %q, want %q", v, jsonhttp.DefaultContentTypeHeader)
		}
		want, err := json.Marshal(o.expectedJSONResponse)
		if err != nil {
			t.Fatal(err)
		}
		var gotValue, wantValue interface{}
		if err := json.Unmarshal(got, &gotValue); err != nil {
			t.Fatalf("got invalid json response %q: %v", got, err)
		}
		if err := json.Unmarshal(want, &wantValue); err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(wantValue, gotValue); diff != "" {
			t.Errorf("json response mismatch (-want +got):\n%s", diff)
		}
	case o.unmarshalResponse != nil:
		if err := json.Unmarshal(got, o.unmarshalResponse); err != nil {
			t.Fatalf("unmarshal response %q: %v", got, err)
		}
	case o.noResponseBody:
		if len(got) > 0 {
			t.Errorf("got response body %s, want none", got)
		}
	}
	return resp.Header
}

type options struct {
	ctx                  context.Context
	requestBody          io.Reader
	requestHeaders       http.Header
	expectedJSONResponse interface{}
	unmarshalResponse    interface{}
	noResponseBody       bool
}

type Option func(*options) error

func WithContext(ctx context.Context) Option {
	return func(o *options) error {
		o.ctx = ctx
		return nil
	}
}

func WithJSONRequestBody(r interface{}) Option {
	return func(o *options) error {
		b, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("json encode request body: %w", err)
		}
		o.requestBody = bytes.NewReader(b)
		return WithRequestHeader("Content-Type", jsonhttp.DefaultContentTypeHeader)(o)
	}
}

func WithRequestHeader(key, value string) Option {
	return func(o *options) error {
		if o.requestHeaders == nil {
			o.requestHeaders = make(http.Header)
		}
		o.requestHeaders.Add(key, value)
		return nil
	}
}

// WithExpectedJSONResponse compares the decoded response body with
// response marshaled to JSON.
func WithExpectedJSONResponse(response interface{}) Option {
	return func(o *options) error {
		o.expectedJSONResponse = response
		return nil
	}
}

func WithUnmarshalResponse(response interface{}) Option {
	return func(o *options) error {
		o.unmarshalResponse = response
		return nil
	}
}

func WithNoResponseBody() Option {
	return func(o *options) error {
		o.noResponseBody = true
		return nil
	}
}
