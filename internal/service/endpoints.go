// Copyright (c) Bas van Beek 2022.
// Copyright (c) Tetrate, Inc 2021.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package service

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/basvanbeek/hubstep/pkg"
	"github.com/basvanbeek/hubstep/pkg/observability/middleware"
)

const errUpstream pkg.Error = "upstream service unavailable"

func (ep *Endpoints) healthz(w http.ResponseWriter, r *http.Request) {
	ep.writeResponse(r.Context(), w, r, response{
		Code:    http.StatusOK,
		Message: "ok",
	})
}

// status replies with the status code found in the path, which ends up as the
// http.status_code tag of the request span.
func (ep *Endpoints) status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	code, err := strconv.Atoi(mux.Vars(r)["code"])
	if err != nil || code < 200 || code > 599 {
		ep.writeResponse(ctx, w, r, response{
			Code:  http.StatusBadRequest,
			Error: errStatusCode,
		})
		return
	}

	ep.writeResponse(ctx, w, r, response{
		Code:    code,
		Message: http.StatusText(code),
	})
}

// work runs count nested local spans, each one a child of the previous, so
// they show up below the request span in the trace graph.
func (ep *Endpoints) work(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	count, err := strconv.Atoi(mux.Vars(r)["count"])
	if err != nil || count < 0 || count > maxWork {
		ep.writeResponse(ctx, w, r, response{
			Code:  http.StatusBadRequest,
			Error: errWork,
		})
		return
	}

	for i := 0; i < count; i++ {
		span, err := ep.tracer.StartSpanFromContext(ctx, fmt.Sprintf("work-%d", i))
		if err != nil {
			ep.Logger.Error("unable to start work span", zap.Int("depth", i), zap.Error(err))
			break
		}
		defer span.Finish()

		span.Tag("depth", strconv.Itoa(i))
		ctx = span.Context()
	}

	ep.writeResponse(ctx, w, r, response{
		Code:    http.StatusOK,
		Message: fmt.Sprintf("ran %d nested local spans", count),
	})
}

// crash fails the request with a panic carrying the provided message. The
// request span is still finished and the http server recovers the panic.
func (ep *Endpoints) crash(_ http.ResponseWriter, r *http.Request) {
	panic("panic requested: " + mux.Vars(r)["message"])
}

// proxy parses and strips the first /proxy/service:port directive from the path
// and reverse proxies the remaining path request to the targeted service
// through the instrumented transport.
//
// Example path: /proxy/svcb/proxy/svcc/status/503
// This path will hop to svcb and on to svcc, where this final svcc will
// receive a /status/503 request to handle.
func (ep *Endpoints) proxy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	host := mux.Vars(r)["service"]
	if host == "" {
		ep.writeResponse(ctx, w, r, response{
			Code:  http.StatusBadRequest,
			Error: errProxyService,
		})
		return
	}

	p := httputil.NewSingleHostReverseProxy(&url.URL{Scheme: "http", Host: host})
	p.Transport = ep.transport
	p.ErrorHandler = func(w http.ResponseWriter, out *http.Request, err error) {
		ep.Logger.Warn("proxy request failed",
			zap.String("service", host), zap.Error(err))
		ep.writeResponse(ctx, w, r, response{
			Code:    http.StatusBadGateway,
			Error:   errUpstream,
			Message: err.Error(),
		})
	}

	out := r.Clone(ctx)
	out.Host = host
	out.Header.Add("Proxied-By", ep.ServiceName)
	out.URL.Path = strings.TrimPrefix(r.URL.Path, "/proxy/"+host)
	out.URL.RawPath = ""
	if out.URL.Path == "" {
		out.URL.Path = "/"
	}

	p.ServeHTTP(w, out)
}

// echoHandler returns the received request headers after the configured
// latency.
func (ep *Endpoints) echoHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if ep.Duration > 0 {
		t := time.NewTimer(ep.Duration)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}

	ep.writeResponse(ctx, w, r, response{
		Code:    http.StatusOK,
		Message: r.Method + " " + middleware.RequestURL(r),
		Headers: r.Header,
	})
}
