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

// Package middleware provides the net/http interceptor wrapping each inbound
// request in a server span.
package middleware

import (
	"net/http"
	"strconv"

	"github.com/felixge/httpsnoop"
	"go.uber.org/zap"

	"github.com/basvanbeek/hubstep/pkg"
	"github.com/basvanbeek/hubstep/pkg/observability"
)

const (
	ErrNoHandler     pkg.Error = "no next handler provided"
	ErrNoTracer      pkg.Error = "no tracer provided"
	ErrNoEnabledFunc pkg.Error = "no tracing enablement func provided"
)

// EnabledFunc decides per request whether it gets traced. It is supplied by
// the host and called exactly once per request.
type EnabledFunc func(r *http.Request) bool

// ErrorHandler is called by ServeHTTP when the span for a request could not be
// started. The next handler has not been invoked at that point.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

// Option configures an Interceptor.
type Option func(*Interceptor)

// WithLogger sets the logger used by the default ErrorHandler.
func WithLogger(logger *zap.Logger) Option {
	return func(i *Interceptor) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// WithErrorHandler replaces the default ErrorHandler.
func WithErrorHandler(h ErrorHandler) Option {
	return func(i *Interceptor) {
		if h != nil {
			i.onError = h
		}
	}
}

// Interceptor wraps each request handled by next in a server span. It holds
// no per-request state and is safe for concurrent use.
type Interceptor struct {
	next    http.Handler
	tracer  observability.Tracer
	enabled EnabledFunc
	logger  *zap.Logger
	onError ErrorHandler
}

var _ http.Handler = (*Interceptor)(nil)

// New returns an Interceptor tracing requests to next with tracer, consulting
// enabled to decide whether a request is traced.
func New(next http.Handler, tracer observability.Tracer, enabled EnabledFunc, opts ...Option) (*Interceptor, error) {
	switch {
	case next == nil:
		return nil, ErrNoHandler
	case tracer == nil:
		return nil, ErrNoTracer
	case enabled == nil:
		return nil, ErrNoEnabledFunc
	}
	i := &Interceptor{
		next:    next,
		tracer:  tracer,
		enabled: enabled,
		logger:  zap.NewNop(),
	}
	i.onError = i.internalError
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// Middleware returns New as a middleware constructor. It panics if tracer or
// enabled is nil.
func Middleware(tracer observability.Tracer, enabled EnabledFunc, opts ...Option) func(http.Handler) http.Handler {
	if tracer == nil {
		panic(ErrNoTracer)
	}
	if enabled == nil {
		panic(ErrNoEnabledFunc)
	}
	return func(next http.Handler) http.Handler {
		i, err := New(next, tracer, enabled, opts...)
		if err != nil {
			panic(err)
		}
		return i
	}
}

// ServeHTTP implements http.Handler.
func (i *Interceptor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := i.Handle(w, r); err != nil {
		i.onError(w, r, err)
	}
}

// Handle serves r through the next handler inside a server span. The only
// error returned is a failure to start the span, in which case next is not
// called. A panic raised by next is not recovered; the span is finished
// before it continues to unwind.
func (i *Interceptor) Handle(w http.ResponseWriter, r *http.Request) error {
	ctx := i.tracer.WithEnabled(r.Context(), i.enabled(r))

	span, err := i.tracer.StartSpanFromContext(ctx, SpanName(r.Method),
		observability.WithKind(observability.SpanKindServer),
		observability.WithTags(RequestTags(r)),
	)
	if err != nil {
		return err
	}
	defer span.Finish()

	m := httpsnoop.CaptureMetricsFn(w, func(w http.ResponseWriter) {
		i.next.ServeHTTP(w, r.WithContext(span.Context()))
	})

	span.Tag(TagStatusCode, strconv.Itoa(m.Code))
	return nil
}

func (i *Interceptor) internalError(w http.ResponseWriter, r *http.Request, err error) {
	i.logger.Error("unable to start request span",
		zap.String("method", r.Method),
		zap.String("url", RequestURL(r)),
		zap.Error(err))
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}
