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
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tetratelabs/multierror"
	"github.com/tetratelabs/run"
	"go.uber.org/zap"

	"github.com/basvanbeek/hubstep/pkg"
	"github.com/basvanbeek/hubstep/pkg/observability"
	"github.com/basvanbeek/hubstep/pkg/observability/middleware"
)

const (
	flagDuration        = "ep-duration"
	flagAssignRequestID = "assign-request-id"

	maxWork = 32

	errProxyService pkg.Error = "invalid or no proxy service set"
	errDuration     pkg.Error = "expected a zero or positive duration"
	errStatusCode   pkg.Error = "expected a status code between 200 and 599"
	errWork         pkg.Error = "expected a span count between 0 and 32"
	errNoTracer     pkg.Error = "missing instrumenter to attach to"
	errNoPolicy     pkg.Error = "missing trace policy"
)

// Endpoints implements a run.Config compatible group of Endpoints. PreRun
// assembles the traced handler chain that the http service serves.
type Endpoints struct {
	// dependencies
	Instrumenter observability.Instrumenter
	Policy       *Policy
	Gatherer     prometheus.Gatherer
	Logger       *zap.Logger

	ServiceName     string
	Duration        time.Duration
	AssignRequestID bool

	handler   http.Handler
	tracer    observability.Tracer
	transport http.RoundTripper
}

var (
	_ run.Config    = (*Endpoints)(nil)
	_ run.PreRunner = (*Endpoints)(nil)
)

// Name implements run.Unit.
func (ep *Endpoints) Name() string {
	return "endpoints"
}

// FlagSet implements run.Config.
func (ep *Endpoints) FlagSet() *run.FlagSet {
	flags := run.NewFlagSet("Endpoint options")

	flags.DurationVar(&ep.Duration, flagDuration, ep.Duration,
		`Duration of a request on echo handler`)

	flags.BoolVar(&ep.AssignRequestID, flagAssignRequestID, ep.AssignRequestID,
		`Assign a request id to inbound requests that lack one`)

	return flags
}

// Validate implements run.Config.
func (ep *Endpoints) Validate() error {
	var mErr error

	if ep.Duration < 0 {
		mErr = multierror.Append(mErr,
			fmt.Errorf(pkg.FlagErr, flagDuration, errDuration),
		)
	}

	return mErr
}

// PreRun implements run.PreRunner.
func (ep *Endpoints) PreRun() (err error) {
	if ep.Instrumenter == nil {
		return errNoTracer
	}
	if ep.Policy == nil {
		return errNoPolicy
	}
	if ep.Logger == nil {
		ep.Logger = zap.NewNop()
	}
	if ep.Gatherer == nil {
		ep.Gatherer = prometheus.DefaultGatherer
	}
	ep.tracer = ep.Instrumenter.Tracer()
	if ep.transport, err = ep.Instrumenter.Transport(http.DefaultTransport); err != nil {
		return err
	}

	// create our service router
	router := mux.NewRouter()
	router.Methods("GET").Path("/healthz").HandlerFunc(ep.healthz)
	router.Methods("GET").Path("/metrics").Handler(promhttp.HandlerFor(ep.Gatherer, promhttp.HandlerOpts{}))
	router.Methods("GET").Path("/status/{code}").HandlerFunc(ep.status)
	router.Methods("GET").Path("/work/{count}").HandlerFunc(ep.work)
	router.Methods("GET").Path("/panic/{message}").HandlerFunc(ep.crash)
	router.Methods("GET").PathPrefix("/proxy/{service}").HandlerFunc(ep.proxy)
	router.Methods("GET").PathPrefix("/").HandlerFunc(ep.echoHandler)

	var handler http.Handler = router
	handler = middleware.Middleware(ep.tracer, ep.Policy.IsEnabled,
		middleware.WithLogger(ep.Logger))(handler)
	handler = observability.ExtractMiddleware(ep.Instrumenter)(handler)
	if ep.AssignRequestID {
		handler = AssignRequestID(handler)
	}
	ep.handler = handler

	return nil
}

// Handler returns an HTTP handler that can be attached to an HTTP service.
// The handler holds the traced router to the endpoints.
func (ep *Endpoints) Handler() http.Handler {
	return ep.handler
}
