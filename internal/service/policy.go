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
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tetratelabs/multierror"
	"github.com/tetratelabs/run"

	"github.com/basvanbeek/hubstep/pkg"
)

const (
	flagTraceEnabled     = "trace-enabled"
	flagTraceSkipPath    = "trace-skip-path"
	flagTraceForceHeader = "trace-force-header"

	errSkipPath pkg.Error = "expected an absolute path prefix"
)

var defaultSkipPaths = []string{"/metrics", "/healthz"}

// Policy decides per request whether it is traced. Requests carrying the force
// header with a truthy value are always traced. Otherwise tracing is off when
// disabled globally or when the request path starts with one of SkipPaths.
type Policy struct {
	Enabled     bool
	SkipPaths   []string
	ForceHeader string

	// Registerer receives the decision counter. Defaults to
	// prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer

	decisions *prometheus.CounterVec
}

var (
	_ run.Config    = (*Policy)(nil)
	_ run.PreRunner = (*Policy)(nil)
)

// NewPolicy returns a Policy tracing every request except the default skip
// paths.
func NewPolicy(reg prometheus.Registerer) *Policy {
	return &Policy{
		Enabled:    true,
		SkipPaths:  append([]string(nil), defaultSkipPaths...),
		Registerer: reg,
	}
}

// Name implements run.Unit.
func (p *Policy) Name() string {
	return "trace-policy"
}

// FlagSet implements run.Config.
func (p *Policy) FlagSet() *run.FlagSet {
	flags := run.NewFlagSet("Trace policy options")

	flags.BoolVar(&p.Enabled, flagTraceEnabled, p.Enabled,
		`Trace inbound requests`)

	flags.StringSliceVar(&p.SkipPaths, flagTraceSkipPath, p.SkipPaths,
		`Path prefix of requests that are never traced (repeatable)`)

	flags.StringVar(&p.ForceHeader, flagTraceForceHeader, p.ForceHeader,
		`Request header forcing tracing when set to a true value, e.g. "X-Force-Trace"`)

	return flags
}

// Validate implements run.Config.
func (p *Policy) Validate() error {
	var mErr error

	for _, prefix := range p.SkipPaths {
		if !strings.HasPrefix(prefix, "/") {
			mErr = multierror.Append(mErr,
				fmt.Errorf(pkg.FlagErr, flagTraceSkipPath, fmt.Errorf("%q: %w", prefix, errSkipPath)))
		}
	}

	return mErr
}

// PreRun implements run.PreRunner.
func (p *Policy) PreRun() error {
	reg := p.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	p.decisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hubstep_trace_decisions_total",
		Help: "Number of inbound requests by tracing decision.",
	}, []string{"enabled"})

	return reg.Register(p.decisions)
}

// IsEnabled reports whether r is traced. It has the middleware.EnabledFunc
// signature.
func (p *Policy) IsEnabled(r *http.Request) bool {
	enabled := p.decide(r)
	if p.decisions != nil {
		p.decisions.WithLabelValues(strconv.FormatBool(enabled)).Inc()
	}
	return enabled
}

func (p *Policy) decide(r *http.Request) bool {
	if p.ForceHeader != "" {
		if force, err := strconv.ParseBool(r.Header.Get(p.ForceHeader)); err == nil && force {
			return true
		}
	}
	if !p.Enabled {
		return false
	}
	for _, prefix := range p.SkipPaths {
		if strings.HasPrefix(r.URL.Path, prefix) {
			return false
		}
	}
	return true
}
