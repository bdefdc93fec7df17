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

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/tetratelabs/run"
	"github.com/tetratelabs/run/pkg/signal"

	"github.com/basvanbeek/hubstep/internal/service"
	pkghttp "github.com/basvanbeek/hubstep/pkg/http"
	pkglog "github.com/basvanbeek/hubstep/pkg/log"
	pkgobs "github.com/basvanbeek/hubstep/pkg/observability"
	pkgotel "github.com/basvanbeek/hubstep/pkg/observability/otel"
	pkgskywalking "github.com/basvanbeek/hubstep/pkg/observability/skywalking"
	pkgzipkin "github.com/basvanbeek/hubstep/pkg/observability/zipkin"
)

const (
	defaultServiceName       = "hubstep"
	defaultHTTPListenAddress = ":8000"

	defaultZipkinAddress        = "http://zipkin.istio-system.svc.cluster.local:9411/api/v2/spans"
	defaultSkywalkingOAPAddress = "oap.default.svc.cluster.local:11800"
	defaultOtelAddress          = "http://otel-collector.observability.svc.cluster.local:4318/v1/traces"
	defaultSampleRate           = 1.0
)

func main() {
	// we take the serviceName from an environment variable as we need
	// this information to be available prior to run.Group bootstrap.
	serviceName := os.Getenv("SVCNAME")
	if serviceName == "" {
		serviceName = defaultServiceName
	}
	serviceInstanceName := os.Getenv("HOSTNAME")
	if serviceInstanceName == "" {
		serviceInstanceName = serviceName
	}

	g := run.Group{
		Name:     serviceName,
		HelpText: "HTTP service tracing every inbound request in a server span",
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	svcLog := &pkglog.Service{}
	svcObs := &pkgobs.Service{
		ObservabilityInstrumenter: pkgobs.ZipkinInstrumenter,
		Instrumenters: []pkgobs.InstrumenterService{
			&pkgzipkin.Service{
				Servicename: serviceName,
				Address:     defaultZipkinAddress,
				SampleRate:  defaultSampleRate,
			},
			&pkgskywalking.Service{
				Servicename:         serviceName,
				ServiceInstanceName: serviceInstanceName,
				Address:             defaultSkywalkingOAPAddress,
				SampleRate:          defaultSampleRate,
			},
			&pkgotel.Service{
				Servicename: serviceName,
				Address:     defaultOtelAddress,
				SampleRate:  defaultSampleRate,
			},
		},
	}
	svcPolicy := service.NewPolicy(registry)
	svcEndpoints := &service.Endpoints{
		ServiceName:  serviceName,
		Instrumenter: svcObs,
		Policy:       svcPolicy,
		Gatherer:     registry,
	}
	svcHTTP := &pkghttp.Service{
		ListenAddress: defaultHTTPListenAddress,
	}

	g.Register(
		new(signal.Handler),
		svcLog,
		run.NewPreRunner("logger", func() error {
			svcEndpoints.Logger = svcLog.Logger().Named("endpoints")
			svcHTTP.Logger = svcLog.Logger().Named("http")
			return nil
		}),
		svcObs,
		svcPolicy,
		svcEndpoints,
		run.NewPreRunner("handler", func() error {
			svcHTTP.Handler = svcEndpoints.Handler()
			return nil
		}),
		svcHTTP,
	)

	err := g.Run()
	svcLog.Sync()
	if err != nil {
		fmt.Printf("%s exit: %v\n", g.Name, err)
		if !errors.Is(err, run.ErrRequestedShutdown) {
			// We had an actual fatal error.
			os.Exit(-1)
		}
	}
}
