// Copyright 2015 The Avalon Authors
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

// Package tracing wraps an OpenTelemetry TracerProvider so the request
// pipeline (one span per state-machine run) and the ACME client (one
// span per order) can start spans without depending on exporter
// configuration details. Grounded on the teacher's go.opentelemetry.io/otel
// + .../otel/sdk dependency, mirrored by erfianugrah-gloryhole/pkg/telemetry
// for an adjacent proxy daemon. Export configuration itself stays a
// thin pass-through per spec.md §1's "out of scope" list; the
// span-producing instrumentation is ambient and always present.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Provider wraps an sdktrace.TracerProvider and exposes the two
// tracers the core actually needs: one for the request pipeline, one
// for the ACME client.
type Provider struct {
	tp *sdktrace.TracerProvider
}

// New builds a Provider named serviceName. It installs a batch span
// processor over exporter; pass nil to run with no exporter configured
// (spans are created and ended but never sent anywhere), which is the
// default when tracing is not enabled in config.
func New(serviceName string, exporter sdktrace.SpanExporter) (*Provider, error) {
	res, err := resource.Merge(resource.Default(),
		resource.NewSchemaless(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, err
	}

	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}
	tp := sdktrace.NewTracerProvider(opts...)
	return &Provider{tp: tp}, nil
}

// PipelineTracer returns the tracer C12 uses to start one span per
// request state-machine run.
func (p *Provider) PipelineTracer() trace.Tracer {
	return p.tp.Tracer("avalon/pipeline")
}

// ACMETracer returns the tracer C3 uses to start one span per ACME
// order.
func (p *Provider) ACMETracer() trace.Tracer {
	return p.tp.Tracer("avalon/acmeclient")
}

// Shutdown flushes and stops the underlying TracerProvider.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.tp.Shutdown(ctx)
}

// SetGlobal installs p's TracerProvider as the process-wide default,
// so packages that call otel.Tracer(name) directly (rather than
// threading a Provider through) still pick it up.
func SetGlobal(p *Provider) {
	otel.SetTracerProvider(p.tp)
}
