// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package observability

import (
	"context"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MeterConfig selects where OpenTelemetry instruments are exported.
type MeterConfig struct {
	// Registerer receives the instruments as Prometheus collectors, so they
	// appear on the same /metrics page as the native collectors.
	Registerer prometheus.Registerer

	// StdoutWriter, when set, also receives periodic pretty-printed dumps.
	StdoutWriter io.Writer
}

// InitMeter builds a meter provider for the service's OpenTelemetry
// instruments. The provider is not installed globally; callers pass
// Meter() to the components they instrument.
//
// # Outputs
//
//   - metric.MeterProvider: Provider to obtain meters from.
//   - func(context.Context): Flushes and stops every reader.
//   - error: Non-nil if an exporter could not be created.
func InitMeter(cfg MeterConfig) (metric.MeterProvider, func(context.Context), error) {
	var opts []sdkmetric.Option

	if cfg.Registerer != nil {
		exporter, err := promexporter.New(promexporter.WithRegisterer(cfg.Registerer))
		if err != nil {
			return nil, nil, fmt.Errorf("create prometheus exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(exporter))
	}

	if cfg.StdoutWriter != nil {
		exporter, err := stdoutmetric.New(stdoutmetric.WithWriter(cfg.StdoutWriter), stdoutmetric.WithPrettyPrint())
		if err != nil {
			return nil, nil, fmt.Errorf("create stdout metric exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)))
	}

	mp := sdkmetric.NewMeterProvider(opts...)
	shutdown := func(ctx context.Context) {
		_ = mp.Shutdown(ctx)
	}
	return mp, shutdown, nil
}
