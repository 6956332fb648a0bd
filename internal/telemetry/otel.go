// Package telemetry wraps the OpenTelemetry instruments used by gatekeep.
//
// Instruments are created against the global meter/tracer providers; when
// no SDK is installed they are no-ops, so the hot path never pays for
// telemetry that nobody is collecting.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "gatekeep"

// Telemetry holds gatekeep's instruments. A nil *Telemetry is valid and
// records nothing.
type Telemetry struct {
	tracer trace.Tracer

	evaluations  metric.Int64Counter
	admissions   metric.Int64Counter
	mutations    metric.Int64Counter
	evalDuration metric.Float64Histogram

	flagGauge metric.Registration
}

// New creates the instruments on the global providers.
func New() (*Telemetry, error) {
	meter := otel.Meter(scopeName)

	evaluations, err := meter.Int64Counter(
		"gatekeep.evaluations",
		metric.WithDescription("Number of flag evaluations"),
		metric.WithUnit("{evaluation}"),
	)
	if err != nil {
		return nil, err
	}

	admissions, err := meter.Int64Counter(
		"gatekeep.admissions",
		metric.WithDescription("Number of evaluations that admitted the subject"),
		metric.WithUnit("{evaluation}"),
	)
	if err != nil {
		return nil, err
	}

	mutations, err := meter.Int64Counter(
		"gatekeep.mutations",
		metric.WithDescription("Number of successful control-plane mutations"),
		metric.WithUnit("{mutation}"),
	)
	if err != nil {
		return nil, err
	}

	evalDuration, err := meter.Float64Histogram(
		"gatekeep.evaluation.duration",
		metric.WithDescription("Duration of flag evaluations"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		tracer:       otel.Tracer(scopeName),
		evaluations:  evaluations,
		admissions:   admissions,
		mutations:    mutations,
		evalDuration: evalDuration,
	}, nil
}

// RegisterFlagCountGauge exposes the current number of flags as an
// observable gauge. The callback registration is held until Close so two
// clients never feed the same instrument.
func (t *Telemetry) RegisterFlagCountGauge(count func() int64) error {
	if t == nil {
		return nil
	}

	meter := otel.Meter(scopeName)
	gauge, err := meter.Int64ObservableGauge(
		"gatekeep.flags",
		metric.WithDescription("Number of registered flags"),
		metric.WithUnit("{flag}"),
	)
	if err != nil {
		return err
	}

	reg, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(gauge, count())
		return nil
	}, gauge)
	if err != nil {
		return err
	}

	t.flagGauge = reg
	return nil
}

// Close unregisters the gauge callback. Safe on a nil or never-registered
// Telemetry.
func (t *Telemetry) Close() error {
	if t == nil || t.flagGauge == nil {
		return nil
	}
	reg := t.flagGauge
	t.flagGauge = nil
	return reg.Unregister()
}

// StartSpan starts a span named after the operation.
func (t *Telemetry) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if t == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// RecordEvaluation records one evaluation outcome.
func (t *Telemetry) RecordEvaluation(ctx context.Context, flagID string, enabled bool, d time.Duration) {
	if t == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("flag.id", flagID),
		attribute.Bool("flag.enabled", enabled),
	)
	t.evaluations.Add(ctx, 1, attrs)
	if enabled {
		t.admissions.Add(ctx, 1, attrs)
	}
	t.evalDuration.Record(ctx, float64(d.Microseconds())/1000.0, attrs)
}

// RecordMutation records one successful control-plane mutation.
func (t *Telemetry) RecordMutation(ctx context.Context, op, targetID string) {
	if t == nil {
		return
	}
	t.mutations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("target.id", targetID),
	))
}
