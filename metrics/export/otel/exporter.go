package otel

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrEthical07/opentoken"
	"github.com/MrEthical07/opentoken/metrics/export/internaldefs"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type metricsSource interface {
	MetricsSnapshot() opentoken.MetricsSnapshot
	AuditDropped() uint64
}

type observedCounter struct {
	id         opentoken.MetricID
	instrument metric.Int64ObservableCounter
}

// Histogram buckets are one cumulative gauge with an "le" attribute per bound.
type observedHistogram struct {
	id      opentoken.MetricID
	buckets metric.Int64ObservableGauge
	count   metric.Int64ObservableGauge
}

// OTelExporter observes engine counters on every collection cycle of the
// caller's MeterProvider.
type OTelExporter struct {
	source       metricsSource
	registration metric.Registration
	counters     []observedCounter
	histograms   []observedHistogram
	auditDropped metric.Int64ObservableCounter
	bucketAttrs  []metric.ObserveOption
}

func NewOTelExporter(meter metric.Meter, engine *opentoken.Engine) (*OTelExporter, error) {
	if engine == nil {
		return nil, ErrNilSource
	}
	return NewOTelExporterFromSource(meter, engine)
}

func NewOTelExporterFromSource(meter metric.Meter, source metricsSource) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	exporter := &OTelExporter{
		source:      source,
		counters:    make([]observedCounter, 0, len(internaldefs.CounterDefs)),
		histograms:  make([]observedHistogram, 0, len(internaldefs.HistogramDefs)),
		bucketAttrs: make([]metric.ObserveOption, len(internaldefs.HistogramBoundSuffix)),
	}
	for i, suffix := range internaldefs.HistogramBoundSuffix {
		exporter.bucketAttrs[i] = metric.WithAttributes(attribute.String("le", suffix))
	}

	observables := make([]metric.Observable, 0, len(internaldefs.CounterDefs)+len(internaldefs.HistogramDefs)*2+1)

	for _, def := range internaldefs.CounterDefs {
		ins, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("create observable counter %s: %w", def.Name, err)
		}
		exporter.counters = append(exporter.counters, observedCounter{id: def.ID, instrument: ins})
		observables = append(observables, ins)
	}

	for _, def := range internaldefs.HistogramDefs {
		buckets, err := meter.Int64ObservableGauge(def.Name+"_bucket", metric.WithDescription(def.Help+" Cumulative bucket counts."))
		if err != nil {
			return nil, fmt.Errorf("create histogram bucket gauge %s: %w", def.Name, err)
		}
		count, err := meter.Int64ObservableGauge(def.Name+"_count", metric.WithDescription(def.Help+" Sample count."))
		if err != nil {
			return nil, fmt.Errorf("create histogram count gauge %s: %w", def.Name, err)
		}
		exporter.histograms = append(exporter.histograms, observedHistogram{id: def.ID, buckets: buckets, count: count})
		observables = append(observables, buckets, count)
	}

	auditDropped, err := meter.Int64ObservableCounter(
		internaldefs.AuditDroppedName,
		metric.WithDescription(internaldefs.AuditDroppedHelp),
	)
	if err != nil {
		return nil, fmt.Errorf("create audit dropped counter: %w", err)
	}
	exporter.auditDropped = auditDropped
	observables = append(observables, auditDropped)

	registration, err := meter.RegisterCallback(exporter.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}

	exporter.registration = registration
	return exporter, nil
}

func (e *OTelExporter) observe(_ context.Context, observer metric.Observer) error {
	snapshot := e.source.MetricsSnapshot()
	for _, c := range e.counters {
		observer.ObserveInt64(c.instrument, int64(snapshot.Counters[c.id]))
	}
	for _, h := range e.histograms {
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snapshot.Histograms[h.id]))
		for i := range cumulative {
			observer.ObserveInt64(h.buckets, int64(cumulative[i]), e.bucketAttrs[i])
		}
		observer.ObserveInt64(h.count, int64(cumulative[len(cumulative)-1]))
	}
	observer.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))
	return nil
}

// Close unregisters the callback.
func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
