package prometheus

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrEthical07/opentoken"
	"github.com/MrEthical07/opentoken/metrics/export/internaldefs"
)

type metricsSource interface {
	MetricsSnapshot() opentoken.MetricsSnapshot
	AuditDropped() uint64
}

type counterDesc struct {
	id   opentoken.MetricID
	desc *prometheus.Desc
}

// PrometheusExporter is a prometheus.Collector over the engine snapshot.
type PrometheusExporter struct {
	source       metricsSource
	counters     []counterDesc
	histograms   []counterDesc
	auditDropped *prometheus.Desc
}

var _ prometheus.Collector = (*PrometheusExporter)(nil)

// NewPrometheusExporter reads from engine.
func NewPrometheusExporter(engine *opentoken.Engine) *PrometheusExporter {
	return NewPrometheusExporterFromSource(engine)
}

// NewPrometheusExporterFromSource reads from any snapshot source.
func NewPrometheusExporterFromSource(source metricsSource) *PrometheusExporter {
	p := &PrometheusExporter{
		source:       source,
		counters:     make([]counterDesc, 0, len(internaldefs.CounterDefs)),
		histograms:   make([]counterDesc, 0, len(internaldefs.HistogramDefs)),
		auditDropped: prometheus.NewDesc(internaldefs.AuditDroppedName, internaldefs.AuditDroppedHelp, nil, nil),
	}
	for _, def := range internaldefs.CounterDefs {
		p.counters = append(p.counters, counterDesc{id: def.ID, desc: prometheus.NewDesc(def.Name, def.Help, nil, nil)})
	}
	for _, def := range internaldefs.HistogramDefs {
		p.histograms = append(p.histograms, counterDesc{id: def.ID, desc: prometheus.NewDesc(def.Name, def.Help, nil, nil)})
	}
	return p
}

// Describe implements prometheus.Collector.
func (p *PrometheusExporter) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range p.counters {
		ch <- c.desc
	}
	for _, h := range p.histograms {
		ch <- h.desc
	}
	ch <- p.auditDropped
}

// Collect implements prometheus.Collector. Nothing is emitted while engine
// metrics are disabled and no audit events were dropped.
func (p *PrometheusExporter) Collect(ch chan<- prometheus.Metric) {
	if p == nil || p.source == nil {
		return
	}

	snapshot := p.source.MetricsSnapshot()
	dropped := p.source.AuditDropped()
	if len(snapshot.Counters) == 0 && len(snapshot.Histograms) == 0 && dropped == 0 {
		return
	}

	for _, c := range p.counters {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.CounterValue, float64(snapshot.Counters[c.id]))
	}

	for _, h := range p.histograms {
		raw, ok := snapshot.Histograms[h.id]
		if !ok {
			continue
		}
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		buckets := make(map[float64]uint64, len(internaldefs.HistogramUpperBounds))
		for i, le := range internaldefs.HistogramUpperBounds {
			buckets[le] = cumulative[i]
		}
		// Engine histograms carry no sum.
		ch <- prometheus.MustNewConstHistogram(h.desc, cumulative[len(cumulative)-1], 0, buckets)
	}

	ch <- prometheus.MustNewConstMetric(p.auditDropped, prometheus.CounterValue, float64(dropped))
}

// Handler serves the exporter from a private registry.
func (p *PrometheusExporter) Handler() http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(p)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
