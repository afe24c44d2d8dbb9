package tapez

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics publishes recorder counters to Prometheus.
// A nil *Metrics records nothing.
type Metrics struct {
	Records        prometheus.Counter
	DroppedBatches prometheus.Counter
	DroppedRecords prometheus.Counter
	Chapters       prometheus.Counter
	BytesWritten   prometheus.Counter
	SinkErrors     prometheus.Counter
	Rejected       prometheus.Counter
}

// NewMetrics creates the recorder counters and registers them on reg.
// Pass nil to create unregistered counters.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Records: f.NewCounter(prometheus.CounterOpts{
			Name: "tapez_records_total",
			Help: "Total number of records merged into chapters",
		}),
		DroppedBatches: f.NewCounter(prometheus.CounterOpts{
			Name: "tapez_dropped_batches_total",
			Help: "Total number of thread batches or chapters dropped under backpressure",
		}),
		DroppedRecords: f.NewCounter(prometheus.CounterOpts{
			Name: "tapez_dropped_records_total",
			Help: "Total number of records lost",
		}),
		Chapters: f.NewCounter(prometheus.CounterOpts{
			Name: "tapez_chapters_total",
			Help: "Total number of chapters written to the sink",
		}),
		BytesWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "tapez_bytes_written_total",
			Help: "Total number of bytes written to the sink",
		}),
		SinkErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "tapez_sink_errors_total",
			Help: "Total number of failed sink writes",
		}),
		Rejected: f.NewCounter(prometheus.CounterOpts{
			Name: "tapez_rejected_records_total",
			Help: "Total number of records too large to encode",
		}),
	}
}

func (m *Metrics) addRecords(n int) {
	if m == nil {
		return
	}
	m.Records.Add(float64(n))
}

func (m *Metrics) dropBatch(records int) {
	if m == nil {
		return
	}
	m.DroppedBatches.Inc()
	m.DroppedRecords.Add(float64(records))
}

func (m *Metrics) dropRecords(n int) {
	if m == nil {
		return
	}
	m.DroppedRecords.Add(float64(n))
}

func (m *Metrics) chapterWritten() {
	if m == nil {
		return
	}
	m.Chapters.Inc()
}

func (m *Metrics) addBytes(n int) {
	if m == nil {
		return
	}
	m.BytesWritten.Add(float64(n))
}

func (m *Metrics) rejectRecord() {
	if m == nil {
		return
	}
	m.Rejected.Inc()
}

func (m *Metrics) sinkError() {
	if m == nil {
		return
	}
	m.SinkErrors.Inc()
}
