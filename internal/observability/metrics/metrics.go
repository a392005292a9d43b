package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EgressMetrics exposes counters/histograms for the WhatsApp egress worker.
type EgressMetrics struct {
	enqueuedTotal   *prometheus.CounterVec
	deliveredTotal  *prometheus.CounterVec
	dlqTotal        *prometheus.CounterVec
	sendLatency     *prometheus.HistogramVec
	queueDepth      *prometheus.GaugeVec
	bucketWaitTotal *prometheus.CounterVec
}

func NewEgressMetrics(reg prometheus.Registerer) *EgressMetrics {
	m := &EgressMetrics{
		enqueuedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "concierge",
			Subsystem: "whatsapp",
			Name:      "enqueued_total",
			Help:      "Outbound messages accepted into the stream",
		}, []string{"instance", "result"}),
		deliveredTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "concierge",
			Subsystem: "whatsapp",
			Name:      "delivered_total",
			Help:      "Send attempts by terminal result",
		}, []string{"instance", "result"}),
		dlqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "concierge",
			Subsystem: "whatsapp",
			Name:      "dlq_total",
			Help:      "Messages routed to the dead-letter stream",
		}, []string{"instance", "reason"}),
		sendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "concierge",
			Subsystem: "whatsapp",
			Name:      "send_latency_seconds",
			Help:      "Latency of provider sendText calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"instance"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "concierge",
			Subsystem: "whatsapp",
			Name:      "queue_depth",
			Help:      "Last observed stream length per instance",
		}, []string{"instance"}),
		bucketWaitTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "concierge",
			Subsystem: "whatsapp",
			Name:      "bucket_wait_total",
			Help:      "Token bucket waits before a send slot opened",
		}, []string{"instance"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.enqueuedTotal, m.deliveredTotal, m.dlqTotal, m.sendLatency, m.queueDepth, m.bucketWaitTotal)
	return m
}

func (m *EgressMetrics) ObserveEnqueue(instance, result string) {
	if m == nil {
		return
	}
	m.enqueuedTotal.WithLabelValues(instance, result).Inc()
}

func (m *EgressMetrics) ObserveDelivery(instance, result string, seconds float64) {
	if m == nil {
		return
	}
	m.deliveredTotal.WithLabelValues(instance, result).Inc()
	m.sendLatency.WithLabelValues(instance).Observe(seconds)
}

func (m *EgressMetrics) ObserveDLQ(instance, reason string) {
	if m == nil {
		return
	}
	m.dlqTotal.WithLabelValues(instance, reason).Inc()
}

func (m *EgressMetrics) SetQueueDepth(instance string, depth int64) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(instance).Set(float64(depth))
}

func (m *EgressMetrics) ObserveBucketWait(instance string) {
	if m == nil {
		return
	}
	m.bucketWaitTotal.WithLabelValues(instance).Inc()
}

// PipelineMetrics tracks pipeline step execution.
type PipelineMetrics struct {
	stepLatency *prometheus.HistogramVec
	stopsTotal  *prometheus.CounterVec
	errorsTotal *prometheus.CounterVec
}

func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	m := &PipelineMetrics{
		stepLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "concierge",
			Subsystem: "pipeline",
			Name:      "step_latency_seconds",
			Help:      "Per-step execution time",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 20},
		}, []string{"step"}),
		stopsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "concierge",
			Subsystem: "pipeline",
			Name:      "early_stop_total",
			Help:      "Turns resolved before the full chain ran",
		}, []string{"step"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "concierge",
			Subsystem: "pipeline",
			Name:      "step_errors_total",
			Help:      "Step failures by step name",
		}, []string{"step"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.stepLatency, m.stopsTotal, m.errorsTotal)
	return m
}

func (m *PipelineMetrics) ObserveStep(step string, d time.Duration) {
	if m == nil {
		return
	}
	m.stepLatency.WithLabelValues(step).Observe(d.Seconds())
}

func (m *PipelineMetrics) ObserveEarlyStop(step string) {
	if m == nil {
		return
	}
	m.stopsTotal.WithLabelValues(step).Inc()
}

func (m *PipelineMetrics) ObserveStepError(step string) {
	if m == nil {
		return
	}
	m.errorsTotal.WithLabelValues(step).Inc()
}

// LLMMetrics tracks model calls made by the generation step.
type LLMMetrics struct {
	latency       *prometheus.HistogramVec
	tokensTotal   *prometheus.CounterVec
	timeoutsTotal *prometheus.CounterVec
}

func NewLLMMetrics(reg prometheus.Registerer) *LLMMetrics {
	m := &LLMMetrics{
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "concierge",
			Subsystem: "llm",
			Name:      "latency_seconds",
			Help:      "LLM round-trip latency",
			Buckets:   []float64{.25, .5, 1, 2, 4, 8, 12, 16, 20},
		}, []string{"provider", "model"}),
		tokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "concierge",
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Token usage by direction",
		}, []string{"provider", "direction"}),
		timeoutsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "concierge",
			Subsystem: "llm",
			Name:      "timeouts_total",
			Help:      "Generation attempts that hit the hard timeout",
		}, []string{"provider"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.latency, m.tokensTotal, m.timeoutsTotal)
	return m
}

func (m *LLMMetrics) ObserveCall(provider, model string, seconds float64, inputTokens, outputTokens int) {
	if m == nil {
		return
	}
	m.latency.WithLabelValues(provider, model).Observe(seconds)
	m.tokensTotal.WithLabelValues(provider, "input").Add(float64(inputTokens))
	m.tokensTotal.WithLabelValues(provider, "output").Add(float64(outputTokens))
}

func (m *LLMMetrics) ObserveTimeout(provider string) {
	if m == nil {
		return
	}
	m.timeoutsTotal.WithLabelValues(provider).Inc()
}

// MemoryMetrics tracks the background memory writer.
type MemoryMetrics struct {
	queueSize      prometheus.Gauge
	processedTotal *prometheus.CounterVec
	droppedTotal   *prometheus.CounterVec
	jobLatency     prometheus.Histogram
	breachesTotal  prometheus.Counter
}

func NewMemoryMetrics(reg prometheus.Registerer) *MemoryMetrics {
	m := &MemoryMetrics{
		queueSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "concierge",
			Subsystem: "memory",
			Name:      "queue_size",
			Help:      "Jobs waiting in the memory writer queue",
		}),
		processedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "concierge",
			Subsystem: "memory",
			Name:      "processed_total",
			Help:      "Writer jobs processed by kind and result",
		}, []string{"kind", "result"}),
		droppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "concierge",
			Subsystem: "memory",
			Name:      "dropped_total",
			Help:      "Jobs rejected because the writer queue was full",
		}, []string{"kind"}),
		jobLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "concierge",
			Subsystem: "memory",
			Name:      "job_latency_seconds",
			Help:      "Memory writer job latency",
			Buckets:   prometheus.DefBuckets,
		}),
		breachesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "concierge",
			Subsystem: "memory",
			Name:      "latency_breaches_total",
			Help:      "Jobs that exceeded the warning threshold",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.queueSize, m.processedTotal, m.droppedTotal, m.jobLatency, m.breachesTotal)
	return m
}

func (m *MemoryMetrics) SetQueueSize(n int) {
	if m == nil {
		return
	}
	m.queueSize.Set(float64(n))
}

func (m *MemoryMetrics) ObserveJob(kind, result string, d time.Duration, breached bool) {
	if m == nil {
		return
	}
	m.processedTotal.WithLabelValues(kind, result).Inc()
	m.jobLatency.Observe(d.Seconds())
	if breached {
		m.breachesTotal.Inc()
	}
}

func (m *MemoryMetrics) ObserveDrop(kind string) {
	if m == nil {
		return
	}
	m.droppedTotal.WithLabelValues(kind).Inc()
}

// SweepMetrics tracks the background sweepers (session archiver, followup
// scheduler).
type SweepMetrics struct {
	sweepsTotal    *prometheus.CounterVec
	processedTotal *prometheus.CounterVec
	sweepDuration  *prometheus.HistogramVec
}

func NewSweepMetrics(reg prometheus.Registerer) *SweepMetrics {
	m := &SweepMetrics{
		sweepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "concierge",
			Subsystem: "sweep",
			Name:      "runs_total",
			Help:      "Sweep passes by sweeper name",
		}, []string{"sweeper"}),
		processedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "concierge",
			Subsystem: "sweep",
			Name:      "sessions_total",
			Help:      "Sessions handled per sweep by result",
		}, []string{"sweeper", "result"}),
		sweepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "concierge",
			Subsystem: "sweep",
			Name:      "duration_seconds",
			Help:      "Wall time of one sweep pass",
			Buckets:   prometheus.DefBuckets,
		}, []string{"sweeper"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.sweepsTotal, m.processedTotal, m.sweepDuration)
	return m
}

func (m *SweepMetrics) ObserveSweep(sweeper string, d time.Duration) {
	if m == nil {
		return
	}
	m.sweepsTotal.WithLabelValues(sweeper).Inc()
	m.sweepDuration.WithLabelValues(sweeper).Observe(d.Seconds())
}

func (m *SweepMetrics) ObserveSession(sweeper, result string) {
	if m == nil {
		return
	}
	m.processedTotal.WithLabelValues(sweeper, result).Inc()
}
