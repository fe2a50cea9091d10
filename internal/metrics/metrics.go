package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oshokin/timed-devices/internal/domain/timer"
)

const metricPrefix = "timed_devices_"

// Collector counts what actors and the supervisor do.
// It implements supervisor.Metrics.
type Collector struct {
	tasksHandled    *prometheus.CounterVec
	tasksFailed     *prometheus.CounterVec
	fieldsPublished *prometheus.CounterVec
	actorsStarted   *prometheus.CounterVec
	actorsStopped   *prometheus.CounterVec
	ticksSkipped    prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		tasksHandled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "actor_tasks_total",
				Help: "Total tasks dispatched by actors, by policy and task",
			},
			[]string{"policy", "task"},
		),
		tasksFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "actor_task_failures_total",
				Help: "Total tasks that failed or panicked, by policy and task",
			},
			[]string{"policy", "task"},
		),
		fieldsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "actor_fields_published_total",
				Help: "Total record fields written to the host, by policy",
			},
			[]string{"policy"},
		),
		actorsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "actor_starts_total",
				Help: "Total actor starts, by policy",
			},
			[]string{"policy"},
		),
		actorsStopped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "actor_stops_total",
				Help: "Total actor stops, by policy",
			},
			[]string{"policy"},
		),
		ticksSkipped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "heartbeat_ticks_skipped_total",
				Help: "Total heartbeat ticks skipped because the schedule fell behind",
			},
		),
	}

	reg.MustRegister(
		c.tasksHandled,
		c.tasksFailed,
		c.fieldsPublished,
		c.actorsStarted,
		c.actorsStopped,
		c.ticksSkipped,
	)

	return c
}

// TaskHandled implements actor.Metrics.
func (c *Collector) TaskHandled(kind timer.Kind, task string) {
	c.tasksHandled.WithLabelValues(string(kind), task).Inc()
}

// TaskFailed implements actor.Metrics.
func (c *Collector) TaskFailed(kind timer.Kind, task string) {
	c.tasksFailed.WithLabelValues(string(kind), task).Inc()
}

// FieldsPublished implements actor.Metrics.
func (c *Collector) FieldsPublished(kind timer.Kind, fields int) {
	c.fieldsPublished.WithLabelValues(string(kind)).Add(float64(fields))
}

// ActorStarted implements supervisor.Metrics.
func (c *Collector) ActorStarted(kind timer.Kind) {
	c.actorsStarted.WithLabelValues(string(kind)).Inc()
}

// ActorStopped implements supervisor.Metrics.
func (c *Collector) ActorStopped(kind timer.Kind) {
	c.actorsStopped.WithLabelValues(string(kind)).Inc()
}

// TicksSkipped implements supervisor.Metrics.
func (c *Collector) TicksSkipped(n int) {
	c.ticksSkipped.Add(float64(n))
}

// Runtime is what the gauges read from the running supervisor.
type Runtime interface {
	// Len returns the number of running actors.
	Len() int
	// Backlog returns the number of queued tasks across all actors.
	Backlog() int
}

// RegisterRuntime adds gauges that sample rt on every scrape.
func RegisterRuntime(reg prometheus.Registerer, rt Runtime, build map[string]string) {
	reg.MustRegister(
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: metricPrefix + "actors_running",
				Help: "Number of running timer actors",
			},
			func() float64 { return float64(rt.Len()) },
		),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: metricPrefix + "actor_backlog_tasks",
				Help: "Number of tasks waiting in actor mailboxes",
			},
			func() float64 { return float64(rt.Backlog()) },
		),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name:        metricPrefix + "build_info",
				Help:        "Build information, always 1",
				ConstLabels: build,
			},
			func() float64 { return 1 },
		),
	)
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
