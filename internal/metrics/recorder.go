// Package metrics exposes konsole's Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ernie/konsole/internal/domain"
)

const namespace = "konsole"

// Recorder holds every konsole collector. A nil *Recorder is valid and
// records nothing.
type Recorder struct {
	reg          *prom.Registry
	emissions    *prom.CounterVec
	pollDuration prom.Histogram
	pollResults  *prom.CounterVec
	actions      *prom.CounterVec
	waitResults  *prom.CounterVec
	serverStatus *prom.GaugeVec
	maintenance  prom.Gauge
	managerReady prom.Gauge
	backups      prom.Gauge
}

// NewRecorder constructs the collectors and registers them on reg, or on a
// fresh registry when reg is nil.
func NewRecorder(reg *prom.Registry) *Recorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	r := &Recorder{
		reg: reg,
		emissions: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "tracker_emissions_total",
			Help:      "Change notifications emitted per tracker",
		}, []string{"tracker", "forced"}),
		pollDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_duration_seconds",
			Help:      "Duration of console status polls",
			Buckets:   prom.DefBuckets,
		}),
		pollResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "poll_results_total",
			Help:      "Console status polls by result",
		}, []string{"result"}),
		actions: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Console actions by name and result",
		}, []string{"action", "result"}),
		waitResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "waits_total",
			Help:      "Blocking waits on trackers by result",
		}, []string{"tracker", "result"}),
		serverStatus: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "server_status",
			Help:      "1 for the server's current status label, 0 otherwise",
		}, []string{"status"}),
		maintenance: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "maintenance_enabled",
			Help:      "1 while maintenance mode is on",
		}),
		managerReady: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "manager_ready",
			Help:      "1 while the console manager is ready",
		}),
		backups: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "backups",
			Help:      "Number of backups seen on the last listing",
		}),
	}
	reg.MustRegister(r.emissions, r.pollDuration, r.pollResults, r.actions, r.waitResults,
		r.serverStatus, r.maintenance, r.managerReady, r.backups)
	return r
}

// Handler serves the registry in the Prometheus exposition format
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (r *Recorder) IncEmission(tracker string, forced bool) {
	if r == nil {
		return
	}
	r.emissions.WithLabelValues(tracker, strconv.FormatBool(forced)).Inc()
}

func (r *Recorder) ObservePoll(d time.Duration, err error) {
	if r == nil {
		return
	}
	r.pollDuration.Observe(d.Seconds())
	r.pollResults.WithLabelValues(result(err)).Inc()
}

func (r *Recorder) IncAction(action string, err error) {
	if r == nil {
		return
	}
	r.actions.WithLabelValues(action, result(err)).Inc()
}

func (r *Recorder) IncWait(tracker string, err error) {
	if r == nil {
		return
	}
	r.waitResults.WithLabelValues(tracker, result(err)).Inc()
}

// SetServerStatus marks s as the only active status label
func (r *Recorder) SetServerStatus(s domain.ServerStatus) {
	if r == nil {
		return
	}
	for _, known := range domain.ServerStatuses {
		v := 0.0
		if known == s {
			v = 1
		}
		r.serverStatus.WithLabelValues(string(known)).Set(v)
	}
}

func (r *Recorder) SetMaintenance(on bool) {
	if r == nil {
		return
	}
	r.maintenance.Set(boolGauge(on))
}

func (r *Recorder) SetManagerStatus(s domain.ManagerStatus) {
	if r == nil {
		return
	}
	r.managerReady.Set(boolGauge(s == domain.ManagerReady))
}

func (r *Recorder) SetBackups(n int) {
	if r == nil {
		return
	}
	r.backups.Set(float64(n))
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
