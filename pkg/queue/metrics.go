package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// queuedGauge tracks items waiting for a lease, per queue.
	queuedGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bridge_queue_queued",
		Help: "Current number of queued items",
	}, []string{"queue"})

	// leasedGauge tracks items currently leased, per queue.
	leasedGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bridge_queue_leased",
		Help: "Current number of leased items",
	}, []string{"queue"})

	// enqueuedTotal counts all items ever enqueued, per queue.
	enqueuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_queue_enqueued_total",
		Help: "Total items enqueued",
	}, []string{"queue"})

	// doneTotal counts items acked done, per queue.
	doneTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_queue_done_total",
		Help: "Total items completed",
	}, []string{"queue"})

	// failedTotal counts items marked failed, per queue.
	failedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_queue_failed_total",
		Help: "Total items failed",
	}, []string{"queue"})
)

func observeEnqueue(name string) {
	enqueuedTotal.WithLabelValues(name).Inc()
}

func observeDone(name string) {
	doneTotal.WithLabelValues(name).Inc()
}

func observeFailed(name string) {
	failedTotal.WithLabelValues(name).Inc()
}

func observeDepthGauges(name string, queued, leased int) {
	queuedGauge.WithLabelValues(name).Set(float64(queued))
	leasedGauge.WithLabelValues(name).Set(float64(leased))
}
