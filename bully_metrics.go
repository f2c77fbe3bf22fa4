package bully

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// metricsHolder holds metrics from the node's perspective.
//
// Aim to track;
// - errors
// - utilisation
// - saturation
//
// http://www.brendangregg.com/usemethod.html
//
// Centralising the metrics: the key advantage of having the metrics for the
// package in one place is that it becomes easier to present a consistent set
// of metrics. Consistent metrics make for better operations and debugging.
//
// All the observe/count methods below tolerate a nil receiver so the engine
// does not need to care whether the application enabled metrics.
type metricsHolder struct {
	registry *prometheus.Registry
	// Are we tracking expensive metrics?
	detailed bool
	//
	// Metrics
	stateGauge     prometheus.Gauge
	masterGauge    prometheus.Gauge
	aliveGauge     prometheus.Gauge
	greenGauge     prometheus.Gauge
	electionRounds prometheus.Counter
	masterTimeouts prometheus.Counter
	colorPasses    prometheus.Counter
	colorFailures  prometheus.Counter
}

// Set up a metricsHolder to collect metrics for a given node.
func initMetrics(registry *prometheus.Registry, namespace string, detailed bool, nodeIndex int32) *metricsHolder {

	if registry == nil {
		var ok bool
		registry, ok = prometheus.DefaultRegisterer.(*prometheus.Registry)
		if !ok {
			return nil
		}
	}

	mh := &metricsHolder{
		detailed: detailed,
		registry: registry,
	}

	// We include a const label to indicate which node index in the cluster is
	// originating the metric. In production environments the node could
	// typically be inferred from labels added externally as part of the
	// deployment (e.g. kubernetes prometheus operator jobLabel).
	// Incorporating a label tied to the config provides an unambiguous,
	// possibly redundant target label in the metrics.
	constLabels := map[string]string{"nodeIndex": fmt.Sprint(nodeIndex)}

	mh.stateGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   "bully",
		Name:        "role",
		Help:        "role indicates which state node is in at sampling time: init, electing, master or slave (0,1,2,3 respectively).",
		ConstLabels: constLabels,
	})

	mh.masterGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   "bully",
		Name:        "master_id",
		Help:        "master_id is the ordinal ID of the node currently believed to be master, -1 while electing.",
		ConstLabels: constLabels,
	})

	mh.aliveGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   "bully",
		Name:        "alive_nodes",
		Help:        "alive_nodes is the cluster size as seen by the last color pass (master only).",
		ConstLabels: constLabels,
	})

	mh.greenGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   "bully",
		Name:        "green_nodes",
		Help:        "green_nodes is the green quota applied by the last color pass (master only).",
		ConstLabels: constLabels,
	})

	mh.electionRounds = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   "bully",
		Name:        "election_rounds_total",
		Help:        "election_rounds_total counts election rounds started by this node.",
		ConstLabels: constLabels,
	})

	mh.masterTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   "bully",
		Name:        "master_timeouts_total",
		Help:        "master_timeouts_total counts liveness deadlines blown by a silent master.",
		ConstLabels: constLabels,
	})

	mh.colorPasses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   "bully",
		Name:        "color_passes_total",
		Help:        "color_passes_total counts color coordination passes started while master.",
		ConstLabels: constLabels,
	})

	mh.colorFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   "bully",
		Name:        "color_send_failures_total",
		Help:        "color_send_failures_total counts color assignments which could not be delivered.",
		ConstLabels: constLabels,
	})

	registry.MustRegister(
		mh.stateGauge, mh.masterGauge, mh.aliveGauge, mh.greenGauge,
		mh.electionRounds, mh.masterTimeouts, mh.colorPasses, mh.colorFailures)

	return mh
}

func (mh *metricsHolder) observeState(s NodeState) {
	if mh == nil {
		return
	}
	var v float64
	switch s {
	case StateInit:
		v = 0
	case StateElecting:
		v = 1
	case StateMaster:
		v = 2
	case StateSlave:
		v = 3
	}
	mh.stateGauge.Set(v)
}

func (mh *metricsHolder) observeMaster(master int32) {
	if mh == nil {
		return
	}
	mh.masterGauge.Set(float64(master))
}

func (mh *metricsHolder) electionRound() {
	if mh == nil {
		return
	}
	mh.electionRounds.Inc()
}

func (mh *metricsHolder) masterTimeout() {
	if mh == nil {
		return
	}
	mh.masterTimeouts.Inc()
}

func (mh *metricsHolder) colorPass(alive, green int) {
	if mh == nil {
		return
	}
	mh.colorPasses.Inc()
	mh.aliveGauge.Set(float64(alive))
	mh.greenGauge.Set(float64(green))
}

func (mh *metricsHolder) colorFailure() {
	if mh == nil {
		return
	}
	mh.colorFailures.Inc()
}
