// Copyright (c) 2013-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"time"

	"github.com/rcrowley/go-metrics"
)

// poolMetrics tracks admission outcomes.  Every pool registers its meters in
// its own registry so several pools (as in tests) never share counters.
type poolMetrics struct {
	registry metrics.Registry

	admitted metrics.Counter
	known    metrics.Counter
	evicted  metrics.Counter
	faults   metrics.Counter
	packages metrics.Timer

	rejected [numRejectReasons]metrics.Counter
}

// newPoolMetrics registers the pool meters in registry, creating a fresh
// registry when nil.
func newPoolMetrics(registry metrics.Registry) *poolMetrics {
	if registry == nil {
		registry = metrics.NewRegistry()
	}
	m := &poolMetrics{
		registry: registry,
		admitted: metrics.GetOrRegisterCounter("mempool/admitted", registry),
		known:    metrics.GetOrRegisterCounter("mempool/known", registry),
		evicted:  metrics.GetOrRegisterCounter("mempool/evicted", registry),
		faults:   metrics.GetOrRegisterCounter("mempool/faults", registry),
		packages: metrics.GetOrRegisterTimer("mempool/packages", registry),
	}
	for r := RejectReason(0); r < numRejectReasons; r++ {
		m.rejected[r] = metrics.GetOrRegisterCounter(
			"mempool/rejected/"+r.String(), registry,
		)
	}
	return m
}

// record updates the counters for a committed package evaluation.
func (m *poolMetrics) record(verdicts []*Verdict, start time.Time) {
	m.packages.UpdateSince(start)
	for _, v := range verdicts {
		if v.Admitted {
			m.admitted.Inc(1)
			m.evicted.Inc(int64(len(v.Replaced)))
			continue
		}
		reason, ok := v.Reason()
		if !ok || reason < 0 || reason >= numRejectReasons {
			continue
		}
		switch reason {
		case RejectAlreadyKnown:
			m.known.Inc(1)
		case RejectEvaluationFault:
			m.faults.Inc(1)
		}
		m.rejected[reason].Inc(1)
	}
}

// Snapshot returns the current counter values keyed by metric name.
func (m *poolMetrics) Snapshot() map[string]int64 {
	values := make(map[string]int64)
	m.registry.Each(func(name string, i interface{}) {
		switch metric := i.(type) {
		case metrics.Counter:
			values[name] = metric.Count()
		case metrics.Timer:
			values[name] = metric.Count()
		}
	})
	return values
}
