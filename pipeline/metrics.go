// Copyright 2025 UltraRentz Ltd
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
)

type pipelineMetrics struct {
	eventsApplied  prometheus.Counter
	eventsRejected prometheus.Counter
	eventsDeduped  prometheus.Counter
	gapsDetected   prometheus.Counter
	pausedDeposits prometheus.Gauge
}

func (p *Pipeline) initMetrics(promRegistry prometheus.Registerer) {
	p.metrics = &pipelineMetrics{
		eventsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_events_applied_total",
			Help: "ledger events applied to the projection",
		}),
		eventsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_events_rejected_total",
			Help: "ledger events rejected by the state machine",
		}),
		eventsDeduped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_events_deduped_total",
			Help: "duplicate or stale ledger events skipped",
		}),
		gapsDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_gaps_detected_total",
			Help: "per-deposit event stream gaps detected",
		}),
		pausedDeposits: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pipeline_paused_deposits",
			Help: "deposits currently paused awaiting backfill",
		}),
	}
	promRegistry.MustRegister(
		p.metrics.eventsApplied,
		p.metrics.eventsRejected,
		p.metrics.eventsDeduped,
		p.metrics.gapsDetected,
		p.metrics.pausedDeposits,
	)
}
