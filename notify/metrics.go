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

package notify

import (
	"github.com/prometheus/client_golang/prometheus"
)

type notifyMetrics struct {
	subscriptions prometheus.Gauge
	delivered     prometheus.Counter
	dropped       prometheus.Counter
}

func (n *Notifier) initMetrics(promRegistry prometheus.Registerer) {
	n.metrics = &notifyMetrics{
		subscriptions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "notify_subscriptions",
				Help: "current realtime subscription count",
			},
		),
		delivered: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "notify_notifications_delivered_total",
				Help: "notifications delivered to subscription channels",
			},
		),
		dropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "notify_notifications_dropped_total",
				Help: "notifications dropped due to full subscription channels",
			},
		),
	}
	promRegistry.MustRegister(
		n.metrics.subscriptions,
		n.metrics.delivered,
		n.metrics.dropped,
	)
}
