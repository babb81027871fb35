/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package sequencer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "platform_bootstrap_stage_duration_seconds",
			Help:    "Wall-clock duration of each bootstrap stage.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
		},
		[]string{"stage"},
	)

	stageOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "platform_bootstrap_stage_outcomes_total",
			Help: "Terminal stage outcomes, by stage and status.",
		},
		[]string{"stage", "status"},
	)
)

func init() {
	metrics.Registry.MustRegister(stageDuration, stageOutcomes)
}

func observeStage(stage string, status Status, duration time.Duration) {
	stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
	stageOutcomes.WithLabelValues(stage, string(status)).Inc()
}
