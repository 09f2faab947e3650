// Copyright 2025 Tom Barlow
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

package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	nodeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestrator_engine_node_duration_seconds",
			Help:    "Wall-clock duration of node executions",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	cacheEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_engine_cache_events_total",
			Help: "Cache hits and misses during node scheduling",
		},
		[]string{"event"},
	)

	flowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_engine_flows_total",
			Help: "Completed flow runs by final status",
		},
		[]string{"status"},
	)
)
