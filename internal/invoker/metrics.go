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

package invoker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	toolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dirigent_tool_calls_total",
			Help: "Total tool calls by server, tool, and outcome.",
		},
		[]string{"server", "tool", "outcome"},
	)

	toolCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dirigent_tool_call_duration_seconds",
			Help:    "Tool call latency by server and tool.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"server", "tool"},
	)

	serverStartsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dirigent_server_starts_total",
			Help: "Tool server process starts by server and outcome.",
		},
		[]string{"server", "outcome"},
	)
)

// outcomeLabel maps an invocation error to its metric label.
func outcomeLabel(err error) string {
	if err == nil {
		return "success"
	}
	if code := CodeOf(err); code != "" {
		switch code {
		case ErrorCodeTimeout:
			return "timeout"
		case ErrorCodeProcess:
			return "process_failure"
		case ErrorCodeNormalization:
			return "bad_shape"
		case ErrorCodeConfig:
			return "config"
		}
	}
	return "error"
}

// observeCall records one tool call's outcome and latency.
func observeCall(server, tool string, start time.Time, err error) {
	toolCallsTotal.WithLabelValues(server, tool, outcomeLabel(err)).Inc()
	toolCallDuration.WithLabelValues(server, tool).Observe(time.Since(start).Seconds())
}
