// Copyright 2020 RetailNext, Inc.
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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type transfer struct {
	FilesVec   *prometheus.CounterVec
	BytesVec   *prometheus.CounterVec
	SecondsVec *prometheus.CounterVec
	ErrorsVec  *prometheus.CounterVec
	SkippedVec *prometheus.CounterVec
	InFlight   *prometheus.GaugeVec
	Sessions   prometheus.Gauge
	Units      prometheus.Gauge
}

var (
	Transfer = transfer{
		FilesVec: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "files_total",
			Help:      "Number of files transferred.",
		}, []string{"direction"}),
		BytesVec: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "bytes_total",
			Help:      "Number of bytes transferred.",
		}, []string{"direction"}),
		SecondsVec: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "seconds_total",
			Help:      "Time spent transferring files.",
		}, []string{"direction"}),
		ErrorsVec: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "errors_total",
			Help:      "Number of transfer units that failed.",
		}, []string{"direction"}),
		SkippedVec: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "skipped_files_total",
			Help:      "Number of units finished without moving bytes (freshened upload or verified local file).",
		}, []string{"direction"}),
		InFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "in_flight",
			Help:      "Number of units currently running.",
		}, []string{"direction"}),
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "sessions",
			Help:      "Number of sessions held by the tracker.",
		}),
		Units: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "tracked_units",
			Help:      "Number of distinct units held by the tracker.",
		}),
	}
)

func init() {
	prometheus.MustRegister(Transfer.FilesVec)
	prometheus.MustRegister(Transfer.BytesVec)
	prometheus.MustRegister(Transfer.SecondsVec)
	prometheus.MustRegister(Transfer.ErrorsVec)
	prometheus.MustRegister(Transfer.SkippedVec)
	prometheus.MustRegister(Transfer.InFlight)
	prometheus.MustRegister(Transfer.Sessions)
	prometheus.MustRegister(Transfer.Units)
}
