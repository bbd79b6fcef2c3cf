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
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type periodic struct {
	LastBackupOk      prometheus.Gauge
	LastBackupAt      prometheus.Gauge
	LastBackupSeconds prometheus.Gauge
	BackupInProgress  prometheus.Gauge
	BackupErrors      prometheus.Counter
	BackupCompleted   prometheus.Counter
	registerOnce      sync.Once
}

var (
	Periodic = periodic{
		LastBackupAt: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "periodic",
			Name:      "last_at_seconds",
			Help:      "Time the last backup successfully completed.",
		}),
		LastBackupOk: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "periodic",
			Name:      "last_ok",
			Help:      "1 if the last backup completed successfully.",
		}),
		LastBackupSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "periodic",
			Name:      "last_duration_seconds",
			Help:      "How long the last backup took.",
		}),
		BackupInProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "periodic",
			Name:      "in_progress",
			Help:      "1 if a backup is in progress.",
		}),
		BackupErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "periodic",
			Name:      "errors_total",
			Help:      "Number of failed backups.",
		}),
		BackupCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "periodic",
			Name:      "completed_total",
			Help:      "Number of completed backups.",
		}),
	}
)

func (c *periodic) RegisterMetrics() {
	c.registerOnce.Do(func() {
		prometheus.MustRegister(c.BackupCompleted)
		prometheus.MustRegister(c.BackupErrors)
		prometheus.MustRegister(c.BackupInProgress)
		prometheus.MustRegister(c.LastBackupAt)
		prometheus.MustRegister(c.LastBackupOk)
		prometheus.MustRegister(c.LastBackupSeconds)
	})
}
