// Copyright 2019 RetailNext, Inc.
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


// Package periodic runs snapshot backups on a schedule in the foreground.
package periodic

import (
	"context"
	"time"

	"github.com/retailnext/sstablebackup/backup"
	"github.com/retailnext/sstablebackup/config"
	"github.com/retailnext/sstablebackup/manifests"
	"github.com/retailnext/sstablebackup/metrics"
	"go.uber.org/zap"
)

var (
	every = backup.RunCmd.Flag("every", "Time between snapshot backups.").Default("1h").Duration()

	runBackup = backup.Run
)

func Main(ctx context.Context, cfg *config.Config, opts backup.Options) error {
	return loop(ctx, cfg, opts, *every, time.Minute)
}

// loop checks every tick whether a backup is due. A failed backup is retried
// on the next tick rather than after a whole interval.
func loop(ctx context.Context, cfg *config.Config, opts backup.Options, interval, tick time.Duration) error {
	metrics.Periodic.RegisterMetrics()
	lgr := zap.S()

	var lastBackupAt time.Time
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	doneCh := ctx.Done()

	for {
		now := time.Now()
		if lastBackupAt.Before(now.Add(-interval)) {
			metrics.Periodic.BackupInProgress.Set(1)
			lgr.Infow("starting_backup", "type", "snapshot")
			manifest, err := runBackup(ctx, cfg, opts)
			metrics.Periodic.BackupInProgress.Set(0)
			finished := time.Now()
			metrics.Periodic.LastBackupSeconds.Set(finished.Sub(now).Seconds())
			if err == nil {
				lastBackupAt = finished
				metrics.Periodic.LastBackupAt.Set(float64(finished.Unix()))
				metrics.Periodic.LastBackupOk.Set(1)
				metrics.Periodic.BackupCompleted.Inc()
				lgr.Infow("backup_complete", "type", "snapshot", "tag", tagOf(manifest))
			} else {
				metrics.Periodic.LastBackupOk.Set(0)
				metrics.Periodic.BackupErrors.Inc()
				lgr.Errorw("backup_error", "type", "snapshot", "err", err)
			}
		}

		select {
		case <-doneCh:
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func tagOf(m *manifests.Manifest) string {
	if m == nil {
		return ""
	}
	return m.Tag()
}
