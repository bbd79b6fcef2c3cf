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

// Package nodetool runs the snapshot commands of the local node.
package nodetool

import (
	"context"
	"os/exec"
	"strings"

	"github.com/retailnext/sstablebackup/manifests"
	"go.uber.org/zap"
)

var Tool = "/usr/bin/nodetool"

// snapshotArgs limits a snapshot to the selected keyspaces and tables. An
// empty selection snapshots everything.
func snapshotArgs(name string, entities manifests.DatabaseEntities) []string {
	args := []string{"-h", "localhost", "snapshot", "-t", name}
	if len(entities.Tables) > 0 {
		tables := make([]string, 0, len(entities.Tables))
		for _, t := range entities.Tables {
			tables = append(tables, t.String())
		}
		args = append(args, "-kt", strings.Join(tables, ","))
		// nodetool refuses keyspaces and tables together, so whole
		// keyspaces come from their own invocation.
		return args
	}
	return append(args, entities.Keyspaces...)
}

// TakeSnapshot creates snapshot name. Selections that mix whole keyspaces
// and single tables need two invocations.
func TakeSnapshot(ctx context.Context, name string, entities manifests.DatabaseEntities) error {
	if len(entities.Tables) > 0 && len(entities.Keyspaces) > 0 {
		tablesOnly := manifests.DatabaseEntities{Tables: entities.Tables}
		if err := run(ctx, "take_snapshot", snapshotArgs(name, tablesOnly)); err != nil {
			return err
		}
		keyspacesOnly := manifests.DatabaseEntities{Keyspaces: entities.Keyspaces}
		if err := run(ctx, "take_snapshot", snapshotArgs(name, keyspacesOnly)); err != nil {
			return err
		}
	} else if err := run(ctx, "take_snapshot", snapshotArgs(name, entities)); err != nil {
		return err
	}
	zap.S().Infow("created_snapshot", "name", name, "entities", entities.String())
	return nil
}

func ClearSnapshot(ctx context.Context, name string) error {
	if err := run(ctx, "clearsnapshot", []string{"-h", "localhost", "clearsnapshot", "-t", name}); err != nil {
		return err
	}
	zap.S().Infow("cleared_snapshot", "name", name)
	return nil
}

func run(ctx context.Context, what string, args []string) error {
	cmd := exec.CommandContext(ctx, Tool, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		zap.S().Errorw(what+"_fail", "err", err, "args", args, "output", string(output))
		return err
	}
	return nil
}
