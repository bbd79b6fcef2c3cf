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


package restore

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/retailnext/sstablebackup/bucket"
	"github.com/retailnext/sstablebackup/bucket/keystore"
	"github.com/retailnext/sstablebackup/config"
	"github.com/retailnext/sstablebackup/manifests"
	"github.com/retailnext/sstablebackup/transfer"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ClusterOptions select the nodes whose backups are downloaded side by side,
// each under <Target>/<node name>.
type ClusterOptions struct {
	Cluster string
	// Datacenter limits the nodes to one datacenter. Empty means all.
	Datacenter     string
	HostnamePrefix string
	Tag            string
	Selection
	Target   string
	DryRun   bool
	FailFast bool

	Client  bucket.Client
	Tracker *transfer.Tracker
}

type nodePlan struct {
	client bucket.Client
	plan   Plan
}

func RunCluster(ctx context.Context, cfg *config.Config, opts ClusterOptions) ([]Plan, error) {
	lgr := zap.S()
	client := opts.Client
	if client == nil {
		var err error
		if client, err = bucket.OpenShared(ctx, cfg, keystore.Node{Cluster: opts.Cluster}); err != nil {
			return nil, err
		}
	}

	datacenters := []string{opts.Datacenter}
	if opts.Datacenter == "" {
		var err error
		if datacenters, err = client.ListDcs(ctx, opts.Cluster); err != nil {
			return nil, err
		}
	}
	var selected []nodePlan
	for _, dc := range datacenters {
		nodes, err := NodesMatching(ctx, client, opts.Cluster, dc, opts.HostnamePrefix)
		if err != nil {
			return nil, err
		}
		for _, node := range nodes {
			nodeClient := client.ForNode(node)
			manifest, err := GetManifest(ctx, nodeClient, opts.Tag)
			if errors.Is(err, manifests.ErrManifestNotFound) {
				lgr.Warnw("no_backups_found", "node", node)
				continue
			}
			if err != nil {
				return nil, err
			}
			plan, err := NewPlan(manifest, filepath.Join(opts.Target, node.Name), opts.Selection)
			if err != nil {
				return nil, err
			}
			selected = append(selected, nodePlan{client: nodeClient, plan: plan})
		}
	}
	lgr.Infow("selected_nodes", "cluster", opts.Cluster, "nodes", len(selected))

	plans := make([]Plan, 0, len(selected))
	for _, np := range selected {
		plans = append(plans, np.plan)
	}
	if opts.DryRun {
		for _, plan := range plans {
			plan.LogWouldDownload()
		}
		return plans, nil
	}

	var result error
	for _, np := range selected {
		target, err := targetConfig(filepath.Join(opts.Target, np.client.Node().Name), "")
		if err != nil {
			return plans, err
		}
		err = download(ctx, cfg, np.client, np.plan, target, Options{
			FailFast: opts.FailFast,
			Tracker:  opts.Tracker,
		})
		if err != nil {
			lgr.Errorw("node_restore_error", "node", np.client.Node(), "err", err)
			result = multierr.Append(result, err)
			if ctx.Err() != nil {
				break
			}
		}
	}
	return plans, result
}
