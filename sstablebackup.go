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


package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/retailnext/sstablebackup/backup"
	"github.com/retailnext/sstablebackup/bucket"
	"github.com/retailnext/sstablebackup/bucket/keystore"
	"github.com/retailnext/sstablebackup/cache"
	"github.com/retailnext/sstablebackup/config"
	"github.com/retailnext/sstablebackup/metrics"
	"github.com/retailnext/sstablebackup/periodic"
	"github.com/retailnext/sstablebackup/restore"
	"go.uber.org/zap"
	"golang.org/x/term"
)

func setupLogger() func() {
	var logger *zap.Logger
	var err error
	if term.IsTerminal(int(os.Stdin.Fd())) {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	zap.ReplaceGlobals(logger)

	return func() {
		_ = logger.Sync()
	}
}

func setupInterruptContext() (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-c:
			zap.S().Infow("shutting_down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	onExit := func() {
		signal.Stop(c)
		cancel()
	}
	return ctx, onExit
}

func setupProfile() func() {
	if pprofFile == nil || *pprofFile == "" {
		return func() {
		}
	}
	f, err := os.Create(*pprofFile)
	if err != nil {
		panic(err)
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		panic(err)
	}
	return func() {
		pprof.StopCPUProfile()
		if err := f.Close(); err != nil {
			panic(err)
		}
	}
}

var (
	cfg = config.Register(kingpin.CommandLine)

	pprofFile = kingpin.Flag("pprof.cpu.file", "Enable cpu profiling to this file.").String()

	metricsListenAddress = kingpin.Flag("web.listen-address", "Address on which to expose metrics.").String()
	metricsPath          = kingpin.Flag("web.telemetry-path", "Path under which to expose metrics.").Default("/metrics").String()

	listCmd = kingpin.Command("list", "List what the bucket holds.")

	listManifestsCmd           = listCmd.Command("manifests", "List manifests for a node")
	listManifestsCmdCluster    = listManifestsCmd.Flag("cluster", "Cluster name").Required().String()
	listManifestsCmdDatacenter = listManifestsCmd.Flag("datacenter", "Datacenter name").Required().String()
	listManifestsCmdHostname   = listManifestsCmd.Flag("hostname", "Node name").Required().String()

	listNodesCmd           = listCmd.Command("nodes", "List nodes in a datacenter")
	listNodesCmdCluster    = listNodesCmd.Flag("cluster", "Cluster name").Required().String()
	listNodesCmdDatacenter = listNodesCmd.Flag("datacenter", "Datacenter name").Required().String()

	listDcsCmd        = listCmd.Command("dcs", "List datacenters in a cluster")
	listDcsCmdCluster = listDcsCmd.Flag("cluster", "Cluster name").Required().String()

	_ = listCmd.Command("clusters", "List clusters")

	bucketCmd = kingpin.Command("bucket", "Manage the bucket itself.")
	_         = bucketCmd.Command("exists", "Check that the bucket exists.")
	_         = bucketCmd.Command("create", "Create the bucket.")
	_         = bucketCmd.Command("delete", "Delete the bucket. It must be empty.")
)

func parseOptions() string {
	kingpin.UsageTemplate(kingpin.CompactUsageTemplate)
	cmd := kingpin.Parse()
	if err := cfg.Validate(); err != nil {
		kingpin.Fatalf("%s", err)
	}
	return cmd
}

// fatalUnlessCancelled exits on err. An interrupted command exits quietly.
func fatalUnlessCancelled(event string, err error) {
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	zap.S().Fatalw(event, "err", err)
}

func openAnonymous(ctx context.Context, node keystore.Node) bucket.Client {
	client, err := bucket.Open(ctx, cfg, node)
	if err != nil {
		zap.S().Fatalw("bucket_open_error", "err", err)
	}
	return client
}

func main() {
	cmd := parseOptions()

	sync := setupLogger()
	defer sync()
	lgr := zap.S()

	ctx, onExit := setupInterruptContext()
	defer onExit()

	stopProfile := setupProfile()
	defer stopProfile()

	metrics.Serve(*metricsListenAddress, *metricsPath)

	defer func() {
		if bucket.Shared != nil {
			if err := bucket.Shared.Close(); err != nil {
				lgr.Errorw("bucket_close_err", "err", err)
			}
		}
		if cache.Shared != nil {
			if err := cache.Shared.Close(); err != nil {
				lgr.Errorw("cache_close_err", "err", err)
			}
		}
	}()

	switch cmd {
	case "backup snapshot":
		opts, err := backup.OptionsFromFlags()
		fatalUnlessCancelled("backup_error", err)
		_, err = backup.Run(ctx, cfg, opts)
		fatalUnlessCancelled("backup_error", err)
	case "backup run":
		opts, err := backup.OptionsFromFlags()
		fatalUnlessCancelled("backup_error", err)
		fatalUnlessCancelled("backup_error", periodic.Main(ctx, cfg, opts))
	case "backup remove":
		opts, err := backup.OptionsFromFlags()
		fatalUnlessCancelled("backup_error", err)
		_, client, err := backup.Open(ctx, cfg, opts)
		fatalUnlessCancelled("backup_error", err)
		fatalUnlessCancelled("backup_error", backup.Remove(ctx, client, backup.RemoveTag()))
	case "restore node":
		opts, err := restore.OptionsFromFlags()
		fatalUnlessCancelled("restore_error", err)
		_, err = restore.Run(ctx, cfg, opts)
		fatalUnlessCancelled("restore_error", err)
	case "restore cluster":
		opts, err := restore.ClusterOptionsFromFlags()
		fatalUnlessCancelled("restore_error", err)
		_, err = restore.RunCluster(ctx, cfg, opts)
		fatalUnlessCancelled("restore_error", err)
	case "list manifests":
		node := keystore.Node{
			Cluster:    *listManifestsCmdCluster,
			Datacenter: *listManifestsCmdDatacenter,
			Name:       *listManifestsCmdHostname,
		}
		tags, err := openAnonymous(ctx, node).ListManifests(ctx, node)
		fatalUnlessCancelled("list_manifests_error", err)
		for _, tag := range tags {
			lgr.Infow("got_manifest", "node", node, "tag", tag)
		}
	case "list nodes":
		results, err := openAnonymous(ctx, keystore.Node{}).ListNodes(ctx, *listNodesCmdCluster, *listNodesCmdDatacenter)
		fatalUnlessCancelled("list_nodes_error", err)
		for _, node := range results {
			lgr.Infow("got_node", "node", node)
		}
	case "list dcs":
		results, err := openAnonymous(ctx, keystore.Node{}).ListDcs(ctx, *listDcsCmdCluster)
		fatalUnlessCancelled("list_dcs_error", err)
		for _, dc := range results {
			lgr.Infow("got_datacenter", "datacenter", dc)
		}
	case "list clusters":
		results, err := openAnonymous(ctx, keystore.Node{}).ListClusters(ctx)
		fatalUnlessCancelled("list_clusters_error", err)
		for _, cluster := range results {
			lgr.Infow("got_cluster", "cluster", cluster)
		}
	case "bucket exists":
		exists, err := openAnonymous(ctx, keystore.Node{}).Bucket().Exists(ctx)
		fatalUnlessCancelled("bucket_error", err)
		lgr.Infow("bucket_exists", "bucket", cfg.Storage.Bucket, "exists", exists)
		if !exists {
			os.Exit(1)
		}
	case "bucket create":
		fatalUnlessCancelled("bucket_error", openAnonymous(ctx, keystore.Node{}).Bucket().Create(ctx))
		lgr.Infow("bucket_created", "bucket", cfg.Storage.Bucket)
	case "bucket delete":
		fatalUnlessCancelled("bucket_error", openAnonymous(ctx, keystore.Node{}).Bucket().Delete(ctx))
		lgr.Infow("bucket_deleted", "bucket", cfg.Storage.Bucket)
	default:
		lgr.Fatalw("unhandled_command", "cmd", cmd)
	}
}
