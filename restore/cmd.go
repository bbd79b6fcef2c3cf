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
	"github.com/alecthomas/kingpin/v2"
	"github.com/retailnext/sstablebackup/manifests"
	"github.com/retailnext/sstablebackup/systemlocal"
)

var (
	Cmd = kingpin.Command("restore", "Download backups.")

	NodeCmd    = Cmd.Command("node", "Restore this node from backup.")
	ClusterCmd = Cmd.Command("cluster", "Download from multiple nodes' backups.")

	dryRun         = Cmd.Flag("dry-run", "Don't actually download files.").Bool()
	failFast       = Cmd.Flag("fail-fast", "Stop downloading after the first failed file.").Bool()
	tag            = Cmd.Flag("tag", "Manifest tag, or a unique prefix of one. Default is the latest.").String()
	entities       = Cmd.Flag("entities", "Keyspaces and tables to restore, as ks or ks.table, comma separated. Default is everything.").String()
	restoreSystem  = Cmd.Flag("restore-system-keyspace", "Restore system keyspaces too.").Bool()
	newCluster     = Cmd.Flag("new-cluster", "Restore the system keyspaces a new node needs to bootstrap.").Bool()
	skipIndexes    = Cmd.Flag("skip-indexes", "Skip secondary index files.").Bool()
	nodeTarget     = NodeCmd.Flag("target", "Directory to restore into. Default is the first data directory.").String()
	owner          = NodeCmd.Flag("owner", "User that owns restored files.").Default("cassandra").String()
	schemaSnapshot = NodeCmd.Flag("schema-snapshot", "Local snapshot whose schemas must match the backup.").String()

	cassandraConfig    = NodeCmd.Flag("cassandra-config", "Path to cassandra.yaml.").Default(systemlocal.DefaultConfigFile).String()
	nodeCluster        = NodeCmd.Flag("cluster", "Use a different cluster name when selecting a backup to restore.").String()
	nodeDatacenter     = NodeCmd.Flag("datacenter", "Use a different datacenter when selecting a backup to restore.").String()
	nodeHostname       = NodeCmd.Flag("hostname", "Use a specific hostname when selecting a backup to restore.").String()
	nodeHostnamePrefix = NodeCmd.Flag("hostname-pattern", "Use a prefix pattern when selecting a backup to restore.").String()
	online             = NodeCmd.Flag("online", "Ask the running node about itself.").Bool()
	cassandraUsername  = NodeCmd.Flag("cassandra-username", "User for system.local queries.").Envar("CASSANDRA_USERNAME").String()
	cassandraPassword  = NodeCmd.Flag("cassandra-password", "Password for system.local queries.").Envar("CASSANDRA_PASSWORD").String()

	clusterTarget         = ClusterCmd.Flag("target", "A subdirectory will be created under this for each node.").Required().String()
	clusterName           = ClusterCmd.Flag("cluster", "Download files for nodes in this cluster.").Required().String()
	clusterDatacenter     = ClusterCmd.Flag("datacenter", "Download files for nodes in this datacenter. Default is all.").String()
	clusterHostnamePrefix = ClusterCmd.Flag("hostname-pattern", "Download for nodes matching this prefix.").String()
)

func selectionFromFlags() (Selection, error) {
	parsed, err := manifests.ParseDatabaseEntities(*entities)
	if err != nil {
		return Selection{}, err
	}
	return Selection{
		Entities:              parsed,
		RestoreSystemKeyspace: *restoreSystem,
		NewCluster:            *newCluster,
		SkipIndexes:           *skipIndexes,
	}, nil
}

// OptionsFromFlags collects the parsed "restore node" flags.
func OptionsFromFlags() (Options, error) {
	sel, err := selectionFromFlags()
	if err != nil {
		return Options{}, err
	}
	return Options{
		Identity: systemlocal.Options{
			ConfigFile: *cassandraConfig,
			Cluster:    *nodeCluster,
			Datacenter: *nodeDatacenter,
			Hostname:   *nodeHostname,
			Offline:    !*online,
			Credentials: systemlocal.Credentials{
				Username: *cassandraUsername,
				Password: *cassandraPassword,
			},
		},
		HostnamePattern: *nodeHostnamePrefix,
		Tag:             *tag,
		Selection:       sel,
		Target:          *nodeTarget,
		SchemaSnapshot:  *schemaSnapshot,
		Owner:           *owner,
		DryRun:          *dryRun,
		FailFast:        *failFast,
	}, nil
}

// ClusterOptionsFromFlags collects the parsed "restore cluster" flags.
func ClusterOptionsFromFlags() (ClusterOptions, error) {
	sel, err := selectionFromFlags()
	if err != nil {
		return ClusterOptions{}, err
	}
	return ClusterOptions{
		Cluster:        *clusterName,
		Datacenter:     *clusterDatacenter,
		HostnamePrefix: *clusterHostnamePrefix,
		Tag:            *tag,
		Selection:      sel,
		Target:         *clusterTarget,
		DryRun:         *dryRun,
		FailFast:       *failFast,
	}, nil
}
