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


package backup

import (
	"strings"

	"github.com/alecthomas/kingpin/v2"
	"github.com/retailnext/sstablebackup/manifests"
	"github.com/retailnext/sstablebackup/systemlocal"
)

var (
	Cmd = kingpin.Command("backup", "Back up this node.")

	SnapshotCmd = Cmd.Command("snapshot", "Make a snapshot backup.")
	RunCmd      = Cmd.Command("run", "Make snapshot backups on a schedule. (Foreground Daemon)")
	RemoveCmd   = Cmd.Command("remove", "Remove a backup manifest of this node.")

	cassandraConfig    = Cmd.Flag("cassandra-config", "Path to cassandra.yaml.").Default(systemlocal.DefaultConfigFile).String()
	overrideCluster    = Cmd.Flag("cluster", "Override cluster name when storing backups.").String()
	overrideDatacenter = Cmd.Flag("datacenter", "Override datacenter when storing backups.").String()
	overrideHostname   = Cmd.Flag("hostname", "Override hostname when storing backups.").String()
	offline            = Cmd.Flag("offline", "Do not ask the running node about itself.").Bool()
	cassandraUsername  = Cmd.Flag("cassandra-username", "User for system.local queries.").Envar("CASSANDRA_USERNAME").String()
	cassandraPassword  = Cmd.Flag("cassandra-password", "Password for system.local queries.").Envar("CASSANDRA_PASSWORD").String()

	entities     = Cmd.Flag("entities", "Keyspaces and tables to back up, as ks or ks.table, comma separated. Default is everything.").String()
	keepSnapshot = Cmd.Flag("keep-snapshot", "Leave the snapshot on disk after uploading.").Bool()
	failFast     = Cmd.Flag("fail-fast", "Stop uploading after the first failed file.").Bool()

	existingTag = SnapshotCmd.Flag("tag", "Back up this existing snapshot instead of taking a new one.").String()
	removeTag   = RemoveCmd.Arg("tag", "Tag of the manifest to remove.").Required().String()
)

// OptionsFromFlags collects the parsed backup flags.
func OptionsFromFlags() (Options, error) {
	parsed, err := manifests.ParseDatabaseEntities(*entities)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Identity: systemlocal.Options{
			ConfigFile: *cassandraConfig,
			Cluster:    *overrideCluster,
			Datacenter: *overrideDatacenter,
			Hostname:   *overrideHostname,
			Offline:    *offline,
			Credentials: systemlocal.Credentials{
				Username: *cassandraUsername,
				Password: *cassandraPassword,
			},
		},
		Entities:     parsed,
		Tag:          strings.TrimSpace(*existingTag),
		KeepSnapshot: *keepSnapshot,
		FailFast:     *failFast,
	}, nil
}

// RemoveTag is the tag given to "backup remove".
func RemoveTag() string {
	return *removeTag
}
