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

package systemlocal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/retailnext/sstablebackup/bucket/keystore"
	"go.uber.org/zap"
)

type Options struct {
	ConfigFile string
	// Overrides for the identity backups are stored under.
	Cluster    string
	Datacenter string
	Hostname   string
	// Offline skips system.local, for when the daemon is not running.
	Offline     bool
	Credentials Credentials
}

type Identity struct {
	Node            keystore.Node
	Address         string
	Partitioner     string
	HostID          string
	SchemaVersion   string
	Tokens          []string
	DataDirectories []string
}

// Identify combines cassandra.yaml, the hostname, the overrides and, unless
// offline, the running daemon's view of itself.
func Identify(ctx context.Context, opts Options) (Identity, error) {
	lgr := zap.S()
	configFile := opts.ConfigFile
	if configFile == "" {
		configFile = DefaultConfigFile
	}
	cfg, err := LoadConfig(configFile)
	if err != nil {
		lgr.Errorw("load_cassandra_config_error", "path", configFile, "err", err)
		return Identity{}, err
	}

	identity := Identity{
		Node: keystore.Node{
			Cluster:    cfg.ClusterName,
			Datacenter: opts.Datacenter,
			Name:       ShortHostname(),
		},
		Address:         cfg.ClientAddress(),
		Partitioner:     cfg.Partitioner,
		Tokens:          cfg.Tokens(),
		DataDirectories: cfg.DataDirectories(),
	}
	if opts.Cluster != "" {
		if opts.Cluster != cfg.ClusterName {
			lgr.Warnw("backup_cluster_overridden", "actual", cfg.ClusterName, "override", opts.Cluster)
		}
		identity.Node.Cluster = opts.Cluster
	}
	if opts.Hostname != "" {
		if opts.Hostname != identity.Node.Name {
			lgr.Warnw("backup_hostname_overridden", "actual", identity.Node.Name, "override", opts.Hostname)
		}
		identity.Node.Name = opts.Hostname
	}

	if !opts.Offline {
		info, err := GetNodeInfo(ctx, identity.Address, cfg.NativePort(), opts.Credentials)
		if err != nil {
			lgr.Errorw("get_node_info_error", "addr", identity.Address, "err", err)
			return identity, err
		}
		if err := identity.merge(info); err != nil {
			return identity, err
		}
	}

	if identity.Node.Datacenter == "" {
		return identity, errors.New("datacenter unknown; pass it explicitly when cassandra is not running")
	}
	return identity, identity.Node.Validate()
}

func (i *Identity) merge(info NodeInfo) error {
	lgr := zap.S()
	if i.Partitioner != "" && info.Partitioner != "" && i.Partitioner != info.Partitioner {
		return fmt.Errorf("partitioner mismatch: config=%s actual=%s", i.Partitioner, info.Partitioner)
	}
	if i.Partitioner == "" {
		i.Partitioner = info.Partitioner
	}
	if len(i.Tokens) > 0 && !equalTokens(i.Tokens, info.Tokens) {
		return fmt.Errorf("tokens in cassandra.yaml do not match the running node")
	}
	i.Tokens = info.Tokens
	i.HostID = info.HostID
	i.SchemaVersion = info.SchemaVersion
	if i.Node.Datacenter == "" {
		i.Node.Datacenter = info.DataCenter
	} else if i.Node.Datacenter != info.DataCenter {
		lgr.Warnw("backup_datacenter_overridden", "actual", info.DataCenter, "override", i.Node.Datacenter)
	}
	if info.ClusterName != "" && i.Node.Cluster != info.ClusterName {
		lgr.Warnw("cluster_name_mismatch", "identity", i.Node.Cluster, "live", info.ClusterName)
	}
	return nil
}

func equalTokens(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

var osHostname = os.Hostname

// ShortHostname is the hostname up to the first dot.
func ShortHostname() string {
	name, err := osHostname()
	if err != nil {
		zap.S().Panicw("os_hostname_error", "err", err)
	}
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return name[:i]
	}
	return name
}

var numTail = regexp.MustCompile(`\d+$`)

// HostnameExpr matches the backups of the node that hostname replaces:
// same numeric suffix, with pattern standing in for the rest of the name.
func HostnameExpr(hostname, pattern string) *regexp.Regexp {
	myNumTail := numTail.FindString(hostname)
	if myNumTail == "" {
		return regexp.MustCompile("^" + regexp.QuoteMeta(hostname) + "$")
	}
	if pattern == "" {
		pattern = hostname[:len(hostname)-len(myNumTail)]
	}
	myNumTail = strings.TrimLeft(myNumTail, "0")
	if myNumTail == "" {
		myNumTail = "0"
	}
	return regexp.MustCompile("^" + regexp.QuoteMeta(pattern) + "0*" + myNumTail + "$")
}
