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

// Package systemlocal finds out who this node is, from cassandra.yaml and,
// when the daemon is up, from system.local.
package systemlocal

import (
	"sort"
	"strings"
	"sync"

	"github.com/retailnext/sstablebackup/paranoid"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigFile    = "/etc/cassandra/cassandra.yaml"
	DefaultDataDirectory = "/var/lib/cassandra/data"
	defaultNativePort    = 9042
)

var (
	cacheLock sync.Mutex
	cachedRef paranoid.File
	cachedRaw Raw
)

// LoadConfig parses a cassandra.yaml, reusing the last result while the file
// is unchanged.
func LoadConfig(name string) (Raw, error) {
	cacheLock.Lock()
	defer cacheLock.Unlock()

	if cachedRef.Name() == name && cachedRef.Verify() == nil {
		return cachedRaw, nil
	}

	var newRaw Raw
	newRef, err := paranoid.NewFile(name)
	if err != nil {
		return newRaw, err
	}
	f, err := newRef.Open()
	if err != nil {
		return newRaw, err
	}
	defer func() {
		_ = f.Close()
	}()

	if err := yaml.NewDecoder(f).Decode(&newRaw); err != nil {
		return Raw{}, err
	}
	cachedRef = newRef
	cachedRaw = newRaw
	return newRaw, nil
}

type Raw struct {
	BroadcastAddress    string   `yaml:"broadcast_address"`
	BroadcastRPCAddress string   `yaml:"broadcast_rpc_address"`
	ClusterName         string   `yaml:"cluster_name"`
	DataFileDirectories []string `yaml:"data_file_directories"`
	InitialToken        string   `yaml:"initial_token"`
	ListenAddress       string   `yaml:"listen_address"`
	NativeTransportPort int      `yaml:"native_transport_port"`
	Partitioner         string   `yaml:"partitioner"`
	RPCAddress          string   `yaml:"rpc_address"`
	RPCInterface        string   `yaml:"rpc_interface"`
}

func (r Raw) Tokens() []string {
	var result []string
	for _, token := range strings.Split(r.InitialToken, ",") {
		if s := strings.TrimSpace(token); s != "" {
			result = append(result, s)
		}
	}
	sort.Strings(result)
	return result
}

func (r Raw) DataDirectories() []string {
	if len(r.DataFileDirectories) == 0 {
		return []string{DefaultDataDirectory}
	}
	return r.DataFileDirectories
}

func (r Raw) NativePort() int {
	if r.NativeTransportPort == 0 {
		return defaultNativePort
	}
	return r.NativeTransportPort
}
