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
	"sort"
	"strconv"
	"time"

	gocql "github.com/apache/cassandra-gocql-driver/v2"
)

type NodeInfo struct {
	BootstrapState string
	ClusterName    string
	DataCenter     string
	HostID         string
	Partitioner    string
	Rack           string
	SchemaVersion  string
	Tokens         []string
}

type Credentials struct {
	Username string
	Password string
}

// GetNodeInfo reads system.local from the node at addr.
func GetNodeInfo(ctx context.Context, addr string, port int, creds Credentials) (NodeInfo, error) {
	var result NodeInfo

	cluster := gocql.NewCluster(addr + ":" + strconv.Itoa(port))
	cluster.NumConns = 1
	cluster.DisableInitialHostLookup = true
	cluster.Consistency = gocql.LocalOne
	cluster.Timeout = 10 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d > 0 && d < cluster.Timeout {
			cluster.Timeout = d
		}
	}
	if creds.Username != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: creds.Username,
			Password: creds.Password,
		}
	}

	if err := ctx.Err(); err != nil {
		return result, err
	}
	session, err := cluster.CreateSession()
	if err != nil {
		return result, err
	}
	defer session.Close()

	q := session.Query(`SELECT bootstrapped, cluster_name, data_center, host_id, partitioner, rack, schema_version, tokens FROM system.local`)
	err = q.Scan(&result.BootstrapState, &result.ClusterName, &result.DataCenter, &result.HostID, &result.Partitioner, &result.Rack, &result.SchemaVersion, &result.Tokens)
	sort.Strings(result.Tokens)

	return result, err
}
