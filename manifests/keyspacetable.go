// Copyright 2026 RetailNext, Inc.
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

package manifests

import "go.uber.org/zap/zapcore"

type Classification int

const (
	ClassificationOther Classification = iota
	ClassificationSystem
	ClassificationSystemAuth
	ClassificationSchema
)

func (c Classification) String() string {
	switch c {
	case ClassificationSystem:
		return "SYSTEM"
	case ClassificationSystemAuth:
		return "SYSTEM_AUTH"
	case ClassificationSchema:
		return "SCHEMA"
	default:
		return "OTHER"
	}
}

const (
	KeyspaceSystem            = "system"
	KeyspaceSystemAuth        = "system_auth"
	KeyspaceSystemSchema      = "system_schema"
	KeyspaceSystemDistributed = "system_distributed"
	KeyspaceSystemTraces      = "system_traces"
)

var SystemKeyspaces = []string{
	KeyspaceSystem,
	KeyspaceSystemAuth,
	KeyspaceSystemSchema,
	KeyspaceSystemDistributed,
	KeyspaceSystemTraces,
}

// BootstrapKeyspaces are the system keyspaces a node restored into a new
// cluster needs to come up with the old schema and roles.
var BootstrapKeyspaces = []string{
	KeyspaceSystemSchema,
	KeyspaceSystemAuth,
}

func ClassifyKeyspace(keyspace string) Classification {
	switch keyspace {
	case KeyspaceSystem, KeyspaceSystemDistributed, KeyspaceSystemTraces:
		return ClassificationSystem
	case KeyspaceSystemAuth:
		return ClassificationSystemAuth
	case KeyspaceSystemSchema:
		return ClassificationSchema
	default:
		return ClassificationOther
	}
}

func IsSystemKeyspace(keyspace string) bool {
	return ClassifyKeyspace(keyspace) != ClassificationOther
}

func IsBootstrapKeyspace(keyspace string) bool {
	for _, ks := range BootstrapKeyspaces {
		if ks == keyspace {
			return true
		}
	}
	return false
}

// KeyspaceTable is the identity of a table.
type KeyspaceTable struct {
	Keyspace string
	Table    string
}

func (kt KeyspaceTable) Classification() Classification {
	return ClassifyKeyspace(kt.Keyspace)
}

func (kt KeyspaceTable) String() string {
	return kt.Keyspace + "." + kt.Table
}

func (kt KeyspaceTable) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("keyspace", kt.Keyspace)
	enc.AddString("table", kt.Table)
	return nil
}
