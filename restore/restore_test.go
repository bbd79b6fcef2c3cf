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


package restore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/go-test/deep"
	"github.com/retailnext/sstablebackup/bucket"
	"github.com/retailnext/sstablebackup/bucket/keystore"
	"github.com/retailnext/sstablebackup/bucket/local"
	"github.com/retailnext/sstablebackup/config"
	"github.com/retailnext/sstablebackup/hashing"
	"github.com/retailnext/sstablebackup/manifests"
	"github.com/retailnext/sstablebackup/snapshots"
	"github.com/retailnext/sstablebackup/systemlocal"
	"github.com/retailnext/sstablebackup/transfer"
	"github.com/retailnext/sstablebackup/unixtime"
	"github.com/shirou/gopsutil/disk"
)

var testNode = keystore.Node{Cluster: "prod", Datacenter: "dc1", Name: "cass-7"}

const testSchema = "CREATE TABLE ks1.tbl1 (k int PRIMARY KEY) WITH ID = 5a1c;"

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(content)
}

func newClient(t *testing.T) bucket.Client {
	t.Helper()
	objectStore, err := local.New(t.TempDir(), "backups")
	if err != nil {
		t.Fatal(err)
	}
	return bucket.New(bucket.Options{
		Store: objectStore,
		Keys:  keystore.NewKeyStore("backups", "", testNode),
	})
}

// publish backs up files, relative to the table snapshot directory, the
// way a backup run would.
func publish(t *testing.T, client bucket.Client, tag string, files map[string]string) *manifests.Manifest {
	t.Helper()
	ctx := context.Background()
	dataDir := t.TempDir()
	for rel, content := range files {
		writeFile(t, filepath.Join(dataDir, "ks1/tbl1-5a1c/snapshots", tag, rel), content)
	}
	parsed, err := snapshots.Parse(ctx, snapshots.Request{
		DataDirs: []string{dataDir},
		Tag:      tag,
		Hasher:   hashing.New(hashing.SHA256),
	})
	if err != nil {
		t.Fatal(err)
	}
	m := manifests.New(parsed[tag], "v1", []string{"100"}, string(hashing.SHA256), unixtime.Now())
	for _, entry := range m.Entries(true) {
		if err := client.UploadFile(ctx, entry, client.ObjectKeyToNodeAwareRemoteReference(entry.ObjectKey), nil); err != nil {
			t.Fatal(err)
		}
	}
	data, err := m.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	if err := client.UploadText(ctx, string(data), client.ObjectKeyToNodeAwareRemoteReference(m.Entry.ObjectKey)); err != nil {
		t.Fatal(err)
	}
	return m
}

func setup(t *testing.T) (*config.Config, Options, string) {
	t.Helper()
	dataDir := t.TempDir()
	yamlFile := filepath.Join(t.TempDir(), "cassandra.yaml")
	writeFile(t, yamlFile, "cluster_name: 'prod'\ndata_file_directories:\n    - "+dataDir+"\n")
	return &config.Config{Transfer: config.Transfer{Concurrency: 2}}, Options{
		Identity: systemlocal.Options{
			ConfigFile: yamlFile,
			Datacenter: testNode.Datacenter,
			Hostname:   testNode.Name,
			Offline:    true,
		},
		Client:  newClient(t),
		Tracker: transfer.NewTracker(),
	}, dataDir
}

func TestSelectTag(t *testing.T) {
	tags := []string{"sstablebackup-20260101T000000Z", "sstablebackup-20260102T000000Z", "weekly", "weekly-old"}
	cases := []struct {
		want     string
		expected string
		err      error
	}{
		{want: "", expected: "weekly-old"},
		{want: "weekly", expected: "weekly"},
		{want: "weekly-", expected: "weekly-old"},
		{want: "sstablebackup-20260102", expected: "sstablebackup-20260102T000000Z"},
		{want: "sstablebackup-", err: ErrAmbiguousManifest},
		{want: "monthly", err: manifests.ErrManifestNotFound},
	}
	for _, tc := range cases {
		got, err := SelectTag(tags, tc.want)
		if tc.err != nil {
			if !errors.Is(err, tc.err) {
				t.Errorf("want=%q: expected %v, got %v", tc.want, tc.err, err)
			}
			continue
		}
		if err != nil || got != tc.expected {
			t.Errorf("want=%q: got %q, %v expected %q", tc.want, got, err, tc.expected)
		}
	}
	if _, err := SelectTag(nil, ""); !errors.Is(err, manifests.ErrManifestNotFound) {
		t.Errorf("empty list: got %v", err)
	}
}

func TestRelativePath(t *testing.T) {
	kt := &manifests.KeyspaceTable{Keyspace: "ks1", Table: "tbl1"}
	cases := map[string]string{
		"data/ks1/tbl1/1-123/tbl1-1-big-Data.db":           "ks1/tbl1-5a1c/tbl1-1-big-Data.db",
		"data/ks1/tbl1/.tbl1_idx/1-456/tbl1-1-big-Data.db": "ks1/tbl1-5a1c/.tbl1_idx/tbl1-1-big-Data.db",
		"data/ks1/tbl1/schema-789/schema.cql":              "ks1/tbl1-5a1c/schema.cql",
	}
	for key, expected := range cases {
		got, err := relativePath(manifests.ManifestEntry{ObjectKey: key, KeyspaceTable: kt}, "5a1c")
		if err != nil {
			t.Errorf("%s: %v", key, err)
			continue
		}
		if got != filepath.FromSlash(expected) {
			t.Errorf("%s: got %q expected %q", key, got, expected)
		}
	}
	if _, err := relativePath(manifests.ManifestEntry{ObjectKey: "data/ks2/other/1-1/x", KeyspaceTable: kt}, "5a1c"); !manifests.IsIllegalManifestLayout(err) {
		t.Errorf("expected illegal layout, got %v", err)
	}
}

func TestRunRestoresLatest(t *testing.T) {
	cfg, opts, dataDir := setup(t)
	publish(t, opts.Client, "a-1", map[string]string{
		"tbl1-1-big-Data.db": "old data",
		"schema.cql":         testSchema,
	})
	publish(t, opts.Client, "a-2", map[string]string{
		"tbl1-1-big-Data.db":           "old data",
		"tbl1-2-big-Data.db":           "new data",
		".tbl1_idx/tbl1-2-big-Data.db": "new index",
		"schema.cql":                   testSchema,
	})

	plan, err := Run(context.Background(), cfg, opts)
	if err != nil {
		t.Fatal(err)
	}
	if plan.Manifest.Tag() != "a-2" {
		t.Fatalf("restored %q", plan.Manifest.Tag())
	}
	tableDir := filepath.Join(dataDir, "ks1", "tbl1-5a1c")
	expected := map[string]string{
		"tbl1-1-big-Data.db":           "old data",
		"tbl1-2-big-Data.db":           "new data",
		".tbl1_idx/tbl1-2-big-Data.db": "new index",
	}
	for rel, content := range expected {
		if got := readFile(t, filepath.Join(tableDir, rel)); got != content {
			t.Errorf("%s: got %q expected %q", rel, got, content)
		}
	}
	if _, err := os.Stat(filepath.Join(tableDir, "schema.cql")); !os.IsNotExist(err) {
		t.Errorf("schema restored into the table directory: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dataDir, lockFileName)); !os.IsNotExist(err) {
		t.Errorf("lock file left behind: %v", err)
	}

	// Everything is in place, so a second run downloads nothing.
	opts.Tag = "a-2"
	if _, err := Run(context.Background(), cfg, opts); err != nil {
		t.Fatal(err)
	}
}

func TestRunSkipIndexesAndDryRun(t *testing.T) {
	cfg, opts, dataDir := setup(t)
	publish(t, opts.Client, "a-1", map[string]string{
		"tbl1-1-big-Data.db":           "data",
		".tbl1_idx/tbl1-1-big-Data.db": "index",
	})
	opts.SkipIndexes = true
	opts.DryRun = true

	plan, err := Run(context.Background(), cfg, opts)
	if err != nil {
		t.Fatal(err)
	}
	var files []string
	for _, entry := range plan.Entries {
		rel, err := filepath.Rel(dataDir, entry.LocalFile)
		if err != nil {
			t.Fatal(err)
		}
		files = append(files, filepath.ToSlash(rel))
	}
	sort.Strings(files)
	if diff := deep.Equal(files, []string{"ks1/tbl1-5a1c/tbl1-1-big-Data.db"}); diff != nil {
		t.Fatal(diff)
	}
	if _, err := os.Stat(filepath.Join(dataDir, "ks1")); !os.IsNotExist(err) {
		t.Fatalf("dry run wrote files: %v", err)
	}
}

func TestRunFromOtherNode(t *testing.T) {
	cfg, opts, dataDir := setup(t)
	old := opts.Client.ForNode(keystore.Node{Cluster: "prod", Datacenter: "dc1", Name: "old-07"})
	publish(t, old, "a-1", map[string]string{"tbl1-1-big-Data.db": "from the old node"})
	publish(t, opts.Client.ForNode(keystore.Node{Cluster: "prod", Datacenter: "dc1", Name: "old-8"}), "a-1", map[string]string{"tbl1-1-big-Data.db": "wrong node"})

	if _, err := Run(context.Background(), cfg, opts); !errors.Is(err, manifests.ErrManifestNotFound) {
		t.Fatalf("expected no manifest for this node, got %v", err)
	}

	opts.HostnamePattern = "old-"
	if _, err := Run(context.Background(), cfg, opts); err != nil {
		t.Fatal(err)
	}
	if got := readFile(t, filepath.Join(dataDir, "ks1/tbl1-5a1c/tbl1-1-big-Data.db")); got != "from the old node" {
		t.Fatalf("restored %q", got)
	}
}

func TestRunSchemaCheck(t *testing.T) {
	cfg, opts, dataDir := setup(t)
	publish(t, opts.Client, "a-1", map[string]string{
		"tbl1-1-big-Data.db": "data",
		"schema.cql":         testSchema,
	})
	writeFile(t, filepath.Join(dataDir, "ks1/tbl1-5a1c/snapshots/fresh/schema.cql"), "CREATE TABLE ks1.tbl1 (k text PRIMARY KEY) WITH ID = 5a1c;")
	opts.SchemaSnapshot = "fresh"
	opts.DryRun = true

	_, err := Run(context.Background(), cfg, opts)
	if !manifests.IsSchemaConflict(err) {
		t.Fatalf("expected a schema conflict, got %v", err)
	}

	writeFile(t, filepath.Join(dataDir, "ks1/tbl1-5a1c/snapshots/fresh/schema.cql"), testSchema)
	if _, err := Run(context.Background(), cfg, opts); err != nil {
		t.Fatal(err)
	}
}

func TestCheckFreeSpace(t *testing.T) {
	defer func() { getUsage = disk.Usage }()
	getUsage = func(path string) (*disk.UsageStat, error) {
		return &disk.UsageStat{Path: path, Free: 100}, nil
	}
	if err := checkFreeSpace("/data", 100); err != nil {
		t.Fatal(err)
	}
	if err := checkFreeSpace("/data", 101); err == nil {
		t.Fatal("expected not enough space")
	}
}

func TestLockTarget(t *testing.T) {
	dir := t.TempDir()
	first, err := lockTarget(dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := lockTarget(dir); err == nil {
		t.Fatal("second lock succeeded")
	}
	if err := first.Release(); err != nil {
		t.Fatal(err)
	}
	again, err := lockTarget(dir)
	if err != nil {
		t.Fatal(err)
	}
	_ = again.Release()
}

func TestRunCluster(t *testing.T) {
	cfg, opts, _ := setup(t)
	for _, name := range []string{"cass-1", "cass-2", "other-1"} {
		node := keystore.Node{Cluster: "prod", Datacenter: "dc1", Name: name}
		publish(t, opts.Client.ForNode(node), "a-1", map[string]string{"tbl1-1-big-Data.db": "data of " + name})
	}
	target := t.TempDir()
	plans, err := RunCluster(context.Background(), cfg, ClusterOptions{
		Cluster:        "prod",
		HostnamePrefix: "cass-",
		Target:         target,
		Client:         opts.Client,
		Tracker:        opts.Tracker,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(plans) != 2 {
		t.Fatalf("expected 2 plans, got %d", len(plans))
	}
	for _, name := range []string{"cass-1", "cass-2"} {
		if got := readFile(t, filepath.Join(target, name, "ks1/tbl1-5a1c/tbl1-1-big-Data.db")); got != "data of "+name {
			t.Errorf("%s: restored %q", name, got)
		}
	}
	if _, err := os.Stat(filepath.Join(target, "other-1")); !os.IsNotExist(err) {
		t.Errorf("unselected node restored: %v", err)
	}
}
