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

// Package config holds the settings shared by every command. Flags are bound
// onto a Config by Register and checked once with Validate; nothing here is
// global.
package config

import (
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/retailnext/sstablebackup/hashing"
	"github.com/retailnext/sstablebackup/retrier"
)

const (
	ProviderAWS    = "aws"
	ProviderGoogle = "google"
	ProviderMinio  = "minio"
	ProviderLocal  = "local"
)

var Providers = []string{ProviderAWS, ProviderGoogle, ProviderMinio, ProviderLocal}

type Storage struct {
	Provider        string
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	Insecure        bool
	AccessKeyID     string
	SecretAccessKey string
	StorageClass    string
	// EncryptionKeyID names the server side key new objects are written
	// with: an SSE-KMS key id or ARN for S3 and minio, a Cloud KMS key name
	// for GCS. Empty means the provider default.
	EncryptionKeyID string
	// Project owns buckets created on GCS.
	Project string
	// LocalRoot is the directory buckets live in for the local provider.
	LocalRoot string
}

type Transfer struct {
	Concurrency int
	// Bandwidth caps the aggregate rate in bytes per second. Zero is
	// unlimited unless Duration is set.
	Bandwidth int64
	// Duration is the time a transfer should take; it lowers the rate so
	// large transfers spread out.
	Duration time.Duration
}

type Config struct {
	Storage  Storage
	Transfer Transfer
	Retry    retrier.Spec
	Hash     hashing.Algorithm

	CacheFile string
	// ExistsTTL is how long a freshen is trusted before the object is
	// checked again.
	ExistsTTL time.Duration
	// MetadataRate paces freshen metadata calls, per second.
	MetadataRate float64

	hash          string
	retryStrategy string
	retrySeconds  int
}

// Register binds the shared flags onto app and returns the Config they fill
// in when app parses.
func Register(app *kingpin.Application) *Config {
	c := &Config{}
	app.Flag("cloud-provider", "Object storage provider.").Default(ProviderAWS).EnumVar(&c.Storage.Provider, Providers...)
	app.Flag("bucket", "Bucket name.").Envar("BACKUP_BUCKET").StringVar(&c.Storage.Bucket)
	app.Flag("key-prefix", "Prefix for every object in the bucket.").Default("/").StringVar(&c.Storage.Prefix)
	app.Flag("region", "Bucket region.").Envar("AWS_REGION").StringVar(&c.Storage.Region)
	app.Flag("endpoint", "Endpoint for S3 compatible storage (minio).").StringVar(&c.Storage.Endpoint)
	app.Flag("insecure", "Use plain HTTP for the minio endpoint.").BoolVar(&c.Storage.Insecure)
	app.Flag("access-key-id", "Access key for minio.").Envar("MINIO_ACCESS_KEY").StringVar(&c.Storage.AccessKeyID)
	app.Flag("secret-access-key", "Secret key for minio.").Envar("MINIO_SECRET_KEY").StringVar(&c.Storage.SecretAccessKey)
	app.Flag("s3-storage-class", "Storage class for uploaded files in S3.").Default("STANDARD_IA").StringVar(&c.Storage.StorageClass)
	app.Flag("encryption-key-id", "Server side encryption key for uploaded files.").Envar("BACKUP_ENCRYPTION_KEY_ID").StringVar(&c.Storage.EncryptionKeyID)
	app.Flag("gcs-project", "Project new GCS buckets are created in.").Envar("GOOGLE_CLOUD_PROJECT").StringVar(&c.Storage.Project)
	app.Flag("local-root", "Directory holding buckets for the local provider.").StringVar(&c.Storage.LocalRoot)

	app.Flag("concurrency", "Concurrent transfers. Defaults to half the CPUs.").IntVar(&c.Transfer.Concurrency)
	app.Flag("bandwidth", "Transfer bandwidth limit in bytes per second.").Int64Var(&c.Transfer.Bandwidth)
	app.Flag("duration", "Spread transfers so they take about this long.").DurationVar(&c.Transfer.Duration)
	app.Flag("hash", "Content hash recorded for uploaded files.").Default(string(hashing.SHA256)).StringVar(&c.hash)

	app.Flag("retry.enabled", "Retry failed storage calls.").Default("true").BoolVar(&c.Retry.Enabled)
	app.Flag("retry.strategy", "LINEAR or EXPONENTIAL.").Default(string(retrier.Exponential)).StringVar(&c.retryStrategy)
	app.Flag("retry.max-attempts", "Attempts per storage call, including the first.").Default("5").IntVar(&c.Retry.MaxAttempts)
	app.Flag("retry.interval", "Seconds between attempts, doubled each time with EXPONENTIAL.").Default("1").IntVar(&c.retrySeconds)

	app.Flag("cache-file", "Location of local cache file.").Default("/var/lib/sstablebackup/cache.db").StringVar(&c.CacheFile)
	app.Flag("exists-ttl", "How long a freshened object is trusted.").Default("12h").DurationVar(&c.ExistsTTL)
	app.Flag("metadata-rate", "Freshen metadata calls per second.").Default("50").Float64Var(&c.MetadataRate)
	return c
}

// Validate parses the flag strings and fills in defaults.
func (c *Config) Validate() error {
	if err := c.Storage.validate(); err != nil {
		return err
	}

	if c.hash != "" {
		algorithm, err := hashing.ParseAlgorithm(c.hash)
		if err != nil {
			return err
		}
		c.Hash = algorithm
	}

	if c.retryStrategy != "" {
		strategy, err := retrier.ParseStrategy(c.retryStrategy)
		if err != nil {
			return err
		}
		c.Retry.Strategy = strategy
	}
	if c.retrySeconds > 0 {
		c.Retry.Interval = time.Duration(c.retrySeconds) * time.Second
	}
	if err := c.Retry.Validate(); err != nil {
		return err
	}

	c.Transfer.Concurrency = ClampConcurrency(c.Transfer.Concurrency)
	if c.Transfer.Bandwidth < 0 {
		return errors.New("bandwidth must not be negative")
	}
	if c.Transfer.Duration < 0 {
		return errors.New("duration must not be negative")
	}
	if c.MetadataRate <= 0 {
		return errors.New("metadata-rate must be positive")
	}
	return nil
}

func (s *Storage) validate() error {
	switch s.Provider {
	case ProviderAWS, ProviderGoogle:
	case ProviderMinio:
		if s.Endpoint == "" {
			return errors.New("minio needs --endpoint")
		}
	case ProviderLocal:
		if s.LocalRoot == "" {
			return errors.New("the local provider needs --local-root")
		}
	default:
		return fmt.Errorf("unknown cloud provider %q", s.Provider)
	}
	if s.Bucket == "" {
		return errors.New("--bucket is required")
	}
	return nil
}

// ClampConcurrency returns n limited to [1, NumCPU], with zero or less meaning
// half the CPUs.
func ClampConcurrency(n int) int {
	cpus := runtime.NumCPU()
	if n <= 0 {
		n = cpus / 2
	}
	if n > cpus {
		n = cpus
	}
	if n < 1 {
		n = 1
	}
	return n
}
