// Copyright 2020 RetailNext, Inc.
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

// Package metrics holds the prometheus collectors of every package, so that
// the names stay consistent and registration happens in one place.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "sstablebackup"

func newCounter(subsystem, name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	})
}

func newCounterVec(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

type cache struct {
	hits       *prometheus.CounterVec
	misses     *prometheus.CounterVec
	promotions *prometheus.CounterVec
	puts       *prometheus.CounterVec
}

// CacheCounters are the counters of one named cache.
type CacheCounters struct {
	Hits       prometheus.Counter
	Misses     prometheus.Counter
	Promotions prometheus.Counter
	Puts       prometheus.Counter
}

func NewCacheCounters(name string) *CacheCounters {
	return &CacheCounters{
		Hits:       Cache.hits.WithLabelValues(name),
		Misses:     Cache.misses.WithLabelValues(name),
		Promotions: Cache.promotions.WithLabelValues(name),
		Puts:       Cache.puts.WithLabelValues(name),
	}
}

type digest struct {
	FilesVec *prometheus.CounterVec
	BytesVec *prometheus.CounterVec
	Seconds  prometheus.Counter
}

// Hit and Miss record a digest request by the size of the file.
func (d digest) Hit(size int64) {
	d.FilesVec.WithLabelValues("hit").Inc()
	d.BytesVec.WithLabelValues("hit").Add(float64(size))
}

func (d digest) Miss(size int64, seconds float64) {
	d.FilesVec.WithLabelValues("miss").Inc()
	d.BytesVec.WithLabelValues("miss").Add(float64(size))
	d.Seconds.Add(seconds)
}

type freshen struct {
	Freshened         prometheus.Counter
	FreshenedBytes    prometheus.Counter
	UploadRequired    prometheus.Counter
	ExistsCacheHits   prometheus.Counter
	ExistsCacheExpiry prometheus.Counter
}

var (
	Cache = cache{
		hits:       newCounterVec("cache", "get_hits_total", "Cache gets that were hits.", "cache"),
		misses:     newCounterVec("cache", "get_misses_total", "Cache gets that were misses.", "cache"),
		promotions: newCounterVec("cache", "promotions_total", "Cache gets that promoted a value from the previous period.", "cache"),
		puts:       newCounterVec("cache", "puts_total", "Cache puts.", "cache"),
	}

	Digest = digest{
		FilesVec: newCounterVec("digest", "files_total", "Files digested, by whether the digest cache answered.", "result"),
		BytesVec: newCounterVec("digest", "bytes_total", "Size of files digested, by whether the digest cache answered.", "result"),
		Seconds:  newCounter("digest", "seconds_total", "Time spent reading files to digest them."),
	}

	Freshen = freshen{
		Freshened:         newCounter("freshen", "freshened_files_total", "Objects that were already present and only had their metadata refreshed."),
		FreshenedBytes:    newCounter("freshen", "freshened_bytes_total", "Size of objects that did not need uploading."),
		UploadRequired:    newCounter("freshen", "upload_required_total", "Freshen attempts that required a real upload."),
		ExistsCacheHits:   newCounter("freshen", "exists_cache_hits_total", "Freshen requests answered from the local exists cache."),
		ExistsCacheExpiry: newCounter("freshen", "exists_cache_expired_total", "Exists cache entries ignored because they were too old."),
	}
)

// Serve exposes the default registry on address at path. An empty address
// turns it off.
func Serve(address, path string) {
	if address == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())
	go func() {
		err := http.ListenAndServe(address, mux)
		zap.S().Fatalw("metrics_listen_error", "address", address, "err", err)
	}()
}

func init() {
	prometheus.MustRegister(
		Cache.hits, Cache.misses, Cache.promotions, Cache.puts,
		Digest.FilesVec, Digest.BytesVec, Digest.Seconds,
		Freshen.Freshened, Freshen.FreshenedBytes, Freshen.UploadRequired,
		Freshen.ExistsCacheHits, Freshen.ExistsCacheExpiry,
	)
}
