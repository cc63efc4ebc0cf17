// Copyright 2026 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package engine

import (
	"errors"
	"time"

	jujuerrors "github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	backendLibFM = "libfm"
	backendFM    = "fm"
)

var (
	ScoreSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fmeval",
		Subsystem: "engine",
		Name:      "score_seconds",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
	}, []string{"backend"})
	ErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fmeval",
		Subsystem: "engine",
		Name:      "errors_total",
	}, []string{"backend", "kind"})
)

func observe(backend string, start time.Time, err error) {
	ScoreSeconds.WithLabelValues(backend).Observe(time.Since(start).Seconds())
	if err != nil {
		ErrorsTotal.WithLabelValues(backend, errorKind(err)).Inc()
	}
}

func errorKind(err error) string {
	var (
		ioErr       *EngineIOError
		execErr     *EngineExecutionError
		mismatchErr *EngineOutputMismatchError
		factorsErr  *InvalidFactorsError
	)
	switch {
	case errors.As(err, &ioErr):
		return "io"
	case errors.As(err, &execErr):
		return "execution"
	case errors.As(err, &mismatchErr):
		return "output_mismatch"
	case errors.As(err, &factorsErr):
		return "invalid_factors"
	default:
		return "other"
	}
}

// WriteMetrics writes engine metrics to a file in the text format of the node exporter textfile collector.
func WriteMetrics(path string) error {
	return jujuerrors.Trace(prometheus.WriteToTextfile(path, prometheus.DefaultGatherer))
}
