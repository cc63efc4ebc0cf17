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
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gorse-io/fmeval/base/log"
	"github.com/gorse-io/fmeval/common/libfm"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

const DefaultLibFMPath = "libFM"

// LibFM runs the libFM binary in a fresh temporary directory for every call.
type LibFM struct {
	// Path of the libFM binary.
	Path string
	// Optional arguments. Zero values are not passed to libFM.
	Method     string
	NIter      int
	InitStdDev float64
	Seed       int64
	// TempDir is the parent of working directories. Empty means os.TempDir().
	TempDir string
	// Timeout of a single run. Zero means no timeout.
	Timeout time.Duration
}

// NewLibFM creates a libFM backend.
func NewLibFM(path string) *LibFM {
	if path == "" {
		path = DefaultLibFMPath
	}
	return &LibFM{Path: path}
}

func (l *LibFM) args(trainPath, testPath, outPath string, nFactors int) []string {
	args := []string{
		"-task", "r",
		"-train", trainPath,
		"-test", testPath,
		"-dim", fmt.Sprintf("1,1,%d", nFactors),
		"-out", outPath,
	}
	if l.NIter > 0 {
		args = append(args, "-iter", strconv.Itoa(l.NIter))
	}
	if l.Method != "" {
		args = append(args, "-method", l.Method)
	}
	if l.InitStdDev > 0 {
		args = append(args, "-init_stdev", strconv.FormatFloat(l.InitStdDev, 'g', -1, 64))
	}
	if l.Seed != 0 {
		args = append(args, "-seed", strconv.FormatInt(l.Seed, 10))
	}
	return args
}

// Score writes train and test lines to files, runs libFM and reads one prediction per test line.
func (l *LibFM) Score(ctx context.Context, train, test []string, nFactors int) (scores []float64, err error) {
	start := time.Now()
	defer func() { observe(backendLibFM, start, err) }()
	if err = checkFactors(nFactors); err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp(l.TempDir, "fmeval-")
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer os.RemoveAll(dir)
	trainPath := filepath.Join(dir, "train.libfm")
	testPath := filepath.Join(dir, "test.libfm")
	outPath := filepath.Join(dir, "prediction.txt")
	if err = libfm.WriteFile(trainPath, train); err != nil {
		return nil, errors.Trace(err)
	}
	if err = libfm.WriteFile(testPath, test); err != nil {
		return nil, errors.Trace(err)
	}

	runCtx := ctx
	if l.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, l.Timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(runCtx, l.Path, l.args(trainPath, testPath, outPath, nFactors)...)
	cmd.Dir = dir
	output, runErr := cmd.CombinedOutput()
	if ctx.Err() != nil {
		return nil, errors.Trace(ctx.Err())
	}
	if runCtx.Err() != nil {
		return nil, &EngineExecutionError{Message: fmt.Sprintf("libFM timed out after %v", l.Timeout), Output: string(output), Err: runCtx.Err()}
	}
	if err = checkOutput(string(output)); err != nil {
		log.Logger().Debug("libFM reported an error", zap.String("output", string(output)))
		return nil, err
	}
	if runErr != nil {
		return nil, &EngineExecutionError{Message: "libFM exited abnormally", Output: string(output), Err: runErr}
	}
	return readPredictions(outPath, len(test))
}

func readPredictions(path string, expected int) ([]float64, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, &EngineOutputMismatchError{Expected: expected, Reason: "prediction file is missing"}
	}
	defer file.Close()
	lines, err := libfm.ReadLines(file)
	if err != nil {
		return nil, &EngineOutputMismatchError{Expected: expected, Reason: err.Error()}
	}
	if len(lines) != expected {
		return nil, &EngineOutputMismatchError{Expected: expected, Actual: len(lines)}
	}
	scores := make([]float64, len(lines))
	for i, line := range lines {
		if scores[i], err = strconv.ParseFloat(line, 64); err != nil {
			return nil, &EngineOutputMismatchError{
				Expected: expected,
				Actual:   len(lines),
				Reason:   fmt.Sprintf("invalid prediction %q at line %d", line, i+1),
			}
		}
	}
	return scores, nil
}
