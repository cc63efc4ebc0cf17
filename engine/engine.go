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

/*
Package engine scores libFM instances with a factorization machine.

	* LibFM: runs the libFM binary as a subprocess.
	* FM: trains a factorization machine in process.

Both backends train on the train lines and return one prediction per test
line, in test line order.
*/
package engine

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

var errorToken = regexp.MustCompile(`\bERROR\b`)

// Engine trains on train lines and predicts test lines.
type Engine interface {
	Score(ctx context.Context, train, test []string, nFactors int) ([]float64, error)
}

// EngineIOError is returned when the engine is unable to open a file.
type EngineIOError struct {
	Message string
	Output  string
}

func (e *EngineIOError) Error() string {
	return "engine failed to open file: " + e.Message
}

// EngineExecutionError is returned when the engine reports an error or exits abnormally.
type EngineExecutionError struct {
	Message string
	Output  string
	Err     error
}

func (e *EngineExecutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("engine execution failed: %s (%v)", e.Message, e.Err)
	}
	return "engine execution failed: " + e.Message
}

func (e *EngineExecutionError) Unwrap() error {
	return e.Err
}

// EngineOutputMismatchError is returned when predictions do not match test lines.
type EngineOutputMismatchError struct {
	Expected int
	Actual   int
	Reason   string
}

func (e *EngineOutputMismatchError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("engine output mismatch: %s", e.Reason)
	}
	return fmt.Sprintf("engine output mismatch: expect %d predictions, got %d", e.Expected, e.Actual)
}

// InvalidFactorsError is returned when the number of factors is less than 1.
type InvalidFactorsError struct {
	NFactors int
}

func (e *InvalidFactorsError) Error() string {
	return fmt.Sprintf("number of factors must be at least 1, got %d", e.NFactors)
}

func checkFactors(nFactors int) error {
	if nFactors < 1 {
		return &InvalidFactorsError{NFactors: nFactors}
	}
	return nil
}

// checkOutput inspects the combined output of an engine. A line mentioning
// "unable to open" is an IO error, any other line with an ERROR token is an
// execution error.
func checkOutput(output string) error {
	lines := strings.Split(output, "\n")
	for _, line := range lines {
		if strings.Contains(strings.ToLower(line), "unable to open") {
			return &EngineIOError{Message: strings.TrimSpace(line), Output: output}
		}
	}
	for _, line := range lines {
		if errorToken.MatchString(line) {
			return &EngineExecutionError{Message: strings.TrimSpace(line), Output: output}
		}
	}
	return nil
}
