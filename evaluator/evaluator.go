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

package evaluator

import (
	"io"
	"math"
	"os"
	"strconv"

	"github.com/gorse-io/fmeval/base"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"github.com/schollz/progressbar/v3"
	"gonum.org/v1/gonum/stat"
)

// Options of evaluation runs.
type Options struct {
	// NFactors is the dimensionality of pairwise interactions passed to the engine.
	NFactors int
	// Jobs is the number of concurrent engine calls. Values below 2 run sequentially.
	Jobs int
	// Progress shows a progress bar on stderr.
	Progress bool
}

func (opts Options) jobs() int {
	return max(opts.Jobs, 1)
}

func (opts Options) progressBar(total int, description string) *progressbar.ProgressBar {
	if !opts.Progress {
		return nil
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish())
}

// Record is the prediction of a held out instance.
type Record struct {
	UserId     string
	ItemId     string
	Answer     int
	Prediction float64
}

// SplitFold holds out lines in [begin, end) as the test set and keeps the
// others as the training set.
func SplitFold(lines []string, begin, end int) (train, test []string) {
	begin = max(0, min(begin, len(lines)))
	end = max(begin, min(end, len(lines)))
	train = make([]string, 0, len(lines)-(end-begin))
	train = append(train, lines[:begin]...)
	train = append(train, lines[end:]...)
	test = append([]string(nil), lines[begin:end]...)
	return train, test
}

// RMSE computes the root mean squared error of records. It returns 0 for no records.
func RMSE(records []Record) float64 {
	if len(records) == 0 {
		return 0
	}
	squares := lo.Map(records, func(r Record, _ int) float64 {
		diff := float64(r.Answer) - r.Prediction
		return diff * diff
	})
	return math.Sqrt(stat.Mean(squares, nil))
}

// WriteRecords writes records as CSV with header user_id,item_id,answer,prediction.
func WriteRecords(w io.Writer, records []Record) error {
	rows := lo.Map(records, func(r Record, _ int) []string {
		return []string{
			r.UserId,
			r.ItemId,
			strconv.Itoa(r.Answer),
			strconv.FormatFloat(r.Prediction, 'g', -1, 64),
		}
	})
	return errors.Trace(base.WriteRows(w, []string{"user_id", "item_id", "answer", "prediction"}, rows))
}

// ReadRecords reads records written by WriteRecords.
func ReadRecords(r io.Reader) ([]Record, error) {
	var (
		records []Record
		err     error
	)
	readErr := base.ReadLines(r, ",", func(lineNumber int, fields []string) bool {
		if lineNumber == 0 {
			return true
		}
		if len(fields) != 4 {
			err = errors.Errorf("line %d: expect 4 fields, got %d", lineNumber+1, len(fields))
			return false
		}
		record := Record{UserId: fields[0], ItemId: fields[1]}
		if record.Answer, err = strconv.Atoi(fields[2]); err != nil {
			err = errors.Annotatef(err, "line %d", lineNumber+1)
			return false
		}
		if record.Prediction, err = strconv.ParseFloat(fields[3], 64); err != nil {
			err = errors.Annotatef(err, "line %d", lineNumber+1)
			return false
		}
		records = append(records, record)
		return true
	})
	if readErr != nil {
		return nil, errors.Trace(readErr)
	}
	if err != nil {
		return nil, err
	}
	return records, nil
}
