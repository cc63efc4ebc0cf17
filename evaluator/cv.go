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
	"context"
	"time"

	"github.com/gorse-io/fmeval/base"
	"github.com/gorse-io/fmeval/base/log"
	"github.com/gorse-io/fmeval/common/libfm"
	"github.com/gorse-io/fmeval/common/parallel"
	"github.com/gorse-io/fmeval/dataset"
	"github.com/gorse-io/fmeval/engine"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Fold is the result of a held out range of instances.
type Fold struct {
	Records []Record
	RMSE    float64
}

// CrossValidation is the result of a cross validation run.
type CrossValidation struct {
	Folds []Fold
}

// Records returns records of all folds in fold order.
func (cv *CrossValidation) Records() []Record {
	return lo.FlatMap(cv.Folds, func(fold Fold, _ int) []Record {
		return fold.Records
	})
}

// RMSE over records of all folds.
func (cv *CrossValidation) RMSE() float64 {
	return RMSE(cv.Records())
}

// MeanFoldRMSE is the mean of per-fold RMSE.
func (cv *CrossValidation) MeanFoldRMSE() float64 {
	if len(cv.Folds) == 0 {
		return 0
	}
	return lo.SumBy(cv.Folds, func(fold Fold) float64 {
		return fold.RMSE
	}) / float64(len(cv.Folds))
}

// LeaveOneOut holds out every instance in turn and predicts it from all the
// others. Records are returned in instance order. The first failed fold
// aborts the run.
func LeaveOneOut(ctx context.Context, ds *dataset.Dataset, eng engine.Engine, opts Options) ([]Record, error) {
	instances := ds.Instances()
	result, err := crossValidate(ctx, ds, eng, instances, 1, opts)
	if err != nil {
		return nil, err
	}
	return result.Records(), nil
}

// KFold shuffles instances with a seeded generator and cuts them into folds
// of ceil(n/k) contiguous instances. k == 0 or k >= n means leave-one-out.
func KFold(ctx context.Context, ds *dataset.Dataset, eng engine.Engine, k int, seed int64, opts Options) (*CrossValidation, error) {
	if k < 0 {
		return nil, errors.NotValidf("number of folds %d", k)
	}
	instances := ds.Instances()
	n := len(instances)
	if n == 0 {
		return &CrossValidation{}, nil
	}
	if k == 0 || k > n {
		k = n
	}
	rng := base.NewRand(seed)
	rng.Shuffle(n, func(i, j int) {
		instances[i], instances[j] = instances[j], instances[i]
	})
	return crossValidate(ctx, ds, eng, instances, (n+k-1)/k, opts)
}

func crossValidate(ctx context.Context, ds *dataset.Dataset, eng engine.Engine, instances []libfm.Instance, stepSize int, opts Options) (*CrossValidation, error) {
	lines := libfm.EncodeAll(instances)
	nFolds := (len(lines) + stepSize - 1) / stepSize
	bar := opts.progressBar(nFolds, "cross validation")
	start := time.Now()
	folds, err := parallel.Map(ctx, nFolds, opts.jobs(), func(foldId int) (Fold, error) {
		begin := foldId * stepSize
		end := min(begin+stepSize, len(lines))
		train, test := SplitFold(lines, begin, end)
		predictions, err := eng.Score(ctx, train, test, opts.NFactors)
		if err != nil {
			return Fold{}, errors.Annotatef(err, "fold %d", foldId)
		}
		if len(predictions) != len(test) {
			return Fold{}, &engine.EngineOutputMismatchError{Expected: len(test), Actual: len(predictions)}
		}
		records := make([]Record, len(test))
		for i, inst := range instances[begin:end] {
			if records[i], err = newRecord(ds, inst, predictions[i]); err != nil {
				return Fold{}, errors.Trace(err)
			}
		}
		if bar != nil {
			_ = bar.Add(1)
		}
		return Fold{Records: records, RMSE: RMSE(records)}, nil
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	if bar != nil {
		_ = bar.Finish()
	}
	result := &CrossValidation{Folds: folds}
	log.Logger().Info("complete cross validation",
		zap.Int("n_instances", len(lines)),
		zap.Int("n_folds", nFolds),
		zap.Float64("rmse", result.RMSE()),
		zap.Duration("used_time", time.Since(start)))
	return result, nil
}

func newRecord(ds *dataset.Dataset, inst libfm.Instance, prediction float64) (Record, error) {
	userId, err := ds.Registry().IdToName(dataset.UserNamespace, inst.UserId)
	if err != nil {
		return Record{}, err
	}
	itemId, err := ds.Registry().IdToName(dataset.ItemNamespace, inst.ItemId)
	if err != nil {
		return Record{}, err
	}
	return Record{UserId: userId, ItemId: itemId, Answer: inst.Rating, Prediction: prediction}, nil
}
