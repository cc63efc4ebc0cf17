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
	"bytes"
	"context"
	"errors"
	"math"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/gorse-io/fmeval/common/libfm"
	"github.com/gorse-io/fmeval/dataset"
	"github.com/gorse-io/fmeval/engine"
	"github.com/jaswdr/faker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	train []string
	test  []string
}

// mockEngine scores every test line by its item id unless score is set.
type mockEngine struct {
	mu    sync.Mutex
	calls []call
	score func(inst libfm.Instance) (float64, error)
}

func (m *mockEngine) Score(_ context.Context, train, test []string, nFactors int) ([]float64, error) {
	if nFactors < 1 {
		return nil, &engine.InvalidFactorsError{NFactors: nFactors}
	}
	m.mu.Lock()
	m.calls = append(m.calls, call{train: train, test: test})
	m.mu.Unlock()
	scores := make([]float64, len(test))
	for i, line := range test {
		inst, err := libfm.Decode(line)
		if err != nil {
			return nil, err
		}
		if m.score == nil {
			scores[i] = float64(inst.ItemId)
		} else if scores[i], err = m.score(inst); err != nil {
			return nil, err
		}
	}
	return scores, nil
}

// emptyEngine returns no scores at all.
type emptyEngine struct{}

func (emptyEngine) Score(context.Context, []string, []string, int) ([]float64, error) {
	return nil, nil
}

func newDataset(t *testing.T, pairs ...string) *dataset.Dataset {
	var observations []dataset.Observation
	for i := 0; i+1 < len(pairs); i += 2 {
		observations = append(observations, dataset.Observation{UserId: pairs[i], ItemId: pairs[i+1]})
	}
	ds, err := dataset.Build(observations, nil)
	require.NoError(t, err)
	return ds
}

func TestRMSE(t *testing.T) {
	records := []Record{
		{Answer: 3, Prediction: 3},
		{Answer: 1, Prediction: 4},
		{Answer: 5, Prediction: 2},
	}
	assert.InDelta(t, math.Sqrt(6), RMSE(records), 1e-9)
	assert.InDelta(t, 2.449, RMSE(records), 1e-3)
	assert.Zero(t, RMSE(nil))
}

func TestSplitFold(t *testing.T) {
	lines := []string{"a", "b", "c", "d", "e"}
	train, test := SplitFold(lines, 1, 3)
	assert.Equal(t, []string{"a", "d", "e"}, train)
	assert.Equal(t, []string{"b", "c"}, test)
	train, test = SplitFold(lines, 4, 10)
	assert.Equal(t, []string{"a", "b", "c", "d"}, train)
	assert.Equal(t, []string{"e"}, test)
	// the input is untouched
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, lines)
}

func TestLeaveOneOut(t *testing.T) {
	ds := newDataset(t, "u1", "a", "u1", "b", "u2", "a", "u2", "a", "u3", "c")
	lines := libfm.EncodeAll(ds.Instances())
	mock := &mockEngine{score: func(inst libfm.Instance) (float64, error) {
		return float64(inst.Rating) + 0.5, nil
	}}
	records, err := LeaveOneOut(context.Background(), ds, mock, Options{NFactors: 4})
	require.NoError(t, err)
	assert.Equal(t, []Record{
		{UserId: "u1", ItemId: "a", Answer: 1, Prediction: 1.5},
		{UserId: "u1", ItemId: "b", Answer: 1, Prediction: 1.5},
		{UserId: "u2", ItemId: "a", Answer: 2, Prediction: 2.5},
		{UserId: "u3", ItemId: "c", Answer: 1, Prediction: 1.5},
	}, records)
	assert.InDelta(t, 0.5, RMSE(records), 1e-9)

	// every instance is held out exactly once and never used for training in its fold
	require.Len(t, mock.calls, len(lines))
	for i, c := range mock.calls {
		assert.Equal(t, []string{lines[i]}, c.test)
		assert.Len(t, c.train, len(lines)-1)
		assert.NotContains(t, c.train, lines[i])
		for j, line := range lines {
			if j != i {
				assert.Contains(t, c.train, line)
			}
		}
	}
}

func TestLeaveOneOutParallel(t *testing.T) {
	fake := faker.New()
	var pairs []string
	for i := 0; i < 200; i++ {
		pairs = append(pairs, fake.Person().FirstName(), fake.Lorem().Word())
	}
	ds := newDataset(t, pairs...)
	expected, err := LeaveOneOut(context.Background(), ds, &mockEngine{}, Options{NFactors: 1})
	require.NoError(t, err)
	actual, err := LeaveOneOut(context.Background(), ds, &mockEngine{}, Options{NFactors: 1, Jobs: 4})
	require.NoError(t, err)
	assert.Equal(t, expected, actual)
	assert.Len(t, actual, ds.Store().Count())
}

func TestLeaveOneOutFailure(t *testing.T) {
	ds := newDataset(t, "u1", "a", "u1", "b", "u2", "c")
	itemId, err := ds.Registry().NameToId(dataset.ItemNamespace, "b")
	require.NoError(t, err)
	mock := &mockEngine{score: func(inst libfm.Instance) (float64, error) {
		if inst.ItemId == itemId {
			return 0, &engine.EngineIOError{Message: "unable to open train file"}
		}
		return 1, nil
	}}
	records, err := LeaveOneOut(context.Background(), ds, mock, Options{NFactors: 1})
	assert.Nil(t, records)
	var ioErr *engine.EngineIOError
	assert.True(t, errors.As(err, &ioErr))
	// the run stops at the failed fold
	assert.Len(t, mock.calls, 2)

	_, err = LeaveOneOut(context.Background(), ds, &mockEngine{}, Options{NFactors: 0})
	var factorsErr *engine.InvalidFactorsError
	assert.True(t, errors.As(err, &factorsErr))
}

func TestLeaveOneOutMissingPredictions(t *testing.T) {
	ds := newDataset(t, "u1", "a", "u1", "b", "u2", "c")
	for _, jobs := range []int{1, 2} {
		records, err := LeaveOneOut(context.Background(), ds, emptyEngine{}, Options{NFactors: 1, Jobs: jobs})
		assert.Nil(t, records)
		var mismatchErr *engine.EngineOutputMismatchError
		require.True(t, errors.As(err, &mismatchErr))
		assert.Equal(t, 1, mismatchErr.Expected)
		assert.Equal(t, 0, mismatchErr.Actual)
	}
}

func TestKFold(t *testing.T) {
	ds := newDataset(t, "u1", "a", "u1", "b", "u2", "a", "u2", "c", "u3", "b")
	n := ds.Store().Count()

	mock := &mockEngine{}
	cv, err := KFold(context.Background(), ds, mock, 2, 0, Options{NFactors: 2})
	require.NoError(t, err)
	// ceil(5/2) = 3 instances per fold
	require.Len(t, cv.Folds, 2)
	assert.Len(t, cv.Folds[0].Records, 3)
	assert.Len(t, cv.Folds[1].Records, 2)
	// folds partition instances
	var held []string
	for _, c := range mock.calls {
		assert.Len(t, c.train, n-len(c.test))
		for _, line := range c.test {
			assert.NotContains(t, c.train, line)
		}
		held = append(held, c.test...)
	}
	expected := libfm.EncodeAll(ds.Instances())
	slices.Sort(expected)
	slices.Sort(held)
	assert.Equal(t, expected, held)
	assert.Len(t, cv.Records(), n)
	assert.InDelta(t, RMSE(cv.Records()), cv.RMSE(), 1e-9)
	assert.Greater(t, cv.MeanFoldRMSE(), 0.0)

	// same seed, same folds
	again, err := KFold(context.Background(), ds, &mockEngine{}, 2, 0, Options{NFactors: 2})
	require.NoError(t, err)
	assert.Equal(t, cv.Records(), again.Records())

	// k == 0 and k >= n are leave-one-out
	for _, k := range []int{0, n, n + 3} {
		cv, err = KFold(context.Background(), ds, &mockEngine{}, k, 1, Options{NFactors: 2})
		require.NoError(t, err)
		assert.Len(t, cv.Folds, n)
	}

	_, err = KFold(context.Background(), ds, &mockEngine{}, -1, 0, Options{NFactors: 2})
	assert.Error(t, err)
}

func TestLeaveOneOutWithFM(t *testing.T) {
	ds := newDataset(t,
		"u1", "a", "u1", "a", "u1", "b",
		"u2", "a", "u2", "c", "u2", "c", "u2", "c",
		"u3", "b", "u3", "c")
	fm := engine.NewFM()
	fm.NEpochs = 20
	records, err := LeaveOneOut(context.Background(), ds, fm, Options{NFactors: 2, Jobs: 2})
	require.NoError(t, err)
	assert.Len(t, records, ds.Store().Count())
	for _, record := range records {
		assert.GreaterOrEqual(t, record.Prediction, 1.0)
		assert.LessOrEqual(t, record.Prediction, 3.0)
	}
}

func TestWriteRecords(t *testing.T) {
	records := []Record{
		{UserId: "u1", ItemId: "a,b", Answer: 3, Prediction: 2.5},
		{UserId: "u2", ItemId: "c", Answer: 1, Prediction: 1},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteRecords(&buf, records))
	assert.Equal(t, "user_id,item_id,answer,prediction\n"+
		"u1,\"a,b\",3,2.5\n"+
		"u2,c,1,1\n", buf.String())

	read, err := ReadRecords(strings.NewReader(buf.String()))
	require.NoError(t, err)
	assert.Equal(t, records, read)

	_, err = ReadRecords(strings.NewReader("user_id,item_id,answer,prediction\nu1,a,x,1\n"))
	assert.Error(t, err)
	_, err = ReadRecords(strings.NewReader("user_id,item_id,answer,prediction\nu1,a\n"))
	assert.Error(t, err)
}
