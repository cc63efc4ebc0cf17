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
	"cmp"
	"context"
	"io"
	"slices"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
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

// ScoredItem is a candidate item with its predicted score.
type ScoredItem struct {
	ItemId string
	Score  float64
}

// Recommendation is the ranked list of a user, optionally in a category.
type Recommendation struct {
	UserId   string
	Category string
	Items    []ScoredItem
}

// ItemIds returns ids of recommended items in rank order.
func (r Recommendation) ItemIds() []string {
	return lo.Map(r.Items, func(item ScoredItem, _ int) string {
		return item.ItemId
	})
}

// RecommendOptions of recommendation runs.
type RecommendOptions struct {
	Options
	// TopN is the length of each list. Zero keeps all candidates.
	TopN int
	// ByCategory generates one list per user and category.
	ByCategory bool
}

// Recommender ranks unseen items of users. The whole dataset is the training set.
type Recommender struct {
	ds       *dataset.Dataset
	eng      engine.Engine
	train    []string
	nFactors int
}

func NewRecommender(ds *dataset.Dataset, eng engine.Engine, nFactors int) *Recommender {
	return &Recommender{
		ds:       ds,
		eng:      eng,
		train:    libfm.EncodeAll(ds.Instances()),
		nFactors: nFactors,
	}
}

// candidates returns instances of items the user has not rated, in item id
// order. A non-empty category restricts candidates to items in it.
func (r *Recommender) candidates(userId, category string) ([]libfm.Instance, error) {
	seen := mapset.NewThreadUnsafeSet(r.ds.Store().UserItems(userId)...)
	var instances []libfm.Instance
	for _, itemId := range r.ds.Items() {
		if seen.Contains(itemId) {
			continue
		}
		if category != "" {
			if itemCategory, exist := r.ds.Store().Category(itemId); !exist || itemCategory != category {
				continue
			}
		}
		inst, err := r.ds.Instance(userId, itemId)
		if err != nil {
			return nil, errors.Trace(err)
		}
		instances = append(instances, inst)
	}
	return instances, nil
}

// Recommend ranks unseen items of a user by descending score, ties broken by
// ascending item id. It returns the first n items, or all of them if n is 0.
// A user without candidates gets an empty list and the engine is not called.
func (r *Recommender) Recommend(ctx context.Context, userId, category string, n int) ([]ScoredItem, error) {
	if _, err := r.ds.Registry().NameToId(dataset.UserNamespace, userId); err != nil {
		return nil, errors.Trace(err)
	}
	candidates, err := r.candidates(userId, category)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return []ScoredItem{}, nil
	}
	scores, err := r.eng.Score(ctx, r.train, libfm.EncodeAll(candidates), r.nFactors)
	if err != nil {
		return nil, errors.Annotatef(err, "recommend for user %s", userId)
	}
	if len(scores) != len(candidates) {
		return nil, &engine.EngineOutputMismatchError{Expected: len(candidates), Actual: len(scores)}
	}
	order := lo.Range(len(candidates))
	slices.SortFunc(order, func(a, b int) int {
		if c := cmp.Compare(scores[b], scores[a]); c != 0 {
			return c
		}
		return cmp.Compare(candidates[a].ItemId, candidates[b].ItemId)
	})
	if n > 0 && n < len(order) {
		order = order[:n]
	}
	items := make([]ScoredItem, len(order))
	for i, j := range order {
		itemId, err := r.ds.Registry().IdToName(dataset.ItemNamespace, candidates[j].ItemId)
		if err != nil {
			return nil, errors.Trace(err)
		}
		items[i] = ScoredItem{ItemId: itemId, Score: scores[j]}
	}
	return items, nil
}

// Recommend ranks unseen items of a single user. See Recommender.Recommend.
func Recommend(ctx context.Context, ds *dataset.Dataset, eng engine.Engine, userId, category string, n, nFactors int) ([]ScoredItem, error) {
	return NewRecommender(ds, eng, nFactors).Recommend(ctx, userId, category, n)
}

// RecommendAll generates lists for every user in id order, or for every user
// and category when ByCategory is set. Empty lists are skipped.
func RecommendAll(ctx context.Context, ds *dataset.Dataset, eng engine.Engine, opts RecommendOptions) ([]Recommendation, error) {
	type task struct {
		userId   string
		category string
	}
	var tasks []task
	for _, userId := range ds.Users() {
		if opts.ByCategory {
			for _, category := range ds.Categories() {
				tasks = append(tasks, task{userId: userId, category: category})
			}
		} else {
			tasks = append(tasks, task{userId: userId})
		}
	}

	recommender := NewRecommender(ds, eng, opts.NFactors)
	bar := opts.progressBar(len(tasks), "recommend")
	start := time.Now()
	results, err := parallel.Map(ctx, len(tasks), opts.jobs(), func(jobId int) (Recommendation, error) {
		t := tasks[jobId]
		items, err := recommender.Recommend(ctx, t.userId, t.category, opts.TopN)
		if err != nil {
			return Recommendation{}, err
		}
		if bar != nil {
			_ = bar.Add(1)
		}
		return Recommendation{UserId: t.userId, Category: t.category, Items: items}, nil
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	if bar != nil {
		_ = bar.Finish()
	}
	recommendations := lo.Filter(results, func(r Recommendation, _ int) bool {
		return len(r.Items) > 0
	})
	log.Logger().Info("complete recommendation",
		zap.Int("n_users", len(ds.Users())),
		zap.Int("n_lists", len(recommendations)),
		zap.Bool("by_category", opts.ByCategory),
		zap.Duration("used_time", time.Since(start)))
	return recommendations, nil
}

// WriteRecommendations writes lists as CSV with header user_id,items, or
// user_id,category,items if byCategory. Items are joined by spaces.
func WriteRecommendations(w io.Writer, recommendations []Recommendation, byCategory bool) error {
	header := []string{"user_id", "items"}
	if byCategory {
		header = []string{"user_id", "category", "items"}
	}
	rows := lo.Map(recommendations, func(r Recommendation, _ int) []string {
		items := strings.Join(r.ItemIds(), " ")
		if byCategory {
			return []string{r.UserId, r.Category, items}
		}
		return []string{r.UserId, items}
	})
	return errors.Trace(base.WriteRows(w, header, rows))
}
