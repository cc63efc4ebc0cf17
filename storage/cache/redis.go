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

package cache

import (
	"cmp"
	"context"
	"slices"
	"strings"

	"github.com/gorse-io/fmeval/base/log"
	"github.com/gorse-io/fmeval/storage"
	"github.com/juju/errors"
	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const Recommend = "recommend"

// Key creates key for cache. Empty field will be ignored.
func Key(keys ...string) string {
	return strings.Join(lo.Filter(keys, func(key string, _ int) bool {
		return key != ""
	}), "/")
}

// Score is a member of a sorted set.
type Score struct {
	Id    string
	Score float64
}

// Redis stores recommendation lists as sorted sets.
type Redis struct {
	client *redis.Client
}

// Open connects to Redis by a redis:// or rediss:// URL.
func Open(path string) (*Redis, error) {
	if !storage.HasPrefix(path, storage.RedisPrefix, storage.RedissPrefix) {
		return nil, errors.Errorf("unknown cache: %s", log.RedactDBURL(path))
	}
	opt, err := redis.ParseURL(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	log.Logger().Info("connect to cache", zap.String("url", log.RedactDBURL(path)))
	return &Redis{client: redis.NewClient(opt)}, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) Ping(ctx context.Context) error {
	return errors.Trace(r.client.Ping(ctx).Err())
}

// SetSorted replaces the members of a sorted set.
func (r *Redis) SetSorted(ctx context.Context, key string, scores []Score) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(scores) > 0 {
			members := lo.Map(scores, func(s Score, _ int) redis.Z {
				return redis.Z{Score: s.Score, Member: s.Id}
			})
			pipe.ZAdd(ctx, key, members...)
		}
		return nil
	})
	return errors.Trace(err)
}

// GetSorted returns members of a sorted set in [begin, end] by descending score.
// end = -1 means the last member.
func (r *Redis) GetSorted(ctx context.Context, key string, begin, end int) ([]Score, error) {
	members, err := r.client.ZRevRangeWithScores(ctx, key, int64(begin), int64(end)).Result()
	if err != nil {
		return nil, errors.Trace(err)
	}
	return lo.Map(members, func(z redis.Z, _ int) Score {
		return Score{Id: z.Member.(string), Score: z.Score}
	}), nil
}

// SetRecommend stores the recommendation list of a user at recommend/<user>, or
// recommend/<user>/<category> if category is not empty. Redis orders tied scores
// by descending member, GetRecommend restores ascending ids among ties.
func (r *Redis) SetRecommend(ctx context.Context, userId, category string, scores []Score) error {
	return r.SetSorted(ctx, Key(Recommend, userId, category), scores)
}

// GetRecommend returns the first n items of a recommendation list by descending
// score then ascending id. n = 0 returns all items.
func (r *Redis) GetRecommend(ctx context.Context, userId, category string, n int) ([]Score, error) {
	scores, err := r.GetSorted(ctx, Key(Recommend, userId, category), 0, -1)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(scores, func(a, b Score) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return strings.Compare(a.Id, b.Id)
	})
	if n > 0 && n < len(scores) {
		scores = scores[:n]
	}
	return scores, nil
}
