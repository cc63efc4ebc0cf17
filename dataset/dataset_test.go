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

package dataset

import (
	"errors"
	"fmt"
	"testing"

	"github.com/gorse-io/fmeval/common/libfm"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newObservations(pairs ...string) []Observation {
	var observations []Observation
	for i := 0; i+1 < len(pairs); i += 2 {
		observations = append(observations, Observation{UserId: pairs[i], ItemId: pairs[i+1]})
	}
	return observations
}

func TestIndex(t *testing.T) {
	idx := NewIndex([]string{"c", "a", "b", "a"}, 10)
	assert.Equal(t, int32(3), idx.Len())
	assert.Equal(t, int32(10), idx.Offset())
	assert.Equal(t, int32(13), idx.End())
	assert.Equal(t, []string{"a", "b", "c"}, idx.Names())
	id, ok := idx.ToNumber("b")
	assert.True(t, ok)
	assert.Equal(t, int32(11), id)
	_, ok = idx.ToNumber("d")
	assert.False(t, ok)
	name, ok := idx.ToName(12)
	assert.True(t, ok)
	assert.Equal(t, "c", name)
	_, ok = idx.ToName(9)
	assert.False(t, ok)
	_, ok = idx.ToName(13)
	assert.False(t, ok)

	var empty *Index
	assert.Equal(t, int32(0), empty.Len())
	assert.Nil(t, empty.Names())
}

func TestBuildDeterminism(t *testing.T) {
	var observations []Observation
	for u := 0; u < 20; u++ {
		for i := 0; i < 30; i += u%3 + 1 {
			observations = append(observations, Observation{
				UserId: fmt.Sprintf("user_%d", u),
				ItemId: fmt.Sprintf("item_%d", i),
			})
		}
	}
	expected, err := Build(observations, nil)
	require.NoError(t, err)
	for round := 0; round < 5; round++ {
		shuffled := lo.Shuffle(append([]Observation(nil), observations...))
		actual, err := Build(shuffled, nil)
		require.NoError(t, err)
		for _, name := range expected.Users() {
			a, _ := expected.Registry().NameToId(UserNamespace, name)
			b, _ := actual.Registry().NameToId(UserNamespace, name)
			assert.Equal(t, a, b)
		}
		for _, name := range expected.Items() {
			a, _ := expected.Registry().NameToId(ItemNamespace, name)
			b, _ := actual.Registry().NameToId(ItemNamespace, name)
			assert.Equal(t, a, b)
		}
		assert.Equal(t, expected.Instances(), actual.Instances())
	}
}

func TestBuildDisjointRanges(t *testing.T) {
	ds, err := Build(newObservations("u2", "i1", "u1", "i2", "u1", "i3", "u3", "i1"), []Categorization{
		{ItemId: "i1", Category: "shoes"},
		{ItemId: "i2", Category: "hats"},
	})
	require.NoError(t, err)
	r := ds.Registry()
	assert.Equal(t, 3, r.Count(UserNamespace))
	assert.Equal(t, 3, r.Count(ItemNamespace))
	assert.Equal(t, 2, r.Count(CategoryNamespace))

	// users are numbered from 0 in lexicographic order
	for i, name := range []string{"u1", "u2", "u3"} {
		id, err := r.NameToId(UserNamespace, name)
		require.NoError(t, err)
		assert.Equal(t, int32(i), id)
	}
	// items follow users
	for i, name := range []string{"i1", "i2", "i3"} {
		id, err := r.NameToId(ItemNamespace, name)
		require.NoError(t, err)
		assert.Equal(t, int32(3+i), id)
	}
	// categories follow items
	for i, name := range []string{"hats", "shoes"} {
		id, err := r.NameToId(CategoryNamespace, name)
		require.NoError(t, err)
		assert.Equal(t, int32(6+i), id)
	}

	ids := map[int32]Namespace{}
	for _, ns := range []Namespace{UserNamespace, ItemNamespace, CategoryNamespace} {
		index := r.Index(ns)
		for id := index.Offset(); id < index.End(); id++ {
			_, dup := ids[id]
			assert.False(t, dup, "id %d is used twice", id)
			ids[id] = ns
		}
	}
}

func TestBuildSaturation(t *testing.T) {
	var observations []Observation
	for i := 0; i < 10; i++ {
		observations = append(observations, Observation{UserId: "a", ItemId: "x"})
	}
	observations = append(observations, newObservations("a", "y", "a", "y")...)
	ds, err := Build(observations, nil)
	require.NoError(t, err)
	rating, ok := ds.Store().Rating("a", "x")
	assert.True(t, ok)
	assert.Equal(t, MaxRating, rating)
	rating, ok = ds.Store().Rating("a", "y")
	assert.True(t, ok)
	assert.Equal(t, 2, rating)
	_, ok = ds.Store().Rating("a", "z")
	assert.False(t, ok)
	assert.Equal(t, 2, ds.Store().Count())
}

func TestBuildFiltersSentinels(t *testing.T) {
	ds, err := Build(newObservations("a", "x", "", "x", "-1", "y", "b", "", "b", "-1"), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ds.Users())
	assert.Equal(t, []string{"x"}, ds.Items())

	_, err = Build(newObservations("", "x", "-1", "y", "b", ""), nil)
	var emptyErr *EmptyDatasetError
	assert.True(t, errors.As(err, &emptyErr))
	assert.Equal(t, 3, emptyErr.Total)

	_, err = Build(nil, nil)
	assert.True(t, errors.As(err, &emptyErr))
}

func TestBuildCategories(t *testing.T) {
	ds, err := Build(newObservations("a", "x", "a", "y", "b", "z"), []Categorization{
		{ItemId: "x", Category: "c1"},
		{ItemId: "x", Category: "c2"}, // last one wins
		{ItemId: "w", Category: "c3"}, // unobserved item
		{ItemId: "y", Category: "-1"},
		{ItemId: "", Category: "c4"},
	})
	require.NoError(t, err)
	assert.True(t, ds.HasCategories())
	assert.Equal(t, []string{"c2"}, ds.Categories())
	category, ok := ds.Store().Category("x")
	assert.True(t, ok)
	assert.Equal(t, "c2", category)
	_, ok = ds.Store().Category("y")
	assert.False(t, ok)

	inst, err := ds.Instance("a", "x")
	require.NoError(t, err)
	assert.True(t, inst.HasCategory)
	assert.Equal(t, int32(5), inst.Category)
	inst, err = ds.Instance("a", "y")
	require.NoError(t, err)
	assert.False(t, inst.HasCategory)

	noCategories, err := Build(newObservations("a", "x"), nil)
	require.NoError(t, err)
	assert.False(t, noCategories.HasCategories())
}

func TestRegistryErrors(t *testing.T) {
	ds, err := Build(newObservations("a", "x"), nil)
	require.NoError(t, err)
	_, err = ds.Registry().NameToId(UserNamespace, "x")
	var nameErr *UnknownNameError
	assert.True(t, errors.As(err, &nameErr))
	assert.Equal(t, UserNamespace, nameErr.Namespace)
	_, err = ds.Registry().IdToName(ItemNamespace, 0)
	var idErr *UnknownIdError
	assert.True(t, errors.As(err, &idErr))
	assert.Equal(t, ItemNamespace, idErr.Namespace)
	name, err := ds.Registry().IdToName(ItemNamespace, 1)
	assert.NoError(t, err)
	assert.Equal(t, "x", name)
	_, err = ds.Registry().NameToId(CategoryNamespace, "c")
	assert.True(t, errors.As(err, &nameErr))
}

func TestInstances(t *testing.T) {
	ds, err := Build(newObservations("b", "y", "a", "y", "b", "x", "a", "x", "a", "x"), nil)
	require.NoError(t, err)
	assert.Equal(t, []libfm.Instance{
		libfm.NewInstance(0, 2, 2),
		libfm.NewInstance(0, 3, 1),
		libfm.NewInstance(1, 2, 1),
		libfm.NewInstance(1, 3, 1),
	}, ds.Instances())

	inst, err := ds.Instance("a", "y")
	require.NoError(t, err)
	assert.False(t, inst.IsUnknown())

	ds, err = Build(newObservations("a", "x", "b", "y"), nil)
	require.NoError(t, err)
	inst, err = ds.Instance("a", "y")
	require.NoError(t, err)
	assert.True(t, inst.IsUnknown())
	_, err = ds.Instance("c", "y")
	assert.Error(t, err)
}
