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
	"slices"

	"github.com/gorse-io/fmeval/common/libfm"
	"github.com/samber/lo"
)

// MaxRating is the saturation point of accumulated ratings.
const MaxRating = 5

// Observation is an interaction between a user and an item.
type Observation struct {
	UserId string
	ItemId string
}

// Categorization assigns an item to a category.
type Categorization struct {
	ItemId   string
	Category string
}

// IsValidId returns false for empty ids and the "-1" placeholder.
func IsValidId(id string) bool {
	return id != "" && id != "-1"
}

type Namespace int

const (
	UserNamespace Namespace = iota
	ItemNamespace
	CategoryNamespace
)

func (ns Namespace) String() string {
	switch ns {
	case UserNamespace:
		return "user"
	case ItemNamespace:
		return "item"
	case CategoryNamespace:
		return "category"
	default:
		return "unknown"
	}
}

// Registry maps names of users, items and categories to disjoint id ranges.
// Users start from 0, items follow users and categories follow items.
type Registry struct {
	users      *Index
	items      *Index
	categories *Index
}

func (r *Registry) Index(ns Namespace) *Index {
	switch ns {
	case UserNamespace:
		return r.users
	case ItemNamespace:
		return r.items
	case CategoryNamespace:
		return r.categories
	default:
		return nil
	}
}

// Count returns the number of names in a namespace.
func (r *Registry) Count(ns Namespace) int {
	return int(r.Index(ns).Len())
}

func (r *Registry) NameToId(ns Namespace, name string) (int32, error) {
	if id, ok := r.Index(ns).ToNumber(name); ok {
		return id, nil
	}
	return 0, &UnknownNameError{Namespace: ns, Name: name}
}

func (r *Registry) IdToName(ns Namespace, id int32) (string, error) {
	if name, ok := r.Index(ns).ToName(id); ok {
		return name, nil
	}
	return "", &UnknownIdError{Namespace: ns, Id: id}
}

// Store holds saturated ratings and item categories.
type Store struct {
	ratings    map[string]map[string]int
	categories map[string]string
	count      int
}

// Rating returns the rating of a user to an item.
func (s *Store) Rating(userId, itemId string) (int, bool) {
	rating, exist := s.ratings[userId][itemId]
	return rating, exist
}

// Category returns the category of an item.
func (s *Store) Category(itemId string) (string, bool) {
	category, exist := s.categories[itemId]
	return category, exist
}

// Count returns the number of rated user-item pairs.
func (s *Store) Count() int {
	return s.count
}

// UserItems returns items rated by a user.
func (s *Store) UserItems(userId string) []string {
	return lo.Keys(s.ratings[userId])
}

// Dataset is the immutable result of a data load.
type Dataset struct {
	registry *Registry
	store    *Store
}

// Build creates a dataset from observations and optional categorizations in
// a single pass. Invalid observations are dropped, so are categorizations of
// unobserved items. The last categorization of an item wins.
func Build(observations []Observation, categorizations []Categorization) (*Dataset, error) {
	store := &Store{
		ratings:    make(map[string]map[string]int),
		categories: make(map[string]string),
	}
	var userNames, itemNames []string
	for _, o := range observations {
		if !IsValidId(o.UserId) || !IsValidId(o.ItemId) {
			continue
		}
		items, exist := store.ratings[o.UserId]
		if !exist {
			items = make(map[string]int)
			store.ratings[o.UserId] = items
			userNames = append(userNames, o.UserId)
		}
		rating, exist := items[o.ItemId]
		if !exist {
			store.count++
			itemNames = append(itemNames, o.ItemId)
		}
		items[o.ItemId] = min(rating+1, MaxRating)
	}
	if store.count == 0 {
		return nil, &EmptyDatasetError{Total: len(observations)}
	}

	registry := &Registry{}
	registry.users = NewIndex(userNames, 0)
	registry.items = NewIndex(itemNames, registry.users.End())
	for _, c := range categorizations {
		if !IsValidId(c.ItemId) || !IsValidId(c.Category) {
			continue
		}
		if _, exist := registry.items.ToNumber(c.ItemId); exist {
			store.categories[c.ItemId] = c.Category
		}
	}
	registry.categories = NewIndex(lo.Values(store.categories), registry.items.End())
	return &Dataset{registry: registry, store: store}, nil
}

func (d *Dataset) Registry() *Registry {
	return d.registry
}

func (d *Dataset) Store() *Store {
	return d.store
}

// HasCategories returns true if any item is assigned to a category.
func (d *Dataset) HasCategories() bool {
	return d.registry.categories.Len() > 0
}

// Users returns user names in id order.
func (d *Dataset) Users() []string {
	return d.registry.users.Names()
}

// Items returns item names in id order.
func (d *Dataset) Items() []string {
	return d.registry.items.Names()
}

// Categories returns category names in id order.
func (d *Dataset) Categories() []string {
	return d.registry.categories.Names()
}

// Instance creates the instance of a user-item pair, with the rating from the
// store or UnknownRating if the pair is unobserved.
func (d *Dataset) Instance(userId, itemId string) (libfm.Instance, error) {
	userIndex, err := d.registry.NameToId(UserNamespace, userId)
	if err != nil {
		return libfm.Instance{}, err
	}
	itemIndex, err := d.registry.NameToId(ItemNamespace, itemId)
	if err != nil {
		return libfm.Instance{}, err
	}
	rating, exist := d.store.Rating(userId, itemId)
	if !exist {
		rating = libfm.UnknownRating
	}
	inst := libfm.NewInstance(userIndex, itemIndex, rating)
	if category, exist := d.store.Category(itemId); exist {
		categoryIndex, err := d.registry.NameToId(CategoryNamespace, category)
		if err != nil {
			return libfm.Instance{}, err
		}
		inst = inst.WithCategory(categoryIndex)
	}
	return inst, nil
}

// Instances returns all observed instances ordered by user id then item id.
func (d *Dataset) Instances() []libfm.Instance {
	instances := make([]libfm.Instance, 0, d.store.count)
	for _, userId := range d.registry.users.Names() {
		itemIds := d.store.UserItems(userId)
		slices.SortFunc(itemIds, func(a, b string) int {
			ia, _ := d.registry.items.ToNumber(a)
			ib, _ := d.registry.items.ToNumber(b)
			return int(ia - ib)
		})
		for _, itemId := range itemIds {
			// names come from the registry, lookups cannot fail
			inst, _ := d.Instance(userId, itemId)
			instances = append(instances, inst)
		}
	}
	return instances
}
