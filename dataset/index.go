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

	"github.com/samber/lo"
)

// Index manages the map between names and ids of one namespace. Ids are
// assigned to the lexicographically sorted distinct names, consecutively
// starting from the offset of the namespace.
type Index struct {
	offset  int32
	numbers map[string]int32 // name -> id
	names   []string         // id - offset -> name
}

// NewIndex creates an index over the distinct values of names. The result
// does not depend on the order or multiplicity of names.
func NewIndex(names []string, offset int32) *Index {
	sorted := lo.Uniq(names)
	slices.Sort(sorted)
	idx := &Index{
		offset:  offset,
		numbers: make(map[string]int32, len(sorted)),
		names:   sorted,
	}
	for i, name := range sorted {
		idx.numbers[name] = offset + int32(i)
	}
	return idx
}

// Len returns the number of indexed names.
func (idx *Index) Len() int32 {
	if idx == nil {
		return 0
	}
	return int32(len(idx.names))
}

// Offset returns the first id of the index.
func (idx *Index) Offset() int32 {
	if idx == nil {
		return 0
	}
	return idx.offset
}

// End returns the id following the last id of the index.
func (idx *Index) End() int32 {
	return idx.Offset() + idx.Len()
}

// ToNumber converts a name to its id.
func (idx *Index) ToNumber(name string) (int32, bool) {
	if idx == nil {
		return 0, false
	}
	id, exist := idx.numbers[name]
	return id, exist
}

// ToName converts an id to its name.
func (idx *Index) ToName(id int32) (string, bool) {
	if idx == nil || id < idx.offset || id >= idx.End() {
		return "", false
	}
	return idx.names[id-idx.offset], true
}

// Names returns all names in id order.
func (idx *Index) Names() []string {
	if idx == nil {
		return nil
	}
	return slices.Clone(idx.names)
}
