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
	"io"
	"os"
	"strconv"

	"github.com/gorse-io/fmeval/base"
	"github.com/juju/errors"
)

// CSVOptions describes the layout of an observation file.
type CSVOptions struct {
	Sep        string
	Header     bool
	UserColumn int
	ItemColumn int
}

// DefaultCSVOptions reads users from the first column and items from the second.
func DefaultCSVOptions() CSVOptions {
	return CSVOptions{Sep: ",", Header: true, UserColumn: 0, ItemColumn: 1}
}

// LoadCSV loads observations from a CSV file.
func LoadCSV(path string, opts CSVOptions) ([]Observation, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer file.Close()
	return ReadCSV(file, opts)
}

// ReadCSV reads observations from CSV rows. Sentinel ids are kept, Build
// drops them.
func ReadCSV(r io.Reader, opts CSVOptions) ([]Observation, error) {
	if opts.UserColumn < 0 || opts.ItemColumn < 0 {
		return nil, errors.NotValidf("columns (user=%d, item=%d)", opts.UserColumn, opts.ItemColumn)
	}
	var (
		observations []Observation
		rowErr       error
	)
	err := base.ReadLines(r, opts.Sep, func(i int, fields []string) bool {
		if opts.Header && i == 0 {
			return true
		}
		if len(fields) <= max(opts.UserColumn, opts.ItemColumn) {
			rowErr = errors.Errorf("line %d: expect at least %d fields, got %d",
				i+1, max(opts.UserColumn, opts.ItemColumn)+1, len(fields))
			return false
		}
		observations = append(observations, Observation{
			UserId: fields[opts.UserColumn],
			ItemId: fields[opts.ItemColumn],
		})
		return true
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	if rowErr != nil {
		return nil, rowErr
	}
	return observations, nil
}

// LoadCategoryCSV loads categorizations from a CSV file whose first column is
// the item and second column is the category.
func LoadCategoryCSV(path, sep string, header bool) ([]Categorization, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer file.Close()
	var (
		categorizations []Categorization
		rowErr          error
	)
	err = base.ReadLines(file, sep, func(i int, fields []string) bool {
		if header && i == 0 {
			return true
		}
		if len(fields) < 2 {
			rowErr = errors.Errorf("line %d: expect at least 2 fields, got %d", i+1, len(fields))
			return false
		}
		categorizations = append(categorizations, Categorization{ItemId: fields[0], Category: fields[1]})
		return true
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	if rowErr != nil {
		return nil, rowErr
	}
	return categorizations, nil
}

// DumpIndex writes the registry as rows of namespace, name and id.
func DumpIndex(w io.Writer, registry *Registry) error {
	var rows [][]string
	for _, ns := range []Namespace{UserNamespace, ItemNamespace, CategoryNamespace} {
		index := registry.Index(ns)
		for i, name := range index.Names() {
			rows = append(rows, []string{ns.String(), name, strconv.FormatInt(int64(index.Offset())+int64(i), 10)})
		}
	}
	return base.WriteRows(w, []string{"namespace", "name", "id"}, rows)
}
