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

// Package libfm converts evaluation instances to and from the libFM line format:
//
//	<rating> <user>:1 <item>:1 [<category>:1]
package libfm

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/juju/errors"
	"github.com/samber/lo"
)

// UnknownRating is the rating written for user-item pairs without observation.
const UnknownRating = -1

// Instance is one evaluation unit.
type Instance struct {
	Rating      int
	UserId      int32
	ItemId      int32
	Category    int32
	HasCategory bool
}

// NewInstance creates an instance without category.
func NewInstance(userId, itemId int32, rating int) Instance {
	return Instance{Rating: rating, UserId: userId, ItemId: itemId}
}

// WithCategory returns a copy of the instance assigned to a category.
func (inst Instance) WithCategory(categoryId int32) Instance {
	inst.Category = categoryId
	inst.HasCategory = true
	return inst
}

// IsUnknown returns true if the rating of the instance is unknown.
func (inst Instance) IsUnknown() bool {
	return inst.Rating == UnknownRating
}

// MalformedLineError is returned when a line does not follow the libFM format.
type MalformedLineError struct {
	Line   string
	Reason string
}

func (e *MalformedLineError) Error() string {
	return fmt.Sprintf("malformed libFM line %q: %s", e.Line, e.Reason)
}

// Encode renders an instance as a libFM line.
func Encode(inst Instance) string {
	var builder strings.Builder
	builder.WriteString(strconv.Itoa(inst.Rating))
	writeFeature(&builder, inst.UserId)
	writeFeature(&builder, inst.ItemId)
	if inst.HasCategory {
		writeFeature(&builder, inst.Category)
	}
	return builder.String()
}

func writeFeature(builder *strings.Builder, id int32) {
	builder.WriteByte(' ')
	builder.WriteString(strconv.FormatInt(int64(id), 10))
	builder.WriteString(":1")
}

// EncodeAll renders instances as libFM lines.
func EncodeAll(instances []Instance) []string {
	return lo.Map(instances, func(inst Instance, _ int) string {
		return Encode(inst)
	})
}

// Decode parses a libFM line produced by Encode.
func Decode(line string) (Instance, error) {
	fields := strings.Fields(line)
	if len(fields) < 3 || len(fields) > 4 {
		return Instance{}, &MalformedLineError{Line: line, Reason: fmt.Sprintf("expect 3 or 4 fields, got %d", len(fields))}
	}
	var (
		inst Instance
		err  error
	)
	if strings.HasPrefix(fields[0], "+") {
		return Instance{}, &MalformedLineError{Line: line, Reason: "invalid rating " + strconv.Quote(fields[0])}
	}
	if inst.Rating, err = strconv.Atoi(fields[0]); err != nil {
		return Instance{}, &MalformedLineError{Line: line, Reason: "invalid rating " + strconv.Quote(fields[0])}
	}
	if inst.UserId, err = decodeFeature(line, fields[1]); err != nil {
		return Instance{}, err
	}
	if inst.ItemId, err = decodeFeature(line, fields[2]); err != nil {
		return Instance{}, err
	}
	if len(fields) == 4 {
		categoryId, err := decodeFeature(line, fields[3])
		if err != nil {
			return Instance{}, err
		}
		inst = inst.WithCategory(categoryId)
	}
	return inst, nil
}

func decodeFeature(line, field string) (int32, error) {
	key, value, found := strings.Cut(field, ":")
	if !found || value != "1" {
		return 0, &MalformedLineError{Line: line, Reason: "invalid feature " + strconv.Quote(field)}
	}
	id, err := strconv.ParseInt(key, 10, 32)
	if err != nil || id < 0 || strings.HasPrefix(key, "+") {
		return 0, &MalformedLineError{Line: line, Reason: "invalid feature id " + strconv.Quote(key)}
	}
	return int32(id), nil
}

// DecodeAll parses libFM lines.
func DecodeAll(lines []string) ([]Instance, error) {
	instances := make([]Instance, 0, len(lines))
	for _, line := range lines {
		inst, err := Decode(line)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	return instances, nil
}

// WriteFile writes lines to a file, one line per instance.
func WriteFile(path string, lines []string) error {
	file, err := os.Create(path)
	if err != nil {
		return errors.Trace(err)
	}
	writer := bufio.NewWriter(file)
	for _, line := range lines {
		if _, err = writer.WriteString(line); err != nil {
			_ = file.Close()
			return errors.Trace(err)
		}
		if err = writer.WriteByte('\n'); err != nil {
			_ = file.Close()
			return errors.Trace(err)
		}
	}
	if err = writer.Flush(); err != nil {
		_ = file.Close()
		return errors.Trace(err)
	}
	return errors.Trace(file.Close())
}

// ReadLines reads non-empty lines.
func ReadLines(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if len(line) > 0 {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Trace(err)
	}
	return lines, nil
}
