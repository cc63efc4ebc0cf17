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

package libfm

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	assert.Equal(t, "4 2:1 7:1", Encode(NewInstance(2, 7, 4)))
	assert.Equal(t, "-1 2:1 7:1", Encode(NewInstance(2, 7, UnknownRating)))
	assert.Equal(t, "5 0:1 3:1 9:1", Encode(NewInstance(0, 3, 5).WithCategory(9)))
	// category 0 is a real category
	assert.Equal(t, "5 1:1 3:1 0:1", Encode(NewInstance(1, 3, 5).WithCategory(0)))
}

func TestDecode(t *testing.T) {
	inst, err := Decode(Encode(NewInstance(2, 7, 4)))
	require.NoError(t, err)
	assert.Equal(t, 4, inst.Rating)
	assert.Equal(t, int32(2), inst.UserId)
	assert.Equal(t, int32(7), inst.ItemId)
	assert.False(t, inst.HasCategory)

	inst, err = Decode("-1  3:1\t8:1 11:1 ")
	require.NoError(t, err)
	assert.True(t, inst.IsUnknown())
	assert.Equal(t, NewInstance(3, 8, UnknownRating).WithCategory(11), inst)
}

func TestDecodeMalformed(t *testing.T) {
	for _, line := range []string{
		"",
		"4",
		"4 2:1",
		"x 2:1 7:1",
		"4.5 2:1 7:1",
		"4 2 7:1",
		"4 2:1 7:0.5",
		"4 a:1 7:1",
		"4 -2:1 7:1",
		"4 2:1 7:1 9:1 10:1",
		"+4 2:1 7:1",
		"4 +2:1 7:1",
		"4 2:1 7:1 +9:1",
	} {
		_, err := Decode(line)
		var malformed *MalformedLineError
		assert.True(t, errors.As(err, &malformed), line)
	}
}

func TestWriteFile(t *testing.T) {
	instances := []Instance{
		NewInstance(0, 2, 1),
		NewInstance(1, 3, 5).WithCategory(4),
	}
	path := filepath.Join(t.TempDir(), "train.libfm")
	require.NoError(t, WriteFile(path, EncodeAll(instances)))
	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()
	lines, err := ReadLines(file)
	require.NoError(t, err)
	loaded, err := DecodeAll(lines)
	require.NoError(t, err)
	assert.Equal(t, instances, loaded)
}
