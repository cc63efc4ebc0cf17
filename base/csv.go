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

package base

import (
	"bufio"
	"io"
	"strings"

	"github.com/juju/errors"
	"github.com/samber/lo"
)

// Escape text for csv.
func Escape(text string) string {
	// check if need escape
	if !strings.Contains(text, ",") &&
		!strings.Contains(text, "\"") &&
		!strings.Contains(text, "\n") &&
		!strings.Contains(text, "\r") {
		return text
	}
	// start to encode
	builder := strings.Builder{}
	builder.WriteRune('"')
	for _, c := range text {
		if c == '"' {
			builder.WriteString("\"\"")
		} else {
			builder.WriteRune(c)
		}
	}
	builder.WriteRune('"')
	return builder.String()
}

// JoinRow escapes fields and joins them by comma.
func JoinRow(fields ...string) string {
	return strings.Join(lo.Map(fields, func(field string, _ int) string {
		return Escape(field)
	}), ",")
}

// WriteRows writes a header and rows as csv.
func WriteRows(w io.Writer, header []string, rows [][]string) error {
	writer := bufio.NewWriter(w)
	if _, err := writer.WriteString(JoinRow(header...) + "\n"); err != nil {
		return errors.Trace(err)
	}
	for _, row := range rows {
		if _, err := writer.WriteString(JoinRow(row...) + "\n"); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(writer.Flush())
}

// ReadLines parse fields of each line for csv file. The handler receives the
// line number and fields, and stops reading by returning false.
func ReadLines(r io.Reader, sep string, handler func(int, []string) bool) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineCount := 0               // line number of current position
	fields := make([]string, 0)  // fields for current line
	builder := strings.Builder{} // string builder for current field
	quoted := false              // whether current position in quote
	for sc.Scan() {
		lineStr := sc.Text()
		line := []rune(lineStr)
		// start of line
		if quoted {
			builder.WriteString("\r\n")
		}
		for i := 0; i < len(line); i++ {
			if string(line[i]) == sep && !quoted {
				// end of field
				fields = append(fields, builder.String())
				builder.Reset()
			} else if line[i] == '"' {
				if quoted {
					if i+1 >= len(line) || line[i+1] != '"' {
						// end of quoted
						quoted = false
					} else {
						i++
						builder.WriteRune('"')
					}
				} else {
					// start of quoted
					quoted = true
				}
			} else {
				builder.WriteRune(line[i])
			}
		}
		// end of line
		if !quoted {
			fields = append(fields, builder.String())
			builder.Reset()
			if !handler(lineCount, fields) {
				return nil
			}
			fields = []string{}
		}
		lineCount++
	}
	return errors.Trace(sc.Err())
}
