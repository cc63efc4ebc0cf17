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

import "fmt"

// EmptyDatasetError is returned by Build when no observation survives filtering.
type EmptyDatasetError struct {
	Total int // number of observations before filtering
}

func (e *EmptyDatasetError) Error() string {
	return fmt.Sprintf("empty dataset: none of %d observations is valid", e.Total)
}

// UnknownNameError is returned when a name is not registered in a namespace.
type UnknownNameError struct {
	Namespace Namespace
	Name      string
}

func (e *UnknownNameError) Error() string {
	return fmt.Sprintf("unknown %s name %q", e.Namespace, e.Name)
}

// UnknownIdError is returned when an id is not registered in a namespace.
type UnknownIdError struct {
	Namespace Namespace
	Id        int32
}

func (e *UnknownIdError) Error() string {
	return fmt.Sprintf("unknown %s id %d", e.Namespace, e.Id)
}
