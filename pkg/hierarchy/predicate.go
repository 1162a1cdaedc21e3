/*
 Licensed to the Apache Software Foundation (ASF) under one
 or more contributor license agreements.  See the NOTICE file
 distributed with this work for additional information
 regarding copyright ownership.  The ASF licenses this file
 to you under the Apache License, Version 2.0 (the
 "License"); you may not use this file except in compliance
 with the License.  You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

 Unless required by applicable law or agreed to in writing, software
 distributed under the License is distributed on an "AS IS" BASIS,
 WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 See the License for the specific language governing permissions and
 limitations under the License.
*/

package hierarchy

import (
	"sort"
	"strings"
)

// Predicate selects resources by their attributes.
type Predicate interface {
	Match(attributes map[string]string) bool
}

// PropertyMatch requires every named attribute to hold one of the listed values.
type PropertyMatch map[string][]string

func (p PropertyMatch) Match(attributes map[string]string) bool {
	for name, accepted := range p {
		value, ok := attributes[name]
		if !ok {
			return false
		}
		found := false
		for _, candidate := range accepted {
			if candidate == value {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (p PropertyMatch) String() string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+" IN ("+strings.Join(p[name], ",")+")")
	}
	return strings.Join(parts, " AND ")
}
