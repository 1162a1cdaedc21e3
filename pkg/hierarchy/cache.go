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
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"

	"github.com/kao-sched/kao-core/pkg/log"
)

const defaultCacheSize = 8

// Cache keeps built hierarchies keyed by inventory revision and level list,
// so passes over an unchanged inventory skip the rebuild.
type Cache struct {
	entries *lru.Cache
}

func NewCache(size int) *Cache {
	if size <= 0 {
		size = defaultCacheSize
	}
	// only fails for a non positive size
	entries, _ := lru.New(size)
	return &Cache{entries: entries}
}

// Get returns the cached hierarchy for the revision or builds and caches it.
// Build failures are not cached.
func (c *Cache) Get(revision uint64, inventory []Resource, levels []string) (*Hierarchy, error) {
	key := cacheKey(revision, levels)
	if value, ok := c.entries.Get(key); ok {
		return value.(*Hierarchy), nil
	}
	h, err := Build(inventory, levels)
	if err != nil {
		return nil, err
	}
	c.entries.Add(key, h)
	log.Log(log.Hierarchy).Debug("hierarchy cached",
		zap.Uint64("revision", revision),
		zap.Int("entries", c.entries.Len()))
	return h, nil
}

func (c *Cache) Len() int {
	return c.entries.Len()
}

func (c *Cache) Purge() {
	c.entries.Purge()
}

func cacheKey(revision uint64, levels []string) string {
	return strconv.FormatUint(revision, 10) + "|" + strings.Join(levels, ",")
}
