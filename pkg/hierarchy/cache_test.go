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
	"testing"

	"gotest.tools/v3/assert"
)

func TestCache(t *testing.T) {
	cache := NewCache(2)
	inv := testInventory(2, 1, 2)
	first, err := cache.Get(1, inv, testLevels)
	assert.NilError(t, err)
	again, err := cache.Get(1, nil, testLevels)
	assert.NilError(t, err)
	assert.Assert(t, first == again, "same revision must hit the cache")
	assert.Equal(t, 1, cache.Len())

	other, err := cache.Get(1, inv, []string{"network_address"})
	assert.NilError(t, err)
	assert.Assert(t, other != first, "levels are part of the key")

	bad := testInventory(1, 1, 1)
	delete(bad[0].Attributes, "cpu")
	_, err = cache.Get(2, bad, testLevels)
	assert.ErrorContains(t, err, "no value for level")
	assert.Equal(t, 2, cache.Len())

	_, err = cache.Get(3, inv, testLevels)
	assert.NilError(t, err)
	assert.Equal(t, 2, cache.Len(), "least recently used entry evicted")
	cache.Purge()
	assert.Equal(t, 0, cache.Len())
	assert.Equal(t, 0, NewCache(0).Len())
}
