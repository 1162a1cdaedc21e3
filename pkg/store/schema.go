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

package store

import (
	"encoding/binary"

	"github.com/hashicorp/go-memdb"
	"github.com/pkg/errors"

	"github.com/kao-sched/kao-core/pkg/scheduler/objects"
)

const (
	resourcesTable   = "resources"
	assignmentsTable = "assignments"
	historyTable     = "history"
	jobsTable        = "jobs"
	countersTable    = "counters"
	metaTable        = "meta"

	idIndex        = "id"        // primary key of every table
	beginIndex     = "begin"     // assignments and history by start time
	endIndex       = "end"       // assignments by end time
	submittedIndex = "submitted" // pending jobs in submission order
)

// timeIndex indexes an int64 time field, big endian with the sign bit flipped so that
// the byte order is the numeric order.
type timeIndex struct {
	field func(obj interface{}) (int64, bool)
}

func (ti *timeIndex) FromArgs(args ...interface{}) ([]byte, error) {
	if len(args) != 1 {
		return nil, errors.New("must provide exactly one argument")
	}
	val, ok := args[0].(int64)
	if !ok {
		return nil, errors.Errorf("expected int64, but got %T", args[0])
	}
	return encodeTime(val), nil
}

func (ti *timeIndex) FromObject(raw interface{}) (bool, []byte, error) {
	val, ok := ti.field(raw)
	if !ok {
		return false, nil, errors.Errorf("unexpected object %T", raw)
	}
	return true, encodeTime(val), nil
}

func encodeTime(val int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(val)^(1<<63))
	return buf
}

func assignmentBegin(raw interface{}) (int64, bool) {
	a, ok := raw.(*objects.Assignment)
	if !ok {
		return 0, false
	}
	return a.Begin, true
}

func assignmentEnd(raw interface{}) (int64, bool) {
	a, ok := raw.(*objects.Assignment)
	if !ok {
		return 0, false
	}
	return a.End, true
}

func jobSubmitted(raw interface{}) (int64, bool) {
	j, ok := raw.(*objects.Job)
	if !ok {
		return 0, false
	}
	return j.Submitted, true
}

// meta holds the revision of the inventory.
type meta struct {
	Name     string
	Revision uint64
}

const inventoryMeta = "inventory"

func storeSchema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			resourcesTable: {
				Name: resourcesTable,
				Indexes: map[string]*memdb.IndexSchema{
					idIndex: {
						Name:    idIndex,
						Unique:  true,
						Indexer: &memdb.IntFieldIndex{Field: "ID"},
					},
				},
			},
			assignmentsTable: assignmentsSchema(assignmentsTable, true),
			historyTable:     assignmentsSchema(historyTable, false),
			jobsTable: {
				Name: jobsTable,
				Indexes: map[string]*memdb.IndexSchema{
					idIndex: {
						Name:    idIndex,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
					submittedIndex: {
						Name:    submittedIndex,
						Unique:  false,
						Indexer: &timeIndex{field: jobSubmitted},
					},
				},
			},
			countersTable: {
				Name: countersTable,
				Indexes: map[string]*memdb.IndexSchema{
					idIndex: {
						Name:    idIndex,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
				},
			},
			metaTable: {
				Name: metaTable,
				Indexes: map[string]*memdb.IndexSchema{
					idIndex: {
						Name:    idIndex,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "Name"},
					},
				},
			},
		},
	}
}

func assignmentsSchema(name string, withEnd bool) *memdb.TableSchema {
	indexes := map[string]*memdb.IndexSchema{
		idIndex: {
			Name:    idIndex,
			Unique:  true,
			Indexer: &memdb.StringFieldIndex{Field: "JobID"},
		},
		beginIndex: {
			Name:    beginIndex,
			Unique:  false,
			Indexer: &timeIndex{field: assignmentBegin},
		},
	}
	if withEnd {
		indexes[endIndex] = &memdb.IndexSchema{
			Name:    endIndex,
			Unique:  false,
			Indexer: &timeIndex{field: assignmentEnd},
		}
	}
	return &memdb.TableSchema{
		Name:    name,
		Indexes: indexes,
	}
}
