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
	"sort"
	"strings"

	"github.com/hashicorp/go-memdb"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/kao-sched/kao-core/pkg/hierarchy"
	"github.com/kao-sched/kao-core/pkg/log"
	"github.com/kao-sched/kao-core/pkg/quotas"
	"github.com/kao-sched/kao-core/pkg/scheduler/objects"
)

// MaxHistory is the number of finished assignments kept for node characterization.
const MaxHistory = 10000

type counterRecord struct {
	ID       string
	Key      quotas.Key
	Counters quotas.Counters
}

func counterID(key quotas.Key) string {
	return strings.Join([]string{key.Queue, key.Project, key.JobType, key.User}, "\x00")
}

// Store keeps the inventory, the assignments, the pending jobs and the quota counters.
// It is an in-memory database: every read happens through a Snapshot, a read transaction
// that never sees a later write.
// Objects stored must not be modified after they were handed to the store.
type Store struct {
	db *memdb.MemDB
}

func New() (*Store, error) {
	db, err := memdb.NewMemDB(storeSchema())
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &Store{db: db}, nil
}

// SetInventory replaces every resource and bumps the inventory revision.
func (s *Store) SetInventory(inventory []hierarchy.Resource) error {
	txn := s.db.Txn(true)
	defer txn.Abort()
	if _, err := txn.DeleteAll(resourcesTable, idIndex); err != nil {
		return errors.Wrap(err, "clearing inventory")
	}
	for i := range inventory {
		res := inventory[i]
		if err := txn.Insert(resourcesTable, &res); err != nil {
			return errors.Wrapf(err, "inserting resource %d", res.ID)
		}
	}
	revision, err := revisionOf(txn)
	if err != nil {
		return err
	}
	if err = txn.Insert(metaTable, &meta{Name: inventoryMeta, Revision: revision + 1}); err != nil {
		return errors.Wrap(err, "updating inventory revision")
	}
	txn.Commit()
	log.Log(log.Store).Info("inventory replaced",
		zap.Int("resources", len(inventory)),
		zap.Uint64("revision", revision+1))
	return nil
}

// Submit adds pending jobs, a job with a known id replaces the previous one.
func (s *Store) Submit(jobs ...*objects.Job) error {
	txn := s.db.Txn(true)
	defer txn.Abort()
	for _, job := range jobs {
		if err := txn.Insert(jobsTable, job); err != nil {
			return errors.Wrapf(err, "submitting job %s", job.ID)
		}
	}
	txn.Commit()
	return nil
}

// AddAssignments records running assignments without touching the pending jobs.
func (s *Store) AddAssignments(assignments ...*objects.Assignment) error {
	return s.Apply(assignments, nil, nil)
}

// Apply records the outcome of a pass in one transaction: placed jobs become assignments and leave
// the pending jobs, rejected jobs are dropped, counters replace the stored quota counters when not nil.
func (s *Store) Apply(placed []*objects.Assignment, rejected []string, counters quotas.Usage) error {
	txn := s.db.Txn(true)
	defer txn.Abort()
	for _, a := range placed {
		if err := txn.Insert(assignmentsTable, a); err != nil {
			return errors.Wrapf(err, "recording assignment of job %s", a.JobID)
		}
		if err := deleteJob(txn, a.JobID); err != nil {
			return err
		}
	}
	for _, id := range rejected {
		if err := deleteJob(txn, id); err != nil {
			return err
		}
	}
	if counters != nil {
		if _, err := txn.DeleteAll(countersTable, idIndex); err != nil {
			return errors.Wrap(err, "clearing quota counters")
		}
		for key, value := range counters {
			if err := txn.Insert(countersTable, &counterRecord{ID: counterID(key), Key: key, Counters: value}); err != nil {
				return errors.Wrap(err, "storing quota counters")
			}
		}
	}
	txn.Commit()
	return nil
}

func deleteJob(txn *memdb.Txn, id string) error {
	err := txn.Delete(jobsTable, &objects.Job{ID: id})
	if err != nil && !errors.Is(err, memdb.ErrNotFound) {
		return errors.Wrapf(err, "removing pending job %s", id)
	}
	return nil
}

// Expire moves the assignments that ended before now to the history and returns them.
// The history keeps the MaxHistory most recent assignments.
func (s *Store) Expire(now int64) ([]*objects.Assignment, error) {
	txn := s.db.Txn(true)
	defer txn.Abort()
	it, err := txn.Get(assignmentsTable, endIndex)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	var expired []*objects.Assignment
	for obj := it.Next(); obj != nil; obj = it.Next() {
		a := obj.(*objects.Assignment)
		if a.End >= now {
			break
		}
		expired = append(expired, a)
	}
	for _, a := range expired {
		if err = txn.Delete(assignmentsTable, a); err != nil {
			return nil, errors.Wrapf(err, "expiring assignment of job %s", a.JobID)
		}
		if err = txn.Insert(historyTable, a); err != nil {
			return nil, errors.Wrapf(err, "archiving assignment of job %s", a.JobID)
		}
	}
	if err = trimHistory(txn, MaxHistory); err != nil {
		return nil, err
	}
	txn.Commit()
	if len(expired) > 0 {
		log.Log(log.Store).Debug("assignments expired",
			zap.Int64("now", now),
			zap.Int("count", len(expired)))
	}
	return expired, nil
}

func trimHistory(txn *memdb.Txn, keep int) error {
	it, err := txn.GetReverse(historyTable, beginIndex)
	if err != nil {
		return errors.WithStack(err)
	}
	var old []interface{}
	seen := 0
	for obj := it.Next(); obj != nil; obj = it.Next() {
		seen++
		if seen > keep {
			old = append(old, obj)
		}
	}
	for _, obj := range old {
		if err = txn.Delete(historyTable, obj); err != nil {
			return errors.Wrap(err, "trimming history")
		}
	}
	return nil
}

// Snapshot opens a consistent read view of the store.
func (s *Store) Snapshot() (*Snapshot, error) {
	txn := s.db.Txn(false)
	revision, err := revisionOf(txn)
	if err != nil {
		return nil, err
	}
	return &Snapshot{txn: txn, Revision: revision}, nil
}

func revisionOf(txn *memdb.Txn) (uint64, error) {
	raw, err := txn.First(metaTable, idIndex, inventoryMeta)
	if err != nil {
		return 0, errors.Wrap(err, "reading inventory revision")
	}
	if raw == nil {
		return 0, nil
	}
	return raw.(*meta).Revision, nil
}

// Snapshot is a read only view of the store taken at one point in time.
type Snapshot struct {
	txn *memdb.Txn
	// Revision of the inventory, bumped on every inventory change
	Revision uint64
}

// Inventory returns the resources sorted by id.
func (sn *Snapshot) Inventory() ([]hierarchy.Resource, error) {
	it, err := sn.txn.Get(resourcesTable, idIndex)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	var out []hierarchy.Resource
	for obj := it.Next(); obj != nil; obj = it.Next() {
		out = append(out, *obj.(*hierarchy.Resource))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Assignments returns the assignments running during part of [begin, end], by start time.
func (sn *Snapshot) Assignments(begin, end int64) ([]*objects.Assignment, error) {
	it, err := sn.txn.LowerBound(assignmentsTable, endIndex, begin)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	var out []*objects.Assignment
	for obj := it.Next(); obj != nil; obj = it.Next() {
		a := obj.(*objects.Assignment)
		if a.Begin <= end {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Begin != out[j].Begin {
			return out[i].Begin < out[j].Begin
		}
		return out[i].JobID < out[j].JobID
	})
	return out, nil
}

// Assignment returns the running assignment of a job, nil when there is none.
func (sn *Snapshot) Assignment(jobID string) (*objects.Assignment, error) {
	raw, err := sn.txn.First(assignmentsTable, idIndex, jobID)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if raw == nil {
		return nil, nil
	}
	return raw.(*objects.Assignment), nil
}

// PendingJobs returns the pending jobs in submission order.
func (sn *Snapshot) PendingJobs() ([]*objects.Job, error) {
	it, err := sn.txn.Get(jobsTable, submittedIndex)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	var out []*objects.Job
	for obj := it.Next(); obj != nil; obj = it.Next() {
		out = append(out, obj.(*objects.Job))
	}
	return out, nil
}

// Counters returns the stored quota counters.
func (sn *Snapshot) Counters() (quotas.Usage, error) {
	it, err := sn.txn.Get(countersTable, idIndex)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	out := make(quotas.Usage)
	for obj := it.Next(); obj != nil; obj = it.Next() {
		rec := obj.(*counterRecord)
		out[rec.Key] = rec.Counters
	}
	return out, nil
}
