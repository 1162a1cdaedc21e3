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

package common

import (
	"errors"
	"fmt"
)

var (
	// ErrInfeasible returned when no policy and slot combination can host a request in this pass.
	// The job stays pending, this is not a failure of the pass.
	ErrInfeasible = errors.New("no slot can satisfy the request in this pass")
	// ErrPassCommitted returned when a pass is asked to abort after a job was committed.
	ErrPassCommitted = errors.New("pass has committed allocations, cancellation is not supported")
)

// ConfigurationError is returned for a malformed calendar, quota or topology configuration.
// Index points at the offending entry when it is known, -1 otherwise.
type ConfigurationError struct {
	Source  string
	Index   int
	Message string
}

func (err *ConfigurationError) Error() string {
	if err.Index >= 0 {
		return fmt.Sprintf("invalid %s configuration at entry %d: %s", err.Source, err.Index, err.Message)
	}
	return fmt.Sprintf("invalid %s configuration: %s", err.Source, err.Message)
}

func NewConfigurationError(source string, index int, format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{
		Source:  source,
		Index:   index,
		Message: fmt.Sprintf(format, args...),
	}
}

// RequestError is returned when a job request cannot be interpreted: the job is rejected,
// the pass continues with the other jobs.
type RequestError struct {
	JobID   string
	Message string
}

func (err *RequestError) Error() string {
	return fmt.Sprintf("job %s rejected: %s", err.JobID, err.Message)
}

func NewRequestError(jobID string, format string, args ...interface{}) *RequestError {
	return &RequestError{
		JobID:   jobID,
		Message: fmt.Sprintf(format, args...),
	}
}

// InternalConsistencyError is returned when the slot chain invariants are broken.
// It is fatal to the current pass and always raised before a mutation is applied.
type InternalConsistencyError struct {
	Message string
}

func (err *InternalConsistencyError) Error() string {
	return "slot chain inconsistent: " + err.Message
}

func NewInternalConsistencyError(format string, args ...interface{}) *InternalConsistencyError {
	return &InternalConsistencyError{Message: fmt.Sprintf(format, args...)}
}

// IsConfigurationError reports whether any error in the chain is a ConfigurationError.
func IsConfigurationError(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}

// IsRequestError reports whether any error in the chain is a RequestError.
func IsRequestError(err error) bool {
	var target *RequestError
	return errors.As(err, &target)
}

// IsInternalConsistencyError reports whether any error in the chain is an InternalConsistencyError.
func IsInternalConsistencyError(err error) bool {
	var target *InternalConsistencyError
	return errors.As(err, &target)
}
