//
// Copyright (c) 2014-2019 Cesanta Software Limited
// All rights reserved
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

package updater

import (
	"fmt"
)

// PlanError indicates that the manifest cannot be turned into a partition
// plan: a required part is absent or its descriptor is unusable.  No flash
// has been touched when a PlanError is returned.
type PlanError struct {
	Part   string
	Reason string
}

func (e *PlanError) Error() string {
	return fmt.Sprintf("part \"%s\" is missing: %s", e.Part, e.Reason)
}

// VerifyIOError indicates a flash read failure during checksum verification.
type VerifyIOError struct {
	Addr uint32
	Len  int
	Err  error
}

func (e *VerifyIOError) Error() string {
	return fmt.Sprintf("failed to read %d bytes from 0x%x: %s",
		e.Len, e.Addr, e.Err.Error())
}

// EraseError indicates a flash erase primitive failure.
type EraseError struct {
	Addr uint32
	Err  error
}

func (e *EraseError) Error() string {
	return fmt.Sprintf("failed to erase flash @ 0x%x: %s",
		e.Addr, e.Err.Error())
}

// WriteError indicates a flash write primitive failure.
type WriteError struct {
	Addr uint32
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("failed to write to flash @ 0x%x: %s",
		e.Addr, e.Err.Error())
}

// ChecksumError indicates that a fully written partition does not match its
// expected digest: either the transport corrupted the content or the write
// primitive is at fault.
type ChecksumError struct {
	Name string
	Want string
	Got  string
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("invalid checksum for \"%s\": expected %s, got %s",
		e.Name, e.Want, e.Got)
}

// ContractError indicates a call that is invalid in the session's current
// state, or stream framing the session cannot accept.  It signals a
// programmer or transport error and is never retried.
type ContractError struct {
	Op     string
	Reason string
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

// FinalizeError indicates that a required partition was not completely
// written when the session was finalized.  The boot configuration is left
// untouched.
type FinalizeError struct {
	Part string
}

func (e *FinalizeError) Error() string {
	return fmt.Sprintf("missing %s part", e.Part)
}
