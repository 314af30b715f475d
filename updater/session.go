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

// Package updater implements the core of the over-the-air update flow for a
// dual-slot device with external serial flash: it plans partition targets
// from a manifest, streams file contents into the inactive slot with
// erase-ahead and write alignment handled, gates everything on SHA-1
// digests, and switches the boot configuration to the new slot on success.
//
// The whole flow is single-threaded and synchronous.  An external delivery
// loop drives one Session per update attempt through Begin, then
// FileBegin/FileData/FileEnd per incoming file, then Finalize.  Any fatal
// error aborts the session; the boot configuration is only ever touched by
// a successful Finalize.
package updater

import (
	"hash"

	log "github.com/sirupsen/logrus"

	"github.com/dut3062796s/mongoose-os/updater/bootcfg"
	"github.com/dut3062796s/mongoose-os/updater/manifest"
	"github.com/dut3062796s/mongoose-os/updater/spiflash"
	"github.com/dut3062796s/mongoose-os/util"
)

// MinBlockSize is the smallest chunk worth writing mid-file.  Shorter
// chunks are refused (FileData consumes 0 bytes) so the delivery loop
// accumulates and retries, amortizing flash write overhead.  The file tail
// is exempt.
const MinBlockSize = 2048

// Action tells the delivery loop what to do with an incoming file.
type Action int

const (
	// ActionProcess: deliver the file's bytes via FileData/FileEnd.
	ActionProcess Action = iota

	// ActionSkip: drain the file without delivering it.
	ActionSkip

	// ActionAbort: the session is dead; stop the delivery loop.
	ActionAbort
)

type sessionState int

const (
	stateInitial sessionState = iota
	statePlanned              // plan built, between files
	stateWriting              // a file is being streamed into flash
	stateFinalized
	stateAborted
)

// Session is one update attempt.  It owns the partition plan, the inactive
// slot selection and the per-file write progress.  A session is not safe
// for concurrent use and is discarded after Finalize or the first fatal
// error.
type Session struct {
	dev   spiflash.Device
	store bootcfg.Store
	ver   verifier

	slot  int
	fw    *Partition
	fs    *Partition
	fsDir *Partition

	state   sessionState
	current *Partition
	w       *flashWriter

	fileSize      int
	fileProcessed int

	statusMsg string
}

// Option adjusts a Session at creation time.
type Option func(*Session)

// WithDigest replaces the digest primitive used for checksum verification.
func WithDigest(newDigest func() hash.Hash) Option {
	return func(s *Session) {
		s.ver.NewDigest = newDigest
	}
}

// WithYield installs a cooperative checkpoint invoked between bounded reads
// during long checksum verifications.
func WithYield(yield func()) Option {
	return func(s *Session) {
		s.ver.Yield = yield
	}
}

// NewSession creates an update session over the given flash device and boot
// configuration store.
func NewSession(dev spiflash.Device, store bootcfg.Store,
	opts ...Option) *Session {

	s := &Session{
		dev:   dev,
		store: store,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// StatusMsg returns a human-readable description of the session's most
// recent terminal condition, for operator display.
func (s *Session) StatusMsg() string {
	return s.statusMsg
}

// Slot returns the inactive slot chosen for this session.  Valid after
// Begin.
func (s *Session) Slot() int {
	return s.slot
}

func (s *Session) abort(msg string, err error) error {
	s.state = stateAborted
	s.statusMsg = msg
	return err
}

// Begin reads the boot configuration, selects the inactive slot and builds
// the partition plan from the manifest.  The firmware part is mandatory;
// the filesystem part is mandatory unless the manifest carries the
// filesystem-directory variant instead.  No flash is touched.
func (s *Session) Begin(m manifest.Manifest) error {
	if s.state != stateInitial {
		return s.abort("Failed to update file", &ContractError{
			Op:     "Begin",
			Reason: "session already started",
		})
	}

	cfg, err := s.store.Load()
	if err != nil {
		return s.abort("Failed to get boot config", err)
	}

	if cfg.CurrentSlot == 0 {
		s.slot = 1
	} else {
		s.slot = 0
	}
	log.Debugf("Slot to write: %d", s.slot)

	devSize := s.dev.Size()

	fwDesc, ok := m.Parts[PartNameFw]
	if !ok {
		return s.abort("Firmware part is missing",
			&PlanError{Part: PartNameFw, Reason: "not in manifest"})
	}
	s.fw, err = planPartition(PartNameFw, fwDesc, s.slot, devSize)
	if err != nil {
		return s.abort("Firmware part is missing", err)
	}

	if fsDesc, ok := m.Parts[PartNameFS]; ok {
		s.fs, err = planPartition(PartNameFS, fsDesc, s.slot, devSize)
		if err != nil {
			return s.abort("FS part is missing", err)
		}
	}
	if fsDirDesc, ok := m.Parts[PartNameFSDir]; ok {
		s.fsDir, err = planPartition(PartNameFSDir, fsDirDesc, s.slot, devSize)
		if err != nil {
			return s.abort("FS part is missing", err)
		}
	}
	if s.fs == nil && s.fsDir == nil {
		return s.abort("FS part is missing",
			&PlanError{Part: PartNameFS, Reason: "not in manifest"})
	}

	s.state = statePlanned
	return nil
}

// findPart resolves an incoming file name against the plan's source file
// names.  The filesystem-directory part is deliberately absent here: it is
// delivered outside the per-file path and completed via FSDirComplete.
func (s *Session) findPart(name string) *Partition {
	for _, p := range []*Partition{s.fw, s.fs} {
		if p != nil && p.Src == name {
			return p
		}
	}
	return nil
}

// FileBegin starts delivery of one file from the update stream.  Files that
// resolve to no planned partition are skipped, as are partitions already
// written and partitions whose existing flash content already matches the
// expected digest.
func (s *Session) FileBegin(name string, size int) (Action, error) {
	if s.state != statePlanned {
		return ActionAbort, s.abort("Failed to update file", &ContractError{
			Op:     "FileBegin",
			Reason: "no partition plan, or a file is already in progress",
		})
	}

	log.Debugf("File name=%s size=%d", name, size)

	part := s.findPart(name)
	if part == nil {
		// Only fw & fs files are needed; drain the rest.
		return ActionSkip, nil
	}

	if part.Written {
		log.Debugf("Skipping %s", name)
		return ActionSkip, nil
	}

	if size < 0 || uint64(part.Addr)+uint64(size) > uint64(s.dev.Size()) {
		return ActionAbort, s.abort("Failed to update file", &ContractError{
			Op:     "FileBegin",
			Reason: "declared size extends past the end of flash",
		})
	}
	part.Size = size

	// See if current content is the same.
	match, err := s.ver.verify(s.dev, part.Addr, size, part.Digest)
	if err != nil {
		return ActionAbort, s.abort("Failed to update file", err)
	}
	if match {
		util.StatusMessage(util.VERBOSITY_DEFAULT,
			"Digest matched, skipping %s %d @ 0x%x (%s)\n",
			name, size, part.Addr, part.Digest)
		part.Written = true
		return ActionSkip, nil
	}

	util.StatusMessage(util.VERBOSITY_DEFAULT,
		"Writing %s %d @ 0x%x (%s)\n", name, size, part.Addr, part.Digest)

	s.current = part
	s.w = newFlashWriter(s.dev, part.Addr, size)
	s.fileSize = size
	s.fileProcessed = 0
	s.state = stateWriting

	return ActionProcess, nil
}

// FileData consumes a chunk of the current file and returns the number of
// bytes consumed.  A short chunk mid-file consumes 0 bytes: the caller is
// expected to accumulate more data and retry.  The 4-byte program width is
// satisfied by writing the largest aligned prefix and, once only the 1-3
// byte file tail remains, one final quad padded with the erased-flash
// value.
func (s *Session) FileData(name string, data []byte) (int, error) {
	if s.state != stateWriting || s.current == nil ||
		s.current.Src != name {

		return 0, s.abort("Failed to update file", &ContractError{
			Op:     "FileData",
			Reason: "no file in progress",
		})
	}

	remaining := s.fileSize - s.fileProcessed
	log.Debugf("File size: %d, received: %d to_write: %d",
		s.fileSize, s.fileProcessed, len(data))

	if len(data) < MinBlockSize && remaining > MinBlockSize {
		return 0, nil
	}

	n := util.Min(len(data), remaining)
	aligned := n &^ (spiflash.WriteAlign - 1)

	consumed := 0
	if aligned > 0 {
		if err := s.w.program(data[:aligned]); err != nil {
			return 0, s.abortFlash(err)
		}
		consumed += aligned
	}

	rest := remaining - aligned
	if rest > 0 && rest < spiflash.WriteAlign && n-aligned >= rest {
		// File size is not aligned to 4; pad the tail with the erased
		// value so the quad write is inert past end-of-file.
		quad := [spiflash.WriteAlign]byte{
			spiflash.ErasedByte, spiflash.ErasedByte,
			spiflash.ErasedByte, spiflash.ErasedByte,
		}
		copy(quad[:], data[aligned:aligned+rest])
		log.Debugf("Writing padded %d bytes @%X", rest, s.w.addr)
		if err := s.w.program(quad[:]); err != nil {
			return 0, s.abortFlash(err)
		}
		consumed += rest
	}

	s.fileProcessed += consumed
	return consumed, nil
}

func (s *Session) abortFlash(err error) error {
	switch err.(type) {
	case *EraseError:
		return s.abort("Failed to erase flash", err)
	case *WriteError:
		return s.abort("Failed to write to flash", err)
	default:
		return s.abort("Failed to update file", err)
	}
}

// FileEnd completes delivery of the current file.  The trailing slice must
// be empty: FileData consumes every byte of the file by the time the stream
// ends.  The just-written range is verified against the expected digest
// before the partition is marked written.
func (s *Session) FileEnd(name string, tail []byte) error {
	if s.state != stateWriting || s.current == nil ||
		s.current.Src != name {

		return s.abort("Failed to update file", &ContractError{
			Op:     "FileEnd",
			Reason: "no file in progress",
		})
	}

	if len(tail) != 0 {
		return s.abort("Failed to update file", &ContractError{
			Op:     "FileEnd",
			Reason: "unexpected trailing data",
		})
	}

	part := s.current
	match, err := s.ver.verify(s.dev, part.Addr, part.Size, part.Digest)
	if err != nil {
		return s.abort("Failed to update file", err)
	}
	if !match {
		return s.abort("Invalid checksum", &ChecksumError{
			Name: part.Name,
			Want: part.Digest,
		})
	}

	part.Written = true
	s.current = nil
	s.w = nil
	s.state = statePlanned

	return nil
}

// FSDirComplete records out-of-band completion of the filesystem-directory
// part.  Its content is staged by a separate collaborator rather than
// streamed through FileBegin/FileData/FileEnd.
func (s *Session) FSDirComplete() error {
	if s.state != statePlanned {
		return s.abort("Failed to update file", &ContractError{
			Op:     "FSDirComplete",
			Reason: "no partition plan, or a file is in progress",
		})
	}
	if s.fsDir == nil {
		return &ContractError{
			Op:     "FSDirComplete",
			Reason: "no fs_dir part planned",
		}
	}

	s.fsDir.Written = true
	return nil
}

// Finalize checks that the firmware partition and at least one
// filesystem-family partition are fully written, then switches the boot
// configuration to the new slot.  On any failure the boot configuration
// remains untouched.
func (s *Session) Finalize() error {
	if s.state != statePlanned {
		return s.abort("Failed to update file", &ContractError{
			Op:     "Finalize",
			Reason: "session not in a finalizable state",
		})
	}

	if !s.fw.Written {
		return s.abort("Missing fw part", &FinalizeError{Part: PartNameFw})
	}

	fsPart := s.fs
	if fsPart == nil || !fsPart.Written {
		if s.fsDir != nil && s.fsDir.Written {
			fsPart = s.fsDir
		} else {
			return s.abort("Missing fs part",
				&FinalizeError{Part: PartNameFS})
		}
	}

	img := bootcfg.SlotImage{
		FwAddr: s.fw.Addr,
		FwSize: uint32(s.fw.Size),
		FSAddr: fsPart.Addr,
		FSSize: uint32(fsPart.Size),
	}

	if err := bootcfg.NewCommitter(s.store).Finalize(s.slot, img); err != nil {
		return s.abort("Failed to set boot config", err)
	}

	s.state = stateFinalized
	return nil
}
