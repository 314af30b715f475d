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

// Package spiflash defines the external serial flash contract used by the
// updater: synchronous read, write and two-granularity erase, with the
// geometry of the target device expressed as package constants.
package spiflash

const (
	// SectorSize is the fine erase granularity.
	SectorSize = 4096

	// BlockSize is the coarse erase granularity.
	BlockSize = 0x10000

	// SlotSize is the size of one boot slot's flash window.  Slot N starts
	// at N * SlotSize.
	SlotSize = 0x100000

	// NumSlots is the number of boot slots on the device.
	NumSlots = 2

	// WriteAlign is the flash program width.  Write addresses and lengths
	// must be multiples of it.
	WriteAlign = 4

	// ErasedByte is the value flash bytes assume after an erase.
	ErasedByte = 0xff
)

// Device is a serial flash chip.  All operations are synchronous: they
// complete or fail before returning.  Implementations are not required to be
// safe for concurrent use; the updater serializes all access.
type Device interface {
	// Read fills buf with the flash contents starting at addr.
	Read(addr uint32, buf []byte) error

	// Write programs data at addr.  The caller must have erased the target
	// range first; addr and len(data) must be WriteAlign-multiples.
	Write(addr uint32, data []byte) error

	// EraseSector erases the sector with the given index
	// (sector n covers [n*SectorSize, (n+1)*SectorSize)).
	EraseSector(sector uint32) error

	// EraseBlock erases the block with the given index
	// (block n covers [n*BlockSize, (n+1)*BlockSize)).
	EraseBlock(block uint32) error

	// Size returns the total flash capacity in bytes.
	Size() uint32
}
