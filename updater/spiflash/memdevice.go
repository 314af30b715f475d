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

package spiflash

import (
	"io/ioutil"
	"os"

	"github.com/dut3062796s/mongoose-os/util"
)

// MemDevice is an in-memory flash implementation.  It enforces the same
// discipline as the real chip: writes must be aligned and must only touch
// bytes that have been erased since they were last programmed.  It backs the
// host-mode CLI and the test suite.
type MemDevice struct {
	data    []byte
	written []bool

	// Operation counters, for reporting and for erase accounting in tests.
	ReadOps      int
	SectorErases int
	BlockErases  int
	WriteOps     int
}

// NewMemDevice creates a blank (fully erased) device of the given size.
// Size must be a multiple of BlockSize.
func NewMemDevice(size uint32) (*MemDevice, error) {
	if size == 0 || size%BlockSize != 0 {
		return nil, util.FmtUpdaterError(
			"invalid flash size 0x%x: must be a multiple of 0x%x",
			size, uint32(BlockSize))
	}

	d := &MemDevice{
		data:    make([]byte, size),
		written: make([]bool, size),
	}
	for i := range d.data {
		d.data[i] = ErasedByte
	}

	return d, nil
}

// NewMemDeviceFromFile creates a device of the given size seeded with the
// contents of an image file.  Seeded bytes count as programmed, so the
// updater has to erase them before rewriting.  A missing file yields a blank
// device.
func NewMemDeviceFromFile(path string, size uint32) (*MemDevice, error) {
	d, err := NewMemDevice(size)
	if err != nil {
		return nil, err
	}

	img, err := ioutil.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return d, nil
		}
		return nil, util.ChildUpdaterError(err)
	}

	if uint32(len(img)) > size {
		return nil, util.FmtUpdaterError(
			"image file \"%s\" (%d bytes) exceeds flash size 0x%x",
			path, len(img), size)
	}

	copy(d.data, img)
	for i := range img {
		d.written[i] = true
	}

	return d, nil
}

// WriteImageFile dumps the full flash contents to an image file.
func (d *MemDevice) WriteImageFile(path string) error {
	if err := ioutil.WriteFile(path, d.data, 0644); err != nil {
		return util.ChildUpdaterError(err)
	}
	return nil
}

func (d *MemDevice) checkRange(addr uint32, length int) error {
	if length < 0 || uint64(addr)+uint64(length) > uint64(len(d.data)) {
		return util.FmtUpdaterError(
			"flash range [0x%x, 0x%x) out of bounds (size 0x%x)",
			addr, uint64(addr)+uint64(length), len(d.data))
	}
	return nil
}

func (d *MemDevice) Read(addr uint32, buf []byte) error {
	if err := d.checkRange(addr, len(buf)); err != nil {
		return err
	}

	copy(buf, d.data[addr:])
	d.ReadOps++
	return nil
}

func (d *MemDevice) Write(addr uint32, data []byte) error {
	if addr%WriteAlign != 0 || len(data)%WriteAlign != 0 {
		return util.FmtUpdaterError(
			"unaligned flash write: %d bytes @ 0x%x", len(data), addr)
	}
	if err := d.checkRange(addr, len(data)); err != nil {
		return err
	}

	for i := range data {
		if d.written[addr+uint32(i)] {
			return util.FmtUpdaterError(
				"write to un-erased flash @ 0x%x", addr+uint32(i))
		}
	}

	copy(d.data[addr:], data)
	for i := range data {
		d.written[addr+uint32(i)] = true
	}
	d.WriteOps++

	return nil
}

func (d *MemDevice) erase(addr uint32, size uint32) error {
	if err := d.checkRange(addr, int(size)); err != nil {
		return err
	}

	for i := addr; i < addr+size; i++ {
		d.data[i] = ErasedByte
		d.written[i] = false
	}

	return nil
}

func (d *MemDevice) EraseSector(sector uint32) error {
	if err := d.erase(sector*SectorSize, SectorSize); err != nil {
		return err
	}
	d.SectorErases++
	return nil
}

func (d *MemDevice) EraseBlock(block uint32) error {
	if err := d.erase(block*BlockSize, BlockSize); err != nil {
		return err
	}
	d.BlockErases++
	return nil
}

func (d *MemDevice) Size() uint32 {
	return uint32(len(d.data))
}
