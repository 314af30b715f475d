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
	log "github.com/sirupsen/logrus"

	"github.com/dut3062796s/mongoose-os/updater/spiflash"
)

// flashWriter places sequential byte runs into one partition's flash range,
// erasing ahead of the cursor lazily.  Erase is as coarse as the partition's
// remaining range allows: whole blocks where a block fits, single sectors at
// the range edges so neighboring data is never clobbered.
type flashWriter struct {
	dev spiflash.Device

	// limit is the end of the partition's declared range.  Block erases
	// never extend past it.
	limit uint32

	addr   uint32 // write cursor
	erased uint32 // erase high-water mark
}

func newFlashWriter(dev spiflash.Device, base uint32, size int) *flashWriter {
	return &flashWriter{
		dev:    dev,
		limit:  base + uint32(size),
		addr:   base,
		erased: base,
	}
}

// ensureErased advances the erase mark until it covers n bytes past the
// write cursor.
func (w *flashWriter) ensureErased(n int) error {
	for w.addr+uint32(n) > w.erased {
		if w.erased%spiflash.BlockSize == 0 &&
			w.limit >= w.erased+spiflash.BlockSize {

			block := w.erased / spiflash.BlockSize
			log.Debugf("Erasing block %X", block)
			if err := w.dev.EraseBlock(block); err != nil {
				log.Errorf("Failed to erase flash block %X", block)
				return &EraseError{Addr: w.erased, Err: err}
			}
			w.erased = (block + 1) * spiflash.BlockSize
		} else {
			sector := w.erased / spiflash.SectorSize
			log.Debugf("Erasing sector %X", sector)
			if err := w.dev.EraseSector(sector); err != nil {
				log.Errorf("Failed to erase flash sector %X", sector)
				return &EraseError{Addr: w.erased, Err: err}
			}
			w.erased = (sector + 1) * spiflash.SectorSize
		}
	}

	return nil
}

// program erases ahead as needed, writes data at the cursor and advances
// it.  data must already satisfy the device's alignment rules.
func (w *flashWriter) program(data []byte) error {
	if err := w.ensureErased(len(data)); err != nil {
		return err
	}

	log.Debugf("Writing %d bytes @%X", len(data), w.addr)
	if err := w.dev.Write(w.addr, data); err != nil {
		return &WriteError{Addr: w.addr, Err: err}
	}
	w.addr += uint32(len(data))

	return nil
}
