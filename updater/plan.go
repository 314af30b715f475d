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

	"github.com/dut3062796s/mongoose-os/updater/manifest"
	"github.com/dut3062796s/mongoose-os/updater/spiflash"
)

// Recognized manifest part names.
const (
	PartNameFw    = "fw"
	PartNameFS    = "fs"
	PartNameFSDir = "fs_dir"
)

const (
	// DigestHexLen is the length of a SHA-1 digest rendered as hex.
	DigestHexLen = 40

	// maxSrcNameLen bounds the source file name field, terminator
	// included.
	maxSrcNameLen = 50
)

// Partition is one planned target range in the slot being written.
type Partition struct {
	Name string

	// Addr is the absolute flash address: the manifest's slot-relative
	// address plus the chosen slot's base.
	Addr uint32

	// Size is the content size.  Planned from the manifest, then pinned to
	// the declared size when the file's delivery begins.
	Size int

	Digest string
	Src    string

	// Written is set only after a full-range digest match, pre-existing
	// or post-write.
	Written bool
}

// planPartition validates one part descriptor and resolves it against the
// chosen slot.
func planPartition(name string, p manifest.Part, slot int,
	devSize uint32) (*Partition, error) {

	addr := p.Addr + uint32(slot)*spiflash.SlotSize

	// The manifest always carries slot-relative addresses; convert to
	// absolute for the slot being written.
	log.Debugf("Part %s: 0x%x -> 0x%x", name, p.Addr, addr)

	if len(p.Digest) != DigestHexLen {
		log.Errorf("cs_sha1 token not found in manifest")
		return nil, &PlanError{Part: name, Reason: "bad or missing digest"}
	}

	if len(p.Src) == 0 || len(p.Src) >= maxSrcNameLen {
		log.Errorf("src token not found in manifest")
		return nil, &PlanError{Part: name, Reason: "bad or missing src"}
	}

	if p.Size < 0 || uint64(addr)+uint64(p.Size) > uint64(devSize) {
		return nil, &PlanError{
			Part:   name,
			Reason: "range extends past the end of flash",
		}
	}

	log.Debugf("Part %s : addr: %X sha1: %s src: %s",
		name, addr, p.Digest, p.Src)

	return &Partition{
		Name:   name,
		Addr:   addr,
		Size:   p.Size,
		Digest: p.Digest,
		Src:    p.Src,
	}, nil
}
