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

// Package bootcfg manages the persisted boot configuration record: which
// slot boots, which slot to fall back to, and the confirmation window state
// after an update.
package bootcfg

import (
	"github.com/dut3062796s/mongoose-os/updater/spiflash"
)

// SlotImage describes the firmware and filesystem images installed in one
// boot slot.
type SlotImage struct {
	FwAddr uint32 `yaml:"fw_addr"`
	FwSize uint32 `yaml:"fw_size"`
	FSAddr uint32 `yaml:"fs_addr"`
	FSSize uint32 `yaml:"fs_size"`
}

// Config is the boot configuration record.  It is read once per update
// session and mutated only by the Committer; every mutation is persisted
// immediately and atomically.
type Config struct {
	CurrentSlot  int `yaml:"current_slot"`
	PreviousSlot int `yaml:"previous_slot"`

	Slots [spiflash.NumSlots]SlotImage `yaml:"slots"`

	// FirstBoot is set when the active slot changed and the new firmware
	// has not run yet.
	FirstBoot bool `yaml:"first_boot"`

	// UpdatePending is set while the new firmware awaits boot-time
	// confirmation; while set, Revert can still switch back.
	UpdatePending bool `yaml:"update_pending"`

	// MergeFS signals the boot-time filesystem merge procedure that the
	// new slot's filesystem must be reconciled with the previous one.
	MergeFS bool `yaml:"merge_fs"`

	BootAttempts int `yaml:"boot_attempts"`
}

// Store loads and persists the boot configuration record.  Persist must be
// atomic: a crash mid-persist leaves either the old record or the new one,
// never a torn mix.
type Store interface {
	Load() (Config, error)
	Persist(cfg Config) error
}
