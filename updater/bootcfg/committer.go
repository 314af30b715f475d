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

package bootcfg

import (
	log "github.com/sirupsen/logrus"

	"github.com/dut3062796s/mongoose-os/updater/spiflash"
	"github.com/dut3062796s/mongoose-os/util"
)

// Committer drives the boot configuration through the update lifecycle:
// Finalize selects the freshly written slot, then either Commit (confirmed
// good boot) or Revert (confirmed bad boot) closes the confirmation window.
// Every transition is a single load-mutate-persist of the record.
type Committer struct {
	store Store
}

func NewCommitter(store Store) *Committer {
	return &Committer{store: store}
}

// Finalize switches the boot configuration to the given slot, recording the
// outgoing slot as the fallback and opening the confirmation window.  If the
// slot is already current (a re-validated no-op update), only the
// filesystem-merge flag is set; the slot pointers stay untouched.
func (c *Committer) Finalize(slot int, img SlotImage) error {
	if slot < 0 || slot >= spiflash.NumSlots {
		return util.FmtUpdaterError("invalid slot index %d", slot)
	}

	cfg, err := c.store.Load()
	if err != nil {
		return err
	}

	if slot == cfg.CurrentSlot {
		log.Infof("Using previous FW")
		cfg.MergeFS = true
		return c.store.Persist(cfg)
	}

	cfg.PreviousSlot = cfg.CurrentSlot
	cfg.CurrentSlot = slot
	cfg.Slots[slot] = img
	cfg.FirstBoot = true
	cfg.UpdatePending = true
	cfg.MergeFS = true
	cfg.BootAttempts = 0

	log.Debugf("New boot config: prev_slot: %d, current_slot: %d "+
		"fw addr: %X, fw size: %d, fs addr: %X, fs size: %d",
		cfg.PreviousSlot, cfg.CurrentSlot,
		img.FwAddr, img.FwSize, img.FSAddr, img.FSSize)

	return c.store.Persist(cfg)
}

// Commit confirms the new firmware as good and closes the confirmation
// window.  No-op if no update is pending.
func (c *Committer) Commit() error {
	cfg, err := c.store.Load()
	if err != nil {
		return err
	}

	if !cfg.UpdatePending {
		return nil
	}

	log.Infof("Committing slot %d", cfg.CurrentSlot)
	cfg.UpdatePending = false
	cfg.FirstBoot = false

	return c.store.Persist(cfg)
}

// Revert switches back to the previous slot after the new firmware failed
// its self-checks.  No-op if no update is pending.
func (c *Committer) Revert() error {
	cfg, err := c.store.Load()
	if err != nil {
		return err
	}

	if !cfg.UpdatePending {
		return nil
	}

	log.Infof("Update failed, reverting to slot %d", cfg.PreviousSlot)
	cfg.CurrentSlot = cfg.PreviousSlot
	cfg.UpdatePending = false
	cfg.FirstBoot = false

	return c.store.Persist(cfg)
}
