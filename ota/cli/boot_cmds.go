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

package cli

import (
	"github.com/spf13/cobra"

	"github.com/dut3062796s/mongoose-os/updater/bootcfg"
	"github.com/dut3062796s/mongoose-os/util"
)

func runCommit(cmd *cobra.Command, args []string) {
	store := bootcfg.NewFileStore(OptBootCfgFilename)
	if err := bootcfg.NewCommitter(store).Commit(); err != nil {
		OtaUsage(nil, err)
	}
}

func runRevert(cmd *cobra.Command, args []string) {
	store := bootcfg.NewFileStore(OptBootCfgFilename)
	if err := bootcfg.NewCommitter(store).Revert(); err != nil {
		OtaUsage(nil, err)
	}
}

func runInfo(cmd *cobra.Command, args []string) {
	cfg, err := bootcfg.NewFileStore(OptBootCfgFilename).Load()
	if err != nil {
		OtaUsage(nil, err)
	}

	util.StatusMessage(util.VERBOSITY_DEFAULT,
		"current slot:   %d\n", cfg.CurrentSlot)
	util.StatusMessage(util.VERBOSITY_DEFAULT,
		"previous slot:  %d\n", cfg.PreviousSlot)
	util.StatusMessage(util.VERBOSITY_DEFAULT,
		"first boot:     %v\n", cfg.FirstBoot)
	util.StatusMessage(util.VERBOSITY_DEFAULT,
		"update pending: %v\n", cfg.UpdatePending)
	util.StatusMessage(util.VERBOSITY_DEFAULT,
		"merge fs:       %v\n", cfg.MergeFS)
	util.StatusMessage(util.VERBOSITY_DEFAULT,
		"boot attempts:  %d\n", cfg.BootAttempts)
	for i, slot := range cfg.Slots {
		util.StatusMessage(util.VERBOSITY_DEFAULT,
			"slot %d: fw %d @ 0x%x, fs %d @ 0x%x\n",
			i, slot.FwSize, slot.FwAddr, slot.FSSize, slot.FSAddr)
	}
}

func AddBootCommands(cmd *cobra.Command) {
	commitCmd := &cobra.Command{
		Use:   "commit",
		Short: "Confirm the pending update as good",
		Long: "Clears the pending-confirmation window after the new " +
			"firmware has proven itself.  No-op if no update is pending.",
		Run: runCommit,
	}
	addBootCfgFlag(commitCmd.Flags())
	cmd.AddCommand(commitCmd)

	revertCmd := &cobra.Command{
		Use:   "revert",
		Short: "Roll back the pending update to the previous slot",
		Long: "Switches the boot configuration back to the previous slot. " +
			"No-op if no update is pending.",
		Run: runRevert,
	}
	addBootCfgFlag(revertCmd.Flags())
	cmd.AddCommand(revertCmd)

	infoCmd := &cobra.Command{
		Use:   "info",
		Short: "Display the boot configuration record",
		Run:   runInfo,
	}
	addBootCfgFlag(infoCmd.Flags())
	cmd.AddCommand(infoCmd)
}
