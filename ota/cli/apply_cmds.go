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
	"io/ioutil"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/dut3062796s/mongoose-os/updater"
	"github.com/dut3062796s/mongoose-os/updater/bootcfg"
	"github.com/dut3062796s/mongoose-os/updater/fsdir"
	"github.com/dut3062796s/mongoose-os/updater/manifest"
	"github.com/dut3062796s/mongoose-os/updater/spiflash"
	"github.com/dut3062796s/mongoose-os/util"
)

var OptImageFilename string
var OptFlashSize uint32
var OptFilesDir string
var OptFSDir string
var OptChunkSize int

// deliverFile streams one bundle file into the session, honoring the
// accumulate-and-retry contract: when the session consumes 0 bytes of a
// short window, the window is widened and the call retried.
func deliverFile(sess *updater.Session, src string, path string,
	chunkSize int) error {

	data, err := ioutil.ReadFile(path)
	if err != nil {
		return util.ChildUpdaterError(err)
	}

	action, err := sess.FileBegin(src, len(data))
	if err != nil {
		return err
	}
	if action != updater.ActionProcess {
		return nil
	}

	off := 0
	win := 0
	for off < len(data) {
		win = util.Min(win+chunkSize, len(data)-off)
		n, err := sess.FileData(src, data[off:off+win])
		if err != nil {
			return err
		}
		if n == 0 && win == len(data)-off {
			return util.FmtUpdaterError(
				"update stalled: %d bytes of \"%s\" not consumed", win, src)
		}
		off += n
		win -= n
	}

	return sess.FileEnd(src, nil)
}

func runApply(cmd *cobra.Command, args []string) {
	if OptImageFilename == "" {
		OtaUsage(cmd, util.NewUpdaterError("--image option required"))
	}
	if len(args) < 1 {
		OtaUsage(cmd, util.NewUpdaterError("manifest path required"))
	}
	manifestPath := args[0]

	m, err := manifest.Read(manifestPath)
	if err != nil {
		OtaUsage(nil, err)
	}

	filesDir := OptFilesDir
	if filesDir == "" {
		filesDir = filepath.Dir(manifestPath)
	}

	dev, err := spiflash.NewMemDeviceFromFile(OptImageFilename, OptFlashSize)
	if err != nil {
		OtaUsage(nil, err)
	}

	store := bootcfg.NewFileStore(OptBootCfgFilename)
	sess := updater.NewSession(dev, store)

	if err := sess.Begin(m); err != nil {
		OtaUsage(nil, util.FmtUpdaterError("%s", sess.StatusMsg()))
	}

	names := make([]string, 0, len(m.Parts))
	for name := range m.Parts {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if name == updater.PartNameFSDir {
			continue
		}
		part := m.Parts[name]
		if part.Src == "" {
			continue
		}

		path := filepath.Join(filesDir, part.Src)
		if err := deliverFile(sess, part.Src, path, OptChunkSize); err != nil {
			if msg := sess.StatusMsg(); msg != "" {
				OtaUsage(nil, util.FmtUpdaterError("%s: %s",
					msg, err.Error()))
			}
			OtaUsage(nil, err)
		}
	}

	if _, ok := m.Parts[updater.PartNameFSDir]; ok {
		if OptFSDir == "" {
			OtaUsage(cmd, util.NewUpdaterError(
				"manifest contains an fs_dir part; --fs-dir required"))
		}

		staging := OptImageFilename + ".fs-staging"
		if _, err := fsdir.Stage(OptFSDir, staging); err != nil {
			OtaUsage(nil, err)
		}
		if err := sess.FSDirComplete(); err != nil {
			OtaUsage(nil, err)
		}
	}

	if err := sess.Finalize(); err != nil {
		OtaUsage(nil, util.FmtUpdaterError("%s", sess.StatusMsg()))
	}

	if err := dev.WriteImageFile(OptImageFilename); err != nil {
		OtaUsage(nil, err)
	}

	util.StatusMessage(util.VERBOSITY_DEFAULT,
		"Update applied to slot %d (%d block erases, %d sector erases, "+
			"%d writes)\n",
		sess.Slot(), dev.BlockErases, dev.SectorErases, dev.WriteOps)
}

func AddUpdateCommands(cmd *cobra.Command) {
	applyHelpText := "Applies the update described by <manifest> to the " +
		"flash image, writing the inactive slot and switching the boot " +
		"configuration to it on success."

	applyCmd := &cobra.Command{
		Use:     "apply <manifest>",
		Short:   "Apply an update bundle to a flash image",
		Long:    applyHelpText,
		Example: "  ota apply -i flash.img build/manifest.json",
		Run:     runApply,
	}

	applyCmd.Flags().StringVarP(&OptImageFilename, "image", "i", "",
		"Path of the flash image file")
	applyCmd.Flags().Uint32Var(&OptFlashSize, "flash-size",
		spiflash.NumSlots*spiflash.SlotSize, "Flash capacity in bytes")
	applyCmd.Flags().StringVarP(&OptFilesDir, "files", "f", "",
		"Directory containing the bundle files (default: manifest dir)")
	applyCmd.Flags().StringVar(&OptFSDir, "fs-dir", "",
		"Source directory for the fs_dir part")
	applyCmd.Flags().IntVar(&OptChunkSize, "chunk-size", 4096,
		"Delivery chunk size in bytes")
	addBootCfgFlag(applyCmd.Flags())

	cmd.AddCommand(applyCmd)
}
