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

// Package fsdir stages the filesystem-directory variant of an update.  A
// directory of files substitutes for a prebuilt filesystem image; it is
// delivered outside the per-file update stream, staged on the host, and its
// completion is reported to the update session out of band.
package fsdir

import (
	"os"
	"path/filepath"

	"github.com/otiai10/copy"
	log "github.com/sirupsen/logrus"

	"github.com/dut3062796s/mongoose-os/util"
)

// Stage copies the contents of srcDir into dstDir (created if necessary)
// and returns the total number of content bytes staged.  Symlinks are
// copied shallowly.
func Stage(srcDir string, dstDir string) (int64, error) {
	info, err := os.Stat(srcDir)
	if err != nil {
		return 0, util.ChildUpdaterError(err)
	}
	if !info.IsDir() {
		return 0, util.FmtUpdaterError(
			"fs staging source \"%s\" is not a directory", srcDir)
	}

	opt := copy.Options{
		OnSymlink: func(src string) copy.SymlinkAction {
			return copy.Shallow
		},
	}

	if err := copy.Copy(srcDir, dstDir, opt); err != nil {
		return 0, util.ChildUpdaterError(err)
	}

	var total int64
	err = filepath.Walk(dstDir,
		func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.Mode().IsRegular() {
				total += info.Size()
			}
			return nil
		})
	if err != nil {
		return 0, util.ChildUpdaterError(err)
	}

	log.Debugf("Staged %d bytes from %s to %s", total, srcDir, dstDir)

	return total, nil
}
