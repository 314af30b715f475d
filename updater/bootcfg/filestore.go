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
	"io/ioutil"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/dut3062796s/mongoose-os/updater/spiflash"
	"github.com/dut3062796s/mongoose-os/util"
)

// FileStore persists the boot configuration as a YAML file.  Persist writes
// a temp file in the same directory and renames it over the target, so a
// crash never leaves a half-written record.
type FileStore struct {
	Path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

// Load reads the record.  A missing file yields the zero config: slot 0
// active, nothing pending.
func (fs *FileStore) Load() (Config, error) {
	cfg := Config{}

	content, err := ioutil.ReadFile(fs.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, util.ChildUpdaterError(err)
	}

	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return cfg, util.FmtUpdaterError(
			"Failure decoding boot config \"%s\": %s", fs.Path, err.Error())
	}

	if cfg.CurrentSlot < 0 || cfg.CurrentSlot >= spiflash.NumSlots ||
		cfg.PreviousSlot < 0 || cfg.PreviousSlot >= spiflash.NumSlots {

		return cfg, util.FmtUpdaterError(
			"boot config \"%s\" contains invalid slot index", fs.Path)
	}

	return cfg, nil
}

func (fs *FileStore) Persist(cfg Config) error {
	content, err := yaml.Marshal(&cfg)
	if err != nil {
		return util.ChildUpdaterError(err)
	}

	dir := filepath.Dir(fs.Path)
	tmp, err := ioutil.TempFile(dir, ".bootcfg-")
	if err != nil {
		return util.ChildUpdaterError(err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return util.ChildUpdaterError(err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return util.ChildUpdaterError(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return util.ChildUpdaterError(err)
	}

	if err := os.Rename(tmpPath, fs.Path); err != nil {
		os.Remove(tmpPath)
		return util.ChildUpdaterError(err)
	}

	return nil
}
