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

// Package manifest decodes update manifests.  A manifest names the logical
// parts of a firmware bundle; each part carries a flash address relative to
// the slot base, an expected SHA-1 digest, a source file name and a size.
//
// The surrounding container format varies by transport, so decoding accepts
// an already-unmarshaled generic map.  Addresses and sizes may be numbers or
// strings in decimal or 0x-hex.
package manifest

import (
	"encoding/json"
	"io/ioutil"

	"github.com/spf13/cast"

	"github.com/dut3062796s/mongoose-os/util"
)

// Part is one logical part descriptor from the manifest.
type Part struct {
	// Addr is the flash address relative to the slot base.
	Addr uint32

	// Size of the part's content in bytes.
	Size int

	// Digest is the expected SHA-1 of the content, as a hex string.
	Digest string

	// Src is the name of the file carrying the content in the bundle.
	Src string
}

type Manifest struct {
	Name     string
	Platform string
	Version  string
	BuildID  string

	// Parts maps part name ("fw", "fs", ...) to its descriptor.
	Parts map[string]Part
}

func decodeAddr(v interface{}) (uint32, error) {
	n, err := util.AtoiNoOct(cast.ToString(v))
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, util.FmtUpdaterError("negative flash address %d", n)
	}

	return uint32(n), nil
}

func decodePart(name string, yamlPart interface{}) (Part, error) {
	p := Part{}

	kv, err := cast.ToStringMapE(yamlPart)
	if err != nil {
		return p, util.FmtUpdaterError(
			"manifest contains invalid part \"%s\": %s", name, err.Error())
	}

	if addrVal := kv["addr"]; addrVal != nil {
		addr, err := decodeAddr(addrVal)
		if err != nil {
			return p, util.FmtUpdaterError(
				"in part \"%s\": %s", name, err.Error())
		}
		p.Addr = addr
	}

	if sizeVal := kv["size"]; sizeVal != nil {
		size, err := util.AtoiNoOct(cast.ToString(sizeVal))
		if err != nil {
			return p, util.FmtUpdaterError(
				"in part \"%s\": %s", name, err.Error())
		}
		p.Size = size
	}

	p.Digest = cast.ToString(kv["cs_sha1"])
	p.Src = cast.ToString(kv["src"])

	return p, nil
}

// Decode builds a Manifest from a generic map, e.g. the result of
// unmarshaling JSON or YAML.  Part descriptors with missing fields decode to
// zero values; validation against a specific device is the planner's job.
func Decode(kv map[string]interface{}) (Manifest, error) {
	m := Manifest{
		Name:     cast.ToString(kv["name"]),
		Platform: cast.ToString(kv["platform"]),
		Version:  cast.ToString(kv["version"]),
		BuildID:  cast.ToString(kv["build_id"]),
		Parts:    map[string]Part{},
	}

	yamlParts := kv["parts"]
	if yamlParts == nil {
		return m, util.NewUpdaterError(
			"\"parts\" mapping missing from manifest")
	}

	partMap, err := cast.ToStringMapE(yamlParts)
	if err != nil {
		return m, util.FmtUpdaterError(
			"manifest contains invalid \"parts\" mapping: %s", err.Error())
	}

	for name, yamlPart := range partMap {
		part, err := decodePart(name, yamlPart)
		if err != nil {
			return m, err
		}
		m.Parts[name] = part
	}

	return m, nil
}

// Read loads and decodes a JSON manifest file.
func Read(path string) (Manifest, error) {
	content, err := ioutil.ReadFile(path)
	if err != nil {
		return Manifest{}, util.ChildUpdaterError(err)
	}

	var kv map[string]interface{}
	if err := json.Unmarshal(content, &kv); err != nil {
		return Manifest{}, util.FmtUpdaterError(
			"Failure decoding manifest with path \"%s\": %s",
			path, err.Error())
	}

	return Decode(kv)
}
