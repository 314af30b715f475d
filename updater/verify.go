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
	"crypto/sha1"
	"encoding/hex"
	"hash"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/dut3062796s/mongoose-os/updater/spiflash"
	"github.com/dut3062796s/mongoose-os/util"
)

// Flash is read in bounded pieces during verification to keep peak memory
// small and to give the yield hook a chance to run.
const verifyReadSize = 4 * 100

// verifier streams flash ranges through a digest and compares the result
// against an expected hex string.
type verifier struct {
	// NewDigest creates the digest primitive.  Defaults to SHA-1.
	NewDigest func() hash.Hash

	// Yield, if set, is called between reads.  Long verifications over
	// large ranges use it as a cooperative checkpoint so other device
	// duties (watchdog feeding included) are not starved.
	Yield func()
}

// verify digests length bytes of flash starting at addr and compares the
// lowercase hex rendering against want, case-insensitively, over exactly
// the digest's canonical hex length.  The bool result is the comparison
// outcome; the error is non-nil only for read failures.
func (v *verifier) verify(dev spiflash.Device, addr uint32, length int,
	want string) (bool, error) {

	newDigest := v.NewDigest
	if newDigest == nil {
		newDigest = sha1.New
	}

	d := newDigest()
	buf := make([]byte, verifyReadSize)

	a := addr
	remaining := length
	for remaining > 0 {
		toRead := util.Min(remaining, len(buf))

		if err := dev.Read(a, buf[:toRead]); err != nil {
			log.Errorf("Failed to read %d bytes from %X", toRead, a)
			return false, &VerifyIOError{Addr: a, Len: toRead, Err: err}
		}

		d.Write(buf[:toRead])
		a += uint32(toRead)
		remaining -= toRead

		if v.Yield != nil {
			v.Yield()
		}
	}

	got := hex.EncodeToString(d.Sum(nil))
	log.Debugf("SHA %d @ 0x%x = %s, want %s", length, addr, got, want)

	if len(want) != len(got) {
		return false, nil
	}

	return strings.EqualFold(got, want), nil
}
