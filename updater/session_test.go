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
	"testing"

	"github.com/dut3062796s/mongoose-os/updater/bootcfg"
	"github.com/dut3062796s/mongoose-os/updater/manifest"
	"github.com/dut3062796s/mongoose-os/updater/spiflash"
	"github.com/dut3062796s/mongoose-os/util"
)

const testFlashSize = 8 * 1024 * 1024

func newTestDevice(t *testing.T) *spiflash.MemDevice {
	t.Helper()

	dev, err := spiflash.NewMemDevice(testFlashSize)
	if err != nil {
		t.Fatal(err)
	}
	return dev
}

func sha1Hex(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}

func testPattern(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i*7 + 13)
	}
	return data
}

// memStore is an in-memory bootcfg.Store.
type memStore struct {
	cfg      bootcfg.Config
	persists int
}

func (ms *memStore) Load() (bootcfg.Config, error) {
	return ms.cfg, nil
}

func (ms *memStore) Persist(cfg bootcfg.Config) error {
	ms.cfg = cfg
	ms.persists++
	return nil
}

// faultyDevice fails selected primitives.
type faultyDevice struct {
	*spiflash.MemDevice
	failRead  bool
	failWrite bool
	failErase bool
}

func (d *faultyDevice) Read(addr uint32, buf []byte) error {
	if d.failRead {
		return util.NewUpdaterError("injected read fault")
	}
	return d.MemDevice.Read(addr, buf)
}

func (d *faultyDevice) Write(addr uint32, data []byte) error {
	if d.failWrite {
		return util.NewUpdaterError("injected write fault")
	}
	return d.MemDevice.Write(addr, data)
}

func (d *faultyDevice) EraseSector(sector uint32) error {
	if d.failErase {
		return util.NewUpdaterError("injected erase fault")
	}
	return d.MemDevice.EraseSector(sector)
}

func (d *faultyDevice) EraseBlock(block uint32) error {
	if d.failErase {
		return util.NewUpdaterError("injected erase fault")
	}
	return d.MemDevice.EraseBlock(block)
}

func testManifest(fwData []byte, fsData []byte) manifest.Manifest {
	return manifest.Manifest{
		Name: "app",
		Parts: map[string]manifest.Part{
			PartNameFw: {
				Addr:   0x0,
				Size:   len(fwData),
				Digest: sha1Hex(fwData),
				Src:    "app.bin",
			},
			PartNameFS: {
				Addr:   0xe0000,
				Size:   len(fsData),
				Digest: sha1Hex(fsData),
				Src:    "fs.img",
			},
		},
	}
}

// deliver streams data into the session the way the host loop does: short
// windows that the session refuses get widened and retried.
func deliver(t *testing.T, sess *Session, src string, data []byte,
	chunkSize int) {

	t.Helper()

	action, err := sess.FileBegin(src, len(data))
	if err != nil {
		t.Fatalf("FileBegin(%s): %s", src, err.Error())
	}
	if action == ActionSkip {
		return
	}
	if action != ActionProcess {
		t.Fatalf("FileBegin(%s): action %d", src, action)
	}

	off := 0
	win := 0
	for off < len(data) {
		win = util.Min(win+chunkSize, len(data)-off)
		n, err := sess.FileData(src, data[off:off+win])
		if err != nil {
			t.Fatalf("FileData(%s): %s", src, err.Error())
		}
		if n == 0 && win == len(data)-off {
			t.Fatalf("FileData(%s): stalled with %d bytes left", src, win)
		}
		off += n
		win -= n
	}

	if err := sess.FileEnd(src, nil); err != nil {
		t.Fatalf("FileEnd(%s): %s", src, err.Error())
	}
}

func dumpFlash(t *testing.T, dev spiflash.Device, addr uint32,
	n int) []byte {

	t.Helper()

	buf := make([]byte, n)
	if err := dev.Read(addr, buf); err != nil {
		t.Fatal(err)
	}
	return buf
}

func TestBeginSelectsInactiveSlot(t *testing.T) {
	for _, active := range []int{0, 1} {
		dev := newTestDevice(t)
		store := &memStore{cfg: bootcfg.Config{CurrentSlot: active}}
		sess := NewSession(dev, store)

		m := testManifest(testPattern(100), testPattern(50))
		if err := sess.Begin(m); err != nil {
			t.Fatal(err)
		}

		want := 1 - active
		if sess.Slot() != want {
			t.Fatalf("active %d: chosen slot %d, want %d",
				active, sess.Slot(), want)
		}

		wantFwAddr := uint32(want) * spiflash.SlotSize
		if sess.fw.Addr != wantFwAddr {
			t.Fatalf("fw addr 0x%x, want 0x%x", sess.fw.Addr, wantFwAddr)
		}
	}
}

func TestBeginScenarioAddresses(t *testing.T) {
	dev := newTestDevice(t)
	store := &memStore{}
	sess := NewSession(dev, store)

	m := manifest.Manifest{
		Parts: map[string]manifest.Part{
			PartNameFw: {
				Addr:   0x0,
				Size:   400000,
				Digest: sha1Hex(testPattern(400000)),
				Src:    "app.bin",
			},
			PartNameFS: {
				Addr:   0x400000,
				Size:   100000,
				Digest: sha1Hex(testPattern(100000)),
				Src:    "fs.img",
			},
		},
	}

	if err := sess.Begin(m); err != nil {
		t.Fatal(err)
	}

	if sess.Slot() != 1 {
		t.Fatalf("chosen slot %d, want 1", sess.Slot())
	}
	if sess.fw.Addr != 0x100000 {
		t.Fatalf("fw addr 0x%x, want 0x100000", sess.fw.Addr)
	}
	if sess.fs.Addr != 0x100000+0x400000 {
		t.Fatalf("fs addr 0x%x, want 0x500000", sess.fs.Addr)
	}
}

func TestBeginMissingFw(t *testing.T) {
	dev := newTestDevice(t)
	sess := NewSession(dev, &memStore{})

	m := testManifest(testPattern(10), testPattern(10))
	delete(m.Parts, PartNameFw)

	err := sess.Begin(m)
	if err == nil {
		t.Fatal("Begin succeeded without fw part")
	}
	if _, ok := err.(*PlanError); !ok {
		t.Fatalf("error type %T, want *PlanError", err)
	}
	if sess.StatusMsg() != "Firmware part is missing" {
		t.Fatalf("status \"%s\"", sess.StatusMsg())
	}
	if dev.ReadOps+dev.WriteOps+dev.SectorErases+dev.BlockErases != 0 {
		t.Fatal("flash touched during failed planning")
	}
}

func TestBeginMissingFS(t *testing.T) {
	dev := newTestDevice(t)
	sess := NewSession(dev, &memStore{})

	m := testManifest(testPattern(10), testPattern(10))
	delete(m.Parts, PartNameFS)

	err := sess.Begin(m)
	if err == nil {
		t.Fatal("Begin succeeded without fs part")
	}
	if sess.StatusMsg() != "FS part is missing" {
		t.Fatalf("status \"%s\"", sess.StatusMsg())
	}
}

func TestBeginMalformedDigest(t *testing.T) {
	dev := newTestDevice(t)
	sess := NewSession(dev, &memStore{})

	m := testManifest(testPattern(10), testPattern(10))
	p := m.Parts[PartNameFw]
	p.Digest = p.Digest[:39]
	m.Parts[PartNameFw] = p

	err := sess.Begin(m)
	if err == nil {
		t.Fatal("Begin accepted a 39-char digest")
	}
	if sess.StatusMsg() != "Firmware part is missing" {
		t.Fatalf("status \"%s\"", sess.StatusMsg())
	}
}

func TestBeginOversizedSrcName(t *testing.T) {
	dev := newTestDevice(t)
	sess := NewSession(dev, &memStore{})

	longName := make([]byte, maxSrcNameLen)
	for i := range longName {
		longName[i] = 'a'
	}

	m := testManifest(testPattern(10), testPattern(10))
	p := m.Parts[PartNameFS]
	p.Src = string(longName)
	m.Parts[PartNameFS] = p

	err := sess.Begin(m)
	if err == nil {
		t.Fatal("Begin accepted an oversized src name")
	}
	if sess.StatusMsg() != "FS part is missing" {
		t.Fatalf("status \"%s\"", sess.StatusMsg())
	}
}

func TestFileBeginUnknownName(t *testing.T) {
	dev := newTestDevice(t)
	sess := NewSession(dev, &memStore{})

	if err := sess.Begin(testManifest(testPattern(10),
		testPattern(10))); err != nil {
		t.Fatal(err)
	}

	action, err := sess.FileBegin("README.md", 123)
	if err != nil {
		t.Fatal(err)
	}
	if action != ActionSkip {
		t.Fatalf("action %d, want skip", action)
	}
}

func TestFileBeginMatchingContentSkips(t *testing.T) {
	dev := newTestDevice(t)
	sess := NewSession(dev, &memStore{})

	fwData := testPattern(4096)
	m := testManifest(fwData, testPattern(10))
	if err := sess.Begin(m); err != nil {
		t.Fatal(err)
	}

	// Pre-program the target range with the exact expected content.
	if err := dev.Write(spiflash.SlotSize, fwData); err != nil {
		t.Fatal(err)
	}

	action, err := sess.FileBegin("app.bin", len(fwData))
	if err != nil {
		t.Fatal(err)
	}
	if action != ActionSkip {
		t.Fatalf("action %d, want skip for matching content", action)
	}
	if dev.SectorErases+dev.BlockErases != 0 {
		t.Fatal("erase issued for a matching partition")
	}
	if !sess.fw.Written {
		t.Fatal("matching partition not marked written")
	}
}

func TestFullSessionUpdatesBootConfig(t *testing.T) {
	dev := newTestDevice(t)
	store := &memStore{}
	sess := NewSession(dev, store)

	fwData := testPattern(5000)
	fsData := testPattern(3001)
	m := testManifest(fwData, fsData)

	if err := sess.Begin(m); err != nil {
		t.Fatal(err)
	}
	deliver(t, sess, "app.bin", fwData, 1024)
	deliver(t, sess, "fs.img", fsData, 1024)

	if err := sess.Finalize(); err != nil {
		t.Fatal(err)
	}

	cfg := store.cfg
	if cfg.CurrentSlot != 1 || cfg.PreviousSlot != 0 {
		t.Fatalf("slots: current %d previous %d", cfg.CurrentSlot,
			cfg.PreviousSlot)
	}
	if !cfg.FirstBoot || !cfg.UpdatePending || !cfg.MergeFS {
		t.Fatalf("flags: first %v pending %v merge %v",
			cfg.FirstBoot, cfg.UpdatePending, cfg.MergeFS)
	}
	if cfg.BootAttempts != 0 {
		t.Fatalf("boot attempts %d", cfg.BootAttempts)
	}
	if cfg.Slots[1].FwAddr != spiflash.SlotSize ||
		cfg.Slots[1].FwSize != 5000 {
		t.Fatalf("slot 1 fw record: %d @ 0x%x",
			cfg.Slots[1].FwSize, cfg.Slots[1].FwAddr)
	}
	if cfg.Slots[1].FSAddr != spiflash.SlotSize+0xe0000 ||
		cfg.Slots[1].FSSize != 3001 {
		t.Fatalf("slot 1 fs record: %d @ 0x%x",
			cfg.Slots[1].FSSize, cfg.Slots[1].FSAddr)
	}

	got := dumpFlash(t, dev, spiflash.SlotSize, len(fwData))
	for i := range got {
		if got[i] != fwData[i] {
			t.Fatalf("fw byte %d: 0x%02x, want 0x%02x",
				i, got[i], fwData[i])
		}
	}
}

func TestChunkingInvariance(t *testing.T) {
	fwData := testPattern(9003)
	fsData := testPattern(4097)

	var dumps [][]byte
	for _, chunkSize := range []int{1, 7, 1024, len(fwData)} {
		dev := newTestDevice(t)
		sess := NewSession(dev, &memStore{})

		m := testManifest(fwData, fsData)
		if err := sess.Begin(m); err != nil {
			t.Fatal(err)
		}
		deliver(t, sess, "app.bin", fwData, chunkSize)
		deliver(t, sess, "fs.img", fsData, chunkSize)
		if err := sess.Finalize(); err != nil {
			t.Fatal(err)
		}

		dumps = append(dumps,
			dumpFlash(t, dev, spiflash.SlotSize, spiflash.SlotSize))
	}

	for i := 1; i < len(dumps); i++ {
		for j := range dumps[i] {
			if dumps[i][j] != dumps[0][j] {
				t.Fatalf("chunking %d: flash differs at offset 0x%x",
					i, j)
			}
		}
	}
}

func TestRedeliverySkipsWrittenPartition(t *testing.T) {
	dev := newTestDevice(t)
	sess := NewSession(dev, &memStore{})

	fwData := testPattern(5000)
	m := testManifest(fwData, testPattern(10))
	if err := sess.Begin(m); err != nil {
		t.Fatal(err)
	}
	deliver(t, sess, "app.bin", fwData, 4096)

	erases := dev.SectorErases + dev.BlockErases
	writes := dev.WriteOps

	action, err := sess.FileBegin("app.bin", len(fwData))
	if err != nil {
		t.Fatal(err)
	}
	if action != ActionSkip {
		t.Fatalf("second delivery: action %d, want skip", action)
	}
	if dev.SectorErases+dev.BlockErases != erases ||
		dev.WriteOps != writes {
		t.Fatal("second delivery touched flash")
	}
}

func TestAlignmentLaw(t *testing.T) {
	for size := 4093; size <= 4100; size++ {
		dev := newTestDevice(t)
		sess := NewSession(dev, &memStore{})

		fwData := testPattern(size)
		m := testManifest(fwData, testPattern(10))
		if err := sess.Begin(m); err != nil {
			t.Fatal(err)
		}

		written := 0
		counter := &writeCountingDevice{Device: dev, written: &written}
		sess.dev = counter
		sess.ver.Yield = nil

		deliver(t, sess, "app.bin", fwData, 1000)

		want := (size + 3) &^ 3
		if written != want {
			t.Fatalf("size %d: %d bytes written, want %d",
				size, written, want)
		}

		got := dumpFlash(t, dev, spiflash.SlotSize, size)
		for i := range got {
			if got[i] != fwData[i] {
				t.Fatalf("size %d: byte %d mismatch", size, i)
			}
		}
	}
}

type writeCountingDevice struct {
	spiflash.Device
	written *int
}

func (d *writeCountingDevice) Write(addr uint32, data []byte) error {
	if err := d.Device.Write(addr, data); err != nil {
		return err
	}
	*d.written += len(data)
	return nil
}

func TestFileEndTrailingBytesFatal(t *testing.T) {
	dev := newTestDevice(t)
	sess := NewSession(dev, &memStore{})

	fwData := testPattern(4096)
	m := testManifest(fwData, testPattern(10))
	if err := sess.Begin(m); err != nil {
		t.Fatal(err)
	}

	if _, err := sess.FileBegin("app.bin", len(fwData)); err != nil {
		t.Fatal(err)
	}
	if _, err := sess.FileData("app.bin", fwData); err != nil {
		t.Fatal(err)
	}

	err := sess.FileEnd("app.bin", []byte{0x01})
	if err == nil {
		t.Fatal("FileEnd accepted trailing bytes")
	}
	if _, ok := err.(*ContractError); !ok {
		t.Fatalf("error type %T, want *ContractError", err)
	}

	// The session is dead; further calls must be rejected.
	if _, err := sess.FileBegin("fs.img", 10); err == nil {
		t.Fatal("aborted session accepted FileBegin")
	}
}

func TestFileDataWithoutBegin(t *testing.T) {
	dev := newTestDevice(t)
	sess := NewSession(dev, &memStore{})

	if err := sess.Begin(testManifest(testPattern(10),
		testPattern(10))); err != nil {
		t.Fatal(err)
	}

	_, err := sess.FileData("app.bin", []byte{1, 2, 3, 4})
	if err == nil {
		t.Fatal("FileData accepted without FileBegin")
	}
	if _, ok := err.(*ContractError); !ok {
		t.Fatalf("error type %T, want *ContractError", err)
	}
}

func TestPostWriteChecksumMismatch(t *testing.T) {
	dev := newTestDevice(t)
	sess := NewSession(dev, &memStore{})

	fwData := testPattern(4096)
	m := testManifest(fwData, testPattern(10))

	// Declare the digest of different content.
	p := m.Parts[PartNameFw]
	p.Digest = sha1Hex([]byte("something else"))
	m.Parts[PartNameFw] = p

	if err := sess.Begin(m); err != nil {
		t.Fatal(err)
	}
	if _, err := sess.FileBegin("app.bin", len(fwData)); err != nil {
		t.Fatal(err)
	}
	if _, err := sess.FileData("app.bin", fwData); err != nil {
		t.Fatal(err)
	}

	err := sess.FileEnd("app.bin", nil)
	if err == nil {
		t.Fatal("FileEnd accepted corrupt content")
	}
	if _, ok := err.(*ChecksumError); !ok {
		t.Fatalf("error type %T, want *ChecksumError", err)
	}
	if sess.StatusMsg() != "Invalid checksum" {
		t.Fatalf("status \"%s\"", sess.StatusMsg())
	}
}

func TestFinalizeMissingFS(t *testing.T) {
	dev := newTestDevice(t)
	store := &memStore{}
	sess := NewSession(dev, store)

	fwData := testPattern(5000)
	m := testManifest(fwData, testPattern(10))
	if err := sess.Begin(m); err != nil {
		t.Fatal(err)
	}
	deliver(t, sess, "app.bin", fwData, 4096)

	err := sess.Finalize()
	if err == nil {
		t.Fatal("Finalize succeeded without fs")
	}
	if _, ok := err.(*FinalizeError); !ok {
		t.Fatalf("error type %T, want *FinalizeError", err)
	}
	if sess.StatusMsg() != "Missing fs part" {
		t.Fatalf("status \"%s\"", sess.StatusMsg())
	}
	if store.persists != 0 {
		t.Fatal("boot config persisted on failed finalize")
	}
}

func TestFinalizeMissingFw(t *testing.T) {
	dev := newTestDevice(t)
	store := &memStore{}
	sess := NewSession(dev, store)

	m := testManifest(testPattern(10), testPattern(10))
	if err := sess.Begin(m); err != nil {
		t.Fatal(err)
	}

	err := sess.Finalize()
	if err == nil {
		t.Fatal("Finalize succeeded without fw")
	}
	if sess.StatusMsg() != "Missing fw part" {
		t.Fatalf("status \"%s\"", sess.StatusMsg())
	}
	if store.persists != 0 {
		t.Fatal("boot config persisted on failed finalize")
	}
}

func TestFinalizeWithFSDir(t *testing.T) {
	dev := newTestDevice(t)
	store := &memStore{}
	sess := NewSession(dev, store)

	fwData := testPattern(5000)
	m := manifest.Manifest{
		Parts: map[string]manifest.Part{
			PartNameFw: {
				Addr:   0x0,
				Size:   len(fwData),
				Digest: sha1Hex(fwData),
				Src:    "app.bin",
			},
			PartNameFSDir: {
				Addr:   0xe0000,
				Size:   12345,
				Digest: sha1Hex([]byte("fsdir")),
				Src:    "fs",
			},
		},
	}

	if err := sess.Begin(m); err != nil {
		t.Fatal(err)
	}
	deliver(t, sess, "app.bin", fwData, 4096)

	// fs_dir arrives out of band.
	if err := sess.FSDirComplete(); err != nil {
		t.Fatal(err)
	}

	if err := sess.Finalize(); err != nil {
		t.Fatal(err)
	}

	if store.cfg.Slots[1].FSAddr != spiflash.SlotSize+0xe0000 {
		t.Fatalf("slot 1 fs addr 0x%x", store.cfg.Slots[1].FSAddr)
	}
}

func TestVerifyIOErrorAborts(t *testing.T) {
	dev := newTestDevice(t)
	fd := &faultyDevice{MemDevice: dev, failRead: true}
	sess := NewSession(fd, &memStore{})

	m := testManifest(testPattern(10), testPattern(10))
	if err := sess.Begin(m); err != nil {
		t.Fatal(err)
	}

	action, err := sess.FileBegin("app.bin", 10)
	if err == nil {
		t.Fatal("FileBegin succeeded despite read fault")
	}
	if action != ActionAbort {
		t.Fatalf("action %d, want abort", action)
	}
	if _, ok := err.(*VerifyIOError); !ok {
		t.Fatalf("error type %T, want *VerifyIOError", err)
	}
}

func TestEraseErrorAborts(t *testing.T) {
	dev := newTestDevice(t)
	fd := &faultyDevice{MemDevice: dev, failErase: true}
	sess := NewSession(fd, &memStore{})

	fwData := testPattern(4096)
	m := testManifest(fwData, testPattern(10))
	if err := sess.Begin(m); err != nil {
		t.Fatal(err)
	}
	if _, err := sess.FileBegin("app.bin", len(fwData)); err != nil {
		t.Fatal(err)
	}

	_, err := sess.FileData("app.bin", fwData)
	if err == nil {
		t.Fatal("FileData succeeded despite erase fault")
	}
	if _, ok := err.(*EraseError); !ok {
		t.Fatalf("error type %T, want *EraseError", err)
	}
	if sess.StatusMsg() != "Failed to erase flash" {
		t.Fatalf("status \"%s\"", sess.StatusMsg())
	}
}

func TestWriteErrorAborts(t *testing.T) {
	dev := newTestDevice(t)
	fd := &faultyDevice{MemDevice: dev, failWrite: true}
	sess := NewSession(fd, &memStore{})

	fwData := testPattern(4096)
	m := testManifest(fwData, testPattern(10))
	if err := sess.Begin(m); err != nil {
		t.Fatal(err)
	}
	if _, err := sess.FileBegin("app.bin", len(fwData)); err != nil {
		t.Fatal(err)
	}

	_, err := sess.FileData("app.bin", fwData)
	if err == nil {
		t.Fatal("FileData succeeded despite write fault")
	}
	if _, ok := err.(*WriteError); !ok {
		t.Fatalf("error type %T, want *WriteError", err)
	}
	if sess.StatusMsg() != "Failed to write to flash" {
		t.Fatalf("status \"%s\"", sess.StatusMsg())
	}
}

func TestShortChunkBuffered(t *testing.T) {
	dev := newTestDevice(t)
	sess := NewSession(dev, &memStore{})

	fwData := testPattern(3 * MinBlockSize)
	m := testManifest(fwData, testPattern(10))
	if err := sess.Begin(m); err != nil {
		t.Fatal(err)
	}
	if _, err := sess.FileBegin("app.bin", len(fwData)); err != nil {
		t.Fatal(err)
	}

	// A short chunk mid-file must be refused so the caller accumulates.
	n, err := sess.FileData("app.bin", fwData[:MinBlockSize-1])
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("short chunk consumed %d bytes, want 0", n)
	}
	if dev.WriteOps != 0 {
		t.Fatal("short chunk wrote to flash")
	}
}
