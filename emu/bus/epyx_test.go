/*
 * IECBus - Bus handler tests: Epyx FastLoad protocol.
 *
 * Copyright 2024, Richard Cornwell
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

package bus

import (
	"fmt"
	"testing"

	"github.com/rcornwell/IECBus/emu/simbus"
)

// mwCmd builds an M-W command with the wanted destination, length and
// payload checksum.
func mwCmd(addr uint16, length uint8, sum uint8) []byte {
	cmd := []byte{'M', '-', 'W', uint8(addr & 0xFF), uint8(addr >> 8), length}
	payload := make([]byte, length)
	payload[length-1] = sum
	return append(cmd, payload...)
}

// epyxRoutine builds a fake 256 byte drive code upload with the given
// 8-bit sum.
func epyxRoutine(sum uint8) []uint8 {
	routine := make([]uint8, 256)
	routine[255] = sum
	return routine
}

func TestEpyxSnifferV1(t *testing.T) {
	var s EpyxSniffer

	steps := [][]byte{
		mwCmd(0x0180, 0x20, 0x2E),
		mwCmd(0x01A0, 0x20, 0xA5),
		{'M', '-', 'E', 0xA2, 0x01},
	}
	for i, cmd := range steps {
		handled, done := s.Feed(cmd)
		if !handled {
			t.Fatalf("step %d not handled", i)
		}
		if done != (i == 2) {
			t.Fatalf("step %d done=%v", i, done)
		}
	}
}

func TestEpyxSnifferV23(t *testing.T) {
	var s EpyxSniffer

	steps := [][]byte{
		mwCmd(0x0180, 0x19, 0x53),
		mwCmd(0x0199, 0x19, 0xA6),
		mwCmd(0x01B2, 0x19, 0x8F),
		{'M', '-', 'E', 0xA9, 0x01},
	}
	for i, cmd := range steps {
		handled, done := s.Feed(cmd)
		if !handled {
			t.Fatalf("step %d not handled", i)
		}
		if done != (i == 3) {
			t.Fatalf("step %d done=%v", i, done)
		}
	}
}

// A wrong checksum or an interloping command resets the walk.
func TestEpyxSnifferReset(t *testing.T) {
	var s EpyxSniffer

	if handled, _ := s.Feed(mwCmd(0x0180, 0x19, 0x53)); !handled {
		t.Fatal("first M-W not handled")
	}
	if handled, _ := s.Feed([]byte("I0")); handled {
		t.Fatal("unrelated command handled")
	}
	// the walk must start over now
	if _, done := s.Feed(mwCmd(0x0199, 0x19, 0xA6)); done {
		t.Fatal("sequence completed from the middle")
	}
	if handled, _ := s.Feed([]byte{'M', '-', 'E', 0xA9, 0x01}); handled {
		t.Fatal("M-E handled without the M-W prefix sequence")
	}

	// bad checksum on the second write
	s.Reset()
	s.Feed(mwCmd(0x0180, 0x19, 0x53))
	if handled, _ := s.Feed(mwCmd(0x0199, 0x19, 0xA7)); handled {
		t.Fatal("checksum mismatch accepted")
	}
}

// Epyx load: recognized upload, reversed file name, then blocks until
// a zero length block.
func TestEpyxLoad(t *testing.T) {
	sim, h, dev := newTestBus(8)
	h.EnableEpyxFastLoadSupport(dev, true)
	data := []uint8("EPYX FASTLOAD PAYLOAD BYTES")
	dev.readData = data

	host := sim.Host()
	// the command channel sequence was already recognized; the load
	// request is pending and the bus is idle
	host.Do(func(*simbus.Host) { h.EpyxLoadRequest(dev) })
	host.EpyxUploadHeader(epyxRoutine(0x86), "DATA")
	host.EpyxRecvBlocks()
	host.Delay(100)

	run(t, sim, h)

	// the device opened channel 0 with the name sent in reverse order
	wantCalls := []string{"listen f0"}
	for i, c := range "DATA" {
		eoi := i < len("DATA")-1
		wantCalls = append(wantCalls, fmt.Sprintf("write %02x %v", uint8(c), eoi))
	}
	wantCalls = append(wantCalls, "unlisten")
	for i, c := range wantCalls {
		if dev.calls[i] != c {
			t.Fatalf("call %d: got %q want %q (all %v)", i, dev.calls[i], c, dev.calls)
		}
	}
	// ... and closed it once the zero length block went out
	last2 := dev.calls[len(dev.calls)-2:]
	if last2[0] != "listen e0" || last2[1] != "unlisten" {
		t.Fatalf("missing close, calls: %v", dev.calls)
	}

	if string(host.RecvData()) != string(data) {
		t.Fatalf("load: got %q want %q", host.RecvData(), data)
	}
}

// An unrecognized upload releases the lines and has no side effects.
func TestEpyxBadChecksum(t *testing.T) {
	sim, h, dev := newTestBus(8)
	h.EnableEpyxFastLoadSupport(dev, true)

	host := sim.Host()
	host.Do(func(*simbus.Host) { h.EpyxLoadRequest(dev) })
	host.EpyxUploadHeader(epyxRoutine(0x77), "DATA")
	host.Delay(200)

	run(t, sim, h)

	if len(dev.calls) != 0 {
		t.Fatalf("unexpected device calls: %v", dev.calls)
	}
	if h.ProtocolFlags(8)&(SEpyxLoad|SEpyxHeader) != 0 {
		t.Fatal("load flags still set after a bad upload")
	}
}

// Sector device wrapper for the sector operation tests.
type sectorDev struct {
	*testDev
	reads  []string
	writes []string
	sector [256]uint8
}

func (d *sectorDev) EpyxReadSector(track uint8, sector uint8, buf []uint8) bool {
	d.reads = append(d.reads, fmt.Sprintf("%d/%d", track, sector))
	copy(buf, d.sector[:])
	return true
}

func (d *sectorDev) EpyxWriteSector(track uint8, sector uint8, buf []uint8) bool {
	d.writes = append(d.writes, fmt.Sprintf("%d/%d", track, sector))
	copy(d.sector[:], buf)
	return true
}

// Epyx sector read: the V2/V3 sector routine upload starts a sector
// command; the data comes back receiver-clocked, and the heartbeat
// gives up within roughly half a second once the host goes silent.
func TestEpyxSectorRead(t *testing.T) {
	sim, h, dev := newTestBus(8)
	sd := &sectorDev{testDev: dev}
	h.DetachDevice(dev)
	if err := h.AttachDevice(sd); err != nil {
		t.Fatal(err)
	}
	h.SetBuffer(make([]uint8, 256))
	h.EnableEpyxFastLoadSupport(sd, true)
	if !h.EnableEpyxSectorOps(true) {
		t.Fatal("sector ops not enabled")
	}
	for i := range sd.sector {
		sd.sector[i] = uint8(i ^ 0x5A)
	}

	host := sim.Host()
	host.Do(func(*simbus.Host) { h.EpyxLoadRequest(sd) })
	host.EpyxHeaderHandshake()
	host.EpyxUploadBytes(epyxRoutine(0xB8))
	// track 18, sector 1, command 2 (read)
	host.EpyxUploadBytes([]uint8{18, 1, 2})
	host.EpyxRecvRaw(256)
	// then go silent: the device's heartbeat must give up on its own

	run(t, sim, h)

	if len(sd.reads) != 1 || sd.reads[0] != "18/1" {
		t.Fatalf("sector reads: %v", sd.reads)
	}
	got := host.RecvData()
	if len(got) != 256 {
		t.Fatalf("received %d bytes", len(got))
	}
	for i, b := range got {
		if b != uint8(i^0x5A) {
			t.Fatalf("byte %d: got %02x", i, b)
		}
	}

	start := sim.Now()
	for i := 0; i < 700_000 && h.ProtocolFlags(8)&SEpyxSectorOp != 0; i++ {
		h.Tick()
	}
	if h.ProtocolFlags(8)&SEpyxSectorOp != 0 {
		t.Fatal("sector op never timed out")
	}
	if sim.Now()-start > 700_000 {
		t.Fatalf("heartbeat ran %dus before giving up", sim.Now()-start)
	}
	host.Do(func(hh *simbus.Host) { hh.HighData() })
	run(t, sim, h)
}
