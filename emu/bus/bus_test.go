/*
 * IECBus - Bus handler tests: standard IEC protocol.
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

	"github.com/rcornwell/IECBus/emu/pins"
	"github.com/rcornwell/IECBus/emu/simbus"
)

// Recording device: logs every call the handler makes and serves a
// canned byte stream.
type testDev struct {
	addr  uint8
	calls []string

	readData []uint8
	rdPos    int

	written []uint8
	eois    []bool

	refuseWrite bool
}

func (d *testDev) Address() uint8 { return d.addr }
func (d *testDev) Begin()         {}
func (d *testDev) Reset()         { d.calls = append(d.calls, "reset") }
func (d *testDev) Task()          {}

func (d *testDev) PrimaryAddress(primary uint8) {
	d.calls = append(d.calls, fmt.Sprintf("primary %02x", primary))
}

func (d *testDev) SecondaryAddress(secondary uint8) {
	d.calls = append(d.calls, fmt.Sprintf("secondary %02x", secondary))
}

func (d *testDev) Listen(secondary uint8) {
	d.calls = append(d.calls, fmt.Sprintf("listen %02x", secondary))
}

func (d *testDev) Unlisten() { d.calls = append(d.calls, "unlisten") }

func (d *testDev) Talk(secondary uint8) {
	d.calls = append(d.calls, fmt.Sprintf("talk %02x", secondary))
}

func (d *testDev) Untalk() { d.calls = append(d.calls, "untalk") }

func (d *testDev) CanWrite() int8 {
	if d.refuseWrite {
		return 0
	}
	return 1
}

func (d *testDev) CanRead() int8 {
	n := len(d.readData) - d.rdPos
	if n > 2 {
		n = 2
	}
	return int8(n)
}

func (d *testDev) Write(data uint8, eoi bool) {
	d.written = append(d.written, data)
	d.eois = append(d.eois, eoi)
	d.calls = append(d.calls, fmt.Sprintf("write %02x %v", data, eoi))
}

func (d *testDev) WriteBytes(buf []uint8, eoi bool) uint8 {
	for _, b := range buf {
		d.written = append(d.written, b)
		d.eois = append(d.eois, false)
	}
	if eoi && len(d.eois) > 0 {
		d.eois[len(d.eois)-1] = true
	}
	return uint8(len(buf))
}

func (d *testDev) Read() uint8 {
	data := d.readData[d.rdPos]
	d.rdPos++
	return data
}

func (d *testDev) ReadBytes(buf []uint8) uint8 {
	n := copy(buf, d.readData[d.rdPos:])
	d.rdPos += n
	return uint8(n)
}

func (d *testDev) Peek() uint8 {
	return d.readData[d.rdPos]
}

// newTestBus builds a simulated bus with one recording device.
func newTestBus(addr uint8) (*simbus.Sim, *Handler, *testDev) {
	// reclaim the interrupt trampoline slots from earlier tests
	busHandler1 = nil
	busHandler2 = nil

	sim := simbus.New()
	h := New(sim, true, true)
	dev := &testDev{addr: addr}
	if err := h.AttachDevice(dev); err != nil {
		panic(err)
	}
	h.Begin()
	return sim, h, dev
}

// run drives the handler until the host script finishes.
func run(t *testing.T, sim *simbus.Sim, h *Handler) {
	t.Helper()
	host := sim.Host()
	for i := 0; i < 5_000_000 && !host.Idle(); i++ {
		h.Tick()
	}
	if !host.Idle() {
		t.Fatal("host script did not finish")
	}
	// settle the handler after the script
	for i := 0; i < 100; i++ {
		h.Tick()
	}
}

func expectCalls(t *testing.T, dev *testDev, want []string) {
	t.Helper()
	if len(dev.calls) != len(want) {
		t.Fatalf("got calls %v, want %v", dev.calls, want)
	}
	for i, c := range want {
		if dev.calls[i] != c {
			t.Fatalf("call %d: got %q, want %q (all: %v)", i, dev.calls[i], c, dev.calls)
		}
	}
}

// Load directory: OPEN "$", then TALK on the data channel, pumping
// bytes until end of data.
func TestLoadDirectory(t *testing.T) {
	sim, h, dev := newTestBus(8)
	listing := []uint8("HELLO            5\r")
	dev.readData = listing

	host := sim.Host()
	host.AtnAssert()
	host.SendBytes([]uint8{0x28, 0xF0}, false)
	host.AtnRelease()
	host.SendBytes([]uint8{'$'}, true)
	host.AtnAssert()
	host.SendBytes([]uint8{0x3F}, false)
	host.AtnRelease()
	host.ReleaseBus()

	host.AtnAssert()
	host.SendBytes([]uint8{0x48, 0x60}, false)
	host.AtnReleaseTurnaround()
	host.RecvUntilEOI(1000)

	host.AtnAssert()
	host.SendBytes([]uint8{0x5F}, false)
	host.AtnRelease()
	host.ReleaseBus()

	run(t, sim, h)

	expectCalls(t, dev, []string{
		"primary 28",
		"secondary f0",
		"listen f0",
		"write 24 true",
		"unlisten",
		"primary 48",
		"secondary 60",
		"talk 60",
		"untalk",
	})

	got := host.RecvData()
	if string(got) != string(listing) {
		t.Fatalf("directory: got %q, want %q", got, listing)
	}
	for i, r := range host.Recv {
		if r.EOI != (i == len(host.Recv)-1) {
			t.Fatalf("byte %d: eoi=%v", i, r.EOI)
		}
	}

	// all transient detect flags are clear after the transaction
	if f := h.ProtocolFlags(8) & sTransient; f != 0 {
		t.Fatalf("transient flags still set: %04x", f)
	}
}

// Save file: bytes arrive in order with EOI on the final byte only.
func TestSaveFile(t *testing.T) {
	sim, h, dev := newTestBus(8)

	host := sim.Host()
	host.AtnAssert()
	host.SendBytes([]uint8{0x28, 0xF1}, false)
	host.AtnRelease()
	host.SendBytes([]uint8("TEST,S,W"), true)
	host.AtnAssert()
	host.SendBytes([]uint8{0x3F}, false)
	host.AtnRelease()
	host.ReleaseBus()

	host.AtnAssert()
	host.SendBytes([]uint8{0x28, 0x61}, false)
	host.AtnRelease()
	host.SendBytes([]uint8{0x01, 0x08, 'H', 'I'}, true)
	host.AtnAssert()
	host.SendBytes([]uint8{0x3F}, false)
	host.AtnRelease()
	host.ReleaseBus()

	run(t, sim, h)

	payload := dev.written[len(dev.written)-4:]
	if payload[0] != 0x01 || payload[1] != 0x08 || payload[2] != 'H' || payload[3] != 'I' {
		t.Fatalf("payload: got %x", payload)
	}
	eois := dev.eois[len(dev.eois)-4:]
	for i, e := range eois {
		if e != (i == 3) {
			t.Fatalf("byte %d eoi=%v", i, e)
		}
	}
}

// A primary of 0x00 means "no primary captured yet", not address 0.
func TestPrimaryZeroNotAddressZero(t *testing.T) {
	sim, h, dev := newTestBus(0)

	host := sim.Host()
	host.AtnAssert()
	// a zero byte first, then a real LISTEN for device 0
	host.SendBytes([]uint8{0x00, 0x20, 0x60}, false)
	host.AtnRelease()

	run(t, sim, h)

	expectCalls(t, dev, []string{
		"primary 20",
		"secondary 60",
		"listen 60",
	})
	_ = h
}

// A primary addressed to someone else leaves the device silent.
func TestNotAddressed(t *testing.T) {
	sim, h, dev := newTestBus(8)

	host := sim.Host()
	host.AtnAssert()
	host.SendBytes([]uint8{0x29, 0x60}, false) // device 9, not us
	host.AtnRelease()
	host.ReleaseBus()

	run(t, sim, h)

	// the frame is not acknowledged: the host sees at least one
	// timeout, and the device gets no listen call
	if host.Timeouts == 0 {
		t.Fatal("expected an unacknowledged frame")
	}
	for _, c := range dev.calls {
		if c == "listen 60" {
			t.Fatal("device listened although not addressed")
		}
	}
}

// Two consecutive UNLISTEN frames leave engine state unchanged after
// the first.
func TestUnlistenIdempotent(t *testing.T) {
	sim, h, dev := newTestBus(8)

	host := sim.Host()
	host.AtnAssert()
	host.SendBytes([]uint8{0x28, 0x62}, false)
	host.AtnRelease()
	host.SendBytes([]uint8{0x41}, true)
	host.AtnAssert()
	host.SendBytes([]uint8{0x3F}, false)
	host.AtnRelease()
	host.ReleaseBus()

	host.AtnAssert()
	host.SendBytes([]uint8{0x3F}, false)
	host.AtnRelease()
	host.ReleaseBus()

	run(t, sim, h)

	unlistens := 0
	for _, c := range dev.calls {
		if c == "unlisten" {
			unlistens++
		}
	}
	if unlistens != 1 {
		t.Fatalf("got %d unlisten calls, want 1", unlistens)
	}
	if h.flags&(flagListening|flagTalking) != 0 {
		t.Fatalf("handler still active: %02x", h.flags)
	}
}

// On an ATN falling edge the device pulls DATA low within a
// millisecond.
func TestAtnAnswered(t *testing.T) {
	sim, h, _ := newTestBus(8)

	host := sim.Host()
	host.Do(func(hh *simbus.Host) { /* marker */ })
	host.AtnAssert()

	start := sim.Now()
	for i := 0; i < 100000 && !host.Idle(); i++ {
		h.Tick()
	}
	if !host.Idle() {
		t.Fatal("device did not answer ATN")
	}
	if host.Timeouts != 0 {
		t.Fatal("ATN answer timed out")
	}
	if sim.Now()-start > 1200 {
		t.Fatalf("ATN answered after %dus", sim.Now()-start)
	}
	host.ReleaseBus()
	run(t, sim, h)
}

// ATN pre-emption mid-byte: the device abandons the byte, releases
// CLK, answers on DATA and re-enters the addressing state.
func TestAtnPreemptMidByte(t *testing.T) {
	sim, h, dev := newTestBus(8)
	dev.readData = []uint8{0x55, 0xAA, 0x11}

	host := sim.Host()
	host.AtnAssert()
	host.SendBytes([]uint8{0x48, 0x60}, false)
	host.AtnReleaseTurnaround()
	host.RecvByteIEC()
	// abandon the second byte after four bits and assert ATN
	host.RecvByteIECPreempt(4)
	host.Delay(300)

	run(t, sim, h)

	// the device must be back in addressing state: CLK released by
	// the device, DATA held low by it
	if !sim.DeviceDriving(pins.DATA) {
		t.Fatal("device not answering ATN after pre-emption")
	}
	if sim.DeviceDriving(pins.CLK) {
		t.Fatal("device still driving CLK after pre-emption")
	}

	// and a fresh transaction must work: finish with UNTALK
	host.SendBytes([]uint8{0x5F}, false)
	host.AtnRelease()
	host.ReleaseBus()
	run(t, sim, h)

	if dev.calls[len(dev.calls)-1] != "untalk" {
		t.Fatalf("expected untalk last, got %v", dev.calls)
	}
}

// A device that refuses data (canWrite 0) forces the transaction into
// the done state; the host sees the error as a timeout.
func TestDeviceRefused(t *testing.T) {
	sim, h, dev := newTestBus(8)
	dev.refuseWrite = true

	host := sim.Host()
	host.AtnAssert()
	host.SendBytes([]uint8{0x28, 0x62}, false)
	host.AtnRelease()
	host.SendBytes([]uint8{0x42}, false)
	host.AtnAssert()
	host.SendBytes([]uint8{0x3F}, false)
	host.AtnRelease()
	host.ReleaseBus()

	run(t, sim, h)

	if len(dev.written) != 0 {
		t.Fatalf("refused device still got data: %x", dev.written)
	}
	if host.Timeouts == 0 {
		t.Fatal("host saw no error")
	}
}

// A falling edge on RESET resets every device and releases the bus
// lines.
func TestResetEdge(t *testing.T) {
	sim, h, dev := newTestBus(8)

	// a couple of idle ticks latch the high RESET level
	for i := 0; i < 5; i++ {
		h.Tick()
	}

	host := sim.Host()
	host.Do(func(hh *simbus.Host) { hh.LowLine(pins.RESET) })
	host.Delay(50)
	host.Do(func(hh *simbus.Host) { hh.HighLine(pins.RESET) })
	run(t, sim, h)

	found := false
	for _, c := range dev.calls {
		if c == "reset" {
			found = true
		}
	}
	if !found {
		t.Fatalf("device not reset: %v", dev.calls)
	}
	if sim.DeviceDriving(pins.CLK) || sim.DeviceDriving(pins.DATA) {
		t.Fatal("lines still driven after reset")
	}
}
