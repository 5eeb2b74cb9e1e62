/*
 * IECBus - Bus handler tests: JiffyDos protocol.
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
	"testing"

	"github.com/rcornwell/IECBus/emu/simbus"
)

// JiffyDos detection: the host holds the final bit of the primary
// address past 200us; the device answers and switches the data phase
// to the JiffyDos timing.
func TestJiffyDetectAndRead(t *testing.T) {
	sim, h, dev := newTestBus(8)
	h.EnableJiffyDosSupport(dev, true)
	dev.readData = []uint8{0x47, 0x00, 0xFF, 0xA5, 0x31}

	host := sim.Host()
	host.AtnAssert()
	host.SendByte(0x48, simbus.SendOpts{JiffyHold: true})
	host.SendByte(0x62, simbus.SendOpts{})
	host.AtnReleaseTurnaround()
	host.RecvJiffyUntilEOI(100)

	host.AtnAssert()
	host.SendBytes([]uint8{0x5F}, false)
	host.AtnRelease()
	host.ReleaseBus()

	run(t, sim, h)

	got := host.RecvData()
	if string(got) != string(dev.readData) {
		t.Fatalf("jiffy read: got %x, want %x", got, dev.readData)
	}
	for i, r := range host.Recv {
		if r.EOI != (i == len(host.Recv)-1) {
			t.Fatalf("byte %d: eoi=%v", i, r.EOI)
		}
	}
}

// The detection window only applies to the primary address byte: a
// slow final bit on the secondary must not arm JiffyDos.
func TestJiffyNoDetectOnSecondary(t *testing.T) {
	sim, h, dev := newTestBus(8)
	h.EnableJiffyDosSupport(dev, true)

	host := sim.Host()
	host.AtnAssert()
	host.SendByte(0x28, simbus.SendOpts{})
	host.SendByte(0x62, simbus.SendOpts{JiffyHold: true})
	host.AtnRelease()

	run(t, sim, h)

	if h.ProtocolFlags(8)&SJiffyDetected != 0 {
		t.Fatal("JiffyDos detected on the secondary address byte")
	}
}

// Detection must not arm on a disabled device either.
func TestJiffyNoDetectWhenDisabled(t *testing.T) {
	sim, h, dev := newTestBus(8)
	_ = dev

	host := sim.Host()
	host.AtnAssert()
	host.SendByte(0x28, simbus.SendOpts{JiffyHold: true})
	host.SendByte(0x62, simbus.SendOpts{})
	host.AtnRelease()

	run(t, sim, h)

	if h.ProtocolFlags(8)&SJiffyDetected != 0 {
		t.Fatal("JiffyDos detected although disabled")
	}
}

// JiffyDos block mode: talk secondary 0x61 after detection remaps to
// 0x60 and streams whole buffers with the block timing.
func TestJiffyBlockRead(t *testing.T) {
	sim, h, dev := newTestBus(8)
	h.EnableJiffyDosSupport(dev, true)
	data := make([]uint8, 20)
	for i := range data {
		data[i] = uint8(3*i + 1)
	}
	dev.readData = data

	host := sim.Host()
	host.AtnAssert()
	host.SendByte(0x48, simbus.SendOpts{JiffyHold: true})
	// talk secondary 0x61 selects the JiffyDos block transfer mode
	host.SendByte(0x61, simbus.SendOpts{})
	host.AtnReleaseTurnaround()
	host.RecvJiffyBlock(len(data))

	host.AtnAssert()
	host.SendBytes([]uint8{0x5F}, false)
	host.AtnRelease()
	host.ReleaseBus()

	run(t, sim, h)

	// the transient flag is gone after the trailing ATN; the talk
	// remap to secondary 0x60 shows block mode was selected
	found := false
	for _, c := range dev.calls {
		if c == "talk 60" {
			found = true
		}
	}
	if !found {
		t.Fatalf("block mode not remapped to secondary 60: %v", dev.calls)
	}

	got := host.RecvData()
	if string(got) != string(data) {
		t.Fatalf("block read: got %x, want %x", got, data)
	}
}

// JiffyDos save: after detection, bytes written by the host with the
// fast timing reach the device in order, EOI on the final byte.
func TestJiffySave(t *testing.T) {
	sim, h, dev := newTestBus(8)
	h.EnableJiffyDosSupport(dev, true)

	host := sim.Host()
	host.AtnAssert()
	host.SendByte(0x28, simbus.SendOpts{JiffyHold: true})
	host.SendByte(0x61, simbus.SendOpts{})
	host.AtnRelease()
	host.JiffySendByte(0x01, false)
	host.JiffySendByte(0x08, false)
	host.JiffySendByte('H', false)
	host.JiffySendByte('I', true)
	host.AtnAssert()
	host.SendBytes([]uint8{0x3F}, false)
	host.AtnRelease()
	host.ReleaseBus()

	run(t, sim, h)

	want := []uint8{0x01, 0x08, 'H', 'I'}
	if string(dev.written) != string(want) {
		t.Fatalf("written: got %x want %x", dev.written, want)
	}
	for i, e := range dev.eois {
		if e != (i == 3) {
			t.Fatalf("eoi %d = %v", i, e)
		}
	}
}
