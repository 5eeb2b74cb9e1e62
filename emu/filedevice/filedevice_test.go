/*
 * IECBus - File device layer tests.
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

package filedevice_test

import (
	"testing"

	"github.com/rcornwell/IECBus/emu/bus"
	"github.com/rcornwell/IECBus/emu/filedevice"
	"github.com/rcornwell/IECBus/emu/simbus"
)

// Recording backend.
type fakeBackend struct {
	opens    []string
	closes   []uint8
	execs    []string
	readData []uint8
	rdPos    int
	written  []uint8
}

func (b *fakeBackend) Open(channel uint8, name string) {
	b.opens = append(b.opens, name)
}

func (b *fakeBackend) Close(channel uint8) {
	b.closes = append(b.closes, channel)
}

func (b *fakeBackend) Read(channel uint8, buf []uint8) uint8 {
	n := copy(buf, b.readData[b.rdPos:])
	b.rdPos += n
	return uint8(n)
}

func (b *fakeBackend) Write(channel uint8, buf []uint8) uint8 {
	b.written = append(b.written, buf...)
	return uint8(len(buf))
}

func (b *fakeBackend) Status(buf []uint8) uint8 {
	return uint8(copy(buf, "00, OK,00,00"))
}

func (b *fakeBackend) Execute(cmd []uint8) {
	b.execs = append(b.execs, string(cmd))
}

func (b *fakeBackend) Reset() {}

func newDevice(t *testing.T) (*filedevice.Device, *fakeBackend) {
	t.Helper()
	b := &fakeBackend{}
	d := filedevice.New(8, b)
	h := bus.New(simbus.New(), true, true)
	if err := d.Attach(h); err != nil {
		t.Fatal(err)
	}
	return d, b
}

// OPEN captures the file name and completes at unlisten.
func TestOpenNameCapture(t *testing.T) {
	d, b := newDevice(t)

	d.Listen(0xF2)
	for _, c := range []uint8("NOTES,S,R") {
		d.Write(c, false)
	}
	d.Unlisten()
	d.Task() // no effect: open runs from canRead/canWrite here
	d.CanWrite()

	if len(b.opens) != 1 || b.opens[0] != "NOTES,S,R" {
		t.Fatalf("opens: %v", b.opens)
	}
}

// The read path keeps a two byte lookahead so the last byte can carry
// the EOI mark.
func TestReadLookahead(t *testing.T) {
	d, b := newDevice(t)
	b.readData = []uint8{0x11, 0x22, 0x33}

	d.Listen(0xF0)
	d.Write('F', false)
	d.Unlisten()
	d.CanWrite() // runs the deferred open
	d.Talk(0x60)

	var got []uint8
	lastN := int8(0)
	for i := 0; i < 10; i++ {
		n := d.CanRead()
		if n <= 0 {
			break
		}
		lastN = n
		if p := d.Peek(); p != b.readData[len(got)] {
			t.Fatalf("peek: got %02x want %02x", p, b.readData[len(got)])
		}
		got = append(got, d.Read())
	}
	if string(got) != string(b.readData) {
		t.Fatalf("read %x, want %x", got, b.readData)
	}
	// the final byte was served with canRead()==1, the EOI marker
	if lastN != 1 {
		t.Fatalf("final canRead was %d, want 1", lastN)
	}
}

// A CLOSE of channel 15 is not a close: the command channel stays
// open and captures commands instead.
func TestCloseChannel15Ignored(t *testing.T) {
	d, b := newDevice(t)

	d.Listen(0xEF)
	d.Unlisten()
	d.CanWrite()

	if len(b.closes) != 0 {
		t.Fatalf("channel 15 was closed: %v", b.closes)
	}
}

// Unknown command channel commands reach the backend.
func TestExecutePassthrough(t *testing.T) {
	d, b := newDevice(t)

	// a trailing carriage return is stripped from the command
	d.Listen(0x6F)
	for _, c := range []uint8("I0\r") {
		d.Write(c, false)
	}
	d.Unlisten()
	d.CanWrite()

	if len(b.execs) != 1 || b.execs[0] != "I0" {
		t.Fatalf("execs: %v", b.execs)
	}
}

// The write path buffers one byte and flushes it from the task.
func TestWriteBuffering(t *testing.T) {
	d, b := newDevice(t)

	d.Listen(0x62)
	if d.CanWrite() <= 0 {
		t.Fatal("device not ready for data")
	}
	d.Write(0x41, false)
	if d.CanWrite() <= 0 {
		// the buffered byte flushes inside canWrite
		t.Fatal("device did not drain its write buffer")
	}
	d.Write(0x42, true)
	d.CanWrite()
	d.Unlisten()

	if string(b.written) != "AB" {
		t.Fatalf("written: %q", b.written)
	}
}

// The status channel serves the backend status text.
func TestStatusRead(t *testing.T) {
	d, _ := newDevice(t)

	d.Talk(0x6F)
	var got []uint8
	for i, n := int8(0), d.CanRead(); i < n; i++ {
		got = append(got, d.Read())
	}
	if string(got) != "00, OK,00,00" {
		t.Fatalf("status: %q", got)
	}
}

// The DolphinDos burst commands are handled by the device layer, not
// the backend.
func TestDolphinCommands(t *testing.T) {
	b := &fakeBackend{}
	d := filedevice.New(8, b)
	h := bus.New(simbus.New(), true, true)
	if err := d.Attach(h); err != nil {
		t.Fatal(err)
	}

	exec := func(cmd string) {
		d.Listen(0x6F)
		for _, c := range []uint8(cmd) {
			d.Write(c, false)
		}
		d.Unlisten()
		d.CanWrite()
	}

	exec("XZ")
	if h.ProtocolFlags(8)&bus.SDolphinBurstRx == 0 {
		t.Fatal("XZ did not request a burst receive")
	}
	exec("XQ")
	if h.ProtocolFlags(8)&bus.SDolphinBurstTx == 0 {
		t.Fatal("XQ did not request a burst transmit")
	}
	exec("XF-")
	if h.ProtocolFlags(8)&bus.SDolphinBurstEnabled != 0 {
		t.Fatal("XF- left burst mode enabled")
	}
	exec("XF+")
	if h.ProtocolFlags(8)&bus.SDolphinBurstEnabled == 0 {
		t.Fatal("XF+ did not enable burst mode")
	}
	if len(b.execs) != 0 {
		t.Fatalf("burst commands leaked to the backend: %v", b.execs)
	}
}
