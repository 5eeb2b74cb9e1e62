/*
 * IECBus - Channel and file layer for bus devices.
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

package filedevice

import (
	"github.com/rcornwell/IECBus/emu/bus"
)

// Backend is the file store behind a Device: it sees open/close and
// whole-byte reads and writes per channel and never touches the bus.
type Backend interface {
	// Open opens the named file on a channel (0-14).
	Open(channel uint8, name string)
	// Close closes the file on a channel.
	Close(channel uint8)
	// Read fills buf from the file on channel, returning the count.
	// Returning 0 signals end-of-file; returning 0 on the first read
	// after Open signals "file not found".
	Read(channel uint8, buf []uint8) uint8
	// Write appends buf to the file on channel, returning how many
	// bytes were accepted; fewer than len(buf) means "cannot receive
	// more data".
	Write(channel uint8, buf []uint8) uint8
	// Status fills buf with the current status message text and
	// returns its length (called when the status buffer drained).
	Status(buf []uint8) uint8
	// Execute runs a command channel command not handled internally.
	Execute(cmd []uint8)
	// Reset is called on a bus reset.
	Reset()
}

// Deferred command kinds, executed from the file task.
const (
	cmdNone = iota
	cmdOpen
	cmdRead
	cmdWrite
	cmdClose
	cmdExec
)

// Device adapts a Backend to the bus handler's device interface. It
// keeps a two byte read lookahead and a one byte write buffer per
// channel so the per-byte bus callbacks stay fast, and defers the
// Backend calls to the file task. The command channel (15) carries
// the status buffer and recognizes the DolphinDos XQ/XZ/XF and Epyx
// M-W/M-E command sequences.
type Device struct {
	devnr   uint8
	backend Backend
	handler *bus.Handler

	channel     uint8
	cmd         int
	opening     bool
	canServeATN bool

	nameBuffer [41]uint8
	nameLen    int

	dataBuffer [15][2]uint8
	dataLen    [15]int8

	statusBuffer [32]uint8
	statusLen    int8
	statusPtr    int8

	epyx bus.EpyxSniffer
}

// New creates a file device with the given bus address and backend.
func New(devnr uint8, backend Backend) *Device {
	return &Device{devnr: devnr, backend: backend, cmd: cmdNone}
}

// Attach registers the device on a bus handler. Protocol support is
// enabled separately through the handler.
func (d *Device) Attach(h *bus.Handler) error {
	if err := h.AttachDevice(d); err != nil {
		return err
	}
	d.handler = h
	return nil
}

// Address returns the bus address.
func (d *Device) Address() uint8 {
	return d.devnr
}

// Begin prepares the device when the bus handler starts.
func (d *Device) Begin() {
	d.statusPtr = 0
	d.statusLen = 0
	for i := range d.dataLen {
		d.dataLen[i] = 0
	}
	d.cmd = cmdNone

	// The file task can spend long stretches in the backend, during
	// which ATN cannot be answered in time by software alone. With
	// the hardware ATN override (or the ATN interrupt) the task runs
	// from Task(); without it the task must run inside CanRead and
	// CanWrite, which are allowed to block.
	d.canServeATN = d.handler != nil && d.handler.CanServeATN()
}

// Reset clears all channel state on a bus reset.
func (d *Device) Reset() {
	d.statusPtr = 0
	d.statusLen = 0
	for i := range d.dataLen {
		d.dataLen[i] = 0
	}
	d.cmd = cmdNone
	d.epyx.Reset()
	d.backend.Reset()
}

// Task runs the deferred file work once per bus handler tick.
func (d *Device) Task() {
	if d.canServeATN {
		d.fileTask()
	}
}

// PrimaryAddress is called as the primary address byte is captured.
func (d *Device) PrimaryAddress(primary uint8) {
}

// SecondaryAddress is called as the secondary address byte is
// captured.
func (d *Device) SecondaryAddress(secondary uint8) {
}

// Talk selects the channel the host wants to read.
func (d *Device) Talk(secondary uint8) {
	d.channel = secondary & 0x0F
}

// Untalk ends a talk transaction.
func (d *Device) Untalk() {
}

// Listen selects the channel the host wants to write, starting a name
// capture on OPEN and flagging CLOSE.
func (d *Device) Listen(secondary uint8) {
	d.channel = secondary & 0x0F

	switch {
	case d.channel == 15:
		// commands on the command channel are captured like a file
		// name; a CLOSE of channel 15 is deliberately not a close
		d.nameLen = 0
	case secondary&0xF0 == 0xF0:
		d.opening = true
		d.nameLen = 0
	case secondary&0xF0 == 0xE0:
		d.cmd = cmdClose
	}
}

// Unlisten finishes a listen transaction: it completes an OPEN or
// queues a command channel command for execution.
func (d *Device) Unlisten() {
	if d.channel == 15 {
		if d.nameLen > 0 {
			// strip a trailing carriage return
			if d.nameBuffer[d.nameLen-1] == 13 {
				d.nameLen--
			}
			d.cmd = cmdExec
		}
	} else if d.opening {
		d.opening = false
		d.cmd = cmdOpen
	}
}

// CanWrite reports whether a data byte can be accepted.
func (d *Device) CanWrite() int8 {
	if !d.canServeATN {
		d.fileTask()
	}
	if d.opening || d.channel == 15 || d.dataLen[d.channel] < 1 {
		return 1
	}
	return 0
}

// CanRead reports how many bytes are ready to transmit.
func (d *Device) CanRead() int8 {
	if !d.canServeATN {
		d.fileTask()
	}

	if d.channel == 15 {
		if d.statusPtr == d.statusLen {
			n := d.backend.Status(d.statusBuffer[:31])
			d.statusLen = int8(n)
			d.statusPtr = 0
		}
		return d.statusLen - d.statusPtr
	}

	if d.dataLen[d.channel] < 0 {
		// first call after open: probe for up to two bytes so EOI can
		// be signaled on the final one
		ch := d.channel
		if d.backend.Read(ch, d.dataBuffer[ch][0:1]) == 0 {
			d.dataLen[ch] = 0
		} else if d.backend.Read(ch, d.dataBuffer[ch][1:2]) == 0 {
			d.dataLen[ch] = 1
		} else {
			d.dataLen[ch] = 2
		}
	}
	return d.dataLen[d.channel]
}

// Write accepts one received byte.
func (d *Device) Write(data uint8, eoi bool) {
	// must return within a millisecond; no backend work here
	if d.channel < 15 && !d.opening {
		d.dataBuffer[d.channel][0] = data
		d.dataLen[d.channel] = 1
		d.cmd = cmdWrite
	} else if d.nameLen < len(d.nameBuffer)-1 {
		d.nameBuffer[d.nameLen] = data
		d.nameLen++
	}
}

// WriteBytes accepts a block of received bytes (burst transfers).
func (d *Device) WriteBytes(buf []uint8, eoi bool) uint8 {
	n := d.dataLen[d.channel]
	if n > 0 {
		// flush the write buffer first
		nn := d.backend.Write(d.channel, d.dataBuffer[d.channel][:n])
		n -= int8(nn)
		d.dataLen[d.channel] = n
		if n > 0 {
			return 0
		}
	}
	return d.backend.Write(d.channel, buf)
}

// Read consumes the next byte to transmit.
func (d *Device) Read() uint8 {
	if d.channel == 15 {
		data := d.statusBuffer[d.statusPtr]
		d.statusPtr++
		return data
	}

	data := d.dataBuffer[d.channel][0]
	if d.dataLen[d.channel] == 2 {
		d.dataBuffer[d.channel][0] = d.dataBuffer[d.channel][1]
		d.dataLen[d.channel] = 1
		d.cmd = cmdRead
	} else {
		d.dataLen[d.channel] = 0
	}
	return data
}

// ReadBytes fills buf for block transfers.
func (d *Device) ReadBytes(buf []uint8) uint8 {
	var res uint8

	// drain the lookahead first; works for a one byte buf too
	for d.dataLen[d.channel] > 0 && int(res) < len(buf) {
		buf[res] = d.dataBuffer[d.channel][0]
		res++
		d.dataBuffer[d.channel][0] = d.dataBuffer[d.channel][1]
		d.dataLen[d.channel]--
	}

	for int(res) < len(buf) {
		n := d.backend.Read(d.channel, buf[res:])
		if n == 0 {
			break
		}
		res += n
	}
	return res
}

// Peek returns the next byte to transmit without consuming it.
func (d *Device) Peek() uint8 {
	if d.channel == 15 {
		return d.statusBuffer[d.statusPtr]
	}
	return d.dataBuffer[d.channel][0]
}

// SetStatus loads the status buffer (up to 32 bytes).
func (d *Device) SetStatus(data []uint8) {
	d.statusPtr = 0
	d.statusLen = int8(copy(d.statusBuffer[:], data))
}

// ClearStatus drops the status buffer, so the next status query asks
// the backend again.
func (d *Device) ClearStatus() {
	d.SetStatus(nil)
}

// fileTask runs the deferred command, if any.
func (d *Device) fileTask() {
	switch d.cmd {
	case cmdOpen:
		d.backend.Open(d.channel, string(d.nameBuffer[:d.nameLen]))
		d.dataLen[d.channel] = -1

	case cmdRead:
		ch := d.channel
		n := d.dataLen[ch]
		if d.backend.Read(ch, d.dataBuffer[ch][n:n+1]) != 0 {
			d.dataLen[ch]++
		}

	case cmdWrite:
		if d.backend.Write(d.channel, d.dataBuffer[d.channel][:1]) == 1 {
			d.dataLen[d.channel] = 0
		}

	case cmdClose:
		d.backend.Close(d.channel)
		d.dataLen[d.channel] = 0

	case cmdExec:
		d.execute()
	}
	d.cmd = cmdNone
}

// execute handles a completed command channel command: the Epyx
// M-W/M-E recognizer and the DolphinDos burst commands run here,
// everything else goes to the backend.
func (d *Device) execute() {
	cmd := d.nameBuffer[:d.nameLen]

	handled, done := d.epyx.Feed(cmd)
	if done {
		d.handler.EpyxLoadRequest(d)
	}

	switch string(cmd) {
	case "XQ":
		// burst transmit the file on channel 0
		d.handler.DolphinBurstTransmitRequest(d)
		d.channel = 0
		handled = true
	case "XZ":
		// burst receive into the file on channel 1
		d.handler.DolphinBurstReceiveRequest(d)
		d.channel = 1
		handled = true
	case "XF+":
		d.handler.EnableDolphinBurstMode(d, true)
		d.ClearStatus()
		handled = true
	case "XF-":
		d.handler.EnableDolphinBurstMode(d, false)
		d.ClearStatus()
		handled = true
	}

	if !handled {
		d.backend.Execute(cmd)
	}
}

// SectorBackend is implemented by backends that support the Epyx
// FastLoad sector operations.
type SectorBackend interface {
	ReadSector(track uint8, sector uint8, buf []uint8) bool
	WriteSector(track uint8, sector uint8, buf []uint8) bool
}

// EpyxReadSector forwards a sector read to the backend, if supported.
func (d *Device) EpyxReadSector(track uint8, sector uint8, buf []uint8) bool {
	if sb, ok := d.backend.(SectorBackend); ok {
		return sb.ReadSector(track, sector, buf)
	}
	return false
}

// EpyxWriteSector forwards a sector write to the backend, if
// supported.
func (d *Device) EpyxWriteSector(track uint8, sector uint8, buf []uint8) bool {
	if sb, ok := d.backend.(SectorBackend); ok {
		return sb.WriteSector(track, sector, buf)
	}
	return false
}
