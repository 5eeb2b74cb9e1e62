/*
 * IECBus - Epyx FastLoad protocol.
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
	"bytes"

	dev "github.com/rcornwell/IECBus/emu/device"
)

// Epyx FastLoad uploads a 256 byte drive routine via M-W/M-E commands
// on the command channel; the routine is recognized by its 8-bit sum.
// Both transfer directions are fully receiver-clocked and run with
// interrupts masked.

// Upload routine checksums.
const (
	epyxLoadV1 = 0x26 // V1 load file
	epyxLoadV2 = 0x86 // V2 load file
	epyxLoadV3 = 0xAA // V3 load file

	epyxSectorReadV1  = 0x0B // V1 sector read
	epyxSectorWriteV1 = 0xBA // V1 sector write
	epyxSectorV23     = 0xB8 // V2/V3 sector read or write
)

// receiveEpyxByte receives one byte: bit i is sampled after CLK
// toggles, DATA is read inverted. Interrupts must already be masked;
// the zero-timeout waits avoid the wall clock on purpose.
func (h *Handler) receiveEpyxByte(data *uint8) bool {
	clk := true
	for i := 0; i < 8; i++ {
		clk = !clk
		if !h.waitPinCLK(clk, 0) {
			return false
		}
		*data >>= 1
		if !h.readPinDATA() {
			*data |= 0x80
		}
	}
	return true
}

// transmitEpyxByte transmits one byte, inverted, in the bit pair order
// {7,5} {6,4} {3,1} {2,0} at 0/17/27/37/47us after the receiver
// releases DATA.
func (h *Handler) transmitEpyxByte(data uint8) bool {
	// receiver expects all data bits inverted
	data = ^data

	h.pin.TimerReset()

	// wait (indefinitely) for DATA high ("ready") or ATN low
	for !h.readPinDATA() && h.readPinATN() {
	}

	h.pin.TimerStart()

	if !h.readPinATN() {
		return false
	}

	// receiver samples the pairs 15/25/35/45 cycles after DATA high
	h.writePinCLK(data&(1<<7) != 0)
	h.writePinDATA(data&(1<<5) != 0)
	h.pin.TimerWaitUntil(17)

	h.writePinCLK(data&(1<<6) != 0)
	h.writePinDATA(data&(1<<4) != 0)
	h.pin.TimerWaitUntil(27)

	h.writePinCLK(data&(1<<3) != 0)
	h.writePinDATA(data&(1<<1) != 0)
	h.pin.TimerWaitUntil(37)

	h.writePinCLK(data&(1<<2) != 0)
	h.writePinDATA(data&(1<<0) != 0)
	h.pin.TimerWaitUntil(47)

	// release DATA, let it settle, then wait for the receiver to pull
	// it low ("not ready")
	h.writePinDATA(true)
	h.pin.TimerWaitUntil(49)

	return h.waitPinDATA(false, 0)
}

// receiveEpyxHeader receives the uploaded drive routine once the
// M-W/M-E sequence was recognized and DATA has been released.
func (h *Handler) receiveEpyxHeader() bool {
	// the computer clocks everything; signaling "ready" with delayed
	// responses would desynchronize, so interrupts stay masked
	h.pin.MaskInterrupts()

	// pull CLK low: ready for the header
	h.writePinCLK(false)

	// wait for the sender to pull DATA low
	if !h.waitPinDATA(false, 0) {
		h.pin.UnmaskInterrupts()
		return false
	}

	h.writePinCLK(true)

	// receive the 256 byte routine upload and sum it
	var data, checksum uint8
	for i := 0; i < 256; i++ {
		if !h.receiveEpyxByte(&data) {
			h.pin.UnmaskInterrupts()
			return false
		}
		checksum += data
	}

	switch checksum {
	case epyxLoadV1, epyxLoadV2, epyxLoadV3:
		// LOAD FILE: receive the name length, then the name in
		// reverse order
		var n uint8
		if h.receiveEpyxByte(&n) && n > 0 && n <= 32 {
			for i := n; i > 0; i-- {
				if !h.receiveEpyxByte(&h.buffer[i-1]) {
					h.pin.UnmaskInterrupts()
					return false
				}
			}

			// pull CLK low: not ready while the file opens
			h.writePinCLK(false)
			h.pin.UnmaskInterrupts()

			// run the DOS OPEN on channel 0
			h.current.dev.Listen(0xF0)
			for i := uint8(0); i < n; i++ {
				var ok int8
				for ok = h.current.dev.CanWrite(); ok < 0; ok = h.current.dev.CanWrite() {
					if !h.readPinATN() {
						return false
					}
				}
				if ok == 0 {
					return false
				}
				h.current.dev.Write(h.buffer[i], i < n-1)
			}
			h.current.dev.Unlisten()

			h.current.sflags |= SEpyxLoad
			return true
		}

	case epyxSectorReadV1:
		if h.sectorOps {
			return h.startEpyxSectorCommand(0x82)
		}
	case epyxSectorWriteV1:
		if h.sectorOps {
			return h.startEpyxSectorCommand(0x81)
		}
	case epyxSectorV23:
		if h.sectorOps {
			return h.startEpyxSectorCommand(0)
		}
	}

	// unrecognized upload: release the lines, no side effects
	h.pin.UnmaskInterrupts()
	return false
}

// transmitEpyxBlock sends one block: a length byte then the payload.
// A zero length block terminates the transfer on the receiver side.
func (h *Handler) transmitEpyxBlock() bool {
	n := h.current.dev.ReadBytes(h.buffer)

	h.pin.MaskInterrupts()

	// release CLK: ready
	h.writePinCLK(true)

	if !h.transmitEpyxByte(n) {
		h.pin.UnmaskInterrupts()
		return false
	}
	for i := uint8(0); i < n; i++ {
		if !h.transmitEpyxByte(h.buffer[i]) {
			h.pin.UnmaskInterrupts()
			return false
		}
	}

	// pull CLK low: not ready
	h.writePinCLK(false)
	h.pin.UnmaskInterrupts()

	return n > 0
}

// startEpyxSectorCommand receives a sector command (track, sector and,
// for V2/V3, the command byte; 256 data bytes on a write). Interrupts
// are assumed masked on entry and are enabled before returning.
func (h *Handler) startEpyxSectorCommand(command uint8) bool {
	var track, sector uint8

	if command == 0x81 {
		// V1 sector write: wait for DATA low with interrupts enabled
		// (as the 1541 routine does), then release CLK
		h.pin.UnmaskInterrupts()
		if !h.waitPinDATA(false, 0) {
			return false
		}
		h.pin.MaskInterrupts()
		h.writePinCLK(true)
	}

	if !h.receiveEpyxByte(&track) || !h.receiveEpyxByte(&sector) {
		h.pin.UnmaskInterrupts()
		return false
	}

	// V1 uploads distinct routines for read and write and does not
	// send a command byte
	if command == 0 && !h.receiveEpyxByte(&command) {
		h.pin.UnmaskInterrupts()
		return false
	}

	if command&0x7F == 1 {
		// sector write: receive the data
		for i := 0; i < 256; i++ {
			if !h.receiveEpyxByte(&h.buffer[i]) {
				h.pin.UnmaskInterrupts()
				return false
			}
		}
	}

	// pull CLK low: not ready while the device works
	h.writePinCLK(false)
	h.pin.UnmaskInterrupts()

	if command&0x7F == 1 {
		sd, ok := h.current.dev.(dev.SectorDevice)
		if !ok || !sd.EpyxWriteSector(track, sector, h.buffer[:256]) {
			return false
		}
	}

	// buffer size is at least 256 here; park the continuation state
	h.buffer[0] = command
	h.buffer[1] = track
	h.buffer[2] = sector

	h.current.sflags |= SEpyxSectorOp
	return true
}

// finishEpyxSectorCommand completes a pending sector operation and
// waits for the next one, providing a heartbeat so the computer knows
// the drive code is still resident.
func (h *Handler) finishEpyxSectorCommand() bool {
	command := h.buffer[0]
	track := h.buffer[1]
	sector := h.buffer[2]

	if command&0x7F != 1 {
		sd, ok := h.current.dev.(dev.SectorDevice)
		if !ok || !sd.EpyxReadSector(track, sector, h.buffer[:256]) {
			return false
		}
	}

	// the computer clocks all timing from here on
	h.pin.MaskInterrupts()

	// release CLK: ready
	h.writePinCLK(true)

	if command == 0x81 {
		// V1 sector write loops via its own continuation
		return h.startEpyxSectorCommand(0x81)
	}

	if command&0x7F != 1 {
		// sector read: send the data
		for i := 0; i < 256; i++ {
			if !h.transmitEpyxByte(h.buffer[i]) {
				h.pin.UnmaskInterrupts()
				return false
			}
		}
	} else {
		// release DATA and wait for the computer to pull it low
		h.writePinDATA(true)
		if !h.waitPinDATA(false, 0) {
			h.pin.UnmaskInterrupts()
			return false
		}
	}

	// Toggle CLK as a heartbeat until the computer releases DATA or
	// asserts ATN. Without the heartbeat the computer re-uploads the
	// drive code for every sector, and without the iteration cap we
	// would spin forever with interrupts masked if the host vanished:
	// 30000 * ~16us, about half a second.
	h.pin.TimerReset()
	h.pin.TimerStart()
	for i := 0; i < 30000; i++ {
		h.writePinCLK(false)
		if !h.readPinATN() {
			break
		}
		h.pin.UnmaskInterrupts()
		h.pin.TimerWaitUntil(8)
		h.pin.MaskInterrupts()
		h.writePinCLK(true)
		if h.readPinDATA() {
			break
		}
		h.pin.TimerWaitUntil(16)
		h.pin.TimerReset()
		h.pin.TimerStart()
	}

	// abort on timeout (DATA still low) or ATN
	if !h.readPinDATA() || !h.readPinATN() {
		h.pin.UnmaskInterrupts()
		return false
	}

	// the sender's DATA high pulse can be up to 90us
	if !h.waitTimeout(100) {
		h.pin.UnmaskInterrupts()
		return false
	}

	// DATA still high (or ATN low) means done; otherwise another
	// sector follows
	if h.readPinDATA() || !h.readPinATN() {
		h.pin.UnmaskInterrupts()
		return false
	}
	if command&0x80 != 0 {
		return h.startEpyxSectorCommand(command)
	}
	return h.startEpyxSectorCommand(0)
}

// tickEpyx services pending Epyx work from Tick(): a recognized header
// once DATA is released, one block per tick during a load, and sector
// operation continuations.
func (h *Handler) tickEpyx() {
	for _, bd := range h.devices {
		switch {
		case bd.sflags&SEpyxHeader != 0 && h.readPinDATA():
			h.current = bd
			bd.sflags &^= SEpyxHeader
			if !h.receiveEpyxHeader() {
				// transmission error or unknown upload
				h.writePinCLK(true)
				h.writePinDATA(true)
			}

		case bd.sflags&SEpyxLoad != 0:
			h.current = bd
			if !h.transmitEpyxBlock() {
				// end-of-data or transmission error
				h.writePinCLK(true)
				h.writePinDATA(true)

				// close the file opened in receiveEpyxHeader
				h.current.dev.Listen(0xE0)
				h.current.dev.Unlisten()

				bd.sflags &^= SEpyxLoad
			}

		case bd.sflags&SEpyxSectorOp != 0:
			h.current = bd
			if !h.finishEpyxSectorCommand() {
				h.writePinCLK(true)
				h.writePinDATA(true)
				bd.sflags &^= SEpyxSectorOp
			}
		}
	}
}

// ---------------- upload sequence recognition ----------------

// Expected M-W command: destination address, payload length and 8-bit
// payload checksum.
type epyxMW struct {
	addr uint16
	len  uint8
	sum  uint8
}

// Recognized command channel sequences. Each M-W must arrive in order;
// any other command resets the walk. The final M-E address identifies
// the cartridge version.
var (
	epyxSeqV1 = []epyxMW{{0x0180, 0x20, 0x2E}, {0x01A0, 0x20, 0xA5}}
	epyxMEV1  = []byte{'M', '-', 'E', 0xA2, 0x01}

	epyxSeqV23 = []epyxMW{{0x0180, 0x19, 0x53}, {0x0199, 0x19, 0xA6}, {0x01B2, 0x19, 0x8F}}
	epyxMEV23  = []byte{'M', '-', 'E', 0xA9, 0x01}
)

// EpyxSniffer recognizes the Epyx FastLoad M-W/M-E command sequence on
// the command channel. Feed each complete command; Feed returns true
// when the command belongs to a recognized sequence, and sets done
// when the closing M-E arrived.
type EpyxSniffer struct {
	ctr uint8
}

// Reset clears the sequence walk.
func (s *EpyxSniffer) Reset() {
	s.ctr = 0
}

// Feed advances the recognizer with one command channel command.
// handled reports that the command was consumed by the recognizer,
// done that the full load sequence has been seen.
func (s *EpyxSniffer) Feed(cmd []byte) (handled bool, done bool) {
	switch {
	case s.ctr == 0 && checkMWCmd(cmd, epyxSeqV1[0]):
		s.ctr = 11
	case s.ctr == 11 && checkMWCmd(cmd, epyxSeqV1[1]):
		s.ctr = 12
	case s.ctr == 12 && bytes.HasPrefix(cmd, epyxMEV1):
		s.ctr = 0
		return true, true // Epyx V1
	case s.ctr == 0 && checkMWCmd(cmd, epyxSeqV23[0]):
		s.ctr = 21
	case s.ctr == 21 && checkMWCmd(cmd, epyxSeqV23[1]):
		s.ctr = 22
	case s.ctr == 22 && checkMWCmd(cmd, epyxSeqV23[2]):
		s.ctr = 23
	case s.ctr == 23 && bytes.HasPrefix(cmd, epyxMEV23):
		s.ctr = 0
		return true, true // Epyx V2 or V3
	default:
		s.ctr = 0
		return false, false
	}
	return true, false
}

// checkMWCmd matches one M-W command against destination address,
// length and payload checksum.
func checkMWCmd(cmd []byte, want epyxMW) bool {
	if len(cmd) < int(want.len)+6 || !bytes.HasPrefix(cmd, []byte("M-W")) {
		return false
	}
	if cmd[3] != uint8(want.addr&0xFF) || cmd[4] != uint8(want.addr>>8) || cmd[5] != want.len {
		return false
	}
	var c uint8
	for i := uint8(0); i < want.len; i++ {
		c += cmd[6+i]
	}
	return c == want.sum
}
