/*
 * IECBus - Open collector line operations.
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
	"github.com/rcornwell/IECBus/emu/pins"
)

// Open collector write: release the line (pull-up takes it high) for
// true, drive it low for false. No line is ever driven high.
func (h *Handler) writePinCLK(v bool) {
	if v {
		h.pin.Release(pins.CLK)
	} else {
		h.pin.SetOutputLow(pins.CLK)
	}
}

func (h *Handler) writePinDATA(v bool) {
	if v {
		h.pin.Release(pins.DATA)
	} else {
		h.pin.SetOutputLow(pins.DATA)
	}
}

// writePinCTRL asserts (false) or releases (true) the hardware ATN
// override. While asserted, external hardware holds DATA low whenever
// ATN is low regardless of software timing.
func (h *Handler) writePinCTRL(v bool) {
	if !h.hasCtrl {
		return
	}
	if v {
		h.pin.Release(pins.CTRL)
	} else {
		h.pin.SetOutputLow(pins.CTRL)
	}
}

func (h *Handler) readPinATN() bool {
	return h.pin.Read(pins.ATN)
}

func (h *Handler) readPinCLK() bool {
	return h.pin.Read(pins.CLK)
}

func (h *Handler) readPinDATA() bool {
	return h.pin.Read(pins.DATA)
}

func (h *Handler) readPinRESET() bool {
	if !h.hasReset {
		return true
	}
	return h.pin.Read(pins.RESET)
}

// ---------------- DolphinDos parallel cable ----------------

func handshakeIRQ1() {
	if h := busHandler1; h != nil {
		h.handshakeRecv.Store(true)
	}
}

func handshakeIRQ2() {
	if h := busHandler2; h != nil {
		h.handshakeRecv.Store(true)
	}
}

// enableParallelCable wires the handshake lines and switches the data
// lines to input. Returns false if the HR line cannot raise an edge
// interrupt, in which case DolphinDos stays disabled.
func (h *Handler) enableParallelCable() bool {
	if h.hasParallel {
		return true
	}
	fn := handshakeIRQ1
	if busHandler2 == h {
		fn = handshakeIRQ2
	}
	if !h.pin.AttachFalling(pins.HR, fn) {
		return false
	}
	h.pin.Release(pins.HT)
	h.setParallelBusModeInput()
	h.hasParallel = true
	return true
}

// parallelBusHandshakeReceived consumes a latched falling edge on HR.
func (h *Handler) parallelBusHandshakeReceived() bool {
	return h.handshakeRecv.Swap(false)
}

// waitParallelBusHandshakeReceived blocks until an HR pulse arrives or
// ATN is asserted.
func (h *Handler) waitParallelBusHandshakeReceived() bool {
	for !h.parallelBusHandshakeReceived() {
		if !h.readPinATN() {
			return false
		}
	}
	return true
}

// parallelBusHandshakeTransmit sends a short open collector pulse on
// the HT line.
func (h *Handler) parallelBusHandshakeTransmit() {
	h.pin.SetOutputLow(pins.HT)
	h.waitTimeout(2)
	h.pin.Release(pins.HT)
}

func (h *Handler) readParallelData() uint8 {
	var res uint8
	for i := 0; i < 8; i++ {
		if h.pin.Read(pins.Parallel(i)) {
			res |= 1 << i
		}
	}
	return res
}

func (h *Handler) writeParallelData(data uint8) {
	for i := 0; i < 8; i++ {
		if data&(1<<i) == 0 {
			h.pin.SetOutputLow(pins.Parallel(i))
		} else {
			h.pin.Release(pins.Parallel(i))
		}
	}
}

// The data line direction is shared between the read and write paths;
// every write-side routine must switch back to input before it exits.
func (h *Handler) setParallelBusModeInput() {
	for i := 0; i < 8; i++ {
		h.pin.Release(pins.Parallel(i))
	}
}
