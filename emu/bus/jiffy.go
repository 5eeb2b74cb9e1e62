/*
 * IECBus - JiffyDos fast-load protocol.
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

// JiffyDos replaces the bit-serial phase with a self-clocked protocol:
// bit pairs are latched at fixed offsets from a single reference edge
// (CLK high on receive, DATA high on transmit), measured with the
// cycle timer. Interrupts stay masked for the whole byte.

// receiveJiffyByte receives one byte under the JiffyDos protocol.
func (h *Handler) receiveJiffyByte(canWriteOk bool) bool {
	var data uint8
	h.pin.TimerReset()

	h.pin.MaskInterrupts()

	// signal "ready" by releasing DATA
	h.writePinDATA(true)

	// wait (indefinitely) for CLK high ("ready-to-send") or ATN low.
	// Must be a blocking loop: the sender starts the byte immediately
	// after releasing CLK.
	for !h.readPinCLK() && h.readPinATN() {
	}

	h.pin.TimerStart()

	if !h.readPinATN() {
		h.pin.UnmaskInterrupts()
		return false
	}

	// bits 4+5 are valid 11 cycles after CLK high
	h.pin.TimerWaitUntil(14)
	if !h.readPinCLK() {
		data |= 1 << 4
	}
	if !h.readPinDATA() {
		data |= 1 << 5
	}

	// bits 6+7 at 24 cycles
	h.pin.TimerWaitUntil(27)
	if !h.readPinCLK() {
		data |= 1 << 6
	}
	if !h.readPinDATA() {
		data |= 1 << 7
	}

	// bits 3+1 at 35 cycles
	h.pin.TimerWaitUntil(38)
	if !h.readPinCLK() {
		data |= 1 << 3
	}
	if !h.readPinDATA() {
		data |= 1 << 1
	}

	// bits 2+0 at 48 cycles
	h.pin.TimerWaitUntil(51)
	if !h.readPinCLK() {
		data |= 1 << 2
	}
	if !h.readPinDATA() {
		data |= 1 << 0
	}

	// EOI status at 61 cycles: CLK still high means EOI
	h.pin.TimerWaitUntil(64)
	eoi := h.readPinCLK()

	// acknowledge receipt; sender reads the acknowledge at 80 cycles
	h.writePinDATA(false)
	h.pin.TimerWaitUntil(83)

	h.pin.UnmaskInterrupts()

	if !canWriteOk {
		return false
	}
	h.current.dev.Write(data, eoi)
	return true
}

// transmitJiffyByte transmits one byte under the JiffyDos protocol.
func (h *Handler) transmitJiffyByte(numData int8) bool {
	var data uint8
	if numData > 0 {
		data = h.current.dev.Peek()
	}

	h.pin.TimerReset()
	h.pin.MaskInterrupts()

	// signal "ready" by releasing CLK
	h.writePinCLK(true)

	// wait (indefinitely) for DATA high ("ready-to-receive") or ATN
	for !h.readPinDATA() && h.readPinATN() {
	}

	h.pin.TimerStart()

	if !h.readPinATN() {
		h.pin.UnmaskInterrupts()
		return false
	}

	// bit pairs go out at 0/16.5/27.5/39us; the receiver samples at
	// 16, 26, 37 and 48 cycles after DATA high
	h.writePinCLK(data&(1<<0) != 0)
	h.writePinDATA(data&(1<<1) != 0)
	h.pin.TimerWaitUntil(16.5)

	h.writePinCLK(data&(1<<2) != 0)
	h.writePinDATA(data&(1<<3) != 0)
	h.pin.TimerWaitUntil(27.5)

	h.writePinCLK(data&(1<<4) != 0)
	h.writePinDATA(data&(1<<5) != 0)
	h.pin.TimerWaitUntil(39)

	h.writePinCLK(data&(1<<6) != 0)
	h.writePinDATA(data&(1<<7) != 0)
	h.pin.TimerWaitUntil(50)

	// numData: 0 = nothing to send (error), 1 = last byte, >1 = more.
	if numData > 1 {
		// CLK low, DATA high: at least one more byte
		h.writePinCLK(false)
		h.writePinDATA(true)
	} else {
		// CLK high, DATA low: EOI; CLK high, DATA high: error
		h.writePinCLK(true)
		h.writePinDATA(numData == 0)
	}

	// receiver reads the EOI/error status at 59 cycles
	h.pin.UnmaskInterrupts()

	// let DATA settle before watching for the acknowledge; receiver
	// pulls DATA low at 63 cycles after the initial DATA high
	h.pin.TimerWaitUntil(60)

	if !h.waitPinDATA(false, 1000) {
		return false
	}

	if numData > 0 {
		// success: consume the byte previously read via Peek
		h.current.dev.Read()
		return true
	}
	return false
}

// transmitJiffyBlock sends up to a buffer of bytes in one self-clocked
// sequence (talk secondary 0x61, remapped to 0x60). The per-byte
// reference edge is DATA low, driven by the receiver.
func (h *Handler) transmitJiffyBlock(buffer []uint8) bool {
	// wait (indefinitely) until the receiver releases DATA. Must be
	// a blocking loop: the receiver starts its EOI timeout right after
	// releasing DATA.
	for !h.readPinDATA() {
		if !h.readPinATN() {
			return false
		}
	}

	if len(buffer) == 0 {
		// nothing to send: signal EOI by keeping DATA high and
		// pulsing CLK high then low
		h.writePinDATA(true)
		h.writePinCLK(true)
		if !h.waitTimeout(100) {
			return false
		}
		h.writePinCLK(false)
		h.waitTimeout(100)
		return false
	}

	// signal "ready to send" by pulling DATA low and releasing CLK
	h.writePinDATA(false)
	h.writePinCLK(true)

	// make sure the receiver has seen DATA low; even in its tight
	// loop a VIC "bad line" may steal 40us
	if !h.waitTimeout(50) {
		return false
	}

	h.pin.MaskInterrupts()

	for _, data := range buffer {
		// release DATA, then signal READY by releasing CLK
		h.writePinDATA(true)

		h.pin.TimerReset()
		h.writePinCLK(true)

		// wait (indefinitely) for the receiver to pull DATA low
		for h.readPinDATA() && h.readPinATN() {
		}

		h.pin.TimerStart()

		if !h.readPinATN() {
			h.pin.UnmaskInterrupts()
			return false
		}

		// receiver expects CLK high 4 cycles after DATA low
		h.pin.TimerWaitUntil(6)

		h.writePinCLK(data&(1<<0) != 0)
		h.writePinDATA(data&(1<<1) != 0)
		h.pin.TimerWaitUntil(17)

		h.writePinCLK(data&(1<<2) != 0)
		h.writePinDATA(data&(1<<3) != 0)
		h.pin.TimerWaitUntil(27)

		h.writePinCLK(data&(1<<4) != 0)
		h.writePinDATA(data&(1<<5) != 0)
		h.pin.TimerWaitUntil(39)

		h.writePinCLK(data&(1<<6) != 0)
		h.writePinDATA(data&(1<<7) != 0)
		h.pin.TimerWaitUntil(50)
	}

	// signal "not ready" and release DATA
	h.writePinCLK(false)
	h.writePinDATA(true)

	h.pin.UnmaskInterrupts()
	return true
}
