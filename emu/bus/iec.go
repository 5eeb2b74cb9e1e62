/*
 * IECBus - Standard IEC handshake and cooperative scheduler.
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

// Primary address byte encoding.
const (
	cmdListen   = 0x20 // 0x20|addr
	cmdTalk     = 0x40 // 0x40|addr
	cmdUnlisten = 0x3F
	cmdUntalk   = 0x5F
)

// receiveIECByte receives one byte with the standard IEC handshake.
// Only called once the sender has signaled ready-to-send by releasing
// CLK. canWriteOk tells whether the current device accepts data bytes.
func (h *Handler) receiveIECByte(canWriteOk bool) bool {
	eoi := false

	// release DATA ("ready-for-data")
	h.writePinDATA(true)

	// under ATN, wait until all other devices have released DATA too,
	// otherwise EOI may be detected incorrectly
	if h.flags&flagATN != 0 && !h.waitPinDATA(true, 1000) {
		return false
	}

	// wait for sender to pull CLK low ("ready-to-send")
	if !h.waitPinCLK(false, 200) {
		// exit if the wait returned because of a falling edge on ATN
		if h.flags&flagATN == 0 && !h.readPinATN() {
			return false
		}

		// sender did not pull CLK low within 200us after DATA rose
		// => it is signaling EOI (not so while under ATN);
		// acknowledge with an 80us DATA pulse
		eoi = true
		h.writePinDATA(false)
		if !h.waitTimeout(80) {
			return false
		}
		h.writePinDATA(true)

		// keep waiting for CLK low
		if !h.waitPinCLK(false, 0) {
			return false
		}
	}

	var data uint8
	for i := 0; i < 8; i++ {
		// wait for CLK high, signaling the data bit is valid
		if !h.waitPinCLK(true, 200) {
			jdev := h.findDevice((data >> 1) & 0x0F)

			if h.flags&flagATN == 0 && !h.readPinATN() {
				return false
			} else if h.flags&flagATN != 0 && h.primary == 0 && i == 7 &&
				jdev != nil && jdev.sflags&SJiffyEnabled != 0 {
				// host delayed the final bit of the primary address
				// byte by more than 200us => JiffyDos protocol
				// detection; answer with an 80us DATA pulse
				jdev.sflags |= SJiffyDetected
				h.writePinDATA(false)
				if !h.waitTimeout(80) {
					return false
				}
				h.writePinDATA(true)
			}

			// keep waiting for CLK high
			if !h.waitPinCLK(true, 1000) {
				return false
			}
		}

		// read the DATA bit, LSB first
		data >>= 1
		if h.readPinDATA() {
			data |= 0x80
		}

		// wait for CLK low, "data not valid"
		if !h.waitPinCLK(false, 1000) {
			return false
		}
	}

	if h.flags&flagATN != 0 {
		// receiving under ATN: the first two non-zero bytes carry the
		// primary and secondary address (a zero byte is "no primary
		// captured yet", never address 0)
		if h.primary == 0 && data != 0 {
			h.primary = data
			h.current = h.findDevice(h.primary & 0x1F)
			if h.current != nil {
				h.current.dev.PrimaryAddress(h.primary)
			}
		} else if h.primary != 0 && h.secondary == 0 {
			h.secondary = data
			if h.current != nil {
				h.current.dev.SecondaryAddress(h.secondary)
			}
		}

		if h.primary != cmdUnlisten && h.primary != cmdUntalk &&
			h.findDevice(h.primary&0x1F) == nil {
			// not UNLISTEN/UNTALK and the primary address is not
			// ours: do not acknowledge and stop listening. If every
			// device does this the bus master sees "device not
			// present".
			return false
		}

		// acknowledge receipt by pulling DATA low
		h.writePinDATA(false)

		// DolphinDos parallel cable detection: after acknowledging a
		// non-zero secondary the host pulses the parallel receive
		// handshake inside the ATN window; answer with a transmit
		// handshake pulse.
		ddev := h.findDevice(h.primary & 0x1F)
		if ddev != nil && ddev.sflags&SDolphinEnabled != 0 && h.secondary != 0 {
			h.parallelBusHandshakeReceived() // clear stale handshakes
			for !h.readPinATN() {
				if h.parallelBusHandshakeReceived() {
					ddev.sflags |= SDolphinDetected
					h.parallelBusHandshakeTransmit()
					break
				}
			}
		}
		return true
	} else if canWriteOk {
		// acknowledge receipt by pulling DATA low
		h.writePinDATA(false)

		// pass the received byte on to the device
		h.current.dev.Write(data, eoi)
		return true
	}
	// canWrite reported an error
	return false
}

// transmitIECByte transmits one byte with the standard IEC handshake.
// numData is the device's CanRead() value: 0 = nothing to send (error),
// 1 = last byte (EOI), >1 = more data follows.
func (h *Handler) transmitIECByte(numData int8) bool {
	// If the receiver signaled ready-to-receive before we signaled
	// ready-to-send, the 1541 ROM treats it as a "verify error" and
	// sends EOI. Some programs (e.g. "copy 190") lock up without this.
	verifyError := h.readPinDATA()

	// signal ready-to-send by releasing CLK
	h.writePinCLK(true)

	// wait (no timeout) for DATA high, "ready-to-receive". Must be a
	// blocking wait: the receiver starts its EOI timeout as soon as it
	// releases DATA, so returning to the scheduler here would make the
	// receiver see a spurious EOI.
	if !h.waitPinDATA(true, 0) {
		return false
	}

	if numData == 1 || verifyError {
		// last byte: signal EOI by keeping CLK released, wait for the
		// receiver's DATA low/high acknowledge pulse. On the verify
		// error path wait without timeout since the receiver already
		// held DATA high at entry.
		var ackTimeout uint16 = 1000
		if verifyError {
			ackTimeout = 0
		}
		if !h.waitPinDATA(false, ackTimeout) {
			return false
		}
		if !h.waitPinDATA(true, 0) {
			return false
		}
	}

	// nothing to send: aborting here signals the error to the
	// receiver (e.g. "file not found" on LOAD)
	if numData == 0 {
		return false
	}

	// signal "data not valid"
	h.writePinCLK(false)

	data := h.current.dev.Read()

	for i := 0; i < 8; i++ {
		// CLK low, put the bit on DATA, hold, then CLK high
		h.writePinCLK(false)
		h.writePinDATA(data&1 != 0)
		if !h.waitTimeout(80) {
			return false
		}
		h.writePinCLK(true)
		if !h.waitTimeout(60) {
			return false
		}
		data >>= 1
	}

	// CLK low and DATA released signals "busy"
	h.writePinCLK(false)
	h.writePinDATA(true)

	// wait for the receiver acknowledge
	return h.waitPinDATA(false, 1000)
}

// atnRequest runs on the ATN falling edge, either from the edge
// interrupt or from polling inside Tick().
func (h *Handler) atnRequest() {
	// bus master is addressing all devices
	h.flags |= flagATN
	h.flags &^= flagDone
	h.current = nil
	h.primary = 0
	h.secondary = 0

	// ignore anything for 100us after the ATN falling edge
	h.timeoutStart = h.pin.Micros()

	// release CLK in case we were holding it, and answer "I am here"
	// on DATA. If no device does this within 1ms the bus master
	// assumes "device not present".
	h.writePinCLK(true)
	h.writePinDATA(false)

	// disable the hardware that gates ATN onto DATA
	h.writePinCTRL(true)

	// all fast-load detection state is per transaction
	for _, bd := range h.devices {
		bd.sflags &^= sTransient
	}
}

// atnRelease classifies the captured primary address once the bus
// master releases ATN and moves to LISTENING or TALKING.
func (h *Handler) atnRelease() {
	h.flags &^= flagATN

	// allow ATN to pull DATA low in hardware again
	h.writePinCTRL(false)

	switch {
	case h.primary&0xE0 == cmdListen && h.findDevice(h.primary&0x1F) != nil:
		h.current = h.findDevice(h.primary & 0x1F)
		h.current.dev.Listen(h.secondary)
		h.flags &^= flagTalking
		h.flags |= flagListening
		// SAVE pre-buffering, see receiveDolphinByte
		if h.secondary == 0x61 {
			h.dolphinCtr = 2 * dolphinPrebufferBytes
		}
		// "I am here"
		h.writePinDATA(false)

	case h.primary&0xE0 == cmdTalk && h.findDevice(h.primary&0x1F) != nil:
		h.current = h.findDevice(h.primary & 0x1F)
		// JiffyDos talk secondary 0x61 selects block transfer mode
		if h.current.sflags&SJiffyDetected != 0 && h.secondary == 0x61 {
			h.secondary = 0x60
			h.current.sflags |= SJiffyBlock
		}
		h.current.dev.Talk(h.secondary)
		h.flags &^= flagListening
		h.flags |= flagTalking
		// see transmitDolphinByte
		if h.secondary == 0x60 {
			h.dolphinCtr = 0
		}
		// role reversal: wait for the bus master to release CLK, then
		// take over CLK and release DATA
		if h.waitPinCLK(true, 1000) {
			h.writePinCLK(false)
			h.writePinDATA(true)

			// wait 80us before the first data byte
			h.timeoutStart = h.pin.Micros()
			h.timeoutDuration = 80
		}

	case h.primary == cmdUnlisten && h.flags&flagListening != 0:
		h.flags &^= flagListening
		for _, bd := range h.devices {
			bd.dev.Unlisten()
		}

	case h.primary == cmdUntalk && h.flags&flagTalking != 0:
		h.flags &^= flagTalking
		for _, bd := range h.devices {
			bd.dev.Untalk()
		}
	}

	if h.flags&(flagListening|flagTalking) == 0 {
		// neither listening nor talking: release both lines
		h.writePinCLK(true)
		h.writePinDATA(true)
	}
}

// Tick is the cooperative scheduler entry point. It must be called at
// least once per millisecond when ATN is not on an interrupt capable
// input; with the interrupt it may be called less often at the cost of
// throughput.
func (h *Handler) Tick() {
	// nothing runs before Begin()
	if h.flags == flagsNotBegun {
		return
	}

	// keep the ATN edge handler from recursing into atnRequest
	h.inTick.Store(true)

	// ---------------- RESET edge ----------------

	if h.readPinRESET() {
		h.flags |= flagReset
	} else if h.flags&flagReset != 0 {
		// falling edge on RESET
		h.flags = 0
		h.writePinCLK(true)
		h.writePinDATA(true)
		h.writePinCTRL(false)
		for _, bd := range h.devices {
			bd.dev.Reset()
		}
	}

	// ---------------- ATN edges ----------------

	if h.flags&flagATN == 0 && !h.readPinATN() {
		h.atnRequest()
	} else if h.flags&flagATN != 0 && h.readPinATN() {
		h.atnRelease()
	}

	h.tickDolphinBurst()
	h.tickEpyx()

	// ---------------- receiving data ----------------

	if h.flags&(flagATN|flagListening) != 0 && h.flags&flagDone == 0 {
		// under ATN or listening, transaction not yet done.
		// canWrite may block; it runs with inTick clear so the ATN
		// edge handler can respond (when the hardware override is
		// wired the host tolerates the delay).
		var numData int8
		h.inTick.Store(false)
		if h.current != nil {
			numData = h.current.dev.CanWrite()
		}
		h.inTick.Store(true)

		switch {
		case h.flags&flagATN == 0 && !h.readPinATN():
			// ATN fell while blocked in canWrite
			h.atnRequest()

		case h.flags&flagATN != 0 && h.pin.Micros()-h.timeoutStart < 100:
			// quiet window after the ATN edge: other devices may
			// still be releasing CLK

		case h.flags&flagATN == 0 && h.current.sflags&SJiffyDetected != 0 && numData >= 0:
			if !h.receiveJiffyByte(numData > 0) {
				// receive failed => release DATA and stop listening,
				// signaling the error to the sender
				h.writePinDATA(true)
				h.flags |= flagDone
			}

		case h.flags&flagATN == 0 && h.current.sflags&SDolphinDetected != 0 && numData >= 0:
			if !h.readPinCLK() {
				// CLK still low => sender not ready yet
			} else if !h.receiveDolphinByte(numData > 0) {
				h.writePinDATA(true)
				h.flags |= flagDone
			}

		case (h.flags&flagATN != 0 || numData >= 0) && h.readPinCLK():
			// under ATN (always accept) or canWrite non-negative;
			// CLK high means the sender is ready to transmit
			if !h.receiveIECByte(numData > 0) {
				h.writePinDATA(true)
				h.flags |= flagDone
			}
		}
	}

	// ---------------- transmitting data ----------------

	if h.flags&(flagATN|flagTalking|flagDone) == flagTalking {
		if h.current.sflags&SJiffyBlock != 0 {
			// JiffyDos block transfer mode
			numBytes := h.current.dev.ReadBytes(h.buffer)

			// hold off so the receiver sees CLK low and enters its
			// "new data block" state; a VIC "bad line" can delay it
			// by up to 120us
			if !h.waitTimeoutFrom(h.timeoutStart, 150) ||
				!h.transmitJiffyBlock(h.buffer[:numBytes]) {
				h.flags |= flagDone
			} else {
				h.timeoutStart = h.pin.Micros()
			}
		} else {
			// canRead may block, same rules as canWrite above
			h.inTick.Store(false)
			numData := h.current.dev.CanRead()
			h.inTick.Store(true)

			switch {
			case !h.readPinATN():
				// ATN fell while blocked in canRead
				h.atnRequest()

			case h.pin.Micros()-h.timeoutStart < uint32(h.timeoutDuration) || numData < 0:
				// inter-byte gap not yet met, or device undecided

			case h.current.sflags&SJiffyDetected != 0:
				if !h.transmitJiffyByte(numData) {
					h.flags |= flagDone
				}

			case h.current.sflags&SDolphinDetected != 0:
				if !h.transmitDolphinByte(numData) {
					h.writePinCLK(true)
					h.flags |= flagDone
				}

			default:
				if h.transmitIECByte(numData) {
					// between-bytes gap before the next transmission
					h.timeoutStart = h.pin.Micros()
					h.timeoutDuration = 200
				} else {
					h.flags |= flagDone
				}
			}
		}
	}

	// allow the edge handler to call atnRequest again
	h.inTick.Store(false)

	// if ATN is low but flagATN is clear, the falling edge was missed
	// during a blocking section; process it before leaving
	if h.atnIntr && !h.readPinATN() && h.flags&flagATN == 0 {
		h.pin.MaskInterrupts()
		h.atnRequest()
		h.pin.UnmaskInterrupts()
	}

	for _, bd := range h.devices {
		bd.dev.Task()
	}
}
