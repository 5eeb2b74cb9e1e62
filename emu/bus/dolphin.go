/*
 * IECBus - DolphinDos parallel cable protocol.
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

// DolphinDos moves the data bits over a parallel side cable; the
// serial CLK/DATA pair only frames each byte. Burst modes drop the
// serial framing entirely and clock bytes with the HT/HR handshake
// pulses alone.

// receiveDolphinByte receives one byte over the parallel cable. Only
// called once the sender has released CLK.
func (h *Handler) receiveDolphinByte(canWriteOk bool) bool {
	eoi := false

	// When executing a SAVE (listen secondary 0x61) the first two
	// data bytes are held in the buffer: a later XZ burst request
	// resends them in burst mode and the originals are discarded
	// (MultiDubTwo actually sends garbage for them). If the host just
	// keeps sending data, or the burst request was rejected, the
	// buffered bytes go up to the device first, oldest first. Waiting
	// for the host's next ready-to-send before flushing matters:
	// flushing earlier would empty the buffer before the XZ request
	// arrives.
	if h.secondary == 0x61 && h.dolphinCtr > 0 && h.dolphinCtr <= dolphinPrebufferBytes {
		h.current.dev.Write(h.buffer[h.dolphinCtr-1], false)
		h.dolphinCtr--
		return true
	}

	// signal "ready"
	h.writePinDATA(true)

	// wait for CLK low
	if !h.waitPinCLK(false, 100) {
		// exit if the wait returned because of a falling edge on ATN
		if !h.readPinATN() {
			return false
		}

		// no CLK low within 100us => sender signals EOI;
		// acknowledge with a 60us DATA pulse
		eoi = true
		h.writePinDATA(false)
		if !h.waitTimeout(60) {
			return false
		}
		h.writePinDATA(true)

		if !h.waitPinCLK(false, 1000) {
			return false
		}
	}

	if !canWriteOk {
		// canWrite reported an error
		return false
	}

	// read the byte from the parallel bus and confirm on DATA
	data := h.readParallelData()
	h.writePinDATA(false)

	if h.secondary == 0x61 && h.dolphinCtr > dolphinPrebufferBytes {
		h.buffer[h.dolphinCtr-dolphinPrebufferBytes-1] = data
		h.dolphinCtr--
	} else {
		h.current.dev.Write(data, eoi)
	}
	return true
}

// transmitDolphinByte transmits one byte over the parallel cable.
func (h *Handler) transmitDolphinByte(numData int8) bool {
	// The receiver starts a 50us timeout after releasing DATA,
	// waiting for CLK low ("data valid"); overrunning it reads as
	// EOI. So: fetch the byte first, mask interrupts across the
	// CLK-high to CLK-low window, and wait for DATA in a blocking
	// loop.
	var data uint8 = 0xFF
	if numData > 0 {
		data = h.current.dev.Peek()
	}

	h.pin.MaskInterrupts()

	// signal "ready-to-send"
	h.writePinCLK(true)

	// wait for "ready-for-data"
	if !h.waitPinDATA(true, 0) {
		h.pin.UnmaskInterrupts()
		return false
	}

	if numData == 0 {
		// nothing to send: aborting here signals the error condition
		h.pin.UnmaskInterrupts()
		return false
	} else if numData == 1 {
		// last byte: keep CLK released (EOI) and wait for the
		// receiver's DATA low/high confirmation pulse
		if !h.waitPinDATA(false, 1000) || !h.waitPinDATA(true, 1000) {
			h.pin.UnmaskInterrupts()
			return false
		}
	}

	// put the byte on the parallel bus and signal "data valid"
	h.writeParallelData(data)
	h.writePinCLK(false)

	h.pin.UnmaskInterrupts()

	// consume the byte (read via Peek above)
	h.current.dev.Read()

	// remember the initial bytes sent, see transmitDolphinBurst
	if h.secondary == 0x60 && h.dolphinCtr < dolphinPrebufferBytes {
		h.buffer[h.dolphinCtr] = data
		h.dolphinCtr++
	}

	// receiver must confirm within 1ms
	res := h.waitPinDATA(false, 1000)

	// release the parallel bus
	h.setParallelBusModeInput()
	return res
}

// receiveDolphinBurst receives data in burst mode (XZ). Only called
// once the sender has pulled CLK low.
func (h *Handler) receiveDolphinBurst() bool {
	n := 0

	// clear any previous handshakes
	h.parallelBusHandshakeReceived()

	// hold DATA low while receiving, confirm burst mode
	h.writePinDATA(false)
	h.parallelBusHandshakeTransmit()

	eoi := false
	for !eoi {
		// wait for the "data ready" handshake pulse
		if !h.waitParallelBusHandshakeReceived() {
			return false
		}

		// CLK high means EOI: final byte of data coming
		eoi = h.readPinCLK()

		h.buffer[n] = h.readParallelData()
		n++

		if n < len(h.buffer) && !eoi {
			// buffered, ask for more
			h.parallelBusHandshakeTransmit()
		} else if int(h.current.dev.WriteBytes(h.buffer[:n], eoi)) == n {
			// flushed to the device, ask for more
			h.parallelBusHandshakeTransmit()
			n = 0
		} else {
			// device refused data: release DATA to signal the error
			h.writePinDATA(true)
			return false
		}
	}
	return true
}

// transmitDolphinBurst transmits data in burst mode (XQ). Only called
// once the receiver has pulled DATA low.
func (h *Handler) transmitDolphinBurst() bool {
	// confirm burst transmission
	h.parallelBusHandshakeTransmit()

	// the host is busy printing the load address after seeing the
	// confirmation; sending the next handshake too soon would merge
	// the two pulses
	h.waitTimeout(1000)

	// The host switches to burst mode by sending XQ after the
	// transmission has already started (the kernal after two bytes,
	// MultiDubTwo after one); those bytes are re-transmitted first.
	for i := uint8(0); i < h.dolphinCtr; i++ {
		h.writeParallelData(h.buffer[i])

		// sending our handshake can induce a pulse on the receive
		// line; clear it immediately after, with no interrupt window
		// in between
		h.pin.MaskInterrupts()
		h.parallelBusHandshakeTransmit()
		h.parallelBusHandshakeReceived()
		h.pin.UnmaskInterrupts()

		if !h.waitParallelBusHandshakeReceived() {
			h.setParallelBusModeInput()
			return false
		}
	}

	// stream the device until exhaustion
	for {
		n := h.current.dev.ReadBytes(h.buffer)
		if n == 0 {
			break
		}
		for i := uint8(0); i < n; i++ {
			h.writeParallelData(h.buffer[i])

			h.pin.MaskInterrupts()
			h.parallelBusHandshakeTransmit()
			h.parallelBusHandshakeReceived()
			h.pin.UnmaskInterrupts()

			for !h.parallelBusHandshakeReceived() {
				if !h.readPinATN() || h.readPinDATA() {
					// receiver released DATA or asserted ATN:
					// error, release the bus and CLK
					h.setParallelBusModeInput()
					h.writePinCLK(true)
					return false
				}
			}
		}
	}

	h.setParallelBusModeInput()

	// signal end-of-data and wait for the receiver to confirm
	h.writePinCLK(true)
	if !h.waitPinDATA(true, 1000) {
		return false
	}
	h.parallelBusHandshakeTransmit()
	return true
}

// tickDolphinBurst services pending burst requests from Tick(). Burst
// transmit waits 200us for other devices to release DATA and for the
// host to pull it low; burst receive waits 500us for the host to
// release CLK after the XZ command and then pull it low again.
func (h *Handler) tickDolphinBurst() {
	for _, bd := range h.devices {
		switch {
		case bd.sflags&SDolphinBurstTx != 0 &&
			h.pin.Micros()-h.timeoutStart > 200 && !h.readPinDATA():
			// host should have released CLK by now
			h.writePinCLK(false)

			h.current = bd
			if bd.sflags&SDolphinBurstEnabled != 0 {
				h.transmitDolphinBurst()

				// close the file; in burst mode the host does not
				// send the usual CLOSE sequence
				h.current.dev.Listen(0xE0)
				h.current.dev.Unlisten()

				if !h.readPinATN() {
					h.atnRequest()
				}
			} else {
				// burst disabled: fall back to byte mode transmit
				h.flags = flagTalking
				bd.sflags |= SDolphinDetected
				h.secondary = 0x60
			}
			bd.sflags &^= SDolphinBurstTx

		case bd.sflags&SDolphinBurstRx != 0 &&
			h.pin.Micros()-h.timeoutStart > 500 && !h.readPinCLK():
			h.current = bd
			if bd.sflags&SDolphinBurstEnabled != 0 {
				h.receiveDolphinBurst()

				if !h.readPinATN() {
					h.atnRequest()
				}
			} else {
				// burst disabled: fall back to byte mode receive
				h.flags = flagListening
				bd.sflags |= SDolphinDetected
				h.secondary = 0x61

				// see receiveDolphinByte
				h.dolphinCtr = (2 * dolphinPrebufferBytes) - h.dolphinCtr

				// signal not ready to receive
				h.writePinDATA(false)
			}
			bd.sflags &^= SDolphinBurstRx
		}
	}
}
