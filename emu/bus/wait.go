/*
 * IECBus - Timed waits with ATN abort.
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

// Every blocking wait is a hidden pre-emption point for ATN: if the
// current ATN line level no longer matches the handler's internal ATN
// state, the wait aborts and returns false. A timeout of 0 means block
// indefinitely (but still honor the ATN rule); the zero-timeout paths
// avoid reading the wall clock because on some platforms that would
// re-enable interrupts inside a masked section.

// waitTimeoutFrom spins until timeout microseconds after start,
// aborting on an ATN falling edge.
func (h *Handler) waitTimeoutFrom(start uint32, timeout uint16) bool {
	for h.pin.Micros()-start < uint32(timeout) {
		if h.flags&flagATN == 0 && !h.readPinATN() {
			return false
		}
	}
	return true
}

// waitTimeout spins for timeout microseconds, aborting on an ATN
// falling edge.
func (h *Handler) waitTimeout(timeout uint16) bool {
	return h.waitTimeoutFrom(h.pin.Micros(), timeout)
}

// waitPinDATA waits for DATA to reach state, aborting on ATN mismatch
// or after timeout microseconds (0 = no timeout).
func (h *Handler) waitPinDATA(state bool, timeout uint16) bool {
	if timeout == 0 {
		for h.readPinDATA() != state {
			if (h.flags&flagATN != 0) == h.readPinATN() {
				return false
			}
		}
	} else {
		start := h.pin.Micros()
		for h.readPinDATA() != state {
			if (h.flags&flagATN != 0) == h.readPinATN() ||
				h.pin.Micros()-start >= uint32(timeout) {
				return false
			}
		}
	}

	// DATA low can only be trusted if ATN did not just fall: on the
	// ATN edge every device on the bus pulls DATA low.
	return state || h.flags&flagATN != 0 || h.readPinATN()
}

// waitPinCLK waits for CLK to reach state, aborting on ATN mismatch or
// after timeout microseconds (0 = no timeout).
func (h *Handler) waitPinCLK(state bool, timeout uint16) bool {
	if timeout == 0 {
		for h.readPinCLK() != state {
			if (h.flags&flagATN != 0) == h.readPinATN() {
				return false
			}
		}
	} else {
		start := h.pin.Micros()
		for h.readPinCLK() != state {
			if (h.flags&flagATN != 0) == h.readPinATN() ||
				h.pin.Micros()-start >= uint32(timeout) {
				return false
			}
		}
	}
	return true
}
