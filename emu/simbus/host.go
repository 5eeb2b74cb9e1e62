/*
 * IECBus - Scripted bus master for the simulated bus.
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

package simbus

import (
	"github.com/rcornwell/IECBus/emu/pins"
)

// Host is the scripted bus master (the computer side). Test scenarios
// queue a script of actions; the script makes progress once per
// microsecond of virtual time, concurrently with the device engine
// spinning on the same wires.
type Host struct {
	s     *Sim
	queue []runner

	// observations
	Recv     []RecvByte // bytes received as listener
	Timeouts int        // wait steps that gave up
	HTPulses int        // Dolphin handshake pulses seen
}

// RecvByte is one byte received by the host, with its EOI mark.
type RecvByte struct {
	Data uint8
	EOI  bool
}

// A runner makes one step of progress per microsecond; returning true
// retires it.
type runner interface {
	step(h *Host) bool
}

func (h *Host) step() {
	if len(h.queue) == 0 {
		return
	}
	if h.queue[0].step(h) {
		h.queue = h.queue[1:]
	}
}

// Idle reports whether the script has finished.
func (h *Host) Idle() bool {
	return len(h.queue) == 0
}

// RecvData returns just the data bytes received so far.
func (h *Host) RecvData() []uint8 {
	out := make([]uint8, len(h.Recv))
	for i, r := range h.Recv {
		out[i] = r.Data
	}
	return out
}

func (h *Host) push(r runner) {
	h.queue = append(h.queue, r)
}

func (h *Host) low(line pins.Line)  { h.s.hostLow(line) }
func (h *Host) high(line pins.Line) { h.s.hostHigh(line) }

// ---------------- basic steps ----------------

type hostStep struct {
	cond    func(h *Host) bool
	timeout uint32
	delay   uint32
	act     func(h *Host)

	started bool
	start   uint32
	condMet bool
	metAt   uint32
}

func (st *hostStep) step(h *Host) bool {
	now := h.s.now
	if !st.started {
		st.started = true
		st.start = now
		st.condMet = st.cond == nil
		st.metAt = now
	}
	if !st.condMet {
		switch {
		case st.cond(h):
			st.condMet = true
			st.metAt = now
		case st.timeout > 0 && now-st.start >= st.timeout:
			h.Timeouts++
			st.condMet = true
			st.metAt = now
		default:
			return false
		}
	}
	if now-st.metAt < st.delay {
		return false
	}
	if st.act != nil {
		st.act(h)
	}
	return true
}

// Do queues an immediate action.
func (h *Host) Do(act func(h *Host)) {
	h.push(&hostStep{act: act})
}

// Delay queues a pause of us microseconds.
func (h *Host) Delay(us uint32) {
	h.push(&hostStep{delay: us})
}

// WaitLevel queues a wait for a line to reach level, giving up (and
// counting a timeout) after timeout microseconds.
func (h *Host) WaitLevel(line pins.Line, level bool, timeout uint32) {
	h.push(&hostStep{
		cond:    func(h *Host) bool { return h.s.Level(line) == level },
		timeout: timeout,
	})
}

// ---------------- bus master primitives ----------------

// AtnAssert asserts ATN, takes the CLK line as talker and releases
// DATA, then waits for some device to answer "I am here" on DATA.
func (h *Host) AtnAssert() {
	h.Do(func(h *Host) {
		h.low(pins.ATN)
		h.low(pins.CLK)
		h.high(pins.DATA)
	})
	h.WaitLevel(pins.DATA, false, 2000)
	h.Delay(150)
}

// AtnRelease ends the addressing phase with the host staying talker
// (after LISTEN or UNLISTEN/UNTALK).
func (h *Host) AtnRelease() {
	h.Do(func(h *Host) { h.high(pins.ATN) })
	h.Delay(60)
}

// AtnReleaseTurnaround ends the addressing phase after TALK: the host
// becomes listener, holding DATA and handing CLK to the device.
func (h *Host) AtnReleaseTurnaround() {
	h.Do(func(h *Host) {
		h.low(pins.DATA)
		h.high(pins.ATN)
		h.high(pins.CLK)
	})
	// device takes over CLK and releases DATA
	h.WaitLevel(pins.CLK, false, 2000)
}

// ReleaseBus releases every line the host may be driving.
func (h *Host) ReleaseBus() {
	h.Do(func(h *Host) {
		h.high(pins.ATN)
		h.high(pins.CLK)
		h.high(pins.DATA)
	})
}

// SendOpts modifies SendByte.
type SendOpts struct {
	EOI       bool // signal EOI (delayed CLK) on this byte
	JiffyHold bool // hold the final bit >200us (JiffyDos detection)
}

// SendByte transmits one byte as bus talker with the standard IEC
// handshake. The host must already hold CLK low (AtnAssert does, and
// every SendByte leaves it so).
func (h *Host) SendByte(data uint8, opts SendOpts) {
	// ready-to-send
	h.Do(func(h *Host) { h.high(pins.CLK) })
	// wait for all listeners to release DATA
	h.WaitLevel(pins.DATA, true, 10000)

	if opts.EOI {
		// wait out the receiver's EOI acknowledge pulse
		h.WaitLevel(pins.DATA, false, 400)
		h.WaitLevel(pins.DATA, true, 400)
	}

	h.Delay(20)
	h.Do(func(h *Host) { h.low(pins.CLK) })
	h.Delay(40)

	for i := 0; i < 8; i++ {
		bit := data >> i & 1
		h.Do(func(h *Host) {
			if bit == 0 {
				h.low(pins.DATA)
			} else {
				h.high(pins.DATA)
			}
		})
		h.Delay(20)
		if i == 7 && opts.JiffyHold {
			// delay the final CLK rise past the 200us detection
			// window; an enabled device answers with an 80us DATA
			// pulse meanwhile
			h.Delay(250)
		}
		h.Do(func(h *Host) { h.high(pins.CLK) })
		h.Delay(20)
		h.Do(func(h *Host) { h.low(pins.CLK) })
	}

	// release DATA and wait for the frame acknowledge
	h.Do(func(h *Host) { h.high(pins.DATA) })
	h.WaitLevel(pins.DATA, false, 1000)
	h.Delay(100)
}

// SendBytes transmits a run of data bytes, flagging EOI on the last
// when eoi is set.
func (h *Host) SendBytes(data []uint8, eoi bool) {
	for i, b := range data {
		h.SendByte(b, SendOpts{EOI: eoi && i == len(data)-1})
	}
}

// ---------------- standard IEC receive ----------------

type recvIEC struct {
	phase int
	t0    uint32
	bits  int
	data  uint8
	eoi   bool
	start uint32
	got   bool

	// assert ATN once this many bits have been sampled (0 = never);
	// models the bus master pre-empting a transfer mid-byte
	atnAfterBits int
}

func (r *recvIEC) step(h *Host) bool {
	now := h.s.now
	switch r.phase {
	case 0: // wait for talker ready-to-send (CLK released)
		if r.start == 0 {
			r.start = now
		}
		if h.s.Level(pins.CLK) {
			h.high(pins.DATA) // ready-for-data
			r.t0 = now
			r.phase = 1
		} else if now-r.start > 20000 {
			// talker aborted (e.g. nothing to send)
			h.Timeouts++
			return true
		}
	case 1: // wait for data phase start or EOI
		if !h.s.Level(pins.CLK) {
			r.phase = 4
		} else if now-r.t0 > 200 {
			// EOI: acknowledge with a DATA pulse
			r.eoi = true
			h.low(pins.DATA)
			r.t0 = now
			r.phase = 2
		}
	case 2:
		if now-r.t0 >= 60 {
			h.high(pins.DATA)
			r.phase = 3
		}
	case 3: // keep waiting for the data phase
		if !h.s.Level(pins.CLK) {
			r.phase = 4
		} else if now-r.t0 > 20000 {
			h.Timeouts++
			return true
		}
	case 4: // wait CLK high, sample a bit
		if h.s.Level(pins.CLK) {
			r.data >>= 1
			if h.s.Level(pins.DATA) {
				r.data |= 0x80
			}
			r.bits++
			if r.atnAfterBits > 0 && r.bits >= r.atnAfterBits {
				h.low(pins.ATN)
				h.low(pins.CLK)
				return true
			}
			r.phase = 5
		} else if now-r.t0 > 20000 {
			h.Timeouts++
			return true
		}
	case 5: // wait CLK low
		if !h.s.Level(pins.CLK) {
			if r.bits < 8 {
				r.phase = 4
			} else {
				// acknowledge the frame, stay not-ready
				h.low(pins.DATA)
				h.Recv = append(h.Recv, RecvByte{Data: r.data, EOI: r.eoi})
				r.got = true
				return true
			}
		}
	}
	return false
}

// RecvByteIEC receives one byte as bus listener. The host must hold
// DATA low beforehand (AtnReleaseTurnaround does).
func (h *Host) RecvByteIEC() {
	h.push(&recvIEC{})
}

// RecvByteIECPreempt starts receiving a byte but asserts ATN (and
// takes CLK) as soon as bits data bits have been sampled, abandoning
// the transfer mid-byte.
func (h *Host) RecvByteIECPreempt(bits int) {
	h.push(&recvIEC{atnAfterBits: bits})
}

// RecvUntilEOI receives bytes until one arrives with EOI set (or the
// talker goes quiet), up to max bytes.
func (h *Host) RecvUntilEOI(max int) {
	h.push(&recvStream{max: max})
}

type recvStream struct {
	cur *recvIEC
	n   int
	max int
}

func (r *recvStream) step(h *Host) bool {
	if r.cur == nil {
		r.cur = &recvIEC{}
	}
	if !r.cur.step(h) {
		return false
	}
	// byte finished (or talker quiet)
	if !r.cur.got {
		return true
	}
	r.n++
	if r.n >= r.max || h.Recv[len(h.Recv)-1].EOI {
		return true
	}
	r.cur = nil
	return false
}

// ---------------- JiffyDos receive ----------------

type recvJiffy struct {
	phase int
	t0    uint32
	data  uint8
	last  bool
}

func (r *recvJiffy) step(h *Host) bool {
	now := h.s.now
	switch r.phase {
	case 0: // wait for the talker's ready signal (CLK released),
		// then signal ready-to-receive by releasing DATA; the bit
		// offsets count from our DATA release
		if h.s.Level(pins.CLK) {
			h.high(pins.DATA)
			r.t0 = now
			r.phase = 1
		}
	case 1: // bits 0+1 valid until 16.5us after DATA high
		if now-r.t0 >= 10 {
			if h.s.Level(pins.CLK) {
				r.data |= 1 << 0
			}
			if h.s.Level(pins.DATA) {
				r.data |= 1 << 1
			}
			r.phase = 2
		}
	case 2: // bits 2+3
		if now-r.t0 >= 22 {
			if h.s.Level(pins.CLK) {
				r.data |= 1 << 2
			}
			if h.s.Level(pins.DATA) {
				r.data |= 1 << 3
			}
			r.phase = 3
		}
	case 3: // bits 4+5
		if now-r.t0 >= 33 {
			if h.s.Level(pins.CLK) {
				r.data |= 1 << 4
			}
			if h.s.Level(pins.DATA) {
				r.data |= 1 << 5
			}
			r.phase = 4
		}
	case 4: // bits 6+7
		if now-r.t0 >= 45 {
			if h.s.Level(pins.CLK) {
				r.data |= 1 << 6
			}
			if h.s.Level(pins.DATA) {
				r.data |= 1 << 7
			}
			r.phase = 5
		}
	case 5: // status: CLK low = more data, CLK high + DATA low = EOI
		if now-r.t0 >= 56 {
			r.last = h.s.Level(pins.CLK)
			r.phase = 6
		}
	case 6: // acknowledge, back to not-ready
		if now-r.t0 >= 62 {
			h.low(pins.DATA)
			h.Recv = append(h.Recv, RecvByte{Data: r.data, EOI: r.last})
			return true
		}
	}
	return false
}

// RecvByteJiffy receives one byte with the JiffyDos timing. The host
// must hold DATA low beforehand.
func (h *Host) RecvByteJiffy() {
	h.push(&recvJiffy{})
}

// RecvJiffyUntilEOI receives JiffyDos bytes until the EOI status
// arrives, up to max bytes.
func (h *Host) RecvJiffyUntilEOI(max int) {
	h.push(&recvJiffyStream{max: max})
}

type recvJiffyStream struct {
	cur   *recvJiffy
	n     int
	max   int
	gapAt uint32
}

func (r *recvJiffyStream) step(h *Host) bool {
	if r.cur == nil {
		// short not-ready gap between bytes
		if r.gapAt == 0 {
			r.gapAt = h.s.now
		}
		if h.s.now-r.gapAt < 30 {
			return false
		}
		r.gapAt = 0
		r.cur = &recvJiffy{}
	}
	if !r.cur.step(h) {
		return false
	}
	r.n++
	if r.n >= r.max || r.cur.last {
		return true
	}
	r.cur = nil
	return false
}

// recvJiffyBlock receives one JiffyDos block transfer of count bytes
// followed by the empty-block EOI pulse. The host clocks each byte by
// pulsing DATA low; the bit offsets count from that pulse.
type recvJiffyBlock struct {
	phase int
	t0    uint32
	pair  int
	data  uint8
	n     int
	count int
}

func (r *recvJiffyBlock) step(h *Host) bool {
	now := h.s.now
	switch r.phase {
	case 0: // signal ready for the block
		h.high(pins.DATA)
		r.phase = 1
	case 1: // device marks "ready to send": DATA low, CLK released
		if !h.s.Level(pins.DATA) && h.s.Level(pins.CLK) {
			r.phase = 2
		}
	case 2: // device releases both lines for the next byte
		if h.s.Level(pins.DATA) && h.s.Level(pins.CLK) {
			h.low(pins.DATA) // reference pulse
			r.t0 = now
			r.pair = 0
			r.data = 0
			r.phase = 3
		}
	case 3: // release the reference pulse quickly
		if now-r.t0 >= 2 {
			h.high(pins.DATA)
			r.phase = 4
		}
	case 4: // sample pairs {0,1} {2,3} {4,5} {6,7}
		offsets := [4]uint32{12, 22, 33, 45}
		if now-r.t0 >= offsets[r.pair] {
			if h.s.Level(pins.CLK) {
				r.data |= 1 << (2 * r.pair)
			}
			if h.s.Level(pins.DATA) {
				r.data |= 1 << (2*r.pair + 1)
			}
			r.pair++
			if r.pair == 4 {
				r.phase = 5
			}
		}
	case 5: // byte done
		if now-r.t0 >= 54 {
			h.Recv = append(h.Recv, RecvByte{Data: r.data})
			r.n++
			if r.n < r.count {
				r.phase = 2
			} else {
				r.phase = 6
			}
		}
	case 6: // end of block: device pulls CLK low
		if !h.s.Level(pins.CLK) {
			r.phase = 7
		}
	case 7: // empty block signals EOI with a CLK pulse
		if h.s.Level(pins.CLK) {
			r.phase = 8
		}
	case 8:
		if !h.s.Level(pins.CLK) {
			return true
		}
	}
	return false
}

// RecvJiffyBlock receives a JiffyDos block of count bytes plus the
// EOI block that ends the transfer.
func (h *Host) RecvJiffyBlock(count int) {
	h.push(&recvJiffyBlock{count: count})
}

// LowData pulls DATA low from the host side (ready-to-receive marker
// for burst transfers).
func (h *Host) LowData() {
	h.low(pins.DATA)
}

// HighData releases the host's DATA drive.
func (h *Host) HighData() {
	h.high(pins.DATA)
}

// LowLine and HighLine drive or release an arbitrary line from the
// host side (RESET in tests).
func (h *Host) LowLine(line pins.Line) {
	h.low(line)
}

func (h *Host) HighLine(line pins.Line) {
	h.high(line)
}
