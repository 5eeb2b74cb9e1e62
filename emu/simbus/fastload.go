/*
 * IECBus - Fast-load protocol actions for the scripted bus master.
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

// ---------------- DolphinDos ----------------

// waitHT waits for a device handshake pulse on the HT line and counts
// it; gives up (counting a timeout) after the given window.
type waitHT struct {
	timeout uint32
	start   uint32
	began   bool
}

func (w *waitHT) step(h *Host) bool {
	if !w.began {
		w.began = true
		w.start = h.s.now
	}
	if !h.s.Level(pins.HT) {
		h.HTPulses++
		return true
	}
	if h.s.now-w.start >= w.timeout {
		h.Timeouts++
		return true
	}
	return false
}

// DolphinDetectPulse sends the parallel cable probe right after a
// secondary address was acknowledged under ATN, then waits for the
// device's answering HT pulse.
func (h *Host) DolphinDetectPulse() {
	h.Do(func(h *Host) {
		h.low(pins.HR)
		h.high(pins.HR)
	})
	h.push(&waitHT{timeout: 1000})
}

// dolphinParallel drives the parallel data lines with a byte (open
// collector: zero bits pulled low, one bits released).
func (h *Host) dolphinParallel(data uint8) {
	for i := 0; i < 8; i++ {
		if data&(1<<i) == 0 {
			h.low(pins.Parallel(i))
		} else {
			h.high(pins.Parallel(i))
		}
	}
}

// dolphinParallelRelease releases all parallel data lines.
func (h *Host) dolphinParallelRelease() {
	for i := 0; i < 8; i++ {
		h.high(pins.Parallel(i))
	}
}

// DolphinSendByte transmits one byte in DolphinDos byte mode: the
// serial pair frames the byte, the data rides the parallel cable.
// The host must hold CLK low beforehand.
func (h *Host) DolphinSendByte(data uint8, eoi bool) {
	// ready-to-send
	h.Do(func(h *Host) { h.high(pins.CLK) })
	// device signals ready by releasing DATA
	h.WaitLevel(pins.DATA, true, 10000)

	if eoi {
		// hold off past the 100us window; the device acknowledges
		// EOI with a 60us DATA pulse
		h.WaitLevel(pins.DATA, false, 400)
		h.WaitLevel(pins.DATA, true, 400)
	}

	h.Do(func(h *Host) {
		h.dolphinParallel(data)
		h.low(pins.CLK) // data valid
	})
	// device confirms receipt
	h.WaitLevel(pins.DATA, false, 1000)
	h.Do(func(h *Host) { h.dolphinParallelRelease() })
	h.Delay(20)
}

// DolphinBurstSend streams data over the parallel cable after an XZ
// burst request. Call after the XZ command sequence has been sent and
// the bus released.
func (h *Host) DolphinBurstSend(data []uint8) {
	// the device arms the burst 500us after the request and waits for
	// CLK low
	h.Delay(600)
	h.Do(func(h *Host) { h.low(pins.CLK) })
	// device confirms burst mode with a handshake pulse
	h.push(&waitHT{timeout: 2000})

	for i, b := range data {
		last := i == len(data)-1
		h.Do(func(h *Host) {
			h.dolphinParallel(b)
			if last {
				// CLK released marks the final byte
				h.high(pins.CLK)
			}
		})
		h.Delay(5)
		h.Do(func(h *Host) {
			h.low(pins.HR)
			h.high(pins.HR)
		})
		h.push(&waitHT{timeout: 2000})
	}
	h.Do(func(h *Host) { h.dolphinParallelRelease() })
}

// dolphinRecv receives one byte in DolphinDos byte mode as listener.
type dolphinRecv struct {
	phase int
	t0    uint32
	eoi   bool
}

func (r *dolphinRecv) step(h *Host) bool {
	now := h.s.now
	switch r.phase {
	case 0: // talker ready-to-send
		if h.s.Level(pins.CLK) {
			h.high(pins.DATA) // ready-for-data
			r.t0 = now
			r.phase = 1
		}
	case 1: // data valid, or EOI when the talker holds off >50us
		if !h.s.Level(pins.CLK) {
			r.phase = 4
		} else if now-r.t0 > 80 {
			r.eoi = true
			h.low(pins.DATA)
			r.t0 = now
			r.phase = 2
		}
	case 2: // EOI acknowledge pulse
		if now-r.t0 >= 60 {
			h.high(pins.DATA)
			r.phase = 3
		}
	case 3:
		if !h.s.Level(pins.CLK) {
			r.phase = 4
		}
	case 4: // read the parallel byte, confirm
		var data uint8
		for i := 0; i < 8; i++ {
			if h.s.Level(pins.Parallel(i)) {
				data |= 1 << i
			}
		}
		h.low(pins.DATA)
		h.Recv = append(h.Recv, RecvByte{Data: data, EOI: r.eoi})
		return true
	}
	return false
}

// RecvByteDolphin receives one DolphinDos byte-mode byte. The host
// must hold DATA low beforehand.
func (h *Host) RecvByteDolphin() {
	h.push(&dolphinRecv{})
}

// ---------------- Epyx FastLoad ----------------

// EpyxUploadBytes clocks raw bytes to the device with the Epyx upload
// scheme: data inverted on DATA, each bit latched by a CLK toggle.
// CLK toggles start from released (high), first toggle pulls it low.
func (h *Host) EpyxUploadBytes(data []uint8) {
	for _, b := range data {
		for i := 0; i < 8; i++ {
			bit := b >> i & 1
			h.Do(func(h *Host) {
				if bit != 0 {
					h.low(pins.DATA) // inverted
				} else {
					h.high(pins.DATA)
				}
			})
			h.Delay(2)
			h.Do(func(h *Host) {
				if h.s.drive[pins.CLK]&agentHost != 0 {
					h.high(pins.CLK)
				} else {
					h.low(pins.CLK)
				}
			})
			h.Delay(6)
		}
	}
	h.Do(func(h *Host) { h.high(pins.DATA) })
}

// EpyxHeaderHandshake performs the post-M-E handshake that precedes
// the drive code upload.
func (h *Host) EpyxHeaderHandshake() {
	// device signals ready for the header by pulling CLK low
	h.WaitLevel(pins.CLK, false, 5000)
	h.Do(func(h *Host) { h.low(pins.DATA) })
	// device releases CLK once it saw our DATA low
	h.WaitLevel(pins.CLK, true, 1000)
	h.Do(func(h *Host) { h.high(pins.DATA) })
	h.Delay(10)
}

// EpyxUploadHeader performs the post-M-E header handshake and uploads
// the 256 byte drive routine followed by the reversed file name.
func (h *Host) EpyxUploadHeader(routine []uint8, name string) {
	h.EpyxHeaderHandshake()
	h.EpyxUploadBytes(routine)

	// file name: length byte, then the name in reverse order
	rev := make([]uint8, 0, len(name)+1)
	rev = append(rev, uint8(len(name)))
	for i := len(name) - 1; i >= 0; i-- {
		rev = append(rev, name[i])
	}
	h.EpyxUploadBytes(rev)
}

// epyxRecvBlocks receives Epyx load blocks (length byte plus payload)
// until a zero length block arrives. Received payload bytes land in
// Recv without EOI marks.
type epyxRecvBlocks struct {
	phase   int
	t0      uint32
	pair    int
	data    uint8
	remain  int  // payload bytes left in this block
	lenByte bool // currently receiving the length byte
	began   bool
}

func (r *epyxRecvBlocks) step(h *Host) bool {
	now := h.s.now
	if !r.began {
		r.began = true
		r.lenByte = true
	}
	switch r.phase {
	case 0: // block start: device releases CLK when ready
		if h.s.Level(pins.CLK) {
			r.phase = 1
		}
	case 1: // signal ready-to-receive for one byte
		// hold the previous byte's DATA low a few us so the device sees it
		if now-r.t0 < 56 {
			break
		}
		h.high(pins.DATA)
		r.t0 = now
		r.pair = 0
		r.data = 0
		r.phase = 2
	case 2: // sample inverted bit pairs {7,5} {6,4} {3,1} {2,0}
		offsets := [4]uint32{8, 22, 32, 42}
		hiBits := [4]uint8{7, 6, 3, 2}
		loBits := [4]uint8{5, 4, 1, 0}
		if now-r.t0 >= offsets[r.pair] {
			if !h.s.Level(pins.CLK) {
				r.data |= 1 << hiBits[r.pair]
			}
			if !h.s.Level(pins.DATA) {
				r.data |= 1 << loBits[r.pair]
			}
			r.pair++
			if r.pair == 4 {
				r.phase = 3
			}
		}
	case 3: // byte complete: pull DATA low ("not ready")
		if now-r.t0 >= 52 {
			h.low(pins.DATA)
			if r.lenByte {
				if r.data == 0 {
					// zero length block ends the transfer
					r.t0 = now
					r.phase = 5
					break
				}
				r.remain = int(r.data)
				r.lenByte = false
				r.phase = 1
			} else {
				h.Recv = append(h.Recv, RecvByte{Data: r.data})
				r.remain--
				if r.remain == 0 {
					// device pulls CLK low between blocks
					r.lenByte = true
					r.phase = 4
				} else {
					r.phase = 1
				}
			}
		}
	case 4: // wait out the inter-block CLK low
		if !h.s.Level(pins.CLK) {
			r.phase = 0
		}
	case 5: // release DATA once the device has seen it low
		if now-r.t0 >= 4 {
			h.high(pins.DATA)
			return true
		}
	}
	return false
}

// EpyxRecvBlocks receives load file blocks until the terminating zero
// length block.
func (h *Host) EpyxRecvBlocks() {
	h.push(&epyxRecvBlocks{})
}

// dolphinBurstRecv receives a DolphinDos burst transmission: the
// device clocks each byte with an HT pulse, the host acknowledges on
// HR; CLK released by the device ends the stream.
type dolphinBurstRecv struct {
	phase  int
	lastHT bool
	began  bool
	ackAt  uint32
}

func (r *dolphinBurstRecv) step(h *Host) bool {
	if !r.began {
		r.began = true
		r.lastHT = true
	}
	cur := h.s.Level(pins.HT)
	falling := r.lastHT && !cur
	r.lastHT = cur

	switch r.phase {
	case 0: // wait for the burst confirmation pulse
		if falling {
			h.HTPulses++
			r.phase = 1
		}
	case 1: // data byte (HT pulse) or end of stream (CLK released)
		if r.ackAt != 0 {
			// acknowledge once the device's HT pulse has ended
			if h.s.now >= r.ackAt && cur {
				h.low(pins.HR)
				h.high(pins.HR)
				r.ackAt = 0
			}
		} else if falling {
			var data uint8
			for i := 0; i < 8; i++ {
				if h.s.Level(pins.Parallel(i)) {
					data |= 1 << i
				}
			}
			h.Recv = append(h.Recv, RecvByte{Data: data})
			r.ackAt = h.s.now + 5
		} else if h.s.Level(pins.CLK) {
			// end of data: confirm by releasing DATA
			h.high(pins.DATA)
			r.phase = 2
		}
	case 2: // final handshake pulse
		if falling {
			h.HTPulses++
			return true
		}
	}
	return false
}

// DolphinBurstRecv receives a burst transmission after an XQ request.
// The host must hold DATA low (ready-to-receive) beforehand.
func (h *Host) DolphinBurstRecv() {
	h.push(&dolphinBurstRecv{})
}

// ---------------- JiffyDos send ----------------

// jiffySend transmits one byte to a device receiving with the
// JiffyDos timing: bit pairs ride both lines, inverted, at fixed
// offsets from the host's CLK release.
type jiffySend struct {
	phase int
	t0    uint32
	ackAt uint32
	data  uint8
	eoi   bool
}

func (r *jiffySend) setPair(h *Host, clkBit uint8, dataBit uint8) {
	// inverted: a one bit pulls the line low
	if r.data&(1<<clkBit) != 0 {
		h.low(pins.CLK)
	} else {
		h.high(pins.CLK)
	}
	if r.data&(1<<dataBit) != 0 {
		h.low(pins.DATA)
	} else {
		h.high(pins.DATA)
	}
}

func (r *jiffySend) step(h *Host) bool {
	now := h.s.now
	switch r.phase {
	case 0: // device signals ready by releasing DATA
		if h.s.Level(pins.DATA) {
			h.high(pins.CLK) // reference edge
			r.t0 = now
			r.phase = 1
		}
	case 1: // bits 4+5, sampled by the device at 14us
		if now-r.t0 >= 2 {
			r.setPair(h, 4, 5)
			r.phase = 2
		}
	case 2: // bits 6+7, sampled at 27us
		if now-r.t0 >= 16 {
			r.setPair(h, 6, 7)
			r.phase = 3
		}
	case 3: // bits 3+1, sampled at 38us
		if now-r.t0 >= 29 {
			r.setPair(h, 3, 1)
			r.phase = 4
		}
	case 4: // bits 2+0, sampled at 51us
		if now-r.t0 >= 42 {
			r.setPair(h, 2, 0)
			r.phase = 5
		}
	case 5: // EOI status on CLK at 64us: released means last byte
		if now-r.t0 >= 55 {
			if r.eoi {
				h.high(pins.CLK)
			} else {
				h.low(pins.CLK)
			}
			h.high(pins.DATA)
			r.phase = 6
		}
	case 6: // device acknowledges with DATA low
		if !h.s.Level(pins.DATA) {
			r.ackAt = now
			r.phase = 7
		} else if now-r.t0 > 300 {
			h.Timeouts++
			return true
		}
	case 7: // back to busy promptly, before the device re-arms
		if now-r.ackAt >= 3 {
			h.low(pins.CLK)
			return true
		}
	}
	return false
}

// JiffySendByte transmits one byte with the JiffyDos timing. The host
// must hold CLK low beforehand.
func (h *Host) JiffySendByte(data uint8, eoi bool) {
	h.push(&jiffySend{data: data, eoi: eoi})
}

// epyxRecvRaw receives a fixed number of Epyx clocked bytes (sector
// data), leaving DATA held low afterwards.
type epyxRecvRaw struct {
	phase int
	t0    uint32
	pair  int
	data  uint8
	n     int
	count int
}

func (r *epyxRecvRaw) step(h *Host) bool {
	now := h.s.now
	switch r.phase {
	case 0: // device releases CLK when ready
		if h.s.Level(pins.CLK) {
			r.phase = 1
		}
	case 1: // ready for one byte
		// hold the previous byte's DATA low a few us so the device sees it
		if now-r.t0 < 56 {
			break
		}
		h.high(pins.DATA)
		r.t0 = now
		r.pair = 0
		r.data = 0
		r.phase = 2
	case 2:
		offsets := [4]uint32{8, 22, 32, 42}
		hiBits := [4]uint8{7, 6, 3, 2}
		loBits := [4]uint8{5, 4, 1, 0}
		if now-r.t0 >= offsets[r.pair] {
			if !h.s.Level(pins.CLK) {
				r.data |= 1 << hiBits[r.pair]
			}
			if !h.s.Level(pins.DATA) {
				r.data |= 1 << loBits[r.pair]
			}
			r.pair++
			if r.pair == 4 {
				r.phase = 3
			}
		}
	case 3: // byte done, back to not-ready
		if now-r.t0 >= 52 {
			h.low(pins.DATA)
			h.Recv = append(h.Recv, RecvByte{Data: r.data})
			r.n++
			if r.n >= r.count {
				return true
			}
			r.phase = 1
		}
	}
	return false
}

// EpyxRecvRaw receives count receiver-clocked bytes (sector reads).
func (h *Host) EpyxRecvRaw(count int) {
	h.push(&epyxRecvRaw{count: count})
}
