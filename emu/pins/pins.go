/*
 * IECBus - Bus line I/O capability.
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

package pins

// Bus signal lines. ATN, CLK, DATA and RESET are the serial bus proper,
// CTRL is the optional output that lets external hardware gate ATN onto
// DATA. HT/HR and D0-D7 belong to the DolphinDos parallel cable.
type Line int

const (
	ATN Line = iota
	CLK
	DATA
	RESET
	CTRL
	HT // parallel handshake, device to host
	HR // parallel handshake, host to device
	D0
	D1
	D2
	D3
	D4
	D5
	D6
	D7

	NumLines
)

// NoLine marks an unwired optional line (RESET, CTRL, the parallel cable).
const NoLine Line = -1

// Names for debug output.
var lineName = map[Line]string{
	ATN: "ATN", CLK: "CLK", DATA: "DATA", RESET: "RESET", CTRL: "CTRL",
	HT: "HT", HR: "HR", D0: "D0", D1: "D1", D2: "D2", D3: "D3",
	D4: "D4", D5: "D5", D6: "D6", D7: "D7",
}

func (l Line) String() string {
	if n, ok := lineName[l]; ok {
		return n
	}
	return "?"
}

// Parallel returns the parallel data line for bit i (0-7).
func Parallel(i int) Line {
	return D0 + Line(i)
}

// Pins is the platform capability the bus handler runs against. All
// lines are open collector: a line reads high unless somebody drives
// it low, so the only write operations are "drive low" and "release".
//
// The timer trio realizes the per-byte cycle clock of the fast-load
// protocols: Reset/Start latch a reference edge, WaitUntil spins until
// the given number of microseconds after the reference. Implementations
// must keep worst case jitter below one microsecond and must not
// enable interrupts inside WaitUntil.
type Pins interface {
	// Read returns the logical bus level of the line (post pull-up).
	Read(line Line) bool
	// SetOutputLow drives the line low (open collector assert).
	SetOutputLow(line Line)
	// Release switches the line to high-Z; the pull-up takes it high.
	Release(line Line)

	// Micros returns a monotonic microsecond counter (wraps at 2^32).
	Micros() uint32

	// TimerReset and TimerStart latch the reference edge for
	// TimerWaitUntil. They are separate because some platforms stop
	// the counter between bytes.
	TimerReset()
	TimerStart()
	// TimerWaitUntil spins until us microseconds after the reference.
	TimerWaitUntil(us float64)

	// AttachFalling registers fn to run on a falling edge of line.
	// Returns false if the platform cannot interrupt on that line;
	// the caller must poll instead.
	AttachFalling(line Line, fn func()) bool
	// DetachFalling removes a previously attached edge handler.
	DetachFalling(line Line)

	// MaskInterrupts and UnmaskInterrupts bracket the timed bit-level
	// sections. Every mask call must be paired with an unmask on all
	// exit paths.
	MaskInterrupts()
	UnmaskInterrupts()
}
