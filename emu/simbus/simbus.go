/*
 * IECBus - Simulated IEC bus wiring.
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

// Sim is a software IEC bus: open collector wires, a virtual
// microsecond clock and a scripted bus master. It realizes the
// pins.Pins capability for the bus handler; every pin access from the
// handler advances virtual time by one microsecond and steps the
// host, so the two sides co-simulate deterministically on a single
// goroutine.
type Sim struct {
	now      uint32
	timerRef uint32

	// one bit per driving agent, per line; a line reads high when no
	// agent drives it low
	drive [pins.NumLines]uint8

	onFalling [pins.NumLines]func()
	masked    bool
	pending   []pins.Line

	events eventList
	host   *Host

	stepping bool

	// Watchdog: a co-simulation that stops making progress would spin
	// forever, so cap virtual time.
	Deadline uint32
}

// Driving agents on the wires.
const (
	agentDevice = 1 << 0
	agentHost   = 1 << 1
)

// New creates a simulated bus with an idle host.
func New() *Sim {
	s := &Sim{Deadline: 20_000_000}
	s.host = &Host{s: s}
	return s
}

// Host returns the scripted bus master on this bus.
func (s *Sim) Host() *Host {
	return s.host
}

// Now returns the current virtual time in microseconds.
func (s *Sim) Now() uint32 {
	return s.now
}

// Level returns the logical level of a line (post pull-up).
func (s *Sim) Level(line pins.Line) bool {
	return s.drive[line] == 0
}

// Schedule runs fn after delta microseconds of virtual time.
func (s *Sim) Schedule(delta uint32, fn func()) {
	s.events.schedule(delta, fn)
}

// tick advances virtual time, running due events and the host.
func (s *Sim) tick(n uint32) {
	// Pin accesses made by scheduled events or host actions must not
	// recurse into the clock.
	if s.stepping {
		return
	}
	s.stepping = true
	for i := uint32(0); i < n; i++ {
		s.now++
		if s.now > s.Deadline {
			panic("simbus: virtual time deadline exceeded")
		}
		s.events.advance(1)
		s.host.step()
	}
	s.stepping = false
}

// setLow drives a line low for an agent, firing falling edge hooks on
// a high to low transition.
func (s *Sim) setLow(agent uint8, line pins.Line) {
	was := s.Level(line)
	s.drive[line] |= agent
	if was && !s.Level(line) {
		s.fallingEdge(line)
	}
}

// setHigh releases an agent's drive on a line.
func (s *Sim) setHigh(agent uint8, line pins.Line) {
	s.drive[line] &^= agent
}

func (s *Sim) fallingEdge(line pins.Line) {
	if s.onFalling[line] == nil {
		return
	}
	if s.masked {
		// latched, delivered on unmask
		s.pending = append(s.pending, line)
		return
	}
	s.onFalling[line]()
}

// ---------------- pins.Pins realization (device side) ----------------

func (s *Sim) Read(line pins.Line) bool {
	s.tick(1)
	return s.Level(line)
}

func (s *Sim) SetOutputLow(line pins.Line) {
	s.setLow(agentDevice, line)
}

func (s *Sim) Release(line pins.Line) {
	s.setHigh(agentDevice, line)
}

func (s *Sim) Micros() uint32 {
	s.tick(1)
	return s.now
}

func (s *Sim) TimerReset() {
	s.timerRef = s.now
}

func (s *Sim) TimerStart() {
	s.timerRef = s.now
}

func (s *Sim) TimerWaitUntil(us float64) {
	for float64(s.now-s.timerRef) < us {
		s.tick(1)
	}
}

func (s *Sim) AttachFalling(line pins.Line, fn func()) bool {
	s.onFalling[line] = fn
	return true
}

func (s *Sim) DetachFalling(line pins.Line) {
	s.onFalling[line] = nil
}

func (s *Sim) MaskInterrupts() {
	s.masked = true
}

func (s *Sim) UnmaskInterrupts() {
	s.masked = false
	for len(s.pending) > 0 {
		line := s.pending[0]
		s.pending = s.pending[1:]
		if fn := s.onFalling[line]; fn != nil {
			fn()
		}
	}
}

// ---------------- host side wire access ----------------

func (s *Sim) hostLow(line pins.Line) {
	s.setLow(agentHost, line)
}

func (s *Sim) hostHigh(line pins.Line) {
	s.setHigh(agentHost, line)
}

// DeviceDriving reports whether the device side holds a line low;
// tests use it to tell the two sides of the wired-or apart.
func (s *Sim) DeviceDriving(line pins.Line) bool {
	return s.drive[line]&agentDevice != 0
}
