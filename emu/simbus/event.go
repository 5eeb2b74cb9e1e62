/*
 * IECBus - Relative time event scheduler for the simulated bus.
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

// Events are kept in a doubly linked list sorted by time, each entry
// holding the delta to its predecessor, so advancing the clock only
// touches the head.

type simEvent struct {
	time uint32 // microseconds after the previous entry
	fn   func()
	prev *simEvent
	next *simEvent
}

type eventList struct {
	head *simEvent
	tail *simEvent
}

// schedule queues fn to run delta microseconds from now. A delta of 0
// runs it immediately.
func (el *eventList) schedule(delta uint32, fn func()) {
	if delta == 0 {
		fn()
		return
	}

	ev := &simEvent{time: delta, fn: fn}

	if el.head == nil {
		el.head = ev
		el.tail = ev
		return
	}

	// scan for the insertion point, keeping deltas relative
	for ptr := el.head; ptr != nil; ptr = ptr.next {
		if ev.time <= ptr.time {
			ptr.time -= ev.time
			ev.prev = ptr.prev
			ev.next = ptr
			ptr.prev = ev
			if ev.prev != nil {
				ev.prev.next = ev
			} else {
				el.head = ev
			}
			return
		}
		ev.time -= ptr.time
	}

	ev.prev = el.tail
	el.tail.next = ev
	el.tail = ev
}

// advance moves virtual time forward by t microseconds, running every
// event that comes due.
func (el *eventList) advance(t uint32) {
	ev := el.head
	if ev == nil {
		return
	}
	if ev.time > t {
		ev.time -= t
		return
	}
	ev.time = 0
	for ev != nil && ev.time == 0 {
		el.head = ev.next
		if el.head != nil {
			el.head.prev = nil
		} else {
			el.tail = nil
		}
		ev.fn()
		ev = el.head
	}
}
