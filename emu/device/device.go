/*
 * IECBus - Interface for bus device personalities.
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

package device

// NoDev marks an unassigned bus address.
const NoDev = uint8(0xFF)

// MaxAddr is the highest valid IEC bus address.
const MaxAddr = uint8(30)

// Device is one bus personality served by the bus handler. The handler
// calls these from Tick() context only; Write must return within one
// millisecond, long work belongs in CanRead/CanWrite or Task.
type Device interface {
	// Address returns the 5-bit bus address (0-30).
	Address() uint8

	// Begin is called once when the bus handler starts up.
	Begin()
	// Reset is called on a falling edge of the RESET line.
	Reset()
	// Task is called once per bus handler Tick().
	Task()

	// Addressing notifications, in bus order.
	PrimaryAddress(primary uint8)
	SecondaryAddress(secondary uint8)
	Listen(secondary uint8)
	Unlisten()
	Talk(secondary uint8)
	Untalk()

	// CanWrite reports whether the device can accept a data byte:
	// >0 ready, 0 full or error, <0 not decided yet (handler waits).
	// May block; the handler re-checks ATN afterwards.
	CanWrite() int8
	// CanRead reports how many bytes are available to send: >0 count
	// (the byte path caps interest at 2), 0 end-of-data or error,
	// <0 not decided yet. May block.
	CanRead() int8

	// Write delivers one received byte, eoi set on the final byte.
	Write(data uint8, eoi bool)
	// WriteBytes delivers a block, returning how many were accepted.
	// Accepting fewer than len(buf) signals an error to the handler.
	WriteBytes(buf []uint8, eoi bool) uint8
	// Read consumes and returns the next byte to transmit.
	Read() uint8
	// ReadBytes fills buf for block transfers, returning the count.
	ReadBytes(buf []uint8) uint8
	// Peek returns the next byte without consuming it.
	Peek() uint8
}

// SectorDevice is implemented by devices that support the Epyx
// FastLoad sector operations (disk editor, disk/file copy).
type SectorDevice interface {
	EpyxReadSector(track uint8, sector uint8, buf []uint8) bool
	EpyxWriteSector(track uint8, sector uint8, buf []uint8) bool
}
