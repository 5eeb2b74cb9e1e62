/*
 * IECBus - Serial bus handler state and device table.
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

import (
	"errors"
	"sync/atomic"

	dev "github.com/rcornwell/IECBus/emu/device"
	"github.com/rcornwell/IECBus/emu/pins"
)

// Maximum number of device personalities on one handler.
const MaxDevices = 16

// Handler state flags.
const (
	flagATN       = 0x80 // host is asserting ATN
	flagListening = 0x40 // selected as listener
	flagTalking   = 0x20 // selected as talker
	flagDone      = 0x10 // transaction finished, waiting for ATN release
	flagReset     = 0x08 // RESET line seen high (edge detector state)

	// Begin() has not been called yet.
	flagsNotBegun = 0xFF
)

// Per-device protocol flags. The *Enabled bits are set by
// configuration, the rest are transient per-transaction state and are
// cleared on every ATN falling edge.
const (
	SJiffyEnabled        uint16 = 0x0001 // JiffyDos support enabled
	SJiffyDetected       uint16 = 0x0002 // host requested JiffyDos protocol
	SJiffyBlock          uint16 = 0x0004 // JiffyDos block transfer requested
	SDolphinEnabled      uint16 = 0x0008 // DolphinDos support enabled
	SDolphinDetected     uint16 = 0x0010 // parallel cable detected
	SDolphinBurstEnabled uint16 = 0x0020 // DolphinDos burst mode enabled
	SDolphinBurstTx      uint16 = 0x0040 // burst transmit requested (XQ)
	SDolphinBurstRx      uint16 = 0x0080 // burst receive requested (XZ)
	SEpyxEnabled         uint16 = 0x0100 // Epyx FastLoad support enabled
	SEpyxHeader          uint16 = 0x0200 // Epyx drive code upload pending
	SEpyxLoad            uint16 = 0x0400 // Epyx load request active
	SEpyxSectorOp        uint16 = 0x0800 // Epyx sector operation active

	sTransient = SJiffyDetected | SJiffyBlock | SDolphinDetected |
		SDolphinBurstTx | SDolphinBurstRx |
		SEpyxHeader | SEpyxLoad | SEpyxSectorOp
)

// DolphinDos SAVE sends two data bytes before the burst request; they
// are held back until the request (or its absence) is known.
const dolphinPrebufferBytes = 2

// Default fast-load buffer size. Minimum 32 for Epyx, 2 for Dolphin,
// 256 if Epyx sector operations are enabled.
const DefaultBufferSize = 128

// One attached device personality. The protocol flags belong to the
// handler, not the device.
type busDevice struct {
	dev    dev.Device
	sflags uint16
}

// Handler drives one IEC bus from the device side. All protocol work
// runs in Tick() context; the only asynchronous entry is the ATN
// falling edge handler.
type Handler struct {
	pin pins.Pins

	hasReset    bool // RESET line wired
	hasCtrl     bool // CTRL (hardware ATN override) wired
	hasParallel bool // DolphinDos parallel cable wired
	atnIntr     bool // ATN on an interrupt capable input
	sectorOps   bool // Epyx sector operations enabled

	devices []*busDevice
	current *busDevice

	flags           uint8
	primary         uint8
	secondary       uint8
	timeoutStart    uint32
	timeoutDuration uint16

	buffer     []uint8
	dolphinCtr uint8

	inTick        atomic.Bool
	handshakeRecv atomic.Bool
}

// Two process-wide slots route the ATN edge interrupts; bound at
// Begin() time, in registration order.
var busHandler1, busHandler2 *Handler

func atnInterrupt1() {
	if h := busHandler1; h != nil && !h.inTick.Load() && (h.flags&flagATN) == 0 {
		h.atnRequest()
	}
}

func atnInterrupt2() {
	if h := busHandler2; h != nil && !h.inTick.Load() && (h.flags&flagATN) == 0 {
		h.atnRequest()
	}
}

// New creates a bus handler on the given pin capability. hasReset and
// hasCtrl declare whether the optional RESET input and CTRL output are
// wired. The fast-load buffer starts at DefaultBufferSize; SetBuffer
// replaces it.
func New(p pins.Pins, hasReset bool, hasCtrl bool) *Handler {
	return &Handler{
		pin:      p,
		hasReset: hasReset,
		hasCtrl:  hasCtrl,
		flags:    flagsNotBegun,
		buffer:   make([]uint8, DefaultBufferSize),
	}
}

// SetBuffer replaces the fast-load buffer. Call before enabling any
// fast-load protocol.
func (h *Handler) SetBuffer(buffer []uint8) {
	h.buffer = buffer
}

// Begin initializes the bus lines and starts edge detection. Must be
// called once before the first Tick().
func (h *Handler) Begin() {
	h.pin.Release(pins.CLK)
	h.pin.Release(pins.DATA)
	h.flags = 0

	// allow ATN to pull DATA low in hardware
	h.writePinCTRL(false)

	// Use the edge interrupt for ATN when the platform has one,
	// otherwise Tick() polls (and must then be called at least once
	// per millisecond).
	if busHandler1 == nil || busHandler1 == h {
		busHandler1 = h
		h.atnIntr = h.pin.AttachFalling(pins.ATN, atnInterrupt1)
	} else if busHandler2 == nil || busHandler2 == h {
		busHandler2 = h
		h.atnIntr = h.pin.AttachFalling(pins.ATN, atnInterrupt2)
	}

	for _, d := range h.devices {
		d.dev.Begin()
	}
}

// CanServeATN reports whether ATN requests can be answered while a
// device blocks in CanRead/CanWrite: either the CTRL hardware override
// or the ATN edge interrupt must be present.
func (h *Handler) CanServeATN() bool {
	return h.hasCtrl || h.atnIntr
}

// AttachDevice adds a device personality to the bus.
func (h *Handler) AttachDevice(d dev.Device) error {
	if len(h.devices) >= MaxDevices {
		return errors.New("device table full")
	}
	if d.Address() > dev.MaxAddr {
		return errors.New("device address out of range")
	}
	if h.findDevice(d.Address()) != nil {
		return errors.New("device address already in use")
	}
	h.devices = append(h.devices, &busDevice{dev: d})
	if h.flags != flagsNotBegun {
		d.Begin()
	}
	return nil
}

// DetachDevice removes a device personality from the bus.
func (h *Handler) DetachDevice(d dev.Device) bool {
	for i, bd := range h.devices {
		if bd.dev == d {
			if h.current == bd {
				h.current = nil
			}
			h.devices = append(h.devices[:i], h.devices[i+1:]...)
			return true
		}
	}
	return false
}

// FindDevice returns the device at the given bus address, nil if none.
func (h *Handler) FindDevice(devnr uint8) dev.Device {
	if bd := h.findDevice(devnr); bd != nil {
		return bd.dev
	}
	return nil
}

func (h *Handler) findDevice(devnr uint8) *busDevice {
	for _, bd := range h.devices {
		if bd.dev.Address() == devnr {
			return bd
		}
	}
	return nil
}

func (h *Handler) deviceEntry(d dev.Device) *busDevice {
	for _, bd := range h.devices {
		if bd.dev == d {
			return bd
		}
	}
	return nil
}

// ProtocolFlags returns the protocol flag set for the device at the
// given address, for status display.
func (h *Handler) ProtocolFlags(devnr uint8) uint16 {
	if bd := h.findDevice(devnr); bd != nil {
		return bd.sflags
	}
	return 0
}

// EnableJiffyDosSupport enables or disables JiffyDos for one device.
// Requires a fast-load buffer. Returns the resulting state.
func (h *Handler) EnableJiffyDosSupport(d dev.Device, enable bool) bool {
	bd := h.deviceEntry(d)
	if bd == nil {
		return false
	}
	if enable && len(h.buffer) > 0 {
		bd.sflags |= SJiffyEnabled
	} else {
		bd.sflags &^= SJiffyEnabled
	}
	// cancel any current JiffyDos activity
	bd.sflags &^= SJiffyDetected | SJiffyBlock
	return bd.sflags&SJiffyEnabled != 0
}

// EnableDolphinDosSupport enables or disables DolphinDos for one
// device. Requires the parallel cable and an HR edge interrupt.
func (h *Handler) EnableDolphinDosSupport(d dev.Device, enable bool) bool {
	bd := h.deviceEntry(d)
	if bd == nil {
		return false
	}
	if enable && len(h.buffer) >= dolphinPrebufferBytes && h.enableParallelCable() {
		bd.sflags |= SDolphinEnabled | SDolphinBurstEnabled
	} else {
		bd.sflags &^= SDolphinEnabled | SDolphinBurstEnabled
	}
	// cancel any current DolphinDos activity
	bd.sflags &^= SDolphinDetected | SDolphinBurstTx | SDolphinBurstRx
	return bd.sflags&SDolphinEnabled != 0
}

// EnableDolphinBurstMode toggles the burst transfer mode (the XF+ and
// XF- bus commands call this).
func (h *Handler) EnableDolphinBurstMode(d dev.Device, enable bool) {
	bd := h.deviceEntry(d)
	if bd == nil {
		return
	}
	if enable {
		bd.sflags |= SDolphinBurstEnabled
	} else {
		bd.sflags &^= SDolphinBurstEnabled
	}
	bd.sflags &^= SDolphinBurstTx | SDolphinBurstRx
}

// DolphinBurstReceiveRequest flags a pending burst receive (bus
// command XZ); Tick() services it after the settling window.
func (h *Handler) DolphinBurstReceiveRequest(d dev.Device) {
	if bd := h.deviceEntry(d); bd != nil {
		bd.sflags |= SDolphinBurstRx
		h.timeoutStart = h.pin.Micros()
	}
}

// DolphinBurstTransmitRequest flags a pending burst transmit (bus
// command XQ).
func (h *Handler) DolphinBurstTransmitRequest(d dev.Device) {
	if bd := h.deviceEntry(d); bd != nil {
		bd.sflags |= SDolphinBurstTx
		h.timeoutStart = h.pin.Micros()
	}
}

// EnableEpyxFastLoadSupport enables or disables Epyx FastLoad for one
// device. Requires a buffer of at least 32 bytes.
func (h *Handler) EnableEpyxFastLoadSupport(d dev.Device, enable bool) bool {
	bd := h.deviceEntry(d)
	if bd == nil {
		return false
	}
	if enable && len(h.buffer) >= 32 {
		bd.sflags |= SEpyxEnabled
	} else {
		bd.sflags &^= SEpyxEnabled
	}
	// cancel any current requests
	bd.sflags &^= SEpyxHeader | SEpyxLoad | SEpyxSectorOp
	return bd.sflags&SEpyxEnabled != 0
}

// EnableEpyxSectorOps enables the Epyx sector operations (disk editor,
// disk/file copy). The buffer must hold a full 256 byte sector.
func (h *Handler) EnableEpyxSectorOps(enable bool) bool {
	h.sectorOps = enable && len(h.buffer) >= 256
	return h.sectorOps
}

// EpyxLoadRequest flags a pending Epyx drive code upload for the
// device (called when the M-W/M-E sequence has been recognized).
func (h *Handler) EpyxLoadRequest(d dev.Device) {
	if bd := h.deviceEntry(d); bd != nil && bd.sflags&SEpyxEnabled != 0 {
		bd.sflags |= SEpyxHeader
	}
}

// Default is the handler that configuration file device entries
// attach to; set it before loading the configuration.
var Default *Handler

// Close releases the handler's bus lines and frees its interrupt
// trampoline slot so another handler can be created.
func (h *Handler) Close() {
	h.pin.Release(pins.CLK)
	h.pin.Release(pins.DATA)
	h.pin.DetachFalling(pins.ATN)
	if h.hasParallel {
		h.pin.DetachFalling(pins.HR)
	}
	if busHandler1 == h {
		busHandler1 = nil
	}
	if busHandler2 == h {
		busHandler2 = nil
	}
	h.flags = flagsNotBegun
}
