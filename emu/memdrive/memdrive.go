/*
 * IECBus - In-memory drive backend.
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

// A minimal drive that stores named byte buffers in memory. It backs
// the file device layer for the monitor, the configuration file and
// the tests; it is not a disk image or a DOS.
package memdrive

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rcornwell/IECBus/emu/bus"
	"github.com/rcornwell/IECBus/emu/filedevice"
	"github.com/rcornwell/IECBus/util/debug"
	"github.com/rcornwell/IECBus/util/hex"

	config "github.com/rcornwell/IECBus/config/configparser"
)

// Debug trace bits (DEBUGFILE output).
const (
	debugFile = 1 << iota // open/close activity
	debugCmd              // command channel commands
)

type channel struct {
	open    bool
	name    string
	writing bool
	rdPos   int
	wbuf    []uint8
}

// Drive is an in-memory file store.
type Drive struct {
	devnr    uint8
	files    map[string][]uint8
	chans    [16]channel
	status   string
	debugMsk int
}

// Debug enables the drive's trace output bits.
func (d *Drive) Debug(mask int) {
	d.debugMsk = mask
}

// Registry of created drives, for the monitor.
var drives = map[uint8]*Drive{}

// New creates an empty drive for the given bus address.
func New(devnr uint8) *Drive {
	d := &Drive{devnr: devnr, files: map[string][]uint8{}, status: "00, OK,00,00"}
	drives[devnr] = d
	return d
}

// Find returns the drive at a bus address, nil if none.
func Find(devnr uint8) *Drive {
	return drives[devnr]
}

// Put stores a file on the drive.
func (d *Drive) Put(name string, data []uint8) {
	d.files[name] = data
}

// Get returns a stored file.
func (d *Drive) Get(name string) ([]uint8, bool) {
	data, ok := d.files[name]
	return data, ok
}

// Files lists the stored file names.
func (d *Drive) Files() []string {
	names := make([]string, 0, len(d.files))
	for n := range d.files {
		names = append(names, n)
	}
	return names
}

// Open opens a file on a channel. A name of "$" reads a listing; a
// ",W" suffix (or any name on the SAVE channel) opens for write.
func (d *Drive) Open(ch uint8, name string) {
	debug.DebugDevf(d.devnr, d.debugMsk, debugFile, "open #%d: %s", ch, name)
	c := &d.chans[ch]
	*c = channel{open: true}

	// strip ",P" / ",S" type suffixes, remember a write request
	base := name
	write := ch == 1
	if i := strings.IndexByte(name, ','); i >= 0 {
		base = name[:i]
		write = write || strings.HasSuffix(name, ",W")
	}
	c.name = base

	switch {
	case base == "$":
		var sb strings.Builder
		for n, f := range d.files {
			fmt.Fprintf(&sb, "%-16s %d\r", n, len(f))
		}
		d.files["$"] = []uint8(sb.String())
		d.status = "00, OK,00,00"
	case write:
		c.writing = true
		c.wbuf = nil
		d.status = "00, OK,00,00"
	default:
		if _, ok := d.files[base]; !ok {
			c.open = false
			d.status = "62,FILE NOT FOUND,00,00"
			return
		}
		d.status = "00, OK,00,00"
	}
}

// Close closes a channel, committing a written file.
func (d *Drive) Close(ch uint8) {
	debug.DebugDevf(d.devnr, d.debugMsk, debugFile, "close #%d", ch)
	c := &d.chans[ch]
	if c.open && c.writing {
		d.files[c.name] = c.wbuf
	}
	*c = channel{}
}

// Read fills buf from the open file on a channel.
func (d *Drive) Read(ch uint8, buf []uint8) uint8 {
	c := &d.chans[ch]
	if !c.open || c.writing {
		return 0
	}
	data := d.files[c.name]
	n := copy(buf, data[c.rdPos:])
	c.rdPos += n
	return uint8(n)
}

// Write appends buf to the open file on a channel.
func (d *Drive) Write(ch uint8, buf []uint8) uint8 {
	c := &d.chans[ch]
	if !c.open || !c.writing {
		return 0
	}
	c.wbuf = append(c.wbuf, buf...)
	return uint8(len(buf))
}

// Status reports the drive status text.
func (d *Drive) Status(buf []uint8) uint8 {
	n := copy(buf, d.status)
	d.status = "00, OK,00,00"
	return uint8(n)
}

// Execute handles command channel commands; nothing beyond the fast
// load commands (handled by the file device layer) is supported.
func (d *Drive) Execute(cmd []uint8) {
	var str strings.Builder
	hex.FormatBytes(&str, cmd)
	debug.DebugDevf(d.devnr, d.debugMsk, debugCmd, "execute: %s", str.String())
	d.status = "31,SYNTAX ERROR,00,00"
}

// Reset drops all channel state.
func (d *Drive) Reset() {
	for i := range d.chans {
		d.chans[i] = channel{}
	}
	d.status = "73,IECBUS MEMDRIVE,00,00"
}

// register the MEMDRIVE model with the configuration parser.
func init() {
	config.RegisterModel("MEMDRIVE", config.TypeModel, create)
}

// Create a memory drive device from a configuration line, for
// example: MEMDRIVE 8 JIFFY,EPYX
func create(devNum uint16, _ string, options []config.Option) error {
	if bus.Default == nil {
		return errors.New("no bus handler to attach MEMDRIVE to")
	}
	if devNum > 30 {
		return fmt.Errorf("MEMDRIVE address %d out of range", devNum)
	}

	drive := New(uint8(devNum))
	fd := filedevice.New(uint8(devNum), drive)
	if err := fd.Attach(bus.Default); err != nil {
		return err
	}

	for _, option := range options {
		opts := append([]*string{}, option.Value...)
		name := &option.Name
		for _, opt := range append([]*string{name}, opts...) {
			switch strings.ToUpper(*opt) {
			case "JIFFY":
				bus.Default.EnableJiffyDosSupport(fd, true)
			case "DOLPHIN":
				bus.Default.EnableDolphinDosSupport(fd, true)
			case "EPYX":
				bus.Default.EnableEpyxFastLoadSupport(fd, true)
			case "SECTOROPS":
				bus.Default.EnableEpyxFastLoadSupport(fd, true)
				bus.Default.EnableEpyxSectorOps(true)
			case "DEBUG":
				drive.Debug(debugFile | debugCmd)
			default:
				return fmt.Errorf("MEMDRIVE: unknown option %s", *opt)
			}
		}
	}
	return nil
}
