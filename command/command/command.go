/*
 * IECBus - Monitor command plumbing.
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

package command

import (
	"github.com/rcornwell/IECBus/emu/bus"
	"github.com/rcornwell/IECBus/emu/simbus"
)

// Context carries what monitor commands operate on: the bus handler
// and, when running against the simulated bus, the bus itself (for
// commands that script the bus master side).
type Context struct {
	Handler *bus.Handler
	Sim     *simbus.Sim
}

// RunScript drives the bus handler until the simulated host script
// has finished, with an iteration cap as a backstop.
func (ctx *Context) RunScript() bool {
	if ctx.Sim == nil {
		return false
	}
	host := ctx.Sim.Host()
	for i := 0; i < 2_000_000 && !host.Idle(); i++ {
		ctx.Handler.Tick()
	}
	return host.Idle()
}
