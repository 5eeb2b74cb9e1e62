/*
 * IECBus - Monitor command parser.
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

package parser

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	cmd "github.com/rcornwell/IECBus/command/command"
	"github.com/rcornwell/IECBus/emu/bus"
	"github.com/rcornwell/IECBus/emu/memdrive"
	"github.com/rcornwell/IECBus/util/hex"
)

type commandDef struct {
	name string
	help string
	fn   func(ctx *cmd.Context, args []string) error
}

var commands []commandDef

func init() {
	commands = []commandDef{
		{"help", "help                      - show this text", cmdHelp},
		{"show", "show devices|flags <addr> - show bus devices / protocol flags", cmdShow},
		{"set", "set <addr> <proto> on|off - enable/disable jiffy, dolphin, epyx", cmdSet},
		{"store", "store <addr> <name> <text>- store text as a drive file", cmdStore},
		{"attach", "attach <addr> <name> <file>- load a host file onto a drive", cmdAttach},
		{"files", "files <addr>              - list files on a drive", cmdFiles},
		{"dump", "dump <addr> <name>        - hexdump a drive file", cmdDump},
		{"dir", "dir <addr>                - read the drive listing over the bus", cmdDir},
		{"load", "load <addr> <name>        - load a file over the bus", cmdLoad},
		{"save", "save <addr> <name> <text> - save text over the bus", cmdSave},
		{"quit", "quit                      - exit the monitor", nil},
		{"exit", "exit                      - exit the monitor", nil},
	}
}

// ProcessCommand runs one monitor command line. Returns true when the
// monitor should exit.
func ProcessCommand(line string, ctx *cmd.Context) (bool, error) {
	args := strings.Fields(line)
	if len(args) == 0 {
		return false, nil
	}

	name := strings.ToLower(args[0])
	var match *commandDef
	for i := range commands {
		if strings.HasPrefix(commands[i].name, name) {
			if match != nil {
				return false, errors.New("ambiguous command: " + name)
			}
			match = &commands[i]
		}
	}
	if match == nil {
		return false, errors.New("unknown command: " + name)
	}
	if match.fn == nil {
		return true, nil
	}
	return false, match.fn(ctx, args[1:])
}

// CompleteCmd returns command completions for the console reader.
func CompleteCmd(line string) []string {
	out := []string{}
	for _, c := range commands {
		if strings.HasPrefix(c.name, strings.ToLower(line)) {
			out = append(out, c.name+" ")
		}
	}
	return out
}

func cmdHelp(ctx *cmd.Context, args []string) error {
	for _, c := range commands {
		fmt.Println(c.help)
	}
	return nil
}

func parseAddr(arg string) (uint8, error) {
	addr, err := strconv.ParseUint(arg, 10, 8)
	if err != nil || addr > 30 {
		return 0, errors.New("invalid bus address: " + arg)
	}
	return uint8(addr), nil
}

// Protocol flag names for display.
var flagNames = []struct {
	flag uint16
	name string
}{
	{bus.SJiffyEnabled, "jiffy"},
	{bus.SJiffyDetected, "jiffy-active"},
	{bus.SJiffyBlock, "jiffy-block"},
	{bus.SDolphinEnabled, "dolphin"},
	{bus.SDolphinDetected, "dolphin-active"},
	{bus.SDolphinBurstEnabled, "burst"},
	{bus.SDolphinBurstTx, "burst-tx"},
	{bus.SDolphinBurstRx, "burst-rx"},
	{bus.SEpyxEnabled, "epyx"},
	{bus.SEpyxHeader, "epyx-header"},
	{bus.SEpyxLoad, "epyx-load"},
	{bus.SEpyxSectorOp, "epyx-sector"},
}

func flagText(flags uint16) string {
	names := []string{}
	for _, f := range flagNames {
		if flags&f.flag != 0 {
			names = append(names, f.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ",")
}

func cmdShow(ctx *cmd.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("show what?")
	}
	switch args[0] {
	case "devices":
		for addr := uint8(0); addr <= 30; addr++ {
			if ctx.Handler.FindDevice(addr) != nil {
				fmt.Printf("%2d: %s\n", addr, flagText(ctx.Handler.ProtocolFlags(addr)))
			}
		}
		return nil
	case "flags":
		if len(args) < 2 {
			return errors.New("show flags needs a bus address")
		}
		addr, err := parseAddr(args[1])
		if err != nil {
			return err
		}
		fmt.Printf("%2d: %s\n", addr, flagText(ctx.Handler.ProtocolFlags(addr)))
		return nil
	}
	return errors.New("show devices or show flags <addr>")
}

func cmdSet(ctx *cmd.Context, args []string) error {
	if len(args) != 3 {
		return errors.New("set <addr> jiffy|dolphin|epyx on|off")
	}
	addr, err := parseAddr(args[0])
	if err != nil {
		return err
	}
	dev := ctx.Handler.FindDevice(addr)
	if dev == nil {
		return errors.New("no device at address " + args[0])
	}
	enable := false
	switch args[2] {
	case "on":
		enable = true
	case "off":
	default:
		return errors.New("set wants on or off")
	}
	switch args[1] {
	case "jiffy":
		ctx.Handler.EnableJiffyDosSupport(dev, enable)
	case "dolphin":
		ctx.Handler.EnableDolphinDosSupport(dev, enable)
	case "epyx":
		ctx.Handler.EnableEpyxFastLoadSupport(dev, enable)
	case "burst":
		ctx.Handler.EnableDolphinBurstMode(dev, enable)
	default:
		return errors.New("unknown protocol: " + args[1])
	}
	return nil
}

func findDrive(arg string) (*memdrive.Drive, error) {
	addr, err := parseAddr(arg)
	if err != nil {
		return nil, err
	}
	drive := memdrive.Find(addr)
	if drive == nil {
		return nil, errors.New("no memory drive at address " + arg)
	}
	return drive, nil
}

func cmdStore(ctx *cmd.Context, args []string) error {
	if len(args) < 3 {
		return errors.New("store <addr> <name> <text>")
	}
	drive, err := findDrive(args[0])
	if err != nil {
		return err
	}
	drive.Put(args[1], []uint8(strings.Join(args[2:], " ")))
	return nil
}

func cmdAttach(ctx *cmd.Context, args []string) error {
	if len(args) != 3 {
		return errors.New("attach <addr> <name> <file>")
	}
	drive, err := findDrive(args[0])
	if err != nil {
		return err
	}
	data, err := os.ReadFile(args[2])
	if err != nil {
		return err
	}
	drive.Put(args[1], data)
	return nil
}

func cmdFiles(ctx *cmd.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("files <addr>")
	}
	drive, err := findDrive(args[0])
	if err != nil {
		return err
	}
	for _, name := range drive.Files() {
		fmt.Println(name)
	}
	return nil
}

func cmdDump(ctx *cmd.Context, args []string) error {
	if len(args) != 2 {
		return errors.New("dump <addr> <name>")
	}
	drive, err := findDrive(args[0])
	if err != nil {
		return err
	}
	data, ok := drive.Get(args[1])
	if !ok {
		return errors.New("no such file: " + args[1])
	}
	fmt.Print(hex.Dump(data))
	return nil
}

// busLoad scripts the bus master side of OPEN/TALK/read/CLOSE for a
// named file and returns the received bytes.
func busLoad(ctx *cmd.Context, addr uint8, name string) ([]uint8, error) {
	if ctx.Sim == nil {
		return nil, errors.New("no simulated bus attached")
	}
	host := ctx.Sim.Host()
	host.Recv = nil

	host.AtnAssert()
	host.SendBytes([]uint8{0x20 | addr, 0xF0}, false)
	host.AtnRelease()
	host.SendBytes([]uint8(name), true)
	host.AtnAssert()
	host.SendBytes([]uint8{0x3F}, false)
	host.AtnRelease()
	host.ReleaseBus()

	host.AtnAssert()
	host.SendBytes([]uint8{0x40 | addr, 0x60}, false)
	host.AtnReleaseTurnaround()
	host.RecvUntilEOI(100000)

	host.AtnAssert()
	host.SendBytes([]uint8{0x5F}, false)
	host.AtnRelease()

	host.AtnAssert()
	host.SendBytes([]uint8{0x20 | addr, 0xE0}, false)
	host.AtnRelease()
	host.AtnAssert()
	host.SendBytes([]uint8{0x3F}, false)
	host.AtnRelease()
	host.ReleaseBus()

	if !ctx.RunScript() {
		return nil, errors.New("bus transaction did not finish")
	}
	return host.RecvData(), nil
}

func cmdDir(ctx *cmd.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("dir <addr>")
	}
	addr, err := parseAddr(args[0])
	if err != nil {
		return err
	}
	data, err := busLoad(ctx, addr, "$")
	if err != nil {
		return err
	}
	fmt.Print(strings.ReplaceAll(string(data), "\r", "\n"))
	return nil
}

func cmdLoad(ctx *cmd.Context, args []string) error {
	if len(args) != 2 {
		return errors.New("load <addr> <name>")
	}
	addr, err := parseAddr(args[0])
	if err != nil {
		return err
	}
	data, err := busLoad(ctx, addr, args[1])
	if err != nil {
		return err
	}
	fmt.Print(hex.Dump(data))
	return nil
}

func cmdSave(ctx *cmd.Context, args []string) error {
	if len(args) < 3 {
		return errors.New("save <addr> <name> <text>")
	}
	addr, err := parseAddr(args[0])
	if err != nil {
		return err
	}
	if ctx.Sim == nil {
		return errors.New("no simulated bus attached")
	}
	text := strings.Join(args[2:], " ")

	host := ctx.Sim.Host()
	host.AtnAssert()
	host.SendBytes([]uint8{0x20 | addr, 0xF1}, false)
	host.AtnRelease()
	host.SendBytes([]uint8(args[1]+",S,W"), true)
	host.AtnAssert()
	host.SendBytes([]uint8{0x3F}, false)
	host.AtnRelease()
	host.ReleaseBus()

	host.AtnAssert()
	host.SendBytes([]uint8{0x20 | addr, 0x61}, false)
	host.AtnRelease()
	host.SendBytes([]uint8(text), true)
	host.AtnAssert()
	host.SendBytes([]uint8{0x3F}, false)
	host.AtnRelease()
	host.ReleaseBus()

	host.AtnAssert()
	host.SendBytes([]uint8{0x20 | addr, 0xE1}, false)
	host.AtnRelease()
	host.AtnAssert()
	host.SendBytes([]uint8{0x3F}, false)
	host.AtnRelease()
	host.ReleaseBus()

	if !ctx.RunScript() {
		return errors.New("bus transaction did not finish")
	}
	return nil
}
