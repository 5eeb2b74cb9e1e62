/*
 * IECBus - Main process.
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

package main

import (
	"io"
	"log/slog"
	"os"

	getopt "github.com/pborman/getopt/v2"
	command "github.com/rcornwell/IECBus/command/command"
	reader "github.com/rcornwell/IECBus/command/reader"
	config "github.com/rcornwell/IECBus/config/configparser"
	bus "github.com/rcornwell/IECBus/emu/bus"
	simbus "github.com/rcornwell/IECBus/emu/simbus"
	logger "github.com/rcornwell/IECBus/util/logger"

	_ "github.com/rcornwell/IECBus/emu/memdrive"
	_ "github.com/rcornwell/IECBus/util/debug"
)

func main() {
	optConfig := getopt.StringLong("config", 'c', "IEC.cfg", "Configuration file")
	optLogFile := getopt.StringLong("log", 'l', "", "Log file")
	optDebug := getopt.BoolLong("debug", 'd', "Log debug to console")
	optHelp := getopt.BoolLong("help", 'h', "Help")
	getopt.Parse()

	if *optHelp {
		getopt.Usage()
		os.Exit(0)
	}

	var file io.Writer
	if *optLogFile != "" {
		if f, err := os.Create(*optLogFile); err == nil {
			file = f
		}
	}
	programLevel := new(slog.LevelVar)
	programLevel.Set(slog.LevelDebug)
	log := slog.New(logger.NewHandler(file, &slog.HandlerOptions{Level: programLevel}, *optDebug))
	slog.SetDefault(log)

	log.Info("IECBus started")

	// The monitor runs the protocol engine against a simulated bus:
	// the bus master side is scripted by the monitor commands.
	sim := simbus.New()
	// simulation has no deadline while driven interactively
	sim.Deadline = 0xFFFFFFFF

	bus.Default = bus.New(sim, true, true)

	if *optConfig != "" {
		if _, err := os.Stat(*optConfig); err == nil {
			if err := config.LoadConfigFile(*optConfig); err != nil {
				log.Error(err.Error())
				os.Exit(1)
			}
		} else {
			log.Warn("No configuration file " + *optConfig + ", starting with an empty bus")
		}
	}

	bus.Default.Begin()

	ctx := &command.Context{Handler: bus.Default, Sim: sim}
	reader.ConsoleReader(ctx)

	log.Info("IECBus stopped")
}
