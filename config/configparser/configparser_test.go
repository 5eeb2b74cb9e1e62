/*
 * IECBus - Configuration parser tests.
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

package configparser

import (
	"strings"
	"testing"
)

type created struct {
	devNum  uint16
	value   string
	options []Option
}

func register(t *testing.T, name string, ty int) *[]created {
	t.Helper()
	got := &[]created{}
	fn := func(devNum uint16, value string, options []Option) error {
		*got = append(*got, created{devNum: devNum, value: value, options: options})
		return nil
	}
	switch ty {
	case TypeModel:
		RegisterModel(name, TypeModel, fn)
	case TypeOption:
		RegisterOption(name, fn)
	case TypeSwitch:
		RegisterSwitch(name, fn)
	case TypeFile:
		RegisterFile(name, fn)
	}
	return got
}

func TestParseModelLine(t *testing.T) {
	got := register(t, "TDRIVE", TypeModel)

	cfg := "# comment line\n" +
		"tdrive 8 JIFFY,EPYX\n" +
		"\n" +
		"TDRIVE 9\n"
	if err := LoadConfig(strings.NewReader(cfg)); err != nil {
		t.Fatal(err)
	}

	if len(*got) != 2 {
		t.Fatalf("created %d devices, want 2", len(*got))
	}
	first := (*got)[0]
	if first.devNum != 8 {
		t.Fatalf("address: got %d", first.devNum)
	}
	if len(first.options) != 1 || first.options[0].Name != "JIFFY" {
		t.Fatalf("options: %+v", first.options)
	}
	if len(first.options[0].Value) != 1 || *first.options[0].Value[0] != "EPYX" {
		t.Fatalf("option values: %+v", first.options[0])
	}
	if (*got)[1].devNum != 9 {
		t.Fatalf("second address: got %d", (*got)[1].devNum)
	}
}

func TestParseAddressRange(t *testing.T) {
	register(t, "RDRIVE", TypeModel)

	if err := LoadConfig(strings.NewReader("RDRIVE 31\n")); err == nil {
		t.Fatal("address 31 accepted")
	}
	if err := LoadConfig(strings.NewReader("RDRIVE\n")); err == nil {
		t.Fatal("missing address accepted")
	}
}

func TestParseFileOption(t *testing.T) {
	got := register(t, "TLOG", TypeFile)

	cfg := "TLOG \"some file.log\"\n"
	if err := LoadConfig(strings.NewReader(cfg)); err != nil {
		t.Fatal(err)
	}
	if len(*got) != 1 || (*got)[0].value != "some file.log" {
		t.Fatalf("file option: %+v", *got)
	}

	cfg = "TLOG plain.log\n"
	if err := LoadConfig(strings.NewReader(cfg)); err != nil {
		t.Fatal(err)
	}
	if (*got)[1].value != "plain.log" {
		t.Fatalf("unquoted file option: %+v", (*got)[1])
	}
}

func TestParseSwitch(t *testing.T) {
	got := register(t, "TFLAG", TypeSwitch)

	if err := LoadConfig(strings.NewReader("TFLAG\n")); err != nil {
		t.Fatal(err)
	}
	if len(*got) != 1 {
		t.Fatalf("switch not created: %+v", *got)
	}
	if err := LoadConfig(strings.NewReader("TFLAG extra\n")); err == nil {
		t.Fatal("switch with an argument accepted")
	}
}

func TestParseUnknownModel(t *testing.T) {
	if err := LoadConfig(strings.NewReader("NOSUCH 8\n")); err == nil {
		t.Fatal("unknown model accepted")
	}
}
