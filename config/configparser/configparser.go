/*
 * IECBus - Configuration file parser
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
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode"
)

// List of options to pass to a create routine.
type Option struct {
	Name     string    // Name of option.
	EqualOpt string    // Value of string after =.
	Value    []*string // Comma separated values of option.
}

// Option after the model name.
type FirstOption struct {
	devNum uint16 // Bus address, when numeric.
	isAddr bool   // Valid address in devNum.
	value  string // String value of option.
}

// Current option line being parsed.
type optionLine struct {
	line string // Current option line.
	pos  int    // Current position in line.
}

/* Configuration file format:
 *
 * '#' indicates comment, rest of line is ignored.
 * <line> := <model> <whitespace> <address> <whitespace> <options> |
 *            <fileopt> <quoteopt> |
 *            <switch>
 * <model> := <string>
 * <address> ::= <number>           # decimal IEC bus address, 0-30
 * <options> ::= *(<option> *(<whitespace>))
 * <option> ::= <name> ['=' <quoteopt>] *(',' *(<whitespace>) <string>)
 * <quoteopt> ::= <string> | '"' *(<letter> | <whitespace>) '"'
 * <string> ::= *(<letter> | <number>)
 */

// NoDev marks a line that carried no bus address.
const NoDev = uint16(0xFFFF)

const (
	TypeModel  = 1 + iota // Device model, requires a bus address.
	TypeOption            // Option with a single parameter.
	TypeSwitch            // Option used only to set a flag.
	TypeFile              // Option taking a (possibly quoted) file name.
)

type CreateFunc = func(devNum uint16, value string, options []Option) error

// Model creation list.
type modelDef struct {
	create CreateFunc
	ty     int
}

var models = map[string]modelDef{}

var lineNumber int

// Register a device model; called from init functions.
func RegisterModel(mod string, ty int, fn CreateFunc) {
	models[strings.ToUpper(mod)] = modelDef{create: fn, ty: ty}
}

// Register a flag option; called from init functions.
func RegisterSwitch(mod string, fn CreateFunc) {
	models[strings.ToUpper(mod)] = modelDef{create: fn, ty: TypeSwitch}
}

// Register a single parameter option; called from init functions.
func RegisterOption(mod string, fn CreateFunc) {
	models[strings.ToUpper(mod)] = modelDef{create: fn, ty: TypeOption}
}

// Register a file name option; called from init functions.
func RegisterFile(mod string, fn CreateFunc) {
	models[strings.ToUpper(mod)] = modelDef{create: fn, ty: TypeFile}
}

// Return the type of a model, 0 when not registered.
func getModel(mod string) int {
	model, ok := models[mod]
	if !ok {
		return 0
	}
	return model.ty
}

// Create a device of type model.
func createModel(mod string, first *FirstOption, options []Option) error {
	model := models[strings.ToUpper(mod)]
	return model.create(first.devNum, "", options)
}

// Load in a configuration file.
func LoadConfigFile(name string) error {
	file, err := os.Open(name)
	if err != nil {
		return err
	}
	defer file.Close()
	return LoadConfig(file)
}

// Load a configuration from a reader.
func LoadConfig(rd io.Reader) error {
	lineNumber = 0
	reader := bufio.NewReader(rd)
	for {
		var err error

		line := optionLine{}
		line.line, err = reader.ReadString('\n')
		lineNumber++
		if len(line.line) == 0 && err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return err
		}
		if err := line.parseLine(); err != nil {
			return err
		}
	}
	return nil
}

// Parse one line from the file.
func (line *optionLine) parseLine() error {
	model := line.parseModel()
	if model == "" {
		return nil
	}
	def, ok := models[model]
	if !ok {
		return fmt.Errorf("no model %s registered, line: %d", model, lineNumber)
	}

	switch def.ty {
	case TypeModel:
		first := line.parseFirst()
		if first == nil || !first.isAddr {
			return fmt.Errorf("device %s requires a bus address, line: %d", model, lineNumber)
		}
		if first.devNum > 30 {
			return fmt.Errorf("device %s address out of range, line: %d", model, lineNumber)
		}
		options, err := line.parseOptions()
		if err != nil {
			return err
		}
		return createModel(model, first, options)

	case TypeOption:
		first := line.parseFirst()
		line.skipSpace()
		if !line.isEOL() || first == nil {
			return fmt.Errorf("option %s not followed by a value, line: %d", model, lineNumber)
		}
		if first.isAddr {
			return def.create(first.devNum, first.value, nil)
		}
		return def.create(NoDev, first.value, nil)

	case TypeFile:
		line.skipSpace()
		line.pos--
		name, ok := line.parseQuoteString()
		line.skipSpace()
		if !ok || name == "" || !line.isEOL() {
			return fmt.Errorf("option %s requires a file name, line: %d", model, lineNumber)
		}
		return def.create(NoDev, name, nil)

	case TypeSwitch:
		line.skipSpace()
		if !line.isEOL() {
			return fmt.Errorf("switch option %s followed by options, line: %d", model, lineNumber)
		}
		return def.create(NoDev, "", nil)
	}
	return nil
}

// Skip forward over the line until a non whitespace character.
func (line *optionLine) skipSpace() {
	for line.pos < len(line.line) &&
		unicode.IsSpace(rune(line.line[line.pos])) {
		line.pos++
	}
}

// Check if at end of line (or start of comment).
func (line *optionLine) isEOL() bool {
	if line.pos >= len(line.line) {
		return true
	}
	return line.line[line.pos] == '#'
}

// Return next letter or digit in the line, 0 at EOL or space.
func (line *optionLine) getNext(inQuote bool) byte {
	line.pos++
	if line.isEOL() {
		return 0
	}
	by := line.line[line.pos]
	if unicode.IsLetter(rune(by)) || unicode.IsNumber(rune(by)) || inQuote {
		return by
	}
	return 0
}

// Peek at the next character.
func (line *optionLine) getPeek() byte {
	if (line.pos + 1) >= len(line.line) {
		return 0
	}
	return line.line[line.pos+1]
}

// Parse the model name.
func (line *optionLine) parseModel() string {
	line.skipSpace()
	if line.isEOL() {
		return ""
	}

	model := ""
	for !line.isEOL() {
		by := line.line[line.pos]
		if !unicode.IsLetter(rune(by)) && !unicode.IsNumber(rune(by)) {
			break
		}
		model += string(by)
		line.pos++
	}
	return strings.ToUpper(model)
}

// Parse the first option parameter, usually the bus address.
func (line *optionLine) parseFirst() *FirstOption {
	line.skipSpace()
	if line.isEOL() {
		return nil
	}

	value := ""
	for !line.isEOL() {
		by := line.line[line.pos]
		if !unicode.IsLetter(rune(by)) && !unicode.IsNumber(rune(by)) {
			break
		}
		value += string(by)
		line.pos++
	}

	option := FirstOption{devNum: NoDev, value: value}

	// IEC bus addresses are small decimal numbers
	devNum, err := strconv.ParseUint(value, 10, 16)
	if err == nil {
		option.devNum = uint16(devNum)
		option.isAddr = true
	}
	return &option
}

// Parse a string that is "string" or just string. The position must
// be on the character before the string starts.
func (line *optionLine) parseQuoteString() (string, bool) {
	inQuote := false
	value := ""

	if line.getPeek() == '"' {
		inQuote = true
		_ = line.getNext(true)
	}

	for {
		by := line.getNext(true)
		// inside a quoted string "" stands for a single quote
		if by == '"' && inQuote {
			by = line.getNext(inQuote)
			if by != '"' {
				return value, true
			}
		}

		space := unicode.IsSpace(rune(by))
		// space or comma terminates an unquoted string
		if !inQuote && (space || by == 0 || by == ',') {
			return value, true
		}

		value += string(by)
		if line.isEOL() {
			return value, !inQuote
		}
	}
}

// Parse an option name.
func (line *optionLine) getName() (string, error) {
	if line.isEOL() {
		return "", nil
	}

	by := line.line[line.pos]
	if !unicode.IsLetter(rune(by)) {
		return "", fmt.Errorf("invalid option encountered line: %d [%d]", lineNumber, line.pos)
	}

	value := ""
	for by != 0 {
		value += string(by)
		by = line.getNext(false)
	}
	return value, nil
}

// Parse one option with its values.
func (line *optionLine) parseOption() (*Option, error) {
	line.skipSpace()

	value, err := line.getName()
	if value == "" {
		return nil, err
	}

	option := Option{Name: value}

	if line.isEOL() {
		return &option, nil
	}

	// check for an equals option
	if line.line[line.pos] == '=' {
		v, ok := line.parseQuoteString()
		if !ok {
			return nil, fmt.Errorf("invalid quoted string line: %d [%d]", lineNumber, line.pos)
		}
		option.EqualOpt = v
	}

	line.skipSpace()

	// grab all comma separated values
	for !line.isEOL() && line.line[line.pos] == ',' {
		line.pos++
		line.skipSpace()
		v, err := line.getName()
		if err != nil {
			return nil, err
		}
		if v != "" {
			option.Value = append(option.Value, &v)
		}
		line.skipSpace()
	}

	return &option, nil
}

// Collect all options of a line.
func (line *optionLine) parseOptions() ([]Option, error) {
	options := []Option{}
	for {
		option, err := line.parseOption()
		if err != nil {
			return nil, err
		}
		if option == nil {
			break
		}
		options = append(options, *option)
	}
	return options, nil
}
