/*
 * IECBus - Hex formatting helpers.
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

package hex

import "strings"

var hexMap = "0123456789ABCDEF"

// FormatByte appends one byte as two hex digits.
func FormatByte(str *strings.Builder, by uint8) {
	str.WriteByte(hexMap[(by>>4)&0xf])
	str.WriteByte(hexMap[by&0xf])
}

// FormatBytes appends a run of bytes as space separated hex pairs.
func FormatBytes(str *strings.Builder, data []uint8) {
	for i, by := range data {
		if i != 0 {
			str.WriteByte(' ')
		}
		FormatByte(str, by)
	}
}

// Dump formats data as 16-byte hexdump lines with a printable column,
// the way the monitor shows file contents.
func Dump(data []uint8) string {
	var str strings.Builder
	for off := 0; off < len(data); off += 16 {
		end := off + 16
		if end > len(data) {
			end = len(data)
		}
		line := data[off:end]

		str.WriteByte(hexMap[(off>>12)&0xf])
		str.WriteByte(hexMap[(off>>8)&0xf])
		str.WriteByte(hexMap[(off>>4)&0xf])
		str.WriteByte(hexMap[off&0xf])
		str.WriteString(": ")
		for i := range 16 {
			if i < len(line) {
				FormatByte(&str, line[i])
			} else {
				str.WriteString("  ")
			}
			str.WriteByte(' ')
		}
		str.WriteByte(' ')
		for _, by := range line {
			if by >= 0x20 && by < 0x7F {
				str.WriteByte(by)
			} else {
				str.WriteByte('.')
			}
		}
		str.WriteByte('\n')
	}
	return str.String()
}
