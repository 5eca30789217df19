package colorize

import (
	"fmt"
	"io"
)

// Style describes the style of a chunk of text.
type Style uint8

const (
	NormalStyle Style = iota
	AddressStyle
	BytesStyle
	StringStyle
	SymbolStyle
	CommentStyle
)

// Print writes a formatted chunk in the given style, then restores the
// normal style. A nil colorEscapes disables styling.
func Print(out io.Writer, s Style, colorEscapes map[Style]string, format string, args ...interface{}) {
	style(out, s, colorEscapes)
	fmt.Fprintf(out, format, args...)
	if s != NormalStyle {
		style(out, NormalStyle, colorEscapes)
	}
}

// Hexdump writes a hex and ASCII listing of data, width bytes per row,
// each row labeled with base plus its offset. The address column is
// sized on the last address so every row lines up. A nil colorEscapes
// disables styling.
func Hexdump(out io.Writer, data []byte, base uint64, width int, colorEscapes map[Style]string) {
	if width <= 0 {
		width = 16
	}
	if len(data) == 0 {
		return
	}
	addrLen := len(fmt.Sprintf("%x", base+uint64(len(data))))
	if addrLen < 8 {
		addrLen = 8
	}

	for off := 0; off < len(data); off += width {
		row := data[off:]
		if len(row) > width {
			row = row[:width]
		}

		style(out, AddressStyle, colorEscapes)
		fmt.Fprintf(out, "0x%0*x:", addrLen, base+uint64(off))

		style(out, BytesStyle, colorEscapes)
		for i := 0; i < width; i++ {
			if i%8 == 0 {
				io.WriteString(out, " ")
			}
			if i < len(row) {
				fmt.Fprintf(out, " %02x", row[i])
			} else {
				io.WriteString(out, "   ")
			}
		}

		style(out, StringStyle, colorEscapes)
		io.WriteString(out, "  |")
		for _, c := range row {
			if c < 0x20 || c > 0x7e {
				c = '.'
			}
			out.Write([]byte{c})
		}
		io.WriteString(out, "|")

		style(out, NormalStyle, colorEscapes)
		io.WriteString(out, "\n")
	}
}

func style(out io.Writer, s Style, colorEscapes map[Style]string) {
	if colorEscapes == nil {
		return
	}
	esc := colorEscapes[s]
	if esc == "" {
		esc = colorEscapes[NormalStyle]
	}
	io.WriteString(out, esc)
}
