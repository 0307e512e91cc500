package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	offsetStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	asciiStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))

	rxLabel = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true).Render("RX")
	txLabel = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true).Render("TX")
)

// hexDump renders p in the classic 16-bytes-per-row offset/hex/ascii
// layout, one trailing newline included.
func hexDump(p []byte) string {
	var b strings.Builder
	for off := 0; off < len(p); off += 16 {
		end := off + 16
		if end > len(p) {
			end = len(p)
		}
		row := p[off:end]

		var hexCol strings.Builder
		for i := 0; i < 16; i++ {
			if i == 8 {
				hexCol.WriteByte(' ')
			}
			if i < len(row) {
				fmt.Fprintf(&hexCol, "%02x ", row[i])
			} else {
				hexCol.WriteString("   ")
			}
		}

		var asciiCol strings.Builder
		for _, c := range row {
			if c >= 0x20 && c < 0x7f {
				asciiCol.WriteByte(c)
			} else {
				asciiCol.WriteByte('.')
			}
		}

		fmt.Fprintf(&b, "%s  %s %s\n",
			offsetStyle.Render(fmt.Sprintf("%08x", off)),
			hexCol.String(),
			asciiStyle.Render("|"+asciiCol.String()+"|"))
	}
	return b.String()
}
