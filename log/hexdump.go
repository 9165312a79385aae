package log

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/Lvzhenqian/console/errors"
)

const (
	bytesPerLine = 16
	hexColumn    = bytesPerLine * 3
)

// HexDump writes data to logf as fixed width lines:
//
//	SND -   0 : 65 63 68 6F 20 68 69 0A                          echo hi.
//
// Bytes outside printable ASCII show as '.' in the text column.
func HexDump(data []byte, tag string, logf func(string)) {
	hdr := ""
	if tag != "" {
		hdr = tag + " - "
	}
	var (
		hexPart  strings.Builder
		textPart strings.Builder
		offset   int
	)
	flush := func() {
		logf(fmt.Sprintf("%s%3d : %-48s %s", hdr, offset, hexPart.String(), textPart.String()))
		hexPart.Reset()
		textPart.Reset()
	}
	for i, b := range data {
		fmt.Fprintf(&hexPart, "%02X ", b)
		if b > 31 && b < 127 {
			textPart.WriteByte(b)
		} else {
			textPart.WriteByte('.')
		}
		if (i+1)%bytesPerLine == 0 {
			flush()
			offset += bytesPerLine
		}
	}
	if hexPart.Len() > 0 {
		flush()
	}
}

// ParseHexDump recovers the bytes of lines produced by HexDump. Lines may
// still carry the record prefix written by a sink.
func ParseHexDump(lines []string) ([]byte, error) {
	var out []byte
	for _, line := range lines {
		idx := strings.Index(line, " : ")
		if idx < 0 {
			return nil, errors.Newf("hex dump line without offset separator: %q", line)
		}
		column := line[idx+3:]
		if len(column) > hexColumn {
			column = column[:hexColumn]
		}
		for _, field := range strings.Fields(column) {
			b, err := hex.DecodeString(field)
			if err != nil || len(b) != 1 {
				return nil, errors.Newf("bad hex byte %q in line %q", field, line)
			}
			out = append(out, b[0])
		}
	}
	return out, nil
}
