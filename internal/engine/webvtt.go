package engine

import (
	"bufio"
	"io"
	"strings"
)

// CollapseWebVTTHeaders rewrites a stream of concatenated WebVTT
// segments into one valid document. Only the first WEBVTT header line
// survives; each later header is dropped together with the one blank
// line that follows it. Every other line passes through verbatim.
func CollapseWebVTTHeaders(r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	writer := bufio.NewWriter(w)

	seenHeader := false
	skipNextBlank := false
	for scanner.Scan() {
		line := scanner.Text()

		if strings.HasPrefix(line, "WEBVTT") {
			if seenHeader {
				skipNextBlank = true
				continue
			}
			seenHeader = true
		} else if skipNextBlank {
			skipNextBlank = false
			if strings.TrimSpace(line) == "" {
				continue
			}
		}

		if _, err := writer.WriteString(line); err != nil {
			return err
		}
		if err := writer.WriteByte('\n'); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return writer.Flush()
}
