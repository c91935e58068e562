package main

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/lucasjlepore/wheelspeed"
)

// readCapture parses one sample per line: either "time,count" in decimal or a
// 16 hex digit broadcast page. Blank lines and # comments are skipped.
func readCapture(r io.Reader) ([]wheelspeed.RotationSample, error) {
	var out []wheelspeed.RotationSample
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		if line == "" {
			continue
		}
		s, err := parseCaptureLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		out = append(out, s)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func parseCaptureLine(line string) (wheelspeed.RotationSample, error) {
	if timeStr, countStr, ok := strings.Cut(line, ","); ok {
		t, err := strconv.ParseUint(strings.TrimSpace(timeStr), 10, 16)
		if err != nil {
			return wheelspeed.RotationSample{}, fmt.Errorf("parse time: %w", err)
		}
		c, err := strconv.ParseUint(strings.TrimSpace(countStr), 10, 16)
		if err != nil {
			return wheelspeed.RotationSample{}, fmt.Errorf("parse count: %w", err)
		}
		return wheelspeed.RotationSample{Time: uint16(t), Count: uint16(c)}, nil
	}

	payload, err := hex.DecodeString(strings.ReplaceAll(line, " ", ""))
	if err != nil {
		return wheelspeed.RotationSample{}, fmt.Errorf("parse payload: %w", err)
	}
	if len(payload) != wheelspeed.FrameSize {
		return wheelspeed.RotationSample{}, fmt.Errorf("payload has %d bytes, want %d", len(payload), wheelspeed.FrameSize)
	}
	return wheelspeed.DecodeFrame(payload)
}
