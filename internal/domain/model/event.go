// Package model contains domain models passed between layers.
package model

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/okian/trackbridge/pkg/tracking"
)

// maxLineSize bounds one NDJSON record.
const maxLineSize = 1 << 20

// TrackRequest is one event to forward. Its JSON shape is the track_event
// invocation body.
type TrackRequest struct {
	Name  string              `json:"name"`
	Props tracking.Properties `json:"props,omitempty"`
}

// Args returns the invocation body for r.
func (r TrackRequest) Args() tracking.TrackEventArgs {
	return tracking.TrackEventArgs{Name: r.Name, Props: r.Props}
}

// DecodeRequests reads newline-delimited TrackRequest records. Blank lines
// and lines starting with # are skipped. The first malformed record aborts
// decoding with its line number.
func DecodeRequests(r io.Reader) ([]TrackRequest, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var out []TrackRequest
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var req TrackRequest
		if err := json.Unmarshal([]byte(text), &req); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, req)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read requests: %w", err)
	}
	return out, nil
}
