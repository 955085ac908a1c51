// unifi-protect-backup - UniFi Protect clip mirroring and retention agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/unifi-protect-backup

// Package pathtemplate implements the small remote-path template language
// from the external interface spec: six substitution symbols, two of which
// (event.start, event.end) accept a trailing ":FORMAT" strftime-style date
// specifier. Unknown symbols are a configuration error, caught at Compile
// time rather than surfacing mid-run.
package pathtemplate

import (
	"fmt"
	"strings"
	"time"

	"github.com/tomtom215/unifi-protect-backup/internal/model"
)

// Vars holds the values substituted into a compiled template for one event.
type Vars struct {
	Event          model.Event
	CameraName     string
	DetectionType  model.DetectionType
	Location       *time.Location
}

type segment struct {
	literal string
	symbol  string
	format  string
}

// Template is a parsed, validated path template ready to render.
type Template struct {
	segments []segment
}

var knownSymbols = map[string]bool{
	"event.start":       true,
	"event.end":         true,
	"event.id":          true,
	"camera_name":       true,
	"detection_type":    true,
	"duration_seconds":  true,
}

// timestampSymbols accept a trailing ":FORMAT" specifier.
var timestampSymbols = map[string]bool{"event.start": true, "event.end": true}

// Compile parses and validates raw, rejecting any symbol outside the six
// documented ones. The returned error is a configuration error (exit 200).
func Compile(raw string) (*Template, error) {
	var segs []segment
	rest := raw
	for {
		start := strings.IndexByte(rest, '{')
		if start == -1 {
			segs = append(segs, segment{literal: rest})
			break
		}
		if start > 0 {
			segs = append(segs, segment{literal: rest[:start]})
		}
		end := strings.IndexByte(rest[start:], '}')
		if end == -1 {
			return nil, fmt.Errorf("unterminated template symbol in %q", raw)
		}
		end += start

		inner := rest[start+1 : end]
		symbol, format, _ := strings.Cut(inner, ":")
		if !knownSymbols[symbol] {
			return nil, fmt.Errorf("unknown path template symbol %q", symbol)
		}
		if format != "" && !timestampSymbols[symbol] {
			return nil, fmt.Errorf("symbol %q does not accept a :FORMAT specifier", symbol)
		}
		segs = append(segs, segment{symbol: symbol, format: format})

		rest = rest[end+1:]
	}
	return &Template{segments: segs}, nil
}

// Render substitutes v into the compiled template.
func (t *Template) Render(v Vars) string {
	var b strings.Builder
	for _, seg := range t.segments {
		switch {
		case seg.symbol == "":
			b.WriteString(seg.literal)
		case seg.symbol == "event.start":
			b.WriteString(formatTimestamp(v.Event.StartTS, seg.format, v.Location))
		case seg.symbol == "event.end":
			b.WriteString(formatTimestamp(v.Event.EndTS, seg.format, v.Location))
		case seg.symbol == "event.id":
			b.WriteString(v.Event.ID)
		case seg.symbol == "camera_name":
			b.WriteString(sanitizePathComponent(v.CameraName))
		case seg.symbol == "detection_type":
			b.WriteString(string(v.DetectionType))
		case seg.symbol == "duration_seconds":
			fmt.Fprintf(&b, "%d", int64(v.Event.Duration().Seconds()))
		}
	}
	return b.String()
}

func formatTimestamp(ts time.Time, strftimeFormat string, loc *time.Location) string {
	if loc != nil {
		ts = ts.In(loc)
	}
	if strftimeFormat == "" {
		return ts.Format(time.RFC3339)
	}
	return ts.Format(strftimeToGo(strftimeFormat))
}

// sanitizePathComponent strips path separators a camera name could
// otherwise smuggle into the remote path.
func sanitizePathComponent(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "/", "_"), "\\", "_")
}

var strftimeDirectives = map[byte]string{
	'Y': "2006",
	'y': "06",
	'm': "01",
	'd': "02",
	'H': "15",
	'M': "04",
	'S': "05",
}

// strftimeToGo converts the small subset of Python strftime directives the
// default template and spec examples use into a Go reference-time layout.
func strftimeToGo(format string) string {
	var b strings.Builder
	for i := 0; i < len(format); i++ {
		if format[i] == '%' && i+1 < len(format) {
			if layout, ok := strftimeDirectives[format[i+1]]; ok {
				b.WriteString(layout)
				i++
				continue
			}
		}
		b.WriteByte(format[i])
	}
	return b.String()
}
