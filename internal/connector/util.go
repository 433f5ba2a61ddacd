package connector

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ParseTimestamp accepts ISO-8601 strings, numeric seconds, and numeric
// milliseconds, returning milliseconds since epoch. Seconds vs
// milliseconds are disambiguated by magnitude: values above 10^12 are
// already milliseconds, values in (10^9, 10^12] are seconds.
func ParseTimestamp(v any) (int64, bool) {
	switch t := v.(type) {
	case string:
		return parseTimestampString(t)
	case float64:
		return normalizeEpoch(t), true
	case int64:
		return normalizeEpoch(float64(t)), true
	case int:
		return normalizeEpoch(float64(t)), true
	default:
		return 0, false
	}
}

func parseTimestampString(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return normalizeEpoch(f), true
	}
	layouts := []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05Z", "2006-01-02T15:04:05.000Z"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UnixMilli(), true
		}
	}
	return 0, false
}

func normalizeEpoch(f float64) int64 {
	switch {
	case f > 1e12:
		return int64(f)
	case f > 1e9:
		return int64(f * 1000)
	default:
		// Sub-second-epoch values are implausible for a conversation
		// timestamp; treat them as already-milliseconds rather than
		// guessing a unit that would put them decades in the past.
		return int64(f)
	}
}

// FlattenContent recursively concatenates text fragments from
// heterogeneous content structures: arrays of parts, objects carrying a
// "text" or "parts" field, or a bare string.
func FlattenContent(v any) string {
	var b strings.Builder
	flattenInto(&b, v)
	return strings.TrimSpace(b.String())
}

func flattenInto(b *strings.Builder, v any) {
	switch t := v.(type) {
	case string:
		if t != "" {
			if b.Len() > 0 {
				b.WriteByte('\n')
			}
			b.WriteString(t)
		}
	case []any:
		for _, item := range t {
			flattenInto(b, item)
		}
	case map[string]any:
		if parts, ok := t["parts"]; ok {
			flattenInto(b, parts)
			return
		}
		if text, ok := t["text"]; ok {
			flattenInto(b, text)
			return
		}
		if content, ok := t["content"]; ok {
			flattenInto(b, content)
		}
	}
}

// FileModifiedSince returns true if path's mtime is strictly greater
// than sinceTs (milliseconds since epoch), or sinceTs is zero.
func FileModifiedSince(path string, sinceTs int64) bool {
	if sinceTs == 0 {
		return true
	}
	info, err := os.Stat(path)
	if err != nil {
		return true
	}
	return info.ModTime().UnixMilli() > sinceTs
}

// MtimeMillis returns path's modification time in milliseconds, or 0 if
// it cannot be stat'd.
func MtimeMillis(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.ModTime().UnixMilli()
}

// maxToolOutputBytes caps rendered tool output so one enormous command
// result doesn't dominate a message's content.
const maxToolOutputBytes = 1000

// RenderToolCall formats a tool invocation as
// `[Tool: <name>] <titleOrCommand>` followed by its (possibly truncated)
// output on the next line, matching the original Rust connectors'
// rendering so existing search habits ("grep the content for [Tool:")
// keep working.
func RenderToolCall(name, titleOrCommand, output string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[Tool: %s]", name)
	if titleOrCommand != "" {
		b.WriteByte(' ')
		b.WriteString(titleOrCommand)
	}
	if output != "" {
		b.WriteByte('\n')
		b.WriteString(TruncateUTF8(output, maxToolOutputBytes))
	}
	return b.String()
}

// TruncateUTF8 truncates s to at most maxBytes bytes, backing off to the
// nearest valid UTF-8 boundary at or before the budget so a multi-byte
// rune is never split, then appends a truncation marker.
func TruncateUTF8(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	end := maxBytes
	for end > 0 && !utf8RuneStart(s[end]) {
		end--
	}
	return s[:end] + "... [truncated]"
}

// utf8RuneStart reports whether b is not a UTF-8 continuation byte
// (10xxxxxx), i.e. it's safe to cut just before it.
func utf8RuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
