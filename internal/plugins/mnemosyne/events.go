package mnemosyne

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aetherframe/aetherframe/internal/aether"
	"github.com/aetherframe/aetherframe/internal/plugin"
)

// Raw trace events arrive as loosely typed maps: from the pipeline
// context, from trace artifacts of earlier stages, or from a trace log
// handed in as the job target. The helpers below tolerate the key and
// numeric type variance across those sources.

func stringField(ev map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := ev[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func intField(ev map[string]any, key string) int {
	switch v := ev[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func payloadOf(ev map[string]any) map[string]any {
	if p, ok := ev["payload"].(map[string]any); ok {
		return p
	}
	return map[string]any{}
}

// eventTime extracts the event timestamp as both parsed time and raw
// string. JSON sources carry RFC3339 strings under "ts" or "timestamp".
func eventTime(ev map[string]any) (time.Time, string) {
	for _, k := range []string{"ts", "timestamp"} {
		switch v := ev[k].(type) {
		case string:
			if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
				return ts, v
			}
			return time.Time{}, v
		case time.Time:
			return v, v.Format(time.RFC3339Nano)
		}
	}
	return time.Time{}, ""
}

// collectEvents gathers trace events from every available source, in
// priority order, capped at max.
func collectEvents(jc *plugin.Context, max int) []map[string]any {
	var events []map[string]any

	// Pipeline context carries the live handoff from a trace stage.
	if raw, ok := jc.Pipeline["trace_events"]; ok {
		events = appendRawEvents(events, raw, max)
	}

	// Trace artifacts written by earlier stages.
	for _, art := range jc.PreviousArtifacts {
		if art.ArtifactType != "trace" && !strings.Contains(strings.ToLower(art.Name), "trace") {
			continue
		}
		path, ok := strings.CutPrefix(art.URI, "file://")
		if !ok {
			continue
		}
		events = appendRawEvents(events, readEventFile(path), max)
	}

	// The target itself may be a trace log.
	switch filepath.Ext(jc.TargetPath) {
	case ".json", ".trace", ".log":
		events = appendRawEvents(events, readEventFile(jc.TargetPath), max)
	}

	return events
}

// appendRawEvents accepts the event container shapes seen in the wild:
// a typed slice from the pipeline, a decoded JSON array, or an
// envelope object with an "events" key.
func appendRawEvents(dst []map[string]any, src any, max int) []map[string]any {
	switch v := src.(type) {
	case []map[string]any:
		for _, ev := range v {
			if len(dst) >= max {
				return dst
			}
			dst = append(dst, ev)
		}
	case []any:
		for _, item := range v {
			if len(dst) >= max {
				return dst
			}
			if ev, ok := item.(map[string]any); ok {
				dst = append(dst, ev)
			}
		}
	case map[string]any:
		if inner, ok := v["events"]; ok {
			return appendRawEvents(dst, inner, max)
		}
	}
	return dst
}

// readEventFile best-effort decodes a JSON trace file. Unreadable or
// malformed files contribute nothing.
func readEventFile(path string) any {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil
	}
	return decoded
}

// syntheticEvents is the fallback when no trace source yields events:
// a single hypothetical entry-point event so downstream consumers
// still see a well-formed timeline and graph.
func syntheticEvents() []map[string]any {
	return []map[string]any{{
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		"event_type": string(aether.EventStateInit),
		"source":     string(aether.SourceMnemosyne),
		"symbol":     "main",
		"payload":    map[string]any{"synthetic": true},
	}}
}
