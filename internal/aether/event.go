package aether

import "time"

// Event is a generic audit row: ad-hoc API posts and job failure notices.
// Distinct from TraceEvent; never produced by pipeline stages.
type Event struct {
	ID        int64          `json:"id"`
	EventType string         `json:"event_type"`
	Payload   map[string]any `json:"payload,omitempty"`
	JobID     *int64         `json:"job_id,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// PluginInfo is the descriptive plugin catalogue row. It shares no identity
// with loaded registry manifests; the row is purely informational.
type PluginInfo struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Version     string    `json:"version"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
