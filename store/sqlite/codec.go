package sqlite

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/agentrelay/agentrelay/core"
)

// partRecord is the JSON shape used to persist the closed core.Part set.
type partRecord struct {
	Type     string         `json:"type"`
	Text     string         `json:"text,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func encodeParts(parts []core.Part) (string, error) {
	records := make([]partRecord, 0, len(parts))
	for _, p := range parts {
		switch v := p.(type) {
		case core.TextPart:
			records = append(records, partRecord{Type: "text", Text: v.Text, Metadata: v.Metadata})
		case core.DataPart:
			records = append(records, partRecord{Type: "data", Data: v.Data, Metadata: v.Metadata})
		default:
			return "", fmt.Errorf("unknown part type %T", p)
		}
	}
	raw, err := json.Marshal(records)
	if err != nil {
		return "", fmt.Errorf("encode parts: %w", err)
	}
	return string(raw), nil
}

func decodeParts(raw string) ([]core.Part, error) {
	var records []partRecord
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		return nil, fmt.Errorf("decode parts: %w", err)
	}
	parts := make([]core.Part, 0, len(records))
	for _, r := range records {
		switch r.Type {
		case "text":
			parts = append(parts, core.TextPart{Text: r.Text, Metadata: r.Metadata})
		case "data":
			parts = append(parts, core.DataPart{Data: r.Data, Metadata: r.Metadata})
		default:
			return nil, fmt.Errorf("unknown part type %q", r.Type)
		}
	}
	return parts, nil
}

func encodeJSON(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullableMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return toMillis(*t)
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullableInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
