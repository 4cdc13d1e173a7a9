package leadcache

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"crmdash/internal/domain/lead"
)

var errSchemaMismatch = errors.New("cache schema version mismatch")

type envelope struct {
	SchemaVersion int             `json:"schemaVersion"`
	WrittenAt     int64           `json:"writtenAt"`
	Payload       json.RawMessage `json:"payload"`
}

type collectionPayload struct {
	Leads      []lead.Lead `json:"leads"`
	Timestamp  int64       `json:"timestamp"`
	EmployeeID string      `json:"employeeId"`
	Email      string      `json:"email"`
}

type detailRecord struct {
	Lead      lead.Lead `json:"lead"`
	Timestamp int64     `json:"timestamp"`
}

type commentsRecord struct {
	Comments  []lead.Comment `json:"comments"`
	Timestamp int64          `json:"timestamp"`
}

type tasksRecord struct {
	Tasks     []lead.Task `json:"tasks"`
	Timestamp int64       `json:"timestamp"`
}

// entries is the payload of a per-lead namespace, keyed by lead id. Records
// stay raw so trimming and expiry work without knowing the record type.
type entries map[string]json.RawMessage

func encodeEnvelope(payload any, writtenAt int64) (string, error) {
	rawPayload, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	raw, err := json.Marshal(envelope{
		SchemaVersion: SchemaVersion,
		WrittenAt:     writtenAt,
		Payload:       rawPayload,
	})
	if err != nil {
		return "", fmt.Errorf("encode envelope: %w", err)
	}
	return string(raw), nil
}

func decodeEnvelope(raw string, payload any) (int64, error) {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return 0, fmt.Errorf("decode envelope: %w", err)
	}
	if env.SchemaVersion != SchemaVersion {
		return 0, fmt.Errorf("%w: got %d", errSchemaMismatch, env.SchemaVersion)
	}
	if len(env.Payload) == 0 {
		return 0, errors.New("decode envelope: empty payload")
	}
	if err := json.Unmarshal(env.Payload, payload); err != nil {
		return 0, fmt.Errorf("decode payload: %w", err)
	}
	return env.WrittenAt, nil
}

func recordTimestamp(raw json.RawMessage) (int64, bool) {
	var probe struct {
		Timestamp *int64 `json:"timestamp"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil || probe.Timestamp == nil {
		return 0, false
	}
	return *probe.Timestamp, true
}

// trimEntries keeps the bound most recently written records. keep, when
// non-empty, is always retained; unreadable timestamps sort oldest.
func trimEntries(items entries, bound int, keep string) (entries, int) {
	if len(items) <= bound {
		return items, 0
	}

	type stamped struct {
		id string
		ts int64
	}
	ordered := make([]stamped, 0, len(items))
	for id, raw := range items {
		ts, ok := recordTimestamp(raw)
		if !ok {
			ts = -1
		}
		if id == keep {
			continue
		}
		ordered = append(ordered, stamped{id: id, ts: ts})
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].ts == ordered[j].ts {
			return ordered[i].id < ordered[j].id
		}
		return ordered[i].ts > ordered[j].ts
	})

	limit := bound
	kept := make(entries, bound)
	if raw, ok := items[keep]; ok && keep != "" {
		kept[keep] = raw
		limit--
	}
	for i := 0; i < len(ordered) && i < limit; i++ {
		kept[ordered[i].id] = items[ordered[i].id]
	}
	return kept, len(items) - len(kept)
}
