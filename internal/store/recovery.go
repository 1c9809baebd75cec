package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultKeepPerDevice is how many toggle records Append keeps per device.
const DefaultKeepPerDevice = 20

// ToggleRecord is one persisted interval toggle.
type ToggleRecord struct {
	Name   string
	Status bool
	At     time.Time
}

type recordJSON struct {
	Name      string `json:"name"`
	Status    any    `json:"status"`
	CreatedAt string `json:"created_at"`
}

// Recovery reads and appends the persisted toggle records that interval
// automations use to resume their duty cycle after a restart.
type Recovery struct {
	kv   KV
	key  string
	keep int
	log  *zap.Logger

	// mu serializes Append's read-modify-write within this process.
	mu sync.Mutex
}

// NewRecovery creates a Recovery over kv using the well-known key.
func NewRecovery(kv KV) *Recovery {
	return &Recovery{kv: kv, key: KeyIntervalRecords, keep: DefaultKeepPerDevice, log: zap.NewNop()}
}

// SetLogger sets the logger used for warnings about the stored records.
func (r *Recovery) SetLogger(l *zap.Logger) {
	if l != nil {
		r.log = l
	}
}

// Records returns every parseable record. Entries with a missing name or
// an unparseable timestamp are skipped.
func (r *Recovery) Records(ctx context.Context) ([]ToggleRecord, error) {
	raw, ok, err := r.kv.Get(ctx, r.key)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", r.key, err)
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	return decodeRecords([]byte(raw))
}

func decodeRecords(raw []byte) ([]ToggleRecord, error) {
	var items []recordJSON
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode toggle records: %w", err)
	}
	out := make([]ToggleRecord, 0, len(items))
	for _, it := range items {
		if it.Name == "" {
			continue
		}
		at, err := ParseTimestamp(it.CreatedAt)
		if err != nil {
			continue
		}
		out = append(out, ToggleRecord{Name: it.Name, Status: truthy(it.Status), At: at})
	}
	return out, nil
}

// Latest returns the most recent ON record and the most recent OFF record
// for name. Either may be nil.
func (r *Recovery) Latest(ctx context.Context, name string) (*ToggleRecord, *ToggleRecord, error) {
	recs, err := r.Records(ctx)
	if err != nil {
		return nil, nil, err
	}
	var on, off *ToggleRecord
	for i := range recs {
		rec := &recs[i]
		if rec.Name != name {
			continue
		}
		if rec.Status {
			if on == nil || rec.At.After(on.At) {
				on = rec
			}
		} else if off == nil || rec.At.After(off.At) {
			off = rec
		}
	}
	return on, off, nil
}

// Append adds rec and trims the device's history to the newest records.
func (r *Recovery) Append(ctx context.Context, rec ToggleRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	raw, ok, err := r.kv.Get(ctx, r.key)
	if err != nil {
		return fmt.Errorf("read %s: %w", r.key, err)
	}
	var recs []ToggleRecord
	if ok && strings.TrimSpace(raw) != "" {
		recs, err = decodeRecords([]byte(raw))
		if err != nil {
			// Unreadable history would block every later write-back.
			r.log.Warn("discarding unreadable toggle records",
				zap.String("key", r.key), zap.Error(err))
			recs = nil
		}
	}
	recs = append(recs, rec)

	// Newest first per device, then keep the first r.keep of each.
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].At.After(recs[j].At) })
	seen := make(map[string]int)
	kept := recs[:0]
	for _, x := range recs {
		if seen[x.Name] >= r.keep {
			continue
		}
		seen[x.Name]++
		kept = append(kept, x)
	}

	items := make([]recordJSON, len(kept))
	for i, x := range kept {
		items[i] = recordJSON{Name: x.Name, Status: x.Status, CreatedAt: x.At.UTC().Format(time.RFC3339Nano)}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode toggle records: %w", err)
	}
	if err := r.kv.Set(ctx, r.key, string(data)); err != nil {
		return fmt.Errorf("write %s: %w", r.key, err)
	}
	return nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTimestamp parses an ISO-8601 timestamp. A trailing Z or explicit
// offset is honoured; timestamps without a zone are taken as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

func truthy(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case float64:
		return x != 0
	case string:
		switch strings.ToLower(x) {
		case "true", "1", "on":
			return true
		}
	}
	return false
}
