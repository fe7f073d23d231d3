// Package pagination implements the opaque cursors used by the audit
// and webhook-event listings. A cursor pins a page boundary to the
// (timestamp, id) of the last row served, so pages stay stable while
// new events keep arriving at the head of the list.
package pagination

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Cursor is a decoded page boundary.
type Cursor struct {
	Timestamp time.Time
	ID        string
}

// Encode packs a page boundary into an opaque URL-safe string.
func Encode(ts time.Time, id string) string {
	raw := fmt.Sprintf("%d|%s", ts.UnixNano(), id)
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

// Decode unpacks a cursor. Empty input means first page and returns
// nil, nil; anything unparseable is an error so handlers can 400.
func Decode(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor")
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid cursor")
	}
	nanos, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor")
	}
	return &Cursor{
		Timestamp: time.Unix(0, nanos).UTC(),
		ID:        parts[1],
	}, nil
}

// ComputePage trims a limit+1 fetch down to one page. key extracts the
// (timestamp, id) boundary from an item; the returned cursor is empty
// when the fetch did not overflow the limit.
func ComputePage[T any](items []T, limit int, key func(T) (time.Time, string)) ([]T, string, bool) {
	if len(items) <= limit {
		return items, "", false
	}
	items = items[:limit]
	ts, id := key(items[len(items)-1])
	return items, Encode(ts, id), true
}
