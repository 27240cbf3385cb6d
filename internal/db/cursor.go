package db

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Cursor is a keyset position in a created_at DESC, id DESC listing.
type Cursor struct {
	Time time.Time
	ID   string
}

func (c Cursor) IsZero() bool { return c.Time.IsZero() }

func (c Cursor) String() string { return EncodeCursor(c.Time, c.ID) }

func ParseCursor(cursor string) (Cursor, error) {
	if cursor == "" {
		return Cursor{}, nil
	}
	parts := strings.SplitN(cursor, ":", 2)
	if len(parts) != 2 {
		return Cursor{}, errors.New("invalid cursor format")
	}
	n, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Cursor{}, errors.New("invalid cursor timestamp")
	}
	if parts[1] == "" {
		return Cursor{}, errors.New("invalid cursor id")
	}
	return Cursor{Time: time.Unix(0, n).UTC(), ID: parts[1]}, nil
}

func EncodeCursor(ts time.Time, id string) string {
	return fmt.Sprintf("%d:%s", ts.UTC().UnixNano(), id)
}

// Page is one slice of a keyset listing.
type Page[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
	Cached     bool   `json:"cached"`
}

// KeyFunc extracts the ordering key of an item.
type KeyFunc[T any] func(T) (time.Time, string)

// Trim turns a limit+1 result set into a page.
func Trim[T any](items []T, limit int, key KeyFunc[T]) Page[T] {
	if items == nil {
		items = []T{}
	}
	if len(items) <= limit {
		return Page[T]{Items: items}
	}
	ts, id := key(items[limit-1])
	return Page[T]{Items: items[:limit], NextCursor: EncodeCursor(ts, id)}
}

// Paginate orders an in-memory set the way the SQL listings do and applies
// the cursor and limit.
func Paginate[T any](items []T, cursor Cursor, limit int, key KeyFunc[T]) Page[T] {
	sort.Slice(items, func(i, j int) bool {
		ti, ii := key(items[i])
		tj, ij := key(items[j])
		if ti.Equal(tj) {
			return ii > ij
		}
		return ti.After(tj)
	})
	if !cursor.IsZero() {
		filtered := items[:0]
		for _, it := range items {
			ts, id := key(it)
			if ts.Before(cursor.Time) || (ts.Equal(cursor.Time) && id < cursor.ID) {
				filtered = append(filtered, it)
			}
		}
		items = filtered
	}
	out := make([]T, 0, min(len(items), limit+1))
	for i := 0; i < len(items) && i <= limit; i++ {
		out = append(out, items[i])
	}
	return Trim(out, limit, key)
}
