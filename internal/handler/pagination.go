package handler

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"duet/backend/internal/journal"
)

var errInvalidCursor = errors.New("invalid cursor")

// CursorMeta defines the structure for keyset pagination metadata.
type CursorMeta struct {
	NextCursor *string `json:"nextCursor" example:"eyJjcmVhdGVkQXQiOiIyMDI1LTAzLTAxVDEyOjAwOjAwWiIsImlkIjo0Mn0"`
	Limit      int     `json:"limit" example:"20"`
}

// CursorPage defines the structure for a cursor paginated list of any type.
type CursorPage[T any] struct {
	Data []T        `json:"data"`
	Meta CursorMeta `json:"meta"`
}

// NewCursorPage creates a new CursorPage. A nil next cursor marks the last page.
func NewCursorPage[T any](data []T, next *journal.Cursor, limit int) CursorPage[T] {
	page := CursorPage[T]{Data: data, Meta: CursorMeta{Limit: limit}}
	if page.Data == nil {
		page.Data = []T{}
	}
	if next != nil {
		encoded := encodeCursor(*next)
		page.Meta.NextCursor = &encoded
	}
	return page
}

type cursorToken struct {
	CreatedAt time.Time `json:"createdAt"`
	ID        uint      `json:"id"`
}

func encodeCursor(cursor journal.Cursor) string {
	raw, _ := json.Marshal(cursorToken{CreatedAt: cursor.CreatedAt.UTC(), ID: cursor.ID})
	return base64.RawURLEncoding.EncodeToString(raw)
}

// decodeCursor parses an opaque cursor. An empty string means the first page.
func decodeCursor(value string) (*journal.Cursor, error) {
	if value == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return nil, errInvalidCursor
	}
	var token cursorToken
	if err := json.Unmarshal(raw, &token); err != nil || token.ID == 0 || token.CreatedAt.IsZero() {
		return nil, errInvalidCursor
	}
	return &journal.Cursor{CreatedAt: token.CreatedAt, ID: token.ID}, nil
}

// parseLimit reads the page size, falling back to the default and clamping to the maximum.
func parseLimit(value string) (int, error) {
	if value == "" {
		return journal.DefaultPageSize, nil
	}
	limit, err := strconv.Atoi(value)
	if err != nil || limit < 1 {
		return 0, errors.New("limit must be a positive integer")
	}
	if limit > journal.MaxPageSize {
		limit = journal.MaxPageSize
	}
	return limit, nil
}
