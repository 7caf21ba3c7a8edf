// ABOUTME: Message paging for the history endpoint
// ABOUTME: Returns the newest page before a cursor, oldest first

package devserver

import (
	"fmt"
	"slices"
	"strconv"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultPageSize, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	return min(n, maxPageSize), nil
}

// pageMessages returns up to limit messages that precede the message with ID
// before (or the newest ones when before is empty), oldest first. An unknown
// cursor yields an empty page.
func pageMessages(msgs []Message, limit int, before string) []Message {
	end := len(msgs)
	if before != "" {
		end = slices.IndexFunc(msgs, func(m Message) bool { return m.ID == before })
		if end < 0 {
			return []Message{}
		}
	}
	page := make([]Message, 0, min(limit, end))
	return append(page, msgs[max(0, end-limit):end]...)
}
