package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// CustomerMarker prefixes scraped lines written by the customer.
const CustomerMarker = "[客户]"

// ScrapedItem is one message the page scraper extracted from a chat view.
// Content is usually a string but the scraper forwards whatever the page held.
type ScrapedItem struct {
	Content   any    `json:"content"`
	ChatID    string `json:"chatId,omitempty"`
	Role      string `json:"role,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	Timestamp any    `json:"timestamp,omitempty"`
}

// Text returns the content as trimmed text. Non-string content is rendered
// as JSON.
func (it ScrapedItem) Text() string {
	switch c := it.Content.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(c)
	default:
		b, err := json.Marshal(c)
		if err != nil {
			return strings.TrimSpace(fmt.Sprint(c))
		}
		return strings.TrimSpace(string(b))
	}
}

// IsCustomer reports whether the content carries the customer marker.
func (it ScrapedItem) IsCustomer() bool {
	return strings.HasPrefix(it.Text(), CustomerMarker)
}

// Time interprets Timestamp as epoch milliseconds, epoch seconds or an
// RFC 3339 string, returning fallback when it is none of those.
func (it ScrapedItem) Time(fallback time.Time) time.Time {
	switch v := it.Timestamp.(type) {
	case float64:
		if v > 1e12 {
			return time.UnixMilli(int64(v))
		}
		if v > 0 {
			return time.Unix(int64(v), int64((v-float64(int64(v)))*1e9))
		}
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t
		}
	}
	return fallback
}
