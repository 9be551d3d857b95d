package record

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// UnknownRecipient replaces a blank recipient at save time
const UnknownRecipient = "Unknown"

// Record is a persisted transaction entry
type Record struct {
	ID        int64     `json:"id"`
	Recipient string    `json:"recipient"`
	Amount    int64     `json:"amount"` // VND, no subunit
	ImageURI  string    `json:"imageUri"`
	CreatedAt time.Time `json:"createdAt"`
	Hashtags  []string  `json:"hashtags"`
}

// Draft holds the fields of a record that does not have an ID yet
type Draft struct {
	Recipient string
	Amount    int64
	ImageURI  string
	CreatedAt time.Time // zero means "now"
	Hashtags  []string
}

// HasHashtag reports whether the record carries exactly this tag
func (r *Record) HasHashtag(tag string) bool {
	for _, h := range r.Hashtags {
		if h == tag {
			return true
		}
	}
	return false
}

// RecipientContains reports whether the recipient contains q, ignoring case.
// An empty q matches every record.
func (r *Record) RecipientContains(q string) bool {
	if q == "" {
		return true
	}
	fold := cases.Fold()
	return strings.Contains(fold.String(r.Recipient), fold.String(q))
}

// NormalizeHashtags trims each tag, drops empties and duplicates, and keeps first-seen order
func NormalizeHashtags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}
