package domain

import "time"

// CacheEntry stores a language-provider extraction for a signature.
type CacheEntry struct {
	Key       string    `json:"key"`
	Action    string    `json:"action"`
	Target    string    `json:"target"`
	Reply     string    `json:"reply"`
	Provider  string    `json:"provider"`
	CreatedAt time.Time `json:"created_at"`
}
