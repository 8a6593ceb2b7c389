package model

import "time"

type URLMapping struct {
	ID           int64      `db:"id" json:"id"`
	ShortCode    string     `db:"short_code" json:"shortCode"`
	OriginalURL  string     `db:"original_url" json:"originalUrl"`
	ClickCount   int64      `db:"click_count" json:"clickCount"`
	CreatedAt    time.Time  `db:"created_at" json:"createdAt"`
	LastAccessed *time.Time `db:"last_accessed" json:"lastAccessed"`
}

// ClickEvent is an append-only analytics row owned by a URLMapping.
type ClickEvent struct {
	ID        int64     `db:"id" json:"id"`
	ShortCode string    `db:"short_code" json:"shortCode"`
	ClickedAt time.Time `db:"clicked_at" json:"clickedAt"`
	IPAddress *string   `db:"ip_address" json:"ipAddress,omitempty"`
	UserAgent *string   `db:"user_agent" json:"userAgent,omitempty"`
	Referrer  *string   `db:"referrer" json:"referrer,omitempty"`
}

// ClickMetadata is what the redirect path knows about the visitor.
type ClickMetadata struct {
	IPAddress string
	UserAgent string
	Referrer  string
}

func (m ClickMetadata) Empty() bool {
	return m.IPAddress == "" && m.UserAgent == "" && m.Referrer == ""
}

// CachedMapping is the value stored under "url:<code>".
type CachedMapping struct {
	OriginalURL string `json:"originalUrl"`
	ShortCode   string `json:"shortCode"`
}

type Source string

const (
	SourceCache    Source = "cache"
	SourceDatabase Source = "database"
)

type CreateResult struct {
	ShortCode   string    `json:"shortCode"`
	OriginalURL string    `json:"originalUrl"`
	CreatedAt   time.Time `json:"createdAt"`
	IsNew       bool      `json:"isNew"`
}

type Resolution struct {
	OriginalURL string `json:"originalUrl"`
	ShortCode   string `json:"shortCode"`
	Source      Source `json:"source"`
}

type Stats struct {
	ShortCode    string       `json:"shortCode"`
	OriginalURL  string       `json:"originalUrl"`
	ClickCount   int64        `json:"clickCount"`
	CreatedAt    time.Time    `json:"createdAt"`
	LastAccessed *time.Time   `json:"lastAccessed"`
	RecentClicks []ClickEvent `json:"recentClicks"`
}
