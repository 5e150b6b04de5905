package domain

import "time"

// Author is the account that published a post.
type Author struct {
	Name      string `json:"name"`
	Handle    string `json:"handle"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Verified  bool   `json:"verified"`
}

// PostRecord is the cached result of one post lookup. A record either
// carries a populated body or an Error, never both.
type PostRecord struct {
	PostID    string            `json:"post_id"`
	Author    Author            `json:"author"`
	Text      string            `json:"text"`
	CreatedAt time.Time         `json:"created_at"`
	Language  string            `json:"language,omitempty"`
	Media     []MediaDescriptor `json:"media,omitempty"`

	// Error is set when the last fetch attempt failed.
	Error string `json:"error,omitempty"`

	FetchedAt time.Time `json:"fetched_at"`
}

// Failed reports whether the record is the error-tagged variant.
func (p PostRecord) Failed() bool {
	return p.Error != ""
}

// NewFailedRecord builds the error-tagged record stored after a failed fetch.
func NewFailedRecord(postID string, err error, now time.Time) PostRecord {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return PostRecord{PostID: postID, Error: msg, FetchedAt: now}
}
