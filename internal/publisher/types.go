package publisher

import (
	"context"
	"fmt"
	"time"
)

// Media is one attachment to upload. Exactly one of URL or Data is set;
// Data is base64-encoded content.
type Media struct {
	URL  string
	Data string
	Kind string // image | gif | video
}

// MediaHandle is a platform-side reference to uploaded media.
type MediaHandle struct {
	ID string
}

// PostResult describes a successfully published post.
type PostResult struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// RateLimitedError means the platform returned 429. The pipeline backs
// off and retries; RetryAfter is a hint (0 when the platform gave none).
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited (retry after %s)", e.RetryAfter)
	}
	return "rate limited"
}

// PublishError is a permanent publish rejection. It is not retried.
type PublishError struct {
	StatusCode int
	Detail     string
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish rejected (status %d): %s", e.StatusCode, e.Detail)
}

// MediaUploadError wraps a per-attachment upload failure. The pipeline
// logs it and posts without the attachment.
type MediaUploadError struct {
	Kind string
	Err  error
}

func (e *MediaUploadError) Error() string {
	return fmt.Sprintf("media upload (%s): %v", e.Kind, e.Err)
}
func (e *MediaUploadError) Unwrap() error { return e.Err }

// Publisher is the primary posting transport.
type Publisher interface {
	UploadMedia(ctx context.Context, m Media) (MediaHandle, error)
	Publish(ctx context.Context, text string, media []MediaHandle) (PostResult, error)
}

// FallbackPublisher posts through the secondary transport after the
// primary exhausts its rate-limit retries. It takes raw media because
// handles from the primary are not portable.
type FallbackPublisher interface {
	Publish(ctx context.Context, text string, media []Media) (PostResult, error)
}
