package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	logx "postpilot/pkg/logx"
)

// RapidConfig configures the keyed-POST fallback transport.
type RapidConfig struct {
	URL  string
	Key  string
	Host string
}

// RapidClient is the secondary posting path used when the primary keeps
// returning 429. Media travels inline (url or base64 data).
type RapidClient struct {
	log  logx.Logger
	http *http.Client
	cfg  RapidConfig
}

func NewRapidClient(cfg RapidConfig, log logx.Logger) *RapidClient {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &RapidClient{
		log:  log.With(logx.String("comp", "fallback")),
		http: &http.Client{Timeout: 60 * time.Second},
		cfg:  cfg,
	}
}

func (c *RapidClient) Publish(ctx context.Context, text string, media []Media) (PostResult, error) {
	payload := map[string]any{"text": text}
	if len(media) > 0 {
		items := make([]map[string]string, 0, len(media))
		for _, m := range media {
			it := map[string]string{"type": m.Kind}
			if m.URL != "" {
				it["url"] = m.URL
			} else if m.Data != "" {
				it["data"] = m.Data
			}
			items = append(items, it)
		}
		payload["media"] = items
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return PostResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return PostResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-rapidapi-key", c.cfg.Key)
	if c.cfg.Host != "" {
		req.Header.Set("x-rapidapi-host", c.cfg.Host)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return PostResult{}, err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return PostResult{}, &PublishError{StatusCode: resp.StatusCode, Detail: snippet(respBody)}
	}

	var out struct {
		ID      string `json:"id"`
		TweetID string `json:"tweet_id"`
	}
	_ = json.Unmarshal(respBody, &out)
	id := out.ID
	if id == "" {
		id = out.TweetID
	}
	if strings.TrimSpace(id) == "" {
		return PostResult{}, &PublishError{StatusCode: resp.StatusCode, Detail: "fallback response missing post id: " + snippet(respBody)}
	}
	return PostResult{ID: id, Text: text, CreatedAt: time.Now()}, nil
}

var _ FallbackPublisher = (*RapidClient)(nil)

var _ Publisher = (*TwitterClient)(nil)

var errNoFallback = fmt.Errorf("fallback transport not configured")

// Disabled returns a FallbackPublisher that always fails. Wired when
// the fallback section is absent so the pipeline shape stays the same.
func Disabled() FallbackPublisher { return disabledFallback{} }

type disabledFallback struct{}

func (disabledFallback) Publish(ctx context.Context, text string, media []Media) (PostResult, error) {
	return PostResult{}, errNoFallback
}
