package publisher

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"postpilot/internal/storage"
	logx "postpilot/pkg/logx"
)

const (
	defaultBaseURL       = "https://api.twitter.com"
	defaultUploadBaseURL = "https://upload.twitter.com"

	maxMediaDownload = 8 << 20 // 8 MiB
)

// TwitterConfig carries the OAuth1 user-context credentials.
type TwitterConfig struct {
	APIKey       string
	APISecret    string
	AccessToken  string
	AccessSecret string

	BaseURL       string
	UploadBaseURL string
	RatePerSec    int
}

// TwitterClient publishes through the v2 tweet endpoint and uploads
// media through the v1.1 upload endpoint. A client-side limiter keeps
// bursts from tripping the platform limit in the first place.
type TwitterClient struct {
	log     logx.Logger
	http    *http.Client
	signer  *oauthSigner
	limiter *rate.Limiter

	baseURL       string
	uploadBaseURL string
}

func NewTwitterClient(cfg TwitterConfig, log logx.Logger) *TwitterClient {
	if log.IsZero() {
		log = logx.Nop()
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	upload := strings.TrimRight(cfg.UploadBaseURL, "/")
	if upload == "" {
		upload = defaultUploadBaseURL
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	return &TwitterClient{
		log:           log.With(logx.String("comp", "publisher")),
		http:          &http.Client{Timeout: 60 * time.Second},
		signer:        newOAuthSigner(cfg.APIKey, cfg.APISecret, cfg.AccessToken, cfg.AccessSecret),
		limiter:       rate.NewLimiter(rate.Limit(rps), rps),
		baseURL:       base,
		uploadBaseURL: upload,
	}
}

// UploadMedia pushes one attachment to the v1.1 upload endpoint and
// returns its media id. URL media is downloaded first.
func (c *TwitterClient) UploadMedia(ctx context.Context, m Media) (MediaHandle, error) {
	data := m.Data
	if data == "" && m.URL != "" {
		raw, err := c.download(ctx, m.URL)
		if err != nil {
			return MediaHandle{}, &MediaUploadError{Kind: m.Kind, Err: err}
		}
		data = base64.StdEncoding.EncodeToString(raw)
	}
	if data == "" {
		return MediaHandle{}, &MediaUploadError{Kind: m.Kind, Err: fmt.Errorf("empty media")}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return MediaHandle{}, &MediaUploadError{Kind: m.Kind, Err: err}
	}

	endpoint := c.uploadBaseURL + "/1.1/media/upload.json"
	form := url.Values{}
	form.Set("media_data", data)
	if cat := mediaCategory(m.Kind); cat != "" {
		form.Set("media_category", cat)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return MediaHandle{}, &MediaUploadError{Kind: m.Kind, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	auth, err := c.signer.authorizationHeader(http.MethodPost, endpoint, form)
	if err != nil {
		return MediaHandle{}, &MediaUploadError{Kind: m.Kind, Err: err}
	}
	req.Header.Set("Authorization", auth)

	resp, err := c.http.Do(req)
	if err != nil {
		return MediaHandle{}, &MediaUploadError{Kind: m.Kind, Err: err}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return MediaHandle{}, &MediaUploadError{
			Kind: m.Kind,
			Err:  fmt.Errorf("upload status %d: %s", resp.StatusCode, snippet(body)),
		}
	}

	var out struct {
		MediaIDString string `json:"media_id_string"`
	}
	if err := json.Unmarshal(body, &out); err != nil || out.MediaIDString == "" {
		return MediaHandle{}, &MediaUploadError{Kind: m.Kind, Err: fmt.Errorf("bad upload response: %s", snippet(body))}
	}
	return MediaHandle{ID: out.MediaIDString}, nil
}

// Publish posts text (and optional media ids) via POST /2/tweets.
// 429 maps to RateLimitedError; any other non-2xx maps to PublishError.
func (c *TwitterClient) Publish(ctx context.Context, text string, media []MediaHandle) (PostResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return PostResult{}, err
	}

	endpoint := c.baseURL + "/2/tweets"

	payload := map[string]any{"text": text}
	if len(media) > 0 {
		ids := make([]string, len(media))
		for i, h := range media {
			ids[i] = h.ID
		}
		payload["media"] = map[string]any{"media_ids": ids}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return PostResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return PostResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	auth, err := c.signer.authorizationHeader(http.MethodPost, endpoint, nil)
	if err != nil {
		return PostResult{}, err
	}
	req.Header.Set("Authorization", auth)

	resp, err := c.http.Do(req)
	if err != nil {
		return PostResult{}, err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode == http.StatusTooManyRequests {
		return PostResult{}, &RateLimitedError{RetryAfter: retryAfterHint(resp)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return PostResult{}, &PublishError{StatusCode: resp.StatusCode, Detail: snippet(respBody)}
	}

	var out struct {
		Data struct {
			ID   string `json:"id"`
			Text string `json:"text"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil || out.Data.ID == "" {
		return PostResult{}, &PublishError{StatusCode: resp.StatusCode, Detail: "bad publish response: " + snippet(respBody)}
	}
	return PostResult{ID: out.Data.ID, Text: out.Data.Text, CreatedAt: time.Now()}, nil
}

// FetchMetrics pulls public metrics for a post. Used by the analytics
// refresh job; failures there are non-fatal.
func (c *TwitterClient) FetchMetrics(ctx context.Context, postID string) (int64, storage.Engagement, error) {
	endpoint := c.baseURL + "/2/tweets/" + url.PathEscape(postID) + "?tweet.fields=public_metrics"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, storage.Engagement{}, err
	}
	auth, err := c.signer.authorizationHeader(http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, storage.Engagement{}, err
	}
	req.Header.Set("Authorization", auth)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, storage.Engagement{}, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return 0, storage.Engagement{}, fmt.Errorf("metrics status %d: %s", resp.StatusCode, snippet(body))
	}

	var out struct {
		Data struct {
			PublicMetrics struct {
				Impressions int64 `json:"impression_count"`
				Likes       int64 `json:"like_count"`
				Retweets    int64 `json:"retweet_count"`
				Replies     int64 `json:"reply_count"`
			} `json:"public_metrics"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, storage.Engagement{}, err
	}
	pm := out.Data.PublicMetrics
	return pm.Impressions, storage.Engagement{Likes: pm.Likes, Retweets: pm.Retweets, Replies: pm.Replies}, nil
}

func (c *TwitterClient) download(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxMediaDownload))
}

func retryAfterHint(resp *http.Response) time.Duration {
	if v := resp.Header.Get("x-rate-limit-reset"); v != "" {
		if sec, err := strconv.ParseInt(v, 10, 64); err == nil {
			if d := time.Until(time.Unix(sec, 0)); d > 0 {
				return d
			}
		}
	}
	if v := resp.Header.Get("Retry-After"); v != "" {
		if sec, err := strconv.Atoi(v); err == nil && sec > 0 {
			return time.Duration(sec) * time.Second
		}
	}
	return 0
}

func mediaCategory(kind string) string {
	switch strings.ToLower(kind) {
	case "gif":
		return "tweet_gif"
	case "video":
		return "tweet_video"
	case "image":
		return "tweet_image"
	default:
		return ""
	}
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 300 {
		s = s[:297] + "..."
	}
	return s
}
