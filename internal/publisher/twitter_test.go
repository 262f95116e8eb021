package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	logx "postpilot/pkg/logx"
)

func testTwitterClient(t *testing.T, srv *httptest.Server) *TwitterClient {
	t.Helper()
	return NewTwitterClient(TwitterConfig{
		APIKey:        "ck",
		APISecret:     "cs",
		AccessToken:   "tok",
		AccessSecret:  "ts",
		BaseURL:       srv.URL,
		UploadBaseURL: srv.URL,
		RatePerSec:    1000,
	}, logx.Nop())
}

func TestPublishSuccess(t *testing.T) {
	var gotAuth, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/2/tweets" {
			t.Errorf("path = %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]string{"id": "12345", "text": "hello"},
		})
	}))
	defer srv.Close()

	c := testTwitterClient(t, srv)
	res, err := c.Publish(context.Background(), "hello", nil)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if res.ID != "12345" || res.Text != "hello" {
		t.Errorf("result = %+v", res)
	}
	if !strings.HasPrefix(gotAuth, "OAuth ") {
		t.Errorf("missing oauth header: %q", gotAuth)
	}
	if !strings.Contains(gotBody, `"text":"hello"`) {
		t.Errorf("body = %s", gotBody)
	}
}

func TestPublishWithMediaIDs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Media struct {
				MediaIDs []string `json:"media_ids"`
			} `json:"media"`
		}
		_ = json.NewDecoder(r.Body).Decode(&payload)
		if len(payload.Media.MediaIDs) != 2 {
			t.Errorf("media_ids = %v", payload.Media.MediaIDs)
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]string{"id": "1", "text": "x"}})
	}))
	defer srv.Close()

	c := testTwitterClient(t, srv)
	_, err := c.Publish(context.Background(), "x", []MediaHandle{{ID: "m1"}, {ID: "m2"}})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
}

func TestPublishRateLimited(t *testing.T) {
	reset := time.Now().Add(90 * time.Second).Unix()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("x-rate-limit-reset", strconv.FormatInt(reset, 10))
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := testTwitterClient(t, srv)
	_, err := c.Publish(context.Background(), "x", nil)
	var rl *RateLimitedError
	if !errors.As(err, &rl) {
		t.Fatalf("err = %v, want *RateLimitedError", err)
	}
	if rl.RetryAfter <= 0 || rl.RetryAfter > 2*time.Minute {
		t.Errorf("RetryAfter = %v", rl.RetryAfter)
	}
}

func TestPublishPermanentError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"detail":"duplicate content"}`))
	}))
	defer srv.Close()

	c := testTwitterClient(t, srv)
	_, err := c.Publish(context.Background(), "x", nil)
	var pe *PublishError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want *PublishError", err)
	}
	if pe.StatusCode != http.StatusForbidden || !strings.Contains(pe.Detail, "duplicate") {
		t.Errorf("publish error = %+v", pe)
	}
}

func TestUploadMediaBase64(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/1.1/media/upload.json" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.PostForm.Get("media_data") == "" {
			t.Error("media_data missing")
		}
		if r.PostForm.Get("media_category") != "tweet_image" {
			t.Errorf("media_category = %s", r.PostForm.Get("media_category"))
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"media_id_string": "777"})
	}))
	defer srv.Close()

	c := testTwitterClient(t, srv)
	h, err := c.UploadMedia(context.Background(), Media{Data: "aGVsbG8=", Kind: "image"})
	if err != nil {
		t.Fatalf("UploadMedia: %v", err)
	}
	if h.ID != "777" {
		t.Errorf("handle = %+v", h)
	}
}

func TestUploadMediaFailureIsTyped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := testTwitterClient(t, srv)
	_, err := c.UploadMedia(context.Background(), Media{Data: "aGVsbG8=", Kind: "image"})
	var me *MediaUploadError
	if !errors.As(err, &me) {
		t.Fatalf("err = %v, want *MediaUploadError", err)
	}
}

func TestFetchMetrics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/2/tweets/") {
			t.Errorf("path = %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"public_metrics": map[string]int64{
					"impression_count": 500,
					"like_count":       7,
					"retweet_count":    2,
					"reply_count":      1,
				},
			},
		})
	}))
	defer srv.Close()

	c := testTwitterClient(t, srv)
	imp, eng, err := c.FetchMetrics(context.Background(), "12345")
	if err != nil {
		t.Fatalf("FetchMetrics: %v", err)
	}
	if imp != 500 || eng.Likes != 7 || eng.Retweets != 2 || eng.Replies != 1 {
		t.Errorf("metrics = %d %+v", imp, eng)
	}
}
