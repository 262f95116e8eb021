package paraphrase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	logx "postpilot/pkg/logx"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o-mini"
	maxPostRunes   = 280
)

const systemPrompt = "Rewrite the given social media post in different words while keeping " +
	"its meaning, tone and any hashtags or links intact. Stay under 280 characters. " +
	"Reply with the rewritten text only."

// Config controls the rewrite step.
type Config struct {
	Enabled bool
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client rewrites post text through a chat-completions endpoint.
//
// Paraphrase never returns an error: any failure (disabled, missing
// key, HTTP error, over-length result) degrades to the original text
// with ok=false. The pipeline must keep posting either way.
type Client struct {
	log  logx.Logger
	http *http.Client
	cfg  Config
}

func New(cfg Config, log logx.Logger) *Client {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		log:  log.With(logx.String("comp", "paraphrase")),
		http: &http.Client{Timeout: cfg.Timeout},
		cfg:  cfg,
	}
}

func (c *Client) Paraphrase(ctx context.Context, text string) (string, bool) {
	if !c.cfg.Enabled || strings.TrimSpace(c.cfg.APIKey) == "" {
		return text, false
	}

	out, err := c.complete(ctx, text)
	if err != nil {
		c.log.Warn("paraphrase failed; using original text", logx.Err(err))
		return text, false
	}
	out = strings.TrimSpace(strings.Trim(strings.TrimSpace(out), `"`))
	if out == "" || utf8.RuneCountInString(out) > maxPostRunes {
		c.log.Warn("paraphrase result unusable; using original text",
			logx.Int("len", utf8.RuneCountInString(out)))
		return text, false
	}
	return out, true
}

// Preview is the dry-run used by the API: it shows what Paraphrase
// would post without posting it.
type Preview struct {
	Original      string `json:"original"`
	Paraphrased   string `json:"paraphrased"`
	CharacterDiff int    `json:"characterDiff"`
	OK            bool   `json:"aiSuccess"`
}

func (c *Client) Preview(ctx context.Context, text string) Preview {
	out, ok := c.Paraphrase(ctx, text)
	return Preview{
		Original:      text,
		Paraphrased:   out,
		CharacterDiff: utf8.RuneCountInString(out) - utf8.RuneCountInString(text),
		OK:            ok,
	}
}

func (c *Client) complete(ctx context.Context, text string) (string, error) {
	payload := map[string]any{
		"model": c.cfg.Model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": text},
		},
		"temperature": 0.8,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("completion status %d", resp.StatusCode)
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("completion returned no choices")
	}
	return out.Choices[0].Message.Content, nil
}
