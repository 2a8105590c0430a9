package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// NtfyConfig points at an ntfy topic. Server defaults to the public
// instance; Token is an optional access token for protected topics.
type NtfyConfig struct {
	Server string
	Topic  string
	Token  string
}

// NtfySink publishes over ntfy's plain HTTP API: the body is the message,
// title and priority travel as headers.
type NtfySink struct {
	cfg    NtfyConfig
	client *http.Client
}

func NewNtfySink(cfg NtfyConfig) (*NtfySink, error) {
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, fmt.Errorf("ntfy: topic is empty")
	}
	if cfg.Server == "" {
		cfg.Server = "https://ntfy.sh"
	}
	cfg.Server = strings.TrimRight(cfg.Server, "/")
	return &NtfySink{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (s *NtfySink) Name() string { return "ntfy" }

func (s *NtfySink) Send(ctx context.Context, m Message) error {
	url := s.cfg.Server + "/" + s.cfg.Topic
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(m.Body))
	if err != nil {
		return err
	}
	if m.Title != "" {
		req.Header.Set("Title", m.Title)
	}
	if m.Priority != "" {
		req.Header.Set("Priority", m.Priority)
	}
	if m.Kind != "" {
		req.Header.Set("Tags", m.Kind)
	}
	if s.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("ntfy: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return nil
}
