package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"loci-server/utils"
)

type PushMessage struct {
	UserID string            `json:"user_id"`
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	Data   map[string]string `json:"data,omitempty"`
}

type PushSender interface {
	Send(ctx context.Context, msg PushMessage) error
}

// PushClient posts messages to the push gateway, which owns device tokens.
type PushClient struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewPushClient(baseURL, token string) *PushClient {
	return &PushClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		Client:  utils.NewHTTPClient(10 * time.Second),
	}
}

func (c *PushClient) Send(ctx context.Context, msg PushMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/push", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("push gateway unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("push gateway returned %d: %s", resp.StatusCode, string(body))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// LogPushSender stands in when no gateway is configured.
type LogPushSender struct{}

func (LogPushSender) Send(_ context.Context, msg PushMessage) error {
	log.WithField("user", msg.UserID).Infof("[PUSH] (no gateway) %s: %s", msg.Title, msg.Body)
	return nil
}

// NewPushSender picks the gateway client, or the logging stand-in when baseURL is empty.
func NewPushSender(baseURL, token string) PushSender {
	if baseURL == "" {
		log.Warn("[PUSH] ⚠️ PUSH_GATEWAY_URL not set, push messages will only be logged")
		return LogPushSender{}
	}
	return NewPushClient(baseURL, token)
}
