package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/ride-notifier/internal/observability"
)

// PushDispatcher posts notifications as JSON to a push gateway (FCM HTTP v1
// shaped body) using a bearer key when one is configured.
type PushDispatcher struct {
	Endpoint string
	Key      string
	Token    string // device or topic token the gateway routes to
	Client   *http.Client
	Logger   *slog.Logger
}

func NewPushDispatcher(endpoint, key, token string, logger *slog.Logger) *PushDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &PushDispatcher{
		Endpoint: endpoint,
		Key:      key,
		Token:    token,
		Client:   &http.Client{Timeout: 3 * time.Second},
		Logger:   logger,
	}
}

type pushMessage struct {
	Message struct {
		Token        string            `json:"token,omitempty"`
		Notification pushNotification  `json:"notification"`
		Android      pushAndroid       `json:"android"`
		Data         map[string]string `json:"data,omitempty"`
	} `json:"message"`
}

type pushNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type pushAndroid struct {
	Priority     string `json:"priority"`
	Notification struct {
		ChannelID string `json:"channel_id,omitempty"`
	} `json:"notification"`
}

func (p *PushDispatcher) Dispatch(ctx context.Context, title, body string) {
	if err := p.send(ctx, title, body); err != nil {
		p.Logger.Warn("push dispatch failed", "endpoint", p.Endpoint, "error", err)
		observability.NotificationErrors.WithLabelValues("push").Inc()
		return
	}
	observability.NotificationsSent.WithLabelValues("push").Inc()
}

func (p *PushDispatcher) send(ctx context.Context, title, body string) error {
	var msg pushMessage
	msg.Message.Token = p.Token
	msg.Message.Notification = pushNotification{Title: title, Body: body}
	msg.Message.Android.Priority = "high"
	msg.Message.Android.Notification.ChannelID = CurrentChannel().ID
	msg.Message.Data = map[string]string{"type": "ride_requested"}

	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal push message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.Key != "" {
		req.Header.Set("Authorization", "Bearer "+p.Key)
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return fmt.Errorf("post push message: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("push gateway returned %d", resp.StatusCode)
	}
	return nil
}
