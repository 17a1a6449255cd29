package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const (
	defaultDiscordAPIBase = "https://discord.com/api/v10"
	discordMaxRetries     = 3
	defaultRetryDelay     = 2 * time.Second
	discordHTTPTimeout    = 10 * time.Second
)

// Discord posts alerts as embeds to one or more Discord channels using a
// bot token, like the chat-bot deployment this supervisor watches over.
// Notify returns immediately; delivery runs in the background with a
// bounded number of retries per channel.
type Discord struct {
	Token      string
	ChannelIDs []string
	Log        *slog.Logger

	// APIBase and RetryDelay exist for tests; zero values mean defaults.
	APIBase    string
	RetryDelay time.Duration

	client *http.Client
}

type discordEmbed struct {
	Description string `json:"description"`
	Color       int    `json:"color"`
	Timestamp   string `json:"timestamp"`
}

type discordMessage struct {
	Embeds []discordEmbed `json:"embeds"`
}

func (d *Discord) Notify(ctx context.Context, message string) {
	// Fire-and-forget: the supervisor loop never blocks on delivery.
	go d.deliver(context.WithoutCancel(ctx), message)
}

func (d *Discord) deliver(ctx context.Context, message string) {
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	body, err := json.Marshal(discordMessage{Embeds: []discordEmbed{{
		Description: message,
		Color:       0x3498db,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}}})
	if err != nil {
		log.Warn("failed to encode discord alert", "error", err)
		return
	}
	for _, channelID := range d.ChannelIDs {
		if err := d.postWithRetry(ctx, channelID, body); err != nil {
			log.Warn("failed to deliver discord alert", "channel", channelID, "error", err)
		}
	}
}

func (d *Discord) postWithRetry(ctx context.Context, channelID string, body []byte) error {
	delay := d.RetryDelay
	if delay <= 0 {
		delay = defaultRetryDelay
	}
	var lastErr error
	for attempt := 0; attempt < discordMaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if lastErr = d.post(ctx, channelID, body); lastErr == nil {
			return nil
		}
	}
	return lastErr
}

func (d *Discord) post(ctx context.Context, channelID string, body []byte) error {
	base := d.APIBase
	if base == "" {
		base = defaultDiscordAPIBase
	}
	url := fmt.Sprintf("%s/channels/%s/messages", base, channelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bot "+d.Token)
	req.Header.Set("Content-Type", "application/json")

	client := d.client
	if client == nil {
		client = &http.Client{Timeout: discordHTTPTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("discord responded %s", resp.Status)
	}
	return nil
}
