// Package notify delivers pipeline run reports to a Telegram chat. When the
// integration is disabled every call is a no-op.
package notify

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// RunReport summarizes one pipeline run for the notification text.
type RunReport struct {
	Imported  int
	Processed int
	DPEFound  int
	Estimated int
	Updated   int
	Added     int
	Duration  time.Duration
}

// Options configures the Telegram integration.
type Options struct {
	Enabled  bool
	BotToken string
	ChatID   string
	Logger   *logrus.Logger
}

type Service struct {
	logger   *logrus.Logger
	client   *http.Client
	enabled  bool
	botToken string
	chatID   string
	baseURL  string
}

func NewService(opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	return &Service{
		logger:   opts.Logger,
		client:   &http.Client{Timeout: 10 * time.Second},
		enabled:  opts.Enabled,
		botToken: opts.BotToken,
		chatID:   opts.ChatID,
		baseURL:  "https://api.telegram.org",
	}
}

// SendMessage sends an HTML-formatted message to the configured chat.
func (s *Service) SendMessage(message string) error {
	if !s.enabled {
		return nil
	}
	if s.botToken == "" {
		return errors.New("telegram bot token is not configured")
	}
	if s.chatID == "" {
		return errors.New("telegram chat ID is not configured")
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, s.botToken)
	payload := map[string]interface{}{
		"chat_id":    s.chatID,
		"text":       message,
		"parse_mode": "HTML",
	}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal message payload: %w", err)
	}

	resp, err := s.client.Post(url, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to send message to Telegram API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusNotFound:
			return errors.New("invalid bot token - please check your token from @BotFather")
		case http.StatusBadRequest:
			return fmt.Errorf("invalid chat ID or message format: %s", string(body))
		case http.StatusForbidden:
			return errors.New("bot was blocked by the user or chat")
		default:
			return fmt.Errorf("telegram API error (status %d): %s", resp.StatusCode, string(body))
		}
	}
	return nil
}

// NotifyRunComplete sends the run summary. Delivery failures are logged and
// never propagate; a lost notification must not fail a finished run.
func (s *Service) NotifyRunComplete(report RunReport) {
	if !s.enabled {
		return
	}
	message := fmt.Sprintf(
		"<b>Pipeline run finished</b>\n\n"+
			"📥 Imported: %d\n"+
			"🏠 Processed: %d\n"+
			"⚡ DPE found: %d\n"+
			"💶 Estimated: %d\n"+
			"📦 Updated %d, added %d\n"+
			"⏱ Duration: %s",
		report.Imported, report.Processed, report.DPEFound,
		report.Estimated, report.Updated, report.Added,
		report.Duration.Round(time.Second),
	)
	if err := s.SendMessage(message); err != nil {
		s.logger.WithError(err).Error("Failed to send Telegram notification")
	}
}
