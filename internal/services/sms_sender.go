package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/carebridge/accountsec/pkg/logger"
)

// SMSSender delivers a text message to an E.164 number
type SMSSender interface {
	Send(ctx context.Context, to, body string) error
}

const twilioBaseURL = "https://api.twilio.com/2010-04-01"

// TwilioSMSSender sends messages through the Twilio REST API
type TwilioSMSSender struct {
	accountSID string
	authToken  string
	fromNumber string
	baseURL    string
	client     *http.Client
}

type twilioResponse struct {
	SID          string `json:"sid"`
	Status       string `json:"status"`
	ErrorCode    int    `json:"code,omitempty"`
	ErrorMessage string `json:"message,omitempty"`
}

func NewTwilioSMSSender(accountSID, authToken, fromNumber string) *TwilioSMSSender {
	return &TwilioSMSSender{
		accountSID: accountSID,
		authToken:  authToken,
		fromNumber: fromNumber,
		baseURL:    twilioBaseURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TwilioSMSSender) Send(ctx context.Context, to, body string) error {
	apiURL := fmt.Sprintf("%s/Accounts/%s/Messages.json", t.baseURL, t.accountSID)

	data := url.Values{}
	data.Set("To", to)
	data.Set("From", t.fromNumber)
	data.Set("Body", body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, strings.NewReader(data.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(t.accountSID, t.authToken)

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	var twilioResp twilioResponse
	if err := json.NewDecoder(resp.Body).Decode(&twilioResp); err != nil {
		return fmt.Errorf("failed to decode response (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode != http.StatusCreated {
		msg := fmt.Sprintf("twilio API error (status %d)", resp.StatusCode)
		if twilioResp.ErrorMessage != "" {
			msg += ": " + twilioResp.ErrorMessage
		}
		return fmt.Errorf("%s", msg)
	}

	return nil
}

// LogSMSSender writes messages to the log instead of sending them. The
// body is only visible outside production.
type LogSMSSender struct {
	logger *slog.Logger
	env    string
}

func NewLogSMSSender(logger *slog.Logger, env string) *LogSMSSender {
	return &LogSMSSender{logger: logger, env: env}
}

func (l *LogSMSSender) Send(ctx context.Context, to, body string) error {
	l.logger.InfoContext(ctx, "sms delivery simulated",
		slog.String("to", logger.SanitizedPhone(to)),
		logger.RedactedAttr("body", body, l.env),
	)
	return nil
}
