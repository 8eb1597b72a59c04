package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/igormart21/milha-alerta-fly/internal/logger"
)

const sendPath = "/api/v1/messages/send"

// Sender delivers a text message to a phone number and returns the provider task id.
type Sender interface {
	Send(ctx context.Context, phone, text string) (string, error)
}

// WhatsAppConfig configures the WhatsApp gateway client.
type WhatsAppConfig struct {
	BaseURL     string
	Token       string
	Timeout     time.Duration
	MaxElapsed  time.Duration // total retry budget, 0 disables retries
	InitialWait time.Duration
}

// WhatsAppClient sends messages through the WhatsApp gateway.
type WhatsAppClient struct {
	log        logger.Logger
	baseURL    string
	token      string
	httpClient *http.Client
	maxElapsed time.Duration
	initial    time.Duration
}

// NewWhatsAppClient creates a client for the gateway at cfg.BaseURL.
func NewWhatsAppClient(cfg WhatsAppConfig, log logger.Logger) *WhatsAppClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.InitialWait <= 0 {
		cfg.InitialWait = 500 * time.Millisecond
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &WhatsAppClient{
		log:        log,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		maxElapsed: cfg.MaxElapsed,
		initial:    cfg.InitialWait,
	}
}

type sendRequest struct {
	PhoneNumber string      `json:"phoneNumber"`
	Type        string      `json:"type"`
	Message     textMessage `json:"message"`
}

type textMessage struct {
	Text string `json:"text"`
}

type sendResponse struct {
	Success bool `json:"success"`
	Data    struct {
		TaskID string `json:"taskId"`
		Status string `json:"status"`
	} `json:"data"`
	Error struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

// Send posts a text message, retrying transport errors and 5xx/429 responses
// with exponential backoff.
func (c *WhatsAppClient) Send(ctx context.Context, phone, text string) (string, error) {
	body, err := json.Marshal(sendRequest{
		PhoneNumber: phone,
		Type:        "text",
		Message:     textMessage{Text: text},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initial
	b.MaxElapsedTime = c.maxElapsed
	var policy backoff.BackOff = b
	if c.maxElapsed <= 0 {
		policy = &backoff.StopBackOff{}
	}

	attempt := 0
	op := func() (string, error) {
		attempt++
		return c.send(ctx, body)
	}
	notify := func(err error, wait time.Duration) {
		c.log.Warn("whatsapp send failed, retrying",
			"phone", maskPhone(phone),
			"attempt", attempt,
			"wait", wait.String(),
			"error", err)
	}

	taskID, err := backoff.RetryNotifyWithData[string](op, backoff.WithContext(policy, ctx), notify)
	if err != nil {
		return "", err
	}

	c.log.Info("whatsapp message queued",
		"task_id", taskID,
		"phone", maskPhone(phone),
		"attempts", attempt)
	return taskID, nil
}

func (c *WhatsAppClient) send(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+sendPath, bytes.NewReader(body))
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", backoff.Permanent(err)
		}
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		statusErr := &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return "", statusErr
		}
		return "", backoff.Permanent(statusErr)
	}

	var response sendResponse
	if err := json.Unmarshal(raw, &response); err != nil {
		return "", backoff.Permanent(fmt.Errorf("failed to decode response: %w", err))
	}
	if !response.Success {
		return "", backoff.Permanent(fmt.Errorf("whatsapp service rejected message: %s (code: %s)",
			response.Error.Message, response.Error.Code))
	}

	return response.Data.TaskID, nil
}

// StatusError is returned for non-success HTTP responses from the gateway.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("whatsapp service returned status %d: %s", e.Code, e.Body)
}

// IsStatus reports whether err carries the given gateway status code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}

func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}
