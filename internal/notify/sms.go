package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/franckdigital/xamila-backend-sub001/internal/apperr"
)

type TwilioConfig struct {
	BaseURL    string
	AccountSID string
	AuthToken  string
	From       string
}

// TwilioSender posts to the Messages resource with basic auth.
type TwilioSender struct {
	cfg    TwilioConfig
	phones PhoneNormalizer
	http   *http.Client
}

func NewTwilioSender(cfg TwilioConfig, phones PhoneNormalizer, httpClient *http.Client) (*TwilioSender, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" || cfg.From == "" {
		return nil, fmt.Errorf("twilio sid, token and from are required")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &TwilioSender{cfg: cfg, phones: phones, http: httpClient}, nil
}

func (s *TwilioSender) Name() string { return "twilio" }

func (s *TwilioSender) Send(ctx context.Context, recipient, templateID string, vars map[string]string) (Sent, error) {
	to, err := s.phones.Normalize(recipient)
	if err != nil {
		return Sent{}, apperr.Validation("phone", "invalid phone number")
	}
	_, body, err := Render(templateID, vars)
	if err != nil {
		return Sent{}, err
	}

	form := url.Values{}
	form.Set("To", to)
	form.Set("From", s.cfg.From)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json",
		strings.TrimRight(s.cfg.BaseURL, "/"), url.PathEscape(s.cfg.AccountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Sent{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(s.cfg.AccountSID, s.cfg.AuthToken)

	resp, err := s.http.Do(req)
	if err != nil {
		return Sent{}, transportError(s.Name(), err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if err := classifyStatus(s.Name(), resp.StatusCode, string(raw)); err != nil {
		return Sent{}, err
	}

	var out struct {
		SID string `json:"sid"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return Sent{}, apperr.Provider(false, "twilio: malformed response", err)
	}
	return Sent{Provider: s.Name(), MessageID: out.SID, At: time.Now().UTC()}, nil
}

type NexmoConfig struct {
	BaseURL   string
	APIKey    string
	APISecret string
	From      string
}

// NexmoSender posts to the sms/json endpoint.
type NexmoSender struct {
	cfg    NexmoConfig
	phones PhoneNormalizer
	http   *http.Client
}

func NewNexmoSender(cfg NexmoConfig, phones PhoneNormalizer, httpClient *http.Client) (*NexmoSender, error) {
	if cfg.APIKey == "" || cfg.APISecret == "" || cfg.From == "" {
		return nil, fmt.Errorf("nexmo key, secret and from are required")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &NexmoSender{cfg: cfg, phones: phones, http: httpClient}, nil
}

func (s *NexmoSender) Name() string { return "nexmo" }

// nexmoThrottled is the per-message status for rate limiting.
const nexmoThrottled = "1"

func (s *NexmoSender) Send(ctx context.Context, recipient, templateID string, vars map[string]string) (Sent, error) {
	to, err := s.phones.Normalize(recipient)
	if err != nil {
		return Sent{}, apperr.Validation("phone", "invalid phone number")
	}
	_, body, err := Render(templateID, vars)
	if err != nil {
		return Sent{}, err
	}

	form := url.Values{}
	form.Set("api_key", s.cfg.APIKey)
	form.Set("api_secret", s.cfg.APISecret)
	form.Set("from", s.cfg.From)
	form.Set("to", strings.TrimPrefix(to, "+"))
	form.Set("text", body)

	endpoint := strings.TrimRight(s.cfg.BaseURL, "/") + "/sms/json"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Sent{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.http.Do(req)
	if err != nil {
		return Sent{}, transportError(s.Name(), err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if err := classifyStatus(s.Name(), resp.StatusCode, string(raw)); err != nil {
		return Sent{}, err
	}

	var out struct {
		Messages []struct {
			Status    string `json:"status"`
			MessageID string `json:"message-id"`
			ErrorText string `json:"error-text"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(raw, &out); err != nil || len(out.Messages) == 0 {
		return Sent{}, apperr.Provider(false, "nexmo: malformed response", err)
	}
	m := out.Messages[0]
	if m.Status != "0" {
		return Sent{}, apperr.Provider(m.Status == nexmoThrottled,
			fmt.Sprintf("nexmo: status %s: %s", m.Status, m.ErrorText), nil)
	}
	return Sent{Provider: s.Name(), MessageID: m.MessageID, At: time.Now().UTC()}, nil
}
