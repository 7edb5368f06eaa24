package adapter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/relay-guard/internal/domain"
	"github.com/kursadbilgin/relay-guard/internal/ratelimit"
)

const (
	defaultSendTimeout    = 10 * time.Second
	healthLatencyDegraded = time.Second
)

type sendPayload struct {
	To            string         `json:"to"`
	Channel       string         `json:"channel"`
	TemplateID    string         `json:"templateId,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
	CorrelationID string         `json:"correlationId,omitempty"`
}

// HTTPJSONAdapter delivers messages to JSON webhook-style provider APIs.
// The endpoint and optional api key come from the resolved credentials,
// so one adapter type serves every HTTP provider profile.
type HTTPJSONAdapter struct {
	name   string
	client *resty.Client
}

func NewHTTPJSONAdapter(name string) (*HTTPJSONAdapter, error) {
	client := resty.New()
	client.SetTimeout(defaultSendTimeout)
	client.SetRetryCount(0)

	return NewHTTPJSONAdapterWithClient(name, client)
}

func NewHTTPJSONAdapterWithClient(name string, client *resty.Client) (*HTTPJSONAdapter, error) {
	trimmedName := strings.ToLower(strings.TrimSpace(name))
	if trimmedName == "" {
		return nil, fmt.Errorf("adapter name is required")
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultSendTimeout)
	}
	// Retries belong to the retry engine, not the transport.
	client.SetRetryCount(0)

	return &HTTPJSONAdapter{name: trimmedName, client: client}, nil
}

func (a *HTTPJSONAdapter) Name() string {
	if a == nil {
		return ""
	}
	return a.name
}

func (a *HTTPJSONAdapter) Send(ctx context.Context, req domain.SendRequest, creds Credentials) (*SendResult, error) {
	if a == nil || a.client == nil {
		return nil, fmt.Errorf("adapter is not initialized")
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid send request: %w", err)
	}

	endpoint, err := credentialURL(creds, "endpoint")
	if err != nil {
		return nil, err
	}

	payload := sendPayload{
		To:            req.Recipient,
		Channel:       req.Channel.String(),
		Variables:     req.Payload,
		CorrelationID: req.CorrelationID,
	}
	if req.TemplateID != nil {
		payload.TemplateID = *req.TemplateID
	}

	request := a.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload)
	if key := credentialString(creds, "api_key"); key != "" {
		request.SetHeader("Authorization", "Bearer "+key)
	}

	response, err := request.Post(endpoint)
	if err != nil {
		return nil, &AdapterError{
			Message:   "provider request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return nil, &AdapterError{Message: "provider returned empty response", Transient: true}
	}

	statusCode := response.StatusCode()
	responseBody := strings.TrimSpace(response.String())

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return &SendResult{OK: true, MessageID: providerMessageID(response)}, nil
	}

	result := &SendResult{
		OK:           false,
		ErrorMessage: providerErrorMessage(statusCode, responseBody),
	}
	if statusCode == http.StatusTooManyRequests {
		info := ratelimit.ParseRateLimitInfo(a.name, statusCode, response.Header(), responseBody)
		result.RateLimit = &info
	}

	return result, &AdapterError{
		StatusCode: statusCode,
		Message:    result.ErrorMessage,
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func (a *HTTPJSONAdapter) HealthCheck(ctx context.Context, creds Credentials) (*HealthCheckResult, error) {
	if a == nil || a.client == nil {
		return nil, fmt.Errorf("adapter is not initialized")
	}

	endpoint := credentialString(creds, "health_endpoint")
	if endpoint == "" {
		var err error
		endpoint, err = credentialURL(creds, "endpoint")
		if err != nil {
			return nil, err
		}
	}

	start := time.Now()
	response, err := a.client.R().SetContext(ctx).Get(endpoint)
	latency := time.Since(start)

	result := &HealthCheckResult{
		Provider:  a.name,
		LatencyMs: latency.Milliseconds(),
		CheckedAt: time.Now().UTC(),
	}

	switch {
	case err != nil:
		result.Status = domain.HealthDown
		result.Details = err.Error()
	case response.StatusCode() >= http.StatusInternalServerError:
		result.Status = domain.HealthDown
		result.Details = fmt.Sprintf("status %d", response.StatusCode())
	case latency > healthLatencyDegraded:
		result.Status = domain.HealthDegraded
		result.Details = fmt.Sprintf("slow response: %s", latency)
	default:
		result.Status = domain.HealthOK
	}

	return result, nil
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func providerErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("provider returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}

func providerMessageID(response *resty.Response) string {
	if response == nil {
		return ""
	}

	for _, key := range []string{"X-Message-ID", "X-Message-Id", "X-Request-ID", "X-Request-Id"} {
		if value := strings.TrimSpace(response.Header().Get(key)); value != "" {
			return value
		}
	}

	return ""
}

func credentialString(creds Credentials, key string) string {
	if creds == nil {
		return ""
	}
	value, _ := creds[key].(string)
	return strings.TrimSpace(value)
}

func credentialURL(creds Credentials, key string) (string, error) {
	raw := credentialString(creds, key)
	if raw == "" {
		return "", fmt.Errorf("credential %q is required", key)
	}
	if _, err := url.ParseRequestURI(raw); err != nil {
		return "", fmt.Errorf("invalid credential %q: %w", key, err)
	}
	return raw, nil
}
