// Package triage asks the symptom-checker service for a default urgency when
// an allocation request omits one. The call is advisory: any failure falls
// back to the caller's own default, so the dependency sits behind a circuit
// breaker instead of blocking allocations when the checker is down.
package triage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gramin-health/sehatsetu/services/allocation-service/internal/model"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Provider struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

func NewProvider(baseURL string, timeout time.Duration, logger *slog.Logger) *Provider {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "symptom-checker",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
		},
	})
	return &Provider{
		baseURL: baseURL,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		breaker: breaker,
		logger:  logger,
	}
}

type checkRequest struct {
	Symptoms []string `json:"symptoms"`
}

type checkResponse struct {
	Urgency string `json:"urgency"`
}

func (p *Provider) DefaultUrgency(ctx context.Context, symptoms []string) (model.Urgency, error) {
	if p.baseURL == "" || len(symptoms) == 0 {
		return "", fmt.Errorf("triage unavailable")
	}

	result, err := p.breaker.Execute(func() (any, error) {
		return p.check(ctx, symptoms)
	})
	if err != nil {
		return "", err
	}
	return result.(model.Urgency), nil
}

func (p *Provider) check(ctx context.Context, symptoms []string) (model.Urgency, error) {
	body, err := json.Marshal(checkRequest{Symptoms: symptoms})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/v1/triage", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("symptom checker returned %d", resp.StatusCode)
	}

	var out checkResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	urgency, ok := model.ParseUrgency(out.Urgency)
	if !ok || urgency == "" {
		return "", fmt.Errorf("symptom checker returned unknown urgency %q", out.Urgency)
	}
	return urgency, nil
}

// Static always answers with a fixed urgency. Used when no symptom-checker
// endpoint is configured.
type Static struct {
	Urgency model.Urgency
}

func (s Static) DefaultUrgency(ctx context.Context, symptoms []string) (model.Urgency, error) {
	return s.Urgency, nil
}
