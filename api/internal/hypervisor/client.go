package hypervisor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"vm-request-platform/shared/config"
)

// Client talks to the hypervisor manager's REST API. 5xx responses are
// retried up to retryMax times behind a small circuit breaker; 4xx
// responses are terminal.
type Client struct {
	baseURL  string
	token    string
	retryMax int
	http     *http.Client
	breaker  *circuitBreaker
}

func New(cfg config.Config) (*Client, error) {
	if cfg.HypervisorURL == "" {
		return nil, errors.New("HYPERVISOR_API_URL is required")
	}
	timeout := time.Duration(cfg.HypervisorTimeoutMS) * time.Millisecond
	return &Client{
		baseURL:  cfg.HypervisorURL,
		token:    cfg.HypervisorToken,
		retryMax: 2,
		http:     &http.Client{Timeout: timeout},
		breaker:  newCircuitBreaker(5, 30*time.Second),
	}, nil
}

func (c *Client) Provision(ctx context.Context, req ProvisionRequest) (ProvisionResult, error) {
	if c == nil || c.http == nil {
		return ProvisionResult{}, errors.New("hypervisor client not initialized")
	}
	if c.breaker.Open() {
		return ProvisionResult{}, errors.New("hypervisor circuit open")
	}
	body, err := json.Marshal(req)
	if err != nil {
		return ProvisionResult{}, err
	}

	var lastErr error
	for attempt := 0; attempt <= c.retryMax; attempt++ {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/vms", bytes.NewReader(body))
		if err != nil {
			return ProvisionResult{}, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if c.token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.http.Do(httpReq)
		if err != nil {
			lastErr = err
			c.breaker.Fail()
			continue
		}
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("hypervisor returned %d", resp.StatusCode)
			c.breaker.Fail()
			continue
		}
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
			resp.Body.Close()
			return ProvisionResult{}, fmt.Errorf("provision rejected with status %d", resp.StatusCode)
		}

		var out ProvisionResult
		err = json.NewDecoder(resp.Body).Decode(&out)
		resp.Body.Close()
		if err != nil {
			c.breaker.Fail()
			return ProvisionResult{}, err
		}
		c.breaker.Success()
		return out, nil
	}
	if lastErr == nil {
		lastErr = errors.New("provision request failed")
	}
	return ProvisionResult{}, lastErr
}

// Fake provisions instantly with synthetic details. Used when
// HYPERVISOR_ENABLED is false, so the full lifecycle runs in environments
// without a real backend.
type Fake struct{}

func (Fake) Provision(_ context.Context, req ProvisionRequest) (ProvisionResult, error) {
	return ProvisionResult{
		VMID:      uuid.New().String(),
		Hostname:  req.Name + ".local",
		IPAddress: "10.0.0.1",
	}, nil
}

type circuitBreaker struct {
	mu            sync.Mutex
	failures      int
	openUntil     time.Time
	threshold     int
	resetDuration time.Duration
}

func newCircuitBreaker(threshold int, reset time.Duration) *circuitBreaker {
	return &circuitBreaker{threshold: threshold, resetDuration: reset}
}

func (b *circuitBreaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openUntil.IsZero() {
		return false
	}
	if time.Now().After(b.openUntil) {
		b.openUntil = time.Time{}
		b.failures = 0
		return false
	}
	return true
}

func (b *circuitBreaker) Fail() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.failures >= b.threshold {
		b.openUntil = time.Now().Add(b.resetDuration)
	}
}

func (b *circuitBreaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.openUntil = time.Time{}
}
