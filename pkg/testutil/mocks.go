// Package testutil provides fakes for the external systems the service talks
// to: the consensus backend and the payment gateways.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tipsterhub/service_layer/internal/consensus"
	"github.com/tipsterhub/service_layer/internal/payment"
)

// MockBackend is an in-memory consensus backend.
type MockBackend struct {
	mu          sync.RWMutex
	market      []consensus.MarketEntry
	available   []consensus.Availability
	predictions map[string][]byte
	failures    map[string]error
	calls       []string
}

// NewMockBackend creates an empty backend.
func NewMockBackend() *MockBackend {
	return &MockBackend{
		predictions: make(map[string][]byte),
		failures:    make(map[string]error),
	}
}

// SetMarket replaces the market listing.
func (m *MockBackend) SetMarket(entries ...consensus.MarketEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.market = entries
}

// SetAvailable replaces the availability listing.
func (m *MockBackend) SetAvailable(entries ...consensus.Availability) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.available = entries
}

// SetPrediction stores the raw prediction payload returned for matchID.
func (m *MockBackend) SetPrediction(matchID string, payload []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.predictions[matchID] = payload
}

// FailPrediction makes Predict return err for matchID.
func (m *MockBackend) FailPrediction(matchID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[matchID] = err
}

// Market returns the configured entries, filtered by status when set.
func (m *MockBackend) Market(_ context.Context, status string, limit int) ([]consensus.MarketEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]consensus.MarketEntry, 0, len(m.market))
	for _, e := range m.market {
		if status != "" && e.Status != "" && e.Status != status {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MockBackend) Availability(context.Context) ([]consensus.Availability, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]consensus.Availability(nil), m.available...), nil
}

// Predict returns the stored payload, or a generic one.
func (m *MockBackend) Predict(_ context.Context, matchID string) (consensus.Prediction, error) {
	m.mu.Lock()
	m.calls = append(m.calls, matchID)
	err := m.failures[matchID]
	payload, ok := m.predictions[matchID]
	m.mu.Unlock()

	if err != nil {
		return consensus.Prediction{}, err
	}
	if !ok {
		payload = []byte(fmt.Sprintf(`{"match_id":%q,"predictions":{"confidence":0.72,"recommended_bet":"home win","odds":1.85}}`, matchID))
	}
	return consensus.ParsePrediction(payload)
}

// PredictCalls lists the match ids passed to Predict, in order.
func (m *MockBackend) PredictCalls() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.calls...)
}

// MockGateway is a payment gateway that hands out sequential references.
type MockGateway struct {
	name string

	mu       sync.Mutex
	status   map[string]payment.Status
	fallback payment.Status
	err      error
	requests []payment.CheckoutRequest
}

// NewMockGateway creates a gateway reporting pending for every checkout.
func NewMockGateway(name string) *MockGateway {
	return &MockGateway{name: name, status: make(map[string]payment.Status), fallback: payment.StatusPending}
}

func (g *MockGateway) Name() string { return g.name }

// Fail makes CreateCheckout return err until cleared with nil.
func (g *MockGateway) Fail(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.err = err
}

// SetStatus sets the status reported for reference. An empty reference sets
// the default for all checkouts.
func (g *MockGateway) SetStatus(reference string, status payment.Status) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if reference == "" {
		g.fallback = status
		return
	}
	g.status[reference] = status
}

func (g *MockGateway) CreateCheckout(_ context.Context, req payment.CheckoutRequest) (payment.Checkout, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return payment.Checkout{}, g.err
	}
	g.requests = append(g.requests, req)
	ref := fmt.Sprintf("%s_%d", g.name, len(g.requests))
	return payment.Checkout{Gateway: g.name, Reference: ref, URL: "https://checkout.test/" + ref}, nil
}

func (g *MockGateway) Status(_ context.Context, reference string) (payment.Status, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if s, ok := g.status[reference]; ok {
		return s, nil
	}
	return g.fallback, nil
}

// Requests returns the checkout requests received so far.
func (g *MockGateway) Requests() []payment.CheckoutRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]payment.CheckoutRequest(nil), g.requests...)
}

// GenerateID generates a new UUID string.
func GenerateID() string {
	return uuid.NewString()
}

// Now returns the current UTC time.
func Now() time.Time {
	return time.Now().UTC()
}
