package testutil

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tipsterhub/service_layer/internal/consensus"
	"github.com/tipsterhub/service_layer/internal/payment"
)

func TestMockBackend(t *testing.T) {
	ctx := context.Background()
	b := NewMockBackend()
	b.SetMarket(
		consensus.MarketEntry{MatchID: "1", Status: "upcoming"},
		consensus.MarketEntry{MatchID: "2", Status: "live"},
	)
	live, err := b.Market(ctx, "live", 0)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, "2", live[0].MatchID)

	p, err := b.Predict(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, 72, p.Confidence)
	assert.Equal(t, "home win", p.PredictionType)

	b.FailPrediction("2", errors.New("boom"))
	_, err = b.Predict(ctx, "2")
	assert.EqualError(t, err, "boom")
	assert.Equal(t, []string{"1", "2"}, b.PredictCalls())
}

func TestMockGateway(t *testing.T) {
	ctx := context.Background()
	g := NewMockGateway("stripe")

	c, err := g.CreateCheckout(ctx, payment.CheckoutRequest{OrderID: "o1"})
	require.NoError(t, err)
	assert.Equal(t, "stripe_1", c.Reference)

	s, _ := g.Status(ctx, c.Reference)
	assert.Equal(t, payment.StatusPending, s)
	g.SetStatus(c.Reference, payment.StatusPaid)
	s, _ = g.Status(ctx, c.Reference)
	assert.Equal(t, payment.StatusPaid, s)

	g.Fail(errors.New("down"))
	_, err = g.CreateCheckout(ctx, payment.CheckoutRequest{OrderID: "o2"})
	assert.Error(t, err)
	assert.Len(t, g.Requests(), 1)
}
