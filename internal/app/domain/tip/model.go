// Package tip holds the match and prediction records sold to end users.
package tip

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// MatchStatus is the lifecycle state of a MarketMatch.
type MatchStatus string

const (
	MatchUpcoming MatchStatus = "upcoming"
	MatchLive     MatchStatus = "live"
	MatchFinished MatchStatus = "finished"
)

// Valid reports whether s is a known status.
func (s MatchStatus) Valid() bool {
	switch s {
	case MatchUpcoming, MatchLive, MatchFinished:
		return true
	}
	return false
}

// Odds are decimal 1X2 odds.
type Odds struct {
	Home decimal.Decimal `json:"home"`
	Draw decimal.Decimal `json:"draw"`
	Away decimal.Decimal `json:"away"`
}

// MarketMatch caches upcoming and live match metadata and consensus odds
// pulled from the external provider.
type MarketMatch struct {
	ID         string      `json:"id"`
	MatchID    string      `json:"matchId"`
	League     string      `json:"league"`
	Country    string      `json:"country,omitempty"`
	HomeTeam   string      `json:"homeTeam"`
	AwayTeam   string      `json:"awayTeam"`
	KickoffAt  time.Time   `json:"kickoffAt"`
	Status     MatchStatus `json:"status"`
	Odds       Odds        `json:"odds"`
	Bookmakers int         `json:"bookmakers"`
	// SourceAt is the provider's last-modified time; it keys the prediction
	// cache so a change upstream invalidates cached predictions.
	SourceAt  time.Time `json:"sourceUpdatedAt"`
	SyncedAt  time.Time `json:"syncedAt"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Title renders "Home vs Away".
func (m MarketMatch) Title() string {
	return m.HomeTeam + " vs " + m.AwayTeam
}

// Kind distinguishes full predictions from lighter tips.
type Kind string

const (
	KindPrediction Kind = "prediction"
	KindTip        Kind = "tip"
)

// QuickPurchase is a purchasable prediction shown to end users.
type QuickPurchase struct {
	ID             string          `json:"id"`
	MatchID        string          `json:"matchId,omitempty"`
	Name           string          `json:"name"`
	Kind           Kind            `json:"type"`
	Description    string          `json:"description,omitempty"`
	Price          decimal.Decimal `json:"price"`
	Currency       string          `json:"currency"`
	CountryCode    string          `json:"countryCode,omitempty"`
	Confidence     int             `json:"confidence"`
	PredictionType string          `json:"predictionType,omitempty"`
	Odds           decimal.Decimal `json:"odds"`
	ValueRating    string          `json:"valueRating,omitempty"`
	Analysis       string          `json:"analysis,omitempty"`
	PredictionData json.RawMessage `json:"predictionData,omitempty"`
	KickoffAt      *time.Time      `json:"kickoffAt,omitempty"`
	IsActive       bool            `json:"isActive"`
	IsPredictable  bool            `json:"isPredictable"`
	LastEnrichedAt *time.Time      `json:"lastEnrichedAt,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// HasPrediction reports whether enrichment data is attached.
func (q QuickPurchase) HasPrediction() bool {
	return len(q.PredictionData) > 0 && string(q.PredictionData) != "null"
}

// Public strips the paid content.
func (q QuickPurchase) Public() QuickPurchase {
	q.PredictionData = nil
	q.Analysis = ""
	q.PredictionType = ""
	return q
}

// Filter narrows QuickPurchase listings.
type Filter struct {
	ActiveOnly  bool
	CountryCode string
	HasMatch    bool
	Limit       int
}

// MatchFilter narrows MarketMatch listings.
type MatchFilter struct {
	Status MatchStatus
	// KickoffAfter excludes matches starting before this instant when set.
	KickoffAfter time.Time
	Limit        int
}
