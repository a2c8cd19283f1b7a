// Package consensus talks to the odds consensus and prediction backend.
package consensus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	svcerrors "github.com/tipsterhub/service_layer/internal/errors"
	"github.com/tipsterhub/service_layer/internal/httputil"
)

const serviceName = "consensus"

// Config configures the backend client.
type Config struct {
	BaseURL string
	APIKey  string
	// Timeout bounds listing calls.
	Timeout time.Duration
	// PredictTimeout bounds each prediction call.
	PredictTimeout time.Duration
	HTTPClient     *http.Client
}

// Client calls the consensus endpoints.
type Client struct {
	http           *httputil.Client
	predictTimeout time.Duration
}

// New builds a client. BaseURL is required.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("consensus: base url required")
	}
	predictTimeout := cfg.PredictTimeout
	if predictTimeout <= 0 {
		predictTimeout = 20 * time.Second
	}

	var authorize httputil.Authorizer
	if key := strings.TrimSpace(cfg.APIKey); key != "" {
		authorize = func(_ context.Context, req *http.Request) error {
			req.Header.Set("Authorization", "Bearer "+key)
			return nil
		}
	}

	return &Client{
		http: httputil.NewClient(httputil.ClientConfig{
			BaseURL:    cfg.BaseURL,
			Timeout:    cfg.Timeout,
			Authorize:  authorize,
			HTTPClient: cfg.HTTPClient,
		}),
		predictTimeout: predictTimeout,
	}, nil
}

// Availability is one match the backend can currently predict.
type Availability struct {
	MatchID    string
	League     string
	HomeTeam   string
	AwayTeam   string
	KickoffAt  time.Time
	Bookmakers int
}

// HasMetadata reports whether the entry carries enough to create a listing.
func (a Availability) HasMetadata() bool {
	return a.HomeTeam != "" && a.AwayTeam != "" && !a.KickoffAt.IsZero()
}

// Availability lists match ids with consensus data.
func (c *Client) Availability(ctx context.Context) ([]Availability, error) {
	body, err := c.get(ctx, "/consensus/availability")
	if err != nil {
		return nil, err
	}
	return ParseAvailability(body)
}

// Market lists matches by status ("upcoming" or "live").
func (c *Client) Market(ctx context.Context, status string, limit int) ([]MarketEntry, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/market"
	if encoded := q.Encode(); encoded != "" {
		path += "?" + encoded
	}
	body, err := c.get(ctx, path)
	if err != nil {
		return nil, err
	}
	return ParseMarket(body)
}

type predictRequest struct {
	MatchID         string `json:"match_id"`
	IncludeAnalysis bool   `json:"include_analysis"`
}

// Predict requests a prediction for one match. The call is bounded by the
// configured predict timeout; hitting it yields a TIMEOUT ServiceError.
func (c *Client) Predict(ctx context.Context, matchID string) (Prediction, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.predictTimeout)
	defer cancel()

	resp, err := c.http.Post(callCtx, "/predict", predictRequest{MatchID: matchID, IncludeAnalysis: true})
	if err != nil {
		return Prediction{}, c.wrap(ctx, callCtx, err)
	}
	var raw []byte
	if err := httputil.DecodeResponse(resp, &raw); err != nil {
		return Prediction{}, c.wrap(ctx, callCtx, err)
	}
	return ParsePrediction(raw)
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	resp, err := c.http.Get(ctx, path)
	if err != nil {
		return nil, svcerrors.Upstream(serviceName, err)
	}
	var raw []byte
	if err := httputil.DecodeResponse(resp, &raw); err != nil {
		return nil, svcerrors.Upstream(serviceName, err)
	}
	if !gjson.ValidBytes(raw) {
		return nil, svcerrors.Upstream(serviceName, errors.New("invalid json response"))
	}
	return raw, nil
}

// wrap distinguishes our own per-call deadline from a cancelled parent.
func (c *Client) wrap(parent, call context.Context, err error) error {
	if parent.Err() == nil && errors.Is(call.Err(), context.DeadlineExceeded) {
		return svcerrors.Timeout("predict", c.predictTimeout)
	}
	if parent.Err() != nil {
		return parent.Err()
	}
	return svcerrors.Upstream(serviceName, err)
}

// MarketEntry is a match as listed by the market endpoint.
type MarketEntry struct {
	MatchID    string
	League     string
	Country    string
	HomeTeam   string
	AwayTeam   string
	KickoffAt  time.Time
	Status     string
	OddsHome   string
	OddsDraw   string
	OddsAway   string
	Bookmakers int
	UpdatedAt  time.Time
}

// Prediction is the parsed subset of a backend prediction plus the raw
// payload, which is stored verbatim.
type Prediction struct {
	Raw            json.RawMessage
	Confidence     int
	PredictionType string
	Odds           string
	ValueRating    string
	Analysis       string
}

// ParseAvailability accepts either a bare array or an object holding the
// list under matches, data or available. Entries may be plain ids.
func ParseAvailability(body []byte) ([]Availability, error) {
	list := listOf(gjson.ParseBytes(body), "matches", "data", "available", "match_ids")
	if !list.IsArray() {
		return nil, fmt.Errorf("consensus: availability payload has no match list")
	}

	var out []Availability
	list.ForEach(func(_, item gjson.Result) bool {
		if item.Type == gjson.String || item.Type == gjson.Number {
			if id := strings.TrimSpace(item.String()); id != "" {
				out = append(out, Availability{MatchID: id})
			}
			return true
		}
		id := strings.TrimSpace(scalar(item, "match_id", "matchId", "id").String())
		if id == "" {
			return true
		}
		out = append(out, Availability{
			MatchID:    id,
			League:     scalar(item, "league.name", "league").String(),
			HomeTeam:   scalar(item, "home_team", "homeTeam", "home.name", "home").String(),
			AwayTeam:   scalar(item, "away_team", "awayTeam", "away.name", "away").String(),
			KickoffAt:  parseTime(first(item, "kickoff_at", "kickoff", "commence_time", "date")),
			Bookmakers: int(first(item, "bookmakers", "n_bookmakers", "books").Int()),
		})
		return true
	})
	return out, nil
}

// ParseMarket reads the market listing.
func ParseMarket(body []byte) ([]MarketEntry, error) {
	list := listOf(gjson.ParseBytes(body), "matches", "data")
	if !list.IsArray() {
		return nil, fmt.Errorf("consensus: market payload has no match list")
	}

	var out []MarketEntry
	list.ForEach(func(_, item gjson.Result) bool {
		id := strings.TrimSpace(scalar(item, "match_id", "matchId", "id").String())
		if id == "" {
			return true
		}
		odds := first(item, "odds.consensus", "consensus", "odds")
		out = append(out, MarketEntry{
			MatchID:    id,
			League:     scalar(item, "league.name", "league").String(),
			Country:    scalar(item, "league.country", "country").String(),
			HomeTeam:   scalar(item, "home_team", "homeTeam", "home.name", "home").String(),
			AwayTeam:   scalar(item, "away_team", "awayTeam", "away.name", "away").String(),
			KickoffAt:  parseTime(first(item, "kickoff_at", "kickoff", "commence_time", "date")),
			Status:     strings.ToLower(item.Get("status").String()),
			OddsHome:   scalar(odds, "home", "1").String(),
			OddsDraw:   scalar(odds, "draw", "x", "X").String(),
			OddsAway:   scalar(odds, "away", "2").String(),
			Bookmakers: int(first(item, "bookmakers", "n_bookmakers", "books").Int()),
			UpdatedAt:  parseTime(first(item, "updated_at", "updatedAt", "last_updated")),
		})
		return true
	})
	return out, nil
}

// ParsePrediction extracts the fields shown on a listing from a prediction
// payload. Confidence given as a 0-1 fraction is scaled to a percentage.
func ParsePrediction(body []byte) (Prediction, error) {
	if !gjson.ValidBytes(body) {
		return Prediction{}, svcerrors.Upstream(serviceName, errors.New("invalid prediction payload"))
	}
	root := gjson.ParseBytes(body)
	if errMsg := root.Get("error"); errMsg.Exists() && errMsg.Type == gjson.String {
		return Prediction{}, svcerrors.Upstream(serviceName, errors.New(errMsg.String()))
	}

	p := Prediction{Raw: json.RawMessage(append([]byte(nil), body...))}

	conf := scalar(root, "predictions.confidence", "prediction.confidence", "confidence")
	if conf.Exists() {
		v := conf.Float()
		if v > 0 && v <= 1 {
			v *= 100
		}
		if v > 100 {
			v = 100
		}
		if v < 0 {
			v = 0
		}
		p.Confidence = int(v + 0.5)
	}
	p.PredictionType = scalar(root, "predictions.recommended_bet", "prediction.recommended_bet",
		"recommended_bet", "prediction_type", "predictions.pick").String()
	p.Odds = scalar(root, "predictions.odds", "prediction.odds", "odds").String()
	p.ValueRating = scalar(root, "predictions.value_rating", "value_rating", "analysis.value_rating").String()
	p.Analysis = scalar(root, "analysis.explanation", "analysis.summary", "analysis").String()
	return p, nil
}

func listOf(root gjson.Result, keys ...string) gjson.Result {
	if root.IsArray() {
		return root
	}
	for _, k := range keys {
		if v := root.Get(k); v.IsArray() {
			return v
		}
	}
	return gjson.Result{}
}

func first(item gjson.Result, paths ...string) gjson.Result {
	for _, p := range paths {
		if v := item.Get(p); v.Exists() && v.Type != gjson.Null {
			return v
		}
	}
	return gjson.Result{}
}

// scalar is first restricted to strings and numbers.
func scalar(item gjson.Result, paths ...string) gjson.Result {
	for _, p := range paths {
		v := item.Get(p)
		if v.Type == gjson.String || v.Type == gjson.Number {
			return v
		}
	}
	return gjson.Result{}
}

func parseTime(v gjson.Result) time.Time {
	switch v.Type {
	case gjson.Number:
		return time.Unix(v.Int(), 0).UTC()
	case gjson.String:
		s := v.String()
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC()
			}
		}
	}
	return time.Time{}
}
