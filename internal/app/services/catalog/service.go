// Package catalog manages purchasable predictions and the market matches they
// are built from.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tipsterhub/service_layer/internal/app/domain/tip"
	"github.com/tipsterhub/service_layer/internal/app/storage"
	svcerrors "github.com/tipsterhub/service_layer/internal/errors"
	"github.com/tipsterhub/service_layer/pkg/logger"
)

// Service exposes QuickPurchase and MarketMatch operations.
type Service struct {
	matches storage.MarketMatchStore
	quick   storage.QuickPurchaseStore
	source  MarketSource
	log     *logger.Logger
	now     func() time.Time

	marketLimit int
	finishAfter time.Duration
}

// New constructs a catalog service.
func New(matches storage.MarketMatchStore, quick storage.QuickPurchaseStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("catalog")
	}
	return &Service{
		matches:     matches,
		quick:       quick,
		log:         log,
		now:         time.Now,
		marketLimit: 100,
		finishAfter: 3 * time.Hour,
	}
}

// WithMarketSource attaches the upstream used by SyncMarketMatches.
func (s *Service) WithMarketSource(src MarketSource, limit int) {
	s.source = src
	if limit > 0 {
		s.marketLimit = limit
	}
}

// QuickPurchaseInput carries the fields accepted on create.
type QuickPurchaseInput struct {
	MatchID        string          `json:"matchId"`
	Name           string          `json:"name"`
	Kind           tip.Kind        `json:"type"`
	Description    string          `json:"description"`
	Price          decimal.Decimal `json:"price"`
	Currency       string          `json:"currency"`
	CountryCode    string          `json:"countryCode"`
	Confidence     int             `json:"confidence"`
	PredictionType string          `json:"predictionType"`
	Odds           decimal.Decimal `json:"odds"`
	ValueRating    string          `json:"valueRating"`
	Analysis       string          `json:"analysis"`
	PredictionData json.RawMessage `json:"predictionData"`
	IsActive       *bool           `json:"isActive"`
}

// QuickPurchasePatch carries optional updates.
type QuickPurchasePatch struct {
	Name           *string          `json:"name"`
	Kind           *tip.Kind        `json:"type"`
	Description    *string          `json:"description"`
	Price          *decimal.Decimal `json:"price"`
	Currency       *string          `json:"currency"`
	CountryCode    *string          `json:"countryCode"`
	Confidence     *int             `json:"confidence"`
	PredictionType *string          `json:"predictionType"`
	Odds           *decimal.Decimal `json:"odds"`
	ValueRating    *string          `json:"valueRating"`
	Analysis       *string          `json:"analysis"`
	PredictionData json.RawMessage  `json:"predictionData"`
	IsActive       *bool            `json:"isActive"`
}

// CreateQuickPurchase validates and stores a new listing. A MatchID, when
// given, must reference a known match and must not already be listed.
func (s *Service) CreateQuickPurchase(ctx context.Context, in QuickPurchaseInput) (tip.QuickPurchase, error) {
	qp := tip.QuickPurchase{
		MatchID:        strings.TrimSpace(in.MatchID),
		Name:           strings.TrimSpace(in.Name),
		Kind:           in.Kind,
		Description:    strings.TrimSpace(in.Description),
		Price:          in.Price,
		Currency:       in.Currency,
		CountryCode:    in.CountryCode,
		Confidence:     in.Confidence,
		PredictionType: strings.TrimSpace(in.PredictionType),
		Odds:           in.Odds,
		ValueRating:    strings.TrimSpace(in.ValueRating),
		Analysis:       strings.TrimSpace(in.Analysis),
		PredictionData: in.PredictionData,
		IsActive:       true,
	}
	if in.IsActive != nil {
		qp.IsActive = *in.IsActive
	}

	if qp.MatchID != "" {
		match, err := s.matches.GetMarketMatchByMatchID(ctx, qp.MatchID)
		if err != nil {
			if svcerrors.Is(err, storage.ErrNotFound) {
				return tip.QuickPurchase{}, svcerrors.Validation("matchId", "unknown match")
			}
			return tip.QuickPurchase{}, err
		}
		kickoff := match.KickoffAt
		qp.KickoffAt = &kickoff
		if qp.Name == "" {
			qp.Name = match.Title()
		}
		if _, err := s.quick.GetQuickPurchaseByMatchID(ctx, qp.MatchID); err == nil {
			return tip.QuickPurchase{}, svcerrors.Conflict("match already has a prediction")
		} else if !svcerrors.Is(err, storage.ErrNotFound) {
			return tip.QuickPurchase{}, err
		}
	}
	if qp.HasPrediction() {
		now := s.now().UTC()
		qp.LastEnrichedAt = &now
		qp.IsPredictable = true
	}

	if err := normalizeQuickPurchase(&qp); err != nil {
		return tip.QuickPurchase{}, err
	}

	created, err := s.quick.CreateQuickPurchase(ctx, qp)
	if err != nil {
		return tip.QuickPurchase{}, err
	}
	s.log.WithField("quick_purchase_id", created.ID).
		WithField("match_id", created.MatchID).
		Info("quick purchase created")
	return created, nil
}

// UpdateQuickPurchase applies a patch.
func (s *Service) UpdateQuickPurchase(ctx context.Context, id string, patch QuickPurchasePatch) (tip.QuickPurchase, error) {
	qp, err := s.quick.GetQuickPurchase(ctx, id)
	if err != nil {
		return tip.QuickPurchase{}, err
	}

	if patch.Name != nil {
		qp.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Kind != nil {
		qp.Kind = *patch.Kind
	}
	if patch.Description != nil {
		qp.Description = strings.TrimSpace(*patch.Description)
	}
	if patch.Price != nil {
		qp.Price = *patch.Price
	}
	if patch.Currency != nil {
		qp.Currency = *patch.Currency
	}
	if patch.CountryCode != nil {
		qp.CountryCode = *patch.CountryCode
	}
	if patch.Confidence != nil {
		qp.Confidence = *patch.Confidence
	}
	if patch.PredictionType != nil {
		qp.PredictionType = strings.TrimSpace(*patch.PredictionType)
	}
	if patch.Odds != nil {
		qp.Odds = *patch.Odds
	}
	if patch.ValueRating != nil {
		qp.ValueRating = strings.TrimSpace(*patch.ValueRating)
	}
	if patch.Analysis != nil {
		qp.Analysis = strings.TrimSpace(*patch.Analysis)
	}
	if len(patch.PredictionData) > 0 {
		qp.PredictionData = patch.PredictionData
		now := s.now().UTC()
		qp.LastEnrichedAt = &now
		qp.IsPredictable = qp.HasPrediction()
	}
	if patch.IsActive != nil {
		qp.IsActive = *patch.IsActive
	}

	if err := normalizeQuickPurchase(&qp); err != nil {
		return tip.QuickPurchase{}, err
	}
	updated, err := s.quick.UpdateQuickPurchase(ctx, qp)
	if err != nil {
		return tip.QuickPurchase{}, err
	}
	s.log.WithField("quick_purchase_id", updated.ID).Info("quick purchase updated")
	return updated, nil
}

// SetActive toggles the active flag.
func (s *Service) SetActive(ctx context.Context, id string, active bool) (tip.QuickPurchase, error) {
	qp, err := s.quick.GetQuickPurchase(ctx, id)
	if err != nil {
		return tip.QuickPurchase{}, err
	}
	if qp.IsActive == active {
		return qp, nil
	}
	qp.IsActive = active
	return s.quick.UpdateQuickPurchase(ctx, qp)
}

func (s *Service) GetQuickPurchase(ctx context.Context, id string) (tip.QuickPurchase, error) {
	return s.quick.GetQuickPurchase(ctx, id)
}

func (s *Service) ListQuickPurchases(ctx context.Context, filter tip.Filter) ([]tip.QuickPurchase, error) {
	filter.CountryCode = strings.ToUpper(strings.TrimSpace(filter.CountryCode))
	return s.quick.ListQuickPurchases(ctx, filter)
}

func (s *Service) DeleteQuickPurchase(ctx context.Context, id string) error {
	if err := s.quick.DeleteQuickPurchase(ctx, id); err != nil {
		return err
	}
	s.log.WithField("quick_purchase_id", id).Info("quick purchase deleted")
	return nil
}

func (s *Service) GetMatch(ctx context.Context, id string) (tip.MarketMatch, error) {
	return s.matches.GetMarketMatch(ctx, id)
}

func (s *Service) ListMatches(ctx context.Context, filter tip.MatchFilter) ([]tip.MarketMatch, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, svcerrors.Validation("status", fmt.Sprintf("unknown status %q", filter.Status))
	}
	return s.matches.ListMarketMatches(ctx, filter)
}

func normalizeQuickPurchase(qp *tip.QuickPurchase) error {
	if qp.Name == "" {
		return svcerrors.Validation("name", "name is required")
	}
	if qp.Kind == "" {
		qp.Kind = tip.KindPrediction
	}
	if qp.Kind != tip.KindPrediction && qp.Kind != tip.KindTip {
		return svcerrors.Validation("type", fmt.Sprintf("unknown type %q", qp.Kind))
	}
	if !qp.Price.IsPositive() {
		return svcerrors.Validation("price", "price must be positive")
	}
	qp.Currency = strings.ToUpper(strings.TrimSpace(qp.Currency))
	if qp.Currency == "" {
		qp.Currency = "USD"
	}
	if len(qp.Currency) != 3 {
		return svcerrors.Validation("currency", "currency must be a 3-letter code")
	}
	qp.CountryCode = strings.ToUpper(strings.TrimSpace(qp.CountryCode))
	if qp.CountryCode != "" && len(qp.CountryCode) != 2 {
		return svcerrors.Validation("countryCode", "country code must be 2 letters")
	}
	if qp.Confidence < 0 || qp.Confidence > 100 {
		return svcerrors.Validation("confidence", "confidence must be between 0 and 100")
	}
	if qp.Odds.IsNegative() {
		return svcerrors.Validation("odds", "odds cannot be negative")
	}
	if len(qp.PredictionData) > 0 && !json.Valid(qp.PredictionData) {
		return svcerrors.Validation("predictionData", "prediction data must be valid JSON")
	}
	return nil
}
