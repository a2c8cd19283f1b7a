package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tipsterhub/service_layer/internal/app/domain/tip"
	"github.com/tipsterhub/service_layer/internal/app/metrics"
	"github.com/tipsterhub/service_layer/internal/consensus"
	svcerrors "github.com/tipsterhub/service_layer/internal/errors"
)

// MarketSource lists matches from the consensus API.
type MarketSource interface {
	Market(ctx context.Context, status string, limit int) ([]consensus.MarketEntry, error)
}

// MarketSyncReport summarises one SyncMarketMatches pass.
type MarketSyncReport struct {
	Statuses    []string      `json:"statuses"`
	Fetched     int           `json:"fetched"`
	Created     int           `json:"created"`
	Updated     int           `json:"updated"`
	Invalid     int           `json:"invalid"`
	Finished    int           `json:"finished"`
	Deactivated int           `json:"deactivated"`
	Errors      []string      `json:"errors,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// SyncMarketMatches pulls upcoming and live matches into the store, then
// retires matches that kicked off long enough ago to be over. An empty status
// syncs both upcoming and live.
func (s *Service) SyncMarketMatches(ctx context.Context, status string) (MarketSyncReport, error) {
	start := s.now()
	report := MarketSyncReport{}
	if s.source == nil {
		return report, svcerrors.Unavailable("market source not configured")
	}

	status = strings.ToLower(strings.TrimSpace(status))
	switch status {
	case "":
		report.Statuses = []string{string(tip.MatchUpcoming), string(tip.MatchLive)}
	case string(tip.MatchUpcoming), string(tip.MatchLive):
		report.Statuses = []string{status}
	default:
		return report, svcerrors.Validation("status", "status must be upcoming or live")
	}

	var fetchErr error
	for _, st := range report.Statuses {
		entries, err := s.source.Market(ctx, st, s.marketLimit)
		if err != nil {
			s.log.WithError(err).WithField("status", st).Warn("market fetch failed")
			report.Errors = append(report.Errors, fmt.Sprintf("fetch %s: %v", st, err))
			fetchErr = err
			continue
		}
		report.Fetched += len(entries)

		for _, entry := range entries {
			match, ok := toMarketMatch(entry, tip.MatchStatus(st))
			if !ok {
				report.Invalid++
				continue
			}
			_, created, err := s.matches.UpsertMarketMatch(ctx, match)
			if err != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", match.MatchID, err))
				continue
			}
			if created {
				report.Created++
			} else {
				report.Updated++
			}
		}
	}

	finished, err := s.matches.FinishStaleMatches(ctx, s.now().Add(-s.finishAfter))
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("finish stale matches: %v", err))
	} else if len(finished) > 0 {
		report.Finished = len(finished)
		n, err := s.quick.DeactivateQuickPurchases(ctx, finished)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("deactivate predictions: %v", err))
		}
		report.Deactivated = n
	}

	report.Duration = s.now().Sub(start)
	allFailed := fetchErr != nil && report.Fetched == 0
	metrics.RecordSyncRun("market", report.Duration, !allFailed, false, metrics.SyncOutcome{
		Created: report.Created,
		Updated: report.Updated,
		Skipped: report.Invalid,
		Failed:  len(report.Errors),
	})

	s.log.WithField("fetched", report.Fetched).
		WithField("created", report.Created).
		WithField("updated", report.Updated).
		WithField("finished", report.Finished).
		WithField("deactivated", report.Deactivated).
		WithField("errors", len(report.Errors)).
		Info("market sync completed")

	if allFailed {
		return report, fetchErr
	}
	return report, nil
}

func toMarketMatch(e consensus.MarketEntry, fallback tip.MatchStatus) (tip.MarketMatch, bool) {
	if e.MatchID == "" || e.HomeTeam == "" || e.AwayTeam == "" || e.KickoffAt.IsZero() {
		return tip.MarketMatch{}, false
	}
	status := tip.MatchStatus(e.Status)
	if !status.Valid() {
		status = fallback
	}
	return tip.MarketMatch{
		MatchID:   e.MatchID,
		League:    e.League,
		Country:   e.Country,
		HomeTeam:  e.HomeTeam,
		AwayTeam:  e.AwayTeam,
		KickoffAt: e.KickoffAt.UTC(),
		Status:    status,
		Odds: tip.Odds{
			Home: parseDecimal(e.OddsHome),
			Draw: parseDecimal(e.OddsDraw),
			Away: parseDecimal(e.OddsAway),
		},
		Bookmakers: e.Bookmakers,
		SourceAt:   e.UpdatedAt,
	}, true
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}
