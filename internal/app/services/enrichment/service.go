// Package enrichment merges consensus availability with stored matches and
// listings, then attaches backend predictions to the listings that need them.
package enrichment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/tipsterhub/service_layer/internal/app/domain/tip"
	"github.com/tipsterhub/service_layer/internal/app/metrics"
	"github.com/tipsterhub/service_layer/internal/app/storage"
	"github.com/tipsterhub/service_layer/internal/cache"
	"github.com/tipsterhub/service_layer/internal/consensus"
	"github.com/tipsterhub/service_layer/pkg/logger"
)

const jobName = "availability"

// ErrSyncRunning is returned when a pass is already in progress.
var ErrSyncRunning = errors.New("sync already running")

// errBudget marks a candidate abandoned because the run ran out of time.
var errBudget = errors.New("time budget exhausted")

// Backend is the subset of the consensus client used here.
type Backend interface {
	Availability(ctx context.Context) ([]consensus.Availability, error)
	Predict(ctx context.Context, matchID string) (consensus.Prediction, error)
}

// Config tunes the service. Zero values take the defaults noted per field.
type Config struct {
	// FreshnessWindow is how long a prediction stays current (6h).
	FreshnessWindow time.Duration
	// EnrichDelay and CreateDelay pace backend calls per bucket. Zero disables
	// pacing.
	EnrichDelay time.Duration
	CreateDelay time.Duration
	// MaxDuration bounds a pass (270s). Options may shorten it, never extend it.
	MaxDuration time.Duration
	// CacheTTL bounds cached predictions (6h).
	CacheTTL time.Duration
	// Limit caps processed candidates unless Options overrides it. Zero is
	// unlimited.
	Limit           int
	DefaultPrice    decimal.Decimal
	DefaultCurrency string
}

func (c *Config) applyDefaults() {
	if c.FreshnessWindow <= 0 {
		c.FreshnessWindow = 6 * time.Hour
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = 270 * time.Second
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 6 * time.Hour
	}
	if !c.DefaultPrice.IsPositive() {
		c.DefaultPrice = decimal.RequireFromString("9.99")
	}
	c.DefaultCurrency = strings.ToUpper(strings.TrimSpace(c.DefaultCurrency))
	if c.DefaultCurrency == "" {
		c.DefaultCurrency = "USD"
	}
}

// Options adjust a single pass.
type Options struct {
	Limit       int           `json:"limit"`
	MaxDuration time.Duration `json:"-"`
	// DryRun classifies candidates without calling the backend or writing.
	DryRun bool `json:"dryRun"`
}

// Action is what a pass does with one candidate.
type Action string

const (
	ActionSkip   Action = "skip"
	ActionEnrich Action = "enrich"
	ActionCreate Action = "create"
)

// Candidate is one match id after merging availability, MarketMatch and
// QuickPurchase rows.
type Candidate struct {
	MatchID   string    `json:"matchId"`
	Action    Action    `json:"action"`
	Reason    string    `json:"reason,omitempty"`
	KickoffAt time.Time `json:"kickoffAt"`

	match        *tip.MarketMatch
	quick        *tip.QuickPurchase
	availability *consensus.Availability
}

// ItemError records a failed candidate.
type ItemError struct {
	MatchID string `json:"matchId"`
	Action  Action `json:"action"`
	Error   string `json:"error"`
}

// Report summarises one SyncFromAvailability pass.
type Report struct {
	Available  int           `json:"available"`
	Candidates int           `json:"candidates"`
	Skipped    int           `json:"skipped"`
	Deferred   int           `json:"deferred"`
	Enriched   int           `json:"enriched"`
	Created    int           `json:"created"`
	Failed     int           `json:"failed"`
	CacheHits  int           `json:"cache_hits"`
	Partial    bool          `json:"partial"`
	Reason     string        `json:"reason,omitempty"`
	DryRun     bool          `json:"dry_run,omitempty"`
	Plan       []Candidate   `json:"plan,omitempty"`
	Errors     []ItemError   `json:"errors"`
	Budget     time.Duration `json:"budget"`
	Duration   time.Duration `json:"duration"`
}

// Service runs availability sync passes. Only one pass runs at a time.
type Service struct {
	matches storage.MarketMatchStore
	quick   storage.QuickPurchaseStore
	backend Backend
	cache   cache.Cache
	cfg     Config
	log     *logger.Logger
	now     func() time.Time

	running sync.Mutex
}

// New constructs the service. A nil cache falls back to an in-memory one.
func New(matches storage.MarketMatchStore, quick storage.QuickPurchaseStore, backend Backend, c cache.Cache, cfg Config, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("enrichment")
	}
	if c == nil {
		c = cache.NewMemory()
	}
	cfg.applyDefaults()
	return &Service{
		matches: matches,
		quick:   quick,
		backend: backend,
		cache:   c,
		cfg:     cfg,
		log:     log,
		now:     time.Now,
	}
}

// SyncFromAvailability runs one pass. Per-candidate failures are collected in
// the report; an error is returned only when the pass could not start.
func (s *Service) SyncFromAvailability(ctx context.Context, opts Options) (Report, error) {
	if !s.running.TryLock() {
		return Report{}, ErrSyncRunning
	}
	defer s.running.Unlock()

	start := s.now()
	report := Report{Errors: []ItemError{}, DryRun: opts.DryRun}

	available, candidates, err := s.plan(ctx)
	if err != nil {
		metrics.RecordSyncRun(jobName, s.now().Sub(start), false, false, metrics.SyncOutcome{})
		s.log.WithError(err).Error("availability sync failed to plan")
		return report, err
	}
	report.Available = available
	report.Candidates = len(candidates)

	limit := opts.Limit
	if limit <= 0 {
		limit = s.cfg.Limit
	}
	maxDuration := opts.MaxDuration
	if maxDuration <= 0 || maxDuration > s.cfg.MaxDuration {
		maxDuration = s.cfg.MaxDuration
	}
	report.Budget = maxDuration

	var work []Candidate
	for _, c := range candidates {
		if c.Action == ActionSkip {
			report.Skipped++
			continue
		}
		if limit > 0 && len(work) >= limit {
			report.Deferred++
			continue
		}
		work = append(work, c)
	}

	if opts.DryRun {
		report.Plan = candidates
		report.Duration = s.now().Sub(start)
		return report, nil
	}

	pacers := map[Action]*rate.Limiter{
		ActionEnrich: newPacer(s.cfg.EnrichDelay),
		ActionCreate: newPacer(s.cfg.CreateDelay),
	}

	overBudget := func() bool { return s.now().Sub(start) >= maxDuration }

	for i, c := range work {
		if ctx.Err() != nil {
			report.Partial, report.Reason = true, "cancelled"
			report.Deferred += len(work) - i
			break
		}
		if overBudget() {
			report.Partial, report.Reason = true, "timeout"
			report.Deferred += len(work) - i
			break
		}

		err := s.process(ctx, c, pacers[c.Action], overBudget, &report)
		switch {
		case err == nil:
		case errors.Is(err, errBudget):
			report.Partial, report.Reason = true, "timeout"
			report.Deferred += len(work) - i
		case ctx.Err() != nil:
			report.Partial, report.Reason = true, "cancelled"
			report.Deferred += len(work) - i
		default:
			report.Failed++
			report.Errors = append(report.Errors, ItemError{MatchID: c.MatchID, Action: c.Action, Error: err.Error()})
			s.log.WithError(err).WithField("match_id", c.MatchID).WithField("action", string(c.Action)).Warn("candidate failed")
			continue
		}
		if report.Partial {
			break
		}
	}

	report.Duration = s.now().Sub(start)
	metrics.RecordSyncRun(jobName, report.Duration, true, report.Partial, metrics.SyncOutcome{
		Skipped:  report.Skipped,
		Enriched: report.Enriched,
		Created:  report.Created,
		Failed:   report.Failed,
	})
	s.log.WithFields(logrus.Fields{
		"available":  report.Available,
		"candidates": report.Candidates,
		"skipped":    report.Skipped,
		"enriched":   report.Enriched,
		"created":    report.Created,
		"failed":     report.Failed,
		"cache_hits": report.CacheHits,
		"partial":    report.Partial,
		"duration":   report.Duration.String(),
	}).Info("availability sync finished")
	return report, nil
}

// Plan classifies candidates without touching the backend prediction
// endpoint or the stores.
func (s *Service) Plan(ctx context.Context) ([]Candidate, error) {
	_, candidates, err := s.plan(ctx)
	return candidates, err
}

func (s *Service) plan(ctx context.Context) (int, []Candidate, error) {
	avail, err := s.backend.Availability(ctx)
	if err != nil {
		return 0, nil, err
	}

	availByID := make(map[string]*consensus.Availability, len(avail))
	ids := make([]string, 0, len(avail))
	for i := range avail {
		id := avail[i].MatchID
		if _, seen := availByID[id]; seen {
			continue
		}
		availByID[id] = &avail[i]
		ids = append(ids, id)
	}

	matchByID := make(map[string]*tip.MarketMatch, len(ids))
	if len(ids) > 0 {
		matches, err := s.matches.ListMarketMatchesByMatchIDs(ctx, ids)
		if err != nil {
			return 0, nil, fmt.Errorf("load matches: %w", err)
		}
		for i := range matches {
			matchByID[matches[i].MatchID] = &matches[i]
		}
	}

	quicks, err := s.quick.ListQuickPurchases(ctx, tip.Filter{HasMatch: true})
	if err != nil {
		return 0, nil, fmt.Errorf("load quick purchases: %w", err)
	}
	quickByID := make(map[string]*tip.QuickPurchase, len(quicks))
	for i := range quicks {
		id := quicks[i].MatchID
		if _, dup := quickByID[id]; dup {
			continue
		}
		quickByID[id] = &quicks[i]
		if _, ok := availByID[id]; !ok {
			ids = append(ids, id)
		}
	}

	now := s.now()
	candidates := make([]Candidate, 0, len(ids))
	for _, id := range ids {
		c, ok := s.classify(id, matchByID[id], quickByID[id], availByID[id], now)
		if ok {
			candidates = append(candidates, c)
		}
	}
	sortCandidates(candidates)
	return len(availByID), candidates, nil
}

func (s *Service) classify(id string, match *tip.MarketMatch, qp *tip.QuickPurchase, av *consensus.Availability, now time.Time) (Candidate, bool) {
	if qp == nil && match == nil && (av == nil || !av.HasMetadata()) {
		return Candidate{}, false
	}

	c := Candidate{MatchID: id, match: match, quick: qp, availability: av}
	switch {
	case match != nil:
		c.KickoffAt = match.KickoffAt
	case qp != nil && qp.KickoffAt != nil:
		c.KickoffAt = *qp.KickoffAt
	case av != nil:
		c.KickoffAt = av.KickoffAt
	}

	skip := func(reason string) (Candidate, bool) {
		c.Action, c.Reason = ActionSkip, reason
		return c, true
	}

	if match != nil && match.Status == tip.MatchFinished {
		return skip("finished")
	}

	if qp != nil {
		switch {
		case av == nil:
			return skip("not available")
		case !qp.IsActive:
			return skip("inactive")
		case s.fresh(*qp, match, now):
			return skip("fresh")
		}
		c.Action = ActionEnrich
		if !qp.HasPrediction() {
			c.Reason = "missing prediction"
		} else {
			c.Reason = "stale prediction"
		}
		return c, true
	}

	if match != nil && match.Status != tip.MatchUpcoming {
		return skip("not upcoming")
	}
	if c.KickoffAt.IsZero() || !c.KickoffAt.After(now) {
		return skip("already started")
	}
	c.Action = ActionCreate
	c.Reason = "no listing"
	return c, true
}

// fresh reports whether qp holds a prediction made after the match data last
// changed and within the freshness window.
func (s *Service) fresh(qp tip.QuickPurchase, match *tip.MarketMatch, now time.Time) bool {
	if !qp.HasPrediction() || qp.LastEnrichedAt == nil {
		return false
	}
	enrichedAt := *qp.LastEnrichedAt
	if match != nil && !match.SourceAt.IsZero() && !enrichedAt.After(match.SourceAt) {
		return false
	}
	return now.Sub(enrichedAt) < s.cfg.FreshnessWindow
}

// sortCandidates orders enrich before create before skip, then by kickoff.
func sortCandidates(cs []Candidate) {
	rank := map[Action]int{ActionEnrich: 0, ActionCreate: 1, ActionSkip: 2}
	sort.SliceStable(cs, func(i, j int) bool {
		a, b := cs[i], cs[j]
		if rank[a.Action] != rank[b.Action] {
			return rank[a.Action] < rank[b.Action]
		}
		if a.KickoffAt.IsZero() != b.KickoffAt.IsZero() {
			return !a.KickoffAt.IsZero()
		}
		if !a.KickoffAt.Equal(b.KickoffAt) {
			return a.KickoffAt.Before(b.KickoffAt)
		}
		return a.MatchID < b.MatchID
	})
}

func (s *Service) process(ctx context.Context, c Candidate, pacer *rate.Limiter, overBudget func() bool, report *Report) error {
	prediction, hit, err := s.predict(ctx, c, pacer, overBudget)
	if err != nil {
		return err
	}
	if hit {
		report.CacheHits++
	}

	now := s.now().UTC()
	switch c.Action {
	case ActionEnrich:
		qp := *c.quick
		applyPrediction(&qp, prediction, now)
		if qp.KickoffAt == nil && c.match != nil {
			kickoff := c.match.KickoffAt
			qp.KickoffAt = &kickoff
		}
		if _, err := s.quick.UpdateQuickPurchase(ctx, qp); err != nil {
			return fmt.Errorf("update listing: %w", err)
		}
		report.Enriched++
	case ActionCreate:
		qp := s.newListing(c)
		applyPrediction(&qp, prediction, now)
		if _, err := s.quick.CreateQuickPurchase(ctx, qp); err != nil {
			if errors.Is(err, storage.ErrConflict) {
				report.Skipped++
				return nil
			}
			return fmt.Errorf("create listing: %w", err)
		}
		report.Created++
	}
	return nil
}

// predict returns the cached prediction for the candidate's current match
// version or asks the backend. Backend calls are paced and re-check the time
// budget after waiting.
func (s *Service) predict(ctx context.Context, c Candidate, pacer *rate.Limiter, overBudget func() bool) (consensus.Prediction, bool, error) {
	key := CacheKey(c.MatchID, c.match)

	if raw, err := s.cache.Get(ctx, key); err == nil {
		if p, perr := consensus.ParsePrediction(raw); perr == nil {
			metrics.RecordCacheLookup(true)
			return p, true, nil
		}
		_ = s.cache.Delete(ctx, key)
	} else if !errors.Is(err, cache.ErrMiss) {
		s.log.WithError(err).WithField("key", key).Warn("prediction cache read failed")
	}
	metrics.RecordCacheLookup(false)

	if err := pacer.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return consensus.Prediction{}, false, ctx.Err()
		}
		return consensus.Prediction{}, false, err
	}
	if overBudget() {
		return consensus.Prediction{}, false, errBudget
	}

	p, err := s.backend.Predict(ctx, c.MatchID)
	if err != nil {
		return consensus.Prediction{}, false, err
	}
	if err := s.cache.Set(ctx, key, p.Raw, s.cfg.CacheTTL); err != nil {
		s.log.WithError(err).WithField("key", key).Warn("prediction cache write failed")
	}
	return p, false, nil
}

// CacheKey versions cached predictions by the match's source timestamp so an
// upstream change misses the cache.
func CacheKey(matchID string, match *tip.MarketMatch) string {
	var version int64
	if match != nil && !match.SourceAt.IsZero() {
		version = match.SourceAt.Unix()
	}
	return fmt.Sprintf("prediction:%s:%d", matchID, version)
}

func (s *Service) newListing(c Candidate) tip.QuickPurchase {
	qp := tip.QuickPurchase{
		MatchID:       c.MatchID,
		Kind:          tip.KindPrediction,
		Price:         s.cfg.DefaultPrice,
		Currency:      s.cfg.DefaultCurrency,
		IsActive:      true,
		IsPredictable: true,
	}
	switch {
	case c.match != nil:
		qp.Name = c.match.Title()
		if c.match.League != "" {
			qp.Description = c.match.League
		}
	case c.availability != nil:
		qp.Name = c.availability.HomeTeam + " vs " + c.availability.AwayTeam
		qp.Description = c.availability.League
	}
	if !c.KickoffAt.IsZero() {
		kickoff := c.KickoffAt.UTC()
		qp.KickoffAt = &kickoff
	}
	return qp
}

func applyPrediction(qp *tip.QuickPurchase, p consensus.Prediction, now time.Time) {
	qp.PredictionData = p.Raw
	qp.Confidence = p.Confidence
	if p.PredictionType != "" {
		qp.PredictionType = p.PredictionType
	}
	if odds, err := decimal.NewFromString(p.Odds); err == nil && odds.IsPositive() {
		qp.Odds = odds
	}
	if p.ValueRating != "" {
		qp.ValueRating = p.ValueRating
	}
	if p.Analysis != "" {
		qp.Analysis = p.Analysis
	}
	qp.IsPredictable = true
	qp.LastEnrichedAt = &now
}

func newPacer(delay time.Duration) *rate.Limiter {
	if delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(delay), 1)
}

// IsSyncRunning reports whether err came from an overlapping pass.
func IsSyncRunning(err error) bool {
	return errors.Is(err, ErrSyncRunning)
}
