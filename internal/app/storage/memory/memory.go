package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tipsterhub/service_layer/internal/app/domain/blog"
	"github.com/tipsterhub/service_layer/internal/app/domain/purchase"
	"github.com/tipsterhub/service_layer/internal/app/domain/tip"
	"github.com/tipsterhub/service_layer/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
type Store struct {
	mu             sync.RWMutex
	nextID         int64
	matches        map[string]tip.MarketMatch // by id
	matchByMatchID map[string]string
	quick          map[string]tip.QuickPurchase
	quickByMatchID map[string]string
	posts          map[string]blog.Post
	users          map[string]purchase.User // by phone
	purchases      map[string]purchase.Purchase
}

var _ storage.MarketMatchStore = (*Store)(nil)
var _ storage.QuickPurchaseStore = (*Store)(nil)
var _ storage.BlogStore = (*Store)(nil)
var _ storage.PurchaseStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:         1,
		matches:        make(map[string]tip.MarketMatch),
		matchByMatchID: make(map[string]string),
		quick:          make(map[string]tip.QuickPurchase),
		quickByMatchID: make(map[string]string),
		posts:          make(map[string]blog.Post),
		users:          make(map[string]purchase.User),
		purchases:      make(map[string]purchase.Purchase),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

// --- MarketMatchStore -------------------------------------------------------

func (s *Store) UpsertMarketMatch(_ context.Context, match tip.MarketMatch) (tip.MarketMatch, bool, error) {
	if strings.TrimSpace(match.MatchID) == "" {
		return tip.MarketMatch{}, false, fmt.Errorf("match_id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	match.SyncedAt = now
	match.UpdatedAt = now
	if match.SourceAt.IsZero() {
		match.SourceAt = now
	}

	if id, ok := s.matchByMatchID[match.MatchID]; ok {
		existing := s.matches[id]
		match.ID = existing.ID
		match.CreatedAt = existing.CreatedAt
		s.matches[id] = match
		return match, false, nil
	}

	match.ID = s.nextIDLocked()
	match.CreatedAt = now
	s.matches[match.ID] = match
	s.matchByMatchID[match.MatchID] = match.ID
	return match, true, nil
}

func (s *Store) GetMarketMatch(_ context.Context, id string) (tip.MarketMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	match, ok := s.matches[id]
	if !ok {
		return tip.MarketMatch{}, storage.ErrNotFound
	}
	return match, nil
}

func (s *Store) GetMarketMatchByMatchID(_ context.Context, matchID string) (tip.MarketMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.matchByMatchID[matchID]
	if !ok {
		return tip.MarketMatch{}, storage.ErrNotFound
	}
	return s.matches[id], nil
}

func (s *Store) ListMarketMatches(_ context.Context, filter tip.MatchFilter) ([]tip.MarketMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]tip.MarketMatch, 0, len(s.matches))
	for _, match := range s.matches {
		if filter.Status != "" && match.Status != filter.Status {
			continue
		}
		if !filter.KickoffAfter.IsZero() && match.KickoffAt.Before(filter.KickoffAfter) {
			continue
		}
		result = append(result, match)
	}
	sortMatches(result)
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *Store) ListMarketMatchesByMatchIDs(_ context.Context, matchIDs []string) ([]tip.MarketMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]tip.MarketMatch, 0, len(matchIDs))
	for _, matchID := range matchIDs {
		if id, ok := s.matchByMatchID[matchID]; ok {
			result = append(result, s.matches[id])
		}
	}
	sortMatches(result)
	return result, nil
}

func (s *Store) FinishStaleMatches(_ context.Context, cutoff time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var finished []string
	now := time.Now().UTC()
	for id, match := range s.matches {
		if match.Status == tip.MatchFinished || !match.KickoffAt.Before(cutoff) {
			continue
		}
		match.Status = tip.MatchFinished
		match.UpdatedAt = now
		s.matches[id] = match
		finished = append(finished, match.MatchID)
	}
	sort.Strings(finished)
	return finished, nil
}

func sortMatches(matches []tip.MarketMatch) {
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].KickoffAt.Equal(matches[j].KickoffAt) {
			return matches[i].MatchID < matches[j].MatchID
		}
		return matches[i].KickoffAt.Before(matches[j].KickoffAt)
	})
}

// --- QuickPurchaseStore -----------------------------------------------------

func (s *Store) CreateQuickPurchase(_ context.Context, qp tip.QuickPurchase) (tip.QuickPurchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if qp.MatchID != "" {
		if _, exists := s.quickByMatchID[qp.MatchID]; exists {
			return tip.QuickPurchase{}, storage.ErrConflict
		}
	}
	if qp.ID == "" {
		qp.ID = s.nextIDLocked()
	} else if _, exists := s.quick[qp.ID]; exists {
		return tip.QuickPurchase{}, storage.ErrConflict
	}

	now := time.Now().UTC()
	qp.CreatedAt = now
	qp.UpdatedAt = now
	qp = cloneQuickPurchase(qp)

	s.quick[qp.ID] = qp
	if qp.MatchID != "" {
		s.quickByMatchID[qp.MatchID] = qp.ID
	}
	return cloneQuickPurchase(qp), nil
}

func (s *Store) UpdateQuickPurchase(_ context.Context, qp tip.QuickPurchase) (tip.QuickPurchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.quick[qp.ID]
	if !ok {
		return tip.QuickPurchase{}, storage.ErrNotFound
	}
	if qp.MatchID != original.MatchID && qp.MatchID != "" {
		if other, exists := s.quickByMatchID[qp.MatchID]; exists && other != qp.ID {
			return tip.QuickPurchase{}, storage.ErrConflict
		}
	}

	qp.CreatedAt = original.CreatedAt
	qp.UpdatedAt = time.Now().UTC()
	qp = cloneQuickPurchase(qp)

	if original.MatchID != "" && original.MatchID != qp.MatchID {
		delete(s.quickByMatchID, original.MatchID)
	}
	s.quick[qp.ID] = qp
	if qp.MatchID != "" {
		s.quickByMatchID[qp.MatchID] = qp.ID
	}
	return cloneQuickPurchase(qp), nil
}

func (s *Store) GetQuickPurchase(_ context.Context, id string) (tip.QuickPurchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	qp, ok := s.quick[id]
	if !ok {
		return tip.QuickPurchase{}, storage.ErrNotFound
	}
	return cloneQuickPurchase(qp), nil
}

func (s *Store) GetQuickPurchaseByMatchID(_ context.Context, matchID string) (tip.QuickPurchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.quickByMatchID[matchID]
	if !ok {
		return tip.QuickPurchase{}, storage.ErrNotFound
	}
	return cloneQuickPurchase(s.quick[id]), nil
}

func (s *Store) ListQuickPurchases(_ context.Context, filter tip.Filter) ([]tip.QuickPurchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]tip.QuickPurchase, 0, len(s.quick))
	for _, qp := range s.quick {
		if filter.ActiveOnly && !qp.IsActive {
			continue
		}
		if filter.HasMatch && qp.MatchID == "" {
			continue
		}
		if filter.CountryCode != "" && qp.CountryCode != "" && !strings.EqualFold(qp.CountryCode, filter.CountryCode) {
			continue
		}
		result = append(result, cloneQuickPurchase(qp))
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *Store) DeleteQuickPurchase(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	qp, ok := s.quick[id]
	if !ok {
		return storage.ErrNotFound
	}
	delete(s.quick, id)
	if qp.MatchID != "" {
		delete(s.quickByMatchID, qp.MatchID)
	}
	return nil
}

func (s *Store) DeactivateQuickPurchases(_ context.Context, matchIDs []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	now := time.Now().UTC()
	for _, matchID := range matchIDs {
		id, ok := s.quickByMatchID[matchID]
		if !ok {
			continue
		}
		qp := s.quick[id]
		if !qp.IsActive {
			continue
		}
		qp.IsActive = false
		qp.UpdatedAt = now
		s.quick[id] = qp
		count++
	}
	return count, nil
}

func cloneQuickPurchase(qp tip.QuickPurchase) tip.QuickPurchase {
	if qp.PredictionData != nil {
		qp.PredictionData = append(json.RawMessage(nil), qp.PredictionData...)
	}
	if qp.KickoffAt != nil {
		t := *qp.KickoffAt
		qp.KickoffAt = &t
	}
	if qp.LastEnrichedAt != nil {
		t := *qp.LastEnrichedAt
		qp.LastEnrichedAt = &t
	}
	return qp
}

// --- BlogStore --------------------------------------------------------------

func (s *Store) CreatePost(_ context.Context, post blog.Post) (blog.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.posts {
		if existing.Slug == post.Slug {
			return blog.Post{}, storage.ErrConflict
		}
	}
	if post.ID == "" {
		post.ID = s.nextIDLocked()
	}
	now := time.Now().UTC()
	post.CreatedAt = now
	post.UpdatedAt = now
	post.Tags = append([]string(nil), post.Tags...)
	s.posts[post.ID] = post
	return post, nil
}

func (s *Store) UpdatePost(_ context.Context, post blog.Post) (blog.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.posts[post.ID]
	if !ok {
		return blog.Post{}, storage.ErrNotFound
	}
	for id, existing := range s.posts {
		if id != post.ID && existing.Slug == post.Slug {
			return blog.Post{}, storage.ErrConflict
		}
	}
	post.CreatedAt = original.CreatedAt
	post.UpdatedAt = time.Now().UTC()
	post.Tags = append([]string(nil), post.Tags...)
	s.posts[post.ID] = post
	return post, nil
}

func (s *Store) GetPost(_ context.Context, id string) (blog.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	post, ok := s.posts[id]
	if !ok {
		return blog.Post{}, storage.ErrNotFound
	}
	return post, nil
}

func (s *Store) GetPostBySlug(_ context.Context, slug string) (blog.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, post := range s.posts {
		if post.Slug == slug {
			return post, nil
		}
	}
	return blog.Post{}, storage.ErrNotFound
}

func (s *Store) ListPosts(_ context.Context, publishedOnly bool) ([]blog.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]blog.Post, 0, len(s.posts))
	for _, post := range s.posts {
		if publishedOnly && !post.Published {
			continue
		}
		result = append(result, post)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (s *Store) DeletePost(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.posts[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.posts, id)
	return nil
}

// --- PurchaseStore ----------------------------------------------------------

func (s *Store) UpsertUser(_ context.Context, user purchase.User) (purchase.User, error) {
	if user.Phone == "" {
		return purchase.User{}, fmt.Errorf("phone required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := s.users[user.Phone]; ok {
		if user.CountryCode != "" {
			existing.CountryCode = user.CountryCode
		}
		if user.Name != "" {
			existing.Name = user.Name
		}
		existing.UpdatedAt = now
		s.users[user.Phone] = existing
		return existing, nil
	}

	if user.ID == "" {
		user.ID = s.nextIDLocked()
	}
	user.CreatedAt = now
	user.UpdatedAt = now
	s.users[user.Phone] = user
	return user, nil
}

func (s *Store) GetUserByPhone(_ context.Context, phone string) (purchase.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[phone]
	if !ok {
		return purchase.User{}, storage.ErrNotFound
	}
	return user, nil
}

func (s *Store) CreatePurchase(_ context.Context, p purchase.Purchase) (purchase.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = s.nextIDLocked()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	s.purchases[p.ID] = p
	return p, nil
}

func (s *Store) UpdatePurchase(_ context.Context, p purchase.Purchase) (purchase.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.purchases[p.ID]
	if !ok {
		return purchase.Purchase{}, storage.ErrNotFound
	}
	p.CreatedAt = original.CreatedAt
	p.UpdatedAt = time.Now().UTC()
	s.purchases[p.ID] = p
	return p, nil
}

func (s *Store) GetPurchase(_ context.Context, id string) (purchase.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.purchases[id]
	if !ok {
		return purchase.Purchase{}, storage.ErrNotFound
	}
	return p, nil
}

func (s *Store) GetPurchaseByReference(_ context.Context, gateway, reference string) (purchase.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.purchases {
		if p.Gateway == gateway && p.Reference == reference && reference != "" {
			return p, nil
		}
	}
	return purchase.Purchase{}, storage.ErrNotFound
}

func (s *Store) ListPurchasesByUser(_ context.Context, userID string) ([]purchase.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []purchase.Purchase
	for _, p := range s.purchases {
		if p.UserID == userID {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}
