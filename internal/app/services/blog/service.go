// Package blog manages editorial posts.
package blog

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/tipsterhub/service_layer/internal/app/domain/blog"
	"github.com/tipsterhub/service_layer/internal/app/storage"
	svcerrors "github.com/tipsterhub/service_layer/internal/errors"
	"github.com/tipsterhub/service_layer/pkg/logger"
)

const maxSlugAttempts = 50

var nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)

// Service manages blog posts.
type Service struct {
	store storage.BlogStore
	log   *logger.Logger
	now   func() time.Time
}

// New constructs a blog service.
func New(store storage.BlogStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("blog")
	}
	return &Service{store: store, log: log, now: time.Now}
}

// PostInput carries editable post fields. Nil pointers leave values unchanged
// on update.
type PostInput struct {
	Title     *string  `json:"title"`
	Slug      *string  `json:"slug"`
	Excerpt   *string  `json:"excerpt"`
	Content   *string  `json:"content"`
	Author    *string  `json:"author"`
	Tags      []string `json:"tags"`
	Published *bool    `json:"published"`
}

// Slugify lowercases title and joins its alphanumeric runs with dashes.
func Slugify(title string) string {
	slug := nonSlugChars.ReplaceAllString(strings.ToLower(title), "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > 80 {
		slug = strings.TrimRight(slug[:80], "-")
	}
	return slug
}

// Create stores a post. The slug is derived from the title unless given and
// gets a numeric suffix when already taken.
func (s *Service) Create(ctx context.Context, in PostInput) (blog.Post, error) {
	post := blog.Post{}
	applyInput(&post, in)
	if post.Title == "" {
		return blog.Post{}, svcerrors.Validation("title", "title is required")
	}

	base := post.Slug
	if base == "" {
		base = Slugify(post.Title)
	} else {
		base = Slugify(base)
	}
	if base == "" {
		return blog.Post{}, svcerrors.Validation("slug", "title must contain letters or digits")
	}
	slug, err := s.uniqueSlug(ctx, base, "")
	if err != nil {
		return blog.Post{}, err
	}
	post.Slug = slug
	s.stampPublished(&post)

	created, err := s.store.CreatePost(ctx, post)
	if err != nil {
		if svcerrors.Is(err, storage.ErrConflict) {
			return blog.Post{}, svcerrors.Conflict("slug already taken")
		}
		return blog.Post{}, err
	}
	s.log.WithField("post_id", created.ID).WithField("slug", created.Slug).Info("blog post created")
	return created, nil
}

// Update applies in to an existing post. Changing the title keeps the slug;
// pass Slug explicitly to rename.
func (s *Service) Update(ctx context.Context, id string, in PostInput) (blog.Post, error) {
	post, err := s.store.GetPost(ctx, id)
	if err != nil {
		return blog.Post{}, err
	}
	oldSlug := post.Slug
	applyInput(&post, in)
	if post.Title == "" {
		return blog.Post{}, svcerrors.Validation("title", "title is required")
	}
	if in.Slug != nil {
		base := Slugify(*in.Slug)
		if base == "" {
			return blog.Post{}, svcerrors.Validation("slug", "slug must contain letters or digits")
		}
		if base != oldSlug {
			if post.Slug, err = s.uniqueSlug(ctx, base, post.ID); err != nil {
				return blog.Post{}, err
			}
		} else {
			post.Slug = oldSlug
		}
	}
	s.stampPublished(&post)

	updated, err := s.store.UpdatePost(ctx, post)
	if err != nil {
		if svcerrors.Is(err, storage.ErrConflict) {
			return blog.Post{}, svcerrors.Conflict("slug already taken")
		}
		return blog.Post{}, err
	}
	s.log.WithField("post_id", updated.ID).Info("blog post updated")
	return updated, nil
}

// Publish sets or clears the published flag.
func (s *Service) Publish(ctx context.Context, id string, published bool) (blog.Post, error) {
	return s.Update(ctx, id, PostInput{Published: &published})
}

func (s *Service) Get(ctx context.Context, id string) (blog.Post, error) {
	return s.store.GetPost(ctx, id)
}

// GetBySlug returns a post by slug; unpublished posts are hidden unless
// includeDrafts is set.
func (s *Service) GetBySlug(ctx context.Context, slug string, includeDrafts bool) (blog.Post, error) {
	post, err := s.store.GetPostBySlug(ctx, strings.ToLower(strings.TrimSpace(slug)))
	if err != nil {
		return blog.Post{}, err
	}
	if !post.Published && !includeDrafts {
		return blog.Post{}, storage.ErrNotFound
	}
	return post, nil
}

func (s *Service) List(ctx context.Context, publishedOnly bool) ([]blog.Post, error) {
	return s.store.ListPosts(ctx, publishedOnly)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeletePost(ctx, id); err != nil {
		return err
	}
	s.log.WithField("post_id", id).Info("blog post deleted")
	return nil
}

func (s *Service) uniqueSlug(ctx context.Context, base, selfID string) (string, error) {
	candidate := base
	for i := 2; i <= maxSlugAttempts+1; i++ {
		existing, err := s.store.GetPostBySlug(ctx, candidate)
		if svcerrors.Is(err, storage.ErrNotFound) {
			return candidate, nil
		}
		if err != nil {
			return "", err
		}
		if existing.ID == selfID {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, i)
	}
	return "", svcerrors.Conflict("could not allocate a unique slug")
}

func (s *Service) stampPublished(post *blog.Post) {
	switch {
	case post.Published && post.PublishedAt == nil:
		now := s.now().UTC()
		post.PublishedAt = &now
	case !post.Published:
		post.PublishedAt = nil
	}
}

func applyInput(post *blog.Post, in PostInput) {
	if in.Title != nil {
		post.Title = strings.TrimSpace(*in.Title)
	}
	if in.Slug != nil {
		post.Slug = strings.TrimSpace(*in.Slug)
	}
	if in.Excerpt != nil {
		post.Excerpt = strings.TrimSpace(*in.Excerpt)
	}
	if in.Content != nil {
		post.Content = *in.Content
	}
	if in.Author != nil {
		post.Author = strings.TrimSpace(*in.Author)
	}
	if in.Tags != nil {
		tags := make([]string, 0, len(in.Tags))
		seen := make(map[string]bool, len(in.Tags))
		for _, tag := range in.Tags {
			tag = strings.ToLower(strings.TrimSpace(tag))
			if tag == "" || seen[tag] {
				continue
			}
			seen[tag] = true
			tags = append(tags, tag)
		}
		post.Tags = tags
	}
	if in.Published != nil {
		post.Published = *in.Published
	}
}
