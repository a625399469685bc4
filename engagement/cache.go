// Package engagement owns the local view of posts and the current user's
// like flags. Likes are applied optimistically and confirmed in the
// background; a failed confirmation reverts the local change.
package engagement

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/golang/glog"
	"masterboxer.com/engagement-sync/metrics"
	"masterboxer.com/engagement-sync/models"
	"masterboxer.com/engagement-sync/store"
)

var ErrPostNotFound = errors.New("engagement: post not loaded")

type Notifier interface {
	PostLiked(ctx context.Context, post models.Post, liker models.Author)
}

// FailureHandler observes like toggles whose remote confirmation failed,
// after the local state has been reverted.
type FailureHandler func(postID string, err error)

type Option func(*Cache)

func WithNotifier(n Notifier) Option {
	return func(c *Cache) { c.notifier = n }
}

func WithFailureHandler(fn FailureHandler) Option {
	return func(c *Cache) { c.onFailure = fn }
}

// Toggle is the optimistic result of ToggleLike. Done receives the remote
// outcome exactly once: nil when confirmed, the store error after rollback.
type Toggle struct {
	PostID     string
	UserID     string
	Liked      bool
	LikesCount int
	Done       <-chan error
}

type Cache struct {
	store     store.Store
	notifier  Notifier
	onFailure FailureHandler

	mu    sync.Mutex
	posts map[string]*models.Post
	order []string
	// like flags by post id, then user id
	liked map[string]map[string]bool
	// comment counts pushed before the post itself was loaded
	pendingCommentCounts map[string]int
}

func New(s store.Store, opts ...Option) *Cache {
	c := &Cache{
		store:                s,
		posts:                map[string]*models.Post{},
		liked:                map[string]map[string]bool{},
		pendingCommentCounts: map[string]int{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Upsert adds or replaces posts delivered by feed loading.
func (c *Cache) Upsert(posts ...models.Post) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range posts {
		if count, ok := c.pendingCommentCounts[p.ID]; ok {
			p.CommentsCount = count
			delete(c.pendingCommentCounts, p.ID)
		}
		if _, ok := c.posts[p.ID]; !ok {
			c.order = append(c.order, p.ID)
		}
		c.posts[p.ID] = &p
	}
}

// MarkLiked sets a user's like flag baseline without touching counters.
func (c *Cache) MarkLiked(userID, postID string, liked bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLiked(userID, postID, liked)
}

// setLiked writes one flag. Caller holds mu.
func (c *Cache) setLiked(userID, postID string, liked bool) {
	users, ok := c.liked[postID]
	if !ok {
		users = map[string]bool{}
		c.liked[postID] = users
	}
	if liked {
		users[userID] = true
		return
	}
	delete(users, userID)
}

func (c *Cache) IsLiked(userID, postID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liked[postID][userID]
}

// Post returns a post as seen by userID.
func (c *Cache) Post(userID, postID string) (models.PostWithEngagement, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.posts[postID]
	if !ok {
		return models.PostWithEngagement{}, false
	}
	return models.PostWithEngagement{Post: *p, IsLikedByUser: c.liked[postID][userID]}, true
}

// PostOwner returns the author id of a loaded post.
func (c *Cache) PostOwner(postID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.posts[postID]
	if !ok {
		return "", false
	}
	return p.AuthorID, true
}

// Posts returns every loaded post in load order, as seen by userID.
func (c *Cache) Posts(userID string) []models.PostWithEngagement {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.PostWithEngagement, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, models.PostWithEngagement{Post: *c.posts[id], IsLikedByUser: c.liked[id][userID]})
	}
	return out
}

// Fetch reads a post from the remote store into the cache.
func (c *Cache) Fetch(ctx context.Context, postID string) (models.Post, error) {
	record, err := c.store.GetByID(ctx, store.CollectionPosts, postID)
	if errors.Is(err, store.ErrNotFound) {
		return models.Post{}, fmt.Errorf("post %s: %w", postID, ErrPostNotFound)
	} else if err != nil {
		return models.Post{}, err
	}
	var post models.Post
	if err := record.DataTo(&post); err != nil {
		return models.Post{}, err
	}
	post.ID = record.ID
	c.Upsert(post)
	return post, nil
}

// ToggleLike flips liker's like flag and adjusts the shared counter
// immediately, then confirms the change with an increment on the remote
// post. It never blocks on the remote call.
func (c *Cache) ToggleLike(ctx context.Context, liker models.Author, postID string) (Toggle, error) {
	c.mu.Lock()
	post, ok := c.posts[postID]
	if !ok {
		c.mu.Unlock()
		return Toggle{}, fmt.Errorf("post %s: %w", postID, ErrPostNotFound)
	}
	userID := liker.UserID
	wasLiked := c.liked[postID][userID]
	delta := 1
	if wasLiked {
		delta = -1
	}
	before := post.LikesCount
	post.LikesCount = max(0, before+delta)
	applied := post.LikesCount - before
	c.setLiked(userID, postID, !wasLiked)
	toggle := Toggle{PostID: postID, UserID: userID, Liked: !wasLiked, LikesCount: post.LikesCount}
	c.mu.Unlock()

	glog.V(1).Infof("[Engagement] toggle like post=%s user=%s delta=%d likes=%d", postID, userID, delta, toggle.LikesCount)

	done := make(chan error, 1)
	toggle.Done = done
	go c.confirm(context.WithoutCancel(ctx), liker, postID, wasLiked, delta, applied, done)
	return toggle, nil
}

func (c *Cache) confirm(ctx context.Context, liker models.Author, postID string, wasLiked bool, delta, applied int, done chan<- error) {
	defer close(done)

	err := c.store.UpdateFields(ctx, store.CollectionPosts, postID, store.Fields{
		"likesCount": store.Increment(delta),
	})
	if err != nil {
		c.rollback(liker.UserID, postID, wasLiked, applied)
		glog.Errorf("[Engagement] like toggle for post %s by %s failed, reverted: %v", postID, liker.UserID, err)
		metrics.LikeToggles.WithLabelValues(metrics.EntityPost, metrics.ResultFailed).Inc()
		metrics.Rollbacks.WithLabelValues(metrics.EntityPost).Inc()
		if c.onFailure != nil {
			c.onFailure(postID, err)
		}
		done <- err
		return
	}

	result := metrics.ResultUnliked
	if delta > 0 {
		result = metrics.ResultLiked
		if c.notifier != nil {
			if post, ok := c.Post(liker.UserID, postID); ok {
				c.notifier.PostLiked(ctx, post.Post, liker)
			}
		}
	}
	metrics.LikeToggles.WithLabelValues(metrics.EntityPost, result).Inc()
	done <- nil
}

func (c *Cache) rollback(userID, postID string, wasLiked bool, applied int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLiked(userID, postID, wasLiked)
	if post, ok := c.posts[postID]; ok {
		post.LikesCount = max(0, post.LikesCount-applied)
	}
}

// UpdateCommentsCount overwrites a post's comment counter. The comment cache
// is its only caller.
func (c *Cache) UpdateCommentsCount(postID string, count int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	post, ok := c.posts[postID]
	if !ok {
		c.pendingCommentCounts[postID] = count
		return
	}
	post.CommentsCount = count
}
