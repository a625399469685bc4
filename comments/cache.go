// Package comments owns the per-post comment sequences, comment like state,
// and the comment counters pushed to the engagement cache.
//
// Comments come in two kinds. Persisted comments have a remote record and
// their like state is mirrored from commentLikes records. Ephemeral comments
// come from seed content, have no remote record, and their local likesCount
// and likedByUserIds are the only truth.
package comments

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"golang.org/x/crypto/blake2b"
	"masterboxer.com/engagement-sync/metrics"
	"masterboxer.com/engagement-sync/models"
	"masterboxer.com/engagement-sync/seed"
	"masterboxer.com/engagement-sync/store"
)

var (
	ErrEmptyContent     = errors.New("comments: content is empty")
	ErrCommentNotFound  = errors.New("comments: comment not found")
	ErrEphemeralComment = errors.New("comments: seed comments cannot be deleted")
)

type State int

const (
	Unloaded State = iota
	Loading
	Loaded
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	}
	return "unloaded"
}

// CommentCounter receives the comment count of a post whenever the local
// sequence changes. Implemented by *engagement.Cache.
type CommentCounter interface {
	UpdateCommentsCount(postID string, count int)
}

type Notifier interface {
	CommentAdded(ctx context.Context, comment models.Comment)
}

type Option func(*Cache)

func WithNotifier(n Notifier) Option {
	return func(c *Cache) { c.notifier = n }
}

func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

type Cache struct {
	store    store.Store
	seed     seed.Provider
	counter  CommentCounter
	notifier Notifier
	now      func() time.Time

	mu       sync.Mutex
	states   map[string]State
	comments map[string][]models.Comment
	// like records of persisted comments, keyed by pairKey
	likes map[string]models.CommentLike
	// writes made while a load of the post is in flight
	loading map[string][]*loadJournal
}

// loadJournal records local writes that a load's remote snapshot may not
// include yet.
type loadJournal struct {
	added   []models.Comment
	deleted map[string]bool
}

func New(s store.Store, seeds seed.Provider, counter CommentCounter, opts ...Option) *Cache {
	c := &Cache{
		store:    s,
		seed:     seeds,
		counter:  counter,
		now:      time.Now,
		states:   map[string]State{},
		comments: map[string][]models.Comment{},
		likes:    map[string]models.CommentLike{},
		loading:  map[string][]*loadJournal{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func pairKey(commentID, userID string) string {
	return commentID + "\x00" + userID
}

// likeRecordID derives the remote id of the like record for a pair, so a
// second create for the same pair collides instead of duplicating.
func likeRecordID(commentID, userID string) string {
	sum := blake2b.Sum256([]byte(pairKey(commentID, userID)))
	return hex.EncodeToString(sum[:16])
}

func (c *Cache) State(postID string) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.states[postID]
}

// Comments returns a copy of the post's sequence, newest first.
func (c *Cache) Comments(postID string) []models.Comment {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneAll(c.comments[postID])
}

func (c *Cache) seedComments(postID string) []models.Comment {
	if c.seed == nil {
		return nil
	}
	return c.seed.Comments(postID)
}

// LoadComments fetches the post's comments from the remote store, falling
// back to seed content when there are none or the query fails. It never
// returns an error: a failed load leaves the post Loaded with whatever
// fallback exists.
func (c *Cache) LoadComments(ctx context.Context, postID string) []models.Comment {
	journal := &loadJournal{deleted: map[string]bool{}}
	c.mu.Lock()
	c.states[postID] = Loading
	c.loading[postID] = append(c.loading[postID], journal)
	c.mu.Unlock()

	var loaded []models.Comment
	var likes []models.CommentLike
	records, err := c.store.QueryByField(ctx, store.CollectionComments, "postId", postID)
	if err != nil {
		glog.Errorf("[Comments] load post=%s failed, using fallback: %v", postID, err)
		metrics.CommentOps.WithLabelValues("load", metrics.ResultFailed).Inc()
		loaded = c.seedComments(postID)
	} else {
		loaded = decodeComments(records)
		if len(loaded) == 0 {
			loaded = c.seedComments(postID)
		} else {
			likes = c.loadLikes(ctx, postID)
		}
		metrics.CommentOps.WithLabelValues("load", metrics.ResultOK).Inc()
	}

	c.mu.Lock()
	c.endLoad(postID, journal)
	loaded = journal.merge(loaded)
	sort.SliceStable(loaded, func(i, j int) bool {
		return loaded[i].CreatedAt.After(loaded[j].CreatedAt)
	})
	for key, like := range c.likes {
		if like.PostID == postID {
			delete(c.likes, key)
		}
	}
	for _, like := range likes {
		c.likes[pairKey(like.CommentID, like.UserID)] = like
	}
	c.comments[postID] = loaded
	c.states[postID] = Loaded
	count := len(loaded)
	out := cloneAll(loaded)
	c.mu.Unlock()

	glog.V(1).Infof("[Comments] loaded post=%s count=%d", postID, count)
	c.counter.UpdateCommentsCount(postID, count)
	return out
}

// endLoad detaches journal from the post. Caller holds mu.
func (c *Cache) endLoad(postID string, journal *loadJournal) {
	journals := c.loading[postID]
	for i, j := range journals {
		if j == journal {
			journals = append(journals[:i:i], journals[i+1:]...)
			break
		}
	}
	if len(journals) == 0 {
		delete(c.loading, postID)
		return
	}
	c.loading[postID] = journals
}

// journalAdd and journalDelete record a write in every in-flight load of
// the post. Caller holds mu.
func (c *Cache) journalAdd(postID string, comment models.Comment) {
	for _, j := range c.loading[postID] {
		j.added = append(j.added, comment)
	}
}

func (c *Cache) journalDelete(postID, commentID string) {
	for _, j := range c.loading[postID] {
		j.deleted[commentID] = true
	}
}

// merge applies the journaled writes to a loaded snapshot.
func (j *loadJournal) merge(loaded []models.Comment) []models.Comment {
	if len(j.added) == 0 && len(j.deleted) == 0 {
		return loaded
	}
	merged := make([]models.Comment, 0, len(loaded)+len(j.added))
	present := map[string]bool{}
	for _, comment := range loaded {
		if j.deleted[comment.ID] {
			continue
		}
		present[comment.ID] = true
		merged = append(merged, comment)
	}
	for _, comment := range j.added {
		if j.deleted[comment.ID] || present[comment.ID] {
			continue
		}
		merged = append(merged, comment)
	}
	return merged
}

func decodeComments(records []store.Record) []models.Comment {
	comments := make([]models.Comment, 0, len(records))
	for _, record := range records {
		var comment models.Comment
		if err := record.DataTo(&comment); err != nil {
			glog.Warningf("[Comments] skipping undecodable comment %s: %v", record.ID, err)
			continue
		}
		comment.ID = record.ID
		comment.Provenance = models.ProvenancePersisted
		comments = append(comments, comment)
	}
	return comments
}

func (c *Cache) loadLikes(ctx context.Context, postID string) []models.CommentLike {
	records, err := c.store.QueryByField(ctx, store.CollectionCommentLikes, "postId", postID)
	if err != nil {
		glog.Warningf("[Comments] like index for post=%s unavailable: %v", postID, err)
		return nil
	}
	likes := make([]models.CommentLike, 0, len(records))
	for _, record := range records {
		var like models.CommentLike
		if err := record.DataTo(&like); err != nil {
			glog.Warningf("[Comments] skipping undecodable like %s: %v", record.ID, err)
			continue
		}
		like.ID = record.ID
		likes = append(likes, like)
	}
	return likes
}

// AddComment persists a new comment and prepends it to the post's sequence.
// Nothing is applied locally unless the remote write succeeds.
func (c *Cache) AddComment(ctx context.Context, postID, content string, author models.Author) (models.Comment, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return models.Comment{}, ErrEmptyContent
	}

	comment := models.Comment{
		PostID:         postID,
		UserID:         author.UserID,
		AuthorName:     author.DisplayName,
		AuthorPhotoURL: author.PhotoURL,
		Content:        content,
		LikesCount:     0,
		CreatedAt:      c.now().UTC(),
		Provenance:     models.ProvenancePersisted,
	}
	id, err := c.store.Create(ctx, store.CollectionComments, commentFields(comment))
	if err != nil {
		metrics.CommentOps.WithLabelValues("add", metrics.ResultFailed).Inc()
		return models.Comment{}, fmt.Errorf("add comment to post %s: %w", postID, err)
	}
	comment.ID = id

	c.mu.Lock()
	c.comments[postID] = append([]models.Comment{comment}, c.comments[postID]...)
	c.journalAdd(postID, comment)
	count := len(c.comments[postID])
	c.mu.Unlock()

	metrics.CommentOps.WithLabelValues("add", metrics.ResultOK).Inc()
	glog.V(1).Infof("[Comments] added comment=%s post=%s count=%d", id, postID, count)
	c.counter.UpdateCommentsCount(postID, count)
	if c.notifier != nil {
		c.notifier.CommentAdded(ctx, comment)
	}
	return comment.Clone(), nil
}

// DeleteComment removes a persisted comment remotely, then locally. On
// failure the local sequence is left as it was.
func (c *Cache) DeleteComment(ctx context.Context, commentID, postID string) error {
	c.mu.Lock()
	if i := indexOf(c.comments[postID], commentID); i >= 0 && c.comments[postID][i].Ephemeral() {
		c.mu.Unlock()
		return fmt.Errorf("comment %s: %w", commentID, ErrEphemeralComment)
	}
	c.mu.Unlock()

	if err := c.store.DeleteByID(ctx, store.CollectionComments, commentID); err != nil {
		metrics.CommentOps.WithLabelValues("delete", metrics.ResultFailed).Inc()
		return fmt.Errorf("delete comment %s: %w", commentID, err)
	}

	c.mu.Lock()
	sequence := c.comments[postID]
	if i := indexOf(sequence, commentID); i >= 0 {
		c.comments[postID] = append(sequence[:i:i], sequence[i+1:]...)
	}
	for key, like := range c.likes {
		if like.CommentID == commentID {
			delete(c.likes, key)
		}
	}
	c.journalDelete(postID, commentID)
	count := len(c.comments[postID])
	c.mu.Unlock()

	metrics.CommentOps.WithLabelValues("delete", metrics.ResultOK).Inc()
	c.counter.UpdateCommentsCount(postID, count)
	return nil
}

// ToggleCommentLike likes or unlikes a comment for userID and returns the
// new liked state.
//
// Ephemeral comments toggle locally. Persisted comments are checked
// remotely first; when the remote record is gone the local mirror is stale
// and the toggle degrades to the local path. Otherwise the like record and
// the counter change commit together in one batch, and local state is only
// touched after that batch succeeds.
func (c *Cache) ToggleCommentLike(ctx context.Context, commentID, userID, postID string) (bool, error) {
	c.mu.Lock()
	i := indexOf(c.comments[postID], commentID)
	if i < 0 {
		c.mu.Unlock()
		return false, fmt.Errorf("comment %s on post %s: %w", commentID, postID, ErrCommentNotFound)
	}
	ephemeral := c.comments[postID][i].Ephemeral()
	c.mu.Unlock()

	if ephemeral {
		return c.toggleLocal(commentID, userID, postID), nil
	}

	if _, err := c.store.GetByID(ctx, store.CollectionComments, commentID); errors.Is(err, store.ErrNotFound) {
		glog.Warningf("[Comments] comment=%s has no remote record, toggling locally", commentID)
		return c.toggleLocal(commentID, userID, postID), nil
	} else if err != nil {
		metrics.LikeToggles.WithLabelValues(metrics.EntityComment, metrics.ResultFailed).Inc()
		return false, fmt.Errorf("check comment %s: %w", commentID, err)
	}

	existing, err := c.findLike(ctx, commentID, userID)
	if err != nil {
		metrics.LikeToggles.WithLabelValues(metrics.EntityComment, metrics.ResultFailed).Inc()
		return false, fmt.Errorf("query likes of comment %s: %w", commentID, err)
	}

	if existing != nil {
		err = c.store.Batch(ctx,
			store.DeleteOp(store.CollectionCommentLikes, existing.ID),
			store.UpdateOp(store.CollectionComments, commentID, store.Fields{"likesCount": store.Increment(-1)}),
		)
		if err != nil {
			metrics.LikeToggles.WithLabelValues(metrics.EntityComment, metrics.ResultFailed).Inc()
			return false, fmt.Errorf("unlike comment %s: %w", commentID, err)
		}
		c.applyRemoteToggle(postID, commentID, userID, nil)
		metrics.LikeToggles.WithLabelValues(metrics.EntityComment, metrics.ResultUnliked).Inc()
		return false, nil
	}

	like := models.CommentLike{
		ID:        likeRecordID(commentID, userID),
		CommentID: commentID,
		PostID:    postID,
		UserID:    userID,
		CreatedAt: c.now().UTC(),
	}
	err = c.store.Batch(ctx,
		store.CreateOp(store.CollectionCommentLikes, like.ID, likeFields(like)),
		store.UpdateOp(store.CollectionComments, commentID, store.Fields{"likesCount": store.Increment(1)}),
	)
	if err != nil {
		metrics.LikeToggles.WithLabelValues(metrics.EntityComment, metrics.ResultFailed).Inc()
		return false, fmt.Errorf("like comment %s: %w", commentID, err)
	}
	c.applyRemoteToggle(postID, commentID, userID, &like)
	metrics.LikeToggles.WithLabelValues(metrics.EntityComment, metrics.ResultLiked).Inc()
	return true, nil
}

func (c *Cache) findLike(ctx context.Context, commentID, userID string) (*models.CommentLike, error) {
	records, err := c.store.QueryByField(ctx, store.CollectionCommentLikes, "commentId", commentID)
	if err != nil {
		return nil, err
	}
	for _, record := range records {
		var like models.CommentLike
		if err := record.DataTo(&like); err != nil {
			return nil, err
		}
		if like.UserID == userID {
			like.ID = record.ID
			return &like, nil
		}
	}
	return nil, nil
}

// applyRemoteToggle mirrors a committed like (like != nil) or unlike.
func (c *Cache) applyRemoteToggle(postID, commentID, userID string, like *models.CommentLike) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := pairKey(commentID, userID)
	delta := -1
	if like != nil {
		delta = 1
		c.likes[key] = *like
	} else {
		delete(c.likes, key)
	}

	sequence := c.comments[postID]
	if i := indexOf(sequence, commentID); i >= 0 {
		sequence[i].LikesCount = max(0, sequence[i].LikesCount+delta)
	}
}

func (c *Cache) toggleLocal(commentID, userID, postID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	sequence := c.comments[postID]
	i := indexOf(sequence, commentID)
	if i < 0 {
		return false
	}
	comment := &sequence[i]

	liked := !comment.LikedBy(userID)
	if liked {
		comment.LikedByUserIDs = append(comment.LikedByUserIDs, userID)
		comment.LikesCount++
	} else {
		kept := comment.LikedByUserIDs[:0:0]
		for _, id := range comment.LikedByUserIDs {
			if id != userID {
				kept = append(kept, id)
			}
		}
		comment.LikedByUserIDs = kept
		comment.LikesCount = max(0, comment.LikesCount-1)
	}

	result := metrics.ResultUnliked
	if liked {
		result = metrics.ResultLiked
	}
	metrics.LikeToggles.WithLabelValues(metrics.EntityComment, result).Inc()
	return liked
}

// IsCommentLiked answers from local state only.
func (c *Cache) IsCommentLiked(commentID, userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.likes[pairKey(commentID, userID)]; ok {
		return true
	}
	for _, sequence := range c.comments {
		if i := indexOf(sequence, commentID); i >= 0 {
			return sequence[i].LikedBy(userID)
		}
	}
	return false
}

func indexOf(sequence []models.Comment, commentID string) int {
	for i := range sequence {
		if sequence[i].ID == commentID {
			return i
		}
	}
	return -1
}

func cloneAll(sequence []models.Comment) []models.Comment {
	out := make([]models.Comment, len(sequence))
	for i, comment := range sequence {
		out[i] = comment.Clone()
	}
	return out
}

func commentFields(c models.Comment) store.Fields {
	return store.Fields{
		"postId":         c.PostID,
		"userId":         c.UserID,
		"authorName":     c.AuthorName,
		"authorPhotoUrl": c.AuthorPhotoURL,
		"content":        c.Content,
		"likesCount":     c.LikesCount,
		"createdAt":      c.CreatedAt,
	}
}

func likeFields(l models.CommentLike) store.Fields {
	return store.Fields{
		"commentId": l.CommentID,
		"postId":    l.PostID,
		"userId":    l.UserID,
		"createdAt": l.CreatedAt,
	}
}
