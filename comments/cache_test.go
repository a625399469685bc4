package comments

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"masterboxer.com/engagement-sync/engagement"
	"masterboxer.com/engagement-sync/models"
	"masterboxer.com/engagement-sync/seed"
	"masterboxer.com/engagement-sync/store"
)

var errUnavailable = errors.New("remote unavailable")

type countRecorder struct {
	mu     sync.Mutex
	counts map[string]int
	pushes int
}

func (r *countRecorder) UpdateCommentsCount(postID string, count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = map[string]int{}
	}
	r.counts[postID] = count
	r.pushes++
}

func (r *countRecorder) count(postID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[postID]
}

var (
	day1 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	day2 = day1.Add(24 * time.Hour)
	day3 = day2.Add(24 * time.Hour)
)

func seedProvider() *seed.Static {
	return seed.NewStatic(map[string][]models.Comment{
		"P": {
			{ID: "c1", UserID: "seed_team", AuthorName: "Team", Content: "Welcome!", CreatedAt: day1},
		},
	})
}

func newTestCache(t *testing.T) (*Cache, *store.Memory, *countRecorder) {
	t.Helper()
	mem := store.NewMemory()
	counter := &countRecorder{}
	c := New(mem, seedProvider(), counter, WithClock(func() time.Time { return day3 }))
	return c, mem, counter
}

func putComment(mem *store.Memory, id, postID, userID, content string, likes int, at time.Time) {
	mem.Put(store.CollectionComments, id, store.Fields{
		"postId":     postID,
		"userId":     userID,
		"authorName": userID,
		"content":    content,
		"likesCount": likes,
		"createdAt":  at,
	})
}

func remoteCommentLikes(t *testing.T, mem *store.Memory, id string) int {
	t.Helper()
	record, err := mem.GetByID(context.Background(), store.CollectionComments, id)
	require.NoError(t, err)
	var comment models.Comment
	require.NoError(t, record.DataTo(&comment))
	return comment.LikesCount
}

func TestLoadComments_FallsBackToSeedWhenEmpty(t *testing.T) {
	c, _, counter := newTestCache(t)
	assert.Equal(t, Unloaded, c.State("P"))

	loaded := c.LoadComments(context.Background(), "P")
	require.Len(t, loaded, 1)
	assert.Equal(t, "c1", loaded[0].ID)
	assert.True(t, loaded[0].Ephemeral())
	assert.Equal(t, Loaded, c.State("P"))
	assert.Equal(t, 1, counter.count("P"))
}

func TestLoadComments_FallsBackToSeedOnFailure(t *testing.T) {
	c, mem, counter := newTestCache(t)
	putComment(mem, "k1", "P", "u2", "remote", 0, day2)
	mem.FailNext(store.MethodQueryByField, errUnavailable)

	loaded := c.LoadComments(context.Background(), "P")
	require.Len(t, loaded, 1)
	assert.Equal(t, "c1", loaded[0].ID)
	assert.Equal(t, Loaded, c.State("P"))
	assert.Equal(t, 1, counter.count("P"))
}

func TestLoadComments_NoSeedNoRemote(t *testing.T) {
	c, _, counter := newTestCache(t)

	loaded := c.LoadComments(context.Background(), "other")
	assert.Empty(t, loaded)
	assert.Equal(t, Loaded, c.State("other"))
	assert.Equal(t, 1, counter.pushes)
	assert.Equal(t, 0, counter.count("other"))
}

func TestLoadComments_NewestFirstAndPersisted(t *testing.T) {
	c, mem, _ := newTestCache(t)
	putComment(mem, "old", "P", "u1", "first", 0, day1)
	putComment(mem, "new", "P", "u2", "second", 2, day2)
	putComment(mem, "elsewhere", "Q", "u3", "other post", 0, day3)

	loaded := c.LoadComments(context.Background(), "P")
	require.Len(t, loaded, 2)
	assert.Equal(t, "new", loaded[0].ID)
	assert.Equal(t, "old", loaded[1].ID)
	assert.Equal(t, 2, loaded[0].LikesCount)
	for _, comment := range loaded {
		assert.False(t, comment.Ephemeral(), "remote comments are always persisted")
	}
}

func TestLoadComments_RemoteSeedAuthorStaysPersisted(t *testing.T) {
	c, mem, _ := newTestCache(t)
	putComment(mem, "k1", "P", "seed_team", "copied from seed", 0, day1)

	loaded := c.LoadComments(context.Background(), "P")
	require.Len(t, loaded, 1)
	assert.False(t, loaded[0].Ephemeral())
}

func TestToggleCommentLike_EphemeralStaysLocal(t *testing.T) {
	c, mem, _ := newTestCache(t)
	c.LoadComments(context.Background(), "P")
	callsAfterLoad := mem.TotalCalls()

	liked, err := c.ToggleCommentLike(context.Background(), "c1", "u1", "P")
	require.NoError(t, err)
	assert.True(t, liked)
	comment := c.Comments("P")[0]
	assert.Equal(t, 1, comment.LikesCount)
	assert.Equal(t, []string{"u1"}, comment.LikedByUserIDs)
	assert.True(t, c.IsCommentLiked("c1", "u1"))

	liked, err = c.ToggleCommentLike(context.Background(), "c1", "u1", "P")
	require.NoError(t, err)
	assert.False(t, liked)
	comment = c.Comments("P")[0]
	assert.Equal(t, 0, comment.LikesCount)
	assert.Empty(t, comment.LikedByUserIDs)
	assert.False(t, c.IsCommentLiked("c1", "u1"))

	assert.Equal(t, callsAfterLoad, mem.TotalCalls(), "seed comments never touch the remote store")
}

func TestToggleCommentLike_EphemeralWithExistingLikes(t *testing.T) {
	mem := store.NewMemory()
	seeds := seed.NewStatic(map[string][]models.Comment{
		"P5": {{ID: "C1", UserID: "seed_team", LikesCount: 2, LikedByUserIDs: []string{}}},
	})
	c := New(mem, seeds, &countRecorder{})
	c.LoadComments(context.Background(), "P5")
	calls := mem.TotalCalls()

	liked, err := c.ToggleCommentLike(context.Background(), "C1", "u9", "P5")
	require.NoError(t, err)
	assert.True(t, liked)
	comment := c.Comments("P5")[0]
	assert.Equal(t, 3, comment.LikesCount)
	assert.Equal(t, []string{"u9"}, comment.LikedByUserIDs)
	assert.Equal(t, calls, mem.TotalCalls())
}

func TestToggleCommentLike_PersistedRoundTrip(t *testing.T) {
	c, mem, _ := newTestCache(t)
	putComment(mem, "k1", "P", "u2", "remote", 0, day1)
	c.LoadComments(context.Background(), "P")

	liked, err := c.ToggleCommentLike(context.Background(), "k1", "u1", "P")
	require.NoError(t, err)
	assert.True(t, liked)
	assert.Equal(t, 1, c.Comments("P")[0].LikesCount)
	assert.Equal(t, 1, remoteCommentLikes(t, mem, "k1"))
	assert.Equal(t, 1, mem.Len(store.CollectionCommentLikes))
	assert.True(t, c.IsCommentLiked("k1", "u1"))
	assert.False(t, c.IsCommentLiked("k1", "u2"))

	liked, err = c.ToggleCommentLike(context.Background(), "k1", "u1", "P")
	require.NoError(t, err)
	assert.False(t, liked)
	assert.Equal(t, 0, c.Comments("P")[0].LikesCount)
	assert.Equal(t, 0, remoteCommentLikes(t, mem, "k1"))
	assert.Equal(t, 0, mem.Len(store.CollectionCommentLikes))
	assert.False(t, c.IsCommentLiked("k1", "u1"))

	assert.Equal(t, 2, mem.Calls(store.MethodBatch))
}

func TestToggleCommentLike_LikeIndexSurvivesReload(t *testing.T) {
	c, mem, _ := newTestCache(t)
	putComment(mem, "k1", "P", "u2", "remote", 0, day1)
	c.LoadComments(context.Background(), "P")
	_, err := c.ToggleCommentLike(context.Background(), "k1", "u1", "P")
	require.NoError(t, err)

	fresh := New(mem, seedProvider(), &countRecorder{})
	fresh.LoadComments(context.Background(), "P")
	assert.True(t, fresh.IsCommentLiked("k1", "u1"))
	assert.Equal(t, 1, fresh.Comments("P")[0].LikesCount)
}

func TestToggleCommentLike_StaleRecordDegradesToLocal(t *testing.T) {
	c, mem, _ := newTestCache(t)
	putComment(mem, "k1", "P", "u2", "remote", 3, day1)
	c.LoadComments(context.Background(), "P")
	require.NoError(t, mem.DeleteByID(context.Background(), store.CollectionComments, "k1"))

	liked, err := c.ToggleCommentLike(context.Background(), "k1", "u1", "P")
	require.NoError(t, err)
	assert.True(t, liked)
	comment := c.Comments("P")[0]
	assert.Equal(t, 4, comment.LikesCount)
	assert.True(t, comment.LikedBy("u1"))
	assert.Equal(t, 0, mem.Calls(store.MethodBatch))
	assert.Equal(t, 0, mem.Len(store.CollectionCommentLikes))
}

func TestToggleCommentLike_BatchFailureLeavesStateIntact(t *testing.T) {
	c, mem, _ := newTestCache(t)
	putComment(mem, "k1", "P", "u2", "remote", 5, day1)
	c.LoadComments(context.Background(), "P")
	mem.FailNext(store.MethodBatch, errUnavailable)

	_, err := c.ToggleCommentLike(context.Background(), "k1", "u1", "P")
	assert.ErrorIs(t, err, errUnavailable)
	assert.Equal(t, 5, c.Comments("P")[0].LikesCount)
	assert.False(t, c.IsCommentLiked("k1", "u1"))
	assert.Equal(t, 5, remoteCommentLikes(t, mem, "k1"))
	assert.Equal(t, 0, mem.Len(store.CollectionCommentLikes))
}

func TestToggleCommentLike_LookupFailurePropagates(t *testing.T) {
	c, mem, _ := newTestCache(t)
	putComment(mem, "k1", "P", "u2", "remote", 0, day1)
	c.LoadComments(context.Background(), "P")
	mem.FailNext(store.MethodGetByID, errUnavailable)

	_, err := c.ToggleCommentLike(context.Background(), "k1", "u1", "P")
	assert.ErrorIs(t, err, errUnavailable)
	assert.Equal(t, 0, c.Comments("P")[0].LikesCount)
}

func TestToggleCommentLike_UnknownComment(t *testing.T) {
	c, _, _ := newTestCache(t)
	c.LoadComments(context.Background(), "P")

	_, err := c.ToggleCommentLike(context.Background(), "missing", "u1", "P")
	assert.ErrorIs(t, err, ErrCommentNotFound)
}

func TestAddComment(t *testing.T) {
	c, mem, counter := newTestCache(t)
	putComment(mem, "k1", "P", "u2", "older", 0, day1)
	c.LoadComments(context.Background(), "P")

	added, err := c.AddComment(context.Background(), "P", "  hello  ", models.Author{UserID: "u1", DisplayName: "Ana"})
	require.NoError(t, err)
	assert.NotEmpty(t, added.ID)
	assert.Equal(t, "hello", added.Content)
	assert.Equal(t, "Ana", added.AuthorName)
	assert.Equal(t, 0, added.LikesCount)
	assert.False(t, added.Ephemeral())

	sequence := c.Comments("P")
	require.Len(t, sequence, 2)
	assert.Equal(t, "hello", sequence[0].Content)
	assert.Equal(t, len(sequence), counter.count("P"))

	reloaded := c.LoadComments(context.Background(), "P")
	require.Len(t, reloaded, 2)
	assert.Equal(t, added.ID, reloaded[0].ID)
	assert.Equal(t, day3, reloaded[0].CreatedAt)
}

func TestAddComment_EmptyContent(t *testing.T) {
	c, mem, counter := newTestCache(t)

	_, err := c.AddComment(context.Background(), "P", " \n\t", models.Author{UserID: "u1"})
	assert.ErrorIs(t, err, ErrEmptyContent)
	assert.Equal(t, 0, mem.Calls(store.MethodCreate))
	assert.Equal(t, 0, counter.pushes)
}

func TestAddComment_RemoteFailure(t *testing.T) {
	c, mem, _ := newTestCache(t)
	c.LoadComments(context.Background(), "P")
	mem.FailNext(store.MethodCreate, errUnavailable)

	_, err := c.AddComment(context.Background(), "P", "hello", models.Author{UserID: "u1"})
	assert.ErrorIs(t, err, errUnavailable)
	assert.Len(t, c.Comments("P"), 1)
}

func TestDeleteComment(t *testing.T) {
	c, mem, counter := newTestCache(t)
	putComment(mem, "k1", "P", "u1", "one", 0, day1)
	putComment(mem, "k2", "P", "u1", "two", 0, day2)
	c.LoadComments(context.Background(), "P")
	_, err := c.ToggleCommentLike(context.Background(), "k1", "u3", "P")
	require.NoError(t, err)

	require.NoError(t, c.DeleteComment(context.Background(), "k1", "P"))
	sequence := c.Comments("P")
	require.Len(t, sequence, 1)
	assert.Equal(t, "k2", sequence[0].ID)
	assert.Equal(t, 1, counter.count("P"))
	assert.False(t, c.IsCommentLiked("k1", "u3"))
	assert.Equal(t, 1, mem.Len(store.CollectionComments))
}

func TestDeleteComment_Failure(t *testing.T) {
	c, mem, counter := newTestCache(t)
	putComment(mem, "k1", "P", "u1", "one", 0, day1)
	c.LoadComments(context.Background(), "P")
	mem.FailNext(store.MethodDeleteByID, errUnavailable)

	err := c.DeleteComment(context.Background(), "k1", "P")
	assert.ErrorIs(t, err, errUnavailable)
	assert.Len(t, c.Comments("P"), 1)
	assert.Equal(t, 1, counter.count("P"))
}

func TestDeleteComment_EphemeralRejected(t *testing.T) {
	c, mem, _ := newTestCache(t)
	c.LoadComments(context.Background(), "P")

	err := c.DeleteComment(context.Background(), "c1", "P")
	assert.ErrorIs(t, err, ErrEphemeralComment)
	assert.Len(t, c.Comments("P"), 1)
	assert.Equal(t, 0, mem.Calls(store.MethodDeleteByID))
}

func TestCommentsReturnsCopies(t *testing.T) {
	c, _, _ := newTestCache(t)
	c.LoadComments(context.Background(), "P")

	sequence := c.Comments("P")
	sequence[0].LikesCount = 99
	sequence[0].LikedByUserIDs = append(sequence[0].LikedByUserIDs, "intruder")

	fresh := c.Comments("P")[0]
	assert.Equal(t, 0, fresh.LikesCount)
	assert.Empty(t, fresh.LikedByUserIDs)
}

func TestCommentCountReachesEngagementCache(t *testing.T) {
	mem := store.NewMemory()
	posts := engagement.New(mem)
	posts.Upsert(models.Post{ID: "P", CommentsCount: 40})
	c := New(mem, seedProvider(), posts)

	c.LoadComments(context.Background(), "P")
	post, ok := posts.Post("u1", "P")
	require.True(t, ok)
	assert.Equal(t, 1, post.CommentsCount)

	_, err := c.AddComment(context.Background(), "P", "hi", models.Author{UserID: "u1"})
	require.NoError(t, err)
	post, _ = posts.Post("u1", "P")
	assert.Equal(t, len(c.Comments("P")), post.CommentsCount)
}

// gatedStore holds the first comments query open until release is closed.
type gatedStore struct {
	*store.Memory
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func newGatedStore(mem *store.Memory) *gatedStore {
	return &gatedStore{Memory: mem, started: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedStore) QueryByField(ctx context.Context, collection, field string, value any) ([]store.Record, error) {
	records, err := g.Memory.QueryByField(ctx, collection, field, value)
	if collection == store.CollectionComments {
		g.once.Do(func() {
			close(g.started)
			<-g.release
		})
	}
	return records, err
}

func loadInBackground(c *Cache, postID string) <-chan []models.Comment {
	done := make(chan []models.Comment, 1)
	go func() {
		done <- c.LoadComments(context.Background(), postID)
	}()
	return done
}

func awaitLoad(t *testing.T, done <-chan []models.Comment) []models.Comment {
	t.Helper()
	select {
	case loaded := <-done:
		return loaded
	case <-time.After(2 * time.Second):
		t.Fatal("load did not finish")
		return nil
	}
}

func TestLoadComments_KeepsCommentAddedDuringLoad(t *testing.T) {
	mem := store.NewMemory()
	putComment(mem, "k1", "P", "u2", "older", 0, day1)
	gated := newGatedStore(mem)
	counter := &countRecorder{}
	c := New(gated, seedProvider(), counter, WithClock(func() time.Time { return day3 }))

	done := loadInBackground(c, "P")
	<-gated.started

	added, err := c.AddComment(context.Background(), "P", "hello", models.Author{UserID: "u1"})
	require.NoError(t, err)
	close(gated.release)

	loaded := awaitLoad(t, done)
	require.Len(t, loaded, 2)
	assert.Equal(t, added.ID, loaded[0].ID)
	assert.Equal(t, "k1", loaded[1].ID)
	assert.Equal(t, loaded, c.Comments("P"))
	assert.Equal(t, 2, counter.count("P"))
}

func TestLoadComments_DropsCommentDeletedDuringLoad(t *testing.T) {
	mem := store.NewMemory()
	putComment(mem, "k1", "P", "u2", "one", 0, day1)
	putComment(mem, "k2", "P", "u2", "two", 0, day2)

	gated := newGatedStore(mem)
	counter := &countRecorder{}
	c := New(gated, seedProvider(), counter)
	done := loadInBackground(c, "P")
	<-gated.started

	require.NoError(t, c.DeleteComment(context.Background(), "k2", "P"))
	close(gated.release)

	loaded := awaitLoad(t, done)
	require.Len(t, loaded, 1)
	assert.Equal(t, "k1", loaded[0].ID)
	assert.Equal(t, 1, counter.count("P"))
	assert.Empty(t, c.loading)
}
