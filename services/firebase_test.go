package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"firebase.google.com/go/v4/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"masterboxer.com/engagement-sync/models"
)

type fakeMessenger struct {
	sent []*messaging.Message
	err  error
}

func (f *fakeMessenger) Send(ctx context.Context, message *messaging.Message) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, message)
	return "projects/test/messages/1", nil
}

func owners(byPost map[string]string) OwnerLookup {
	return func(postID string) (string, bool) {
		owner, ok := byPost[postID]
		return owner, ok
	}
}

func TestPostLiked(t *testing.T) {
	fake := &fakeMessenger{}
	n := &FCMNotifier{client: fake}
	ana := models.Author{UserID: "u1", DisplayName: "Ana"}

	n.PostLiked(context.Background(), models.Post{ID: "P1", AuthorID: "owner", Text: "entry"}, ana)
	require.Len(t, fake.sent, 1)
	message := fake.sent[0]
	assert.Equal(t, "post_P1", message.Topic)
	assert.Equal(t, "Ana liked your post", message.Notification.Title)
	assert.Equal(t, "post_like", message.Data["type"])
	assert.Equal(t, "u1", message.Data["liker_id"])
	assert.Equal(t, "owner", message.Data["post_owner_id"])

	n.PostLiked(context.Background(), models.Post{ID: "P2", AuthorID: "u1"}, ana)
	assert.Len(t, fake.sent, 1, "liking your own post sends nothing")

	n.PostLiked(context.Background(), models.Post{ID: "P3", AuthorID: "owner"}, models.Author{UserID: "u9"})
	require.Len(t, fake.sent, 2)
	assert.Equal(t, "Someone liked your post", fake.sent[1].Notification.Title)
}

func TestCommentAdded(t *testing.T) {
	fake := &fakeMessenger{}
	n := &FCMNotifier{client: fake, owners: owners(map[string]string{"P1": "owner"})}

	n.CommentAdded(context.Background(), models.Comment{
		ID: "c1", PostID: "P1", UserID: "u1", AuthorName: "Ana", Content: strings.Repeat("x", 150),
	})
	require.Len(t, fake.sent, 1)
	message := fake.sent[0]
	assert.Equal(t, "Ana commented on your post", message.Notification.Title)
	assert.Equal(t, 100, utf8.RuneCountInString(message.Notification.Body))
	assert.True(t, strings.HasSuffix(message.Notification.Body, "..."))
	assert.Equal(t, "c1", message.Data["comment_id"])
	assert.Equal(t, "u1", message.Data["commenter_id"])
	assert.Equal(t, "owner", message.Data["post_owner_id"])

	n.CommentAdded(context.Background(), models.Comment{ID: "c2", PostID: "P1", UserID: "owner", AuthorName: "Owner"})
	assert.Len(t, fake.sent, 1, "commenting on your own post sends nothing")

	n.CommentAdded(context.Background(), models.Comment{ID: "c3", PostID: "unknown", UserID: "u2"})
	require.Len(t, fake.sent, 2)
	assert.Equal(t, "Someone commented on your post", fake.sent[1].Notification.Title)
	assert.NotContains(t, fake.sent[1].Data, "post_owner_id")
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	body := strings.Repeat("a", 96) + strings.Repeat("日", 10)

	got := truncate(body)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, 100, utf8.RuneCountInString(got))
	assert.Equal(t, strings.Repeat("a", 96)+"日...", got)

	short := strings.Repeat("日", 100)
	assert.Equal(t, short, truncate(short))
}

func TestSendFailureIsSwallowed(t *testing.T) {
	fake := &fakeMessenger{err: errors.New("quota")}
	n := &FCMNotifier{client: fake}

	assert.NotPanics(t, func() {
		n.CommentAdded(context.Background(), models.Comment{ID: "c1", PostID: "P1"})
	})
}
