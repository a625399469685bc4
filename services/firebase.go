package services

import (
	"context"
	"fmt"
	"unicode/utf8"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/golang/glog"
	"google.golang.org/api/option"
	"masterboxer.com/engagement-sync/models"
)

func InitFirebase(ctx context.Context, credentialsPath, projectID string) (*firebase.App, error) {
	glog.Infof("[FCM] Initializing Firebase with credentials: %s", credentialsPath)

	var conf *firebase.Config
	if projectID != "" {
		conf = &firebase.Config{ProjectID: projectID}
	}

	var opts []option.ClientOption
	if credentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsPath))
	}

	app, err := firebase.NewApp(ctx, conf, opts...)
	if err != nil {
		glog.Errorf("[FCM][ERROR] Failed to init Firebase app: %v", err)
		return nil, err
	}
	return app, nil
}

// messenger is the part of *messaging.Client the notifier needs.
type messenger interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// OwnerLookup resolves the author id of a post. It reports false when the
// post is not known.
type OwnerLookup func(postID string) (string, bool)

// FCMNotifier pushes engagement events to the per-post FCM topic that the
// post owner's devices subscribe to. The actor is always taken from the
// event, and an owner's activity on their own post is never pushed.
type FCMNotifier struct {
	client messenger
	owners OwnerLookup
}

func NewFCMNotifier(ctx context.Context, app *firebase.App, owners OwnerLookup) (*FCMNotifier, error) {
	client, err := app.Messaging(ctx)
	if err != nil {
		glog.Errorf("[FCM][ERROR] Failed to get messaging client: %v", err)
		return nil, err
	}
	glog.Infof("[FCM] Firebase Messaging client initialized successfully")
	return &FCMNotifier{client: client, owners: owners}, nil
}

func PostTopic(postID string) string {
	return "post_" + postID
}

func (n *FCMNotifier) PostLiked(ctx context.Context, post models.Post, liker models.Author) {
	if post.AuthorID == liker.UserID {
		glog.V(2).Infof("[FCM] Skipping notification - user liked their own post")
		return
	}
	n.send(ctx, &messaging.Message{
		Notification: &messaging.Notification{
			Title: fmt.Sprintf("%s liked your post", displayName(liker.DisplayName)),
			Body:  truncate(post.Text),
		},
		Data: map[string]string{
			"type":          "post_like",
			"post_id":       post.ID,
			"liker_id":      liker.UserID,
			"post_owner_id": post.AuthorID,
		},
		Topic: PostTopic(post.ID),
	})
}

func (n *FCMNotifier) CommentAdded(ctx context.Context, comment models.Comment) {
	data := map[string]string{
		"type":         "post_comment",
		"post_id":      comment.PostID,
		"comment_id":   comment.ID,
		"commenter_id": comment.UserID,
	}
	if n.owners != nil {
		if owner, ok := n.owners(comment.PostID); ok {
			if owner == comment.UserID {
				glog.V(2).Infof("[FCM] Skipping notification - user commented on their own post")
				return
			}
			data["post_owner_id"] = owner
		}
	}
	n.send(ctx, &messaging.Message{
		Notification: &messaging.Notification{
			Title: fmt.Sprintf("%s commented on your post", displayName(comment.AuthorName)),
			Body:  truncate(comment.Content),
		},
		Data:  data,
		Topic: PostTopic(comment.PostID),
	})
}

func (n *FCMNotifier) send(ctx context.Context, message *messaging.Message) {
	response, err := n.client.Send(ctx, message)
	if err != nil {
		glog.Errorf("[FCM] Error sending %s notification to %s: %v", message.Data["type"], message.Topic, err)
		return
	}
	glog.V(1).Infof("[FCM] Successfully sent message: %s", response)
}

// NopNotifier drops every event. Used when push is disabled.
type NopNotifier struct{}

func (NopNotifier) PostLiked(context.Context, models.Post, models.Author) {}
func (NopNotifier) CommentAdded(context.Context, models.Comment)          {}

func displayName(name string) string {
	if name == "" {
		return "Someone"
	}
	return name
}

// truncate caps body at 100 runes.
func truncate(body string) string {
	if utf8.RuneCountInString(body) <= 100 {
		return body
	}
	return string([]rune(body)[:97]) + "..."
}
