package models

import (
	"strings"
	"time"
)

// Provenance tells whether a comment has a backing remote record.
type Provenance int

const (
	ProvenancePersisted Provenance = iota
	ProvenanceEphemeral
)

func (p Provenance) String() string {
	if p == ProvenanceEphemeral {
		return "ephemeral"
	}
	return "persisted"
}

// SeedAuthorPrefix marks author ids that belong to canned seed content.
const SeedAuthorPrefix = "seed_"

// ClassifyAuthor maps an author id to a provenance. Only decoders at the
// seed and remote boundaries call it; everything downstream reads
// Comment.Provenance.
func ClassifyAuthor(userID string) Provenance {
	if strings.HasPrefix(userID, SeedAuthorPrefix) {
		return ProvenanceEphemeral
	}
	return ProvenancePersisted
}

type Comment struct {
	ID             string     `json:"id" mapstructure:"-"`
	PostID         string     `json:"post_id" mapstructure:"postId"`
	UserID         string     `json:"user_id" mapstructure:"userId"`
	AuthorName     string     `json:"author_name" mapstructure:"authorName"`
	AuthorPhotoURL string     `json:"author_photo_url,omitempty" mapstructure:"authorPhotoUrl"`
	Content        string     `json:"content" mapstructure:"content"`
	LikesCount     int        `json:"likes_count" mapstructure:"likesCount"`
	LikedByUserIDs []string   `json:"liked_by_user_ids,omitempty" mapstructure:"likedByUserIds"`
	CreatedAt      time.Time  `json:"created_at" mapstructure:"createdAt"`
	Provenance     Provenance `json:"-" mapstructure:"-"`
}

func (c Comment) Ephemeral() bool {
	return c.Provenance == ProvenanceEphemeral
}

// LikedBy reports whether userID is in the comment's local liker set.
func (c Comment) LikedBy(userID string) bool {
	for _, id := range c.LikedByUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Clone returns a copy that shares no slices with c.
func (c Comment) Clone() Comment {
	if c.LikedByUserIDs != nil {
		c.LikedByUserIDs = append([]string(nil), c.LikedByUserIDs...)
	}
	return c
}

type CommentLike struct {
	ID        string    `json:"id" mapstructure:"-"`
	CommentID string    `json:"comment_id" mapstructure:"commentId"`
	PostID    string    `json:"post_id" mapstructure:"postId"`
	UserID    string    `json:"user_id" mapstructure:"userId"`
	CreatedAt time.Time `json:"created_at" mapstructure:"createdAt"`
}
