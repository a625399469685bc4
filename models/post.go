package models

import "time"

type Post struct {
	ID            string    `json:"id" mapstructure:"-"`
	AuthorID      string    `json:"author_id" mapstructure:"userId"`
	Text          string    `json:"text" mapstructure:"text"`
	PhotoURL      string    `json:"photo_url,omitempty" mapstructure:"photoUrl"`
	CreatedAt     time.Time `json:"created_at" mapstructure:"createdAt"`
	LikesCount    int       `json:"likes_count" mapstructure:"likesCount"`
	CommentsCount int       `json:"comments_count" mapstructure:"commentsCount"`
}

// PostWithEngagement is a post as seen by the current session.
type PostWithEngagement struct {
	Post
	IsLikedByUser bool `json:"is_liked_by_user"`
}
