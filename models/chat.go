package models

import "time"

type Attachment struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type ChatMessage struct {
	ID                string       `json:"id"`
	ClientID          string       `json:"clientId,omitempty"`
	ChatID            string       `json:"chatId"`
	AuthorID          string       `json:"authorId"`
	AuthorDisplayName string       `json:"authorDisplayName"`
	AuthorPhotoURL    string       `json:"authorPhotoUrl,omitempty"`
	Text              string       `json:"text"`
	Attachments       []Attachment `json:"attachments,omitempty"`
	CreatedAt         time.Time    `json:"createdAt"`
}

// Author is the identity stamped on comments and outgoing chat messages.
type Author struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	PhotoURL    string `json:"photo_url,omitempty"`
}
