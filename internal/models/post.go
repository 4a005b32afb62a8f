package models

import "time"

type Post struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Type         string    `json:"type"`
	Text         string    `json:"text,omitempty"`
	AudioURL     string    `json:"audio_url,omitempty"`
	Duration     float64   `json:"duration,omitempty"`
	Visibility   string    `json:"visibility"`
	LikeCount    int       `json:"like_count"`
	CommentCount int       `json:"comment_count"`
	PlayCount    int       `json:"play_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type PostComment struct {
	ID        string    `json:"id"`
	PostID    string    `json:"post_id"`
	UserID    string    `json:"user_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

type ListPostsParams struct {
	Limit  int
	Offset int
	Sort   string
	UserID string
	Search string
}

type CreatePostRequest struct {
	Type       string  `json:"type,omitempty" validate:"omitempty,oneof=audio text"`
	Text       string  `json:"text,omitempty"`
	AudioURL   string  `json:"audio_url,omitempty" validate:"omitempty,url"`
	Duration   float64 `json:"duration,omitempty" validate:"gte=0"`
	Visibility string  `json:"visibility,omitempty" validate:"omitempty,oneof=public private"`
}

type UpdatePostRequest struct {
	Type       string  `json:"type,omitempty" validate:"omitempty,oneof=audio text"`
	Text       string  `json:"text,omitempty"`
	AudioURL   string  `json:"audio_url,omitempty" validate:"omitempty,url"`
	Duration   float64 `json:"duration,omitempty" validate:"gte=0"`
	Visibility string  `json:"visibility,omitempty" validate:"omitempty,oneof=public private"`
}

type AddCommentRequest struct {
	Text string `json:"text" validate:"required"`
}

type PlayPostRequest struct {
	Duration float64 `json:"duration" validate:"gte=0"`
}
