package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/ekilie/ekilisync/internal/models"
)

func (c *Client) GetPosts(ctx context.Context, params models.ListPostsParams) ([]models.Post, error) {
	query := url.Values{}
	if params.Limit > 0 {
		query.Set("limit", strconv.Itoa(params.Limit))
	}
	if params.Offset > 0 {
		query.Set("offset", strconv.Itoa(params.Offset))
	}
	if params.Sort != "" {
		query.Set("sort", params.Sort)
	}
	if params.UserID != "" {
		query.Set("userId", params.UserID)
	}
	if params.Search != "" {
		query.Set("search", params.Search)
	}

	var posts []models.Post
	if err := c.do(ctx, c.authed, http.MethodGet, "posts", query, nil, &posts); err != nil {
		return nil, err
	}
	return posts, nil
}

func (c *Client) GetPost(ctx context.Context, id string) (*models.Post, error) {
	var post models.Post
	if err := c.do(ctx, c.authed, http.MethodGet, postPath(id), nil, nil, &post); err != nil {
		return nil, err
	}
	return &post, nil
}

func (c *Client) CreatePost(ctx context.Context, req models.CreatePostRequest) (*models.Post, error) {
	var post models.Post
	if err := c.do(ctx, c.authed, http.MethodPost, "posts", nil, req, &post); err != nil {
		return nil, err
	}
	return &post, nil
}

func (c *Client) UpdatePost(ctx context.Context, id string, req models.UpdatePostRequest) (*models.Post, error) {
	var post models.Post
	if err := c.do(ctx, c.authed, http.MethodPut, postPath(id), nil, req, &post); err != nil {
		return nil, err
	}
	return &post, nil
}

func (c *Client) DeletePost(ctx context.Context, id string) error {
	return c.do(ctx, c.authed, http.MethodDelete, postPath(id), nil, nil, nil)
}

func (c *Client) LikePost(ctx context.Context, id string) error {
	return c.do(ctx, c.authed, http.MethodPost, postPath(id)+"/like", nil, nil, nil)
}

func (c *Client) AddComment(ctx context.Context, id string, req models.AddCommentRequest) (*models.PostComment, error) {
	var comment models.PostComment
	if err := c.do(ctx, c.authed, http.MethodPost, postPath(id)+"/comments", nil, req, &comment); err != nil {
		return nil, err
	}
	return &comment, nil
}

// PlayPost records a playback of duration seconds.
func (c *Client) PlayPost(ctx context.Context, id string, duration float64) error {
	return c.do(ctx, c.authed, http.MethodPost, postPath(id)+"/play", nil, models.PlayPostRequest{Duration: duration}, nil)
}

func postPath(id string) string {
	return "posts/" + id
}
