package handlers

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ekilie/ekilisync/internal/middleware"
	"github.com/ekilie/ekilisync/internal/models"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const (
	defaultPostLimit = 20
	maxPostLimit     = 100
)

// PostHandlers serves the feed endpoints from memory. Posts do not survive a
// restart.
type PostHandlers struct {
	mu       sync.RWMutex
	posts    map[string]*models.Post
	comments map[string][]models.PostComment
	validate *validator.Validate
	logger   *logrus.Logger
}

func NewPostHandlers(logger *logrus.Logger) *PostHandlers {
	return &PostHandlers{
		posts:    make(map[string]*models.Post),
		comments: make(map[string][]models.PostComment),
		validate: validator.New(),
		logger:   logger,
	}
}

func (h *PostHandlers) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := queryInt(q.Get("limit"), defaultPostLimit)
	if limit == 0 {
		limit = defaultPostLimit
	}
	if limit > maxPostLimit {
		limit = maxPostLimit
	}
	offset := queryInt(q.Get("offset"), 0)
	userID := q.Get("userId")
	search := strings.ToLower(q.Get("search"))

	h.mu.RLock()
	posts := make([]models.Post, 0, len(h.posts))
	for _, p := range h.posts {
		if userID != "" && p.UserID != userID {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(p.Text), search) {
			continue
		}
		posts = append(posts, *p)
	}
	h.mu.RUnlock()

	switch q.Get("sort") {
	case "popular":
		sort.Slice(posts, func(i, j int) bool { return posts[i].LikeCount > posts[j].LikeCount })
	case "oldest":
		sort.Slice(posts, func(i, j int) bool { return posts[i].CreatedAt.Before(posts[j].CreatedAt) })
	default:
		sort.Slice(posts, func(i, j int) bool { return posts[i].CreatedAt.After(posts[j].CreatedAt) })
	}

	if offset > len(posts) {
		offset = len(posts)
	}
	end := len(posts)
	if limit < end-offset {
		end = offset + limit
	}

	respondWithJSON(w, http.StatusOK, dataResponse{Success: true, Data: posts[offset:end]})
}

func (h *PostHandlers) Get(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	post, ok := h.posts[mux.Vars(r)["id"]]
	var out models.Post
	if ok {
		out = *post
	}
	h.mu.RUnlock()

	if !ok {
		respondWithError(w, http.StatusNotFound, "POST_NOT_FOUND", "Post not found")
		return
	}
	respondWithJSON(w, http.StatusOK, dataResponse{Success: true, Data: out})
}

func (h *PostHandlers) Create(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token")
		return
	}

	var req models.CreatePostRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Text == "" && req.AudioURL == "" {
		respondWithError(w, http.StatusBadRequest, "VALIDATION_FAILED", "A post needs text or audio")
		return
	}

	now := time.Now().UTC()
	post := &models.Post{
		ID:         uuid.New().String(),
		UserID:     claims.Subject,
		Type:       req.Type,
		Text:       req.Text,
		AudioURL:   req.AudioURL,
		Duration:   req.Duration,
		Visibility: req.Visibility,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if post.Type == "" {
		post.Type = "text"
		if post.AudioURL != "" {
			post.Type = "audio"
		}
	}
	if post.Visibility == "" {
		post.Visibility = "public"
	}

	out := *post

	h.mu.Lock()
	h.posts[post.ID] = post
	h.mu.Unlock()

	h.logger.WithFields(logrus.Fields{"post_id": out.ID, "user_id": out.UserID}).Info("Post created")
	respondWithJSON(w, http.StatusCreated, dataResponse{Success: true, Data: out})
}

func (h *PostHandlers) Update(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token")
		return
	}

	var req models.UpdatePostRequest
	if !h.decode(w, r, &req) {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	post, ok := h.owned(w, mux.Vars(r)["id"], claims.Subject)
	if !ok {
		return
	}

	if req.Type != "" {
		post.Type = req.Type
	}
	if req.Text != "" {
		post.Text = req.Text
	}
	if req.AudioURL != "" {
		post.AudioURL = req.AudioURL
	}
	if req.Duration > 0 {
		post.Duration = req.Duration
	}
	if req.Visibility != "" {
		post.Visibility = req.Visibility
	}
	post.UpdatedAt = time.Now().UTC()

	respondWithJSON(w, http.StatusOK, dataResponse{Success: true, Data: *post})
}

func (h *PostHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	post, ok := h.owned(w, mux.Vars(r)["id"], claims.Subject)
	if !ok {
		return
	}
	delete(h.posts, post.ID)
	delete(h.comments, post.ID)

	respondWithJSON(w, http.StatusOK, models.MessageResponse{Success: true, Message: "Post deleted"})
}

func (h *PostHandlers) Like(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	post, ok := h.posts[mux.Vars(r)["id"]]
	if !ok {
		respondWithError(w, http.StatusNotFound, "POST_NOT_FOUND", "Post not found")
		return
	}
	post.LikeCount++

	respondWithJSON(w, http.StatusOK, models.MessageResponse{Success: true, Message: "Post liked"})
}

func (h *PostHandlers) AddComment(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token")
		return
	}

	var req models.AddCommentRequest
	if !h.decode(w, r, &req) {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	post, ok := h.posts[mux.Vars(r)["id"]]
	if !ok {
		respondWithError(w, http.StatusNotFound, "POST_NOT_FOUND", "Post not found")
		return
	}

	comment := models.PostComment{
		ID:        uuid.New().String(),
		PostID:    post.ID,
		UserID:    claims.Subject,
		Text:      req.Text,
		CreatedAt: time.Now().UTC(),
	}
	h.comments[post.ID] = append(h.comments[post.ID], comment)
	post.CommentCount++

	respondWithJSON(w, http.StatusCreated, dataResponse{Success: true, Data: comment})
}

func (h *PostHandlers) Play(w http.ResponseWriter, r *http.Request) {
	var req models.PlayPostRequest
	if !h.decode(w, r, &req) {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	post, ok := h.posts[mux.Vars(r)["id"]]
	if !ok {
		respondWithError(w, http.StatusNotFound, "POST_NOT_FOUND", "Post not found")
		return
	}
	post.PlayCount++

	respondWithJSON(w, http.StatusOK, models.MessageResponse{Success: true, Message: "Play recorded"})
}

// owned must be called with h.mu held.
func (h *PostHandlers) owned(w http.ResponseWriter, id, userID string) (*models.Post, bool) {
	post, ok := h.posts[id]
	if !ok {
		respondWithError(w, http.StatusNotFound, "POST_NOT_FOUND", "Post not found")
		return nil, false
	}
	if post.UserID != userID {
		respondWithError(w, http.StatusForbidden, "FORBIDDEN", "You can only modify your own posts")
		return nil, false
	}
	return post, true
}

func (h *PostHandlers) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		respondWithError(w, http.StatusBadRequest, "VALIDATION_FAILED", validationMessage(err))
		return false
	}
	return true
}

func queryInt(raw string, fallback int) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
