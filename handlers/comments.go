package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/golang/glog"
	"github.com/gorilla/mux"
	"masterboxer.com/engagement-sync/comments"
	"masterboxer.com/engagement-sync/identity"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type createCommentRequest struct {
	Content string `json:"content" validate:"required,max=500"`
}

func GetPostComments(cache *comments.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		postID := mux.Vars(r)["postId"]

		loaded := cache.LoadComments(r.Context(), postID)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(loaded)
	}
}

func CreateComment(cache *comments.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		postID := mux.Vars(r)["postId"]
		author, _ := identity.FromContext(r.Context())

		var req createCommentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if err := validate.Struct(req); err != nil {
			http.Error(w, "Comment text is required and must be at most 500 characters", http.StatusBadRequest)
			return
		}

		comment, err := cache.AddComment(r.Context(), postID, req.Content, author)
		if errors.Is(err, comments.ErrEmptyContent) {
			http.Error(w, "Comment text is required", http.StatusBadRequest)
			return
		} else if err != nil {
			http.Error(w, "Failed to create comment", http.StatusBadGateway)
			glog.Errorf("[HTTP] CreateComment error: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(comment)
	}
}

func DeleteComment(cache *comments.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)

		err := cache.DeleteComment(r.Context(), vars["commentId"], vars["postId"])
		if errors.Is(err, comments.ErrEphemeralComment) {
			http.Error(w, "Comment cannot be deleted", http.StatusConflict)
			return
		} else if err != nil {
			http.Error(w, "Failed to delete comment", http.StatusBadGateway)
			glog.Errorf("[HTTP] DeleteComment error: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"message": "Comment deleted successfully",
		})
	}
}

func ToggleCommentLike(cache *comments.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		author, _ := identity.FromContext(r.Context())

		liked, err := cache.ToggleCommentLike(r.Context(), vars["commentId"], author.UserID, vars["postId"])
		if errors.Is(err, comments.ErrCommentNotFound) {
			http.Error(w, "Comment not found", http.StatusNotFound)
			return
		} else if err != nil {
			http.Error(w, "Failed to toggle like", http.StatusBadGateway)
			glog.Errorf("[HTTP] ToggleCommentLike error: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"liked": liked,
		})
	}
}
