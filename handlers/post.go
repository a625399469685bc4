package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/golang/glog"
	"github.com/gorilla/mux"
	"masterboxer.com/engagement-sync/engagement"
	"masterboxer.com/engagement-sync/identity"
)

func GetPost(posts *engagement.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		postID := mux.Vars(r)["postId"]
		author, _ := identity.FromContext(r.Context())

		post, ok := posts.Post(author.UserID, postID)
		if !ok {
			if _, err := posts.Fetch(r.Context(), postID); errors.Is(err, engagement.ErrPostNotFound) {
				http.Error(w, "Post not found", http.StatusNotFound)
				return
			} else if err != nil {
				http.Error(w, "Failed to fetch post", http.StatusBadGateway)
				glog.Errorf("[HTTP] GetPost %s error: %v", postID, err)
				return
			}
			post, _ = posts.Post(author.UserID, postID)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(post)
	}
}

// ToggleLike answers with the optimistic state right away. With ?wait=true
// it waits for the remote confirmation and reports a reverted toggle as 502.
func ToggleLike(posts *engagement.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		postID := mux.Vars(r)["postId"]
		author, _ := identity.FromContext(r.Context())

		toggle, err := posts.ToggleLike(r.Context(), author, postID)
		if errors.Is(err, engagement.ErrPostNotFound) {
			if _, err = posts.Fetch(r.Context(), postID); err == nil {
				toggle, err = posts.ToggleLike(r.Context(), author, postID)
			}
		}
		if errors.Is(err, engagement.ErrPostNotFound) {
			http.Error(w, "Post not found", http.StatusNotFound)
			return
		} else if err != nil {
			http.Error(w, "Failed to toggle like", http.StatusBadGateway)
			glog.Errorf("[HTTP] ToggleLike %s error: %v", postID, err)
			return
		}

		pending := true
		if r.URL.Query().Get("wait") == "true" {
			select {
			case err := <-toggle.Done:
				if err != nil {
					post, _ := posts.Post(author.UserID, postID)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusBadGateway)
					json.NewEncoder(w).Encode(map[string]interface{}{
						"liked":       post.IsLikedByUser,
						"likes_count": post.LikesCount,
						"error":       "like was not saved",
					})
					return
				}
				pending = false
			case <-r.Context().Done():
				glog.V(1).Infof("[HTTP] ToggleLike %s: client went away before confirmation", postID)
				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"liked":       toggle.Liked,
			"likes_count": toggle.LikesCount,
			"pending":     pending,
		})
	}
}
