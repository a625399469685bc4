package routes

import (
	"github.com/gorilla/mux"
	"masterboxer.com/engagement-sync/comments"
	"masterboxer.com/engagement-sync/engagement"
	"masterboxer.com/engagement-sync/handlers"
)

func CreatePostRoutes(posts *engagement.Cache, cache *comments.Cache, router *mux.Router) *mux.Router {
	router.HandleFunc("/posts/{postId}", handlers.GetPost(posts)).Methods("GET")
	router.HandleFunc("/posts/{postId}/like", handlers.ToggleLike(posts)).Methods("POST")
	router.HandleFunc("/posts/{postId}/comments", handlers.GetPostComments(cache)).Methods("GET")
	router.HandleFunc("/posts/{postId}/comments", handlers.CreateComment(cache)).Methods("POST")
	router.HandleFunc("/posts/{postId}/comments/{commentId}", handlers.DeleteComment(cache)).Methods("DELETE")
	router.HandleFunc("/posts/{postId}/comments/{commentId}/like", handlers.ToggleCommentLike(cache)).Methods("POST")

	return router
}
