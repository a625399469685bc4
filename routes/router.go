package routes

import (
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"masterboxer.com/engagement-sync/chat"
	"masterboxer.com/engagement-sync/comments"
	"masterboxer.com/engagement-sync/engagement"
	"masterboxer.com/engagement-sync/identity"
)

// NewRouter mounts every route. Chat routes are skipped when chatCache is nil.
func NewRouter(posts *engagement.Cache, cache *comments.Cache, chatCache *chat.Cache, jwtSecret []byte) *mux.Router {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := router.PathPrefix("/").Subrouter()
	api.Use(identity.Middleware(jwtSecret))
	CreatePostRoutes(posts, cache, api)
	if chatCache != nil {
		CreateChatRoutes(chatCache, api)
	}
	return router
}
