package routes

import (
	"github.com/gorilla/mux"
	"masterboxer.com/engagement-sync/chat"
	"masterboxer.com/engagement-sync/handlers"
)

func CreateChatRoutes(cache *chat.Cache, router *mux.Router) *mux.Router {
	router.HandleFunc("/chats/{chatId}/messages", handlers.GetChatMessages(cache)).Methods("GET")
	router.HandleFunc("/chats/{chatId}/messages", handlers.SendChatMessage(cache)).Methods("POST")
	router.HandleFunc("/chats/{chatId}/join", handlers.JoinChat(cache)).Methods("POST")
	router.HandleFunc("/chats/{chatId}/leave", handlers.LeaveChat(cache)).Methods("POST")

	return router
}
