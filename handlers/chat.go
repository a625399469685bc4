package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"masterboxer.com/engagement-sync/chat"
	"masterboxer.com/engagement-sync/models"
)

type sendMessageRequest struct {
	Text        string              `json:"text" validate:"required_without=Attachments"`
	Attachments []models.Attachment `json:"attachments" validate:"dive"`
}

func GetChatMessages(cache *chat.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chatID := mux.Vars(r)["chatId"]

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"state":    cache.State().String(),
			"messages": cache.Messages(chatID),
		})
	}
}

func SendChatMessage(cache *chat.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chatID := mux.Vars(r)["chatId"]

		var req sendMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if err := validate.Struct(req); err != nil {
			if _, ok := err.(validator.ValidationErrors); ok {
				http.Error(w, "Message needs text or attachments", http.StatusBadRequest)
				return
			}
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		sent := cache.SendMessage(r.Context(), chatID, req.Text, req.Attachments)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"sent": sent,
		})
	}
}

func JoinChat(cache *chat.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chatID := mux.Vars(r)["chatId"]
		cache.EnterRoom(r.Context(), chatID)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"chat_id":  chatID,
			"state":    cache.State().String(),
			"messages": cache.Messages(chatID),
		})
	}
}

func LeaveChat(cache *chat.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chatID := mux.Vars(r)["chatId"]
		cache.LeaveRoom(r.Context(), chatID)

		w.WriteHeader(http.StatusNoContent)
	}
}
