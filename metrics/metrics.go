// Package metrics holds the Prometheus collectors for optimistic engagement
// operations.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	EntityPost    = "post"
	EntityComment = "comment"

	ResultLiked   = "liked"
	ResultUnliked = "unliked"
	ResultFailed  = "failed"
	ResultOK      = "ok"

	DirectionSent     = "sent"
	DirectionReceived = "received"
	DirectionDropped  = "dropped"
)

var (
	LikeToggles = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "engagement",
		Name:      "like_toggles_total",
		Help:      "Like toggles by entity and outcome.",
	}, []string{"entity", "result"})

	Rollbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "engagement",
		Name:      "rollbacks_total",
		Help:      "Optimistic applies reverted after a remote failure.",
	}, []string{"entity"})

	CommentOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "engagement",
		Name:      "comment_ops_total",
		Help:      "Comment loads, adds and deletes by outcome.",
	}, []string{"op", "result"})

	ChatMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "engagement",
		Name:      "chat_messages_total",
		Help:      "Chat messages by direction.",
	}, []string{"direction"})
)
