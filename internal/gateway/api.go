// ABOUTME: Dashboard API handlers: conversation listing, message history, SSE events
// ABOUTME: Every handler scopes reads to the authenticated staff member's clinic

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/halcyon-health/relay/internal/auth"
	"github.com/halcyon-health/relay/internal/metrics"
	"github.com/halcyon-health/relay/internal/store"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
	sseHeartbeat     = 15 * time.Second
)

// ConversationResponse is the JSON form of one conversation in list results.
type ConversationResponse struct {
	ID            string    `json:"id"`
	CustomerID    string    `json:"customer_id"`
	AccountID     string    `json:"account_id"`
	Status        string    `json:"status"`
	Escalated     bool      `json:"escalated"`
	Preview       string    `json:"preview"`
	UnreadCount   int       `json:"unread_count"`
	LastMessageAt time.Time `json:"last_message_at"`
}

// MessageResponse is the JSON form of one message in history results.
type MessageResponse struct {
	ID          string    `json:"id"`
	SenderType  string    `json:"sender_type"`
	ContentType string    `json:"content_type"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"created_at"`
}

func (g *Gateway) handleListConversations(w http.ResponseWriter, r *http.Request) {
	claims := auth.FromContext(r.Context())
	clinicID := chi.URLParam(r, "clinic_id")
	if claims == nil || claims.ClinicID != clinicID {
		writeError(w, http.StatusForbidden, "clinic access denied")
		return
	}

	convs, err := g.store.ListConversations(r.Context(), clinicID, listLimit(r))
	if err != nil {
		g.logger.Error("listing conversations", "clinic_id", clinicID, "error", err)
		writeError(w, http.StatusInternalServerError, "listing conversations")
		return
	}

	out := make([]ConversationResponse, 0, len(convs))
	for _, c := range convs {
		out = append(out, ConversationResponse{
			ID:            c.ID,
			CustomerID:    c.CustomerID,
			AccountID:     c.AccountID,
			Status:        c.Status,
			Escalated:     c.Escalated,
			Preview:       c.Preview,
			UnreadCount:   c.UnreadCount,
			LastMessageAt: c.LastMessageAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": out})
}

func (g *Gateway) handleListMessages(w http.ResponseWriter, r *http.Request) {
	claims := auth.FromContext(r.Context())
	conversationID := chi.URLParam(r, "conversation_id")

	conv, err := g.store.GetConversation(r.Context(), conversationID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		g.logger.Error("loading conversation", "conversation_id", conversationID, "error", err)
		writeError(w, http.StatusInternalServerError, "loading conversation")
		return
	}
	if claims == nil || claims.ClinicID != conv.ClinicID {
		writeError(w, http.StatusForbidden, "clinic access denied")
		return
	}

	msgs, err := g.store.ListMessages(r.Context(), conversationID, listLimit(r))
	if err != nil {
		g.logger.Error("listing messages", "conversation_id", conversationID, "error", err)
		writeError(w, http.StatusInternalServerError, "listing messages")
		return
	}

	out := make([]MessageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, MessageResponse{
			ID:          m.ID,
			SenderType:  m.SenderType,
			ContentType: m.ContentType,
			Content:     m.Content,
			CreatedAt:   m.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": conversationID,
		"messages":        out,
	})
}

// handleEvents streams clinic events to a dashboard connection over SSE.
// Comment-line heartbeats keep proxies from closing idle connections.
func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	claims := auth.FromContext(r.Context())
	clinicID := chi.URLParam(r, "clinic_id")
	if claims == nil || claims.ClinicID != clinicID {
		writeError(w, http.StatusForbidden, "clinic access denied")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, subID := g.fanout.Subscribe(r.Context(), clinicID)
	g.logger.Info("dashboard connected",
		"clinic_id", clinicID,
		"staff_id", claims.StaffID,
		"subscription_id", subID)
	metrics.DashboardConnections.Inc()
	defer metrics.DashboardConnections.Dec()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case event, ok := <-events:
			if !ok {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				g.logger.Error("encoding dashboard event", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, payload)
			flusher.Flush()
		}
	}
}

func listLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return defaultListLimit
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
