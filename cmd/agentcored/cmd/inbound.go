package cmd

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/Agent-Zoey/Zoey-sub001/internal/obslog"
	"github.com/Agent-Zoey/Zoey-sub001/pipeline"
)

// inboundRequest is the wire shape for POST /inbound: a single message from
// whatever platform client is fronting this agent (Discord, Telegram, a
// chat widget). agentcored itself carries no platform clients, only the
// runtime core those clients submit into.
type inboundRequest struct {
	Source            string `json:"source"`
	ChatID            string `json:"chat_id"`
	UserExternalID    string `json:"user_id"`
	MessageExternalID string `json:"message_id"`
	Text              string `json:"text"`
	IsPrivate         bool   `json:"is_private"`
	IsVoice           bool   `json:"is_voice"`
	Mentioned         bool   `json:"mentioned"`
	ReplyToExternalID string `json:"reply_to_id"`
}

// inboundHandler decodes a platform message and hands it to runner.Submit.
// Submission is asynchronous: a 202 means the message was admitted into the
// worker pool, not that a reply has been generated.
func inboundHandler(runner *pipeline.Runner) http.HandlerFunc {
	log := obslog.With("agentcored")
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req inboundRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		msg := pipeline.InboundMessage{
			Source:            req.Source,
			ChatID:            req.ChatID,
			UserExternalID:    req.UserExternalID,
			MessageExternalID: req.MessageExternalID,
			Text:              req.Text,
			IsPrivate:         req.IsPrivate,
			IsVoice:           req.IsVoice,
			ReplyToExternalID: req.ReplyToExternalID,
			Mentioned:         req.Mentioned,
			ReceivedAt:        time.Now(),
		}
		if err := runner.Submit(r.Context(), msg); err != nil {
			log.Error().Err(err).Msg("failed to submit inbound message")
			http.Error(w, "submission failed", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}
