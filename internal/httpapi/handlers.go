package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/djensenius/FluxHaus-Server-sub000/internal/config"
	"github.com/djensenius/FluxHaus-Server-sub000/internal/llm"
	"github.com/djensenius/FluxHaus-Server-sub000/internal/repository"
	"github.com/djensenius/FluxHaus-Server-sub000/internal/speech"
)

// historyTurns caps how many prior turns feed back into the model.
const historyTurns = 20

// CommandRunner runs one natural-language command to a final reply. Satisfied
// by the orchestrator; narrowed to an interface so handlers are testable with
// a stub.
type CommandRunner interface {
	ExecuteCommand(ctx context.Context, command string, history []llm.Message) (string, error)
}

type Handler struct {
	config *config.Config
	runner CommandRunner
	store  *repository.ConversationStore
	speech speech.Speech
}

// NewHandler wires the HTTP surface. store and speechClient may be nil when
// the matching feature is not configured; the affected endpoints then return
// 503.
func NewHandler(cfg *config.Config, runner CommandRunner, store *repository.ConversationStore, speechClient speech.Speech) *Handler {
	return &Handler{
		config: cfg,
		runner: runner,
		store:  store,
		speech: speechClient,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{"error": message})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"service":  "fluxhaus-server",
		"provider": h.config.AIProvider,
	})
}

type CommandRequest struct {
	Command        string `json:"command"`
	ConversationID string `json:"conversation_id,omitempty"`
}

type CommandResponse struct {
	Response       string `json:"response"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// ExecuteCommand runs one text command, optionally inside a persisted
// conversation.
func (h *Handler) ExecuteCommand(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	if claims == nil {
		writeJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Command) == "" {
		writeJSONError(w, http.StatusBadRequest, "command is required")
		return
	}

	reply, convID, status, errMsg := h.runCommand(r.Context(), claims.Subject, req.Command, req.ConversationID, false)
	if errMsg != "" {
		writeJSONError(w, status, errMsg)
		return
	}

	writeJSON(w, http.StatusOK, CommandResponse{Response: reply, ConversationID: convID})
}

// runCommand is the shared command path behind the text, voice and websocket
// endpoints: resolve conversation history, run the provider loop, persist the
// turn. It returns a non-empty errMsg with an HTTP status on failure.
func (h *Handler) runCommand(ctx context.Context, ownerSub, command, conversationID string, isVoice bool) (reply, convID string, status int, errMsg string) {
	var history []llm.Message

	if conversationID != "" {
		if h.store == nil {
			return "", "", http.StatusServiceUnavailable, "conversation store not configured"
		}
		id, err := uuid.Parse(conversationID)
		if err != nil {
			return "", "", http.StatusBadRequest, "invalid conversation ID"
		}
		conv, err := h.store.Get(ctx, ownerSub, id)
		if err != nil {
			return "", "", http.StatusInternalServerError, "failed to load conversation"
		}
		if conv == nil {
			return "", "", http.StatusNotFound, "conversation not found"
		}
		messages, err := h.store.Messages(ctx, ownerSub, id)
		if err != nil {
			return "", "", http.StatusInternalServerError, "failed to load conversation"
		}
		if len(messages) > historyTurns {
			messages = messages[len(messages)-historyTurns:]
		}
		for _, msg := range messages {
			history = append(history, llm.Message{Role: msg.Role, Content: msg.Content})
		}
	}

	reply, err := h.runner.ExecuteCommand(ctx, command, history)
	if err != nil {
		log.Printf("command failed: %v", err)
		return "", "", http.StatusBadGateway, "command failed: " + err.Error()
	}

	if conversationID != "" {
		id, _ := uuid.Parse(conversationID)
		if err := h.store.AppendTurn(ctx, ownerSub, id, command, reply, isVoice); err != nil {
			log.Printf("failed to persist turn: %v", err)
		}
	}

	return reply, conversationID, http.StatusOK, ""
}

type VoiceCommandRequest struct {
	Audio          string `json:"audio,omitempty"` // base64-encoded recording
	Filename       string `json:"filename,omitempty"`
	Text           string `json:"text,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// ExecuteVoiceCommand accepts either recorded audio or already-transcribed
// text (exactly one of the two), runs the command and answers with
// synthesized speech. The transcript and reply text ride along in
// percent-encoded headers so clients need not parse the audio body.
func (h *Handler) ExecuteVoiceCommand(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	if claims == nil {
		writeJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if h.speech == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "speech service not configured")
		return
	}

	var req VoiceCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	hasAudio := strings.TrimSpace(req.Audio) != ""
	hasText := strings.TrimSpace(req.Text) != ""
	if hasAudio == hasText {
		writeJSONError(w, http.StatusBadRequest, "exactly one of audio or text is required")
		return
	}

	command := req.Text
	if hasAudio {
		audio, err := base64.StdEncoding.DecodeString(req.Audio)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid audio encoding")
			return
		}
		filename := req.Filename
		if filename == "" {
			filename = "command.wav"
		}
		command, err = h.speech.Transcribe(r.Context(), audio, filename)
		if err != nil {
			writeJSONError(w, http.StatusBadGateway, "transcription failed: "+err.Error())
			return
		}
		if strings.TrimSpace(command) == "" {
			writeJSONError(w, http.StatusBadRequest, "could not understand audio")
			return
		}
	}

	reply, _, status, errMsg := h.runCommand(r.Context(), claims.Subject, command, req.ConversationID, true)
	if errMsg != "" {
		writeJSONError(w, status, errMsg)
		return
	}

	replyAudio, err := h.speech.Synthesize(r.Context(), reply)
	if err != nil {
		writeJSONError(w, http.StatusBadGateway, "synthesis failed: "+err.Error())
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("X-Transcript", url.PathEscape(command))
	w.Header().Set("X-Reply-Text", url.PathEscape(reply))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(replyAudio)
}

func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	if claims == nil {
		writeJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if h.store == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "conversation store not configured")
		return
	}

	conversations, err := h.store.List(r.Context(), claims.Subject)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}
	if conversations == nil {
		conversations = []*repository.Conversation{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"conversations": conversations})
}

func (h *Handler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	if claims == nil {
		writeJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if h.store == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "conversation store not configured")
		return
	}

	conv, err := h.store.Create(r.Context(), claims.Subject)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to create conversation")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"conversation": conv})
}

func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	if claims == nil {
		writeJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if h.store == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "conversation store not configured")
		return
	}

	convID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid conversation ID")
		return
	}

	conv, err := h.store.Get(r.Context(), claims.Subject, convID)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}
	if conv == nil {
		writeJSONError(w, http.StatusNotFound, "conversation not found")
		return
	}

	messages, err := h.store.Messages(r.Context(), claims.Subject, convID)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	if messages == nil {
		messages = []*repository.Message{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conversation": conv,
		"messages":     messages,
	})
}

type UpdateConversationRequest struct {
	Title string `json:"title"`
}

func (h *Handler) UpdateConversation(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	if claims == nil {
		writeJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if h.store == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "conversation store not configured")
		return
	}

	convID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid conversation ID")
		return
	}

	var req UpdateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeJSONError(w, http.StatusBadRequest, "title is required")
		return
	}

	renamed, err := h.store.Rename(r.Context(), claims.Subject, convID, req.Title)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to update conversation")
		return
	}
	if !renamed {
		writeJSONError(w, http.StatusNotFound, "conversation not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *Handler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	if claims == nil {
		writeJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if h.store == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "conversation store not configured")
		return
	}

	convID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid conversation ID")
		return
	}

	deleted, err := h.store.Delete(r.Context(), claims.Subject, convID)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to delete conversation")
		return
	}
	if !deleted {
		writeJSONError(w, http.StatusNotFound, "conversation not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type WSMessage struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// HandleWebSocket runs an interactive command session over one connection.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	if claims == nil {
		writeJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	session := &ChatSession{
		conn:     conn,
		ownerSub: claims.Subject,
		handler:  h,
	}

	session.run()
}

// ChatSession is one websocket command session. A session holds at most one
// persisted conversation; "new_conversation" detaches it so the next message
// starts a fresh one.
type ChatSession struct {
	conn           *websocket.Conn
	ownerSub       string
	conversationID *uuid.UUID
	handler        *Handler
	writeMu        sync.Mutex
	cancelFunc     context.CancelFunc
}

func (s *ChatSession) run() {
	for {
		_, msgBytes, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		var msg WSMessage
		if err := json.Unmarshal(msgBytes, &msg); err != nil {
			s.sendError("Invalid message format")
			continue
		}

		switch msg.Type {
		case "message":
			s.handleMessage(msg.Content)
		case "cancel":
			if s.cancelFunc != nil {
				s.cancelFunc()
			}
		case "new_conversation":
			s.conversationID = nil
			s.send(WSMessage{Type: "conversation_cleared"})
		}
	}
}

func (s *ChatSession) handleMessage(content string) {
	if strings.TrimSpace(content) == "" {
		return
	}
	if s.handler == nil || s.handler.runner == nil {
		s.sendError("assistant not configured")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	s.cancelFunc = cancel
	defer cancel()

	if s.conversationID == nil && s.handler.store != nil {
		conv, err := s.handler.store.Create(ctx, s.ownerSub)
		if err != nil {
			s.sendError("Failed to create conversation")
			return
		}
		s.conversationID = &conv.ID
		s.send(WSMessage{Type: "conversation_created", Content: conv.ID.String()})
	}

	s.send(WSMessage{Type: "typing"})

	conversationID := ""
	if s.conversationID != nil {
		conversationID = s.conversationID.String()
	}

	reply, _, _, errMsg := s.handler.runCommand(ctx, s.ownerSub, content, conversationID, false)
	if errMsg != "" {
		if ctx.Err() == context.Canceled {
			s.send(WSMessage{Type: "cancelled"})
		} else {
			s.sendError(errMsg)
		}
		return
	}

	s.send(WSMessage{Type: "reply", Content: reply})
	s.send(WSMessage{Type: "done"})
}

func (s *ChatSession) send(msg WSMessage) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.WriteJSON(msg)
}

func (s *ChatSession) sendError(message string) {
	s.send(WSMessage{Type: "error", Content: message})
}
