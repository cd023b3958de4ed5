package internal

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"presencehub/internal/storage"
)

const (
	maxRelayBody        = 1 << 20
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// ErrInvalidPayload is returned for any relay request that does not have the
// expected shape.
var ErrInvalidPayload = errors.New("invalid payload")

const invalidPayloadBody = "Invalid payload"

var validate = validator.New()

// RelayRequest asks for a message to be pushed to the sessions of every
// recipient. Message is forwarded without interpretation.
type RelayRequest struct {
	ConversationID string          `json:"conversationId" validate:"required"`
	Message        json.RawMessage `json:"message" validate:"required"`
	Recipients     []string        `json:"recipients" validate:"required"`
}

// Validate reports ErrInvalidPayload when a field is missing. An empty
// recipients list is valid; a null one is not.
func (r RelayRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if bytes.Equal(bytes.TrimSpace(r.Message), []byte("null")) {
		return fmt.Errorf("%w: message is null", ErrInvalidPayload)
	}
	return nil
}

func decodeRelayRequest(r *http.Request) (RelayRequest, error) {
	var req RelayRequest
	if err := decodeJSON(r, &req); err != nil {
		return RelayRequest{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := req.Validate(); err != nil {
		return RelayRequest{}, err
	}
	return req, nil
}

type presenceResponse struct {
	UserID string `json:"userId"`
	Online bool   `json:"online"`
}

type transitionDTO struct {
	Online bool      `json:"online"`
	At     time.Time `json:"at"`
}

type historyResponse struct {
	UserID      string          `json:"userId"`
	Transitions []transitionDTO `json:"transitions"`
}

// HandleNotify relays a message to the sessions of its recipients. Offline
// recipients are not an error.
func (s *Server) HandleNotify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRelayBody)
	req, err := decodeRelayRequest(r)
	if err != nil {
		s.metrics.IncRelayRejected()
		s.log.Debug("relay rejected", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": invalidPayloadBody})
		return
	}
	s.hub.Relay(req)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// HandleHealth answers the liveness probe.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("WebSocket server running"))
}

func (s *Server) HandlePresence(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	userID := r.URL.Query().Get("user")
	if userID == "" {
		writeError(w, http.StatusBadRequest, errors.New("user is required"))
		return
	}
	writeJSON(w, http.StatusOK, presenceResponse{UserID: userID, Online: s.hub.IsOnline(userID)})
}

func (s *Server) HandlePresenceHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	if s.history == nil {
		http.Error(w, "presence journal disabled", http.StatusNotFound)
		return
	}
	query := r.URL.Query()
	userID := query.Get("user")
	if userID == "" {
		writeError(w, http.StatusBadRequest, errors.New("user is required"))
		return
	}
	limit, err := parseLimit(query.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	transitions, err := s.history.ListTransitions(r.Context(), userID, limit)
	if err != nil {
		s.log.Error("list transitions failed", "user", userID, "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("history unavailable"))
		return
	}
	resp := historyResponse{UserID: userID}
	resp.Transitions = lo.Map(transitions, func(t storage.Transition, _ int) transitionDTO {
		return transitionDTO{Online: t.Online, At: t.At}
	})
	writeJSON(w, http.StatusOK, resp)
}

func parseLimit(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultHistoryLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	return min(limit, maxHistoryLimit), nil
}

func decodeJSON(r *http.Request, out interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
}
