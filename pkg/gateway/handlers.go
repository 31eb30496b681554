package gateway

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"orbital-hq/callisto/pkg/catalog"
	"orbital-hq/callisto/pkg/config"
	"orbital-hq/callisto/pkg/stream"
	"orbital-hq/callisto/pkg/telemetry/logging"
	"orbital-hq/callisto/pkg/translate"
)

const maxRequestBody = 32 << 20 // 32MB

// Handler serves the inbound Messages protocol.
type Handler struct {
	orch    *Orchestrator
	catalog *catalog.Catalog
	auth    config.AuthConfig
	log     *logging.Logger
}

// NewHandler creates the protocol handler set.
func NewHandler(orch *Orchestrator, cat *catalog.Catalog, auth config.AuthConfig, log *logging.Logger) *Handler {
	return &Handler{
		orch:    orch,
		catalog: cat,
		auth:    auth,
		log:     log.Component("handler"),
	}
}

// Messages handles POST /v1/messages for both streaming and
// non-streaming requests.
func (h *Handler) Messages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteError(w, &TerminalError{Status: 405, Type: "invalid_request_error", Message: "method not allowed"})
		return
	}

	var req translate.MessagesRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(&req); err != nil {
		WriteError(w, &TerminalError{Status: 400, Type: "invalid_request_error", Message: "invalid request body: " + err.Error()})
		return
	}
	if req.Model == "" {
		WriteError(w, &TerminalError{Status: 400, Type: "invalid_request_error", Message: "model is required"})
		return
	}
	if len(req.Messages) == 0 {
		WriteError(w, &TerminalError{Status: 400, Type: "invalid_request_error", Message: "messages must not be empty"})
		return
	}

	if req.Stream {
		h.serveStream(w, r, &req)
		return
	}
	h.serveComplete(w, r, &req)
}

// CountTokens handles POST /v1/messages/count_tokens.
func (h *Handler) CountTokens(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteError(w, &TerminalError{Status: 405, Type: "invalid_request_error", Message: "method not allowed"})
		return
	}

	var req translate.MessagesRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(&req); err != nil {
		WriteError(w, &TerminalError{Status: 400, Type: "invalid_request_error", Message: "invalid request body: " + err.Error()})
		return
	}
	if req.Model == "" {
		WriteError(w, &TerminalError{Status: 400, Type: "invalid_request_error", Message: "model is required"})
		return
	}
	if len(req.Messages) == 0 {
		WriteError(w, &TerminalError{Status: 400, Type: "invalid_request_error", Message: "messages must not be empty"})
		return
	}

	count, err := h.orch.CountTokens(r.Context(), &req)
	if err != nil {
		h.log.WarnContext(r.Context(), "count_tokens failed", "model", req.Model, "error", err)
		WriteError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]int64{"input_tokens": count})
}

func (h *Handler) serveComplete(w http.ResponseWriter, r *http.Request, req *translate.MessagesRequest) {
	msg, err := h.orch.Complete(r.Context(), req)
	if err != nil {
		h.log.WarnContext(r.Context(), "request failed", "model", req.Model, "error", err)
		WriteError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(msg)
}

func (h *Handler) serveStream(w http.ResponseWriter, r *http.Request, req *translate.MessagesRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, &TerminalError{Status: 500, Type: "api_error", Message: "streaming unsupported"})
		return
	}

	headersSent := false
	emit := func(ev stream.Event) error {
		if !headersSent {
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("Connection", "keep-alive")
			w.WriteHeader(http.StatusOK)
			headersSent = true
		}
		if err := ev.WriteSSE(w); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	err := h.orch.Stream(r.Context(), req, emit)
	if err == nil {
		return
	}
	h.log.WarnContext(r.Context(), "stream failed", "model", req.Model, "error", err)

	if errors.Is(err, ErrStreamStarted) {
		// Too late for a status code; terminate in-band.
		term := asTerminal(err)
		ev := stream.ErrorEvent(term.Type, term.Message)
		_ = ev.WriteSSE(w)
		flusher.Flush()
		return
	}
	WriteError(w, err)
}

type modelInfo struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	DisplayName string `json:"display_name"`
}

type modelListBody struct {
	Data []modelInfo `json:"data"`
}

// Models handles GET /v1/models.
func (h *Handler) Models(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, &TerminalError{Status: 405, Type: "invalid_request_error", Message: "method not allowed"})
		return
	}

	body := modelListBody{Data: []modelInfo{}}
	for _, id := range h.catalog.IDs() {
		body.Data = append(body.Data, modelInfo{
			ID:          id,
			Type:        "model",
			DisplayName: displayName(id),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

// displayName turns a served model id into a readable label.
func displayName(id string) string {
	words := strings.Split(id, "-")
	for i, word := range words {
		if word == "" {
			continue
		}
		words[i] = strings.ToUpper(word[:1]) + word[1:]
	}
	return strings.Join(words, " ")
}

// Health handles GET /health. Liveness only.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// Authenticate enforces the shared API key when one is configured. The
// key may arrive in x-api-key or as an Authorization bearer token.
func (h *Handler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.auth.APIKey == "" {
			next.ServeHTTP(w, r)
			return
		}
		presented := r.Header.Get("x-api-key")
		if presented == "" {
			auth := r.Header.Get("Authorization")
			if strings.HasPrefix(auth, "Bearer ") {
				presented = strings.TrimPrefix(auth, "Bearer ")
			}
		}
		if subtle.ConstantTimeCompare([]byte(presented), []byte(h.auth.APIKey)) != 1 {
			WriteError(w, &TerminalError{Status: 401, Type: "authentication_error", Message: "invalid api key"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
