package voice

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/twilio/twilio-go/client"
	"go.uber.org/zap"

	"github.com/ziadkadry99/voicedesk/internal/twiml"
)

// Webhook paths, relative to the public base URL.
const (
	IncomingPath = "/voice/incoming"
	StatusPath   = "/voice/status"
)

// SignatureValidator checks the X-Twilio-Signature header against the
// public URL the gateway signed.
type SignatureValidator struct {
	baseURL   string
	validator client.RequestValidator
	logger    *zap.Logger
}

// NewSignatureValidator creates a validator for requests signed with authToken.
func NewSignatureValidator(authToken, baseURL string, logger *zap.Logger) *SignatureValidator {
	return &SignatureValidator{
		baseURL:   strings.TrimRight(baseURL, "/"),
		validator: client.NewRequestValidator(authToken),
		logger:    logger,
	}
}

// Middleware rejects unsigned or mis-signed requests with 403 before they
// reach a handler.
func (v *SignatureValidator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		url := v.baseURL + r.URL.Path
		if r.URL.RawQuery != "" {
			url += "?" + r.URL.RawQuery
		}

		params := make(map[string]string, len(r.PostForm))
		for k, vals := range r.PostForm {
			if len(vals) > 0 {
				params[k] = vals[0]
			}
		}

		sig := r.Header.Get("X-Twilio-Signature")
		if sig == "" || !v.validator.Validate(url, params, sig) {
			v.logger.Warn("rejected webhook with invalid signature",
				zap.String("path", r.URL.Path),
				zap.String("call_sid", r.PostForm.Get("CallSid")))
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Handler serves the voice webhooks.
type Handler struct {
	orch   *Orchestrator
	logger *zap.Logger
}

// NewHandler creates webhook handlers for orch.
func NewHandler(orch *Orchestrator, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{orch: orch, logger: logger}
}

// RegisterRoutes mounts the webhooks. A nil validator disables signature checks.
func (h *Handler) RegisterRoutes(r chi.Router, validator *SignatureValidator) {
	r.Group(func(r chi.Router) {
		if validator != nil {
			r.Use(validator.Middleware)
		}
		r.Post(IncomingPath, h.handleIncoming)
		r.Post(StatusPath, h.handleStatus)
	})
}

func (h *Handler) handleIncoming(w http.ResponseWriter, r *http.Request) {
	// The gateway drops the call on any non-TwiML reply, so even a panic
	// must produce a document.
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("panic handling voice webhook", zap.Any("panic", rec), zap.Stack("stack"))
			writeTwiML(w, h.orch.Fallback())
		}
	}()

	if err := r.ParseForm(); err != nil {
		h.logger.Warn("parsing voice webhook form", zap.Error(err))
		writeTwiML(w, h.orch.Fallback())
		return
	}

	req := TurnRequest{
		CallSid:   r.PostForm.Get("CallSid"),
		To:        r.PostForm.Get("To"),
		From:      r.PostForm.Get("From"),
		Utterance: strings.TrimSpace(r.PostForm.Get("SpeechResult")),
	}
	if req.CallSid == "" {
		h.logger.Warn("voice webhook without CallSid")
		writeTwiML(w, h.orch.Fallback())
		return
	}

	writeTwiML(w, h.orch.HandleTurn(r.Context(), req))
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	// Twilio retries non-2xx status callbacks, so malformed ones are acknowledged.
	if err := r.ParseForm(); err != nil {
		h.logger.Warn("unparseable status callback", zap.Error(err))
		w.WriteHeader(http.StatusOK)
		return
	}
	callSid := r.PostForm.Get("CallSid")
	if callSid == "" {
		h.logger.Warn("status callback without CallSid", zap.String("status", r.PostForm.Get("CallStatus")))
		w.WriteHeader(http.StatusOK)
		return
	}

	duration, _ := strconv.Atoi(r.PostForm.Get("CallDuration"))
	h.orch.HandleStatus(r.Context(), StatusRequest{
		CallSid:  callSid,
		Status:   r.PostForm.Get("CallStatus"),
		Duration: duration,
	})
	w.WriteHeader(http.StatusOK)
}

func writeTwiML(w http.ResponseWriter, doc twiml.Document) {
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(doc.String()))
}
