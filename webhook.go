package chatsync

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ============================================================================
// Webhook Types
// ============================================================================

// Webhook event names pushed by the chat backend to server-side integrations.
const (
	WebhookMessageCreated = "message.created"
	WebhookMessageUpdated = "message.updated"
	WebhookMessageDeleted = "message.deleted"
	WebhookChatCreated    = "chat.created"
)

// WebhookPayload is the body the chat backend POSTs to an integration
// endpoint when a chat event fires.
type WebhookPayload struct {
	Source    string      `json:"source"`
	Event     string      `json:"event"`
	Timestamp int64       `json:"timestamp"`
	Message   Message     `json:"message"`
	Sender    Participant `json:"sender"`
	Chat      WebhookChat `json:"chat"`
}

// WebhookChat is the conversation context attached to a webhook payload.
type WebhookChat struct {
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	IsGroup bool   `json:"isGroup"`
}

// WebhookReply is an optional automatic reply from a webhook handler, posted
// back into the conversation.
type WebhookReply struct {
	Content string `json:"content"`
}

// WebhookHandlerFunc handles a verified, parsed webhook payload.
type WebhookHandlerFunc func(payload *WebhookPayload) (*WebhookReply, error)

// ============================================================================
// Standalone Functions
// ============================================================================

// VerifyWebhookSignature checks an HMAC-SHA256 webhook signature in constant
// time. A "sha256=" prefix on the signature is accepted and stripped.
func VerifyWebhookSignature(body, signature, secret string) bool {
	if body == "" || signature == "" || secret == "" {
		return false
	}

	sig := strings.TrimPrefix(signature, "sha256=")
	if sig == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	expected := hex.EncodeToString(mac.Sum(nil))

	if len(sig) != len(expected) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(sig), []byte(expected)) == 1
}

// ParseWebhookPayload parses and validates a raw webhook body.
func ParseWebhookPayload(body string) (*WebhookPayload, error) {
	var payload WebhookPayload
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return nil, fmt.Errorf("invalid JSON in webhook body: %w", err)
	}

	if payload.Source != "ergasia_chat" {
		return nil, fmt.Errorf("unknown webhook source: %s", payload.Source)
	}
	if payload.Event == "" {
		return nil, fmt.Errorf("missing event field in webhook payload")
	}
	if payload.Chat.ID == "" || payload.Sender.UserID == "" {
		return nil, fmt.Errorf("missing required fields in webhook payload (chat, sender)")
	}

	payload.Message.Kind = KindConfirmed
	return &payload, nil
}

// ============================================================================
// Webhook
// ============================================================================

// Webhook verifies, parses, and dispatches chat backend webhooks for
// server-side integrations (bots, notification relays).
type Webhook struct {
	secret    string
	onMessage WebhookHandlerFunc
}

// NewWebhook creates a webhook dispatcher with the shared signing secret.
func NewWebhook(secret string, onMessage WebhookHandlerFunc) (*Webhook, error) {
	if secret == "" {
		return nil, fmt.Errorf("webhook secret is required")
	}
	return &Webhook{secret: secret, onMessage: onMessage}, nil
}

// Verify checks the request signature against the shared secret.
func (w *Webhook) Verify(body, signature string) bool {
	return VerifyWebhookSignature(body, signature, w.secret)
}

// Parse parses a raw body into a typed WebhookPayload.
func (w *Webhook) Parse(body string) (*WebhookPayload, error) {
	return ParseWebhookPayload(body)
}

// Handle runs verify + parse + handler and returns the status code and
// response body for the caller to write.
func (w *Webhook) Handle(body, signature string) (int, interface{}) {
	if !w.Verify(body, signature) {
		return http.StatusUnauthorized, map[string]string{"error": "Invalid signature"}
	}

	payload, err := w.Parse(body)
	if err != nil {
		return http.StatusBadRequest, map[string]string{"error": err.Error()}
	}

	reply, err := w.onMessage(payload)
	if err != nil {
		return http.StatusInternalServerError, map[string]string{"error": err.Error()}
	}

	if reply != nil {
		return http.StatusOK, reply
	}
	return http.StatusOK, map[string]bool{"ok": true}
}

// HTTPHandler returns an http.Handler that processes webhook requests.
//
// Example:
//
//	wh, _ := chatsync.NewWebhook("secret", handler)
//	http.Handle("/webhook", wh.HTTPHandler())
func (w *Webhook) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "application/json")

		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			json.NewEncoder(rw).Encode(map[string]string{"error": "Method not allowed"})
			return
		}

		bodyBytes, err := io.ReadAll(r.Body)
		if err != nil {
			rw.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(rw).Encode(map[string]string{"error": "Failed to read body"})
			return
		}
		defer r.Body.Close()

		statusCode, data := w.Handle(string(bodyBytes), r.Header.Get("X-Chat-Signature"))

		rw.WriteHeader(statusCode)
		json.NewEncoder(rw).Encode(data)
	})
}
