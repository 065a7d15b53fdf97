package functions

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gp-webrtc/gp-webrtc-ios/pkg/contracts"
	"github.com/gp-webrtc/gp-webrtc-ios/pkg/store"
)

// Handler serves the token functions over a store. It backs local
// emulation and the client tests.
type Handler struct {
	store      store.Store
	clock      func() time.Time
	signingKey []byte
	logger     *slog.Logger
}

func NewHandler(s store.Store) *Handler {
	return &Handler{
		store:  s,
		clock:  time.Now,
		logger: slog.Default().With("component", "functions.handler"),
	}
}

// WithClock overrides the time source used for modification dates.
func (h *Handler) WithClock(clock func() time.Time) *Handler {
	h.clock = clock
	return h
}

// WithSigningKey makes the handler verify HS256 ID tokens with key and only
// accept requests for the user the token names. Without a key any bearer
// token is accepted.
func (h *Handler) WithSigningKey(key []byte) *Handler {
	h.signingKey = key
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, StatusInvalidArgument, "method not allowed")
		return
	}
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || raw == "" {
		writeError(w, http.StatusUnauthorized, StatusUnauthenticated, "missing bearer token")
		return
	}
	var caller string
	if h.signingKey != nil {
		claims, err := verifyIDToken(raw, h.signingKey, h.clock())
		if err != nil {
			h.logger.InfoContext(r.Context(), "rejected id token", "error", err)
			writeError(w, http.StatusUnauthorized, StatusUnauthenticated, "invalid or expired id token")
			return
		}
		caller = claims.User()
	}
	forbidden := func(userID string) bool {
		if caller == "" || userID == caller {
			return false
		}
		writeError(w, http.StatusForbidden, StatusPermission, "token does not belong to the caller")
		return true
	}

	name := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	switch name {
	case InsertOrUpdateTokenFunction:
		var req struct {
			Data contracts.InsertOrUpdateTokenBody `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, StatusInvalidArgument, "malformed request body")
			return
		}
		body := req.Data
		tokens := body.DeviceToken.APNSToken
		if body.UserID == "" || body.TokenID == "" || tokens.APNS == "" || tokens.VoIP == "" {
			writeError(w, http.StatusBadRequest, StatusInvalidArgument, "userId, tokenId, apns and voip are required")
			return
		}
		if forbidden(body.UserID) {
			return
		}
		rec := contracts.RegistrationRecord{
			APNSToken:        tokens.APNS,
			VoIPToken:        tokens.VoIP,
			Environment:      contracts.ParseEnvironment(string(tokens.Environment)),
			ModificationDate: h.clock().UTC(),
		}
		if err := h.store.Upsert(r.Context(), store.Key{UserID: body.UserID, TokenID: body.TokenID}, rec); err != nil {
			h.logger.ErrorContext(r.Context(), "upsert failed", "error", err)
			writeError(w, http.StatusInternalServerError, StatusInternal, "failed to store token")
			return
		}

	case DeleteTokenFunction:
		var req struct {
			Data contracts.DeleteTokenBody `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, StatusInvalidArgument, "malformed request body")
			return
		}
		if forbidden(req.Data.UserID) {
			return
		}
		key := store.Key{UserID: req.Data.UserID, TokenID: req.Data.TokenID}
		if err := h.store.Delete(r.Context(), key); err != nil {
			if errors.Is(err, store.ErrInvalidKey) {
				writeError(w, http.StatusBadRequest, StatusInvalidArgument, err.Error())
				return
			}
			h.logger.ErrorContext(r.Context(), "delete failed", "error", err)
			writeError(w, http.StatusInternalServerError, StatusInternal, "failed to delete token")
			return
		}

	default:
		writeError(w, http.StatusNotFound, StatusNotFound, "unknown function")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"result":null}`))
}

func writeError(w http.ResponseWriter, code int, status, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(callResponse{Error: &callErrorBody{Status: status, Message: message}})
}
