package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"labkeeper.org/internal/audit"
	"labkeeper.org/internal/auth"
	"labkeeper.org/internal/obs"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	Account   auth.Account `json:"account"`
}

type setPasswordRequest struct {
	Password string `json:"password"`
}

const (
	msgInvalidCredentials = "invalid username or password"
	msgUnavailable        = "service temporarily unavailable"
)

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	res, err := a.auth.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			writeError(w, r, http.StatusUnauthorized, msgInvalidCredentials)
		case errors.Is(err, auth.ErrStoreUnavailable):
			obs.Log("error", "credential store unavailable", map[string]any{
				"request_id": RequestIDFromContext(r.Context()),
				"error":      err.Error(),
			})
			writeError(w, r, http.StatusServiceUnavailable, msgUnavailable)
		default:
			obs.Log("error", "login failed", map[string]any{
				"request_id": RequestIDFromContext(r.Context()),
				"error":      err.Error(),
			})
			writeError(w, r, http.StatusInternalServerError, "internal error")
		}
		return
	}
	auth.LogResult(RequestIDFromContext(r.Context()), res)

	token, expiresAt, err := a.tokens.Issue(res.Account)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.login", map[string]any{
		"account_id": res.Account.ID,
		"format":     string(res.Format),
		"migrated":   res.Migrated(),
		"expires_at": expiresAt.Format(time.RFC3339),
	})

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		Account:   res.Account,
	})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	userID, _ := auth.UserIDFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"account_id": userID,
		"roles":      auth.RolesFromContext(r.Context()),
	})
}

func (a *API) handleUsernameAvailable(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	username := r.URL.Query().Get("username")
	taken, err := a.auth.UsernameTaken(r.Context(), username)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidInput) {
			writeError(w, r, http.StatusBadRequest, "username is required")
			return
		}
		obs.Log("error", "username lookup failed", map[string]any{
			"request_id": RequestIDFromContext(r.Context()),
			"error":      err.Error(),
		})
		writeError(w, r, http.StatusServiceUnavailable, msgUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"username":  username,
		"available": !taken,
	})
}

func (a *API) handleSetPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	target, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || target <= 0 {
		writeError(w, r, http.StatusBadRequest, "invalid account id")
		return
	}
	userID, _ := auth.UserIDFromContext(r.Context())
	if userID != strconv.FormatInt(target, 10) && !auth.HasRole(r.Context(), "admin") {
		writeError(w, r, http.StatusForbidden, "forbidden")
		return
	}

	var req setPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "password is required")
		return
	}

	if err := a.auth.SetPassword(r.Context(), userID, target, req.Password); err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidInput):
			writeError(w, r, http.StatusBadRequest, err.Error())
		case errors.Is(err, auth.ErrNotFound):
			writeError(w, r, http.StatusNotFound, "account not found")
		default:
			obs.Log("error", "set password failed", map[string]any{
				"request_id": RequestIDFromContext(r.Context()),
				"account_id": target,
				"error":      err.Error(),
			})
			writeError(w, r, http.StatusServiceUnavailable, msgUnavailable)
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
