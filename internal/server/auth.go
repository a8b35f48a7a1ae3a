package server

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"github.com/HarshitKumar9030/jetvein/internal/auth"
	"github.com/HarshitKumar9030/jetvein/internal/gate"
	"github.com/HarshitKumar9030/jetvein/internal/users"
	"github.com/HarshitKumar9030/jetvein/internal/validation"
	"github.com/HarshitKumar9030/jetvein/pkg/apierr"
)

type (
	signinRequest struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}

	// sessionRecord is what the shared store keeps per issued token, keyed by
	// the token ID.
	sessionRecord struct {
		UserID    string    `json:"userId"`
		Name      string    `json:"name"`
		Email     string    `json:"email"`
		CreatedAt time.Time `json:"createdAt"`
		ExpiresAt time.Time `json:"expiresAt"`
		IP        string    `json:"ip"`
		UserAgent string    `json:"userAgent,omitempty"`
	}

	sessionUser struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Email string `json:"email"`
	}
)

func writeDatabaseConfigError(ctx *fasthttp.RequestCtx) {
	apierr.WriteError(ctx, fasthttp.StatusInternalServerError, apierr.APIError{
		Error:   "Database configuration error",
		Code:    apierr.CodeConfig,
		Message: "DATABASE_URL is not configured",
	})
}

func (s *Server) handleSignup(ctx *fasthttp.RequestCtx) {
	if s.deps.Users == nil {
		writeDatabaseConfigError(ctx)
		return
	}

	var req validation.SignupRequest
	if !decodeBody(ctx, &req) {
		return
	}
	if problems := validation.ValidateSignup(&req); len(problems) > 0 {
		apierr.WriteValidation(ctx, problems)
		return
	}
	req.Normalize()

	available, err := s.deps.Users.EmailAvailable(ctx, req.Email)
	if err != nil {
		s.log.ErrorContext(ctx, "signup_lookup_failed", slog.String("error", err.Error()))
		apierr.WriteInternal(ctx)
		return
	}
	if !available {
		writeUserExists(ctx)
		return
	}

	hash, err := auth.HashPassword(req.Password, s.deps.BcryptCost)
	if errors.Is(err, auth.ErrPasswordTooLong) {
		apierr.WriteValidation(ctx, []string{"Password must be at most 72 bytes"})
		return
	}
	if err != nil {
		s.log.ErrorContext(ctx, "signup_hash_failed", slog.String("error", err.Error()))
		apierr.WriteInternal(ctx)
		return
	}

	now := s.now().UTC()
	u := &users.User{
		ID:           uuid.NewString(),
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	switch err := s.deps.Users.Create(ctx, u); {
	case errors.Is(err, users.ErrEmailTaken):
		writeUserExists(ctx)
		return
	case err != nil:
		s.log.ErrorContext(ctx, "signup_create_failed", slog.String("error", err.Error()))
		apierr.WriteInternal(ctx)
		return
	}

	s.log.InfoContext(ctx, "user_created",
		slog.String("user_id", u.ID),
		slog.String("request_id", gate.RequestID(ctx)),
	)
	writeJSON(ctx, fasthttp.StatusCreated, map[string]any{
		"message": "Account created successfully",
		"user":    u.Public(),
	})
}

func writeUserExists(ctx *fasthttp.RequestCtx) {
	apierr.Write(ctx, fasthttp.StatusConflict, "An account with this email already exists", apierr.CodeUserExists)
}

func (s *Server) handleEmailAvailability(ctx *fasthttp.RequestCtx) {
	email := strings.TrimSpace(string(ctx.QueryArgs().Peek("email")))
	if email == "" {
		apierr.Write(ctx, fasthttp.StatusBadRequest, "Email parameter is required", apierr.CodeValidation)
		return
	}
	if !validation.ValidEmail(email) {
		apierr.Write(ctx, fasthttp.StatusBadRequest, "Invalid email format", apierr.CodeValidation)
		return
	}
	if s.deps.Users == nil {
		writeDatabaseConfigError(ctx)
		return
	}

	available, err := s.deps.Users.EmailAvailable(ctx, email)
	if err != nil {
		s.log.ErrorContext(ctx, "email_check_failed", slog.String("error", err.Error()))
		apierr.Write(ctx, fasthttp.StatusInternalServerError, "Failed to check email availability", apierr.CodeInternal)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{
		"available": available,
		"email":     users.NormalizeEmail(email),
	})
}

func (s *Server) handleSignin(ctx *fasthttp.RequestCtx) {
	if s.deps.Users == nil {
		writeDatabaseConfigError(ctx)
		return
	}

	var req signinRequest
	if !decodeBody(ctx, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		apierr.WriteValidation(ctx, []string{"Email and password are required"})
		return
	}

	u, err := s.deps.Users.FindByEmail(ctx, req.Email)
	switch {
	case errors.Is(err, users.ErrNotFound):
		s.deps.Metrics.RecordAuthGate("signin_failed")
		writeInvalidCredentials(ctx)
		return
	case err != nil:
		s.log.ErrorContext(ctx, "signin_lookup_failed", slog.String("error", err.Error()))
		apierr.WriteInternal(ctx)
		return
	}
	if !auth.CheckPassword(u.PasswordHash, req.Password) {
		s.deps.Metrics.RecordAuthGate("signin_failed")
		writeInvalidCredentials(ctx)
		return
	}

	token, claims, err := s.deps.Tokens.Issue(auth.Identity{ID: u.ID, Name: u.Name, Email: u.Email})
	if err != nil {
		s.log.ErrorContext(ctx, "token_issue_failed", slog.String("error", err.Error()))
		apierr.WriteInternal(ctx)
		return
	}

	if s.deps.Cache != nil {
		rec := sessionRecord{
			UserID:    u.ID,
			Name:      u.Name,
			Email:     u.Email,
			CreatedAt: claims.IssuedAt.Time,
			ExpiresAt: claims.ExpiresAt.Time,
			IP:        gate.ClientIP(ctx),
			UserAgent: string(ctx.UserAgent()),
		}
		if err := s.deps.Cache.CreateSession(ctx, claims.ID, rec, s.deps.Tokens.TTL()); err != nil {
			s.log.WarnContext(ctx, "session_record_failed",
				slog.String("user_id", u.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.deps.Tokens.SetCookie(ctx, token, s.deps.SecureCookies)
	s.deps.Metrics.RecordAuthGate("signin_ok")
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{
		"user":      u.Public(),
		"token":     token,
		"expiresAt": claims.ExpiresAt.Time.UTC(),
	})
}

func writeInvalidCredentials(ctx *fasthttp.RequestCtx) {
	apierr.Write(ctx, fasthttp.StatusUnauthorized, "Invalid email or password", apierr.CodeInvalidCredentials)
}

// handleSignout always expires the cookie. The session record is deleted
// when the presented token is still valid.
func (s *Server) handleSignout(ctx *fasthttp.RequestCtx) {
	if claims, err := s.deps.Tokens.FromRequest(ctx); err == nil && s.deps.Cache != nil {
		if err := s.deps.Cache.DeleteSession(ctx, claims.ID); err != nil {
			s.log.WarnContext(ctx, "session_delete_failed",
				slog.String("user_id", claims.UserID()),
				slog.String("error", err.Error()),
			)
		}
	}
	s.deps.Tokens.ClearCookie(ctx)
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleSession(ctx *fasthttp.RequestCtx) {
	claims, ok := gate.Session(ctx)
	if !ok {
		apierr.WriteUnauthorized(ctx)
		return
	}
	if s.deps.Cache == nil {
		writeStoreConfigError(ctx)
		return
	}

	var rec sessionRecord
	if res := s.deps.Cache.GetSession(ctx, claims.ID, &rec); res.Hit() {
		writeJSON(ctx, fasthttp.StatusOK, map[string]any{
			"user":      sessionUser{ID: rec.UserID, Name: rec.Name, Email: rec.Email},
			"expiresAt": rec.ExpiresAt,
			"source":    "store",
		})
		return
	}

	writeJSON(ctx, fasthttp.StatusOK, map[string]any{
		"user":      sessionUser{ID: claims.UserID(), Name: claims.Name, Email: claims.Email},
		"expiresAt": claims.ExpiresAt.Time.UTC(),
		"source":    "token",
	})
}

func writeStoreConfigError(ctx *fasthttp.RequestCtx) {
	apierr.WriteError(ctx, fasthttp.StatusServiceUnavailable, apierr.APIError{
		Error:   "Shared store not configured",
		Code:    apierr.CodeConfig,
		Message: "REDIS_URL is not configured",
	})
}
