package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/iamakashsinghrajput/BookHaven/internal/ratelimit"
	"github.com/iamakashsinghrajput/BookHaven/internal/security"
	"github.com/iamakashsinghrajput/BookHaven/internal/util"
	"github.com/iamakashsinghrajput/BookHaven/pkg/domain"
	"github.com/iamakashsinghrajput/BookHaven/services/bookhaven/internal/app"
	"github.com/redis/go-redis/v9"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App                          *app.App
	Redis                        redis.UniversalClient
	TrustedProxies               *util.TrustedProxies
	AllowedOrigins               []string
	LoginRateLimitPerMinute      int
	RegisterRateLimitPerMinute   int
	DeleteCodeRateLimitPerMinute int
	// Files serves presigned object links under /files/ when the object
	// store has no server of its own.
	Files http.Handler
}

// Server exposes the BookHaven HTTP API.
type Server struct {
	app               *app.App
	mux               *http.ServeMux
	trusted           *util.TrustedProxies
	allowedOrigins    []string
	alerter           *security.AuditAlerter
	loginLimiter      *ratelimit.FixedWindowLimiter
	registerLimiter   *ratelimit.FixedWindowLimiter
	deleteCodeLimiter *ratelimit.FixedWindowLimiter
	files             http.Handler
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("server: app is required")
	}
	loginLimit := cfg.LoginRateLimitPerMinute
	if loginLimit <= 0 {
		loginLimit = 10
	}
	registerLimit := cfg.RegisterRateLimitPerMinute
	if registerLimit <= 0 {
		registerLimit = 5
	}
	deleteCodeLimit := cfg.DeleteCodeRateLimitPerMinute
	if deleteCodeLimit <= 0 {
		deleteCodeLimit = 5
	}
	rateWindow := time.Minute
	newLimiter := func(name string, limit int) (*ratelimit.FixedWindowLimiter, error) {
		limiter, err := ratelimit.NewFixedWindowLimiter(cfg.Redis, "bookhaven:ratelimit:"+name, limit, rateWindow)
		if err != nil {
			return nil, fmt.Errorf("init %s limiter: %w", name, err)
		}
		return limiter, nil
	}
	loginLimiter, err := newLimiter("login", loginLimit)
	if err != nil {
		return nil, err
	}
	registerLimiter, err := newLimiter("register", registerLimit)
	if err != nil {
		return nil, err
	}
	deleteCodeLimiter, err := newLimiter("delete-code", deleteCodeLimit)
	if err != nil {
		return nil, err
	}
	s := &Server{
		app:               cfg.App,
		mux:               http.NewServeMux(),
		trusted:           cfg.TrustedProxies,
		allowedOrigins:    cfg.AllowedOrigins,
		alerter:           security.NewAuditAlerter(cfg.Redis, "bookhaven:alerts"),
		loginLimiter:      loginLimiter,
		registerLimiter:   registerLimiter,
		deleteCodeLimiter: deleteCodeLimiter,
		files:             cfg.Files,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	var h http.Handler = s.mux
	h = util.WithCORS(s.allowedOrigins, h)
	h = util.WithSecurityHeaders(h)
	h = util.WithRequestLog("bookhaven", s.trusted, h)
	return util.WithRequestID(h)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// auth
	s.mux.HandleFunc("/api/auth/register", s.handleRegister)
	s.mux.HandleFunc("/api/auth/verify-email", s.handleVerifyEmail)
	s.mux.HandleFunc("/api/auth/login", s.handleLogin)
	s.mux.HandleFunc("/api/auth/logout", s.handleLogout)
	s.mux.Handle("/api/users/me", s.authenticated(s.handleMe))

	// papers
	s.mux.HandleFunc("/api/papers", s.handlePapers)
	s.mux.Handle("/api/papers/mine", s.authenticated(s.handleMyPapers))
	s.mux.HandleFunc("/api/papers/", s.handlePaperByID)
	s.mux.Handle("/api/recommendations", s.authenticated(s.handleRecommendations))
	s.mux.Handle("/api/activities", s.authenticated(s.handleActivities))
	s.mux.Handle("/api/payments/orders", s.authenticated(s.handleCreateOrder))
	s.mux.Handle("/api/payments/verify", s.authenticated(s.handleVerifyPayment))

	// admin
	s.mux.Handle("/api/admin/papers", s.adminOnly(s.handleAdminPapers))
	s.mux.Handle("/api/admin/papers/", s.adminOnly(s.handleAdminPaperByID))
	s.mux.Handle("/api/admin/rewards", s.adminOnly(s.handleAdminRewards))
	s.mux.Handle("/api/admin/rewards/", s.adminOnly(s.handleAdminRewardByID))
	s.mux.Handle("/api/admin/admins", s.adminOnly(s.handleAdmins))
	s.mux.Handle("/api/admin/password", s.adminOnly(s.handleAdminPassword))

	if s.files != nil {
		s.mux.Handle("/files/", http.StripPrefix("/files", s.files))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.authorize(w, r)
		if !ok {
			return
		}
		next(w, r, user)
	})
}

func (s *Server) adminOnly(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.authorize(w, r)
		if !ok {
			return
		}
		if user.Role != domain.RoleAdmin {
			s.audit(r, security.EventAdminAccess, security.OutcomeFail, "user_id", user.ID, "reason", "forbidden")
			writeError(w, r, http.StatusForbidden, "FORBIDDEN", "forbidden")
			return
		}
		next(w, r, user)
	})
}

// authorize resolves the bearer token, writing 401 when it cannot.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request) (domain.User, bool) {
	token, ok := bearerToken(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return domain.User{}, false
	}
	user, err := s.app.Authenticate(r.Context(), token)
	if err != nil {
		if !errors.Is(err, app.ErrUnauthenticated) {
			s.writeAppError(w, r, err, "")
			return domain.User{}, false
		}
		writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return domain.User{}, false
	}
	return user, true
}

// optionalUser resolves a bearer token if one is sent; anonymous otherwise.
func (s *Server) optionalUser(r *http.Request) domain.User {
	token, ok := bearerToken(r)
	if !ok {
		return domain.User{}
	}
	user, err := s.app.Authenticate(r.Context(), token)
	if err != nil {
		return domain.User{}
	}
	return user
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

func decodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Field     string `json:"field,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code, RequestID: util.RequestIDFromRequest(r)})
}

func queryInt(r *http.Request, name string) int {
	n, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get(name)))
	if err != nil {
		return 0
	}
	return n
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	ip := util.ClientIP(r, s.trusted)
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", ip,
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)
	s.alerter.Record(r.Context(), event, outcome, ip)
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	key := r.URL.Path + "|" + util.ClientIP(r, s.trusted)
	decision := limiter.Allow(r.Context(), key)
	if decision.Allowed {
		return true
	}
	retry := int(decision.RetryAfter.Round(time.Second) / time.Second)
	if retry <= 0 {
		retry = 60
	}
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	writeError(w, r, http.StatusTooManyRequests, "RATE_LIMITED", msg)
	return false
}

// errorCode prefixes machine codes for resource-specific failures, e.g.
// PAPER_NOT_FOUND or DELETE_CODE_INVALID.
func errorCode(scope, base string) string {
	if scope == "" {
		return base
	}
	return scope + "_" + base
}

func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error, scope string) {
	var verr *app.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:     verr.Error(),
			Code:      "VALIDATION_FAILED",
			Field:     verr.Field,
			RequestID: util.RequestIDFromRequest(r),
		})
	case errors.Is(err, app.ErrUnauthenticated):
		writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
	case errors.Is(err, app.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, "INVALID_CREDENTIALS", err.Error())
	case errors.Is(err, app.ErrUserDisabled):
		writeError(w, r, http.StatusForbidden, "USER_DISABLED", "account disabled")
	case errors.Is(err, app.ErrEmailNotVerified):
		writeError(w, r, http.StatusForbidden, "EMAIL_NOT_VERIFIED", err.Error())
	case errors.Is(err, app.ErrDeleteNotPermitted):
		writeError(w, r, http.StatusForbidden, "DELETE_NOT_PERMITTED", "paper not found or email does not match the uploader")
	case errors.Is(err, app.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "FORBIDDEN", "forbidden")
	case errors.Is(err, app.ErrNotFound):
		writeError(w, r, http.StatusNotFound, errorCode(scope, "NOT_FOUND"), "not found")
	case errors.Is(err, app.ErrCodeMismatch):
		writeError(w, r, http.StatusBadRequest, errorCode(scope, "CODE_INVALID"), err.Error())
	case errors.Is(err, app.ErrCodeNotFoundOrExpired):
		writeError(w, r, http.StatusBadRequest, errorCode(scope, "CODE_EXPIRED"), err.Error())
	case errors.Is(err, app.ErrTooManyAttempts):
		writeError(w, r, http.StatusTooManyRequests, errorCode(scope, "CODE_LOCKED"), err.Error())
	case errors.Is(err, app.ErrInvalidTransition):
		writeError(w, r, http.StatusConflict, errorCode(scope, "INVALID_TRANSITION"), err.Error())
	case errors.Is(err, app.ErrEmailAlreadyExists):
		writeError(w, r, http.StatusConflict, "EMAIL_EXISTS", err.Error())
	case errors.Is(err, app.ErrPaperUnavailable):
		writeError(w, r, http.StatusConflict, "PAPER_UNAVAILABLE", err.Error())
	case errors.Is(err, app.ErrPaymentInvalid):
		writeError(w, r, http.StatusBadRequest, "PAYMENT_INVALID", err.Error())
	case errors.Is(err, app.ErrPaymentsDisabled):
		writeError(w, r, http.StatusServiceUnavailable, "PAYMENTS_DISABLED", err.Error())
	default:
		util.LoggerFromContext(r.Context()).Error("request_failed", "path", r.URL.Path, "err", err)
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", "internal server error")
	}
}
