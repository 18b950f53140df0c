package server

import (
	"io"
	"net/http"
	"time"

	"github.com/iamakashsinghrajput/BookHaven/internal/security"
	"github.com/iamakashsinghrajput/BookHaven/pkg/domain"
	"github.com/iamakashsinghrajput/BookHaven/services/bookhaven/internal/app"
)

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Mobile   string `json:"mobile"`
}

type registerResponse struct {
	User          domain.User `json:"user"`
	CodeExpiresAt time.Time   `json:"codeExpiresAt"`
}

type verifyEmailRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	if !s.allowRate(w, r, s.registerLimiter, "too many signup attempts") {
		s.audit(r, security.EventRegister, security.OutcomeRateLimited)
		return
	}
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_JSON", "invalid JSON body")
		return
	}
	user, expires, err := s.app.Register(r.Context(), app.AccountInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Mobile:   req.Mobile,
	})
	if err != nil {
		s.audit(r, security.EventRegister, security.OutcomeFail, "reason", err.Error())
		s.writeAppError(w, r, err, "")
		return
	}
	s.audit(r, security.EventRegister, "success", "user_id", user.ID)
	writeJSON(w, http.StatusCreated, registerResponse{User: user, CodeExpiresAt: expires})
}

func (s *Server) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	var req verifyEmailRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_JSON", "invalid JSON body")
		return
	}
	user, err := s.app.VerifyEmail(r.Context(), req.Email, req.Code)
	if err != nil {
		s.audit(r, security.EventVerifyEmail, security.OutcomeFail, "reason", err.Error())
		s.writeAppError(w, r, err, "SIGNUP")
		return
	}
	s.audit(r, security.EventVerifyEmail, "success", "user_id", user.ID)
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	if !s.allowRate(w, r, s.loginLimiter, "too many login attempts") {
		s.audit(r, security.EventLogin, security.OutcomeRateLimited)
		return
	}
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_JSON", "invalid JSON body")
		return
	}
	role := domain.RoleUser
	if req.Role == string(domain.RoleAdmin) {
		role = domain.RoleAdmin
	}
	res, err := s.app.Login(r.Context(), req.Email, req.Password, role)
	if err != nil {
		s.audit(r, security.EventLogin, security.OutcomeFail, "role", string(role), "reason", err.Error())
		s.writeAppError(w, r, err, "")
		return
	}
	s.audit(r, security.EventLogin, "success", "user_id", res.User.ID, "role", string(role))
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	token, ok := bearerToken(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(r.Body, 1<<20))
	if err := s.app.Logout(r.Context(), token); err != nil {
		s.writeAppError(w, r, err, "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// admin account management
type adminCreateRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Mobile   string `json:"mobile"`
}

type adminPasswordRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleAdmins(w http.ResponseWriter, r *http.Request, admin domain.User) {
	switch r.Method {
	case http.MethodGet:
		admins, err := s.app.ListAdmins(r.Context(), admin)
		if err != nil {
			s.writeAppError(w, r, err, "ADMIN")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": admins,
			"count": len(admins),
		})
	case http.MethodPost:
		var req adminCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, "INVALID_JSON", "invalid JSON body")
			return
		}
		created, err := s.app.CreateAdmin(r.Context(), admin, app.AccountInput{
			Name:     req.Name,
			Email:    req.Email,
			Password: req.Password,
			Mobile:   req.Mobile,
		})
		if err != nil {
			s.writeAppError(w, r, err, "ADMIN")
			return
		}
		s.audit(r, "admin.create", "success", "admin_id", created.ID, "by", admin.ID)
		writeJSON(w, http.StatusCreated, created)
	default:
		methodNotAllowed(w, r)
	}
}

func (s *Server) handleAdminPassword(w http.ResponseWriter, r *http.Request, admin domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	var req adminPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_JSON", "invalid JSON body")
		return
	}
	if req.Email == "" {
		req.Email = admin.Email
	}
	if err := s.app.SetAdminPassword(r.Context(), admin, req.Email, req.Password); err != nil {
		s.writeAppError(w, r, err, "ADMIN")
		return
	}
	s.audit(r, "admin.password", "success", "by", admin.ID)
	w.WriteHeader(http.StatusNoContent)
}
