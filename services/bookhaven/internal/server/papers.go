package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/iamakashsinghrajput/BookHaven/internal/security"
	"github.com/iamakashsinghrajput/BookHaven/internal/util"
	"github.com/iamakashsinghrajput/BookHaven/pkg/domain"
	"github.com/iamakashsinghrajput/BookHaven/services/bookhaven/internal/app"
)

type updatePaperRequest struct {
	Title       *string  `json:"title"`
	Subject     *string  `json:"subject"`
	Category    *string  `json:"category"`
	Description *string  `json:"description"`
	Tags        []string `json:"tags"`
}

type deleteCodeRequest struct {
	Email string `json:"email"`
}

type deleteCodeResponse struct {
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type confirmDeleteRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type orderRequest struct {
	PaperID string `json:"paperId"`
}

// /api/papers: public listing on GET, upload on POST.
func (s *Server) handlePapers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListPublicPapers(w, r)
	case http.MethodPost:
		user, ok := s.authorize(w, r)
		if !ok {
			return
		}
		s.handleUploadPaper(w, r, user)
	default:
		methodNotAllowed(w, r)
	}
}

func (s *Server) handleListPublicPapers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	papers, err := s.app.ListPublicPapers(r.Context(), app.PublicPaperQuery{
		Category: q.Get("category"),
		Subject:  q.Get("subject"),
		Year:     q.Get("year"),
		Limit:    queryInt(r, "limit"),
		Offset:   queryInt(r, "offset"),
	})
	if err != nil {
		s.writeAppError(w, r, err, "PAPER")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": papers,
		"count": len(papers),
	})
}

func (s *Server) handleUploadPaper(w http.ResponseWriter, r *http.Request, user domain.User) {
	// room for the form fields on top of the file itself
	r.Body = http.MaxBytesReader(w, r.Body, s.app.MaxUploadBytes()+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "file exceeds the upload limit")
			return
		}
		writeError(w, r, http.StatusBadRequest, "INVALID_FORM", "invalid form data")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "FILE_REQUIRED", "file is required (field: file)")
		return
	}
	defer file.Close()

	form := r.MultipartForm.Value
	field := func(name string) string {
		if v := form[name]; len(v) > 0 {
			return v[0]
		}
		return ""
	}
	paper, err := s.app.SubmitPaper(r.Context(), user, app.PaperSubmission{
		Title:       field("title"),
		Author:      field("author"),
		Subject:     field("subject"),
		Category:    field("category"),
		Description: field("description"),
		Tags:        field("tags"),
		Year:        field("year"),
		Branch:      field("branch"),
		ExamType:    field("examType"),
		Mobile:      field("mobile"),
	}, app.FileUpload{Filename: header.Filename, Body: file})
	if err != nil {
		s.writeAppError(w, r, err, "PAPER")
		return
	}
	writeJSON(w, http.StatusCreated, paper)
}

func (s *Server) handleMyPapers(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	papers, err := s.app.ListMyUploads(r.Context(), user)
	if err != nil {
		s.writeAppError(w, r, err, "PAPER")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": papers,
		"count": len(papers),
	})
}

// /api/papers/{id}, /api/papers/{id}/delete-code, /api/papers/{id}/delete,
// /api/papers/{id}/preview
func (s *Server) handlePaperByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/papers/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		http.NotFound(w, r)
		return
	}
	if len(parts) == 2 {
		switch parts[1] {
		case "delete-code":
			s.handleRequestDeleteCode(w, r, id)
		case "delete":
			s.handleConfirmDelete(w, r, id)
		case "preview":
			s.authenticated(func(w http.ResponseWriter, r *http.Request, user domain.User) {
				s.handlePreview(w, r, user, id)
			}).ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
		return
	}

	switch r.Method {
	case http.MethodGet:
		paper, err := s.app.GetPaper(r.Context(), s.optionalUser(r), id)
		if err != nil {
			s.writeAppError(w, r, err, "PAPER")
			return
		}
		writeJSON(w, http.StatusOK, paper)
	case http.MethodPut, http.MethodPatch:
		user, ok := s.authorize(w, r)
		if !ok {
			return
		}
		var req updatePaperRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, "INVALID_JSON", "invalid JSON body")
			return
		}
		paper, err := s.app.UpdatePaper(r.Context(), user, id, app.PaperUpdate{
			Title:       req.Title,
			Subject:     req.Subject,
			Category:    req.Category,
			Description: req.Description,
			Tags:        req.Tags,
		})
		if err != nil {
			s.writeAppError(w, r, err, "PAPER")
			return
		}
		writeJSON(w, http.StatusOK, paper)
	default:
		methodNotAllowed(w, r)
	}
}

func (s *Server) handleRequestDeleteCode(w http.ResponseWriter, r *http.Request, paperID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	if !s.allowRate(w, r, s.deleteCodeLimiter, "too many delete code requests") {
		s.audit(r, security.EventDeleteVerify, security.OutcomeRateLimited, "paper_id", paperID)
		return
	}
	var req deleteCodeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_JSON", "invalid JSON body")
		return
	}
	expires, err := s.app.RequestDeleteCode(r.Context(), paperID, req.Email)
	if err != nil {
		if errors.Is(err, app.ErrDeleteNotPermitted) {
			s.audit(r, security.EventDeleteVerify, security.OutcomeFail, "paper_id", paperID, "email", util.MaskEmail(req.Email))
		}
		s.writeAppError(w, r, err, "DELETE")
		return
	}
	writeJSON(w, http.StatusOK, deleteCodeResponse{
		Message:   "A verification code has been sent to the uploader's email address.",
		ExpiresAt: expires,
	})
}

func (s *Server) handleConfirmDelete(w http.ResponseWriter, r *http.Request, paperID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	var req confirmDeleteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_JSON", "invalid JSON body")
		return
	}
	res, err := s.app.ConfirmDelete(r.Context(), paperID, req.Email, req.Code)
	if err != nil {
		s.audit(r, security.EventDeleteVerify, security.OutcomeFail, "paper_id", paperID, "reason", err.Error())
		s.writeAppError(w, r, err, "DELETE")
		return
	}
	s.audit(r, security.EventDeleteVerify, "success", "paper_id", paperID)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request, user domain.User, paperID string) {
	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	link, err := s.app.Preview(r.Context(), user, paperID)
	if err != nil {
		s.writeAppError(w, r, err, "PAPER")
		return
	}
	writeJSON(w, http.StatusOK, link)
}

func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	recs, prefs, err := s.app.Recommend(r.Context(), user, queryInt(r, "limit"))
	if err != nil {
		s.writeAppError(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":       recs,
		"count":       len(recs),
		"preferences": prefs,
	})
}

func (s *Server) handleActivities(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		page, err := s.app.ListActivities(r.Context(), user, r.URL.Query().Get("type"), queryInt(r, "page"), queryInt(r, "limit"))
		if err != nil {
			s.writeAppError(w, r, err, "")
			return
		}
		writeJSON(w, http.StatusOK, page)
	case http.MethodPost:
		var req app.ActivityInput
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, "INVALID_JSON", "invalid JSON body")
			return
		}
		act, err := s.app.RecordActivity(r.Context(), user, req)
		if err != nil {
			s.writeAppError(w, r, err, "")
			return
		}
		writeJSON(w, http.StatusCreated, act)
	default:
		methodNotAllowed(w, r)
	}
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	var req orderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_JSON", "invalid JSON body")
		return
	}
	order, err := s.app.CreateOrder(r.Context(), user, req.PaperID)
	if err != nil {
		s.writeAppError(w, r, err, "PAPER")
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (s *Server) handleVerifyPayment(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	var req app.PaymentConfirmation
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_JSON", "invalid JSON body")
		return
	}
	link, err := s.app.VerifyPayment(r.Context(), user, req)
	if err != nil {
		s.writeAppError(w, r, err, "PAPER")
		return
	}
	writeJSON(w, http.StatusOK, link)
}
