package server

import (
	"net/http"
	"strings"

	"github.com/iamakashsinghrajput/BookHaven/pkg/domain"
	"github.com/iamakashsinghrajput/BookHaven/services/bookhaven/internal/app"
)

type reviewRequest struct {
	Decision string `json:"decision"`
	Reason   string `json:"reason"`
}

type rewardStatusRequest struct {
	Status string `json:"status"`
}

func (s *Server) handleAdminPapers(w http.ResponseWriter, r *http.Request, admin domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	papers, err := s.app.ListUploadedPapers(r.Context(), admin, r.URL.Query().Get("status"))
	if err != nil {
		s.writeAppError(w, r, err, "PAPER")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": papers,
		"count": len(papers),
	})
}

// /api/admin/papers/{id}, /api/admin/papers/{id}/review,
// /api/admin/papers/{id}/download
func (s *Server) handleAdminPaperByID(w http.ResponseWriter, r *http.Request, admin domain.User) {
	path := strings.TrimPrefix(r.URL.Path, "/api/admin/papers/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		http.NotFound(w, r)
		return
	}
	if len(parts) == 2 {
		switch parts[1] {
		case "review":
			s.handleReview(w, r, admin, id)
		case "download":
			s.handleAdminDownload(w, r, admin, id)
		default:
			http.NotFound(w, r)
		}
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r)
		return
	}
	res, err := s.app.DeletePaper(r.Context(), admin, id)
	if err != nil {
		s.writeAppError(w, r, err, "PAPER")
		return
	}
	s.audit(r, "admin.paper.delete", "success", "paper_id", id, "admin_id", admin.ID)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request, admin domain.User, paperID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	var req reviewRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_JSON", "invalid JSON body")
		return
	}
	decision := app.ReviewDecision(strings.ToLower(strings.TrimSpace(req.Decision)))
	res, err := s.app.ReviewPaper(r.Context(), admin, paperID, decision, req.Reason)
	if err != nil {
		s.writeAppError(w, r, err, "PAPER")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAdminDownload(w http.ResponseWriter, r *http.Request, admin domain.User, paperID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	link, err := s.app.AdminFileLink(r.Context(), admin, paperID)
	if err != nil {
		s.writeAppError(w, r, err, "PAPER")
		return
	}
	writeJSON(w, http.StatusOK, link)
}

func (s *Server) handleAdminRewards(w http.ResponseWriter, r *http.Request, admin domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	rewards, err := s.app.ListRewards(r.Context(), admin)
	if err != nil {
		s.writeAppError(w, r, err, "REWARD")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": rewards,
		"count": len(rewards),
	})
}

func (s *Server) handleAdminRewardByID(w http.ResponseWriter, r *http.Request, admin domain.User) {
	id := strings.TrimPrefix(r.URL.Path, "/api/admin/rewards/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPatch {
		methodNotAllowed(w, r)
		return
	}
	var req rewardStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_JSON", "invalid JSON body")
		return
	}
	reward, err := s.app.UpdateRewardStatus(r.Context(), admin, id, req.Status)
	if err != nil {
		s.writeAppError(w, r, err, "REWARD")
		return
	}
	writeJSON(w, http.StatusOK, reward)
}
