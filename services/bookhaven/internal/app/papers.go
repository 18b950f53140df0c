package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/iamakashsinghrajput/BookHaven/internal/util"
	"github.com/iamakashsinghrajput/BookHaven/pkg/domain"
	"github.com/iamakashsinghrajput/BookHaven/pkg/notify"
	"github.com/iamakashsinghrajput/BookHaven/pkg/store"
)

var mobilePattern = regexp.MustCompile(`^[6-9]\d{9}$`)

// PaperSubmission is the metadata half of an upload. Tags is the raw
// comma-separated input.
type PaperSubmission struct {
	Title       string `validate:"required,max=200"`
	Author      string `validate:"max=120"`
	Subject     string `validate:"required,max=120"`
	Category    string `validate:"required,max=80"`
	Description string `validate:"max=5000"`
	Tags        string `validate:"max=500"`
	Year        string `validate:"omitempty,numeric,len=4"`
	Branch      string `validate:"max=80"`
	ExamType    string `validate:"max=80"`
	Mobile      string `validate:"required"`
}

// FileUpload is the file half of an upload.
type FileUpload struct {
	Filename string
	Body     io.Reader
}

// PaperUpdate carries owner edits. Nil fields are left unchanged.
type PaperUpdate struct {
	Title       *string
	Subject     *string
	Category    *string
	Description *string
	Tags        []string
}

// PublicPaperQuery filters the public catalogue.
type PublicPaperQuery struct {
	Category string
	Subject  string
	Year     string
	Limit    int
	Offset   int
}

// SubmitPaper validates and stores a new paper pending review. Nothing is
// persisted unless every input check passes.
func (a *App) SubmitPaper(ctx context.Context, uploader domain.User, sub PaperSubmission, file FileUpload) (domain.Paper, error) {
	if uploader.ID == "" {
		return domain.Paper{}, ErrUnauthenticated
	}
	sub = trimSubmission(sub)
	if err := a.validateStruct(sub); err != nil {
		return domain.Paper{}, err
	}
	if !mobilePattern.MatchString(sub.Mobile) {
		return domain.Paper{}, invalid("mobile", "mobile number must be 10 digits starting with 6-9")
	}
	data, err := a.readUpload(file)
	if err != nil {
		return domain.Paper{}, err
	}
	info, err := inspectFile(data)
	if err != nil {
		return domain.Paper{}, err
	}

	logger := util.LoggerFromContext(ctx)
	now := a.clock()
	paperID := util.NewID()
	key := buildStorageKey(paperID, file.Filename)
	if err := a.objects.Put(ctx, key, bytes.NewReader(data), int64(len(data)), info.ContentType); err != nil {
		return domain.Paper{}, fmt.Errorf("store paper file: %w", err)
	}

	author := sub.Author
	if author == "" {
		author = uploader.Name
	}
	paper := domain.Paper{
		ID:          paperID,
		Title:       sub.Title,
		Author:      author,
		Subject:     sub.Subject,
		Category:    sub.Category,
		Tags:        buildTags(sub),
		Description: plainText(sub.Description),
		File: domain.FileRef{
			Key:         key,
			ContentType: info.ContentType,
			SizeBytes:   int64(len(data)),
			PageCount:   info.PageCount,
		},
		UploaderID: uploader.ID,
		IsPublic:   true,
		IsApproved: false,
		Status:     domain.PaperPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	activity := domain.Activity{
		ID:           util.NewID(),
		UserID:       uploader.ID,
		Type:         domain.ActivityUpload,
		ResourceType: domain.ResourcePaper,
		ResourceID:   paper.ID,
		Title:        paper.Title,
		Subject:      paper.Subject,
		Category:     paper.Category,
		Tags:         paper.Tags,
		FileKey:      key,
		Metadata: domain.ActivityMetadata{
			FileSize: paper.File.SizeBytes,
			FileType: info.ContentType,
		},
		CreatedAt: now,
	}
	err = a.store.WithinTx(ctx, func(tx store.Store) error {
		if err := tx.SavePaper(ctx, paper); err != nil {
			return err
		}
		return tx.AppendActivity(ctx, activity)
	})
	if err != nil {
		a.discardObject(ctx, key, "paper "+paperID+" not saved")
		return domain.Paper{}, fmt.Errorf("save paper: %w", err)
	}

	if uploader.Mobile != sub.Mobile {
		uploader.Mobile = sub.Mobile
		uploader.UpdatedAt = now
		if err := a.store.SaveUser(ctx, uploader); err != nil {
			logger.Warn("uploader_mobile_update_failed", "user_id", uploader.ID, "err", err)
		}
	}
	logger.Info("paper_submitted", "paper_id", paper.ID, "user_id", uploader.ID, "content_type", info.ContentType)

	a.dispatcher.Dispatch(ctx, a.submissionMessages(paper, uploader)...)
	return paper, nil
}

func (a *App) submissionMessages(paper domain.Paper, uploader domain.User) []notify.Message {
	reward := fmt.Sprint(domain.RewardPerPaper)
	msgs := []notify.Message{{
		Kind: notify.KindPaperSubmitted,
		To:   []string{uploader.Email},
		Data: map[string]string{
			"UploaderName": uploader.Name,
			"PaperTitle":   paper.Title,
			"RewardAmount": reward,
		},
	}}
	if len(a.adminEmails) > 0 {
		msgs = append(msgs, notify.Message{
			Kind: notify.KindPaperSubmittedAdmin,
			To:   a.adminEmails,
			Data: map[string]string{
				"PaperTitle":     paper.Title,
				"Subject":        paper.Subject,
				"Category":       paper.Category,
				"UploaderName":   uploader.Name,
				"UploaderEmail":  uploader.Email,
				"UploaderMobile": uploader.Mobile,
				"PaperID":        paper.ID,
			},
		})
	}
	return msgs
}

func (a *App) readUpload(file FileUpload) ([]byte, error) {
	if file.Body == nil {
		return nil, invalid("file", "file is required")
	}
	data, err := io.ReadAll(io.LimitReader(file.Body, a.maxUploadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if len(data) == 0 {
		return nil, invalid("file", "file is empty")
	}
	if int64(len(data)) > a.maxUploadBytes {
		return nil, invalid("file", fmt.Sprintf("file must be %dMB or smaller", a.maxUploadBytes>>20))
	}
	return data, nil
}

// UpdatePaper applies owner edits to a paper and its upload activity.
func (a *App) UpdatePaper(ctx context.Context, owner domain.User, paperID string, upd PaperUpdate) (domain.Paper, error) {
	if owner.ID == "" {
		return domain.Paper{}, ErrUnauthenticated
	}
	paper, err := a.loadPaper(ctx, paperID)
	if err != nil {
		return domain.Paper{}, err
	}
	if paper.UploaderID != owner.ID {
		return domain.Paper{}, ErrForbidden
	}
	meta := store.PaperMetadata{
		Title:       paper.Title,
		Subject:     paper.Subject,
		Category:    paper.Category,
		Description: paper.Description,
		Tags:        paper.Tags,
	}
	if upd.Title != nil {
		if meta.Title = strings.TrimSpace(*upd.Title); meta.Title == "" {
			return domain.Paper{}, invalid("title", "title is required")
		}
	}
	if upd.Subject != nil {
		if meta.Subject = strings.TrimSpace(*upd.Subject); meta.Subject == "" {
			return domain.Paper{}, invalid("subject", "subject is required")
		}
	}
	if upd.Category != nil {
		if meta.Category = strings.TrimSpace(*upd.Category); meta.Category == "" {
			return domain.Paper{}, invalid("category", "category is required")
		}
	}
	if upd.Description != nil {
		meta.Description = plainText(*upd.Description)
	}
	if upd.Tags != nil {
		meta.Tags = cleanTags(upd.Tags)
	}
	err = a.store.WithinTx(ctx, func(tx store.Store) error {
		if err := tx.UpdatePaperMetadata(ctx, paper.ID, meta); err != nil {
			return err
		}
		return tx.UpdateUploadActivity(ctx, paper.ID, meta)
	})
	if errors.Is(err, store.ErrNotFound) {
		return domain.Paper{}, ErrNotFound
	}
	if err != nil {
		return domain.Paper{}, fmt.Errorf("update paper: %w", err)
	}
	paper.Title, paper.Subject, paper.Category = meta.Title, meta.Subject, meta.Category
	paper.Description, paper.Tags = meta.Description, meta.Tags
	paper.UpdatedAt = a.clock()
	return paper, nil
}

// GetPaper returns a paper visible to viewer: public approved papers for
// anyone, otherwise only the uploader or an admin.
func (a *App) GetPaper(ctx context.Context, viewer domain.User, paperID string) (domain.Paper, error) {
	paper, err := a.loadPaper(ctx, paperID)
	if err != nil {
		return domain.Paper{}, err
	}
	if paper.IsPublic && paper.IsApproved {
		return paper, nil
	}
	if viewer.ID != "" && (viewer.ID == paper.UploaderID || viewer.Role == domain.RoleAdmin) {
		return paper, nil
	}
	return domain.Paper{}, ErrNotFound
}

// ListPublicPapers lists approved public papers, newest first.
func (a *App) ListPublicPapers(ctx context.Context, q PublicPaperQuery) ([]domain.Paper, error) {
	return a.store.ListPapers(ctx, store.PaperFilter{
		PublicApproved:  true,
		Category:        strings.TrimSpace(q.Category),
		SubjectContains: strings.TrimSpace(q.Subject),
		Tag:             strings.TrimSpace(q.Year),
		Sort:            store.SortRecent,
		Limit:           clampLimit(q.Limit, 20, 100),
		Offset:          max(q.Offset, 0),
	})
}

// ListMyUploads lists every paper the user uploaded, in any state.
func (a *App) ListMyUploads(ctx context.Context, user domain.User) ([]domain.Paper, error) {
	if user.ID == "" {
		return nil, ErrUnauthenticated
	}
	return a.store.ListPapers(ctx, store.PaperFilter{UploaderID: user.ID, Sort: store.SortRecent})
}

// ListUploadedPapers is the admin review queue, optionally filtered by status.
func (a *App) ListUploadedPapers(ctx context.Context, admin domain.User, status string) ([]domain.Paper, error) {
	if err := requireAdmin(admin); err != nil {
		return nil, err
	}
	filter := store.PaperFilter{Sort: store.SortRecent}
	if status = strings.TrimSpace(status); status != "" && status != "all" {
		parsed, ok := parsePaperStatus(status)
		if !ok {
			return nil, invalid("status", "status must be pending, approved or rejected")
		}
		filter.Status = parsed
	}
	return a.store.ListPapers(ctx, filter)
}

func (a *App) loadPaper(ctx context.Context, paperID string) (domain.Paper, error) {
	paperID = strings.TrimSpace(paperID)
	if paperID == "" {
		return domain.Paper{}, ErrNotFound
	}
	paper, ok, err := a.store.GetPaper(ctx, paperID)
	if err != nil {
		return domain.Paper{}, fmt.Errorf("load paper: %w", err)
	}
	if !ok {
		return domain.Paper{}, ErrNotFound
	}
	return paper, nil
}

func (a *App) validateStruct(v any) error {
	err := a.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return invalid("", err.Error())
	}
	fe := verrs[0]
	field := lowerFirst(fe.Field())
	switch fe.Tag() {
	case "required":
		return invalid(field, field+" is required")
	case "max":
		if fe.Kind() == reflect.Slice {
			return invalid(field, fmt.Sprintf("%s must have at most %s items", field, fe.Param()))
		}
		return invalid(field, fmt.Sprintf("%s must be at most %s characters", field, fe.Param()))
	case "min":
		return invalid(field, fmt.Sprintf("%s must be at least %s characters", field, fe.Param()))
	case "len", "numeric":
		return invalid(field, field+" must be a 4-digit year")
	case "oneof":
		return invalid(field, fmt.Sprintf("%s must be one of: %s", field, fe.Param()))
	case "email":
		return invalid(field, field+" must be a valid email address")
	default:
		return invalid(field, field+" is invalid")
	}
}

func requireAdmin(u domain.User) error {
	if u.ID == "" {
		return ErrUnauthenticated
	}
	if u.Role != domain.RoleAdmin {
		return ErrForbidden
	}
	return nil
}

func trimSubmission(s PaperSubmission) PaperSubmission {
	s.Title = strings.TrimSpace(s.Title)
	s.Author = strings.TrimSpace(s.Author)
	s.Subject = strings.TrimSpace(s.Subject)
	s.Category = strings.TrimSpace(s.Category)
	s.Description = strings.TrimSpace(s.Description)
	s.Tags = strings.TrimSpace(s.Tags)
	s.Year = strings.TrimSpace(s.Year)
	s.Branch = strings.TrimSpace(s.Branch)
	s.ExamType = strings.TrimSpace(s.ExamType)
	s.Mobile = strings.TrimSpace(s.Mobile)
	return s
}

// buildTags splits the comma-separated tag input and appends the year,
// branch and exam type so they are searchable facets.
func buildTags(s PaperSubmission) []string {
	raw := strings.Split(s.Tags, ",")
	raw = append(raw, s.Year, s.Branch, s.ExamType)
	return cleanTags(raw)
}

func cleanTags(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, tag := range in {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		k := strings.ToLower(tag)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, tag)
	}
	return out
}

func parsePaperStatus(s string) (domain.PaperStatus, bool) {
	switch domain.PaperStatus(strings.ToLower(strings.TrimSpace(s))) {
	case domain.PaperPending:
		return domain.PaperPending, true
	case domain.PaperApproved:
		return domain.PaperApproved, true
	case domain.PaperRejected:
		return domain.PaperRejected, true
	default:
		return "", false
	}
}

func clampLimit(v, def, maxV int) int {
	if v <= 0 {
		return def
	}
	return min(v, maxV)
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
