package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iamakashsinghrajput/BookHaven/internal/util"
	"github.com/iamakashsinghrajput/BookHaven/pkg/domain"
	"github.com/iamakashsinghrajput/BookHaven/pkg/notify"
	"github.com/iamakashsinghrajput/BookHaven/pkg/store"
)

// DeleteResult reports what a paper deletion removed.
type DeleteResult struct {
	PaperID           string `json:"paperId"`
	FileDeleted       bool   `json:"fileDeleted"`
	CleanupQueued     bool   `json:"cleanupQueued,omitempty"`
	ActivitiesDeleted int64  `json:"activitiesDeleted"`
	RewardsDeleted    int64  `json:"rewardsDeleted"`
}

// DeletePaper lets an admin remove any paper with its activities and
// rewards.
func (a *App) DeletePaper(ctx context.Context, admin domain.User, paperID string) (DeleteResult, error) {
	if err := requireAdmin(admin); err != nil {
		return DeleteResult{}, err
	}
	paper, err := a.loadPaper(ctx, paperID)
	if err != nil {
		return DeleteResult{}, err
	}
	res, err := a.deletePaper(ctx, paper)
	if err != nil {
		return DeleteResult{}, err
	}
	util.LoggerFromContext(ctx).Info("paper_deleted", "paper_id", paper.ID, "by", "admin", "admin_id", admin.ID)
	return res, nil
}

// deletePaper removes the blob best-effort, then the paper and everything
// that references it.
func (a *App) deletePaper(ctx context.Context, paper domain.Paper) (DeleteResult, error) {
	res := DeleteResult{PaperID: paper.ID}
	if paper.File.Key != "" {
		res.FileDeleted, res.CleanupQueued = a.discardObject(ctx, paper.File.Key, "paper "+paper.ID+" deleted")
	}
	err := a.store.WithinTx(ctx, func(tx store.Store) error {
		deleted, err := tx.DeletePaper(ctx, paper.ID)
		if err != nil {
			return err
		}
		if !deleted {
			return ErrNotFound
		}
		if res.ActivitiesDeleted, err = tx.DeleteActivitiesByResource(ctx, paper.ID); err != nil {
			return err
		}
		res.RewardsDeleted, err = tx.DeleteRewardsByPaper(ctx, paper.ID)
		return err
	})
	if errors.Is(err, ErrNotFound) {
		return DeleteResult{}, ErrNotFound
	}
	if err != nil {
		return DeleteResult{}, fmt.Errorf("delete paper: %w", err)
	}
	return res, nil
}

// RequestDeleteCode emails a one-time code to the paper's uploader. Unknown
// papers and non-matching emails fail identically. Only the expiry is
// returned; the code itself leaves the system by email alone.
func (a *App) RequestDeleteCode(ctx context.Context, paperID, email string) (time.Time, error) {
	email, err := util.NormalizeEmail(email)
	if err != nil {
		return time.Time{}, invalid("email", "a valid email address is required")
	}
	paper, err := a.ownedPaper(ctx, paperID, email)
	if err != nil {
		return time.Time{}, err
	}
	issued, err := a.codes.Issue(ctx, store.PurposePaperDelete, paper.ID, email)
	if err != nil {
		return time.Time{}, fmt.Errorf("issue delete code: %w", err)
	}
	err = a.notifier.Notify(ctx, notify.Message{
		Kind: notify.KindDeleteCode,
		To:   []string{email},
		Data: map[string]string{
			"PaperTitle": paper.Title,
			"Code":       issued.Code,
			"ExpiresAt":  issued.ExpiresAt.Format(time.RFC1123),
		},
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("send delete code: %w", err)
	}
	util.LoggerFromContext(ctx).Info("delete_code_issued", "paper_id", paper.ID, "email", util.MaskEmail(email))
	return issued.ExpiresAt, nil
}

// ConfirmDelete checks the code, re-verifies ownership, deletes the paper
// and only then consumes the code.
func (a *App) ConfirmDelete(ctx context.Context, paperID, email, code string) (DeleteResult, error) {
	email, err := util.NormalizeEmail(email)
	if err != nil {
		return DeleteResult{}, invalid("email", "a valid email address is required")
	}
	paperID = strings.TrimSpace(paperID)
	if err := a.codes.Check(ctx, store.PurposePaperDelete, paperID, email, code); err != nil {
		if errors.Is(err, store.ErrCodeRequired) {
			return DeleteResult{}, invalid("code", err.Error())
		}
		return DeleteResult{}, err
	}
	// ownership may have changed since the code was issued
	paper, err := a.ownedPaper(ctx, paperID, email)
	if err != nil {
		return DeleteResult{}, err
	}
	res, err := a.deletePaper(ctx, paper)
	if err != nil {
		return DeleteResult{}, err
	}
	logger := util.LoggerFromContext(ctx)
	if err := a.codes.Consume(ctx, store.PurposePaperDelete, paperID, email); err != nil {
		logger.Warn("delete_code_consume_failed", "paper_id", paperID, "err", err)
	}
	logger.Info("paper_deleted", "paper_id", paper.ID, "by", "owner", "email", util.MaskEmail(email))
	return res, nil
}

func (a *App) ownedPaper(ctx context.Context, paperID, email string) (domain.Paper, error) {
	paper, err := a.loadPaper(ctx, paperID)
	if errors.Is(err, ErrNotFound) {
		return domain.Paper{}, ErrDeleteNotPermitted
	}
	if err != nil {
		return domain.Paper{}, err
	}
	uploader, ok, err := a.store.GetUserByID(ctx, paper.UploaderID)
	if err != nil {
		return domain.Paper{}, fmt.Errorf("load uploader: %w", err)
	}
	if !ok || !strings.EqualFold(uploader.Email, email) {
		return domain.Paper{}, ErrDeleteNotPermitted
	}
	return paper, nil
}
