package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/iamakashsinghrajput/BookHaven/internal/util"
	"github.com/iamakashsinghrajput/BookHaven/pkg/domain"
	"github.com/iamakashsinghrajput/BookHaven/pkg/notify"
	"github.com/iamakashsinghrajput/BookHaven/pkg/store"
)

// ReviewDecision is an admin's verdict on a paper.
type ReviewDecision string

const (
	DecisionApprove ReviewDecision = "approve"
	DecisionReject  ReviewDecision = "reject"
)

const defaultRejectionMessage = "The paper did not meet our review guidelines."

// ReviewResult is the state after a review. Reward is set on approval;
// RewardCreated reports whether this call created it.
type ReviewResult struct {
	Paper         domain.Paper   `json:"paper"`
	Reward        *domain.Reward `json:"reward,omitempty"`
	RewardCreated bool           `json:"rewardCreated"`
}

// ReviewPaper approves or rejects a paper. Approval creates the uploader's
// reward unless one already exists for the paper, so repeating an approval
// never pays twice.
func (a *App) ReviewPaper(ctx context.Context, admin domain.User, paperID string, decision ReviewDecision, reason string) (ReviewResult, error) {
	if err := requireAdmin(admin); err != nil {
		return ReviewResult{}, err
	}
	switch decision {
	case DecisionApprove, DecisionReject:
	default:
		return ReviewResult{}, invalid("decision", "decision must be approve or reject")
	}
	reason = strings.TrimSpace(reason)
	if decision == DecisionApprove {
		reason = ""
	}

	var (
		res      ReviewResult
		uploader domain.User
	)
	err := a.store.WithinTx(ctx, func(tx store.Store) error {
		paper, ok, err := tx.GetPaper(ctx, paperID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
		u, ok, err := tx.GetUserByID(ctx, paper.UploaderID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("uploader %s of paper %s is missing", paper.UploaderID, paper.ID)
		}
		uploader = u

		status := domain.PaperRejected
		if decision == DecisionApprove {
			status = domain.PaperApproved
		}
		err = tx.SetPaperReview(ctx, paper.ID, status, reason)
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		paper.Status = status
		paper.IsApproved = status == domain.PaperApproved
		paper.RejectionReason = reason
		paper.UpdatedAt = a.clock()
		res.Paper = paper

		if decision != DecisionApprove {
			return nil
		}
		reward, created, err := a.ensureReward(ctx, tx, paper, uploader)
		if err != nil {
			return err
		}
		res.Reward = &reward
		res.RewardCreated = created
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return ReviewResult{}, ErrNotFound
	}
	if err != nil {
		return ReviewResult{}, fmt.Errorf("review paper: %w", err)
	}

	util.LoggerFromContext(ctx).Info("paper_reviewed",
		"paper_id", res.Paper.ID,
		"decision", string(decision),
		"admin_id", admin.ID,
		"reward_created", res.RewardCreated,
	)
	a.dispatcher.Dispatch(ctx, reviewMessage(res, uploader, decision))
	return res, nil
}

// ensureReward returns the paper's reward, creating it if absent. A
// duplicate-key failure from a concurrent approval counts as "exists".
func (a *App) ensureReward(ctx context.Context, tx store.Store, paper domain.Paper, uploader domain.User) (domain.Reward, bool, error) {
	existing, ok, err := tx.GetRewardByPaper(ctx, paper.ID)
	if err != nil {
		return domain.Reward{}, false, err
	}
	if ok {
		return existing, false, nil
	}
	reward := domain.Reward{
		ID:           util.NewID(),
		UserEmail:    uploader.Email,
		UserName:     uploader.Name,
		UserMobile:   uploader.Mobile,
		PaperTitle:   paper.Title,
		PaperID:      paper.ID,
		RewardAmount: domain.RewardPerPaper,
		UploadDate:   paper.CreatedAt,
		Status:       domain.RewardApproved,
	}
	err = tx.CreateReward(ctx, reward)
	if errors.Is(err, store.ErrDuplicateReward) {
		existing, ok, getErr := tx.GetRewardByPaper(ctx, paper.ID)
		if getErr != nil {
			return domain.Reward{}, false, getErr
		}
		if ok {
			return existing, false, nil
		}
	}
	if err != nil {
		return domain.Reward{}, false, err
	}
	return reward, true, nil
}

func reviewMessage(res ReviewResult, uploader domain.User, decision ReviewDecision) notify.Message {
	if decision == DecisionApprove {
		amount := domain.RewardPerPaper
		if res.Reward != nil {
			amount = res.Reward.RewardAmount
		}
		return notify.Message{
			Kind: notify.KindPaperApproved,
			To:   []string{uploader.Email},
			Data: map[string]string{
				"UploaderName": uploader.Name,
				"PaperTitle":   res.Paper.Title,
				"RewardAmount": fmt.Sprint(amount),
			},
		}
	}
	reason := res.Paper.RejectionReason
	if reason == "" {
		reason = defaultRejectionMessage
	}
	return notify.Message{
		Kind: notify.KindPaperRejected,
		To:   []string{uploader.Email},
		Data: map[string]string{
			"UploaderName": uploader.Name,
			"PaperTitle":   res.Paper.Title,
			"Reason":       reason,
		},
	}
}
