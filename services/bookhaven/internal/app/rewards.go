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

var rewardRank = map[domain.RewardStatus]int{
	domain.RewardPending:  0,
	domain.RewardApproved: 1,
	domain.RewardPaid:     2,
}

// ListRewards lists every reward, newest upload first.
func (a *App) ListRewards(ctx context.Context, admin domain.User) ([]domain.Reward, error) {
	if err := requireAdmin(admin); err != nil {
		return nil, err
	}
	return a.store.ListRewards(ctx)
}

// UpdateRewardStatus moves a reward forward through pending, approved and
// paid. Setting the current status again is a no-op; moving backward fails
// with ErrInvalidTransition.
func (a *App) UpdateRewardStatus(ctx context.Context, admin domain.User, rewardID string, status string) (domain.Reward, error) {
	if err := requireAdmin(admin); err != nil {
		return domain.Reward{}, err
	}
	next := domain.RewardStatus(strings.ToLower(strings.TrimSpace(status)))
	nextRank, ok := rewardRank[next]
	if !ok {
		return domain.Reward{}, invalid("status", "status must be pending, approved or paid")
	}
	reward, found, err := a.store.GetReward(ctx, strings.TrimSpace(rewardID))
	if err != nil {
		return domain.Reward{}, fmt.Errorf("load reward: %w", err)
	}
	if !found {
		return domain.Reward{}, ErrNotFound
	}
	curRank := rewardRank[reward.Status]
	if nextRank == curRank {
		return reward, nil
	}
	if nextRank < curRank {
		return domain.Reward{}, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, reward.Status, next)
	}

	paidDate := reward.PaidDate
	if next == domain.RewardPaid {
		now := a.clock()
		paidDate = &now
	}
	err = a.store.SetRewardStatus(ctx, reward.ID, next, paidDate)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Reward{}, ErrNotFound
	}
	if err != nil {
		return domain.Reward{}, fmt.Errorf("update reward: %w", err)
	}
	prev := reward.Status
	reward.Status = next
	reward.PaidDate = paidDate

	util.LoggerFromContext(ctx).Info("reward_status_changed",
		"reward_id", reward.ID,
		"paper_id", reward.PaperID,
		"from", string(prev),
		"to", string(next),
		"admin_id", admin.ID,
	)
	if next == domain.RewardPaid {
		a.dispatcher.Dispatch(ctx, notify.Message{
			Kind: notify.KindRewardPaid,
			To:   []string{reward.UserEmail},
			Data: map[string]string{
				"UserName":     reward.UserName,
				"PaperTitle":   reward.PaperTitle,
				"RewardAmount": fmt.Sprint(reward.RewardAmount),
			},
		})
	}
	return reward, nil
}
