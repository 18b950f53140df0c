package store

import (
	"context"
	"errors"
	"time"

	"github.com/iamakashsinghrajput/BookHaven/pkg/domain"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrDuplicateEmail  = errors.New("email already registered for role")
	ErrDuplicateReward = errors.New("reward already exists for paper")
)

// PaperSort selects the ordering used by ListPapers.
type PaperSort int

const (
	// SortRecent orders by creation time, newest first.
	SortRecent PaperSort = iota
	// SortPopular orders by downloads, then rating, then recency.
	SortPopular
)

// PaperFilter narrows ListPapers. Zero values mean "no constraint".
// Subjects, Categories and Tags are OR-ed together as facets.
type PaperFilter struct {
	UploaderID      string
	Status          domain.PaperStatus
	PublicApproved  bool
	Category        string
	SubjectContains string
	Tag             string
	Subjects        []string
	Categories      []string
	Tags            []string
	ExcludeIDs      []string
	Sort            PaperSort
	Limit           int
	Offset          int
}

// ActivityFilter narrows ListActivities.
type ActivityFilter struct {
	UserID string
	Type   domain.ActivityType
	Limit  int
	Offset int
}

// PaperMetadata is the owner-editable subset of a paper.
type PaperMetadata struct {
	Title       string
	Subject     string
	Category    string
	Description string
	Tags        []string
}

// PaperCounter names a numeric paper field that can be incremented.
type PaperCounter string

const (
	CounterDownloads PaperCounter = "downloads"
	CounterViews     PaperCounter = "views"
)

// Store defines persistence for principals, papers, activities and rewards.
// There are no foreign keys between collections; cascades are procedural.
type Store interface {
	// users
	SaveUser(ctx context.Context, u domain.User) error
	GetUserByID(ctx context.Context, id string) (domain.User, bool, error)
	GetUserByEmail(ctx context.Context, email string, role domain.UserRole) (domain.User, bool, error)
	ListUsers(ctx context.Context, role domain.UserRole) ([]domain.User, error)

	// papers
	SavePaper(ctx context.Context, p domain.Paper) error
	GetPaper(ctx context.Context, id string) (domain.Paper, bool, error)
	ListPapers(ctx context.Context, f PaperFilter) ([]domain.Paper, error)
	SetPaperReview(ctx context.Context, id string, status domain.PaperStatus, reason string) error
	UpdatePaperMetadata(ctx context.Context, id string, meta PaperMetadata) error
	IncrementPaperCounter(ctx context.Context, id string, counter PaperCounter) error
	DeletePaper(ctx context.Context, id string) (bool, error)

	// activities
	AppendActivity(ctx context.Context, a domain.Activity) error
	ListActivities(ctx context.Context, f ActivityFilter) ([]domain.Activity, int64, error)
	UpdateUploadActivity(ctx context.Context, paperID string, meta PaperMetadata) error
	DeleteActivitiesByResource(ctx context.Context, resourceID string) (int64, error)

	// rewards
	CreateReward(ctx context.Context, r domain.Reward) error
	GetReward(ctx context.Context, id string) (domain.Reward, bool, error)
	GetRewardByPaper(ctx context.Context, paperID string) (domain.Reward, bool, error)
	ListRewards(ctx context.Context) ([]domain.Reward, error)
	SetRewardStatus(ctx context.Context, id string, status domain.RewardStatus, paidDate *time.Time) error
	DeleteRewardsByPaper(ctx context.Context, paperID string) (int64, error)

	// WithinTx runs fn against a Store bound to one transaction when the
	// backend supports multi-record transactions, otherwise against itself.
	WithinTx(ctx context.Context, fn func(Store) error) error
}
