package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/iamakashsinghrajput/BookHaven/internal/util"
	"github.com/iamakashsinghrajput/BookHaven/pkg/domain"
	"github.com/iamakashsinghrajput/BookHaven/pkg/store"
)

// ActivityInput is a client-reported activity.
type ActivityInput struct {
	Type         string   `json:"type" validate:"required,oneof=upload download search view"`
	ResourceType string   `json:"resourceType" validate:"omitempty,oneof=paper book note"`
	ResourceID   string   `json:"resourceId" validate:"max=64"`
	Title        string   `json:"title" validate:"max=200"`
	Subject      string   `json:"subject" validate:"max=120"`
	Category     string   `json:"category" validate:"max=80"`
	Tags         []string `json:"tags" validate:"max=20"`
	SearchQuery  string   `json:"searchQuery" validate:"max=200"`
}

// Pagination describes one page of a listing.
type Pagination struct {
	CurrentPage int   `json:"currentPage"`
	TotalPages  int   `json:"totalPages"`
	TotalCount  int64 `json:"totalCount"`
	HasMore     bool  `json:"hasMore"`
}

// ActivityPage is one page of a user's activity, newest first.
type ActivityPage struct {
	Activities []domain.Activity `json:"activities"`
	Pagination Pagination        `json:"pagination"`
}

// RecordActivity stores a client-reported activity. When it references a
// known paper the paper's own facets are recorded instead of the client's.
func (a *App) RecordActivity(ctx context.Context, user domain.User, in ActivityInput) (domain.Activity, error) {
	if user.ID == "" {
		return domain.Activity{}, ErrUnauthenticated
	}
	in.Type = strings.ToLower(strings.TrimSpace(in.Type))
	in.ResourceType = strings.ToLower(strings.TrimSpace(in.ResourceType))
	if err := a.validateStruct(in); err != nil {
		return domain.Activity{}, err
	}
	act := domain.Activity{
		ID:           util.NewID(),
		UserID:       user.ID,
		Type:         domain.ActivityType(in.Type),
		ResourceType: domain.ResourceType(in.ResourceType),
		ResourceID:   strings.TrimSpace(in.ResourceID),
		Title:        strings.TrimSpace(in.Title),
		Subject:      strings.TrimSpace(in.Subject),
		Category:     strings.TrimSpace(in.Category),
		Tags:         cleanTags(in.Tags),
		SearchQuery:  strings.TrimSpace(in.SearchQuery),
		CreatedAt:    a.clock(),
	}
	if act.ResourceType == "" {
		act.ResourceType = domain.ResourcePaper
	}
	if act.Type == domain.ActivitySearch {
		if act.SearchQuery == "" {
			return domain.Activity{}, invalid("searchQuery", "searchQuery is required for search activity")
		}
		if act.Title == "" {
			act.Title = act.SearchQuery
		}
	}
	if act.ResourceType == domain.ResourcePaper && act.ResourceID != "" {
		if paper, ok, err := a.store.GetPaper(ctx, act.ResourceID); err == nil && ok {
			act.Title, act.Subject, act.Category, act.Tags = paper.Title, paper.Subject, paper.Category, paper.Tags
		}
	}
	if act.Title == "" {
		return domain.Activity{}, invalid("title", "title is required")
	}
	if err := a.store.AppendActivity(ctx, act); err != nil {
		return domain.Activity{}, fmt.Errorf("record activity: %w", err)
	}
	return act, nil
}

// ListActivities pages through the user's activity, optionally by type.
func (a *App) ListActivities(ctx context.Context, user domain.User, activityType string, page, limit int) (ActivityPage, error) {
	if user.ID == "" {
		return ActivityPage{}, ErrUnauthenticated
	}
	filter := store.ActivityFilter{UserID: user.ID}
	if activityType = strings.ToLower(strings.TrimSpace(activityType)); activityType != "" && activityType != "all" {
		switch t := domain.ActivityType(activityType); t {
		case domain.ActivityUpload, domain.ActivityDownload, domain.ActivitySearch, domain.ActivityView:
			filter.Type = t
		default:
			return ActivityPage{}, invalid("type", "type must be upload, download, search or view")
		}
	}
	page = max(page, 1)
	limit = clampLimit(limit, defaultActivityPageSize, maxActivityPageSize)
	filter.Limit = limit
	filter.Offset = (page - 1) * limit

	items, total, err := a.store.ListActivities(ctx, filter)
	if err != nil {
		return ActivityPage{}, fmt.Errorf("list activities: %w", err)
	}
	totalPages := int((total + int64(limit) - 1) / int64(limit))
	return ActivityPage{
		Activities: items,
		Pagination: Pagination{
			CurrentPage: page,
			TotalPages:  totalPages,
			TotalCount:  total,
			HasMore:     page < totalPages,
		},
	}, nil
}

// recordPaperActivity appends a server-observed activity. Failures are
// logged; the action that caused it already happened.
func (a *App) recordPaperActivity(ctx context.Context, user domain.User, kind domain.ActivityType, paper domain.Paper) {
	act := domain.Activity{
		ID:           util.NewID(),
		UserID:       user.ID,
		Type:         kind,
		ResourceType: domain.ResourcePaper,
		ResourceID:   paper.ID,
		Title:        paper.Title,
		Subject:      paper.Subject,
		Category:     paper.Category,
		Tags:         paper.Tags,
		FileKey:      paper.File.Key,
		Metadata: domain.ActivityMetadata{
			FileSize: paper.File.SizeBytes,
			FileType: paper.File.ContentType,
		},
		CreatedAt: a.clock(),
	}
	logger := util.LoggerFromContext(ctx)
	if err := a.store.AppendActivity(ctx, act); err != nil {
		logger.Warn("activity_record_failed", "paper_id", paper.ID, "type", string(kind), "err", err)
	}
	counter := store.CounterViews
	if kind == domain.ActivityDownload {
		counter = store.CounterDownloads
	}
	if err := a.store.IncrementPaperCounter(ctx, paper.ID, counter); err != nil {
		logger.Warn("paper_counter_failed", "paper_id", paper.ID, "counter", string(counter), "err", err)
	}
}
