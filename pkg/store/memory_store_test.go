package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/iamakashsinghrajput/BookHaven/pkg/domain"
)

func seedPaper(t *testing.T, s *MemoryStore, p domain.Paper) {
	t.Helper()
	if err := s.SavePaper(context.Background(), p); err != nil {
		t.Fatalf("save paper %s: %v", p.ID, err)
	}
}

func paperIDs(papers []domain.Paper) []string {
	ids := make([]string, 0, len(papers))
	for _, p := range papers {
		ids = append(ids, p.ID)
	}
	return ids
}

func TestMemoryStoreUserEmailUniquePerRole(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.SaveUser(ctx, domain.User{ID: "u1", Email: "a@example.com", Role: domain.RoleUser}); err != nil {
		t.Fatalf("save user: %v", err)
	}
	if err := s.SaveUser(ctx, domain.User{ID: "a1", Email: "a@example.com", Role: domain.RoleAdmin}); err != nil {
		t.Fatalf("same email with another role should be allowed: %v", err)
	}
	if err := s.SaveUser(ctx, domain.User{ID: "u2", Email: "A@example.com", Role: domain.RoleUser}); !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
	got, ok, err := s.GetUserByEmail(ctx, "a@example.com", domain.RoleAdmin)
	if err != nil || !ok || got.ID != "a1" {
		t.Fatalf("lookup admin: ok=%v id=%q err=%v", ok, got.ID, err)
	}
}

func TestMemoryStoreListPapersFacetsAndPopularity(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	visible := func(p domain.Paper) domain.Paper {
		p.IsPublic, p.IsApproved, p.Status = true, true, domain.PaperApproved
		return p
	}
	seedPaper(t, s, visible(domain.Paper{ID: "math", Subject: "Mathematics", Category: "university", Tags: []string{"calculus"}, DownloadCount: 5, CreatedAt: base}))
	seedPaper(t, s, visible(domain.Paper{ID: "phys", Subject: "Physics", Category: "school", Tags: []string{"optics"}, DownloadCount: 9, CreatedAt: base.Add(time.Hour)}))
	seedPaper(t, s, visible(domain.Paper{ID: "chem", Subject: "Chemistry", Category: "school", Tags: []string{"calculus"}, DownloadCount: 5, Rating: domain.Rating{Average: 4.5}, CreatedAt: base.Add(2 * time.Hour)}))
	seedPaper(t, s, domain.Paper{ID: "pending", Subject: "Mathematics", Category: "university", Status: domain.PaperPending, IsPublic: true, CreatedAt: base.Add(3 * time.Hour)})

	got, err := s.ListPapers(ctx, PaperFilter{PublicApproved: true, Sort: SortPopular})
	if err != nil {
		t.Fatalf("list popular: %v", err)
	}
	if diff := cmp.Diff([]string{"phys", "chem", "math"}, paperIDs(got)); diff != "" {
		t.Fatalf("popular order mismatch (-want +got):\n%s", diff)
	}

	got, err = s.ListPapers(ctx, PaperFilter{PublicApproved: true, Subjects: []string{"Mathematics"}, Tags: []string{"optics"}})
	if err != nil {
		t.Fatalf("list facets: %v", err)
	}
	if diff := cmp.Diff([]string{"phys", "math"}, paperIDs(got)); diff != "" {
		t.Fatalf("facet match mismatch (-want +got):\n%s", diff)
	}

	got, err = s.ListPapers(ctx, PaperFilter{PublicApproved: true, Sort: SortPopular, ExcludeIDs: []string{"phys"}, Limit: 1})
	if err != nil {
		t.Fatalf("list exclude: %v", err)
	}
	if diff := cmp.Diff([]string{"chem"}, paperIDs(got)); diff != "" {
		t.Fatalf("exclude mismatch (-want +got):\n%s", diff)
	}

	got, err = s.ListPapers(ctx, PaperFilter{SubjectContains: "math"})
	if err != nil {
		t.Fatalf("list subject contains: %v", err)
	}
	if diff := cmp.Diff([]string{"pending", "math"}, paperIDs(got)); diff != "" {
		t.Fatalf("subject contains mismatch (-want +got):\n%s", diff)
	}
}

func TestMemoryStoreSetPaperReviewTracksApprovalFlag(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedPaper(t, s, domain.Paper{ID: "p1", Status: domain.PaperPending})

	if err := s.SetPaperReview(ctx, "p1", domain.PaperApproved, ""); err != nil {
		t.Fatalf("approve: %v", err)
	}
	p, _, _ := s.GetPaper(ctx, "p1")
	if !p.IsApproved || p.Status != domain.PaperApproved {
		t.Fatalf("expected approved paper, got %+v", p)
	}
	if err := s.SetPaperReview(ctx, "p1", domain.PaperRejected, "blurry"); err != nil {
		t.Fatalf("reject: %v", err)
	}
	p, _, _ = s.GetPaper(ctx, "p1")
	if p.IsApproved || p.RejectionReason != "blurry" {
		t.Fatalf("expected rejected paper, got %+v", p)
	}
	if err := s.SetPaperReview(ctx, "missing", domain.PaperApproved, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreRewardOnePerPaper(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	r := domain.Reward{ID: "r1", PaperID: "p1", Status: domain.RewardPending, UploadDate: time.Now()}
	if err := s.CreateReward(ctx, r); err != nil {
		t.Fatalf("create reward: %v", err)
	}
	r.ID = "r2"
	if err := s.CreateReward(ctx, r); !errors.Is(err, ErrDuplicateReward) {
		t.Fatalf("expected ErrDuplicateReward, got %v", err)
	}
	n, err := s.DeleteRewardsByPaper(ctx, "p1")
	if err != nil || n != 1 {
		t.Fatalf("delete rewards: n=%d err=%v", n, err)
	}
	list, _ := s.ListRewards(ctx)
	if len(list) != 0 {
		t.Fatalf("expected no rewards, got %d", len(list))
	}
}

func TestMemoryStoreActivitiesNewestFirst(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a1", "a2", "a3"} {
		a := domain.Activity{ID: id, UserID: "u1", Type: domain.ActivityView, ResourceID: "p1", CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := s.AppendActivity(ctx, a); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	_ = s.AppendActivity(ctx, domain.Activity{ID: "other", UserID: "u2", Type: domain.ActivityView, CreatedAt: base})

	items, total, err := s.ListActivities(ctx, ActivityFilter{UserID: "u1", Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 3 {
		t.Fatalf("total = %d, want 3", total)
	}
	var ids []string
	for _, a := range items {
		ids = append(ids, a.ID)
	}
	if diff := cmp.Diff([]string{"a3", "a2"}, ids); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}

	n, err := s.DeleteActivitiesByResource(ctx, "p1")
	if err != nil || n != 3 {
		t.Fatalf("delete by resource: n=%d err=%v", n, err)
	}
}
