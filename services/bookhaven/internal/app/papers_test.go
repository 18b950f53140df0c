package app

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/iamakashsinghrajput/BookHaven/pkg/domain"
	"github.com/iamakashsinghrajput/BookHaven/pkg/notify"
	"github.com/iamakashsinghrajput/BookHaven/pkg/store"
)

func TestSubmitPaperCreatesPendingPaperWithUploadActivity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	uploader := env.newUser(t, "Asha", "asha@example.com")

	paper, err := env.app.SubmitPaper(ctx, uploader, PaperSubmission{
		Title:       "JEE Main 2024 Physics",
		Subject:     "Physics",
		Category:    "Engineering",
		Description: "<p>Shift 1 <b>solved</b></p><script>alert(1)</script>",
		Tags:        "mechanics, optics ,",
		Year:        "2024",
		ExamType:    "JEE",
		Mobile:      "9876543210",
	}, FileUpload{Filename: "jee main 2024.png", Body: bytes.NewReader(pngBytes)})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if paper.Status != domain.PaperPending || paper.IsApproved {
		t.Fatalf("expected pending unapproved paper, got status=%s approved=%v", paper.Status, paper.IsApproved)
	}
	stored, ok, err := env.store.GetPaper(ctx, paper.ID)
	if err != nil || !ok {
		t.Fatalf("paper not stored: ok=%v err=%v", ok, err)
	}
	if stored.Status != domain.PaperPending || stored.IsApproved {
		t.Fatalf("stored paper not pending: %+v", stored)
	}
	if diff := cmp.Diff([]string{"mechanics", "optics", "2024", "JEE"}, stored.Tags); diff != "" {
		t.Fatalf("tags mismatch (-want +got):\n%s", diff)
	}
	if stored.Description != "Shift 1 solved" {
		t.Fatalf("expected markup stripped, got %q", stored.Description)
	}
	if stored.File.ContentType != "image/png" || stored.File.Key != "papers/"+paper.ID+"/jee_main_2024.png" {
		t.Fatalf("unexpected file ref %+v", stored.File)
	}
	if !env.objects.Has(stored.File.Key) {
		t.Fatalf("blob not stored at %s", stored.File.Key)
	}

	acts := env.activities(t, paper.ID)
	if len(acts) != 1 || acts[0].Type != domain.ActivityUpload || acts[0].UserID != uploader.ID {
		t.Fatalf("expected exactly one upload activity, got %+v", acts)
	}
	if _, found, _ := env.store.GetRewardByPaper(ctx, paper.ID); found {
		t.Fatalf("reward must not exist before approval")
	}

	updated, _, _ := env.store.GetUserByID(ctx, uploader.ID)
	if updated.Mobile != "9876543210" {
		t.Fatalf("expected uploader mobile updated, got %q", updated.Mobile)
	}
	if got := env.notifier.byKind(notify.KindPaperSubmitted); len(got) != 1 || got[0].To[0] != uploader.Email {
		t.Fatalf("expected uploader confirmation, got %+v", got)
	}
	if got := env.notifier.byKind(notify.KindPaperSubmittedAdmin); len(got) != 1 || got[0].To[0] != testAdminInbox {
		t.Fatalf("expected admin notification, got %+v", got)
	}
}

func TestSubmitPaperRejectsInvalidInputBeforePersistence(t *testing.T) {
	valid := PaperSubmission{Title: "Paper", Subject: "Maths", Category: "School", Mobile: "9876543210"}
	cases := []struct {
		name  string
		sub   func(PaperSubmission) PaperSubmission
		body  []byte
		field string
	}{
		{name: "missing title", sub: func(s PaperSubmission) PaperSubmission { s.Title = "  "; return s }, body: pngBytes, field: "title"},
		{name: "missing category", sub: func(s PaperSubmission) PaperSubmission { s.Category = ""; return s }, body: pngBytes, field: "category"},
		{name: "mobile wrong prefix", sub: func(s PaperSubmission) PaperSubmission { s.Mobile = "5876543210"; return s }, body: pngBytes, field: "mobile"},
		{name: "mobile too short", sub: func(s PaperSubmission) PaperSubmission { s.Mobile = "98765"; return s }, body: pngBytes, field: "mobile"},
		{name: "bad year", sub: func(s PaperSubmission) PaperSubmission { s.Year = "24"; return s }, body: pngBytes, field: "year"},
		{name: "empty file", body: []byte{}, field: "file"},
		{name: "plain text file", body: []byte("just some notes, not a paper"), field: "file"},
		{name: "unreadable pdf", body: []byte("%PDF-1.4\nthis is not really a pdf"), field: "file"},
		{name: "too large", body: append(bytes.Clone(pngBytes), make([]byte, 10<<20)...), field: "file"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			uploader := env.newUser(t, "Asha", "asha@example.com")
			sub := valid
			if tc.sub != nil {
				sub = tc.sub(sub)
			}
			_, err := env.app.SubmitPaper(context.Background(), uploader, sub, FileUpload{Filename: "p.png", Body: bytes.NewReader(tc.body)})
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			var verr *ValidationError
			if !errors.As(err, &verr) || verr.Field != tc.field {
				t.Fatalf("expected field %q, got %v", tc.field, err)
			}
			if env.objects.Len() != 0 {
				t.Fatalf("blob stored despite validation failure")
			}
			papers, _ := env.store.ListPapers(context.Background(), store.PaperFilter{})
			if len(papers) != 0 {
				t.Fatalf("paper stored despite validation failure")
			}
		})
	}
}

func TestSubmitPaperRequiresAuthenticatedUser(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.app.SubmitPaper(context.Background(), domain.User{}, PaperSubmission{}, FileUpload{})
	if !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

type failingPaperStore struct {
	*store.MemoryStore
}

func (f failingPaperStore) SavePaper(context.Context, domain.Paper) error {
	return errors.New("disk full")
}

func (f failingPaperStore) WithinTx(_ context.Context, fn func(store.Store) error) error {
	return fn(f)
}

func TestSubmitPaperRemovesBlobWhenSaveFails(t *testing.T) {
	mem := store.NewMemoryStore()
	env := newTestEnv(t, func(c *Config) { c.Store = failingPaperStore{mem} })
	env.store = mem
	uploader := env.newUser(t, "Asha", "asha@example.com")

	_, err := env.app.SubmitPaper(context.Background(), uploader, PaperSubmission{
		Title: "Paper", Subject: "Maths", Category: "School", Mobile: "9876543210",
	}, FileUpload{Filename: "p.png", Body: bytes.NewReader(pngBytes)})
	if err == nil {
		t.Fatalf("expected save failure")
	}
	if env.objects.Len() != 0 {
		t.Fatalf("expected orphaned blob to be removed")
	}
	if len(env.notifier.byKind(notify.KindPaperSubmitted)) != 0 {
		t.Fatalf("no notification expected for a failed submission")
	}
}

func TestSubmitPaperSurvivesNotificationFailure(t *testing.T) {
	env := newTestEnv(t)
	env.notifier.err = errors.New("smtp down")
	uploader := env.newUser(t, "Asha", "asha@example.com")
	paper := env.submit(t, uploader, "Notes", "Biology", "School")
	if paper.ID == "" {
		t.Fatalf("expected paper despite notification failure")
	}
}

func TestUpdatePaperOwnerOnly(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.newUser(t, "Asha", "asha@example.com")
	other := env.newUser(t, "Ravi", "ravi@example.com")
	paper := env.submit(t, owner, "Old Title", "Physics", "Engineering")

	title := "New Title"
	if _, err := env.app.UpdatePaper(ctx, other, paper.ID, PaperUpdate{Title: &title}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for non-owner, got %v", err)
	}
	updated, err := env.app.UpdatePaper(ctx, owner, paper.ID, PaperUpdate{Title: &title, Tags: []string{" waves ", "waves", ""}})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Title != title || !cmp.Equal(updated.Tags, []string{"waves"}) {
		t.Fatalf("unexpected update result %+v", updated)
	}
	acts := env.activities(t, paper.ID)
	if len(acts) != 1 || acts[0].Title != title {
		t.Fatalf("expected upload activity retitled, got %+v", acts)
	}
	empty := " "
	if _, err := env.app.UpdatePaper(ctx, owner, paper.ID, PaperUpdate{Subject: &empty}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for blank subject, got %v", err)
	}
}

func TestGetPaperVisibility(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.newUser(t, "Asha", "asha@example.com")
	other := env.newUser(t, "Ravi", "ravi@example.com")
	admin := env.newAdmin(t)
	pending := env.submit(t, owner, "Pending", "Physics", "Engineering")

	if _, err := env.app.GetPaper(ctx, other, pending.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("pending paper must be hidden from others, got %v", err)
	}
	if _, err := env.app.GetPaper(ctx, owner, pending.ID); err != nil {
		t.Fatalf("owner should see pending paper: %v", err)
	}
	if _, err := env.app.GetPaper(ctx, admin, pending.ID); err != nil {
		t.Fatalf("admin should see pending paper: %v", err)
	}
	approved := env.seedPaper(t, domain.Paper{Title: "Public", Subject: "Maths", Category: "School", UploaderID: owner.ID})
	if _, err := env.app.GetPaper(ctx, domain.User{}, approved.ID); err != nil {
		t.Fatalf("anonymous should see approved paper: %v", err)
	}
}

func TestListPublicPapersFilters(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.newUser(t, "Asha", "asha@example.com")
	env.seedPaper(t, domain.Paper{Title: "A", Subject: "Applied Physics", Category: "Engineering", Tags: []string{"2024"}, UploaderID: owner.ID})
	env.seedPaper(t, domain.Paper{Title: "B", Subject: "Chemistry", Category: "Engineering", Tags: []string{"2023"}, UploaderID: owner.ID})
	env.seedPaper(t, domain.Paper{Title: "C", Subject: "Physics", Category: "Medical", UploaderID: owner.ID})
	env.seedPaper(t, domain.Paper{Title: "D", Subject: "Physics", Category: "Engineering", Status: domain.PaperPending, UploaderID: owner.ID})

	got, err := env.app.ListPublicPapers(ctx, PublicPaperQuery{Category: "Engineering", Subject: "physics"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].Title != "A" {
		t.Fatalf("expected only A, got %+v", titles(got))
	}
	got, _ = env.app.ListPublicPapers(ctx, PublicPaperQuery{Year: "2023"})
	if len(got) != 1 || got[0].Title != "B" {
		t.Fatalf("expected only B for 2023, got %+v", titles(got))
	}
}

func TestListUploadedPapersRequiresAdmin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.newUser(t, "Asha", "asha@example.com")
	env.submit(t, user, "One", "Physics", "Engineering")
	if _, err := env.app.ListUploadedPapers(ctx, user, ""); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	admin := env.newAdmin(t)
	pending, err := env.app.ListUploadedPapers(ctx, admin, "pending")
	if err != nil || len(pending) != 1 {
		t.Fatalf("expected one pending paper, got %d err=%v", len(pending), err)
	}
	if _, err := env.app.ListUploadedPapers(ctx, admin, "archived"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for unknown status, got %v", err)
	}
	mine, err := env.app.ListMyUploads(ctx, user)
	if err != nil || len(mine) != 1 {
		t.Fatalf("expected one upload, got %d err=%v", len(mine), err)
	}
}

func titles(papers []domain.Paper) []string {
	out := make([]string, 0, len(papers))
	for _, p := range papers {
		out = append(out, p.Title)
	}
	return out
}

func TestBuildTags(t *testing.T) {
	got := buildTags(PaperSubmission{Tags: "mechanics, Mechanics,, waves ", Year: "2024", Branch: "", ExamType: "JEE"})
	want := []string{"mechanics", "waves", "2024", "JEE"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("tags mismatch (-want +got):\n%s", diff)
	}
	if got := buildTags(PaperSubmission{}); len(got) != 0 || got == nil {
		t.Fatalf("expected empty non-nil tags, got %#v", got)
	}
	if !strings.Contains(strings.Join(buildTags(PaperSubmission{Branch: "CSE"}), ","), "CSE") {
		t.Fatalf("branch should become a tag")
	}
}
