package app

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/iamakashsinghrajput/BookHaven/pkg/domain"
	"github.com/iamakashsinghrajput/BookHaven/pkg/notify"
	"github.com/iamakashsinghrajput/BookHaven/pkg/queue"
	"github.com/iamakashsinghrajput/BookHaven/pkg/storage"
)

func TestOwnerDeleteWithCode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := env.newAdmin(t)
	owner := env.newUser(t, "Asha", "asha@example.com")
	paper := env.submit(t, owner, "JEE Main 2024 Physics", "Physics", "Engineering")
	if _, err := env.app.ReviewPaper(ctx, admin, paper.ID, DecisionApprove, ""); err != nil {
		t.Fatalf("approve: %v", err)
	}
	viewer := env.newUser(t, "Ravi", "ravi@example.com")
	if _, err := env.app.Preview(ctx, viewer, paper.ID); err != nil {
		t.Fatalf("preview: %v", err)
	}

	requestedAt := env.clock.Now()
	expires, err := env.app.RequestDeleteCode(ctx, paper.ID, "  ASHA@example.com ")
	if err != nil {
		t.Fatalf("request code: %v", err)
	}
	if !expires.Equal(requestedAt.Add(10 * time.Minute)) {
		t.Fatalf("expected expiry at T+10m, got %v", expires)
	}
	msgs := env.notifier.byKind(notify.KindDeleteCode)
	if len(msgs) != 1 || msgs[0].To[0] != "asha@example.com" {
		t.Fatalf("expected code mailed to the uploader, got %+v", msgs)
	}
	code := msgs[0].Data["Code"]
	if len(code) != 6 {
		t.Fatalf("expected a 6-digit code, got %q", code)
	}

	env.clock.Advance(9 * time.Minute)
	res, err := env.app.ConfirmDelete(ctx, paper.ID, "asha@example.com", code)
	if err != nil {
		t.Fatalf("confirm delete: %v", err)
	}
	if !res.FileDeleted || res.ActivitiesDeleted != 2 || res.RewardsDeleted != 1 {
		t.Fatalf("unexpected cascade result %+v", res)
	}
	if _, ok, _ := env.store.GetPaper(ctx, paper.ID); ok {
		t.Fatalf("paper still stored")
	}
	if got := env.activities(t, paper.ID); len(got) != 0 {
		t.Fatalf("activities referencing the paper survived: %+v", got)
	}
	if n := countRewards(t, env, paper.ID); n != 0 {
		t.Fatalf("reward for the paper survived")
	}
	if env.objects.Has(paper.File.Key) {
		t.Fatalf("blob %s still stored", paper.File.Key)
	}

	if _, err := env.app.ConfirmDelete(ctx, paper.ID, "asha@example.com", code); !errors.Is(err, ErrCodeNotFoundOrExpired) {
		t.Fatalf("expected reused code to fail with ErrCodeNotFoundOrExpired, got %v", err)
	}
}

func TestRequestDeleteCodeDoesNotRevealPapers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.newUser(t, "Asha", "asha@example.com")
	env.newUser(t, "Ravi", "ravi@example.com")
	paper := env.submit(t, owner, "Paper", "Maths", "School")

	_, unknownErr := env.app.RequestDeleteCode(ctx, "no-such-paper", "asha@example.com")
	_, wrongErr := env.app.RequestDeleteCode(ctx, paper.ID, "ravi@example.com")
	if !errors.Is(unknownErr, ErrDeleteNotPermitted) || !errors.Is(wrongErr, ErrDeleteNotPermitted) {
		t.Fatalf("expected ErrDeleteNotPermitted for both, got %v and %v", unknownErr, wrongErr)
	}
	if unknownErr.Error() != wrongErr.Error() {
		t.Fatalf("errors differ: %q vs %q", unknownErr, wrongErr)
	}
	if msgs := env.notifier.byKind(notify.KindDeleteCode); len(msgs) != 0 {
		t.Fatalf("no code should be sent, got %+v", msgs)
	}
	if _, err := env.app.RequestDeleteCode(ctx, paper.ID, "not-an-email"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for bad email, got %v", err)
	}
}

func TestConfirmDeleteRejectsExpiredCode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.newUser(t, "Asha", "asha@example.com")
	paper := env.submit(t, owner, "Paper", "Maths", "School")

	if _, err := env.app.RequestDeleteCode(ctx, paper.ID, owner.Email); err != nil {
		t.Fatalf("request code: %v", err)
	}
	code := env.notifier.lastCode(t, notify.KindDeleteCode)
	env.clock.Advance(10 * time.Minute)
	if _, err := env.app.ConfirmDelete(ctx, paper.ID, owner.Email, code); !errors.Is(err, ErrCodeNotFoundOrExpired) {
		t.Fatalf("expected expired code, got %v", err)
	}
	if _, ok, _ := env.store.GetPaper(ctx, paper.ID); !ok {
		t.Fatalf("paper deleted with an expired code")
	}
}

func TestNewDeleteCodeReplacesPrevious(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.newUser(t, "Asha", "asha@example.com")
	paper := env.submit(t, owner, "Paper", "Maths", "School")

	if _, err := env.app.RequestDeleteCode(ctx, paper.ID, owner.Email); err != nil {
		t.Fatalf("request code: %v", err)
	}
	first := env.notifier.lastCode(t, notify.KindDeleteCode)
	if _, err := env.app.RequestDeleteCode(ctx, paper.ID, owner.Email); err != nil {
		t.Fatalf("request second code: %v", err)
	}
	second := env.notifier.lastCode(t, notify.KindDeleteCode)
	if first != second {
		if _, err := env.app.ConfirmDelete(ctx, paper.ID, owner.Email, first); !errors.Is(err, ErrCodeMismatch) {
			t.Fatalf("expected the first code to be invalid, got %v", err)
		}
	}
	if _, err := env.app.ConfirmDelete(ctx, paper.ID, owner.Email, second); err != nil {
		t.Fatalf("confirm with latest code: %v", err)
	}
}

func TestConfirmDeleteLocksOutAfterRepeatedMismatches(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.newUser(t, "Asha", "asha@example.com")
	paper := env.submit(t, owner, "Paper", "Maths", "School")

	if _, err := env.app.RequestDeleteCode(ctx, paper.ID, owner.Email); err != nil {
		t.Fatalf("request code: %v", err)
	}
	code := env.notifier.lastCode(t, notify.KindDeleteCode)
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	for i := 1; i <= 4; i++ {
		if _, err := env.app.ConfirmDelete(ctx, paper.ID, owner.Email, wrong); !errors.Is(err, ErrCodeMismatch) {
			t.Fatalf("attempt %d: expected ErrCodeMismatch, got %v", i, err)
		}
	}
	if _, err := env.app.ConfirmDelete(ctx, paper.ID, owner.Email, wrong); !errors.Is(err, ErrTooManyAttempts) {
		t.Fatalf("attempt 5: expected ErrTooManyAttempts, got %v", err)
	}
	if _, err := env.app.ConfirmDelete(ctx, paper.ID, owner.Email, code); !errors.Is(err, ErrCodeNotFoundOrExpired) {
		t.Fatalf("expected the locked code to be gone, got %v", err)
	}
	if _, err := env.app.ConfirmDelete(ctx, paper.ID, owner.Email, " "); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for empty code, got %v", err)
	}
}

func TestConfirmDeleteRechecksOwnership(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.newUser(t, "Asha", "asha@example.com")
	paper := env.submit(t, owner, "Paper", "Maths", "School")

	if _, err := env.app.RequestDeleteCode(ctx, paper.ID, owner.Email); err != nil {
		t.Fatalf("request code: %v", err)
	}
	code := env.notifier.lastCode(t, notify.KindDeleteCode)

	owner.Email = "asha.new@example.com"
	if err := env.store.SaveUser(ctx, owner); err != nil {
		t.Fatalf("change email: %v", err)
	}
	if _, err := env.app.ConfirmDelete(ctx, paper.ID, "asha@example.com", code); !errors.Is(err, ErrDeleteNotPermitted) {
		t.Fatalf("expected ErrDeleteNotPermitted after ownership change, got %v", err)
	}
	if _, ok, _ := env.store.GetPaper(ctx, paper.ID); !ok {
		t.Fatalf("paper deleted without current ownership")
	}
}

func TestRequestDeleteCodeSurfacesDeliveryFailure(t *testing.T) {
	env := newTestEnv(t)
	owner := env.newUser(t, "Asha", "asha@example.com")
	paper := env.submit(t, owner, "Paper", "Maths", "School")
	env.notifier.err = errors.New("smtp unavailable")

	_, err := env.app.RequestDeleteCode(context.Background(), paper.ID, owner.Email)
	if err == nil || errors.Is(err, ErrDeleteNotPermitted) {
		t.Fatalf("expected delivery failure, got %v", err)
	}
}

type failingDeleteObjects struct {
	*storage.MemoryStore
}

func (failingDeleteObjects) Delete(context.Context, string) error {
	return errors.New("bucket unavailable")
}

func TestAdminDeleteSurvivesBlobFailure(t *testing.T) {
	objects := storage.NewMemoryStore("")
	env := newTestEnv(t, func(c *Config) { c.Objects = failingDeleteObjects{objects} })
	env.objects = objects
	ctx := context.Background()
	admin := env.newAdmin(t)
	owner := env.newUser(t, "Asha", "asha@example.com")
	paper := env.seedPaper(t, domain.Paper{Title: "Paper", Subject: "Maths", Category: "School", UploaderID: owner.ID})

	if _, err := env.app.DeletePaper(ctx, owner, paper.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for non-admin, got %v", err)
	}
	res, err := env.app.DeletePaper(ctx, admin, paper.ID)
	if err != nil {
		t.Fatalf("admin delete: %v", err)
	}
	if res.FileDeleted {
		t.Fatalf("blob deletion failed but was reported as done")
	}
	if _, ok, _ := env.store.GetPaper(ctx, paper.ID); ok {
		t.Fatalf("paper still stored")
	}
	if _, err := env.app.DeletePaper(ctx, admin, paper.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestDotDotUploadsKeepSeparateBlobs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := env.newAdmin(t)
	owner := env.newUser(t, "Asha", "asha@example.com")

	var papers []domain.Paper
	for _, title := range []string{"First", "Second"} {
		p, err := env.app.SubmitPaper(ctx, owner, PaperSubmission{
			Title:    title,
			Subject:  "Maths",
			Category: "School",
			Mobile:   "9876543210",
		}, FileUpload{Filename: "..", Body: bytes.NewReader(pngBytes)})
		if err != nil {
			t.Fatalf("submit %s: %v", title, err)
		}
		if !strings.HasPrefix(p.File.Key, "papers/"+p.ID+"/") {
			t.Fatalf("key %q escapes the paper prefix", p.File.Key)
		}
		papers = append(papers, p)
	}
	if papers[0].File.Key == papers[1].File.Key {
		t.Fatalf("papers share blob key %q", papers[0].File.Key)
	}

	if _, err := env.app.DeletePaper(ctx, admin, papers[0].ID); err != nil {
		t.Fatalf("admin delete: %v", err)
	}
	if env.objects.Has(papers[0].File.Key) {
		t.Fatalf("deleted paper's blob still stored")
	}
	if !env.objects.Has(papers[1].File.Key) {
		t.Fatalf("surviving paper's blob was removed")
	}
}

type recordingCleanup struct {
	keys    []string
	reasons []string
}

func (r *recordingCleanup) Enqueue(_ context.Context, key, reason string) (queue.Job, error) {
	r.keys = append(r.keys, key)
	r.reasons = append(r.reasons, reason)
	return queue.Job{ID: "job-1", ObjectKey: key, Status: queue.StatusQueued}, nil
}

func TestFailedBlobDeleteIsQueuedForCleanup(t *testing.T) {
	objects := storage.NewMemoryStore("")
	cleanup := &recordingCleanup{}
	env := newTestEnv(t, func(c *Config) {
		c.Objects = failingDeleteObjects{objects}
		c.Cleanup = cleanup
	})
	env.objects = objects
	ctx := context.Background()
	admin := env.newAdmin(t)
	owner := env.newUser(t, "Asha", "asha@example.com")
	paper := env.seedPaper(t, domain.Paper{Title: "Paper", Subject: "Maths", Category: "School", UploaderID: owner.ID})

	res, err := env.app.DeletePaper(ctx, admin, paper.ID)
	if err != nil {
		t.Fatalf("admin delete: %v", err)
	}
	if res.FileDeleted || !res.CleanupQueued {
		t.Fatalf("expected queued cleanup, got %+v", res)
	}
	if len(cleanup.keys) != 1 || cleanup.keys[0] != paper.File.Key {
		t.Fatalf("expected %q queued, got %v", paper.File.Key, cleanup.keys)
	}
	if cleanup.reasons[0] != "paper "+paper.ID+" deleted" {
		t.Fatalf("unexpected reason %q", cleanup.reasons[0])
	}
}
