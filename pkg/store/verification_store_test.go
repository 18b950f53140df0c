package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestVerificationStore(t *testing.T, opts ...VerificationOption) (*VerificationStore, *fakeClock) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	clock := &fakeClock{now: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}
	opts = append([]VerificationOption{WithClock(clock.Now)}, opts...)
	s, err := NewVerificationStore(client, opts...)
	if err != nil {
		t.Fatalf("new verification store: %v", err)
	}
	return s, clock
}

func TestVerificationStoreIssueCheckConsume(t *testing.T) {
	s, clock := newTestVerificationStore(t)
	ctx := context.Background()

	issued, err := s.Issue(ctx, PurposePaperDelete, "paper-1", "Owner@Example.com")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if len(issued.Code) != 6 {
		t.Fatalf("expected 6 digit code, got %q", issued.Code)
	}
	if want := clock.Now().Add(10 * time.Minute); !issued.ExpiresAt.Equal(want) {
		t.Fatalf("expires at = %v, want %v", issued.ExpiresAt, want)
	}

	clock.Advance(9 * time.Minute)
	if err := s.Check(ctx, PurposePaperDelete, "paper-1", "owner@example.com", issued.Code); err != nil {
		t.Fatalf("check: %v", err)
	}
	if err := s.Consume(ctx, PurposePaperDelete, "paper-1", "owner@example.com"); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if err := s.Check(ctx, PurposePaperDelete, "paper-1", "owner@example.com", issued.Code); !errors.Is(err, ErrCodeNotFoundOrExpired) {
		t.Fatalf("expected consumed code to be gone, got %v", err)
	}
}

func TestVerificationStoreRejectsExpiredCode(t *testing.T) {
	s, clock := newTestVerificationStore(t)
	ctx := context.Background()

	issued, err := s.Issue(ctx, PurposePaperDelete, "paper-1", "owner@example.com")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	clock.Advance(10 * time.Minute)
	if err := s.Check(ctx, PurposePaperDelete, "paper-1", "owner@example.com", issued.Code); !errors.Is(err, ErrCodeNotFoundOrExpired) {
		t.Fatalf("expected expiry at exactly ttl, got %v", err)
	}
}

func TestVerificationStoreNewCodeSupersedesOld(t *testing.T) {
	s, _ := newTestVerificationStore(t)
	ctx := context.Background()

	first, err := s.Issue(ctx, PurposePaperDelete, "paper-1", "owner@example.com")
	if err != nil {
		t.Fatalf("issue first: %v", err)
	}
	var second IssuedCode
	for {
		second, err = s.Issue(ctx, PurposePaperDelete, "paper-1", "owner@example.com")
		if err != nil {
			t.Fatalf("issue second: %v", err)
		}
		if second.Code != first.Code {
			break
		}
	}
	if err := s.Check(ctx, PurposePaperDelete, "paper-1", "owner@example.com", first.Code); !errors.Is(err, ErrCodeMismatch) {
		t.Fatalf("expected superseded code to mismatch, got %v", err)
	}
	if err := s.Check(ctx, PurposePaperDelete, "paper-1", "owner@example.com", second.Code); err != nil {
		t.Fatalf("expected latest code to pass, got %v", err)
	}
}

func TestVerificationStoreLocksAfterMaxAttempts(t *testing.T) {
	s, _ := newTestVerificationStore(t, WithMaxAttempts(3))
	ctx := context.Background()

	issued, err := s.Issue(ctx, PurposePaperDelete, "paper-1", "owner@example.com")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	wrong := "000000"
	if issued.Code == wrong {
		wrong = "111111"
	}
	for i := 0; i < 2; i++ {
		if err := s.Check(ctx, PurposePaperDelete, "paper-1", "owner@example.com", wrong); !errors.Is(err, ErrCodeMismatch) {
			t.Fatalf("attempt %d: expected mismatch, got %v", i+1, err)
		}
	}
	if err := s.Check(ctx, PurposePaperDelete, "paper-1", "owner@example.com", wrong); !errors.Is(err, ErrTooManyAttempts) {
		t.Fatalf("expected lockout on final attempt, got %v", err)
	}
	if err := s.Check(ctx, PurposePaperDelete, "paper-1", "owner@example.com", issued.Code); !errors.Is(err, ErrCodeNotFoundOrExpired) {
		t.Fatalf("expected code to be discarded after lockout, got %v", err)
	}
}

func TestVerificationStoreConcurrentGuessesStayWithinBudget(t *testing.T) {
	s, _ := newTestVerificationStore(t, WithMaxAttempts(3))
	ctx := context.Background()

	issued, err := s.Issue(ctx, PurposePaperDelete, "paper-1", "owner@example.com")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	wrong := "000000"
	if issued.Code == wrong {
		wrong = "111111"
	}

	const guesses = 12
	errs := make(chan error, guesses)
	var wg sync.WaitGroup
	for i := 0; i < guesses; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.Check(ctx, PurposePaperDelete, "paper-1", "owner@example.com", wrong)
		}()
	}
	wg.Wait()
	close(errs)

	mismatches := 0
	for err := range errs {
		switch {
		case errors.Is(err, ErrCodeMismatch):
			mismatches++
		case errors.Is(err, ErrTooManyAttempts), errors.Is(err, ErrCodeNotFoundOrExpired):
		default:
			t.Fatalf("unexpected check error: %v", err)
		}
	}
	if mismatches > 2 {
		t.Fatalf("budget of 3 allowed %d plain mismatches", mismatches)
	}
	if err := s.Check(ctx, PurposePaperDelete, "paper-1", "owner@example.com", issued.Code); !errors.Is(err, ErrCodeNotFoundOrExpired) {
		t.Fatalf("expected code discarded after concurrent guesses, got %v", err)
	}
}

func TestVerificationStoreReissueResetsAttempts(t *testing.T) {
	s, _ := newTestVerificationStore(t, WithMaxAttempts(2))
	ctx := context.Background()

	if _, err := s.Issue(ctx, PurposeSignup, "user-1", "u@example.com"); err != nil {
		t.Fatalf("issue: %v", err)
	}
	_ = s.Check(ctx, PurposeSignup, "user-1", "u@example.com", "999999")
	issued, err := s.Issue(ctx, PurposeSignup, "user-1", "u@example.com")
	if err != nil {
		t.Fatalf("reissue: %v", err)
	}
	wrong := "000000"
	if issued.Code == wrong {
		wrong = "111111"
	}
	if err := s.Check(ctx, PurposeSignup, "user-1", "u@example.com", wrong); !errors.Is(err, ErrCodeMismatch) {
		t.Fatalf("expected fresh budget after reissue, got %v", err)
	}
	if err := s.Check(ctx, PurposeSignup, "user-1", "u@example.com", issued.Code); err != nil {
		t.Fatalf("expected code to pass on last attempt, got %v", err)
	}
}

func TestVerificationStoreScopesByPurposeAndSubject(t *testing.T) {
	s, _ := newTestVerificationStore(t)
	ctx := context.Background()

	issued, err := s.Issue(ctx, PurposePaperDelete, "paper-1", "owner@example.com")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := s.Check(ctx, PurposePaperDelete, "paper-2", "owner@example.com", issued.Code); !errors.Is(err, ErrCodeNotFoundOrExpired) {
		t.Fatalf("expected other paper to have no code, got %v", err)
	}
	if err := s.Check(ctx, PurposeSignup, "paper-1", "owner@example.com", issued.Code); !errors.Is(err, ErrCodeNotFoundOrExpired) {
		t.Fatalf("expected other purpose to have no code, got %v", err)
	}
	if err := s.Check(ctx, PurposePaperDelete, "paper-1", "other@example.com", issued.Code); !errors.Is(err, ErrCodeNotFoundOrExpired) {
		t.Fatalf("expected other email to have no code, got %v", err)
	}
	if _, err := s.Issue(ctx, VerificationPurpose("bogus"), "paper-1", "owner@example.com"); err == nil {
		t.Fatal("expected invalid purpose to fail")
	}
	if err := s.Check(ctx, PurposePaperDelete, "paper-1", "owner@example.com", "  "); !errors.Is(err, ErrCodeRequired) {
		t.Fatalf("expected ErrCodeRequired, got %v", err)
	}
}
