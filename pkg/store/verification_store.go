package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iamakashsinghrajput/BookHaven/internal/util"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

// VerificationPurpose scopes a code to one kind of action.
type VerificationPurpose string

const (
	PurposePaperDelete VerificationPurpose = "paper_delete"
	PurposeSignup      VerificationPurpose = "signup"
)

var (
	ErrCodeNotFoundOrExpired = errors.New("verification code not found or expired")
	ErrCodeMismatch          = errors.New("incorrect verification code")
	ErrTooManyAttempts       = errors.New("too many incorrect attempts, request a new code")
	ErrCodeRequired          = errors.New("verification code is required")
	errPurposeInvalid        = errors.New("invalid verification purpose")
)

const (
	defaultCodeTTL      = 10 * time.Minute
	defaultMaxAttempts  = 5
	verificationCodeLen = 6
)

// IssuedCode is returned to the caller that must deliver the code. Code is
// never exposed over the API; only ExpiresAt is.
type IssuedCode struct {
	Code      string
	ExpiresAt time.Time
}

type verificationRecord struct {
	Subject    string    `json:"subject"`
	Email      string    `json:"email"`
	Purpose    string    `json:"purpose"`
	CodeHash   string    `json:"codeHash"`
	ExpiresAt  time.Time `json:"expiresAt"`
	MaxAttempt int       `json:"maxAttempt"`
}

// reserveAttemptScript counts one check against a live code and returns
// {attempt, record}. The counter lives beside the record and expires with it.
var reserveAttemptScript = redis.NewScript(`
local rec = redis.call("GET", KEYS[1])
if not rec then
  return false
end
local n = redis.call("INCR", KEYS[2])
local ttl = redis.call("PTTL", KEYS[1])
if ttl > 0 then
  redis.call("PEXPIRE", KEYS[2], ttl)
end
return {n, rec}
`)

// VerificationStore keeps at most one live code per (purpose, subject,
// email) in Redis. Issuing overwrites the previous code for the key.
type VerificationStore struct {
	client      redis.UniversalClient
	keyPrefix   string
	ttl         time.Duration
	maxAttempts int
	now         func() time.Time
}

// VerificationOption customizes a VerificationStore.
type VerificationOption func(*VerificationStore)

func WithCodeTTL(ttl time.Duration) VerificationOption {
	return func(s *VerificationStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithMaxAttempts(n int) VerificationOption {
	return func(s *VerificationStore) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

func WithKeyPrefix(prefix string) VerificationOption {
	return func(s *VerificationStore) {
		if p := strings.TrimSpace(prefix); p != "" {
			s.keyPrefix = p
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) VerificationOption {
	return func(s *VerificationStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewVerificationStore builds a store on an existing Redis client.
func NewVerificationStore(client redis.UniversalClient, opts ...VerificationOption) (*VerificationStore, error) {
	if client == nil {
		return nil, errors.New("verification store: redis client is required")
	}
	s := &VerificationStore{
		client:      client,
		keyPrefix:   "bookhaven:verify",
		ttl:         defaultCodeTTL,
		maxAttempts: defaultMaxAttempts,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Issue generates a fresh code, replacing any previous one for the key.
func (s *VerificationStore) Issue(ctx context.Context, purpose VerificationPurpose, subject, email string) (IssuedCode, error) {
	email, err := s.normalize(purpose, email)
	if err != nil {
		return IssuedCode{}, err
	}
	code, err := util.NumericCode(verificationCodeLen)
	if err != nil {
		return IssuedCode{}, fmt.Errorf("generate verification code: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return IssuedCode{}, fmt.Errorf("hash verification code: %w", err)
	}
	rec := verificationRecord{
		Subject:    subject,
		Email:      email,
		Purpose:    string(purpose),
		CodeHash:   string(hash),
		ExpiresAt:  s.now().UTC().Add(s.ttl),
		MaxAttempt: s.maxAttempts,
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return IssuedCode{}, fmt.Errorf("marshal verification code: %w", err)
	}
	// Redis TTL is cleanup only; ExpiresAt is authoritative.
	key := s.key(purpose, subject, email)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, raw, s.ttl+time.Minute)
		pipe.Del(ctx, attemptsKey(key))
		return nil
	})
	if err != nil {
		return IssuedCode{}, err
	}
	return IssuedCode{Code: code, ExpiresAt: rec.ExpiresAt}, nil
}

// Check validates a submitted code without consuming it. Every check
// reserves one attempt atomically before comparing, so concurrent guesses
// never exceed the budget; the attempt that exhausts it deletes the code.
func (s *VerificationStore) Check(ctx context.Context, purpose VerificationPurpose, subject, email, code string) error {
	email, err := s.normalize(purpose, email)
	if err != nil {
		return err
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return ErrCodeRequired
	}
	key := s.key(purpose, subject, email)
	res, err := reserveAttemptScript.Run(ctx, s.client, []string{key, attemptsKey(key)}).Slice()
	if errors.Is(err, redis.Nil) {
		return ErrCodeNotFoundOrExpired
	}
	if err != nil {
		return err
	}
	attempt, raw, err := parseReservation(res)
	if err != nil {
		return err
	}
	var rec verificationRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return fmt.Errorf("unmarshal verification code: %w", err)
	}
	if !s.now().UTC().Before(rec.ExpiresAt) {
		s.discard(ctx, key)
		return ErrCodeNotFoundOrExpired
	}
	if attempt > int64(rec.MaxAttempt) {
		s.discard(ctx, key)
		return ErrTooManyAttempts
	}
	if bcrypt.CompareHashAndPassword([]byte(rec.CodeHash), []byte(code)) == nil {
		return nil
	}
	if attempt >= int64(rec.MaxAttempt) {
		s.discard(ctx, key)
		return ErrTooManyAttempts
	}
	return ErrCodeMismatch
}

func parseReservation(res []any) (int64, string, error) {
	if len(res) != 2 {
		return 0, "", fmt.Errorf("unexpected verification reply %v", res)
	}
	attempt, ok := res[0].(int64)
	if !ok {
		return 0, "", fmt.Errorf("unexpected attempt counter %T", res[0])
	}
	raw, ok := res[1].(string)
	if !ok {
		return 0, "", fmt.Errorf("unexpected verification record %T", res[1])
	}
	return attempt, raw, nil
}

func (s *VerificationStore) discard(ctx context.Context, key string) {
	_ = s.client.Del(ctx, key, attemptsKey(key)).Err()
}

// Consume deletes the code so it cannot be used again.
func (s *VerificationStore) Consume(ctx context.Context, purpose VerificationPurpose, subject, email string) error {
	email, err := s.normalize(purpose, email)
	if err != nil {
		return err
	}
	key := s.key(purpose, subject, email)
	return s.client.Del(ctx, key, attemptsKey(key)).Err()
}

func (s *VerificationStore) normalize(purpose VerificationPurpose, email string) (string, error) {
	switch purpose {
	case PurposePaperDelete, PurposeSignup:
	default:
		return "", errPurposeInvalid
	}
	return util.NormalizeEmail(email)
}

func attemptsKey(key string) string { return key + ":attempts" }

func (s *VerificationStore) key(purpose VerificationPurpose, subject, email string) string {
	return fmt.Sprintf("%s:%s:%s:%s", s.keyPrefix, purpose, subject, email)
}
