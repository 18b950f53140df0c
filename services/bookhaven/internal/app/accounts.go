package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iamakashsinghrajput/BookHaven/internal/util"
	"github.com/iamakashsinghrajput/BookHaven/pkg/auth"
	"github.com/iamakashsinghrajput/BookHaven/pkg/domain"
	"github.com/iamakashsinghrajput/BookHaven/pkg/notify"
	"github.com/iamakashsinghrajput/BookHaven/pkg/store"
)

// signupSubject scopes signup codes; one pending signup per address.
const signupSubject = "user"

// AccountInput is the data needed to create a principal.
type AccountInput struct {
	Name     string
	Email    string
	Password string
	Mobile   string
}

// LoginResult is a new session for a principal.
type LoginResult struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expiresAt"`
	User      domain.User `json:"user"`
}

// Register creates (or refreshes, while still unverified) a user account and
// emails a signup code. The account cannot log in until VerifyEmail.
func (a *App) Register(ctx context.Context, in AccountInput) (domain.User, time.Time, error) {
	email, hash, err := checkAccountInput(&in)
	if err != nil {
		return domain.User{}, time.Time{}, err
	}
	now := a.clock()
	user, exists, err := a.store.GetUserByEmail(ctx, email, domain.RoleUser)
	if err != nil {
		return domain.User{}, time.Time{}, fmt.Errorf("load user: %w", err)
	}
	if exists && user.EmailVerifiedAt != nil {
		return domain.User{}, time.Time{}, ErrEmailAlreadyExists
	}
	if !exists {
		user = domain.User{
			ID:        util.NewID(),
			Email:     email,
			Role:      domain.RoleUser,
			Status:    domain.StatusActive,
			CreatedAt: now,
		}
	}
	user.Name = in.Name
	user.PasswordHash = hash
	user.Mobile = in.Mobile
	user.UpdatedAt = now
	if err := a.store.SaveUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			return domain.User{}, time.Time{}, ErrEmailAlreadyExists
		}
		return domain.User{}, time.Time{}, fmt.Errorf("save user: %w", err)
	}

	issued, err := a.codes.Issue(ctx, store.PurposeSignup, signupSubject, email)
	if err != nil {
		return domain.User{}, time.Time{}, fmt.Errorf("issue signup code: %w", err)
	}
	err = a.notifier.Notify(ctx, notify.Message{
		Kind: notify.KindSignupCode,
		To:   []string{email},
		Data: map[string]string{
			"Name":      user.Name,
			"Code":      issued.Code,
			"ExpiresAt": issued.ExpiresAt.Format(time.RFC1123),
		},
	})
	if err != nil {
		return domain.User{}, time.Time{}, fmt.Errorf("send signup code: %w", err)
	}
	util.LoggerFromContext(ctx).Info("user_registered", "user_id", user.ID, "email", util.MaskEmail(email))
	return user, issued.ExpiresAt, nil
}

// VerifyEmail confirms a signup code and activates login for the user.
func (a *App) VerifyEmail(ctx context.Context, email, code string) (domain.User, error) {
	email, err := util.NormalizeEmail(email)
	if err != nil {
		return domain.User{}, invalid("email", "a valid email address is required")
	}
	if err := a.codes.Check(ctx, store.PurposeSignup, signupSubject, email, code); err != nil {
		if errors.Is(err, store.ErrCodeRequired) {
			return domain.User{}, invalid("code", err.Error())
		}
		return domain.User{}, err
	}
	user, ok, err := a.store.GetUserByEmail(ctx, email, domain.RoleUser)
	if err != nil {
		return domain.User{}, fmt.Errorf("load user: %w", err)
	}
	if !ok {
		return domain.User{}, ErrCodeNotFoundOrExpired
	}
	now := a.clock()
	user.EmailVerifiedAt = &now
	user.UpdatedAt = now
	if err := a.store.SaveUser(ctx, user); err != nil {
		return domain.User{}, fmt.Errorf("save user: %w", err)
	}
	if err := a.codes.Consume(ctx, store.PurposeSignup, signupSubject, email); err != nil {
		util.LoggerFromContext(ctx).Warn("signup_code_consume_failed", "user_id", user.ID, "err", err)
	}
	return user, nil
}

// Login authenticates a principal of the given role and opens a session.
// Users and admins are separate records, so the role selects which one.
func (a *App) Login(ctx context.Context, email, password string, role domain.UserRole) (LoginResult, error) {
	email, err := util.NormalizeEmail(email)
	if err != nil || password == "" {
		return LoginResult{}, ErrInvalidCredentials
	}
	if role != domain.RoleAdmin {
		role = domain.RoleUser
	}
	user, ok, err := a.store.GetUserByEmail(ctx, email, role)
	if err != nil {
		return LoginResult{}, fmt.Errorf("load user: %w", err)
	}
	if !ok || !auth.CheckPassword(password, user.PasswordHash) {
		return LoginResult{}, ErrInvalidCredentials
	}
	if user.Status == domain.StatusDisabled {
		return LoginResult{}, ErrUserDisabled
	}
	if user.Role == domain.RoleUser && user.EmailVerifiedAt == nil {
		return LoginResult{}, ErrEmailNotVerified
	}
	token, expires, err := a.sessions.NewSession(user.ID, user.Role)
	if err != nil {
		return LoginResult{}, err
	}
	now := a.clock()
	user.LastLoginAt = &now
	if err := a.store.SaveUser(ctx, user); err != nil {
		util.LoggerFromContext(ctx).Warn("last_login_update_failed", "user_id", user.ID, "err", err)
	}
	return LoginResult{Token: token, ExpiresAt: expires, User: user}, nil
}

// Logout revokes the session token until it would have expired.
func (a *App) Logout(ctx context.Context, token string) error {
	return a.sessions.Revoke(ctx, token)
}

// Authenticate resolves a bearer token to its principal.
func (a *App) Authenticate(ctx context.Context, token string) (domain.User, error) {
	sess, err := a.sessions.Resolve(ctx, token)
	if errors.Is(err, store.ErrInvalidToken) || errors.Is(err, store.ErrTokenRevoked) {
		return domain.User{}, ErrUnauthenticated
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("resolve session: %w", err)
	}
	user, ok, err := a.store.GetUserByID(ctx, sess.UserID)
	if err != nil {
		return domain.User{}, fmt.Errorf("load user: %w", err)
	}
	if !ok || user.Role != sess.Role || user.Status == domain.StatusDisabled {
		return domain.User{}, ErrUnauthenticated
	}
	return user, nil
}

// CreateAdmin adds an admin principal on behalf of an existing admin.
func (a *App) CreateAdmin(ctx context.Context, actor domain.User, in AccountInput) (domain.User, error) {
	if err := requireAdmin(actor); err != nil {
		return domain.User{}, err
	}
	user, err := BootstrapAdmin(ctx, a.store, in, a.clock())
	if err != nil {
		return domain.User{}, err
	}
	util.LoggerFromContext(ctx).Info("admin_created", "admin_id", user.ID, "by", actor.ID)
	return user, nil
}

// SetAdminPassword replaces an admin's password and ends their sessions.
func (a *App) SetAdminPassword(ctx context.Context, actor domain.User, email, password string) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	user, err := ResetAdminPassword(ctx, a.store, email, password, a.clock())
	if err != nil {
		return err
	}
	// Cutoffs have second precision; include tokens from the current second.
	if err := a.sessions.RevokeUserSessions(ctx, user.ID, time.Now().Add(time.Second)); err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}
	util.LoggerFromContext(ctx).Info("admin_password_changed", "admin_id", user.ID, "by", actor.ID)
	return nil
}

// ListAdmins lists admin principals.
func (a *App) ListAdmins(ctx context.Context, actor domain.User) ([]domain.User, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return a.store.ListUsers(ctx, domain.RoleAdmin)
}

// BootstrapAdmin creates a verified admin directly in st. It backs both the
// admin API and the operator CLI.
func BootstrapAdmin(ctx context.Context, st store.Store, in AccountInput, now time.Time) (domain.User, error) {
	email, hash, err := checkAccountInput(&in)
	if err != nil {
		return domain.User{}, err
	}
	user := domain.User{
		ID:              util.NewID(),
		Name:            in.Name,
		Email:           email,
		PasswordHash:    hash,
		Mobile:          in.Mobile,
		Role:            domain.RoleAdmin,
		Status:          domain.StatusActive,
		EmailVerifiedAt: &now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := st.SaveUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			return domain.User{}, ErrEmailAlreadyExists
		}
		return domain.User{}, fmt.Errorf("save admin: %w", err)
	}
	return user, nil
}

// ResetAdminPassword sets a new password on the admin with email.
func ResetAdminPassword(ctx context.Context, st store.Store, email, password string, now time.Time) (domain.User, error) {
	email, err := util.NormalizeEmail(email)
	if err != nil {
		return domain.User{}, invalid("email", "a valid email address is required")
	}
	if err := auth.ValidatePassword(password); err != nil {
		return domain.User{}, invalid("password", err.Error())
	}
	user, ok, err := st.GetUserByEmail(ctx, email, domain.RoleAdmin)
	if err != nil {
		return domain.User{}, fmt.Errorf("load admin: %w", err)
	}
	if !ok {
		return domain.User{}, ErrNotFound
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}
	user.PasswordHash = hash
	user.UpdatedAt = now
	if err := st.SaveUser(ctx, user); err != nil {
		return domain.User{}, fmt.Errorf("save admin: %w", err)
	}
	return user, nil
}

func checkAccountInput(in *AccountInput) (email, hash string, err error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Mobile = strings.TrimSpace(in.Mobile)
	if in.Name == "" {
		return "", "", invalid("name", "name is required")
	}
	if len(in.Name) > 120 {
		return "", "", invalid("name", "name must be at most 120 characters")
	}
	email, err = util.NormalizeEmail(in.Email)
	if err != nil {
		return "", "", invalid("email", "a valid email address is required")
	}
	if in.Mobile != "" && !mobilePattern.MatchString(in.Mobile) {
		return "", "", invalid("mobile", "mobile number must be 10 digits starting with 6-9")
	}
	if err := auth.ValidatePassword(in.Password); err != nil {
		return "", "", invalid("password", err.Error())
	}
	hash, err = auth.HashPassword(in.Password)
	if err != nil {
		return "", "", fmt.Errorf("hash password: %w", err)
	}
	return email, hash, nil
}
