package app

import (
	"context"
	"errors"
	"testing"

	"github.com/iamakashsinghrajput/BookHaven/pkg/domain"
	"github.com/iamakashsinghrajput/BookHaven/pkg/notify"
)

func TestRegisterVerifyLoginLogout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user, _, err := env.app.Register(ctx, AccountInput{Name: " Asha ", Email: "Asha@Example.com", Password: testPassword, Mobile: "9876543210"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.Email != "asha@example.com" || user.Name != "Asha" || user.Role != domain.RoleUser {
		t.Fatalf("unexpected user %+v", user)
	}
	if _, err := env.app.Login(ctx, "asha@example.com", testPassword, domain.RoleUser); !errors.Is(err, ErrEmailNotVerified) {
		t.Fatalf("expected ErrEmailNotVerified before verification, got %v", err)
	}

	code := env.notifier.lastCode(t, notify.KindSignupCode)
	if _, err := env.app.VerifyEmail(ctx, "asha@example.com", code); err != nil {
		t.Fatalf("verify email: %v", err)
	}
	if _, err := env.app.Login(ctx, "asha@example.com", "wrong-Passw0rd!", domain.RoleUser); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	login, err := env.app.Login(ctx, "ASHA@example.com", testPassword, domain.RoleUser)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if login.Token == "" || login.User.ID != user.ID || login.User.LastLoginAt == nil {
		t.Fatalf("unexpected login result %+v", login)
	}

	got, err := env.app.Authenticate(ctx, login.Token)
	if err != nil || got.ID != user.ID {
		t.Fatalf("authenticate: %+v err=%v", got, err)
	}
	if err := env.app.Logout(ctx, login.Token); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := env.app.Authenticate(ctx, login.Token); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected revoked token to fail, got %v", err)
	}
	if _, err := env.app.Authenticate(ctx, "garbage"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected garbage token to fail, got %v", err)
	}
}

func TestRegisterRejectsDuplicatesAndWeakPasswords(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.newUser(t, "Asha", "asha@example.com")

	if _, _, err := env.app.Register(ctx, AccountInput{Name: "Asha", Email: "asha@example.com", Password: testPassword}); !errors.Is(err, ErrEmailAlreadyExists) {
		t.Fatalf("expected ErrEmailAlreadyExists, got %v", err)
	}
	_, _, err := env.app.Register(ctx, AccountInput{Name: "Ravi", Email: "ravi@example.com", Password: "short"})
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "password" {
		t.Fatalf("expected password validation error, got %v", err)
	}
	if _, _, err := env.app.Register(ctx, AccountInput{Name: "Ravi", Email: "ravi@example.com", Password: testPassword, Mobile: "12345"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected mobile validation error, got %v", err)
	}
}

func TestRegisterAgainWhileUnverifiedReissuesCode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	first, _, err := env.app.Register(ctx, AccountInput{Name: "Asha", Email: "asha@example.com", Password: testPassword})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	second, _, err := env.app.Register(ctx, AccountInput{Name: "Asha K", Email: "asha@example.com", Password: testPassword})
	if err != nil {
		t.Fatalf("register again: %v", err)
	}
	if first.ID != second.ID || second.Name != "Asha K" {
		t.Fatalf("expected the pending account to be refreshed, got %+v", second)
	}
	if n := len(env.notifier.byKind(notify.KindSignupCode)); n != 2 {
		t.Fatalf("expected two signup codes, got %d", n)
	}
}

func TestAdminAndUserAreSeparatePrincipals(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := env.newAdmin(t)
	env.newUser(t, "Root User", admin.Email)

	if _, err := env.app.Login(ctx, admin.Email, testPassword, domain.RoleAdmin); err != nil {
		t.Fatalf("admin login: %v", err)
	}
	userLogin, err := env.app.Login(ctx, admin.Email, testPassword, domain.RoleUser)
	if err != nil {
		t.Fatalf("user login: %v", err)
	}
	if userLogin.User.ID == admin.ID || userLogin.User.Role != domain.RoleUser {
		t.Fatalf("user login resolved to the admin record")
	}
	principal, err := env.app.Authenticate(ctx, userLogin.Token)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if _, err := env.app.ListAdmins(ctx, principal); !errors.Is(err, ErrForbidden) {
		t.Fatalf("user token must not reach admin operations, got %v", err)
	}
}

func TestSetAdminPasswordRevokesSessions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	root := env.newAdmin(t)
	second, err := env.app.CreateAdmin(ctx, root, AccountInput{Name: "Second", Email: "second@bookhaven.test", Password: testPassword})
	if err != nil {
		t.Fatalf("create admin: %v", err)
	}
	if _, err := env.app.CreateAdmin(ctx, root, AccountInput{Name: "Dup", Email: "second@bookhaven.test", Password: testPassword}); !errors.Is(err, ErrEmailAlreadyExists) {
		t.Fatalf("expected duplicate admin to fail, got %v", err)
	}
	login, err := env.app.Login(ctx, second.Email, testPassword, domain.RoleAdmin)
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	const newPassword = "An0ther!Passw0rd"
	if err := env.app.SetAdminPassword(ctx, root, second.Email, newPassword); err != nil {
		t.Fatalf("set password: %v", err)
	}
	if _, err := env.app.Authenticate(ctx, login.Token); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected old session revoked, got %v", err)
	}
	if _, err := env.app.Login(ctx, second.Email, testPassword, domain.RoleAdmin); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password still works: %v", err)
	}
	if _, err := env.app.Login(ctx, second.Email, newPassword, domain.RoleAdmin); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
	if err := env.app.SetAdminPassword(ctx, root, "ghost@bookhaven.test", newPassword); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	admins, err := env.app.ListAdmins(ctx, root)
	if err != nil || len(admins) != 2 {
		t.Fatalf("expected two admins, got %d err=%v", len(admins), err)
	}
}

func TestLoginRejectsDisabledUser(t *testing.T) {
	env := newTestEnv(t)
	user := env.newUser(t, "Asha", "asha@example.com")
	user.Status = domain.StatusDisabled
	if err := env.store.SaveUser(context.Background(), user); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := env.app.Login(context.Background(), user.Email, testPassword, domain.RoleUser); !errors.Is(err, ErrUserDisabled) {
		t.Fatalf("expected ErrUserDisabled, got %v", err)
	}
}
