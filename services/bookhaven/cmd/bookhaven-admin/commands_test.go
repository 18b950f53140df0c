package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/iamakashsinghrajput/BookHaven/pkg/auth"
	"github.com/iamakashsinghrajput/BookHaven/pkg/domain"
	"github.com/iamakashsinghrajput/BookHaven/pkg/store"
)

var fixedNow = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

type testCLI struct {
	st      *store.MemoryStore
	revoker *store.MemoryTokenRevoker
	out     *bytes.Buffer
	opened  int
	closed  int
	path    string
}

func newTestCLI() *testCLI {
	return &testCLI{
		st:      store.NewMemoryStore(),
		revoker: store.NewMemoryTokenRevoker(),
		out:     &bytes.Buffer{},
	}
}

func (c *testCLI) run(t *testing.T, args ...string) error {
	t.Helper()
	env := &cliEnv{
		open: func(_ context.Context, path string) (backend, error) {
			c.opened++
			c.path = path
			return backend{store: c.st, revoker: c.revoker, close: func() { c.closed++ }}, nil
		},
		out: c.out,
		now: func() time.Time { return fixedNow },
	}
	cmd := newRootCmd(env)
	cmd.SetArgs(args)
	cmd.SetOut(c.out)
	cmd.SetErr(c.out)
	return cmd.ExecuteContext(context.Background())
}

func TestCreateAdminAndList(t *testing.T) {
	c := newTestCLI()
	if err := c.run(t, "create-admin", "--config", "/etc/bookhaven.yaml", "--name", "Ops", "--email", "Ops@BookHaven.test", "--password", "Sup3r!Secret"); err != nil {
		t.Fatalf("create-admin: %v", err)
	}
	if c.path != "/etc/bookhaven.yaml" || c.opened != 1 || c.closed != 1 {
		t.Fatalf("backend lifecycle: path=%q opened=%d closed=%d", c.path, c.opened, c.closed)
	}
	if !strings.Contains(c.out.String(), "created admin ops@bookhaven.test") {
		t.Fatalf("unexpected output: %q", c.out.String())
	}
	admin, ok, err := c.st.GetUserByEmail(context.Background(), "ops@bookhaven.test", domain.RoleAdmin)
	if err != nil || !ok {
		t.Fatalf("admin not stored: ok=%v err=%v", ok, err)
	}
	if admin.EmailVerifiedAt == nil || !admin.CreatedAt.Equal(fixedNow) {
		t.Fatalf("admin should be verified at creation: %+v", admin)
	}

	c.out.Reset()
	if err := c.run(t, "list-admins"); err != nil {
		t.Fatalf("list-admins: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(c.out.String()), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "ID") || !strings.Contains(lines[1], "ops@bookhaven.test") || !strings.Contains(lines[1], "2024-03-01") {
		t.Fatalf("unexpected listing:\n%s", c.out.String())
	}
}

func TestCreateAdminReadsPasswordFromEnv(t *testing.T) {
	t.Setenv(passwordEnv, "Env!Passw0rd")
	c := newTestCLI()
	if err := c.run(t, "create-admin", "--name", "Ops", "--email", "ops@bookhaven.test"); err != nil {
		t.Fatalf("create-admin: %v", err)
	}
	admin, _, _ := c.st.GetUserByEmail(context.Background(), "ops@bookhaven.test", domain.RoleAdmin)
	if !auth.CheckPassword("Env!Passw0rd", admin.PasswordHash) {
		t.Fatalf("password from env not applied")
	}
}

func TestCreateAdminErrors(t *testing.T) {
	t.Setenv(passwordEnv, "")
	c := newTestCLI()
	err := c.run(t, "create-admin", "--name", "Ops", "--email", "ops@bookhaven.test", "--password", "weak")
	if err == nil || !strings.HasPrefix(err.Error(), "password:") {
		t.Fatalf("expected password validation error, got %v", err)
	}
	if err := c.run(t, "create-admin", "--name", "Ops", "--email", "ops@bookhaven.test", "--password", "Sup3r!Secret"); err != nil {
		t.Fatalf("create-admin: %v", err)
	}
	err = c.run(t, "create-admin", "--name", "Ops", "--email", "ops@bookhaven.test", "--password", "Sup3r!Secret")
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if err := c.run(t, "create-admin", "--name", "Ops"); err == nil {
		t.Fatalf("expected missing --email to fail")
	}
}

func TestSetAdminPasswordRevokesSessions(t *testing.T) {
	c := newTestCLI()
	if err := c.run(t, "create-admin", "--name", "Ops", "--email", "ops@bookhaven.test", "--password", "Sup3r!Secret"); err != nil {
		t.Fatalf("create-admin: %v", err)
	}
	if err := c.run(t, "set-admin-password", "--email", "ops@bookhaven.test", "--password", "N3w!Passw0rd"); err != nil {
		t.Fatalf("set-admin-password: %v", err)
	}
	admin, _, _ := c.st.GetUserByEmail(context.Background(), "ops@bookhaven.test", domain.RoleAdmin)
	if !auth.CheckPassword("N3w!Passw0rd", admin.PasswordHash) {
		t.Fatalf("password not changed")
	}
	cutoff, err := c.revoker.RevokedAfter(context.Background(), admin.ID)
	if err != nil || !cutoff.Equal(fixedNow) {
		t.Fatalf("expected session cutoff at %v, got %v (%v)", fixedNow, cutoff, err)
	}

	err = c.run(t, "set-admin-password", "--email", "nobody@bookhaven.test", "--password", "N3w!Passw0rd")
	if err == nil || !strings.Contains(err.Error(), "no admin") {
		t.Fatalf("expected not found error, got %v", err)
	}
}
