package santasdk

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"secretsanta/internal/config"
	"secretsanta/internal/db"
	"secretsanta/internal/engine"
	"secretsanta/internal/engine/auth"
	"secretsanta/internal/migrate"
	"secretsanta/internal/server"
)

const adminPassword = "sleigh-bells"

func newServer(t *testing.T, tokens *auth.TokenIssuer) string {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("SDK party")
	cfg.Admin.Password = adminPassword
	handler, err := server.New(server.Config{Engine: engine.New(conn, cfg), Tokens: tokens})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		conn.Close()
	})
	return srv.URL + "/api"
}

func TestClientFlow(t *testing.T) {
	ctx := context.Background()
	base := newServer(t, nil)

	admin := New(base)
	sess, err := admin.Login(ctx, adminPassword)
	if err != nil {
		t.Fatalf("admin login: %v", err)
	}
	if !sess.IsAdmin || sess.Token != "" {
		t.Fatalf("admin session = %+v", sess)
	}

	creds := map[string]string{}
	for _, name := range []string{"Alice", "Bob", "Carol"} {
		c, err := admin.AddUser(ctx, name, "")
		if err != nil {
			t.Fatalf("add %s: %v", name, err)
		}
		if c.Password == "" {
			t.Fatalf("no generated password for %s", name)
		}
		creds[name] = c.Password
	}
	list, err := admin.Participants(ctx)
	if err != nil || len(list) != 3 {
		t.Fatalf("participants = %v, %v", list, err)
	}

	alice := New(base)
	if _, err := alice.Login(ctx, creds["Alice"]); err != nil {
		t.Fatalf("alice login: %v", err)
	}
	if err := alice.SubmitGift(ctx, "Warm socks", "https://example.com/socks"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	var aerr *ActionError
	if err := alice.SubmitGift(ctx, "Another", ""); !errors.As(err, &aerr) || aerr.Code != "already_submitted" {
		t.Fatalf("second submit err = %v", err)
	}
	if _, err := alice.Recipient(ctx); !errors.As(err, &aerr) || aerr.Code != "not_distributed_yet" {
		t.Fatalf("recipient before draw err = %v", err)
	}

	st, err := admin.RunDistribution(ctx)
	if err != nil {
		t.Fatalf("draw: %v", err)
	}
	if !st.IsDistributed || st.ParticipantCount != 3 {
		t.Fatalf("status after draw = %+v", st)
	}
	if _, err := admin.RunDistribution(ctx); !errors.As(err, &aerr) || aerr.Code != "already_distributed" {
		t.Fatalf("second draw err = %v", err)
	}

	rec, err := alice.Recipient(ctx)
	if err != nil {
		t.Fatalf("recipient: %v", err)
	}
	if rec.Name == "" || rec.Name == "Alice" {
		t.Fatalf("recipient = %+v", rec)
	}
	user, err := alice.UserData(ctx)
	if err != nil {
		t.Fatalf("user data: %v", err)
	}
	if user.AssignedTo != rec.Name || user.GiftRequest != "Warm socks" {
		t.Fatalf("user = %+v", user)
	}

	public, err := New(base).Status(ctx)
	if err != nil || !public.IsDistributed || public.EventName != "SDK party" {
		t.Fatalf("public status = %+v, %v", public, err)
	}
}

func TestClientRefusedLogin(t *testing.T) {
	_, err := New(newServer(t, nil)).Login(context.Background(), "nope")
	var aerr *ActionError
	if !errors.As(err, &aerr) || aerr.Code != "unauthorized" {
		t.Fatalf("err = %v", err)
	}
}

func TestClientBearerToken(t *testing.T) {
	ctx := context.Background()
	base := newServer(t, &auth.TokenIssuer{Secret: []byte("sdk-secret"), TTL: time.Hour})

	admin := New(base)
	sess, err := admin.Login(ctx, adminPassword)
	if err != nil || sess.Token == "" {
		t.Fatalf("login = %+v, %v", sess, err)
	}
	// only the token authenticates from here on
	tokenOnly := &Client{BaseURL: base, BearerToken: sess.Token, Timeout: time.Second}
	c, err := tokenOnly.AddUser(ctx, "Dave", "dave-pw-1")
	if err != nil {
		t.Fatalf("add with token: %v", err)
	}
	if c.Password != "dave-pw-1" {
		t.Fatalf("password = %q", c.Password)
	}
}

func TestClientAPIError(t *testing.T) {
	base := newServer(t, nil)
	c := New(base)
	err := c.do(context.Background(), "POST", "action", map[string]any{"password": "x"}, nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 400 {
		t.Fatalf("err = %v", err)
	}
}
