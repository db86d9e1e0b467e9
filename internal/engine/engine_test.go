package engine_test

import (
	"bytes"
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"secretsanta/internal/config"
	"secretsanta/internal/db"
	"secretsanta/internal/domain"
	"secretsanta/internal/engine"
	"secretsanta/internal/migrate"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("Office party")
	cfg.Admin.Password = "admin-pw"
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 12, 1, 10, 0, 0, 0, time.UTC) }
	eng.Rand = rand.New(rand.NewPCG(1, 2))
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func (env testEnv) add(t *testing.T, names ...string) []domain.Participant {
	t.Helper()
	var out []domain.Participant
	for _, name := range names {
		p, err := env.Engine.AddParticipant(env.Ctx, engine.AddParticipantOptions{Name: name, Password: "pw-" + name, ActorID: "tester"})
		if err != nil {
			t.Fatalf("add %s: %v", name, err)
		}
		out = append(out, p)
	}
	return out
}

func TestAliceBobCarolScenario(t *testing.T) {
	env := newTestEnv(t)
	env.add(t, "Alice", "Bob", "Carol")

	status, err := env.Engine.RunDistribution(env.Ctx, "admin")
	if err != nil {
		t.Fatalf("run distribution: %v", err)
	}
	if !status.IsDistributed || status.DistributionDate != "2024-12-01T10:00:00Z" || status.GiftDeadline != "2024-12-15T10:00:00Z" {
		t.Fatalf("status = %+v", status)
	}
	parts, err := env.Engine.Participants(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range parts {
		if p.AssignedTo == "" || p.AssignedTo == p.Name {
			t.Fatalf("%s assigned to %q", p.Name, p.AssignedTo)
		}
	}
	inv := domain.ReceivedFrom(parts)
	if len(inv) != 3 {
		t.Fatalf("each participant must receive exactly once: %v", inv)
	}
	for _, p := range parts {
		if _, ok := inv[p.Name]; !ok {
			t.Fatalf("%s receives nothing", p.Name)
		}
	}
}

func TestDistributionIsDerangementForManySizes(t *testing.T) {
	for n := 2; n <= 12; n++ {
		env := newTestEnv(t)
		for i := 0; i < n; i++ {
			env.add(t, "p"+string(rune('a'+i)))
		}
		if _, err := env.Engine.RunDistribution(env.Ctx, "admin"); err != nil {
			t.Fatalf("n=%d: %v", n, err)
		}
		pairs, err := env.Engine.Pairs(env.Ctx)
		if err != nil {
			t.Fatal(err)
		}
		receivers := map[string]bool{}
		for _, p := range pairs {
			if p.Giver == p.Receiver {
				t.Fatalf("n=%d: self assignment %+v", n, p)
			}
			receivers[p.Receiver] = true
		}
		if len(pairs) != n || len(receivers) != n {
			t.Fatalf("n=%d: not a bijection: %+v", n, pairs)
		}
	}
}

func TestRunDistributionOnlyOnce(t *testing.T) {
	env := newTestEnv(t)
	env.add(t, "Alice", "Bob", "Carol", "Dave")
	if _, err := env.Engine.RunDistribution(env.Ctx, "admin"); err != nil {
		t.Fatal(err)
	}
	before, err := env.Engine.Pairs(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.RunDistribution(env.Ctx, "admin"); !errors.Is(err, domain.ErrAlreadyDistributed) {
		t.Fatalf("expected ErrAlreadyDistributed, got %v", err)
	}
	after, err := env.Engine.Pairs(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("mapping changed: %+v -> %+v", before, after)
		}
	}
}

func TestInsufficientParticipants(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.RunDistribution(env.Ctx, "admin")
	if !errors.Is(err, domain.ErrInsufficientParticipants) {
		t.Fatalf("n=0: expected ErrInsufficientParticipants, got %v", err)
	}
	env.add(t, "Alice")
	_, err = env.Engine.RunDistribution(env.Ctx, "admin")
	var ie domain.InsufficientParticipantsError
	if !errors.As(err, &ie) || ie.Have != 1 || ie.Need != 2 {
		t.Fatalf("n=1: got %v", err)
	}
	status, err := env.Engine.Status(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if status.IsDistributed {
		t.Fatal("failed draw must not flip the flag")
	}
}

func TestForbidMutualPairsNeedsThree(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Draw.ForbidMutualPairs = true
	env.add(t, "Alice", "Bob")
	var ie domain.InsufficientParticipantsError
	if _, err := env.Engine.RunDistribution(env.Ctx, "admin"); !errors.As(err, &ie) || ie.Need != 3 {
		t.Fatalf("expected need=3, got %v", err)
	}
	env.add(t, "Carol", "Dave", "Eve")
	if _, err := env.Engine.RunDistribution(env.Ctx, "admin"); err != nil {
		t.Fatal(err)
	}
	parts, err := env.Engine.Participants(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	assigned := map[string]string{}
	for _, p := range parts {
		assigned[p.Name] = p.AssignedTo
	}
	for giver, receiver := range assigned {
		if assigned[receiver] == giver {
			t.Fatalf("mutual pair %s <-> %s", giver, receiver)
		}
	}
}

func TestSattoloDraw(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Draw.Algorithm = config.AlgorithmSattolo
	env.add(t, "Alice", "Bob", "Carol", "Dave", "Eve")
	if _, err := env.Engine.RunDistribution(env.Ctx, "admin"); err != nil {
		t.Fatal(err)
	}
	parts, err := env.Engine.Participants(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	assigned := map[string]string{}
	for _, p := range parts {
		assigned[p.Name] = p.AssignedTo
	}
	// a single cycle visits everyone before returning to the start
	cur, steps := "Alice", 0
	for {
		cur = assigned[cur]
		steps++
		if cur == "Alice" {
			break
		}
	}
	if steps != len(parts) {
		t.Fatalf("cycle length %d, want %d", steps, len(parts))
	}
}

func TestSubmitGiftWriteOnce(t *testing.T) {
	env := newTestEnv(t)
	alice := env.add(t, "Alice")[0]
	if err := env.Engine.SubmitGift(env.Ctx, alice.ID, "  warm socks ", "https://shop.example/socks", ""); err != nil {
		t.Fatalf("submit: %v", err)
	}
	err := env.Engine.SubmitGift(env.Ctx, alice.ID, "a book", "", "")
	if !errors.Is(err, domain.ErrAlreadySubmitted) {
		t.Fatalf("expected ErrAlreadySubmitted, got %v", err)
	}
	view, err := env.Engine.UserView(env.Ctx, alice.ID)
	if err != nil {
		t.Fatal(err)
	}
	if view.GiftRequest != "warm socks" || view.GiftLink != "https://shop.example/socks" {
		t.Fatalf("stored wish changed: %+v", view)
	}
}

func TestSubmitGiftValidation(t *testing.T) {
	env := newTestEnv(t)
	alice := env.add(t, "Alice")[0]
	cases := []struct {
		text, link string
		reason     string
	}{
		{"", "", domain.ReasonRequired},
		{"   ", "", domain.ReasonRequired},
		{strings.Repeat("x", engine.MaxGiftTextLength+1), "", domain.ReasonTooLong},
		{"socks", "javascript:alert(1)", domain.ReasonInvalidURL},
		{"socks", "shop.example/socks", domain.ReasonInvalidURL},
	}
	for _, tc := range cases {
		err := env.Engine.SubmitGift(env.Ctx, alice.ID, tc.text, tc.link, "")
		var ve domain.ValidationError
		if !errors.As(err, &ve) || ve.Reason != tc.reason {
			t.Fatalf("text=%.10q link=%q: got %v, want reason %s", tc.text, tc.link, err, tc.reason)
		}
	}
	// a rejected submission leaves the slot open
	if err := env.Engine.SubmitGift(env.Ctx, alice.ID, "socks", "", ""); err != nil {
		t.Fatalf("valid submit after failures: %v", err)
	}
}

func TestRecipientRequiresDistribution(t *testing.T) {
	env := newTestEnv(t)
	ps := env.add(t, "Alice", "Bob")
	if _, err := env.Engine.Recipient(env.Ctx, ps[0].ID); !errors.Is(err, domain.ErrNotDistributedYet) {
		t.Fatalf("expected ErrNotDistributedYet, got %v", err)
	}
	if err := env.Engine.SubmitGift(env.Ctx, ps[1].ID, "tea", "", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.RunDistribution(env.Ctx, "admin"); err != nil {
		t.Fatal(err)
	}
	r, err := env.Engine.Recipient(env.Ctx, ps[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if r.Name != "Bob" || r.GiftRequest != "tea" {
		t.Fatalf("recipient = %+v", r)
	}
}

func TestUserViewReceivedFrom(t *testing.T) {
	env := newTestEnv(t)
	ps := env.add(t, "Alice", "Bob")
	view, err := env.Engine.UserView(env.Ctx, ps[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if view.AssignedTo != "" || view.ReceivedFrom != nil {
		t.Fatalf("before draw: %+v", view)
	}
	if err := env.Engine.SubmitGift(env.Ctx, ps[0].ID, "alice-socks", "", ""); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.SubmitGift(env.Ctx, ps[1].ID, "bob-book", "https://shop.example/book", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.RunDistribution(env.Ctx, "admin"); err != nil {
		t.Fatal(err)
	}
	view, err = env.Engine.UserView(env.Ctx, ps[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if view.AssignedTo != "Bob" || view.GiftRequest != "alice-socks" {
		t.Fatalf("after draw: %+v", view)
	}
	// received_from carries the recipient's wish, the same data getRecipient returns
	if view.ReceivedFrom == nil || view.ReceivedFrom.GiftRequest != "bob-book" || view.ReceivedFrom.GiftLink != "https://shop.example/book" {
		t.Fatalf("received_from = %+v", view.ReceivedFrom)
	}
	rec, err := env.Engine.Recipient(env.Ctx, ps[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.GiftRequest != view.ReceivedFrom.GiftRequest || rec.GiftLink != view.ReceivedFrom.GiftLink {
		t.Fatalf("recipient %+v disagrees with received_from %+v", rec, view.ReceivedFrom)
	}

	bob, err := env.Engine.UserView(env.Ctx, ps[1].ID)
	if err != nil {
		t.Fatal(err)
	}
	if bob.AssignedTo != "Alice" || bob.ReceivedFrom == nil || bob.ReceivedFrom.GiftRequest != "alice-socks" {
		t.Fatalf("bob view = %+v", bob)
	}
}

func TestAddParticipantRules(t *testing.T) {
	env := newTestEnv(t)
	env.add(t, "Alice")
	cases := []struct {
		name, password string
		want           error
	}{
		{"Alice", "other", domain.ErrNameTaken},
		{"Bob", "pw-Alice", domain.ErrPasswordTaken},
		{"Bob", "admin-pw", domain.ErrPasswordTaken},
	}
	for _, tc := range cases {
		_, err := env.Engine.AddParticipant(env.Ctx, engine.AddParticipantOptions{Name: tc.name, Password: tc.password})
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s/%s: got %v, want %v", tc.name, tc.password, err, tc.want)
		}
	}
	_, err := env.Engine.AddParticipant(env.Ctx, engine.AddParticipantOptions{Name: "  "})
	var ve domain.ValidationError
	if !errors.As(err, &ve) || ve.Field != "name" || ve.Reason != domain.ReasonRequired {
		t.Fatalf("empty name: %v", err)
	}

	p, err := env.Engine.AddParticipant(env.Ctx, engine.AddParticipantOptions{Name: "Bob"})
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Password) != config.DefaultPasswordLength {
		t.Fatalf("generated password %q", p.Password)
	}

	if _, err := env.Engine.RunDistribution(env.Ctx, "admin"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AddParticipant(env.Ctx, engine.AddParticipantOptions{Name: "Carol"}); !errors.Is(err, domain.ErrAlreadyDistributed) {
		t.Fatalf("late join: %v", err)
	}
}

func TestStatusView(t *testing.T) {
	env := newTestEnv(t)
	env.add(t, "Alice", "Bob")
	s, err := env.Engine.Status(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if s.IsDistributed || s.ParticipantCount != 2 || s.EventName != "Office party" || s.MaxGiftPrice != 1000 || s.Currency != "RUB" {
		t.Fatalf("status = %+v", s)
	}
}

func TestConcurrentDistribution(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Rand = nil
	env.add(t, "Alice", "Bob", "Carol", "Dave")
	var wg sync.WaitGroup
	var wins, losses atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.Engine.RunDistribution(env.Ctx, "admin")
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, domain.ErrAlreadyDistributed):
				losses.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 || losses.Load() != 7 {
		t.Fatalf("wins=%d losses=%d", wins.Load(), losses.Load())
	}
}

func TestConcurrentSubmitGift(t *testing.T) {
	env := newTestEnv(t)
	alice := env.add(t, "Alice")[0]
	var wg sync.WaitGroup
	var wins atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := env.Engine.SubmitGift(env.Ctx, alice.ID, "wish "+string(rune('a'+i)), "", "")
			if err == nil {
				wins.Add(1)
			} else if !errors.Is(err, domain.ErrAlreadySubmitted) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("wins = %d", wins.Load())
	}
}

func TestImportAndExport(t *testing.T) {
	env := newTestEnv(t)
	env.add(t, "Alice")
	in := "\xef\xbb\xbfname,password\nBob,bob-secret\nCarol\nAlice,dup\n,empty\na,b,c\nDave\n"
	res, err := env.Engine.ImportParticipants(env.Ctx, strings.NewReader(in), "tester")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Added) != 3 {
		t.Fatalf("added = %+v", res.Added)
	}
	reasons := map[string]bool{}
	for _, s := range res.Skipped {
		reasons[s.Reason] = true
	}
	if len(res.Skipped) != 3 || !reasons["name_taken"] || !reasons["validation.required"] || !reasons["malformed"] {
		t.Fatalf("skipped = %+v", res.Skipped)
	}

	var buf bytes.Buffer
	if err := env.Engine.ExportPairs(env.Ctx, &buf); !errors.Is(err, domain.ErrNotDistributedYet) {
		t.Fatalf("export before draw: %v", err)
	}
	if _, err := env.Engine.RunDistribution(env.Ctx, "admin"); err != nil {
		t.Fatal(err)
	}
	buf.Reset()
	if err := env.Engine.ExportPairs(env.Ctx, &buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "\xef\xbb\xbfgiver,receiver\n") || strings.Count(out, "\n") != 5 {
		t.Fatalf("export = %q", out)
	}
}

func TestMutationsAreAudited(t *testing.T) {
	env := newTestEnv(t)
	ps := env.add(t, "Alice", "Bob")
	if err := env.Engine.SubmitGift(env.Ctx, ps[0].ID, "socks", "", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.RunDistribution(env.Ctx, "admin"); err != nil {
		t.Fatal(err)
	}
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(evts) != 4 || evts[0].Type != "draw.completed" || evts[0].ActorID != "admin" || evts[1].Type != "gift.submitted" {
		t.Fatalf("events = %+v", evts)
	}
	for _, e := range evts {
		if strings.Contains(e.Payload, "pw-") {
			t.Fatalf("password leaked into audit log: %s", e.Payload)
		}
	}
}
