package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"secretsanta/internal/config"
	"secretsanta/internal/domain"
	"secretsanta/internal/draw"
	"secretsanta/internal/engine/auth"
	"secretsanta/internal/events"
	"secretsanta/internal/repo"
)

const (
	MaxNameLength     = 64
	MaxPasswordLength = 64
	MaxGiftTextLength = 2000
	MaxGiftLinkLength = 2048

	passwordRetries = 16
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
	// Rand overrides the draw's randomness; nil uses math/rand/v2.
	Rand draw.Source
	Log  *slog.Logger
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logger() *slog.Logger {
	if e.Log != nil {
		return e.Log
	}
	return slog.Default()
}

func (e Engine) config() *config.Config {
	if e.Config != nil {
		return e.Config
	}
	return config.Default("Secret Santa")
}

func (e Engine) appendEvent(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload events.EventPayload) error {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w.Append(ctx, tx, evtType, entityKind, entityID, actorID, payload)
}

// AddParticipantOptions are parameters for registering a participant.
type AddParticipantOptions struct {
	Name string
	// Password is generated when empty.
	Password string
	ActorID  string
}

// AddParticipant registers a participant. Registration closes once the draw has run.
func (e Engine) AddParticipant(ctx context.Context, opts AddParticipantOptions) (domain.Participant, error) {
	name := strings.TrimSpace(opts.Name)
	password := strings.TrimSpace(opts.Password)
	if err := checkText("name", name, MaxNameLength); err != nil {
		return domain.Participant{}, err
	}
	if utf8.RuneCountInString(password) > MaxPasswordLength {
		return domain.Participant{}, domain.ValidationError{Field: "password", Reason: domain.ReasonTooLong}
	}
	adminPassword := e.config().Admin.Password
	if password != "" && password == adminPassword {
		return domain.Participant{}, domain.ErrPasswordTaken
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Participant{}, err
	}
	defer tx.Rollback()

	status, err := e.Repo.GetStatusTx(ctx, tx)
	if err != nil {
		return domain.Participant{}, err
	}
	if status.IsDistributed {
		return domain.Participant{}, domain.ErrAlreadyDistributed
	}
	nameTaken, passwordTaken, err := e.Repo.NameOrPasswordTaken(ctx, tx, name, password)
	if err != nil {
		return domain.Participant{}, err
	}
	if nameTaken {
		return domain.Participant{}, domain.ErrNameTaken
	}
	if passwordTaken {
		return domain.Participant{}, domain.ErrPasswordTaken
	}
	if password == "" {
		password, err = e.uniquePassword(ctx, tx, adminPassword)
		if err != nil {
			return domain.Participant{}, err
		}
	}

	p := domain.Participant{
		ID:        uuid.NewString(),
		Name:      name,
		Password:  password,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertParticipantTx(ctx, tx, p); err != nil {
		return domain.Participant{}, err
	}
	if err := e.appendEvent(ctx, tx, events.ParticipantAdded, "participant", p.ID, opts.ActorID, events.EventPayload{"name": p.Name}); err != nil {
		return domain.Participant{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Participant{}, err
	}
	e.logger().Info("participant added", "participant_id", p.ID)
	return p, nil
}

func (e Engine) uniquePassword(ctx context.Context, tx *sql.Tx, adminPassword string) (string, error) {
	for i := 0; i < passwordRetries; i++ {
		candidate, err := auth.GeneratePassword(e.config().PasswordLength())
		if err != nil {
			return "", err
		}
		if candidate == adminPassword {
			continue
		}
		_, taken, err := e.Repo.NameOrPasswordTaken(ctx, tx, "", candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", errors.New("could not generate a unique password")
}

// SubmitGift stores the participant's wish. It can be written only once.
func (e Engine) SubmitGift(ctx context.Context, participantID, text, link, actorID string) error {
	text = strings.TrimSpace(text)
	link = strings.TrimSpace(link)
	if err := checkText("text", text, MaxGiftTextLength); err != nil {
		return err
	}
	if err := checkLink(link); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetParticipantTx(ctx, tx, participantID); err != nil {
		return err
	}
	ok, err := e.Repo.SetGiftRequestTx(ctx, tx, participantID, text, link, e.now().UTC().Format(time.RFC3339))
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrAlreadySubmitted
	}
	if actorID == "" {
		actorID = participantID
	}
	if err := e.appendEvent(ctx, tx, events.GiftSubmitted, "participant", participantID, actorID, events.EventPayload{"has_link": link != ""}); err != nil {
		return err
	}
	return tx.Commit()
}

// RunDistribution draws the Secret Santa assignments. It succeeds at most once per event.
func (e Engine) RunDistribution(ctx context.Context, actorID string) (domain.EventStatus, error) {
	cfg := e.config()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.EventStatus{}, err
	}
	defer tx.Rollback()

	status, err := e.Repo.GetStatusTx(ctx, tx)
	if err != nil {
		return domain.EventStatus{}, err
	}
	if status.IsDistributed {
		return domain.EventStatus{}, domain.ErrAlreadyDistributed
	}
	parts, err := e.Repo.ListParticipantsTx(ctx, tx)
	if err != nil {
		return domain.EventStatus{}, err
	}
	allowMutual := !cfg.Draw.ForbidMutualPairs
	res, err := draw.Derange(len(parts), draw.Options{
		Algorithm:   cfg.DrawAlgorithm(),
		AllowMutual: allowMutual,
		MaxAttempts: cfg.DrawMaxAttempts(),
		Rand:        e.Rand,
	})
	if errors.Is(err, draw.ErrTooFew) {
		return domain.EventStatus{}, domain.InsufficientParticipantsError{Have: len(parts), Need: draw.MinParticipants(allowMutual)}
	}
	if err != nil {
		return domain.EventStatus{}, err
	}
	for i, p := range parts {
		ok, err := e.Repo.SetAssignmentTx(ctx, tx, p.ID, parts[res.Perm[i]].Name)
		if err != nil {
			return domain.EventStatus{}, err
		}
		if !ok {
			return domain.EventStatus{}, domain.ErrAlreadyDistributed
		}
	}
	now := e.now().UTC()
	status = domain.EventStatus{
		IsDistributed:    true,
		DistributionDate: now.Format(time.RFC3339),
		GiftDeadline:     now.AddDate(0, 0, giftDeadlineDays(cfg)).Format(time.RFC3339),
	}
	ok, err := e.Repo.MarkDistributedTx(ctx, tx, status.DistributionDate, status.GiftDeadline)
	if err != nil {
		return domain.EventStatus{}, err
	}
	if !ok {
		return domain.EventStatus{}, domain.ErrAlreadyDistributed
	}
	payload := events.EventPayload{"participants": len(parts), "algorithm": res.Algorithm, "attempts": res.Attempts}
	if err := e.appendEvent(ctx, tx, events.DrawCompleted, "event", "", actorID, payload); err != nil {
		return domain.EventStatus{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.EventStatus{}, err
	}
	e.logger().Info("distribution completed", "participants", len(parts), "algorithm", res.Algorithm, "attempts", res.Attempts)
	return status, nil
}

func giftDeadlineDays(cfg *config.Config) int {
	if cfg.Event.GiftDeadlineDays == 0 {
		return config.DefaultGiftDeadlineDays
	}
	return cfg.Event.GiftDeadlineDays
}

// StatusView is the public state of the event.
type StatusView struct {
	domain.EventStatus
	ParticipantCount int    `json:"participantCount"`
	EventName        string `json:"eventName"`
	MaxGiftPrice     int    `json:"maxGiftPrice,omitempty"`
	Currency         string `json:"currency,omitempty"`
}

func (e Engine) Status(ctx context.Context) (StatusView, error) {
	status, err := e.Repo.GetStatus(ctx)
	if err != nil {
		return StatusView{}, err
	}
	count, err := e.Repo.CountParticipants(ctx)
	if err != nil {
		return StatusView{}, err
	}
	cfg := e.config()
	return StatusView{
		EventStatus:      status,
		ParticipantCount: count,
		EventName:        cfg.Event.Name,
		MaxGiftPrice:     cfg.Event.MaxGiftPrice,
		Currency:         cfg.Event.Currency,
	}, nil
}

// UserView returns what the participant may see about their own state.
func (e Engine) UserView(ctx context.Context, participantID string) (domain.UserView, error) {
	p, err := e.Repo.GetParticipant(ctx, participantID)
	if err != nil {
		return domain.UserView{}, err
	}
	view := domain.UserView{
		Name:        p.Name,
		GiftRequest: p.GiftRequest,
		GiftLink:    p.GiftLink,
		AssignedTo:  p.AssignedTo,
	}
	if p.AssignedTo == "" {
		return view, nil
	}
	parts, err := e.Repo.ListParticipants(ctx)
	if err != nil {
		return domain.UserView{}, err
	}
	// the wish handed to p belongs to the participant whose giver is p
	givers := domain.ReceivedFrom(parts)
	for _, r := range parts {
		if givers[r.Name] == p.Name {
			view.ReceivedFrom = &domain.Wish{GiftRequest: r.GiftRequest, GiftLink: r.GiftLink}
			break
		}
	}
	return view, nil
}

// Recipient returns the participant the caller gives a gift to.
func (e Engine) Recipient(ctx context.Context, participantID string) (domain.Recipient, error) {
	status, err := e.Repo.GetStatus(ctx)
	if err != nil {
		return domain.Recipient{}, err
	}
	if !status.IsDistributed {
		return domain.Recipient{}, domain.ErrNotDistributedYet
	}
	p, err := e.Repo.GetParticipant(ctx, participantID)
	if err != nil {
		return domain.Recipient{}, err
	}
	if p.AssignedTo == "" {
		// joined after the draw; registration is closed so this only happens with hand-edited data
		return domain.Recipient{}, domain.ErrNotDistributedYet
	}
	r, err := e.Repo.GetParticipantByName(ctx, p.AssignedTo)
	if err != nil {
		return domain.Recipient{}, fmt.Errorf("load recipient: %w", err)
	}
	return domain.Recipient{Name: r.Name, GiftRequest: r.GiftRequest, GiftLink: r.GiftLink}, nil
}

// Participants lists every participant, passwords included. Admin only.
func (e Engine) Participants(ctx context.Context) ([]domain.Participant, error) {
	return e.Repo.ListParticipants(ctx)
}

// Pairs lists the drawn giver -> receiver edges; empty before the draw.
func (e Engine) Pairs(ctx context.Context) ([]domain.Pair, error) {
	parts, err := e.Repo.ListParticipants(ctx)
	if err != nil {
		return nil, err
	}
	return domain.Pairs(parts), nil
}

func checkText(field, value string, maxLen int) error {
	if value == "" {
		return domain.ValidationError{Field: field, Reason: domain.ReasonRequired}
	}
	if utf8.RuneCountInString(value) > maxLen {
		return domain.ValidationError{Field: field, Reason: domain.ReasonTooLong}
	}
	return nil
}

func checkLink(link string) error {
	if link == "" {
		return nil
	}
	if len(link) > MaxGiftLinkLength {
		return domain.ValidationError{Field: "link", Reason: domain.ReasonTooLong}
	}
	u, err := url.Parse(link)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return domain.ValidationError{Field: "link", Reason: domain.ReasonInvalidURL}
	}
	return nil
}
