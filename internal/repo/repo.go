package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"secretsanta/internal/domain"
)

// Repo is the participant store backed by SQL.
type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// on returns tx when set so reads inside a transaction see its writes.
func (r Repo) on(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.DB
}

const participantColumns = `id,name,password,COALESCE(gift_request,''),COALESCE(gift_link,''),COALESCE(gift_submitted_at,''),COALESCE(assigned_to,''),created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanParticipant(row scanner) (domain.Participant, error) {
	var p domain.Participant
	err := row.Scan(&p.ID, &p.Name, &p.Password, &p.GiftRequest, &p.GiftLink, &p.GiftSubmittedAt, &p.AssignedTo, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) InsertParticipant(ctx context.Context, p domain.Participant) error {
	return r.InsertParticipantTx(ctx, nil, p)
}

func (r Repo) InsertParticipantTx(ctx context.Context, tx *sql.Tx, p domain.Participant) error {
	if p.ID == "" || p.Name == "" || p.Password == "" {
		return errors.New("id, name and password required")
	}
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO participants(id,name,password,created_at) VALUES (?,?,?,?)`,
		p.ID, p.Name, p.Password, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert participant: %w", err)
	}
	return nil
}

func (r Repo) GetParticipant(ctx context.Context, id string) (domain.Participant, error) {
	return r.GetParticipantTx(ctx, nil, id)
}

func (r Repo) GetParticipantTx(ctx context.Context, tx *sql.Tx, id string) (domain.Participant, error) {
	return scanParticipant(r.on(tx).QueryRowContext(ctx, `SELECT `+participantColumns+` FROM participants WHERE id=?`, id))
}

func (r Repo) GetParticipantByName(ctx context.Context, name string) (domain.Participant, error) {
	return scanParticipant(r.DB.QueryRowContext(ctx, `SELECT `+participantColumns+` FROM participants WHERE name=?`, name))
}

func (r Repo) GetParticipantByPassword(ctx context.Context, password string) (domain.Participant, error) {
	return scanParticipant(r.DB.QueryRowContext(ctx, `SELECT `+participantColumns+` FROM participants WHERE password=?`, password))
}

// ListParticipants returns all participants in insertion order.
func (r Repo) ListParticipants(ctx context.Context) ([]domain.Participant, error) {
	return r.ListParticipantsTx(ctx, nil)
}

func (r Repo) ListParticipantsTx(ctx context.Context, tx *sql.Tx) ([]domain.Participant, error) {
	rows, err := r.on(tx).QueryContext(ctx, `SELECT `+participantColumns+` FROM participants ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) CountParticipants(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM participants`).Scan(&n)
	return n, err
}

// NameOrPasswordTaken reports which unique field of a new participant would collide.
func (r Repo) NameOrPasswordTaken(ctx context.Context, tx *sql.Tx, name, password string) (nameTaken, passwordTaken bool, err error) {
	q := r.on(tx)
	var n int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM participants WHERE name=?`, name).Scan(&n); err != nil {
		return false, false, err
	}
	nameTaken = n > 0
	if password == "" {
		return nameTaken, false, nil
	}
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM participants WHERE password=?`, password).Scan(&n); err != nil {
		return false, false, err
	}
	return nameTaken, n > 0, nil
}

// SetGiftRequestTx writes the wish only if none is stored yet. It returns false
// when the participant already has one.
func (r Repo) SetGiftRequestTx(ctx context.Context, tx *sql.Tx, id, text, link, submittedAt string) (bool, error) {
	res, err := r.on(tx).ExecContext(ctx,
		`UPDATE participants SET gift_request=?, gift_link=?, gift_submitted_at=? WHERE id=? AND gift_request IS NULL`,
		text, nullable(link), submittedAt, id)
	if err != nil {
		return false, fmt.Errorf("set gift request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SetAssignmentTx records the receiver for a giver; an existing assignment is never overwritten.
func (r Repo) SetAssignmentTx(ctx context.Context, tx *sql.Tx, id, assignedTo string) (bool, error) {
	res, err := r.on(tx).ExecContext(ctx, `UPDATE participants SET assigned_to=? WHERE id=? AND assigned_to IS NULL`, assignedTo, id)
	if err != nil {
		return false, fmt.Errorf("set assignment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r Repo) GetStatus(ctx context.Context) (domain.EventStatus, error) {
	return r.GetStatusTx(ctx, nil)
}

func (r Repo) GetStatusTx(ctx context.Context, tx *sql.Tx) (domain.EventStatus, error) {
	var s domain.EventStatus
	var date, deadline sql.NullString
	err := r.on(tx).QueryRowContext(ctx, `SELECT is_distributed, distribution_date, gift_deadline FROM event_status WHERE id=1`).
		Scan(&s.IsDistributed, &date, &deadline)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	s.DistributionDate = date.String
	s.GiftDeadline = deadline.String
	return s, nil
}

// MarkDistributedTx flips the one-way distribution flag. It returns false when
// another caller already flipped it.
func (r Repo) MarkDistributedTx(ctx context.Context, tx *sql.Tx, distributionDate, giftDeadline string) (bool, error) {
	res, err := r.on(tx).ExecContext(ctx,
		`UPDATE event_status SET is_distributed=1, distribution_date=?, gift_deadline=? WHERE id=1 AND is_distributed=0`,
		distributionDate, giftDeadline)
	if err != nil {
		return false, fmt.Errorf("mark distributed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
