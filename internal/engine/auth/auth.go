package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"secretsanta/internal/domain"
)

// Kind tags the outcome of resolving a credential.
type Kind int

const (
	Rejected Kind = iota
	Admin
	User
)

func (k Kind) String() string {
	switch k {
	case Admin:
		return "admin"
	case User:
		return "user"
	}
	return "rejected"
}

// Session is the identity behind a credential. Participant is set only for User sessions.
type Session struct {
	Kind        Kind
	Participant domain.Participant
}

// ActorID names the session in audit events.
func (s Session) ActorID() string {
	switch s.Kind {
	case Admin:
		return AdminSubject
	case User:
		return s.Participant.ID
	}
	return ""
}

// Authenticator resolves a credential into a session. A credential that matches
// nobody yields a Rejected session and a nil error; the error is reserved for
// storage failures.
type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (Session, error)
}

// ParticipantSource is the slice of the participant store authentication needs.
type ParticipantSource interface {
	ListParticipants(ctx context.Context) ([]domain.Participant, error)
	GetParticipant(ctx context.Context, id string) (domain.Participant, error)
}

// PasswordAuthenticator matches shared-secret passwords.
type PasswordAuthenticator struct {
	Participants  ParticipantSource
	AdminPassword string
}

func (a PasswordAuthenticator) Authenticate(ctx context.Context, credential string) (Session, error) {
	if credential == "" {
		return Session{}, nil
	}
	if a.AdminPassword != "" && equal(credential, a.AdminPassword) {
		return Session{Kind: Admin}, nil
	}
	parts, err := a.Participants.ListParticipants(ctx)
	if err != nil {
		return Session{}, fmt.Errorf("load participants: %w", err)
	}
	// Every stored password is compared so timing does not depend on where a match sits.
	found := -1
	for i, p := range parts {
		if equal(credential, p.Password) && found < 0 {
			found = i
		}
	}
	if found < 0 {
		return Session{}, nil
	}
	return Session{Kind: User, Participant: parts[found]}, nil
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// AdminSubject is the token subject for admin sessions.
const AdminSubject = "admin"

var ErrInvalidToken = errors.New("invalid token")

// TokenIssuer mints and verifies HS256 session tokens.
type TokenIssuer struct {
	Secret []byte
	TTL    time.Duration
	Now    func() time.Time
}

func (t TokenIssuer) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

// Issue returns a signed token for the session.
func (t TokenIssuer) Issue(s Session) (string, error) {
	if len(t.Secret) == 0 {
		return "", errors.New("token secret not configured")
	}
	subject := s.ActorID()
	if subject == "" {
		return "", errors.New("cannot issue token for rejected session")
	}
	now := t.now()
	claims := jwt.RegisteredClaims{
		Subject:  subject,
		IssuedAt: jwt.NewNumericDate(now),
	}
	if t.TTL > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(t.TTL))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.Secret)
}

// Parse verifies the token and returns its subject.
func (t TokenIssuer) Parse(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(tok *jwt.Token) (any, error) {
		return t.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(t.now))
	if err != nil || !parsed.Valid {
		return "", ErrInvalidToken
	}
	if claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// TokenAuthenticator accepts issued tokens and hands anything else to Fallback.
type TokenAuthenticator struct {
	Issuer       TokenIssuer
	Participants ParticipantSource
	Fallback     Authenticator
}

func (a TokenAuthenticator) Authenticate(ctx context.Context, credential string) (Session, error) {
	if credential == "" {
		return Session{}, nil
	}
	if len(a.Issuer.Secret) > 0 {
		if subject, err := a.Issuer.Parse(credential); err == nil {
			return a.resolve(ctx, subject)
		}
	}
	if a.Fallback == nil {
		return Session{}, nil
	}
	return a.Fallback.Authenticate(ctx, credential)
}

func (a TokenAuthenticator) resolve(ctx context.Context, subject string) (Session, error) {
	if subject == AdminSubject {
		return Session{Kind: Admin}, nil
	}
	p, err := a.Participants.GetParticipant(ctx, subject)
	if err != nil {
		// A token for a participant that no longer resolves is just a bad credential.
		return Session{}, nil
	}
	return Session{Kind: User, Participant: p}, nil
}

// Excludes look-alike characters (0/O, 1/l/I).
const passwordAlphabet = "abcdefghijkmnpqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// GeneratePassword returns a random password drawn from crypto/rand.
func GeneratePassword(length int) (string, error) {
	if length <= 0 {
		return "", errors.New("password length must be positive")
	}
	limit := big.NewInt(int64(len(passwordAlphabet)))
	buf := make([]byte, length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("generate password: %w", err)
		}
		buf[i] = passwordAlphabet[n.Int64()]
	}
	return string(buf), nil
}
