// Package engine owns the mutable session state: authenticated sessions,
// the ticket state machine and the append-only escalation log. Reference
// data is read through the refdata snapshot and never written here. Every
// mutation runs in one transaction and appends an audit event; a failed
// call leaves all state unchanged.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"controltower/internal/config"
	"controltower/internal/domain"
	"controltower/internal/events"
	"controltower/internal/refdata"
	"controltower/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Ref    *refdata.ReferenceData
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, ref *refdata.ReferenceData, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Ref:    ref,
		Events: events.Writer{DB: db},
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

// Authenticate matches login id and password exactly (case-sensitive)
// against an active credential row and opens a session. The error never
// distinguishes unknown login, wrong password and revoked account.
func (e Engine) Authenticate(ctx context.Context, loginID, password string) (domain.Session, error) {
	c, ok := e.Ref.Credential(loginID)
	if !ok || c.LoginID != loginID || c.Password != password || !c.Active {
		return domain.Session{}, &AuthenticationError{}
	}
	now := e.now().UTC()
	s := domain.Session{
		Token:     uuid.NewString(),
		LoginID:   c.LoginID,
		POCName:   c.POCName,
		Persona:   c.Type,
		OrderID:   c.OrderID,
		CreatedAt: now,
		ExpiresAt: now.Add(e.Config.SessionTTL()),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Session{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteExpiredSessions(ctx, tx, now); err != nil {
		return domain.Session{}, err
	}
	if err := e.Repo.InsertSession(ctx, tx, s); err != nil {
		return domain.Session{}, err
	}
	if err := e.Events.Append(ctx, tx, "auth.login", s.OrderID, "session", s.Token, s.LoginID, events.EventPayload{
		"persona": string(s.Persona),
	}); err != nil {
		return domain.Session{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Session{}, err
	}
	return s, nil
}

// Logout deletes the session. Unknown tokens are a no-op so repeated
// logouts stay safe.
func (e Engine) Logout(ctx context.Context, token string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	s, err := e.Repo.GetSessionByToken(ctx, token)
	if errors.Is(err, repo.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := e.Repo.DeleteSession(ctx, tx, token); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "auth.logout", s.OrderID, "session", token, s.LoginID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// SessionByToken resolves a live session. Missing and expired tokens both
// fail with *AuthenticationError.
func (e Engine) SessionByToken(ctx context.Context, token string) (domain.Session, error) {
	s, err := e.Repo.GetSessionByToken(ctx, token)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Session{}, &AuthenticationError{}
	}
	if err != nil {
		return domain.Session{}, err
	}
	if !e.now().Before(s.ExpiresAt) {
		return domain.Session{}, &AuthenticationError{}
	}
	return s, nil
}

// SessionFor builds an unsaved session for an identity already verified by
// an outer layer, such as a JWT whose signature checked out.
func (e Engine) SessionFor(loginID string) (domain.Session, error) {
	c, ok := e.Ref.Credential(loginID)
	if !ok || !c.Active {
		return domain.Session{}, &AuthenticationError{}
	}
	now := e.now().UTC()
	return domain.Session{
		LoginID:   c.LoginID,
		POCName:   c.POCName,
		Persona:   c.Type,
		OrderID:   c.OrderID,
		CreatedAt: now,
		ExpiresAt: now.Add(e.Config.SessionTTL()),
	}, nil
}
