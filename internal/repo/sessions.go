package repo

import (
	"context"
	"database/sql"
	"time"

	"controltower/internal/domain"
)

func (r Repo) InsertSession(ctx context.Context, tx *sql.Tx, s domain.Session) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO sessions(token,login_id,poc_name,persona,order_id,created_at,expires_at) VALUES (?,?,?,?,?,?,?)`,
		s.Token, s.LoginID, s.POCName, string(s.Persona), nullable(s.OrderID), formatTime(s.CreatedAt), formatTime(s.ExpiresAt))
	return err
}

func (r Repo) GetSessionByToken(ctx context.Context, token string) (domain.Session, error) {
	var s domain.Session
	var persona, createdAt, expiresAt string
	var orderID sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT token,login_id,poc_name,persona,order_id,created_at,expires_at FROM sessions WHERE token=?`, token).
		Scan(&s.Token, &s.LoginID, &s.POCName, &persona, &orderID, &createdAt, &expiresAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	s.Persona = domain.Persona(persona)
	if orderID.Valid {
		s.OrderID = orderID.String
	}
	if s.CreatedAt, err = ParseTime(createdAt); err != nil {
		return s, err
	}
	if s.ExpiresAt, err = ParseTime(expiresAt); err != nil {
		return s, err
	}
	return s, nil
}

func (r Repo) DeleteSession(ctx context.Context, tx *sql.Tx, token string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE token=?`, token)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteExpiredSessions prunes sessions whose expiry is before now.
func (r Repo) DeleteExpiredSessions(ctx context.Context, tx *sql.Tx, now time.Time) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at<?`, formatTime(now))
	return err
}
