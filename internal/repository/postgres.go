package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zhouzirui/cyberbuddy/backend/internal/model/chat"
	"github.com/zhouzirui/cyberbuddy/backend/internal/model/user"
)

// NewPool 创建并探活一个 pgx 连接池。
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}

	config.MaxConns = 20
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// PostgresStore 是基于 pgx 连接池的 Store。
type PostgresStore struct {
	db  *pgxpool.Pool
	now func() time.Time
}

// NewPostgresStore 包装已有连接池。
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		db:  pool,
		now: func() time.Time { return time.Now().UTC() },
	}
}

const sessionColumns = `id, owner_id, title, created_at, updated_at`

func scanSession(row pgx.Row) (chat.Session, error) {
	var session chat.Session
	err := row.Scan(&session.ID, &session.OwnerID, &session.Title, &session.CreatedAt, &session.UpdatedAt)
	session.CreatedAt = session.CreatedAt.UTC()
	session.UpdatedAt = session.UpdatedAt.UTC()
	return session, err
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (chat.Session, error) {
	session, err := scanSession(s.db.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM chat_sessions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return chat.Session{}, ErrSessionNotFound
		}
		return chat.Session{}, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

func (s *PostgresStore) CreateSession(ctx context.Context, ownerID, title string) (chat.Session, error) {
	if ownerID == "" {
		return chat.Session{}, fmt.Errorf("create session: owner id is required")
	}

	now := s.now()
	session, err := scanSession(s.db.QueryRow(ctx,
		`INSERT INTO chat_sessions (id, owner_id, title, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $4)
		 RETURNING `+sessionColumns,
		uuid.NewString(), ownerID, normalizeTitle(title), now))
	if err != nil {
		return chat.Session{}, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

func (s *PostgresStore) ListSessions(ctx context.Context, ownerID string) ([]chat.Session, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+sessionColumns+` FROM chat_sessions
		 WHERE owner_id = $1 ORDER BY updated_at DESC, id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]chat.Session, 0)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

func (s *PostgresStore) DeleteSession(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM chat_sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *PostgresStore) ListTurns(ctx context.Context, sessionID string) ([]chat.Turn, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx,
		`SELECT id, session_id, role, content, created_at FROM chat_turns
		 WHERE session_id = $1 ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer rows.Close()

	turns := make([]chat.Turn, 0)
	for rows.Next() {
		var (
			turn chat.Turn
			role string
		)
		if err := rows.Scan(&turn.ID, &turn.SessionID, &role, &turn.Content, &turn.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turn.Role = chat.Role(role)
		turn.CreatedAt = turn.CreatedAt.UTC()
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	return turns, nil
}

func (s *PostgresStore) AppendTurn(ctx context.Context, sessionID string, role chat.Role, content string) (chat.Turn, error) {
	if !role.Valid() {
		return chat.Turn{}, fmt.Errorf("append turn: invalid role %q", role)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return chat.Turn{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// 锁住会话行，保证同一会话的 created_at 单调。
	var locked string
	err = tx.QueryRow(ctx, `SELECT id FROM chat_sessions WHERE id = $1 FOR UPDATE`, sessionID).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return chat.Turn{}, ErrSessionNotFound
	}
	if err != nil {
		return chat.Turn{}, fmt.Errorf("append turn: %w", err)
	}

	turn := chat.Turn{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO chat_turns (id, session_id, role, content, created_at)
		 SELECT $1, $2, $3, $4, GREATEST($5::timestamptz, COALESCE(MAX(created_at), $5::timestamptz))
		 FROM chat_turns WHERE session_id = $2
		 RETURNING created_at`,
		turn.ID, sessionID, string(role), content, s.now(),
	).Scan(&turn.CreatedAt)
	if err != nil {
		return chat.Turn{}, fmt.Errorf("append turn: %w", err)
	}
	turn.CreatedAt = turn.CreatedAt.UTC()

	if err := tx.Commit(ctx); err != nil {
		return chat.Turn{}, fmt.Errorf("commit transaction: %w", err)
	}
	return turn, nil
}

func (s *PostgresStore) TouchSession(ctx context.Context, sessionID string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE chat_sessions SET updated_at = GREATEST(updated_at, $1) WHERE id = $2`,
		s.now(), sessionID)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *PostgresStore) GetOrCreateUser(ctx context.Context, id user.Identity) (user.User, error) {
	if id.SubjectID == "" {
		return user.User{}, fmt.Errorf("get or create user: subject id is required")
	}

	created := user.FromIdentity(id, s.now())
	var u user.User
	// DO UPDATE 保证 RETURNING 在冲突时也能返回已有行。
	err := s.db.QueryRow(ctx,
		`INSERT INTO users (id, email, display_name, photo_url, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET id = EXCLUDED.id
		 RETURNING id, email, display_name, photo_url, created_at`,
		created.ID, created.Email, created.DisplayName, created.PhotoURL, created.CreatedAt,
	).Scan(&u.ID, &u.Email, &u.DisplayName, &u.PhotoURL, &u.CreatedAt)
	if err != nil {
		return user.User{}, fmt.Errorf("get or create user: %w", err)
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return u, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close 关闭连接池。
func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}
