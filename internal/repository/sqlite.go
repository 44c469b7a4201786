package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/zhouzirui/cyberbuddy/backend/internal/model/chat"
	"github.com/zhouzirui/cyberbuddy/backend/internal/model/user"
)

// SQLiteStore 是基于 SQLite 文件的 Store。时间以 UTC 纳秒整数存储。
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
	now    func() time.Time
}

// NewSQLiteStore 打开（必要时创建）dbPath 并执行迁移。
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	dsn := "file:" + dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite 只允许一个写者。
	db.SetMaxOpenConns(1)

	if err := runSQLiteMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		dbPath: dbPath,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Path 返回数据库文件路径。
func (s *SQLiteStore) Path() string {
	return s.dbPath
}

func toUnix(t time.Time) int64 { return t.UTC().UnixNano() }

func fromUnix(n int64) time.Time { return time.Unix(0, n).UTC() }

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (chat.Session, error) {
	var (
		session            chat.Session
		createdAt, updated int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, title, created_at, updated_at FROM chat_sessions WHERE id = ?`, id,
	).Scan(&session.ID, &session.OwnerID, &session.Title, &createdAt, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Session{}, ErrSessionNotFound
	}
	if err != nil {
		return chat.Session{}, fmt.Errorf("get session: %w", err)
	}
	session.CreatedAt = fromUnix(createdAt)
	session.UpdatedAt = fromUnix(updated)
	return session, nil
}

func (s *SQLiteStore) CreateSession(ctx context.Context, ownerID, title string) (chat.Session, error) {
	if ownerID == "" {
		return chat.Session{}, fmt.Errorf("create session: owner id is required")
	}

	now := s.now()
	session := chat.Session{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Title:     normalizeTitle(title),
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_sessions (id, owner_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		session.ID, session.OwnerID, session.Title, toUnix(now), toUnix(now),
	)
	if err != nil {
		return chat.Session{}, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context, ownerID string) ([]chat.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, title, created_at, updated_at FROM chat_sessions
		 WHERE owner_id = ? ORDER BY updated_at DESC, id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]chat.Session, 0)
	for rows.Next() {
		var (
			session            chat.Session
			createdAt, updated int64
		)
		if err := rows.Scan(&session.ID, &session.OwnerID, &session.Title, &createdAt, &updated); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		session.CreatedAt = fromUnix(createdAt)
		session.UpdatedAt = fromUnix(updated)
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *SQLiteStore) ListTurns(ctx context.Context, sessionID string) ([]chat.Turn, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, created_at FROM chat_turns
		 WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer rows.Close()

	turns := make([]chat.Turn, 0)
	for rows.Next() {
		var (
			turn      chat.Turn
			role      string
			createdAt int64
		)
		if err := rows.Scan(&turn.ID, &turn.SessionID, &role, &turn.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turn.Role = chat.Role(role)
		turn.CreatedAt = fromUnix(createdAt)
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	return turns, nil
}

func (s *SQLiteStore) AppendTurn(ctx context.Context, sessionID string, role chat.Role, content string) (chat.Turn, error) {
	if !role.Valid() {
		return chat.Turn{}, fmt.Errorf("append turn: invalid role %q", role)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return chat.Turn{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM chat_sessions WHERE id = ?`, sessionID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Turn{}, ErrSessionNotFound
	}
	if err != nil {
		return chat.Turn{}, fmt.Errorf("append turn: %w", err)
	}

	var last sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		`SELECT MAX(created_at) FROM chat_turns WHERE session_id = ?`, sessionID,
	).Scan(&last); err != nil {
		return chat.Turn{}, fmt.Errorf("append turn: %w", err)
	}

	createdAt := toUnix(s.now())
	if last.Valid && last.Int64 > createdAt {
		createdAt = last.Int64
	}

	turn := chat.Turn{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: fromUnix(createdAt),
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO chat_turns (id, session_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		turn.ID, turn.SessionID, string(turn.Role), turn.Content, createdAt,
	); err != nil {
		return chat.Turn{}, fmt.Errorf("append turn: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return chat.Turn{}, fmt.Errorf("commit transaction: %w", err)
	}
	return turn, nil
}

func (s *SQLiteStore) TouchSession(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE chat_sessions SET updated_at = MAX(updated_at, ?) WHERE id = ?`,
		toUnix(s.now()), sessionID)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *SQLiteStore) GetOrCreateUser(ctx context.Context, id user.Identity) (user.User, error) {
	if id.SubjectID == "" {
		return user.User{}, fmt.Errorf("get or create user: subject id is required")
	}

	created := user.FromIdentity(id, s.now())
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, display_name, photo_url, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO NOTHING`,
		created.ID, created.Email, created.DisplayName, created.PhotoURL, toUnix(created.CreatedAt),
	); err != nil {
		return user.User{}, fmt.Errorf("create user: %w", err)
	}

	var (
		u         user.User
		createdAt int64
	)
	if err := s.db.QueryRowContext(ctx,
		`SELECT id, email, display_name, photo_url, created_at FROM users WHERE id = ?`, id.SubjectID,
	).Scan(&u.ID, &u.Email, &u.DisplayName, &u.PhotoURL, &createdAt); err != nil {
		return user.User{}, fmt.Errorf("get user: %w", err)
	}
	u.CreatedAt = fromUnix(createdAt)
	return u, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close 关闭数据库连接。
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
