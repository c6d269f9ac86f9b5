package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/felixgeelhaar/lookout/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Storage using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and if needed creates) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0750); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// WAL mode for concurrent readers during agent turns.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`PRAGMA foreign_keys = ON;`,
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			display_name TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS auth_tokens (
			token TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			created_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			title TEXT NOT NULL,
			category TEXT NOT NULL,
			requirements TEXT,
			status TEXT NOT NULL,
			pending_clarification_id TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			sender TEXT NOT NULL,
			type TEXT NOT NULL,
			text TEXT NOT NULL,
			is_blocking INTEGER NOT NULL DEFAULT 0,
			clarification_status TEXT,
			answer_message_id TEXT,
			target_listing_id TEXT,
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS listings (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			title TEXT NOT NULL,
			url TEXT,
			price REAL,
			currency TEXT,
			marketplace TEXT,
			metadata TEXT,
			description TEXT,
			status TEXT NOT NULL DEFAULT 'active',
			score INTEGER,
			rationale TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_listings_session ON listings(session_id);`,
		`CREATE TABLE IF NOT EXISTS agent_memory (
			key TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			data TEXT NOT NULL,
			last_updated INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS configuration (
			key TEXT PRIMARY KEY,
			value TEXT
		);`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// User Implementation

func (s *SQLiteStore) CreateUser(ctx context.Context, user *domain.User) error {
	query := `INSERT INTO users (id, email, password_hash, display_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		user.ID, user.Email, user.PasswordHash, nullStr(user.DisplayName),
		user.CreatedAt.Unix(), user.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*domain.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, display_name, created_at, updated_at FROM users WHERE id = ?`, id))
}

func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, display_name, created_at, updated_at FROM users WHERE email = ?`, email))
}

func (s *SQLiteStore) scanUser(row *sql.Row) (*domain.User, error) {
	var u domain.User
	var displayName sql.NullString
	var createdAt, updatedAt int64

	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &displayName, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	u.DisplayName = displayName.String
	u.CreatedAt = time.Unix(createdAt, 0)
	u.UpdatedAt = time.Unix(updatedAt, 0)
	return &u, nil
}

// Auth Token Implementation

func (s *SQLiteStore) CreateAuthToken(ctx context.Context, token *domain.AuthToken) error {
	query := `INSERT INTO auth_tokens (token, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		token.Token, token.UserID, token.CreatedAt.Unix(), token.ExpiresAt.Unix())
	if err != nil {
		return fmt.Errorf("create auth token: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetAuthToken(ctx context.Context, token string) (*domain.AuthToken, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT token, user_id, created_at, expires_at FROM auth_tokens WHERE token = ?`, token)

	var t domain.AuthToken
	var createdAt, expiresAt int64
	err := row.Scan(&t.Token, &t.UserID, &createdAt, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan auth token row: %w", err)
	}

	t.CreatedAt = time.Unix(createdAt, 0)
	t.ExpiresAt = time.Unix(expiresAt, 0)
	return &t, nil
}

func (s *SQLiteStore) DeleteAuthToken(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM auth_tokens WHERE token = ?`, token)
	if err != nil {
		return fmt.Errorf("delete auth token: %w", err)
	}
	return nil
}

// Session Implementation

func (s *SQLiteStore) CreateSession(ctx context.Context, session *domain.Session) error {
	query := `INSERT INTO sessions (id, user_id, title, category, requirements, status, pending_clarification_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		session.ID, session.UserID, session.Title, session.Category,
		nullStr(session.Requirements), session.Status, nullStr(session.PendingClarificationID),
		session.CreatedAt.Unix(), session.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

const sessionColumns = `id, user_id, title, category, requirements, status, pending_clarification_id, created_at, updated_at`

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	return sess, nil
}

func (s *SQLiteStore) ListSessionsByUser(ctx context.Context, userID string) ([]*domain.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE user_id = ? ORDER BY created_at DESC, rowid DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.Session
	for rows.Next() {
		sess, err := scanSession(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func scanSession(scan func(dest ...any) error) (*domain.Session, error) {
	var sess domain.Session
	var requirements, pendingID sql.NullString
	var createdAt, updatedAt int64

	if err := scan(&sess.ID, &sess.UserID, &sess.Title, &sess.Category,
		&requirements, &sess.Status, &pendingID, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	sess.Requirements = requirements.String
	sess.PendingClarificationID = pendingID.String
	sess.CreatedAt = time.Unix(createdAt, 0)
	sess.UpdatedAt = time.Unix(updatedAt, 0)
	return &sess, nil
}

func (s *SQLiteStore) UpdateSessionMeta(ctx context.Context, session *domain.Session) error {
	query := `UPDATE sessions SET title = ?, category = ?, requirements = ?, updated_at = ? WHERE id = ?`
	_, err := s.db.ExecContext(ctx, query,
		session.Title, session.Category, nullStr(session.Requirements),
		time.Now().Unix(), session.ID)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateSessionStatus(ctx context.Context, sessionID, status, pendingClarificationID string) error {
	query := `UPDATE sessions SET status = ?, pending_clarification_id = ?, updated_at = ? WHERE id = ?`
	_, err := s.db.ExecContext(ctx, query,
		status, nullStr(pendingClarificationID), time.Now().Unix(), sessionID)
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Message Implementation

const messageColumns = `id, session_id, sender, type, text, is_blocking, clarification_status, answer_message_id, target_listing_id, created_at`

func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *domain.Message) error {
	query := `INSERT INTO messages (` + messageColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		msg.ID, msg.SessionID, msg.Sender, msg.Type, msg.Text,
		boolInt(msg.IsBlocking), nullStr(msg.ClarificationStatus),
		nullStr(msg.AnswerMessageID), nullStr(msg.TargetListingID),
		msg.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	msg, err := scanMessage(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan message row: %w", err)
	}
	return msg, nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string, limit int) ([]*domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE session_id = ? ORDER BY created_at, rowid`
	args := []any{sessionID}
	if limit > 0 {
		// Keep the most recent N but preserve chronological order.
		query = `SELECT ` + messageColumns + ` FROM (
			SELECT ` + messageColumns + `, rowid AS rid FROM messages WHERE session_id = ?
			ORDER BY created_at DESC, rowid DESC LIMIT ?
		) ORDER BY created_at, rid`
		args = append(args, limit)
	}

	return s.queryMessages(ctx, query, args...)
}

func (s *SQLiteStore) ListPendingBlockingClarifications(ctx context.Context, sessionID string) ([]*domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages
		WHERE session_id = ? AND type = ? AND is_blocking = 1 AND clarification_status = ?
		ORDER BY created_at, rowid`
	return s.queryMessages(ctx, query, sessionID, domain.MessageClarification, domain.ClarificationPending)
}

func (s *SQLiteStore) ListClarificationsByListing(ctx context.Context, listingID string) ([]*domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages
		WHERE target_listing_id = ? AND type = ?
		ORDER BY created_at, rowid`
	return s.queryMessages(ctx, query, listingID, domain.MessageClarification)
}

func (s *SQLiteStore) queryMessages(ctx context.Context, query string, args ...any) ([]*domain.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []*domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

func scanMessage(scan func(dest ...any) error) (*domain.Message, error) {
	var msg domain.Message
	var isBlocking int
	var clarStatus, answerID, targetID sql.NullString
	var createdAt int64

	if err := scan(&msg.ID, &msg.SessionID, &msg.Sender, &msg.Type, &msg.Text,
		&isBlocking, &clarStatus, &answerID, &targetID, &createdAt); err != nil {
		return nil, err
	}

	msg.IsBlocking = isBlocking != 0
	msg.ClarificationStatus = clarStatus.String
	msg.AnswerMessageID = answerID.String
	msg.TargetListingID = targetID.String
	msg.CreatedAt = time.Unix(createdAt, 0)
	return &msg, nil
}

func (s *SQLiteStore) UpdateMessageClarification(ctx context.Context, messageID, status, answerMessageID string) error {
	var err error
	if answerMessageID != "" {
		_, err = s.db.ExecContext(ctx,
			`UPDATE messages SET clarification_status = ?, answer_message_id = ? WHERE id = ?`,
			status, answerMessageID, messageID)
	} else {
		_, err = s.db.ExecContext(ctx,
			`UPDATE messages SET clarification_status = ? WHERE id = ?`, status, messageID)
	}
	if err != nil {
		return fmt.Errorf("update message clarification: %w", err)
	}
	return nil
}

// Listing Implementation

const listingColumns = `id, session_id, title, url, price, currency, marketplace, metadata, description, status, score, rationale, created_at, updated_at`

func (s *SQLiteStore) CreateListing(ctx context.Context, listing *domain.Listing) error {
	metaJSON, err := json.Marshal(listing.Metadata)
	if err != nil {
		return fmt.Errorf("marshal listing metadata: %w", err)
	}

	var price any
	if listing.HasPrice {
		price = listing.Price
	}

	query := `INSERT INTO listings (` + listingColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		listing.ID, listing.SessionID, listing.Title, nullStr(listing.URL),
		price, nullStr(listing.Currency), nullStr(listing.Marketplace),
		string(metaJSON), nullStr(listing.Description), listing.Status,
		listing.Score, nullStr(listing.Rationale),
		listing.CreatedAt.Unix(), listing.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("create listing: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetListing(ctx context.Context, id string) (*domain.Listing, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE id = ?`, id)
	l, err := scanListing(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan listing row: %w", err)
	}
	return l, nil
}

func (s *SQLiteStore) ListListings(ctx context.Context, sessionID string, activeOnly bool) ([]*domain.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE session_id = ?`
	args := []any{sessionID}
	if activeOnly {
		query += ` AND status = ?`
		args = append(args, domain.ListingActive)
	}
	// Best scores first, unscored last, newest first within ties.
	query += ` ORDER BY score IS NULL, score DESC, created_at DESC, rowid DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list listings: %w", err)
	}
	defer rows.Close()

	var listings []*domain.Listing
	for rows.Next() {
		l, err := scanListing(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan listing row: %w", err)
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

func scanListing(scan func(dest ...any) error) (*domain.Listing, error) {
	var l domain.Listing
	var url, currency, marketplace, metaJSON, description, rationale sql.NullString
	var price sql.NullFloat64
	var score sql.NullInt64
	var createdAt, updatedAt int64

	if err := scan(&l.ID, &l.SessionID, &l.Title, &url, &price, &currency,
		&marketplace, &metaJSON, &description, &l.Status, &score, &rationale,
		&createdAt, &updatedAt); err != nil {
		return nil, err
	}

	l.URL = url.String
	l.Price = price.Float64
	l.HasPrice = price.Valid
	l.Currency = currency.String
	l.Marketplace = marketplace.String
	l.Description = description.String
	l.Rationale = rationale.String
	if metaJSON.Valid && metaJSON.String != "" && metaJSON.String != "null" {
		if err := json.Unmarshal([]byte(metaJSON.String), &l.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal listing metadata: %w", err)
		}
	}
	if score.Valid {
		v := int(score.Int64)
		l.Score = &v
	}
	l.CreatedAt = time.Unix(createdAt, 0)
	l.UpdatedAt = time.Unix(updatedAt, 0)
	return &l, nil
}

func (s *SQLiteStore) UpdateListingEvaluation(ctx context.Context, listingID string, score int, rationale string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE listings SET score = ?, rationale = ?, updated_at = ? WHERE id = ?`,
		score, rationale, time.Now().Unix(), listingID)
	if err != nil {
		return false, fmt.Errorf("update listing evaluation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStore) MarkListingRemoved(ctx context.Context, listingID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE listings SET status = ?, updated_at = ? WHERE id = ?`,
		domain.ListingRemoved, time.Now().Unix(), listingID)
	if err != nil {
		return false, fmt.Errorf("mark listing removed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Agent Memory Implementation

func (s *SQLiteStore) GetAgentMemory(ctx context.Context, key string) (*domain.AgentMemory, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT key, type, data, last_updated FROM agent_memory WHERE key = ?`, key)

	var m domain.AgentMemory
	var data string
	var lastUpdated int64
	err := row.Scan(&m.Key, &m.Type, &data, &lastUpdated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan agent memory row: %w", err)
	}

	m.Data = json.RawMessage(data)
	m.LastUpdated = time.Unix(lastUpdated, 0)
	return &m, nil
}

func (s *SQLiteStore) UpsertAgentMemory(ctx context.Context, key, memType string, data json.RawMessage) error {
	query := `INSERT INTO agent_memory (key, type, data, last_updated) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET type = excluded.type, data = excluded.data, last_updated = excluded.last_updated`
	_, err := s.db.ExecContext(ctx, query, key, memType, string(data), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("upsert agent memory: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteAgentMemory(ctx context.Context, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM agent_memory WHERE key = ?`, key)
	if err != nil {
		return false, fmt.Errorf("delete agent memory: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Configuration Implementation

func (s *SQLiteStore) SetConfig(ctx context.Context, key, value string) error {
	query := `INSERT INTO configuration (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	_, err := s.db.ExecContext(ctx, query, key, value)
	return err
}

func (s *SQLiteStore) GetConfig(ctx context.Context, key string) (string, error) {
	row := s.db.QueryRowContext(ctx, `SELECT value FROM configuration WHERE key = ?`, key)
	var value string
	if err := row.Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", err
	}
	return value, nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
