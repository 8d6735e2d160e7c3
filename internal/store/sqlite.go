package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/parleyhq/parley/internal/schema"
	"github.com/parleyhq/parley/internal/session"
	"github.com/parleyhq/parley/internal/validate"
	"github.com/parleyhq/parley/internal/webhook"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS schemas (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		fields_json TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		schema_id TEXT NOT NULL,
		status TEXT NOT NULL,
		extracted_json TEXT NOT NULL,
		completed_count INTEGER NOT NULL DEFAULT 0,
		required_count INTEGER NOT NULL DEFAULT 0,
		error_reason TEXT,
		started_at INTEGER NOT NULL,
		ended_at INTEGER,
		last_activity_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
	CREATE INDEX IF NOT EXISTS idx_sessions_activity ON sessions(last_activity_at) WHERE status = 'active';

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		validation_state TEXT,
		validation_errors_json TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at);

	CREATE TABLE IF NOT EXISTS validation_rules (
		id TEXT PRIMARY KEY,
		form_component TEXT NOT NULL,
		field_name TEXT,
		rule_type TEXT NOT NULL,
		criteria_json TEXT NOT NULL,
		error_message TEXT,
		enabled INTEGER NOT NULL DEFAULT 1,
		priority INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_rules_component ON validation_rules(form_component);

	CREATE TABLE IF NOT EXISTS webhooks (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		url TEXT NOT NULL,
		triggers_json TEXT NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1,
		last_delivery_status TEXT,
		total_deliveries INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS deliveries (
		id TEXT PRIMARY KEY,
		webhook_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		status TEXT NOT NULL,
		http_status INTEGER,
		attempt INTEGER NOT NULL DEFAULT 1,
		is_test INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_deliveries_webhook ON deliveries(webhook_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_deliveries_trigger ON deliveries(webhook_id, session_id, event_type);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
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

// --- Schemas ---

func (s *SQLiteStore) PutSchema(ctx context.Context, sc *schema.Schema) error {
	fieldsJSON, err := json.Marshal(sc.Fields)
	if err != nil {
		return fmt.Errorf("marshal schema fields: %w", err)
	}

	query := `
		INSERT INTO schemas (id, name, fields_json, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, fields_json = excluded.fields_json`
	if _, err := s.db.ExecContext(ctx, query, sc.ID, sc.Name, string(fieldsJSON), time.Now().Unix()); err != nil {
		return fmt.Errorf("upsert schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSchema(ctx context.Context, id string) (*schema.Schema, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, fields_json FROM schemas WHERE id = ?`, id)

	var sc schema.Schema
	var fieldsJSON string
	err := row.Scan(&sc.ID, &sc.Name, &fieldsJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan schema row: %w", err)
	}

	if err := json.Unmarshal([]byte(fieldsJSON), &sc.Fields); err != nil {
		return nil, fmt.Errorf("decode schema fields: %w", err)
	}
	return &sc, nil
}

// --- Sessions ---

func (s *SQLiteStore) CreateSession(ctx context.Context, sess *session.Session) error {
	extractedJSON, err := json.Marshal(sess.ExtractedFields)
	if err != nil {
		return fmt.Errorf("marshal extracted fields: %w", err)
	}

	query := `
		INSERT INTO sessions (id, schema_id, status, extracted_json, completed_count,
			required_count, error_reason, started_at, ended_at, last_activity_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		sess.ID, sess.SchemaID, string(sess.Status), string(extractedJSON),
		sess.CompletedCount, sess.RequiredCount, nullString(sess.ErrorReason),
		sess.StartedAt.Unix(), nullTime(sess.EndedAt), sess.LastActivityAt.Unix())
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*session.Session, error) {
	query := `
		SELECT id, schema_id, status, extracted_json, completed_count,
		       required_count, error_reason, started_at, ended_at, last_activity_at
		FROM sessions WHERE id = ?`

	return scanSession(s.db.QueryRowContext(ctx, query, id))
}

func (s *SQLiteStore) UpdateSession(ctx context.Context, sess *session.Session) error {
	extractedJSON, err := json.Marshal(sess.ExtractedFields)
	if err != nil {
		return fmt.Errorf("marshal extracted fields: %w", err)
	}

	query := `
		UPDATE sessions SET status = ?, extracted_json = ?, completed_count = ?,
			required_count = ?, error_reason = ?, ended_at = ?, last_activity_at = ?
		WHERE id = ?`
	res, err := s.db.ExecContext(ctx, query,
		string(sess.Status), string(extractedJSON), sess.CompletedCount,
		sess.RequiredCount, nullString(sess.ErrorReason), nullTime(sess.EndedAt),
		sess.LastActivityAt.Unix(), sess.ID)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}

	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		return fmt.Errorf("session %s not found", sess.ID)
	}
	return nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context, status session.Status) ([]*session.Session, error) {
	query := `
		SELECT id, schema_id, status, extracted_json, completed_count,
		       required_count, error_reason, started_at, ended_at, last_activity_at
		FROM sessions`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY started_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	return collectSessions(rows)
}

func (s *SQLiteStore) ListIdleSessions(ctx context.Context, inactiveSince time.Time) ([]*session.Session, error) {
	query := `
		SELECT id, schema_id, status, extracted_json, completed_count,
		       required_count, error_reason, started_at, ended_at, last_activity_at
		FROM sessions WHERE status = 'active' AND last_activity_at < ?`

	rows, err := s.db.QueryContext(ctx, query, inactiveSince.Unix())
	if err != nil {
		return nil, fmt.Errorf("query idle sessions: %w", err)
	}
	defer rows.Close()

	return collectSessions(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*session.Session, error) {
	var sess session.Session
	var extractedJSON string
	var errorReason sql.NullString
	var startedAt, lastActivity int64
	var endedAt sql.NullInt64

	err := row.Scan(&sess.ID, &sess.SchemaID, &sess.Status, &extractedJSON,
		&sess.CompletedCount, &sess.RequiredCount, &errorReason,
		&startedAt, &endedAt, &lastActivity)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	if err := json.Unmarshal([]byte(extractedJSON), &sess.ExtractedFields); err != nil {
		return nil, fmt.Errorf("decode extracted fields: %w", err)
	}
	if sess.ExtractedFields == nil {
		sess.ExtractedFields = make(map[string]session.FieldValue)
	}

	sess.ErrorReason = errorReason.String
	sess.StartedAt = time.Unix(startedAt, 0)
	sess.LastActivityAt = time.Unix(lastActivity, 0)
	if endedAt.Valid {
		t := time.Unix(endedAt.Int64, 0)
		sess.EndedAt = &t
	}

	return &sess, nil
}

func collectSessions(rows *sql.Rows) ([]*session.Session, error) {
	var sessions []*session.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// --- Messages ---

func (s *SQLiteStore) AppendMessage(ctx context.Context, m *session.Message) error {
	var errorsJSON sql.NullString
	if len(m.ValidationErrors) > 0 {
		b, err := json.Marshal(m.ValidationErrors)
		if err != nil {
			return fmt.Errorf("marshal validation errors: %w", err)
		}
		errorsJSON = sql.NullString{String: string(b), Valid: true}
	}

	query := `
		INSERT INTO messages (id, session_id, role, content, validation_state, validation_errors_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		m.ID, m.SessionID, string(m.Role), m.Content,
		nullString(m.ValidationState), errorsJSON, m.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*session.Message, error) {
	query := `
		SELECT id, session_id, role, content, validation_state, validation_errors_json, created_at
		FROM messages WHERE id = ?`

	m, err := scanMessage(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string) ([]session.Message, error) {
	query := `
		SELECT id, session_id, role, content, validation_state, validation_errors_json, created_at
		FROM messages WHERE session_id = ? ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []session.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *m)
	}
	return messages, rows.Err()
}

func scanMessage(row rowScanner) (*session.Message, error) {
	var m session.Message
	var validationState, errorsJSON sql.NullString
	var createdAt int64

	err := row.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &validationState, &errorsJSON, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan message row: %w", err)
	}

	m.ValidationState = validationState.String
	if errorsJSON.Valid {
		if err := json.Unmarshal([]byte(errorsJSON.String), &m.ValidationErrors); err != nil {
			return nil, fmt.Errorf("decode validation errors: %w", err)
		}
	}
	m.CreatedAt = time.Unix(0, createdAt)
	return &m, nil
}

// --- Validation rules ---

func (s *SQLiteStore) CreateRule(ctx context.Context, r *validate.Rule) error {
	criteriaJSON, err := json.Marshal(r.Criteria)
	if err != nil {
		return fmt.Errorf("marshal rule criteria: %w", err)
	}

	query := `
		INSERT INTO validation_rules (id, form_component, field_name, rule_type,
			criteria_json, error_message, enabled, priority, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		r.ID, r.FormComponent, nullString(r.FieldName), string(r.Type),
		string(criteriaJSON), nullString(r.ErrorMessage), boolInt(r.Enabled),
		r.Priority, r.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("insert rule: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetRule(ctx context.Context, id string) (*validate.Rule, error) {
	query := `
		SELECT id, form_component, field_name, rule_type, criteria_json,
		       error_message, enabled, priority, created_at
		FROM validation_rules WHERE id = ?`

	return scanRule(s.db.QueryRowContext(ctx, query, id))
}

func (s *SQLiteStore) UpdateRule(ctx context.Context, r *validate.Rule) error {
	criteriaJSON, err := json.Marshal(r.Criteria)
	if err != nil {
		return fmt.Errorf("marshal rule criteria: %w", err)
	}

	query := `
		UPDATE validation_rules SET form_component = ?, field_name = ?, rule_type = ?,
			criteria_json = ?, error_message = ?, enabled = ?, priority = ?
		WHERE id = ?`
	res, err := s.db.ExecContext(ctx, query,
		r.FormComponent, nullString(r.FieldName), string(r.Type),
		string(criteriaJSON), nullString(r.ErrorMessage), boolInt(r.Enabled),
		r.Priority, r.ID)
	if err != nil {
		return fmt.Errorf("update rule: %w", err)
	}

	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		return fmt.Errorf("rule %s not found", r.ID)
	}
	return nil
}

func (s *SQLiteStore) DeleteRule(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM validation_rules WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListRules(ctx context.Context) ([]validate.Rule, error) {
	query := `
		SELECT id, form_component, field_name, rule_type, criteria_json,
		       error_message, enabled, priority, created_at
		FROM validation_rules ORDER BY form_component, priority DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	var rules []validate.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *r)
	}
	return rules, rows.Err()
}

func (s *SQLiteStore) RulesFor(ctx context.Context, formComponent string) ([]validate.Rule, error) {
	query := `
		SELECT id, form_component, field_name, rule_type, criteria_json,
		       error_message, enabled, priority, created_at
		FROM validation_rules WHERE form_component = ?`

	rows, err := s.db.QueryContext(ctx, query, formComponent)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	var rules []validate.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *r)
	}
	return rules, rows.Err()
}

func scanRule(row rowScanner) (*validate.Rule, error) {
	var r validate.Rule
	var fieldName, errorMessage, criteriaJSON sql.NullString
	var enabled int
	var createdAt int64

	err := row.Scan(&r.ID, &r.FormComponent, &fieldName, &r.Type, &criteriaJSON,
		&errorMessage, &enabled, &r.Priority, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan rule row: %w", err)
	}

	r.FieldName = fieldName.String
	r.ErrorMessage = errorMessage.String
	r.Enabled = enabled != 0
	r.CreatedAt = time.Unix(createdAt, 0)
	if criteriaJSON.Valid {
		if err := json.Unmarshal([]byte(criteriaJSON.String), &r.Criteria); err != nil {
			return nil, fmt.Errorf("decode rule criteria: %w", err)
		}
	}
	return &r, nil
}

// --- Webhooks ---

func (s *SQLiteStore) CreateWebhook(ctx context.Context, w *webhook.Webhook) error {
	triggersJSON, err := json.Marshal(w.Triggers)
	if err != nil {
		return fmt.Errorf("marshal webhook triggers: %w", err)
	}

	query := `
		INSERT INTO webhooks (id, agent_id, url, triggers_json, enabled,
			last_delivery_status, total_deliveries, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		w.ID, w.AgentID, w.URL, string(triggersJSON), boolInt(w.Enabled),
		nullString(w.LastDeliveryStatus), w.TotalDeliveries, w.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("insert webhook: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetWebhook(ctx context.Context, id string) (*webhook.Webhook, error) {
	query := `
		SELECT id, agent_id, url, triggers_json, enabled, last_delivery_status, total_deliveries, created_at
		FROM webhooks WHERE id = ?`

	return scanWebhook(s.db.QueryRowContext(ctx, query, id))
}

func (s *SQLiteStore) UpdateWebhook(ctx context.Context, w *webhook.Webhook) error {
	triggersJSON, err := json.Marshal(w.Triggers)
	if err != nil {
		return fmt.Errorf("marshal webhook triggers: %w", err)
	}

	query := `
		UPDATE webhooks SET agent_id = ?, url = ?, triggers_json = ?, enabled = ?,
			last_delivery_status = ?, total_deliveries = ?
		WHERE id = ?`
	res, err := s.db.ExecContext(ctx, query,
		w.AgentID, w.URL, string(triggersJSON), boolInt(w.Enabled),
		nullString(w.LastDeliveryStatus), w.TotalDeliveries, w.ID)
	if err != nil {
		return fmt.Errorf("update webhook: %w", err)
	}

	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		return fmt.Errorf("webhook %s not found", w.ID)
	}
	return nil
}

func (s *SQLiteStore) DeleteWebhook(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM webhooks WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListWebhooks(ctx context.Context) ([]*webhook.Webhook, error) {
	query := `
		SELECT id, agent_id, url, triggers_json, enabled, last_delivery_status, total_deliveries, created_at
		FROM webhooks ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query webhooks: %w", err)
	}
	defer rows.Close()

	var webhooks []*webhook.Webhook
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		webhooks = append(webhooks, w)
	}
	return webhooks, rows.Err()
}

func scanWebhook(row rowScanner) (*webhook.Webhook, error) {
	var w webhook.Webhook
	var triggersJSON string
	var lastStatus sql.NullString
	var enabled int
	var createdAt int64

	err := row.Scan(&w.ID, &w.AgentID, &w.URL, &triggersJSON, &enabled,
		&lastStatus, &w.TotalDeliveries, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan webhook row: %w", err)
	}

	if err := json.Unmarshal([]byte(triggersJSON), &w.Triggers); err != nil {
		return nil, fmt.Errorf("decode webhook triggers: %w", err)
	}
	w.Enabled = enabled != 0
	w.LastDeliveryStatus = lastStatus.String
	w.CreatedAt = time.Unix(createdAt, 0)
	return &w, nil
}

// --- Deliveries ---

func (s *SQLiteStore) CreateDelivery(ctx context.Context, d *webhook.Delivery) error {
	query := `
		INSERT INTO deliveries (id, webhook_id, session_id, event_type, status,
			http_status, attempt, is_test, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		d.ID, d.WebhookID, d.SessionID, d.EventType, string(d.Status),
		nullInt(d.HTTPStatus), d.Attempt, boolInt(d.Test), d.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert delivery: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateDelivery(ctx context.Context, d *webhook.Delivery) error {
	query := `UPDATE deliveries SET status = ?, http_status = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, query, string(d.Status), nullInt(d.HTTPStatus), d.ID)
	if err != nil {
		return fmt.Errorf("update delivery: %w", err)
	}

	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		return fmt.Errorf("delivery %s not found", d.ID)
	}
	return nil
}

func (s *SQLiteStore) GetDelivery(ctx context.Context, id string) (*webhook.Delivery, error) {
	query := `
		SELECT id, webhook_id, session_id, event_type, status, http_status, attempt, is_test, created_at
		FROM deliveries WHERE id = ?`

	return scanDelivery(s.db.QueryRowContext(ctx, query, id))
}

func (s *SQLiteStore) ListDeliveries(ctx context.Context, webhookID string, limit int) ([]webhook.Delivery, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, webhook_id, session_id, event_type, status, http_status, attempt, is_test, created_at
		FROM deliveries WHERE webhook_id = ? ORDER BY created_at DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, webhookID, limit)
	if err != nil {
		return nil, fmt.Errorf("query deliveries: %w", err)
	}
	defer rows.Close()

	var deliveries []webhook.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, *d)
	}
	return deliveries, rows.Err()
}

// LastAttempt returns the highest attempt number recorded for a logical
// trigger (webhook + session + event type), 0 when none exists.
func (s *SQLiteStore) LastAttempt(ctx context.Context, webhookID, sessionID, eventType string) (int, error) {
	query := `
		SELECT COALESCE(MAX(attempt), 0) FROM deliveries
		WHERE webhook_id = ? AND session_id = ? AND event_type = ?`

	var attempt int
	if err := s.db.QueryRowContext(ctx, query, webhookID, sessionID, eventType).Scan(&attempt); err != nil {
		return 0, fmt.Errorf("query last attempt: %w", err)
	}
	return attempt, nil
}

func scanDelivery(row rowScanner) (*webhook.Delivery, error) {
	var d webhook.Delivery
	var httpStatus sql.NullInt64
	var isTest int
	var createdAt int64

	err := row.Scan(&d.ID, &d.WebhookID, &d.SessionID, &d.EventType, &d.Status,
		&httpStatus, &d.Attempt, &isTest, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan delivery row: %w", err)
	}

	d.HTTPStatus = int(httpStatus.Int64)
	d.Test = isTest != 0
	d.CreatedAt = time.Unix(0, createdAt)
	return &d, nil
}

// --- helpers ---

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(v int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(v), Valid: v != 0}
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
