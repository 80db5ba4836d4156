package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // cgo driver, registered as "sqlite3"
	_ "modernc.org/sqlite"          // pure-Go driver, registered as "sqlite"
)

const (
	// DriverModernc is the pure-Go SQLite driver and the default.
	DriverModernc = "sqlite"

	// DriverMattn is the cgo SQLite driver.
	DriverMattn = "sqlite3"
)

// Config contains configuration for the SQLite store.
type Config struct {
	// Path is the database file path.
	Path string

	// Driver selects the database/sql driver: "sqlite" or "sqlite3".
	// Default: "sqlite"
	Driver string

	// WALMode enables Write-Ahead Logging.
	// Default: true
	WALMode bool

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() Config {
	return Config{
		Path:        "data/relay.db",
		Driver:      DriverModernc,
		WALMode:     true,
		BusyTimeout: 5 * time.Second,
	}
}

// SQLiteStore persists groups, backends, switch events, request logs and
// model mappings. It holds a single connection and serializes access with a
// mutex, so callers may share one store across goroutines.
type SQLiteStore struct {
	db     *sql.DB
	driver string
	logger *slog.Logger

	mu     sync.Mutex
	closed bool

	insertRequestStmt *sql.Stmt
	insertSwitchStmt  *sql.Stmt
	latencyStmt       *sql.Stmt
}

var _ Store = (*SQLiteStore)(nil)

// Open opens (creating if needed) the database described by cfg.
func Open(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.Driver == "" {
		cfg.Driver = DriverModernc
	}
	if cfg.Driver != DriverModernc && cfg.Driver != DriverMattn {
		return nil, fmt.Errorf("unsupported sqlite driver %q (want %q or %q)", cfg.Driver, DriverModernc, DriverMattn)
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	logger := slog.Default().With("component", "storage.sqlite")

	db, err := sql.Open(cfg.Driver, cfg.Path)
	if err != nil {
		return nil, newStorageError(cfg.Driver, "open", err)
	}

	// One connection: SQLite has a single writer and PRAGMAs are per connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{
		db:     db,
		driver: cfg.Driver,
		logger: logger,
	}

	if err := s.initialize(cfg); err != nil {
		db.Close()
		return nil, err
	}

	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("SQLite store initialized",
		"path", cfg.Path,
		"driver", cfg.Driver,
		"wal_mode", cfg.WALMode,
	)

	return s, nil
}

func (s *SQLiteStore) initialize(cfg Config) error {
	if cfg.WALMode {
		if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return newStorageError(s.driver, "enable_wal", err)
		}
	}

	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", cfg.BusyTimeout.Milliseconds())); err != nil {
		return newStorageError(s.driver, "set_busy_timeout", err)
	}

	if _, err := s.db.Exec(Schema); err != nil {
		return newStorageError(s.driver, "create_schema", err)
	}

	if _, err := s.db.Exec(InsertSchemaVersion, SchemaVersion); err != nil {
		return newStorageError(s.driver, "insert_schema_version", err)
	}

	var version int
	if err := s.db.QueryRow(GetSchemaVersion).Scan(&version); err != nil {
		return newStorageError(s.driver, "get_schema_version", err)
	}
	if version != SchemaVersion {
		return newStorageError(s.driver, "schema_version_mismatch",
			fmt.Errorf("expected schema version %d, got %d", SchemaVersion, version))
	}

	s.logger.Debug("schema version verified", "version", version)
	return nil
}

func (s *SQLiteStore) prepareStatements() error {
	var err error

	s.insertRequestStmt, err = s.db.Prepare(`
		INSERT INTO request_logs (
			id, backend_id, group_id, method, path,
			client_format, upstream_format, model, mapped_model,
			status_code, stream, attempts, input_tokens, output_tokens, duration_ms,
			error_type, error_message, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return newStorageError(s.driver, "prepare_insert_request", err)
	}

	s.insertSwitchStmt, err = s.db.Prepare(`
		INSERT INTO switch_logs (
			id, timestamp, reason, from_backend_id, to_backend_id, group_id,
			cross_group, latency_before_ms, latency_after_ms, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return newStorageError(s.driver, "prepare_insert_switch", err)
	}

	s.latencyStmt, err = s.db.Prepare(`UPDATE backends SET last_latency_ms = ?, updated_at = ? WHERE id = ?`)
	if err != nil {
		return newStorageError(s.driver, "prepare_update_latency", err)
	}

	return nil
}

// lock acquires the store mutex and reports ErrClosed after Close.
func (s *SQLiteStore) lock() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	return nil
}

// CreateGroup inserts a new group.
func (s *SQLiteStore) CreateGroup(ctx context.Context, name string) (*Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("group name cannot be empty")
	}
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO groups (name, auto_switch_enabled, created_at) VALUES (?, 0, ?)`,
		name, toMillis(now))
	if err != nil {
		return nil, newStorageError(s.driver, "create_group", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, newStorageError(s.driver, "create_group", err)
	}

	return &Group{ID: id, Name: name, CreatedAt: fromMillis(toMillis(now))}, nil
}

// GetGroup returns the group with the given id.
func (s *SQLiteStore) GetGroup(ctx context.Context, id int64) (*Group, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, auto_switch_enabled, created_at FROM groups WHERE id = ?`, id)
	g, err := scanGroup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("group %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, newStorageError(s.driver, "get_group", err)
	}
	return g, nil
}

// ListGroups returns every group ordered by id.
func (s *SQLiteStore) ListGroups(ctx context.Context) ([]*Group, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, auto_switch_enabled, created_at FROM groups ORDER BY id`)
	if err != nil {
		return nil, newStorageError(s.driver, "list_groups", err)
	}
	defer rows.Close()

	groups := []*Group{}
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, newStorageError(s.driver, "scan_group", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, newStorageError(s.driver, "list_groups", err)
	}
	return groups, nil
}

// SetGroupAutoSwitch toggles auto-switch for a group. Enabling requires at
// least two available backends in the group.
func (s *SQLiteStore) SetGroupAutoSwitch(ctx context.Context, id int64, enabled bool) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	if enabled {
		var n int
		err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM backends WHERE group_id = ? AND available = 1`, id).Scan(&n)
		if err != nil {
			return newStorageError(s.driver, "count_backends", err)
		}
		if n < 2 {
			return fmt.Errorf("group %d has %d available backend(s): %w", id, n, ErrTooFewBackends)
		}
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE groups SET auto_switch_enabled = ? WHERE id = ?`, enabled, id)
	if err != nil {
		return newStorageError(s.driver, "set_auto_switch", err)
	}
	return requireAffected(res, "group", id)
}

// CreateBackend inserts b and sets its ID and timestamps.
func (s *SQLiteStore) CreateBackend(ctx context.Context, b *Backend) error {
	if err := validateBackend(b); err != nil {
		return err
	}
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	now := fromMillis(toMillis(time.Now()))
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO backends (
			group_id, name, provider, base_url, api_key, sort_order,
			available, last_latency_ms, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.GroupID, b.Name, string(b.Provider), b.BaseURL, b.APIKey, b.SortOrder,
		b.Available, b.LastLatencyMs, toMillis(now), toMillis(now))
	if err != nil {
		return newStorageError(s.driver, "create_backend", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return newStorageError(s.driver, "create_backend", err)
	}

	b.ID = id
	b.CreatedAt = now
	b.UpdatedAt = now
	return nil
}

// UpdateBackend overwrites the mutable fields of an existing backend.
func (s *SQLiteStore) UpdateBackend(ctx context.Context, b *Backend) error {
	if err := validateBackend(b); err != nil {
		return err
	}
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	now := fromMillis(toMillis(time.Now()))
	res, err := s.db.ExecContext(ctx, `
		UPDATE backends SET
			group_id = ?, name = ?, provider = ?, base_url = ?, api_key = ?,
			sort_order = ?, available = ?, updated_at = ?
		WHERE id = ?`,
		b.GroupID, b.Name, string(b.Provider), b.BaseURL, b.APIKey,
		b.SortOrder, b.Available, toMillis(now), b.ID)
	if err != nil {
		return newStorageError(s.driver, "update_backend", err)
	}
	if err := requireAffected(res, "backend", b.ID); err != nil {
		return err
	}
	b.UpdatedAt = now
	return nil
}

// SetBackendAvailable marks a backend available or unavailable.
func (s *SQLiteStore) SetBackendAvailable(ctx context.Context, id int64, available bool) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE backends SET available = ?, updated_at = ? WHERE id = ?`,
		available, toMillis(time.Now()), id)
	if err != nil {
		return newStorageError(s.driver, "set_available", err)
	}
	return requireAffected(res, "backend", id)
}

// DeleteBackend removes a backend.
func (s *SQLiteStore) DeleteBackend(ctx context.Context, id int64) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM backends WHERE id = ?`, id)
	if err != nil {
		return newStorageError(s.driver, "delete_backend", err)
	}
	return requireAffected(res, "backend", id)
}

const backendColumns = `id, group_id, name, provider, base_url, api_key, sort_order,
	available, last_latency_ms, created_at, updated_at`

// GetBackend returns the backend with the given id.
func (s *SQLiteStore) GetBackend(ctx context.Context, id int64) (*Backend, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+backendColumns+` FROM backends WHERE id = ?`, id)
	b, err := scanBackend(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("backend %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, newStorageError(s.driver, "get_backend", err)
	}
	return b, nil
}

// ListBackends returns every backend of a group, available or not. A zero
// groupID lists all backends.
func (s *SQLiteStore) ListBackends(ctx context.Context, groupID int64) ([]*Backend, error) {
	query := `SELECT ` + backendColumns + ` FROM backends`
	args := []interface{}{}
	if groupID != 0 {
		query += ` WHERE group_id = ?`
		args = append(args, groupID)
	}
	query += ` ORDER BY group_id, sort_order, id`
	return s.queryBackends(ctx, "list_backends", query, args...)
}

// ListAvailableBackends returns the group's available backends in sort order.
func (s *SQLiteStore) ListAvailableBackends(ctx context.Context, groupID int64) ([]*Backend, error) {
	return s.queryBackends(ctx, "list_available_backends",
		`SELECT `+backendColumns+` FROM backends
		 WHERE group_id = ? AND available = 1
		 ORDER BY sort_order, id`, groupID)
}

func (s *SQLiteStore) queryBackends(ctx context.Context, op, query string, args ...interface{}) ([]*Backend, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, newStorageError(s.driver, op, err)
	}
	defer rows.Close()

	backends := []*Backend{}
	for rows.Next() {
		b, err := scanBackend(rows)
		if err != nil {
			return nil, newStorageError(s.driver, "scan_backend", err)
		}
		backends = append(backends, b)
	}
	if err := rows.Err(); err != nil {
		return nil, newStorageError(s.driver, op, err)
	}
	return backends, nil
}

// UpdateBackendLatency records the latest observed latency for a backend.
func (s *SQLiteStore) UpdateBackendLatency(ctx context.Context, id int64, latencyMs int64) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	res, err := s.latencyStmt.ExecContext(ctx, latencyMs, toMillis(time.Now()), id)
	if err != nil {
		return newStorageError(s.driver, "update_latency", err)
	}
	return requireAffected(res, "backend", id)
}

// InsertSwitchEvent appends a switch event. Missing ids and timestamps are
// filled in.
func (s *SQLiteStore) InsertSwitchEvent(ctx context.Context, ev *SwitchEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	var from sql.NullInt64
	if ev.FromBackendID != nil {
		from = sql.NullInt64{Int64: *ev.FromBackendID, Valid: true}
	}

	_, err := s.insertSwitchStmt.ExecContext(ctx,
		ev.ID, toMillis(ev.Timestamp), string(ev.Reason), from, ev.ToBackendID, ev.GroupID,
		ev.CrossGroup, ev.LatencyBeforeMs, ev.LatencyAfterMs, nullString(ev.ErrorMessage))
	if err != nil {
		return newStorageError(s.driver, "insert_switch_event", err)
	}
	return nil
}

// ListSwitchEvents returns the most recent switch events, newest first. A zero
// groupID lists events for every group; a non-positive limit means 100.
func (s *SQLiteStore) ListSwitchEvents(ctx context.Context, groupID int64, limit int) ([]*SwitchEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, timestamp, reason, from_backend_id, to_backend_id, group_id,
		cross_group, latency_before_ms, latency_after_ms, error_message FROM switch_logs`
	args := []interface{}{}
	if groupID != 0 {
		query += ` WHERE group_id = ?`
		args = append(args, groupID)
	}
	query += ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, limit)

	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, newStorageError(s.driver, "list_switch_events", err)
	}
	defer rows.Close()

	events := []*SwitchEvent{}
	for rows.Next() {
		var (
			ev     SwitchEvent
			ts     int64
			reason string
			from   sql.NullInt64
			errMsg sql.NullString
		)
		if err := rows.Scan(&ev.ID, &ts, &reason, &from, &ev.ToBackendID, &ev.GroupID,
			&ev.CrossGroup, &ev.LatencyBeforeMs, &ev.LatencyAfterMs, &errMsg); err != nil {
			return nil, newStorageError(s.driver, "scan_switch_event", err)
		}
		ev.Timestamp = fromMillis(ts)
		ev.Reason = SwitchReason(reason)
		if from.Valid {
			id := from.Int64
			ev.FromBackendID = &id
		}
		ev.ErrorMessage = errMsg.String
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, newStorageError(s.driver, "list_switch_events", err)
	}
	return events, nil
}

// InsertRequestLog persists one request summary.
func (s *SQLiteStore) InsertRequestLog(ctx context.Context, rl *RequestLog) error {
	if rl.ID == "" {
		rl.ID = uuid.New().String()
	}
	if rl.CreatedAt.IsZero() {
		rl.CreatedAt = time.Now()
	}
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	_, err := s.insertRequestStmt.ExecContext(ctx,
		rl.ID, rl.BackendID, rl.GroupID, rl.Method, rl.Path,
		rl.ClientFormat, rl.UpstreamFormat, rl.Model, nullString(rl.MappedModel),
		rl.StatusCode, rl.Stream, rl.Attempts, rl.InputTokens, rl.OutputTokens, rl.DurationMs,
		nullString(rl.ErrorType), nullString(rl.ErrorMessage), toMillis(rl.CreatedAt))
	if err != nil {
		return newStorageError(s.driver, "insert_request_log", err)
	}
	return nil
}

// RequestLogFilter narrows ListRequestLogs.
type RequestLogFilter struct {
	BackendID  int64
	GroupID    int64
	OnlyErrors bool
	Since      time.Time
	Limit      int
}

// ListRequestLogs returns request logs matching f, newest first.
func (s *SQLiteStore) ListRequestLogs(ctx context.Context, f RequestLogFilter) ([]*RequestLog, error) {
	var (
		conditions []string
		args       []interface{}
	)
	if f.BackendID != 0 {
		conditions = append(conditions, "backend_id = ?")
		args = append(args, f.BackendID)
	}
	if f.GroupID != 0 {
		conditions = append(conditions, "group_id = ?")
		args = append(args, f.GroupID)
	}
	if f.OnlyErrors {
		conditions = append(conditions, "status_code >= 400")
	}
	if !f.Since.IsZero() {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, toMillis(f.Since))
	}

	query := `SELECT id, backend_id, group_id, method, path, client_format, upstream_format,
		model, mapped_model, status_code, stream, attempts, input_tokens, output_tokens,
		duration_ms, error_type, error_message, created_at FROM request_logs`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, newStorageError(s.driver, "list_request_logs", err)
	}
	defer rows.Close()

	logs := []*RequestLog{}
	for rows.Next() {
		var (
			rl                     RequestLog
			clientFmt, upstreamFmt sql.NullString
			model, mapped          sql.NullString
			errType, errMsg        sql.NullString
			createdAt              int64
		)
		if err := rows.Scan(&rl.ID, &rl.BackendID, &rl.GroupID, &rl.Method, &rl.Path,
			&clientFmt, &upstreamFmt, &model, &mapped, &rl.StatusCode, &rl.Stream,
			&rl.Attempts, &rl.InputTokens, &rl.OutputTokens, &rl.DurationMs,
			&errType, &errMsg, &createdAt); err != nil {
			return nil, newStorageError(s.driver, "scan_request_log", err)
		}
		rl.ClientFormat = clientFmt.String
		rl.UpstreamFormat = upstreamFmt.String
		rl.Model = model.String
		rl.MappedModel = mapped.String
		rl.ErrorType = errType.String
		rl.ErrorMessage = errMsg.String
		rl.CreatedAt = fromMillis(createdAt)
		logs = append(logs, &rl)
	}
	if err := rows.Err(); err != nil {
		return nil, newStorageError(s.driver, "list_request_logs", err)
	}
	return logs, nil
}

// PruneRequestLogs deletes request logs created before the cutoff and
// returns how many were removed.
func (s *SQLiteStore) PruneRequestLogs(ctx context.Context, before time.Time) (int64, error) {
	if err := s.lock(); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM request_logs WHERE created_at < ?`, toMillis(before))
	if err != nil {
		return 0, newStorageError(s.driver, "prune_request_logs", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, newStorageError(s.driver, "prune_request_logs", err)
	}
	return n, nil
}

// PruneSwitchEvents deletes switch events recorded before the cutoff.
func (s *SQLiteStore) PruneSwitchEvents(ctx context.Context, before time.Time) (int64, error) {
	if err := s.lock(); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM switch_logs WHERE timestamp < ?`, toMillis(before))
	if err != nil {
		return 0, newStorageError(s.driver, "prune_switch_events", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, newStorageError(s.driver, "prune_switch_events", err)
	}
	return n, nil
}

// ListModelMappings returns every mapping, enabled or not, highest priority first.
func (s *SQLiteStore) ListModelMappings(ctx context.Context) ([]*ModelMapping, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_model, target_model, direction, priority, enabled, custom
		FROM model_mappings ORDER BY priority DESC, id`)
	if err != nil {
		return nil, newStorageError(s.driver, "list_model_mappings", err)
	}
	defer rows.Close()

	mappings := []*ModelMapping{}
	for rows.Next() {
		var m ModelMapping
		if err := rows.Scan(&m.ID, &m.SourceModel, &m.TargetModel, &m.Direction,
			&m.Priority, &m.Enabled, &m.Custom); err != nil {
			return nil, newStorageError(s.driver, "scan_model_mapping", err)
		}
		mappings = append(mappings, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, newStorageError(s.driver, "list_model_mappings", err)
	}
	return mappings, nil
}

// CreateModelMapping inserts m. An enabled mapping must be unique per source
// model and direction.
func (s *SQLiteStore) CreateModelMapping(ctx context.Context, m *ModelMapping) error {
	if m.SourceModel == "" || m.TargetModel == "" {
		return fmt.Errorf("source and target model are required")
	}
	if m.Direction == "" {
		return fmt.Errorf("direction is required")
	}
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	if m.Enabled {
		var n int
		err := s.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM model_mappings
			WHERE source_model = ? AND direction = ? AND enabled = 1`,
			m.SourceModel, m.Direction).Scan(&n)
		if err != nil {
			return newStorageError(s.driver, "check_model_mapping", err)
		}
		if n > 0 {
			return fmt.Errorf("%s (%s): %w", m.SourceModel, m.Direction, ErrDuplicateMapping)
		}
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO model_mappings (source_model, target_model, direction, priority, enabled, custom)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.SourceModel, m.TargetModel, m.Direction, m.Priority, m.Enabled, m.Custom)
	if err != nil {
		return newStorageError(s.driver, "create_model_mapping", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return newStorageError(s.driver, "create_model_mapping", err)
	}
	m.ID = id
	return nil
}

// DeleteModelMapping removes a mapping.
func (s *SQLiteStore) DeleteModelMapping(ctx context.Context, id int64) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM model_mappings WHERE id = ?`, id)
	if err != nil {
		return newStorageError(s.driver, "delete_model_mapping", err)
	}
	return requireAffected(res, "model mapping", id)
}

// Ping verifies the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	if err := s.db.PingContext(ctx); err != nil {
		return newStorageError(s.driver, "ping", err)
	}
	return nil
}

// Close releases prepared statements and the database handle. It is safe to
// call more than once.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	for _, stmt := range []*sql.Stmt{s.insertRequestStmt, s.insertSwitchStmt, s.latencyStmt} {
		if stmt != nil {
			stmt.Close()
		}
	}

	if err := s.db.Close(); err != nil {
		return newStorageError(s.driver, "close", err)
	}
	s.logger.Info("SQLite store closed")
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanGroup(r rowScanner) (*Group, error) {
	var (
		g         Group
		createdAt int64
	)
	if err := r.Scan(&g.ID, &g.Name, &g.AutoSwitchEnabled, &createdAt); err != nil {
		return nil, err
	}
	g.CreatedAt = fromMillis(createdAt)
	return &g, nil
}

func scanBackend(r rowScanner) (*Backend, error) {
	var (
		b                    Backend
		provider             string
		createdAt, updatedAt int64
	)
	if err := r.Scan(&b.ID, &b.GroupID, &b.Name, &provider, &b.BaseURL, &b.APIKey,
		&b.SortOrder, &b.Available, &b.LastLatencyMs, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	b.Provider = Provider(provider)
	b.CreatedAt = fromMillis(createdAt)
	b.UpdatedAt = fromMillis(updatedAt)
	return &b, nil
}

func validateBackend(b *Backend) error {
	if b == nil {
		return fmt.Errorf("backend cannot be nil")
	}
	if b.GroupID == 0 {
		return fmt.Errorf("backend group id is required")
	}
	if strings.TrimSpace(b.Name) == "" {
		return fmt.Errorf("backend name cannot be empty")
	}
	if !b.Provider.Valid() {
		return fmt.Errorf("unknown provider %q", b.Provider)
	}
	if b.BaseURL == "" {
		return fmt.Errorf("backend base url cannot be empty")
	}
	return nil
}

func requireAffected(res sql.Result, what string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", what, id, ErrNotFound)
	}
	return nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}
