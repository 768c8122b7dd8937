package task

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id           TEXT PRIMARY KEY,
	status       TEXT NOT NULL,
	source       TEXT NOT NULL DEFAULT '',
	external_ref TEXT NOT NULL DEFAULT '',
	created_at   INTEGER NOT NULL,
	data         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS tasks_source ON tasks(source, external_ref);
`

// SQLiteStore keeps one row per task, so each mutation is a single-row
// transaction instead of a whole-file rewrite.
type SQLiteStore struct {
	pool   *sqlitex.Pool
	logger *slog.Logger
	now    func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize:    4,
		PrepareConn: prepareConn,
	})
	if err != nil {
		return nil, fmt.Errorf("open task db %s: %w", path, err)
	}
	logger.Debug("task db opened", "path", path)
	return &SQLiteStore{pool: pool, logger: logger, now: time.Now}, nil
}

func prepareConn(conn *sqlite.Conn) error {
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return sqlitex.ExecuteScript(conn, schema, nil)
}

// Close releases the connection pool.
func (s *SQLiteStore) Close() error {
	return s.pool.Close()
}

func (s *SQLiteStore) conn() (*sqlite.Conn, error) {
	conn, err := s.pool.Take(context.Background())
	if err != nil {
		return nil, fmt.Errorf("take task db conn: %w", err)
	}
	return conn, nil
}

// Create implements Store.
func (s *SQLiteStore) Create(t Task) (*Task, error) {
	conn, err := s.conn()
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	nt := prepareNew(t, s.now())
	if err := putRow(conn, nt, true); err != nil {
		return nil, err
	}
	return nt, nil
}

// Get implements Store.
func (s *SQLiteStore) Get(id string) (*Task, error) {
	conn, err := s.conn()
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)
	return getRow(conn, id)
}

// List implements Store. Tasks come back in creation order.
func (s *SQLiteStore) List(f Filter) ([]*Task, error) {
	conn, err := s.conn()
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var (
		where []string
		args  []any
	)
	if len(f.Statuses) > 0 {
		marks := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			marks[i] = "?"
			args = append(args, st.String())
		}
		where = append(where, "status IN ("+strings.Join(marks, ",")+")")
	}
	if f.Source != "" {
		where = append(where, "source = ?")
		args = append(args, f.Source)
	}
	if f.ExternalRef != "" {
		where = append(where, "external_ref = ?")
		args = append(args, f.ExternalRef)
	}
	query := "SELECT data FROM tasks"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, rowid"

	var out []*Task
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			t, err := decodeRow(stmt.ColumnText(0))
			if err != nil {
				return err
			}
			out = append(out, t)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return out, nil
}

// Update implements Store.
func (s *SQLiteStore) Update(id string, p Patch) (*Task, error) {
	return s.mutate(id, func(t *Task) error {
		p.Apply(t)
		return nil
	})
}

// Transition implements Store.
func (s *SQLiteStore) Transition(id string, e Event) (*Task, error) {
	return s.mutate(id, func(t *Task) error { return transition(t, e) })
}

func (s *SQLiteStore) mutate(id string, fn func(*Task) error) (out *Task, err error) {
	conn, err := s.conn()
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	endTx, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer endTx(&err)

	t, err := getRow(conn, id)
	if err != nil {
		return nil, err
	}
	if err = fn(t); err != nil {
		return nil, err
	}
	t.UpdatedAt = s.now()
	if err = putRow(conn, t, false); err != nil {
		return nil, err
	}
	return t.Clone(), nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(id string) (err error) {
	conn, err := s.conn()
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	endTx, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer endTx(&err)

	if _, err = getRow(conn, id); err != nil {
		return err
	}
	if err = sqlitex.Execute(conn, "DELETE FROM tasks WHERE id = ?", &sqlitex.ExecOptions{
		Args: []any{id},
	}); err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	return nil
}

func getRow(conn *sqlite.Conn, id string) (*Task, error) {
	var (
		t   *Task
		err error
	)
	execErr := sqlitex.Execute(conn, "SELECT data FROM tasks WHERE id = ?", &sqlitex.ExecOptions{
		Args: []any{id},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			t, err = decodeRow(stmt.ColumnText(0))
			return err
		},
	})
	if execErr != nil {
		return nil, fmt.Errorf("get task %s: %w", id, execErr)
	}
	if t == nil {
		return nil, notFound(id)
	}
	return t, nil
}

func putRow(conn *sqlite.Conn, t *Task, insert bool) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode task %s: %w", t.ID, err)
	}
	query := `UPDATE tasks SET status = ?, source = ?, external_ref = ?, data = ? WHERE id = ?`
	args := []any{t.Status.String(), t.Source, t.ExternalRef, string(data), t.ID}
	if insert {
		query = `INSERT INTO tasks (status, source, external_ref, data, id, created_at) VALUES (?, ?, ?, ?, ?, ?)`
		args = append(args, t.CreatedAt.UnixNano())
	}
	if err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{Args: args}); err != nil {
		return fmt.Errorf("write task %s: %w", t.ID, err)
	}
	return nil
}

func decodeRow(data string) (*Task, error) {
	var t Task
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		return nil, fmt.Errorf("decode task row: %w", err)
	}
	return &t, nil
}
