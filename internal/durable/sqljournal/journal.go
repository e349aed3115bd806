package sqljournal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/imamik/appinit/internal/durable"
)

// Journal implements [durable.Journal] over database/sql.
type Journal struct {
	db      *sql.DB
	dialect Dialect
}

var _ durable.Journal = (*Journal)(nil)

// New wraps an already migrated database.
func New(db *sql.DB, dialect Dialect) *Journal {
	return &Journal{db: db, dialect: dialect}
}

// DB returns the underlying database.
func (j *Journal) DB() *sql.DB {
	return j.db
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// q rewrites ? placeholders for the dialect.
func (j *Journal) q(query string) string {
	if j.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const executionColumns = `id, workflow, exec_key, input, state, status, result, created_at, updated_at, finished_at`

func (j *Journal) CreateExecution(ctx context.Context, exec durable.Execution) error {
	status := exec.Status
	if status == "" {
		status = durable.StatusRunning
	}
	_, err := j.db.ExecContext(ctx, j.q(
		`INSERT INTO executions (`+executionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		exec.ID, exec.Workflow, exec.Key, nullJSON(exec.Input), exec.State, string(status),
		nullJSON(exec.Result), exec.CreatedAt.UnixNano(), exec.UpdatedAt.UnixNano(), nullTime(exec.FinishedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("execution %q (%s %q): %w", exec.ID, exec.Workflow, exec.Key, durable.ErrExecutionExists)
		}
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

func (j *Journal) GetExecution(ctx context.Context, id string) (durable.Execution, error) {
	row := j.db.QueryRowContext(ctx, j.q(`SELECT `+executionColumns+` FROM executions WHERE id = ?`), id)
	exec, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return durable.Execution{}, fmt.Errorf("execution %q: %w", id, durable.ErrExecutionNotFound)
	}
	return exec, err
}

func (j *Journal) ListExecutions(ctx context.Context, filter durable.ListFilter) ([]durable.Execution, error) {
	var (
		where []string
		args  []any
	)
	if filter.Workflow != "" {
		where = append(where, "workflow = ?")
		args = append(args, filter.Workflow)
	}
	if filter.Key != "" {
		where = append(where, "exec_key = ?")
		args = append(args, filter.Key)
	}
	if filter.OnlyOpen {
		where = append(where, "status = ?")
		args = append(args, string(durable.StatusRunning))
	}
	query := `SELECT ` + executionColumns + ` FROM executions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at, id`

	rows, err := j.db.QueryContext(ctx, j.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var out []durable.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, exec)
	}
	return out, rows.Err()
}

func (j *Journal) UpdateState(ctx context.Context, id, state string, at time.Time) error {
	res, err := j.db.ExecContext(ctx, j.q(
		`UPDATE executions SET state = ?, updated_at = ? WHERE id = ? AND status = ?`),
		state, at.UnixNano(), id, string(durable.StatusRunning),
	)
	if err != nil {
		return fmt.Errorf("update state: %w", err)
	}
	return j.checkOpen(ctx, j.db, res, id)
}

func (j *Journal) FinishExecution(ctx context.Context, id string, result json.RawMessage, at time.Time) error {
	res, err := j.db.ExecContext(ctx, j.q(
		`UPDATE executions SET status = ?, result = ?, updated_at = ?, finished_at = ?
		 WHERE id = ? AND status = ?`),
		string(durable.StatusFinished), nullJSON(result), at.UnixNano(), at.UnixNano(), id, string(durable.StatusRunning),
	)
	if err != nil {
		return fmt.Errorf("finish execution: %w", err)
	}
	return j.checkOpen(ctx, j.db, res, id)
}

func (j *Journal) AppendEntry(ctx context.Context, id string, entry durable.Entry) error {
	var errJSON []byte
	if entry.Error != nil {
		var err error
		errJSON, err = json.Marshal(entry.Error)
		if err != nil {
			return fmt.Errorf("encode entry error: %w", err)
		}
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, j.q(
		`UPDATE executions SET updated_at = ? WHERE id = ? AND status = ?`),
		entry.RecordedAt.UnixNano(), id, string(durable.StatusRunning),
	)
	if err != nil {
		return fmt.Errorf("touch execution: %w", err)
	}
	if err := j.checkOpen(ctx, tx, res, id); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, j.q(
		`INSERT INTO journal_entries (execution_id, seq, position, name, kind, output, error, recorded_at)
		 SELECT ?, COALESCE(MAX(seq), 0) + 1, ?, ?, ?, ?, ?, ?
		 FROM journal_entries WHERE execution_id = ?`),
		id, entry.Position, entry.Name, string(entry.Kind), nullJSON(entry.Output), nullJSON(errJSON),
		entry.RecordedAt.UnixNano(), id,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("position %s: %w", entry.Position, durable.ErrEntryExists)
		}
		return fmt.Errorf("insert entry: %w", err)
	}
	return tx.Commit()
}

func (j *Journal) DeleteEntries(ctx context.Context, id, prefix string) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var status string
	err = tx.QueryRowContext(ctx, j.q(`SELECT status FROM executions WHERE id = ?`), id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("execution %q: %w", id, durable.ErrExecutionNotFound)
	}
	if err != nil {
		return fmt.Errorf("read execution status: %w", err)
	}
	if status != string(durable.StatusRunning) {
		return fmt.Errorf("execution %q: %w", id, durable.ErrExecutionFinished)
	}

	// substr rather than LIKE, since positions may contain '_'.
	under := prefix + "/"
	_, err = tx.ExecContext(ctx, j.q(
		`DELETE FROM journal_entries WHERE execution_id = ? AND substr(position, 1, ?) = ?`),
		id, utf8.RuneCountInString(under), under,
	)
	if err != nil {
		return fmt.Errorf("delete entries under %s: %w", prefix, err)
	}
	return tx.Commit()
}

func (j *Journal) Entries(ctx context.Context, id string) ([]durable.Entry, error) {
	if _, err := j.GetExecution(ctx, id); err != nil {
		return nil, err
	}
	rows, err := j.db.QueryContext(ctx, j.q(
		`SELECT position, name, kind, output, error, recorded_at
		 FROM journal_entries WHERE execution_id = ? ORDER BY seq`), id)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var out []durable.Entry
	for rows.Next() {
		var (
			en         durable.Entry
			kind       string
			output     sql.NullString
			errText    sql.NullString
			recordedAt int64
		)
		if err := rows.Scan(&en.Position, &en.Name, &kind, &output, &errText, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		en.Kind = durable.EntryKind(kind)
		if output.Valid {
			en.Output = json.RawMessage(output.String)
		}
		if errText.Valid {
			en.Error = &durable.RecordedError{}
			if err := json.Unmarshal([]byte(errText.String), en.Error); err != nil {
				return nil, fmt.Errorf("decode entry error at %s: %w", en.Position, err)
			}
		}
		en.RecordedAt = time.Unix(0, recordedAt).UTC()
		out = append(out, en)
	}
	return out, rows.Err()
}

// checkOpen turns a zero-row update into not-found or finished.
func (j *Journal) checkOpen(ctx context.Context, q querier, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	var status string
	err = q.QueryRowContext(ctx, j.q(`SELECT status FROM executions WHERE id = ?`), id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("execution %q: %w", id, durable.ErrExecutionNotFound)
	}
	if err != nil {
		return fmt.Errorf("read execution status: %w", err)
	}
	return fmt.Errorf("execution %q: %w", id, durable.ErrExecutionFinished)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExecution(s scanner) (durable.Execution, error) {
	var (
		exec       durable.Execution
		status     string
		input      sql.NullString
		result     sql.NullString
		createdAt  int64
		updatedAt  int64
		finishedAt sql.NullInt64
	)
	err := s.Scan(&exec.ID, &exec.Workflow, &exec.Key, &input, &exec.State, &status, &result, &createdAt, &updatedAt, &finishedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return durable.Execution{}, err
		}
		return durable.Execution{}, fmt.Errorf("scan execution: %w", err)
	}
	exec.Status = durable.Status(status)
	if input.Valid {
		exec.Input = json.RawMessage(input.String)
	}
	if result.Valid {
		exec.Result = json.RawMessage(result.String)
	}
	exec.CreatedAt = time.Unix(0, createdAt).UTC()
	exec.UpdatedAt = time.Unix(0, updatedAt).UTC()
	if finishedAt.Valid {
		t := time.Unix(0, finishedAt.Int64).UTC()
		exec.FinishedAt = &t
	}
	return exec, nil
}

func nullJSON(raw []byte) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
