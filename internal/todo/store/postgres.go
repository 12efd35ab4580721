package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"todoflow/internal/platform/tracing"
	"todoflow/internal/todo/models"
	id "todoflow/pkg/domain"
	"todoflow/pkg/platform/sentinel"
)

// Migrations holds the schema for the Postgres backend.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the directory inside Migrations holding the SQL files.
const MigrationsDir = "migrations"

const todosTable = "todos"

var todoColumns = []string{
	"list_id", "id", "title", "description", "created_at",
	"created_confirmed_at", "deleted_confirmed_at",
}

// Postgres stores todos in a table keyed by (list_id, id).
type Postgres struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

func (s *Postgres) Put(ctx context.Context, todo *models.Todo) (err error) {
	ctx, span := tracing.Start(ctx)
	defer func() { tracing.RecordErrorAndStatus(span, err); span.End() }()

	query, args, err := s.sb.Insert(todosTable).
		Columns(todoColumns...).
		Values(
			todo.ListID.String(), todo.ID.String(), todo.Title, todo.Description, todo.CreatedAt.UTC(),
			nullTime(todo.CreatedConfirmedAt), nullTime(todo.DeletedConfirmedAt),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return classifyPostgres("insert todo", err)
	}
	return nil
}

func (s *Postgres) Get(ctx context.Context, key models.Key) (*models.Todo, error) {
	query, args, err := s.sb.Select(todoColumns...).
		From(todosTable).
		Where(sq.Eq{"list_id": key.ListID.String(), "id": key.ID.String()}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}
	todo, err := scanTodo(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, classifyPostgres("get todo", err)
	}
	return todo, nil
}

func (s *Postgres) Query(ctx context.Context, listID id.ListID, req models.PageRequest) (page *models.Page, err error) {
	ctx, span := tracing.Start(ctx)
	defer func() { tracing.RecordErrorAndStatus(span, err); span.End() }()

	req = req.Normalize()
	after, hasAfter, err := decodeCursor(req.Cursor)
	if err != nil {
		return nil, err
	}

	builder := s.sb.Select(todoColumns...).
		From(todosTable).
		Where(sq.Eq{"list_id": listID.String()}).
		OrderBy("id").
		Limit(uint64(req.Limit + 1))
	if hasAfter {
		builder = builder.Where(sq.Gt{"id": after.String()})
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classifyPostgres("query todos", err)
	}
	defer rows.Close()

	var items []*models.Todo
	for rows.Next() {
		todo, err := scanTodo(rows)
		if err != nil {
			return nil, classifyPostgres("scan todo", err)
		}
		items = append(items, todo)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPostgres("iterate todos", err)
	}

	page = &models.Page{Items: items}
	if len(items) > req.Limit {
		page.Items = items[:req.Limit]
		page.NextCursor = encodeCursor(page.Items[req.Limit-1].ID)
	}
	return page, nil
}

func (s *Postgres) Delete(ctx context.Context, listID id.ListID, todoID id.TodoID) (todo *models.Todo, err error) {
	ctx, span := tracing.Start(ctx)
	defer func() { tracing.RecordErrorAndStatus(span, err); span.End() }()

	query, args, err := s.sb.Delete(todosTable).
		Where(sq.Eq{"list_id": listID.String(), "id": todoID.String()}).
		Suffix("RETURNING " + strings.Join(todoColumns, ", ")).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build delete: %w", err)
	}
	todo, err = scanTodo(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, classifyPostgres("delete todo", err)
	}
	return todo, nil
}

func (s *Postgres) Confirm(ctx context.Context, key models.Key, kind models.ConfirmationKind, at time.Time) (err error) {
	ctx, span := tracing.Start(ctx)
	defer func() { tracing.RecordErrorAndStatus(span, err); span.End() }()

	col, err := confirmationAttr(kind)
	if err != nil {
		return err
	}
	query, args, err := s.sb.Update(todosTable).
		Set(col, sq.Expr("COALESCE("+col+", ?)", at.UTC())).
		Where(sq.Eq{"list_id": key.ListID.String(), "id": key.ID.String()}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return classifyPostgres("confirm todo", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classifyPostgres("confirm todo", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *Postgres) Health(ctx context.Context) error {
	return classifyPostgres("ping", s.db.PingContext(ctx))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTodo(row rowScanner) (*models.Todo, error) {
	var (
		listID, rawID                  string
		todo                           models.Todo
		createdConfirm, deletedConfirm sql.NullTime
	)
	if err := row.Scan(&listID, &rawID, &todo.Title, &todo.Description, &todo.CreatedAt, &createdConfirm, &deletedConfirm); err != nil {
		return nil, err
	}
	todoID, err := id.ParseTodoID(rawID)
	if err != nil {
		return nil, fmt.Errorf("stored todo has malformed id %q: %w", rawID, err)
	}
	todo.ListID = id.ListID(listID)
	todo.ID = todoID
	todo.CreatedAt = todo.CreatedAt.UTC()
	if createdConfirm.Valid {
		at := createdConfirm.Time.UTC()
		todo.CreatedConfirmedAt = &at
	}
	if deletedConfirm.Valid {
		at := deletedConfirm.Time.UTC()
		todo.DeletedConfirmedAt = &at
	}
	return &todo, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// classifyPostgres marks connection-class failures as retryable. Constraint
// and syntax errors pass through unmarked.
func classifyPostgres(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "40", "53", "57":
			return fmt.Errorf("%s: %w", op, sentinel.Unavailable(err))
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w", op, sentinel.Unavailable(err))
}
