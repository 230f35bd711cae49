package postgres

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/personaldata/internal/domain"
	"example.com/personaldata/internal/outbox"
)

// Writer persists record batches idempotently, one transaction per call.
type Writer struct {
	pool   *pgxpool.Pool
	logger *log.Logger
}

// WriterOption customises a Writer.
type WriterOption func(*Writer)

// WithLogger overrides the writer logger.
func WithLogger(logger *log.Logger) WriterOption {
	return func(w *Writer) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWriter constructs a Writer.
func NewWriter(pool *pgxpool.Pool, opts ...WriterOption) *Writer {
	w := &Writer{
		pool:   pool,
		logger: log.New(log.Writer(), "[postgres] ", log.LstdFlags|log.Lshortfile),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

type writeOptions struct {
	events []outbox.Event
}

// WriteOption adjusts a single Write call.
type WriteOption func(*writeOptions)

// WithOutboxEvent appends ev to the outbox in the same transaction as the batch.
func WithOutboxEvent(ev outbox.Event) WriteOption {
	return func(o *writeOptions) {
		o.events = append(o.events, ev)
	}
}

// Write upserts batch into table and returns the number of rows inserted or updated.
// Records sharing a natural key are collapsed to the last one first. Nothing is committed
// unless every statement succeeds; failures come back as *domain.StorageError.
func (w *Writer) Write(ctx context.Context, table domain.TableSpec, batch domain.Batch, opts ...WriteOption) (int64, error) {
	var o writeOptions
	for _, opt := range opts {
		opt(&o)
	}

	if err := table.Validate(); err != nil {
		return 0, &domain.StorageError{Table: table.Name(), Err: err}
	}
	records, err := table.Dedupe(batch)
	if err != nil {
		return 0, &domain.StorageError{Table: table.Name(), Err: err}
	}
	if len(records) == 0 && len(o.events) == 0 {
		return 0, nil
	}

	rows, err := w.write(ctx, table, records, o.events)
	if err != nil {
		return 0, storageError(table, err)
	}
	if dropped := len(batch) - len(records); dropped > 0 {
		w.logger.Printf("%s: collapsed %d duplicate records", table.Name(), dropped)
	}
	w.logger.Printf("%s: %d records written, %d rows affected", table.Name(), len(records), rows)
	return rows, nil
}

func (w *Writer) write(ctx context.Context, table domain.TableSpec, records domain.Batch, events []outbox.Event) (rows int64, err error) {
	tx, err := w.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	if len(records) > 0 {
		stmt := UpsertSQL(table)
		batch := &pgx.Batch{}
		for _, r := range records {
			batch.Queue(stmt, r.Values...)
		}

		results := tx.SendBatch(ctx, batch)
		for i := range records {
			tag, execErr := results.Exec()
			if execErr != nil {
				results.Close()
				err = fmt.Errorf("record %d: %w", i, execErr)
				return 0, err
			}
			rows += tag.RowsAffected()
		}
		if err = results.Close(); err != nil {
			return 0, err
		}
	}

	for _, ev := range events {
		if err = outbox.Append(ctx, tx, ev); err != nil {
			return 0, err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return 0, err
	}
	return rows, nil
}

// UpsertSQL renders the parameterised INSERT ... ON CONFLICT statement for table.
func UpsertSQL(table domain.TableSpec) string {
	cols := quoteAll(table.Columns)
	params := make([]string, len(table.Columns))
	for i := range params {
		params[i] = fmt.Sprintf("$%d", i+1)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) ",
		qualified(table), strings.Join(cols, ", "), strings.Join(params, ", "), strings.Join(quoteAll(table.NaturalKey), ", "))

	update := table.UpdateColumns()
	if table.Policy == domain.ConflictIgnore || len(update) == 0 {
		b.WriteString("DO NOTHING")
		return b.String()
	}
	sets := make([]string, len(update))
	for i, c := range update {
		q := pgx.Identifier{c}.Sanitize()
		sets[i] = q + " = EXCLUDED." + q
	}
	b.WriteString("DO UPDATE SET ")
	b.WriteString(strings.Join(sets, ", "))
	return b.String()
}

func qualified(table domain.TableSpec) string {
	if table.Schema == "" {
		return pgx.Identifier{table.Table}.Sanitize()
	}
	return pgx.Identifier{table.Schema, table.Table}.Sanitize()
}

func quoteAll(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = pgx.Identifier{n}.Sanitize()
	}
	return out
}

func storageError(table domain.TableSpec, err error) *domain.StorageError {
	return &domain.StorageError{Table: table.Name(), Err: err, Transient: isTransient(err)}
}

// isTransient reports failures where resubmitting the same batch can succeed: serialization
// and deadlock rollbacks, connection loss and resource exhaustion.
func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgerrcode.IsTransactionRollback(pgErr.Code) ||
			pgerrcode.IsConnectionException(pgErr.Code) ||
			pgerrcode.IsInsufficientResources(pgErr.Code) ||
			pgErr.Code == pgerrcode.AdminShutdown ||
			pgErr.Code == pgerrcode.CannotConnectNow
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return pgconn.SafeToRetry(err)
}
