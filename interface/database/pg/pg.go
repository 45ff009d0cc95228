package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/lib/pq"
	"github.com/openeo-local/runner/common"
	db "github.com/openeo-local/runner/interface/database"
)

// pgInterface allows to use either a sql.DB or a sql.Tx
type pgInterface interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// BackendTx implements JobsTxBackend
type BackendTx struct {
	*sql.Tx
	Backend
}

// BackendDB implements JobsDBBackend
type BackendDB struct {
	*sql.DB
	Backend
}

// Backend implements JobsBackend
type Backend struct {
	pgInterface
}

/* http://www.postgresql.org/docs/9.3/static/errcodes-appendix.html */
const (
	noError             = "00000"
	foreignKeyViolation = "23503"
	uniqueViolation     = "23505"

	notPqError = "X"
)

func pqErrorCode(err error) pq.ErrorCode {
	if err == nil {
		return noError
	}
	var pqerr *pq.Error
	if errors.As(err, &pqerr) {
		return pqerr.Code
	}
	return notPqError
}

// StartTransaction implements JobsDBBackend
func (bdb BackendDB) StartTransaction(ctx context.Context) (db.JobsTxBackend, error) {
	tx, err := bdb.BeginTx(ctx, nil)
	if err != nil {
		return BackendTx{}, err
	}
	return BackendTx{tx, Backend{pgInterface: tx}}, nil
}

// Rollback overloads sql.Tx.Rollback to be idempotent
func (btx BackendTx) Rollback() error {
	err := btx.Tx.Rollback()
	if err == sql.ErrTxDone {
		return nil
	}
	return err
}

// New creates a new backend using Postgres
func New(ctx context.Context, dbConnection string) (*BackendDB, error) {
	pgdb, err := sql.Open("postgres", dbConnection)
	if err != nil {
		return nil, fmt.Errorf("sql.open: %w", err)
	}
	return &BackendDB{pgdb, Backend{pgInterface: pgdb}}, nil
}

// CreateJob implements JobsBackend
func (b Backend) CreateJob(ctx context.Context, sourceID string, status common.Status, data common.JobAttrs) (int, error) {
	var id int
	err := b.QueryRowContext(ctx,
		"insert into job(source_id, status, data) values($1, $2, $3) returning id",
		sourceID, status, data).Scan(&id)
	switch pqErrorCode(err) {
	case noError:
		return id, nil
	case uniqueViolation:
		return 0, db.ErrAlreadyExists{Type: "job", ID: sourceID}
	default:
		return 0, fmt.Errorf("CreateJob.exec: %w", err)
	}
}

// Job implements JobsBackend
func (b Backend) Job(ctx context.Context, id int) (db.Job, error) {
	j := db.Job{}
	err := b.QueryRowContext(ctx,
		"select id, source_id, status, message, try_count, data from job where id = $1", id).
		Scan(&j.ID, &j.SourceID, &j.Status, &j.Message, &j.TryCount, &j.Data)
	switch {
	case err == sql.ErrNoRows:
		return j, db.ErrNotFound{Type: "job", ID: strconv.Itoa(id)}
	case err != nil:
		return j, fmt.Errorf("Job.Scan: %w", err)
	}
	return j, nil
}

// JobId implements JobsBackend
func (b Backend) JobId(ctx context.Context, sourceID string) (int, error) {
	var id int
	err := b.QueryRowContext(ctx, "select id from job where source_id = $1", sourceID).Scan(&id)
	switch {
	case err == sql.ErrNoRows:
		return 0, db.ErrNotFound{Type: "job", ID: sourceID}
	case err != nil:
		return 0, fmt.Errorf("JobId.Scan: %w", err)
	}
	return id, nil
}

// Jobs implements JobsBackend
func (b Backend) Jobs(ctx context.Context, status string, page, limit int) ([]db.Job, error) {
	query := "select id, source_id, status, message, try_count, data from job"
	args := []interface{}{}
	if status != "" {
		query += " where status = $1"
		args = append(args, status)
	}
	query += " ORDER BY id"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, page*limit)
	}

	rows, err := b.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("Jobs.QueryContext: %w", err)
	}
	defer rows.Close()
	jobs := make([]db.Job, 0)
	for rows.Next() {
		var j db.Job
		if err := rows.Scan(&j.ID, &j.SourceID, &j.Status, &j.Message, &j.TryCount, &j.Data); err != nil {
			return nil, fmt.Errorf("Jobs.Scan: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Jobs.rows.err: %w", err)
	}
	return jobs, nil
}

// UpdateJob implements JobsBackend
func (b Backend) UpdateJob(ctx context.Context, id int, status common.Status, message *string) error {
	var (
		res sql.Result
		err error
	)
	if message != nil {
		res, err = b.ExecContext(ctx, "update job set status = $2, message = $3 where id = $1", id, status, *message)
	} else {
		res, err = b.ExecContext(ctx, "update job set status = $2 where id = $1", id, status)
	}
	if err != nil {
		return fmt.Errorf("UpdateJob.exec: %w", err)
	}
	if nb, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("UpdateJob.RowsAffected: %w", err)
	} else if nb == 0 {
		return db.ErrNotFound{Type: "job", ID: strconv.Itoa(id)}
	}
	return nil
}

// UpdateJobAttrs implements JobsBackend
func (b Backend) UpdateJobAttrs(ctx context.Context, id int, data common.JobAttrs) error {
	res, err := b.ExecContext(ctx, "update job set data = $2 where id = $1", id, data)
	if err != nil {
		return fmt.Errorf("UpdateJobAttrs.exec: %w", err)
	}
	if nb, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("UpdateJobAttrs.RowsAffected: %w", err)
	} else if nb == 0 {
		return db.ErrNotFound{Type: "job", ID: strconv.Itoa(id)}
	}
	return nil
}

// DeleteJob implements JobsBackend
func (b Backend) DeleteJob(ctx context.Context, id int) error {
	res, err := b.ExecContext(ctx, "delete from job where id = $1", id)
	if err != nil {
		return fmt.Errorf("DeleteJob.exec: %w", err)
	}
	if nb, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("DeleteJob.RowsAffected: %w", err)
	} else if nb == 0 {
		return db.ErrNotFound{Type: "job", ID: strconv.Itoa(id)}
	}
	return nil
}

// JobsStatus implements JobsBackend
func (b Backend) JobsStatus(ctx context.Context) (db.Status, error) {
	rows, err := b.QueryContext(ctx, "select status, count(*) from job GROUP BY status")
	if err != nil {
		return db.Status{}, fmt.Errorf("JobsStatus.QueryContext: %w", err)
	}
	defer rows.Close()
	status := db.Status{}
	for rows.Next() {
		var (
			s  common.Status
			nb int64
		)
		if err := rows.Scan(&s, &nb); err != nil {
			return db.Status{}, fmt.Errorf("JobsStatus.Scan: %w", err)
		}
		status.Set(s, nb)
	}
	if err := rows.Err(); err != nil {
		return db.Status{}, fmt.Errorf("JobsStatus.rows.err: %w", err)
	}
	return status, nil
}

// NextJob implements JobsBackend
func (b Backend) NextJob(ctx context.Context) (*db.Job, error) {
	j := db.Job{}
	err := b.QueryRowContext(ctx,
		`update job set try_count = try_count+1
		 where id = (select id from job where status = $1 ORDER BY id FOR UPDATE SKIP LOCKED LIMIT 1)
		 returning id, source_id, status, message, try_count, data`, common.StatusPENDING).
		Scan(&j.ID, &j.SourceID, &j.Status, &j.Message, &j.TryCount, &j.Data)
	switch {
	case err == sql.ErrNoRows:
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("NextJob.Scan: %w", err)
	}
	return &j, nil
}
