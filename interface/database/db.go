package db

import (
	"context"
	"fmt"

	"github.com/openeo-local/runner/common"
)

type Job struct {
	common.Job
	Status   common.Status `json:"status"`
	Message  string        `json:"message"`
	TryCount int           `json:"try_count"`
}

type ErrAlreadyExists struct {
	Type, ID string
}

func (e ErrAlreadyExists) Error() string {
	return fmt.Sprintf("%s already exists: %s", e.Type, e.ID)
}

type ErrNotFound struct {
	Type, ID string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Type, e.ID)
}

type JobsTxBackend interface {
	JobsBackend
	// Must be call to apply transaction
	Commit() error
	// Might be called to cancel the transaction (no effect if commit has already be done)
	Rollback() error
}

type JobsDBBackend interface {
	JobsBackend
	StartTransaction(ctx context.Context) (JobsTxBackend, error)
}

type Status struct {
	New, Pending, Done, Retry, Failed int64
}

// Set the number of occurences for a given status
func (s *Status) Set(status common.Status, nb int64) {
	switch status {
	case common.StatusNEW:
		s.New = nb
	case common.StatusPENDING:
		s.Pending = nb
	case common.StatusDONE:
		s.Done = nb
	case common.StatusRETRY:
		s.Retry = nb
	case common.StatusFAILED:
		s.Failed = nb
	}
}

type JobsBackend interface {
	// Create a new job, returning its id, may return ErrAlreadyExists
	CreateJob(ctx context.Context, sourceID string, status common.Status, data common.JobAttrs) (int, error)
	// Get job with the given id, may return ErrNotFound
	Job(ctx context.Context, id int) (Job, error)
	// Returns the id of a job given its sourceID. May return ErrNotFound
	JobId(ctx context.Context, sourceID string) (int, error)
	// Jobs returns the list of jobs fitting the given parameters
	// status [optional=""] status of the job
	Jobs(ctx context.Context, status string, page, limit int) ([]Job, error)
	// Update job status & message (if != nil)
	UpdateJob(ctx context.Context, id int, status common.Status, message *string) error
	// Update job data
	UpdateJobAttrs(ctx context.Context, id int, data common.JobAttrs) error
	// Delete the job, may return ErrNotFound
	DeleteJob(ctx context.Context, id int) error
	// Returns the status of all the jobs
	JobsStatus(ctx context.Context) (Status, error)
	// Atomically claim the oldest PENDING job, increasing its try count.
	// Returns nil if no job is pending.
	NextJob(ctx context.Context) (*Job, error)
}

// UnitOfWork runs a function and commit the database at the end or rollback if the function returns an error
func UnitOfWork(ctx context.Context, db JobsDBBackend, f func(tx JobsTxBackend) error) (err error) {
	// Start transaction
	txn, err := db.StartTransaction(ctx)
	if err != nil {
		return fmt.Errorf("uow.starttransaction: %w", err)
	}

	// Rollback if not successful
	defer func() {
		if e := txn.Rollback(); err == nil {
			err = e
		}
	}()

	// Execute function
	if err = f(txn); err != nil {
		return fmt.Errorf("uow.%w", err)
	}

	return txn.Commit()
}
