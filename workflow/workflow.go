package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/openeo-local/runner/common"
	"github.com/openeo-local/runner/graph"
	db "github.com/openeo-local/runner/interface/database"
	"github.com/openeo-local/runner/interface/storage"
	"github.com/openeo-local/runner/service/log"
)

type Workflow struct {
	db.JobsDBBackend
	dbmu    sync.Mutex
	storage storage.Storage
}

func NewWorkflow(db db.JobsDBBackend, storage storage.Storage) *Workflow {
	return &Workflow{
		JobsDBBackend: db,
		storage:       storage,
	}
}

// CreateJob registers a new job and queues it for execution
// Return id of the job
func (wf *Workflow) CreateJob(ctx context.Context, job common.JobToIngest) (int, error) {
	wf.dbmu.Lock()
	defer wf.dbmu.Unlock()

	if job.SourceID == "" {
		return 0, fmt.Errorf("createJob: job must have a source id")
	}
	if len(job.Data.ProcessGraph) == 0 {
		return 0, fmt.Errorf("createJob: job has no process graph")
	}
	// Validate the graph before anything is persisted
	if _, err := graph.FromJSON(job.Data.ProcessGraph); err != nil {
		return 0, fmt.Errorf("createJob: %w", err)
	}
	if job.Data.UUID == "" {
		job.Data.UUID = uuid.New().String()
	}
	if job.Data.CreatedAt.IsZero() {
		job.Data.CreatedAt = time.Now().UTC()
	}

	// Check that the job does not already exist
	if _, err := wf.JobId(ctx, job.SourceID); err != nil && !errors.As(err, &db.ErrNotFound{}) {
		return 0, fmt.Errorf("query job: %w", err)
	} else if err == nil {
		return 0, db.ErrAlreadyExists{Type: "job", ID: job.SourceID}
	}

	var id int
	err := db.UnitOfWork(ctx, wf.JobsDBBackend, func(tx db.JobsTxBackend) error {
		var err error
		if id, err = tx.CreateJob(ctx, job.SourceID, common.StatusPENDING, job.Data); err != nil {
			return err
		}
		log.Logger(ctx).Sugar().Infof("queueing job %s", job.SourceID)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("CreateJob.%w", err)
	}

	return id, nil
}

// RetryJob requeues the job
func (wf *Workflow) RetryJob(ctx context.Context, job db.Job) error {
	lg := log.Logger(ctx).Sugar()
	err := db.UnitOfWork(ctx, wf.JobsDBBackend, func(tx db.JobsTxBackend) error {
		if err := tx.UpdateJob(ctx, job.ID, common.StatusPENDING, nil); err != nil {
			return err
		}
		lg.Infof("retrying job %s", job.SourceID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("RetryJob.%w", err)
	}
	return nil
}

// FinishJob tags the job as DONE
func (wf *Workflow) FinishJob(ctx context.Context, job db.Job) error {
	err := db.UnitOfWork(ctx, wf.JobsDBBackend, func(tx db.JobsTxBackend) error {
		return tx.UpdateJob(ctx, job.ID, common.StatusDONE, nil)
	})
	if err != nil {
		return fmt.Errorf("FinishJob.%w", err)
	}
	return nil
}

// FailJob tags the job as FAILED
func (wf *Workflow) FailJob(ctx context.Context, job db.Job) error {
	err := db.UnitOfWork(ctx, wf.JobsDBBackend, func(tx db.JobsTxBackend) error {
		return tx.UpdateJob(ctx, job.ID, common.StatusFAILED, &job.Message)
	})
	if err != nil {
		return fmt.Errorf("FailJob.%w", err)
	}
	return nil
}

func (wf *Workflow) UpdateJobStatus(ctx context.Context, id int, status common.Status, message *string, force bool) (bool, error) {
	lg := log.Logger(ctx).Sugar()
	wf.dbmu.Lock()
	defer wf.dbmu.Unlock()

	job, err := wf.Job(ctx, id)
	if err != nil {
		if errors.As(err, &db.ErrNotFound{}) {
			lg.Errorf("update: %v", err)
			return false, nil
		}
		return false, fmt.Errorf("UpdateJobStatus: %w", err)
	}
	if message != nil {
		job.Message = *message
	}

	lg.Infof("update job status %s: %s->%s (%s)", job.SourceID, job.Status, status, job.Message)

	if force {
		switch status {
		case common.StatusDONE:
			err = wf.FinishJob(ctx, job)
		case common.StatusRETRY, common.StatusNEW:
			err = wf.UpdateJob(ctx, id, status, &job.Message)
		case common.StatusPENDING:
			err = wf.RetryJob(ctx, job)
		case common.StatusFAILED:
			err = wf.FailJob(ctx, job)
		}
		return true, err
	}

	if job.Status == status {
		lg.Warnf("update job %d: status already %s", id, status)
		return false, nil
	}

	switch job.Status {
	case common.StatusPENDING:
		switch status {
		case common.StatusDONE:
			err = wf.FinishJob(ctx, job)
		case common.StatusRETRY:
			err = wf.UpdateJob(ctx, id, common.StatusRETRY, &job.Message)
		case common.StatusFAILED:
			err = wf.FailJob(ctx, job)
		default:
			lg.Errorf("cannot update job %d status %s->%s", id, job.Status, status)
			return false, nil
		}
	case common.StatusRETRY:
		switch status {
		case common.StatusDONE:
			err = wf.FinishJob(ctx, job)
		case common.StatusPENDING:
			err = wf.RetryJob(ctx, job)
		case common.StatusFAILED:
			err = wf.FailJob(ctx, job)
		default:
			lg.Errorf("cannot update job %d status %s->%s", id, job.Status, status)
			return false, nil
		}
	default:
		lg.Errorf("cannot update job %d status %s->%s", id, job.Status, status)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return true, nil
}

// JobAssets lists the stored assets of the job
func (wf *Workflow) JobAssets(ctx context.Context, id int) ([]string, error) {
	job, err := wf.Job(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("JobAssets.%w", err)
	}
	assets, err := wf.storage.ListAssets(ctx, job.Data.UUID)
	if err != nil {
		return nil, fmt.Errorf("JobAssets.%w", err)
	}
	return assets, nil
}

// RemoveJob deletes the job and its stored assets
func (wf *Workflow) RemoveJob(ctx context.Context, id int) error {
	wf.dbmu.Lock()
	defer wf.dbmu.Unlock()

	job, err := wf.Job(ctx, id)
	if err != nil {
		return fmt.Errorf("RemoveJob.%w", err)
	}
	if job.Status == common.StatusPENDING {
		return fmt.Errorf("RemoveJob: job %s is %s", job.SourceID, job.Status)
	}

	assets, err := wf.storage.ListAssets(ctx, job.Data.UUID)
	if err != nil {
		return fmt.Errorf("RemoveJob.%w", err)
	}
	for _, asset := range assets {
		if err := wf.storage.DeleteAsset(ctx, job.Data.UUID, asset); err != nil {
			if !errors.As(err, &storage.ErrFileNotFound{}) {
				return fmt.Errorf("RemoveJob.%w", err)
			}
		}
	}

	if err := db.UnitOfWork(ctx, wf.JobsDBBackend, func(tx db.JobsTxBackend) error {
		return tx.DeleteJob(ctx, id)
	}); err != nil {
		return fmt.Errorf("RemoveJob.%w", err)
	}
	return nil
}
