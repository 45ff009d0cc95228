package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/openeo-local/runner/common"
	db "github.com/openeo-local/runner/interface/database"
	"github.com/openeo-local/runner/interface/storage"
	"github.com/openeo-local/runner/local"
	"github.com/openeo-local/runner/service"
	"github.com/openeo-local/runner/service/log"
	"go.uber.org/zap"
)

// Runner claims the pending jobs and executes them on the local engine
type Runner struct {
	wf           *Workflow
	conn         *local.Connection
	storage      storage.Storage
	maxTries     int
	pollInterval time.Duration
}

func NewRunner(wf *Workflow, conn *local.Connection, storage storage.Storage, maxTries int, pollInterval time.Duration) *Runner {
	if maxTries < 1 {
		maxTries = 1
	}
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &Runner{
		wf:           wf,
		conn:         conn,
		storage:      storage,
		maxTries:     maxTries,
		pollInterval: pollInterval,
	}
}

// Run polls the database for pending jobs until the context is cancelled
func (r *Runner) Run(ctx context.Context) error {
	log.Logger(ctx).Debug("runner starts")
	for {
		job, err := r.wf.NextJob(ctx)
		if err != nil {
			if service.Temporary(err) {
				log.Logger(ctx).Warn("claim job", zap.Error(err))
				job = nil
			} else {
				return fmt.Errorf("claim job: %w", err)
			}
		}
		if job == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.pollInterval):
			}
			continue
		}
		if err := r.processJob(ctx, *job); err != nil {
			return fmt.Errorf("process job: %w", err)
		}
	}
}

// processJob executes the job and reports its final status.
// A temporary failure leaves the job in RETRY so that a later claim can run it again.
func (r *Runner) processJob(ctx context.Context, job db.Job) (err error) {
	ctx = log.With(ctx, "job", job.SourceID)
	log.Logger(ctx).Sugar().Debugf("job %s try %d", job.SourceID, job.TryCount)

	status := common.StatusRETRY
	message := ""
	defer func() {
		if err != nil {
			log.Logger(ctx).Warn("job failed", zap.Error(err))
			message = err.Error()
			err = nil
		}
		res := common.Result{
			Type:    common.ResultTypeJob,
			ID:      job.ID,
			Status:  status,
			Message: message,
		}
		if e := r.wf.ResultHandler(ctx, res); e != nil {
			err = fmt.Errorf("report result: %w", e)
		}
	}()

	if execErr := r.executeJob(ctx, job); execErr != nil {
		if job.TryCount >= r.maxTries {
			status = common.StatusFAILED
			return fmt.Errorf("too many retries: %w", execErr)
		}
		if service.Fatal(execErr) {
			status = common.StatusFAILED
		}
		return execErr
	}
	log.Logger(ctx).Sugar().Infof("successfully processed job %s", job.SourceID)
	status = common.StatusDONE
	return nil
}

// executeJob stages the process graph, runs the engine and persists the assets
func (r *Runner) executeJob(ctx context.Context, job db.Job) error {
	cube, err := r.conn.DataCubeFromJSON(job.Data.ProcessGraph)
	if err != nil {
		return service.MakeFatal(fmt.Errorf("executeJob.%w", err))
	}
	defer func() {
		if err := cube.Clean(); err != nil {
			log.Logger(ctx).Sugar().Warnf("clean %s: %v", cube.RunDir(), err)
		}
	}()

	res, err := r.conn.Execute(ctx, cube, job.Data.OutputPath)
	if err != nil {
		return fmt.Errorf("executeJob.%w", err)
	}

	for _, asset := range res.Assets {
		uri, err := r.storage.SaveAsset(ctx, job.Data.UUID, asset)
		if err != nil {
			return fmt.Errorf("executeJob.%w", err)
		}
		log.Logger(ctx).Sugar().Debugf("stored asset %s", uri)
	}
	return nil
}
