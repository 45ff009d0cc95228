package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/openeo-local/runner/common"
	db "github.com/openeo-local/runner/interface/database"
	"github.com/openeo-local/runner/service/log"
)

func (wf *Workflow) NewHandler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/jobs", wf.CreateJobHandler).Methods("POST")
	r.HandleFunc("/jobs", wf.ListJobsHandler).Methods("GET")
	r.HandleFunc("/jobs/{job}", wf.GetJobHandler).Methods("GET")
	r.HandleFunc("/jobs/{job}", wf.DeleteJobHandler).Methods("DELETE")
	r.HandleFunc("/jobs/{job}/results", wf.ListJobAssetsHandler).Methods("GET")
	r.HandleFunc("/jobs/{job}/retry", wf.RetryJobHandler).Methods("PUT")
	r.HandleFunc("/jobs/{job}/fail", wf.FailJobHandler).Methods("PUT")
	r.HandleFunc("/jobs/{job}/force/{status}", wf.ForceJobStatusHandler).Methods("PUT")
	r.HandleFunc("/status", wf.GetStatusHandler).Methods("GET")
	return r
}

func (wf *Workflow) ResultHandler(ctx context.Context, result common.Result) error {
	var err error
	switch result.Type {
	case common.ResultTypeJob:
		_, err = wf.UpdateJobStatus(ctx, result.ID, result.Status, &result.Message, false)
	default:
		panic(result.Type)
	}
	return err
}

func ifElse(cond bool, valtrue, valfalse int) int {
	if cond {
		return valtrue
	}
	return valfalse
}

// CreateJobHandler creates a new job
func (wf *Workflow) CreateJobHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	job := common.JobToIngest{}
	dec := json.NewDecoder(req.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&job); err != nil {
		w.WriteHeader(400)
		return
	}
	nid, err := wf.CreateJob(ctx, job)
	if err != nil {
		if errors.As(err, &db.ErrAlreadyExists{}) {
			w.WriteHeader(409)
			return
		}
		log.Logger(ctx).Sugar().Warnf("create: %v", err)
		w.WriteHeader(500)
		fmt.Fprintf(w, "%v", err)
		return
	}
	fmt.Fprintf(w, "{\"id\":%d}", nid)
}

// GetJobHandler retrieves a job
func (wf *Workflow) GetJobHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	jstr := mux.Vars(req)["job"]
	id, err := strconv.Atoi(jstr)
	if err != nil {
		w.WriteHeader(400)
		return
	}
	job, err := wf.Job(ctx, id)
	if errors.As(err, &db.ErrNotFound{}) {
		w.WriteHeader(404)
		return
	}
	if err != nil {
		log.Logger(ctx).Sugar().Warnf("wf.job: %v", err)
		w.WriteHeader(500)
		fmt.Fprintf(w, "%v", err)
		return
	}
	json.NewEncoder(w).Encode(job)
}

// ListJobsHandler lists the jobs, optionally filtered by ?status=
func (wf *Workflow) ListJobsHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	q := req.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, err := strconv.Atoi(q.Get("limit"))
	if err != nil {
		limit = 100
	}
	jobs, err := wf.Jobs(ctx, q.Get("status"), page, limit)
	if err != nil {
		log.Logger(ctx).Sugar().Warnf("wf.jobs: %v", err)
		w.WriteHeader(500)
		fmt.Fprintf(w, "%v", err)
		return
	}
	json.NewEncoder(w).Encode(jobs)
}

// ListJobAssetsHandler lists the stored result assets of the job
func (wf *Workflow) ListJobAssetsHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	jstr := mux.Vars(req)["job"]
	id, err := strconv.Atoi(jstr)
	if err != nil {
		w.WriteHeader(400)
		return
	}
	assets, err := wf.JobAssets(ctx, id)
	if errors.As(err, &db.ErrNotFound{}) {
		w.WriteHeader(404)
		return
	}
	if err != nil {
		log.Logger(ctx).Sugar().Warnf("wf.ListJobAssetsHandler: %v", err)
		w.WriteHeader(500)
		fmt.Fprintf(w, "%v", err)
		return
	}
	json.NewEncoder(w).Encode(struct {
		Assets []string `json:"assets"`
	}{assets})
}

// RetryJobHandler retries the job if its status is RETRY
func (wf *Workflow) RetryJobHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	jstr := mux.Vars(req)["job"]
	id, err := strconv.Atoi(jstr)
	if err != nil {
		w.WriteHeader(400)
		return
	}
	emptyMessage := ""
	done, err := wf.UpdateJobStatus(ctx, id, common.StatusPENDING, &emptyMessage, false)
	if err != nil {
		log.Logger(ctx).Sugar().Warnf("wf.RetryJobHandler: %v", err)
		w.WriteHeader(500)
		fmt.Fprintf(w, "%v", err)
		return
	}
	w.WriteHeader(ifElse(done, 200, 403))
}

// FailJobHandler tags the job as FAILED
func (wf *Workflow) FailJobHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	jstr := mux.Vars(req)["job"]
	id, err := strconv.Atoi(jstr)
	if err != nil {
		w.WriteHeader(400)
		return
	}
	done, err := wf.UpdateJobStatus(ctx, id, common.StatusFAILED, nil, false)
	if err != nil {
		log.Logger(ctx).Sugar().Warnf("wf.FailJobHandler: %v", err)
		w.WriteHeader(500)
		fmt.Fprintf(w, "%v", err)
		return
	}
	w.WriteHeader(ifElse(done, 200, 403))
}

// ForceJobStatusHandler sets the job status regardless of the current one
func (wf *Workflow) ForceJobStatusHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	status, err := common.StatusString(mux.Vars(req)["status"])
	if err != nil {
		w.WriteHeader(500)
		fmt.Fprintf(w, "%v", err)
		return
	}
	id, err := strconv.Atoi(mux.Vars(req)["job"])
	if err != nil {
		w.WriteHeader(400)
		return
	}
	done, err := wf.UpdateJobStatus(ctx, id, status, nil, true)
	if err != nil {
		log.Logger(ctx).Sugar().Warnf("wf.ForceJobStatusHandler: %v", err)
		w.WriteHeader(500)
		fmt.Fprintf(w, "%v", err)
		return
	}
	w.WriteHeader(ifElse(done, 200, 403))
}

// DeleteJobHandler deletes the job and its assets
func (wf *Workflow) DeleteJobHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	id, err := strconv.Atoi(mux.Vars(req)["job"])
	if err != nil {
		w.WriteHeader(400)
		return
	}
	if err := wf.RemoveJob(ctx, id); err != nil {
		if errors.As(err, &db.ErrNotFound{}) {
			w.WriteHeader(404)
			return
		}
		log.Logger(ctx).Sugar().Warnf("wf.DeleteJobHandler: %v", err)
		w.WriteHeader(500)
		fmt.Fprintf(w, "%v", err)
		return
	}
	w.WriteHeader(204)
}

// GetStatusHandler returns the number of jobs per status
func (wf *Workflow) GetStatusHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	status, err := wf.JobsStatus(ctx)
	if err != nil {
		w.WriteHeader(500)
		fmt.Fprintf(w, "%v", err)
		return
	}
	w.WriteHeader(200)
	fmt.Fprintf(w, "Jobs:\n  new:     %d\n  pending: %d\n  done:    %d\n  retry:   %d\n  failed:  %d\n  Total:   %d\n",
		status.New, status.Pending, status.Done, status.Retry, status.Failed,
		status.New+status.Pending+status.Done+status.Retry+status.Failed)
}
