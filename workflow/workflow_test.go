package workflow_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"

	"github.com/openeo-local/runner/common"
	db "github.com/openeo-local/runner/interface/database"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

const validGraph = `{
	"load": {"process_id": "load_collection", "arguments": {"id": "c", "temporal_extent": ["2021-01-01", null]}},
	"save": {"process_id": "save_result", "arguments": {"data": {"from_node": "load"}}, "result": true}}`

func newJobToIngest(sourceID string) common.JobToIngest {
	return common.JobToIngest{
		SourceID: sourceID,
		Data: common.JobAttrs{
			ProcessGraph: json.RawMessage(validGraph),
			OutputPath:   "out.tiff",
		},
	}
}

var _ = Describe("CreateJob", func() {
	Context("a valid job", func() {
		var id int
		var err error
		JustBeforeEach(func() {
			id, err = wf.CreateJob(ctx, newJobToIngest("job1"))
		})
		It("should create the job as PENDING", func() {
			Expect(err).NotTo(HaveOccurred())
			job, err := wf.Job(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(job.Status).To(Equal(common.StatusPENDING))
			Expect(job.Data.UUID).NotTo(BeEmpty())
			Expect(job.Data.CreatedAt.IsZero()).To(BeFalse())
		})
		It("should refuse a duplicate", func() {
			_, err := wf.CreateJob(ctx, newJobToIngest("job1"))
			Expect(err).To(HaveOccurred())
			Expect(err).To(BeAssignableToTypeOf(db.ErrAlreadyExists{}))
		})
	})

	Context("an invalid job", func() {
		It("should refuse a missing source id", func() {
			job := newJobToIngest("")
			_, err := wf.CreateJob(ctx, job)
			Expect(err).To(HaveOccurred())
		})
		It("should refuse an empty process graph", func() {
			job := newJobToIngest("job1")
			job.Data.ProcessGraph = nil
			_, err := wf.CreateJob(ctx, job)
			Expect(err).To(HaveOccurred())
		})
		It("should refuse an invalid process graph", func() {
			job := newJobToIngest("job1")
			job.Data.ProcessGraph = json.RawMessage(`{"load": {"process_id": "load_collection", "arguments": {}}}`)
			_, err := wf.CreateJob(ctx, job)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("no result node"))
		})
	})
})

var _ = Describe("UpdateJobStatus", func() {
	var id int

	BeforeEach(func() {
		var err error
		id, err = wf.CreateJob(ctx, newJobToIngest("job1"))
		Expect(err).NotTo(HaveOccurred())
	})

	statusShouldBe := func(status common.Status) {
		job, err := wf.Job(ctx, id)
		Expect(err).NotTo(HaveOccurred())
		Expect(job.Status).To(Equal(status))
	}

	It("should finish a pending job", func() {
		done, err := wf.UpdateJobStatus(ctx, id, common.StatusDONE, nil, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(done).To(BeTrue())
		statusShouldBe(common.StatusDONE)
	})

	It("should tag a pending job for retry", func() {
		msg := "engine failed"
		done, err := wf.UpdateJobStatus(ctx, id, common.StatusRETRY, &msg, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(done).To(BeTrue())
		job, err := wf.Job(ctx, id)
		Expect(err).NotTo(HaveOccurred())
		Expect(job.Status).To(Equal(common.StatusRETRY))
		Expect(job.Message).To(Equal("engine failed"))
	})

	It("should requeue a job tagged for retry", func() {
		_, err := wf.UpdateJobStatus(ctx, id, common.StatusRETRY, nil, false)
		Expect(err).NotTo(HaveOccurred())
		done, err := wf.UpdateJobStatus(ctx, id, common.StatusPENDING, nil, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(done).To(BeTrue())
		statusShouldBe(common.StatusPENDING)
	})

	It("should fail a pending job", func() {
		msg := "too many retries"
		done, err := wf.UpdateJobStatus(ctx, id, common.StatusFAILED, &msg, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(done).To(BeTrue())
		statusShouldBe(common.StatusFAILED)
	})

	It("should refuse an invalid transition", func() {
		_, err := wf.UpdateJobStatus(ctx, id, common.StatusDONE, nil, false)
		Expect(err).NotTo(HaveOccurred())
		done, err := wf.UpdateJobStatus(ctx, id, common.StatusPENDING, nil, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(done).To(BeFalse())
		statusShouldBe(common.StatusDONE)
	})

	It("should force any transition", func() {
		_, err := wf.UpdateJobStatus(ctx, id, common.StatusDONE, nil, false)
		Expect(err).NotTo(HaveOccurred())
		done, err := wf.UpdateJobStatus(ctx, id, common.StatusPENDING, nil, true)
		Expect(err).NotTo(HaveOccurred())
		Expect(done).To(BeTrue())
		statusShouldBe(common.StatusPENDING)
	})

	It("should ignore an unknown job", func() {
		done, err := wf.UpdateJobStatus(ctx, 4242, common.StatusDONE, nil, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(done).To(BeFalse())
	})
})

var _ = Describe("ResultHandler", func() {
	var id int

	BeforeEach(func() {
		var err error
		id, err = wf.CreateJob(ctx, newJobToIngest("job1"))
		Expect(err).NotTo(HaveOccurred())
	})

	It("should apply the result status", func() {
		err := wf.ResultHandler(ctx, common.Result{Type: common.ResultTypeJob, ID: id, Status: common.StatusDONE})
		Expect(err).NotTo(HaveOccurred())
		job, err := wf.Job(ctx, id)
		Expect(err).NotTo(HaveOccurred())
		Expect(job.Status).To(Equal(common.StatusDONE))
	})
})

var _ = Describe("RemoveJob", func() {
	var id int

	BeforeEach(func() {
		var err error
		id, err = wf.CreateJob(ctx, newJobToIngest("job1"))
		Expect(err).NotTo(HaveOccurred())
	})

	It("should refuse to remove a pending job", func() {
		Expect(wf.RemoveJob(ctx, id)).To(HaveOccurred())
	})

	It("should remove a finished job and its assets", func() {
		job, err := wf.Job(ctx, id)
		Expect(err).NotTo(HaveOccurred())

		asset := filepath.Join(os.TempDir(), "asset.tif")
		Expect(os.WriteFile(asset, []byte("data"), 0644)).To(Succeed())
		defer os.Remove(asset)
		_, err = jobStorage.SaveAsset(ctx, job.Data.UUID, asset)
		Expect(err).NotTo(HaveOccurred())

		_, err = wf.UpdateJobStatus(ctx, id, common.StatusDONE, nil, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(wf.RemoveJob(ctx, id)).To(Succeed())

		_, err = wf.Job(ctx, id)
		Expect(err).To(BeAssignableToTypeOf(db.ErrNotFound{}))
		assets, err := jobStorage.ListAssets(ctx, job.Data.UUID)
		Expect(err).NotTo(HaveOccurred())
		Expect(assets).To(BeEmpty())
	})
})

var _ = Describe("Handler", func() {
	var srv *httptest.Server

	BeforeEach(func() {
		srv = httptest.NewServer(wf.NewHandler())
	})
	AfterEach(func() {
		srv.Close()
	})

	doRequest := func(method, path string, body []byte) *http.Response {
		req, err := http.NewRequest(method, srv.URL+path, bytes.NewReader(body))
		Expect(err).NotTo(HaveOccurred())
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	It("should create and retrieve a job", func() {
		body, err := json.Marshal(newJobToIngest("job1"))
		Expect(err).NotTo(HaveOccurred())
		resp := doRequest("POST", "/jobs", body)
		Expect(resp.StatusCode).To(Equal(200))
		created := struct {
			ID int `json:"id"`
		}{}
		Expect(json.NewDecoder(resp.Body).Decode(&created)).To(Succeed())
		Expect(created.ID).NotTo(BeZero())

		resp = doRequest("GET", "/jobs/1", nil)
		Expect(resp.StatusCode).To(Equal(200))
		job := db.Job{}
		Expect(json.NewDecoder(resp.Body).Decode(&job)).To(Succeed())
		Expect(job.SourceID).To(Equal("job1"))
		Expect(job.Status).To(Equal(common.StatusPENDING))
	})

	It("should return 409 on a duplicate", func() {
		body, err := json.Marshal(newJobToIngest("job1"))
		Expect(err).NotTo(HaveOccurred())
		Expect(doRequest("POST", "/jobs", body).StatusCode).To(Equal(200))
		Expect(doRequest("POST", "/jobs", body).StatusCode).To(Equal(409))
	})

	It("should return 400 on an invalid payload", func() {
		Expect(doRequest("POST", "/jobs", []byte(`{not json`)).StatusCode).To(Equal(400))
		Expect(doRequest("POST", "/jobs", []byte(`{"unknown_field": 1}`)).StatusCode).To(Equal(400))
	})

	It("should return 404 on an unknown job", func() {
		Expect(doRequest("GET", "/jobs/42", nil).StatusCode).To(Equal(404))
	})

	It("should return 400 on an invalid job id", func() {
		Expect(doRequest("GET", "/jobs/nan", nil).StatusCode).To(Equal(400))
	})

	It("should list the jobs filtered by status", func() {
		body, _ := json.Marshal(newJobToIngest("job1"))
		Expect(doRequest("POST", "/jobs", body).StatusCode).To(Equal(200))
		body, _ = json.Marshal(newJobToIngest("job2"))
		Expect(doRequest("POST", "/jobs", body).StatusCode).To(Equal(200))
		_, err := wf.UpdateJobStatus(ctx, 2, common.StatusDONE, nil, false)
		Expect(err).NotTo(HaveOccurred())

		resp := doRequest("GET", "/jobs?status=PENDING", nil)
		Expect(resp.StatusCode).To(Equal(200))
		var jobs []db.Job
		Expect(json.NewDecoder(resp.Body).Decode(&jobs)).To(Succeed())
		Expect(jobs).To(HaveLen(1))
		Expect(jobs[0].SourceID).To(Equal("job1"))
	})

	It("should fail and retry a job", func() {
		body, _ := json.Marshal(newJobToIngest("job1"))
		Expect(doRequest("POST", "/jobs", body).StatusCode).To(Equal(200))

		_, err := wf.UpdateJobStatus(ctx, 1, common.StatusRETRY, nil, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(doRequest("PUT", "/jobs/1/retry", nil).StatusCode).To(Equal(200))

		// a DONE job cannot be requeued
		_, err = wf.UpdateJobStatus(ctx, 1, common.StatusDONE, nil, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(doRequest("PUT", "/jobs/1/retry", nil).StatusCode).To(Equal(403))
	})

	It("should delete a finished job", func() {
		body, _ := json.Marshal(newJobToIngest("job1"))
		Expect(doRequest("POST", "/jobs", body).StatusCode).To(Equal(200))
		_, err := wf.UpdateJobStatus(ctx, 1, common.StatusDONE, nil, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(doRequest("DELETE", "/jobs/1", nil).StatusCode).To(Equal(204))
		Expect(doRequest("GET", "/jobs/1", nil).StatusCode).To(Equal(404))
	})

	It("should report the jobs status", func() {
		body, _ := json.Marshal(newJobToIngest("job1"))
		Expect(doRequest("POST", "/jobs", body).StatusCode).To(Equal(200))
		resp := doRequest("GET", "/status", nil)
		Expect(resp.StatusCode).To(Equal(200))
	})

	It("should list the assets of a job", func() {
		body, _ := json.Marshal(newJobToIngest("job1"))
		Expect(doRequest("POST", "/jobs", body).StatusCode).To(Equal(200))
		resp := doRequest("GET", "/jobs/1/results", nil)
		Expect(resp.StatusCode).To(Equal(200))
		res := struct {
			Assets []string `json:"assets"`
		}{}
		Expect(json.NewDecoder(resp.Body).Decode(&res)).To(Succeed())
		Expect(res.Assets).To(BeEmpty())
	})
})
