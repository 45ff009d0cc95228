package workflow_test

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/openeo-local/runner/common"
	"github.com/openeo-local/runner/local"
	"github.com/openeo-local/runner/workflow"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Runner", func() {
	var (
		workdir string
		runCtx  context.Context
		cancel  context.CancelFunc
		runDone chan struct{}
	)

	newConnection := func(engineScript string) *local.Connection {
		engine := filepath.Join(workdir, "engine.sh")
		Expect(os.WriteFile(engine, []byte("#!/bin/sh\n"+engineScript), 0755)).To(Succeed())
		conn, err := local.New(ctx, workdir, local.WithEngine(engine))
		Expect(err).NotTo(HaveOccurred())
		return conn
	}

	startRunner := func(conn *local.Connection, maxTries int) {
		runner := workflow.NewRunner(wf, conn, jobStorage, maxTries, 10*time.Millisecond)
		runCtx, cancel = context.WithCancel(ctx)
		runDone = make(chan struct{})
		go func() {
			defer close(runDone)
			defer GinkgoRecover()
			err := runner.Run(runCtx)
			Expect(err).To(MatchError(context.Canceled))
		}()
	}

	jobStatus := func(id int) func() common.Status {
		return func() common.Status {
			job, err := wf.Job(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			return job.Status
		}
	}

	BeforeEach(func() {
		var err error
		workdir, err = os.MkdirTemp("", "runner_test")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		cancel()
		Eventually(runDone).Should(BeClosed())
		Expect(os.RemoveAll(workdir)).To(Succeed())
	})

	It("should execute a pending job and store its assets", func() {
		id, err := wf.CreateJob(ctx, newJobToIngest("job1"))
		Expect(err).NotTo(HaveOccurred())
		startRunner(newConnection("touch out.tif\n"), 3)

		Eventually(jobStatus(id), time.Second, 10*time.Millisecond).Should(Equal(common.StatusDONE))

		job, err := wf.Job(ctx, id)
		Expect(err).NotTo(HaveOccurred())
		assets, err := jobStorage.ListAssets(ctx, job.Data.UUID)
		Expect(err).NotTo(HaveOccurred())
		Expect(assets).To(Equal([]string{"out.tif"}))
	})

	It("should tag a failed job for retry", func() {
		id, err := wf.CreateJob(ctx, newJobToIngest("job1"))
		Expect(err).NotTo(HaveOccurred())
		startRunner(newConnection("echo \"ERROR: engine failed\" >&2\nexit 1\n"), 3)

		Eventually(jobStatus(id), time.Second, 10*time.Millisecond).Should(Equal(common.StatusRETRY))

		job, err := wf.Job(ctx, id)
		Expect(err).NotTo(HaveOccurred())
		Expect(job.Message).To(ContainSubstring("engine failed"))
	})

	It("should fail a job after too many retries", func() {
		id, err := wf.CreateJob(ctx, newJobToIngest("job1"))
		Expect(err).NotTo(HaveOccurred())
		startRunner(newConnection("exit 1\n"), 1)

		Eventually(jobStatus(id), time.Second, 10*time.Millisecond).Should(Equal(common.StatusFAILED))
	})

	It("should fail a job on a fatal engine error", func() {
		id, err := wf.CreateJob(ctx, newJobToIngest("job1"))
		Expect(err).NotTo(HaveOccurred())
		startRunner(newConnection("echo \"FATAL: unsupported process\" >&2\nexit 1\n"), 3)

		Eventually(jobStatus(id), time.Second, 10*time.Millisecond).Should(Equal(common.StatusFAILED))
	})
})
