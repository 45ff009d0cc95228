package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cavaliercoder/grab"
	"github.com/mholt/archiver"
	"github.com/openeo-local/runner/service"
	"github.com/openeo-local/runner/service/log"
)

func fmtBytes(bytes int64) string {
	v := float64(bytes)
	switch {
	case v > 1<<30:
		return fmt.Sprintf("%.2fGo", v/(1<<30))
	case v > 1<<20:
		return fmt.Sprintf("%.2fMo", v/(1<<20))
	case v > 1<<10:
		return fmt.Sprintf("%.2fko", v/(1<<10))
	default:
		return fmt.Sprintf("%.2fo", v)
	}
}

func displayProgress(ctx context.Context, prefix string, resp *grab.Response, progressPeriod float64) {
	t := time.NewTicker(time.Second)
	defer t.Stop()

	progress := 0.0
	for {
		select {
		case <-t.C:
			if resp.Progress() > progress {
				log.Logger(ctx).Sugar().Debugf("%s: %.2f%% %s/%s", prefix, 100*resp.Progress(), fmtBytes(resp.BytesComplete()), fmtBytes(resp.Size))
				progress += progressPeriod
			}

		case <-resp.Done:
			return
		}
	}
}

// FetchCollections downloads a zip bundle of local collections and extracts
// it into localDir, so that the engine finds its input data. An already
// populated directory is left untouched.
func FetchCollections(ctx context.Context, url, localDir string) error {
	if url == "" {
		return nil
	}
	if files, err := os.ReadDir(localDir); err == nil && len(files) > 0 {
		log.Logger(ctx).Sugar().Debugf("collections already present in %s", localDir)
		return nil
	}
	if err := os.MkdirAll(localDir, 0766); err != nil {
		return service.MakeTemporary(fmt.Errorf("FetchCollections: %w", err))
	}

	localZip := filepath.Join(localDir, "collections.zip")
	req, err := grab.NewRequest(localZip, url)
	if err != nil {
		return fmt.Errorf("FetchCollections.NewRequest: %w", err)
	}
	req = req.WithContext(ctx)

	client := grab.NewClient()
	resp := client.Do(req)
	displayProgress(ctx, "collections", resp, 0.05)

	if err := resp.Err(); err != nil {
		// a partial zip left behind would count as a populated directory
		os.Remove(localZip)
		err = fmt.Errorf("FetchCollections[%s]: %w", url, err)
		if resp.HTTPResponse == nil {
			return service.MakeTemporary(err)
		}
		switch resp.HTTPResponse.StatusCode {
		case 408, 429, 500, 501, 502, 503, 504:
			return service.MakeTemporary(err)
		default:
			return err
		}
	}

	defer os.Remove(localZip)
	if err := unarchive(localZip, localDir); err != nil {
		return fmt.Errorf("FetchCollections.Unarchive: %w", err)
	}
	return nil
}

// unarchive file with basic check. All errors are temporary.
func unarchive(localZip, localDir string) error {
	tmpdir, err := os.MkdirTemp(localDir, filepath.Base(localZip))
	if err != nil {
		return service.MakeTemporary(err)
	}
	defer os.RemoveAll(tmpdir)
	if err := archiver.Unarchive(localZip, tmpdir); err != nil {
		return service.MakeTemporary(err)
	}
	files, err := os.ReadDir(tmpdir)
	if err != nil {
		return service.MakeTemporary(err)
	}
	if len(files) == 0 {
		return service.MakeTemporary(fmt.Errorf("empty zip"))
	}
	for _, f := range files {
		os.Rename(filepath.Join(tmpdir, f.Name()), filepath.Join(localDir, f.Name()))
	}
	return nil
}
