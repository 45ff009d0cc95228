package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/openeo-local/runner/graph"
	"github.com/openeo-local/runner/local"
	"github.com/openeo-local/runner/service/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type config struct {
	PgPath         string
	OutPath        string
	WorkingDir     string
	Engine         string
	CollectionsURI string
	Timeout        time.Duration
	Verbose        bool
}

func newAppConfig() (*config, error) {
	config := config{}
	flag.StringVar(&config.PgPath, "pg", "", "path to the process graph JSON")
	flag.StringVar(&config.OutPath, "out", "", "path to save results")
	flag.StringVar(&config.WorkingDir, "workdir", ".", "working directory of the local execution context")
	flag.StringVar(&config.Engine, "engine", "", "local execution engine binary (default: ENGINEPATH env)")
	flag.StringVar(&config.CollectionsURI, "collections-uri", "", "url of a zip bundle of local collections, fetched into <workdir>/collections when missing (optional)")
	flag.DurationVar(&config.Timeout, "timeout", 0, "execution timeout (0: none)")
	flag.BoolVar(&config.Verbose, "verbose", false, "display debug logs")
	flag.Parse()

	if config.PgPath == "" {
		return nil, fmt.Errorf("missing pg config flag")
	}
	if config.OutPath == "" {
		return nil, fmt.Errorf("missing out config flag")
	}
	return &config, nil
}

func main() {
	ctx := context.Background()
	config, err := newAppConfig()
	if err != nil {
		log.Fatal("error", zap.Error(err))
	}
	if config.Verbose {
		log.SetLevel(zapcore.DebugLevel)
	}
	if err := run(ctx, config); err != nil {
		log.Fatal("error", zap.Error(err))
	}
}

func run(ctx context.Context, config *config) error {
	// The process graph must exist before anything else happens
	if _, err := os.Stat(config.PgPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("process graph not found: %s", config.PgPath)
		}
		return fmt.Errorf("process graph %s: %w", config.PgPath, err)
	}

	data, err := os.ReadFile(config.PgPath)
	if err != nil {
		return fmt.Errorf("process graph %s: %w", config.PgPath, err)
	}
	g, err := graph.FromJSON(data)
	if err != nil {
		return fmt.Errorf("process graph %s: %w", config.PgPath, err)
	}

	log.Logger(ctx).Sugar().Infof("Output will be saved to: %s", config.OutPath)

	if config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.Timeout)
		defer cancel()
	}

	if config.CollectionsURI != "" {
		if err := local.FetchCollections(ctx, config.CollectionsURI, filepath.Join(config.WorkingDir, "collections")); err != nil {
			return err
		}
	}

	var opts []local.Option
	if config.Engine != "" {
		opts = append(opts, local.WithEngine(config.Engine))
	}
	conn, err := local.New(ctx, config.WorkingDir, opts...)
	if err != nil {
		return err
	}

	cube, err := conn.DataCubeFromGraph(g)
	if err != nil {
		return err
	}
	defer cube.Clean()
	log.Logger(ctx).Sugar().Debugf("process graph staged:\n%s", g.Summary())

	res, err := conn.Execute(ctx, cube, config.OutPath)
	if err != nil {
		return err
	}
	log.Logger(ctx).Sugar().Debugf("%d assets produced", len(res.Assets))
	log.Logger(ctx).Info("Execution complete.")
	return nil
}
