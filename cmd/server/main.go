package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gorilla/handlers"
	"github.com/openeo-local/runner/interface/database/pg"
	"github.com/openeo-local/runner/interface/storage"
	"github.com/openeo-local/runner/local"
	"github.com/openeo-local/runner/service/log"
	"github.com/openeo-local/runner/workflow"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

type config struct {
	AppPort        string
	DbConnection   string
	StorageURI     string
	WorkingDir     string
	Engine         string
	CollectionsURI string
	MaxTries       int
	PollInterval   time.Duration
	Verbose        bool
}

func newAppConfig() (*config, error) {
	appPort := flag.String("port", "8080", "server port to use")
	dbConnection := flag.String("dbConnection", "", "database connection")
	storageURI := flag.String("storage-uri", "", "uri where the result assets are stored (local path or s3://bucket[/prefix])")
	workingDir := flag.String("workdir", ".", "working directory to store the run directories of the jobs")
	engine := flag.String("engine", "", "path of the engine executable (default: ENGINEPATH env or /usr/local/bin/openeo-engine)")
	collectionsURI := flag.String("collections-uri", "", "uri of an archive of local collections to fetch into the working directory (optional)")
	maxTries := flag.Int("max-tries", 3, "number of tries before a job is tagged as FAILED")
	pollInterval := flag.Duration("poll-interval", 5*time.Second, "interval between two polls for pending jobs")
	verbose := flag.Bool("verbose", false, "display debug logs")
	flag.Parse()

	if *appPort == "" {
		return nil, fmt.Errorf("failed to initialize port application flag")
	}
	if *dbConnection == "" {
		return nil, fmt.Errorf("missing dbConnection config flag")
	}
	if *storageURI == "" {
		return nil, fmt.Errorf("missing storage-uri config flag")
	}
	return &config{
		AppPort:        *appPort,
		DbConnection:   *dbConnection,
		StorageURI:     *storageURI,
		WorkingDir:     *workingDir,
		Engine:         *engine,
		CollectionsURI: *collectionsURI,
		MaxTries:       *maxTries,
		PollInterval:   *pollInterval,
		Verbose:        *verbose,
	}, nil
}

func main() {
	ctx := context.Background()
	err := run(ctx)
	if err != nil {
		log.Fatal("error", zap.Error(err))
	}
}

func run(ctx context.Context) error {
	config, err := newAppConfig()
	if err != nil {
		return err
	}
	if config.Verbose {
		log.SetLevel(zapcore.DebugLevel)
	}

	// Connection to database
	db, err := pg.New(ctx, config.DbConnection)
	if err != nil {
		return fmt.Errorf("pg.New: %w", err)
	}

	// Storage for the result assets
	assetStorage, err := storage.NewStorage(ctx, config.StorageURI)
	if err != nil {
		return fmt.Errorf("storage[%s].%w", config.StorageURI, err)
	}

	// Local collections
	if config.CollectionsURI != "" {
		if err := local.FetchCollections(ctx, config.CollectionsURI, filepath.Join(config.WorkingDir, "collections")); err != nil {
			return fmt.Errorf("fetch collections: %w", err)
		}
	}

	// Connection to the engine
	var opts []local.Option
	if config.Engine != "" {
		opts = append(opts, local.WithEngine(config.Engine))
	}
	conn, err := local.New(ctx, config.WorkingDir, opts...)
	if err != nil {
		return fmt.Errorf("local.New: %w", err)
	}

	// Create workflow server
	wf := workflow.NewWorkflow(db, assetStorage)
	runner := workflow.NewRunner(wf, conn, assetStorage, config.MaxTries, config.PollInterval)

	headersOk := handlers.AllowedHeaders([]string{"*"})
	originsOk := handlers.AllowedOrigins([]string{"*"})
	methodsOk := handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	s := http.Server{
		Addr:    ":" + config.AppPort,
		Handler: handlers.CORS(originsOk, headersOk, methodsOk)(wf.NewHandler()),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Logger(gctx).Sugar().Debugf("server starts on :%s", config.AppPort)
		if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("ListenAndServe: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return runner.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.Shutdown(sctx)
	})
	return g.Wait()
}
