// Package local executes openEO process graphs against local resources.
// The datacube computation itself is delegated to an external engine binary:
// the connection stages the graph in a run directory, invokes the engine and
// collects what it produced.
package local

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	"github.com/openeo-local/runner/graph"
	"github.com/openeo-local/runner/service"
	"github.com/openeo-local/runner/service/log"
	"go.uber.org/zap/zapcore"
)

const (
	graphFileName  = "process_graph.json"
	reportFileName = "result.json"
)

// DefaultConfig returns the basic engine configuration
func DefaultConfig() map[string]string {
	return map[string]string{
		"engine_cpu_parallelism": "1",
		"output_format":          "netCDF",
	}
}

// Option configures a Connection
type Option func(*Connection)

// WithEngine overrides the engine binary (default: ENGINEPATH env)
func WithEngine(engine string) Option {
	return func(c *Connection) { c.engine = engine }
}

// WithConfig overrides engine configuration entries
func WithConfig(config map[string]string) Option {
	return func(c *Connection) {
		for k, v := range config {
			c.config[k] = v
		}
	}
}

// Connection is a local execution context rooted at a working directory.
// It is created once per run and is not persisted.
type Connection struct {
	workdir string
	engine  string
	config  map[string]string
}

// New creates a Connection rooted at workdir, checking the directory and the
// engine binary. The workdir is made absolute so that the paths handed to the
// engine stay valid whatever directory it is run from.
func New(ctx context.Context, workdir string, opts ...Option) (*Connection, error) {
	workdir, err := filepath.Abs(workdir)
	if err != nil {
		return nil, fmt.Errorf("New: workdir: %w", err)
	}
	conn := &Connection{
		workdir: workdir,
		engine:  service.Getenv("ENGINEPATH", "/usr/local/bin/openeo-engine"),
		config:  DefaultConfig(),
	}
	for _, opt := range opts {
		opt(conn)
	}

	fi, err := os.Stat(conn.workdir)
	if err != nil {
		return nil, fmt.Errorf("New: workdir: %w", err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("New: workdir is not a directory: %s", conn.workdir)
	}

	if engine, err := exec.LookPath(conn.engine); err != nil {
		return nil, fmt.Errorf("New: engine not found: %s", conn.engine)
	} else {
		conn.engine = engine
	}
	return conn, nil
}

// Workdir returns the root directory of the connection
func (c *Connection) Workdir() string {
	return c.workdir
}

// DataCube is an executable unit: a validated process graph staged in a run
// directory, ready to be handed to the engine
type DataCube struct {
	Graph     *graph.ProcessGraph
	runDir    string
	graphFile string
}

// RunDir returns the run directory of the cube
func (cube *DataCube) RunDir() string {
	return cube.runDir
}

// Clean removes the run directory and everything the engine left in it
func (cube *DataCube) Clean() error {
	return os.RemoveAll(cube.runDir)
}

// DataCubeFromJSON decodes, validates and stages a process graph
func (c *Connection) DataCubeFromJSON(data []byte) (*DataCube, error) {
	g, err := graph.FromJSON(data)
	if err != nil {
		return nil, fmt.Errorf("DataCubeFromJSON.%w", err)
	}
	return c.DataCubeFromGraph(g)
}

// DataCubeFromGraph stages a validated process graph into a uuid-named run
// directory under the workdir
func (c *Connection) DataCubeFromGraph(g *graph.ProcessGraph) (*DataCube, error) {
	runDir := filepath.Join(c.workdir, uuid.New().String())
	if err := os.MkdirAll(runDir, 0766); err != nil {
		return nil, service.MakeTemporary(fmt.Errorf("DataCubeFromGraph: make directory %s: %w", runDir, err))
	}

	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		os.RemoveAll(runDir)
		return nil, fmt.Errorf("DataCubeFromGraph.Marshal: %w", err)
	}
	graphFile := filepath.Join(runDir, graphFileName)
	if err := os.WriteFile(graphFile, data, 0644); err != nil {
		os.RemoveAll(runDir)
		return nil, service.MakeTemporary(fmt.Errorf("DataCubeFromGraph: %w", err))
	}

	return &DataCube{Graph: g, runDir: runDir, graphFile: graphFile}, nil
}

// Result is the outcome of an execution. The payload is opaque: the engine
// report is forwarded as-is and the assets are whatever files the engine
// left in the run directory.
type Result struct {
	Assets []string        `json:"assets"`
	Report json.RawMessage `json:"report,omitempty"`
}

// Execute runs the engine on the staged cube. The output path is forwarded to
// the engine, which may or may not write to it: the connection itself never
// does.
func (c *Connection) Execute(ctx context.Context, cube *DataCube, outPath string) (*Result, error) {
	args := c.engineArgs(cube, outPath)
	cmd := exec.Command(c.engine, args...)
	cmd.Dir = cube.runDir

	filter := &EngineLogFilter{}
	log.Logger(ctx).Sugar().Debug(cmdToString(cmd))
	if err := log.Exec(ctx, cmd, log.StdoutLevel(zapcore.DebugLevel), log.StdoutFilter(filter), log.StderrFilter(filter)); err != nil {
		return nil, fmt.Errorf("execute[%s]: %w", cmdToString(cmd), filter.WrapError(err))
	}

	return c.collectResult(cube)
}

// engineArgs builds the engine command line: staged graph, output path and
// the configuration entries in a deterministic order
func (c *Connection) engineArgs(cube *DataCube, outPath string) []string {
	args := []string{
		"--pg=" + cube.graphFile,
		"--out=" + outPath,
		"--workdir=" + cube.runDir,
	}
	keys := make([]string, 0, len(c.config))
	for k := range c.config {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, fmt.Sprintf("--%s=%s", k, c.config[k]))
	}
	return args
}

// collectResult lists the files the engine produced in the run directory and
// loads its report, if any
func (c *Connection) collectResult(cube *DataCube) (*Result, error) {
	res := &Result{}

	files, err := os.ReadDir(cube.runDir)
	if err != nil {
		return nil, service.MakeTemporary(fmt.Errorf("collectResult: %w", err))
	}
	for _, f := range files {
		switch f.Name() {
		case graphFileName:
		case reportFileName:
			report, err := os.ReadFile(filepath.Join(cube.runDir, reportFileName))
			if err != nil {
				return nil, service.MakeTemporary(fmt.Errorf("collectResult: %w", err))
			}
			res.Report = report
		default:
			res.Assets = append(res.Assets, filepath.Join(cube.runDir, f.Name()))
		}
	}
	sort.Strings(res.Assets)
	return res, nil
}

func cmdToString(cmd *exec.Cmd) string {
	s := ""
	for _, a := range cmd.Args {
		s += " " + a
	}
	return s
}
