package graph

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/araddon/dateparse"
)

const (
	loadCollection = "load_collection"
	saveResult     = "save_result"
)

// Arg is an argument of a process node.
// It is either a raw JSON value (ArgValue), a reference to another node
// (ArgNode), a reference to a parameter of the enclosing callback
// (ArgParameter), a child process graph (ArgGraph) or a container of Args
// (ArgArray, ArgObject).
type Arg interface{}

type ArgValue json.RawMessage // raw JSON literal
type ArgNode string           // result of another node of the same graph
type ArgParameter string      // parameter of the enclosing callback
type ArgArray []Arg
type ArgObject map[string]Arg

// ArgGraph is a child process graph (a callback, e.g. the reducer of reduce_dimension)
type ArgGraph struct {
	*ProcessGraph
}

// Parameter declares a parameter of a (child) process graph
type Parameter struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Optional    bool            `json:"optional,omitempty"`
	Default     json.RawMessage `json:"default,omitempty"`
}

// Node is one process invocation of a process graph
type Node struct {
	ProcessID   string
	Description string
	Arguments   map[string]Arg
	Result      bool
}

// ProcessGraph is an openEO process graph: a set of process nodes referencing
// each other by name. It is decoded only as far as needed to validate the
// references and stage the graph for the execution engine: process semantics
// stay opaque.
type ProcessGraph struct {
	Nodes      map[string]Node
	Parameters []Parameter
}

// FromJSON decodes and validates a process graph
func FromJSON(data []byte) (*ProcessGraph, error) {
	g := &ProcessGraph{}
	if err := json.Unmarshal(data, g); err != nil {
		return nil, fmt.Errorf("FromJSON: %w", err)
	}
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("FromJSON.%w", err)
	}
	return g, nil
}

// FromFile reads, decodes and validates a process graph from a JSON file
func FromFile(graphFile string) (*ProcessGraph, error) {
	data, err := os.ReadFile(graphFile)
	if err != nil {
		return nil, fmt.Errorf("FromFile[%s]: %w", graphFile, err)
	}
	g, err := FromJSON(data)
	if err != nil {
		return nil, fmt.Errorf("FromFile[%s].%w", graphFile, err)
	}
	return g, nil
}

// ResultNode returns the name of the node flagged as result
func (g *ProcessGraph) ResultNode() (string, error) {
	result := ""
	for name, node := range g.Nodes {
		if node.Result {
			if result != "" {
				return "", fmt.Errorf("ResultNode: more than one result node (%s, %s)", result, name)
			}
			result = name
		}
	}
	if result == "" {
		return "", fmt.Errorf("ResultNode: no result node")
	}
	return result, nil
}

// Validate checks the structure of the graph: exactly one result node,
// resolvable node references, no cycle, valid temporal extents.
// Child graphs are validated recursively.
func (g *ProcessGraph) Validate() error {
	if len(g.Nodes) == 0 {
		return fmt.Errorf("Validate: empty process graph")
	}
	if _, err := g.ResultNode(); err != nil {
		return fmt.Errorf("Validate.%w", err)
	}

	for name, node := range g.Nodes {
		if node.ProcessID == "" {
			return fmt.Errorf("Validate: node '%s' has no process_id", name)
		}
		for param, arg := range node.Arguments {
			if err := g.validateArg(arg); err != nil {
				return fmt.Errorf("Validate[%s.%s].%w", name, param, err)
			}
		}
		if node.ProcessID == loadCollection {
			if err := validateTemporalExtent(node.Arguments["temporal_extent"]); err != nil {
				return fmt.Errorf("Validate[%s].%w", name, err)
			}
		}
	}

	// Cycle check
	if _, err := g.SortedNodes(); err != nil {
		return fmt.Errorf("Validate.%w", err)
	}
	return nil
}

func (g *ProcessGraph) validateArg(arg Arg) error {
	switch a := arg.(type) {
	case ArgNode:
		if _, ok := g.Nodes[string(a)]; !ok {
			return fmt.Errorf("validateArg: node '%s' not found in process graph", a)
		}
	case ArgParameter:
		if a == "" {
			return fmt.Errorf("validateArg: empty parameter reference")
		}
	case ArgGraph:
		if err := a.Validate(); err != nil {
			return err
		}
	case ArgArray:
		for _, sub := range a {
			if err := g.validateArg(sub); err != nil {
				return err
			}
		}
	case ArgObject:
		for _, sub := range a {
			if err := g.validateArg(sub); err != nil {
				return err
			}
		}
	case ArgValue:
	default:
		return fmt.Errorf("validateArg: unknown Arg type: %v", a)
	}
	return nil
}

// validateTemporalExtent checks that the bounds of a load_collection
// temporal_extent are parseable dates (null bounds are open intervals)
func validateTemporalExtent(arg Arg) error {
	extent, ok := arg.(ArgArray)
	if !ok {
		return nil
	}
	for _, bound := range extent {
		v, ok := bound.(ArgValue)
		if !ok {
			continue
		}
		var date string
		if err := json.Unmarshal(json.RawMessage(v), &date); err != nil || date == "" {
			continue // null or non-string bound, left to the engine
		}
		if _, err := dateparse.ParseAny(date); err != nil {
			return fmt.Errorf("validateTemporalExtent: invalid date '%s': %w", date, err)
		}
	}
	return nil
}

// dependencies returns the names of the nodes referenced by the arguments of
// the node. References inside child graphs belong to the child namespace and
// are not reported.
func (n Node) dependencies() []string {
	deps := map[string]struct{}{}
	var walk func(Arg)
	walk = func(arg Arg) {
		switch a := arg.(type) {
		case ArgNode:
			deps[string(a)] = struct{}{}
		case ArgArray:
			for _, sub := range a {
				walk(sub)
			}
		case ArgObject:
			for _, sub := range a {
				walk(sub)
			}
		}
	}
	for _, arg := range n.Arguments {
		walk(arg)
	}
	names := make([]string, 0, len(deps))
	for name := range deps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SortedNodes returns the node names in a deterministic topological order
// (dependencies first) or an error if the graph has a cycle
func (g *ProcessGraph) SortedNodes() ([]string, error) {
	const (
		white = iota // unvisited
		gray         // on the path
		black        // done
	)
	colors := make(map[string]int, len(g.Nodes))
	sorted := make([]string, 0, len(g.Nodes))

	var visit func(name string) error
	visit = func(name string) error {
		switch colors[name] {
		case gray:
			return fmt.Errorf("SortedNodes: cycle through node '%s'", name)
		case black:
			return nil
		}
		colors[name] = gray
		for _, dep := range g.Nodes[name].dependencies() {
			if _, ok := g.Nodes[dep]; !ok {
				continue // reported by Validate
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		colors[name] = black
		sorted = append(sorted, name)
		return nil
	}

	names := make([]string, 0, len(g.Nodes))
	for name := range g.Nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return sorted, nil
}

func (g *ProcessGraph) Summary() string {
	sorted, err := g.SortedNodes()
	if err != nil {
		sorted = nil
		for name := range g.Nodes {
			sorted = append(sorted, name)
		}
		sort.Strings(sorted)
	}
	s := fmt.Sprintf("- %d nodes\n", len(g.Nodes))
	for _, name := range sorted {
		node := g.Nodes[name]
		marker := "*"
		if !node.Result {
			marker = " "
		}
		s += fmt.Sprintf("  %s %-20s %s\n", marker, name, node.ProcessID)
	}
	return s
}
