package graph

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ArgJSON wraps an Arg for structural JSON decoding: objects holding a
// "from_node", "from_parameter" or "process_graph" key are references, other
// containers are decoded recursively, scalars stay raw.
type ArgJSON struct {
	Arg
}

func (a *ArgJSON) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 {
		return fmt.Errorf("UnmarshalJSON: empty argument")
	}

	switch trimmed[0] {
	case '{':
		ref := struct {
			FromNode      *string         `json:"from_node"`
			FromParameter *string         `json:"from_parameter"`
			ProcessGraph  json.RawMessage `json:"process_graph"`
		}{}
		if err := json.Unmarshal(data, &ref); err != nil {
			return err
		}
		switch {
		case ref.FromNode != nil:
			a.Arg = ArgNode(*ref.FromNode)
		case ref.FromParameter != nil:
			a.Arg = ArgParameter(*ref.FromParameter)
		case ref.ProcessGraph != nil:
			child := &ProcessGraph{}
			if err := json.Unmarshal(data, child); err != nil {
				return err
			}
			a.Arg = ArgGraph{child}
		default:
			var obj map[string]ArgJSON
			if err := json.Unmarshal(data, &obj); err != nil {
				return err
			}
			args := ArgObject{}
			for k, v := range obj {
				args[k] = v.Arg
			}
			a.Arg = args
		}

	case '[':
		var arr []ArgJSON
		if err := json.Unmarshal(data, &arr); err != nil {
			return err
		}
		args := make(ArgArray, len(arr))
		for i, v := range arr {
			args[i] = v.Arg
		}
		a.Arg = args

	default:
		raw := make(json.RawMessage, len(data))
		copy(raw, data)
		a.Arg = ArgValue(raw)
	}
	return nil
}

func (a ArgJSON) MarshalJSON() ([]byte, error) {
	return marshalArg(a.Arg)
}

func marshalArg(arg Arg) ([]byte, error) {
	switch v := arg.(type) {
	case ArgValue:
		return json.RawMessage(v).MarshalJSON()
	case ArgNode:
		return json.Marshal(map[string]string{"from_node": string(v)})
	case ArgParameter:
		return json.Marshal(map[string]string{"from_parameter": string(v)})
	case ArgGraph:
		return json.Marshal(v.ProcessGraph)
	case ArgArray:
		arr := make([]ArgJSON, len(v))
		for i, sub := range v {
			arr[i] = ArgJSON{sub}
		}
		return json.Marshal(arr)
	case ArgObject:
		obj := make(map[string]ArgJSON, len(v))
		for k, sub := range v {
			obj[k] = ArgJSON{sub}
		}
		return json.Marshal(obj)
	case nil:
		return []byte("null"), nil
	}
	return nil, fmt.Errorf("marshalArg: unknown Arg type: %v", arg)
}

func (n *Node) UnmarshalJSON(data []byte) error {
	res := struct {
		ProcessID   string             `json:"process_id"`
		Description string             `json:"description"`
		Arguments   map[string]ArgJSON `json:"arguments"`
		Result      bool               `json:"result"`
	}{}
	if err := json.Unmarshal(data, &res); err != nil {
		return err
	}

	*n = Node{
		ProcessID:   res.ProcessID,
		Description: res.Description,
		Arguments:   map[string]Arg{},
		Result:      res.Result,
	}
	for k, v := range res.Arguments {
		n.Arguments[k] = v.Arg
	}
	return nil
}

func (n Node) MarshalJSON() ([]byte, error) {
	args := make(map[string]ArgJSON, len(n.Arguments))
	for k, v := range n.Arguments {
		args[k] = ArgJSON{v}
	}
	return json.Marshal(struct {
		ProcessID   string             `json:"process_id"`
		Description string             `json:"description,omitempty"`
		Arguments   map[string]ArgJSON `json:"arguments"`
		Result      bool               `json:"result,omitempty"`
	}{n.ProcessID, n.Description, args, n.Result})
}

// UnmarshalJSON accepts both the process document form ({"process_graph":
// {...}, "parameters": [...]}) and the flat node-map form
func (g *ProcessGraph) UnmarshalJSON(data []byte) error {
	doc := struct {
		ProcessGraph map[string]Node `json:"process_graph"`
		Parameters   []Parameter     `json:"parameters"`
	}{}
	if err := json.Unmarshal(data, &doc); err == nil && doc.ProcessGraph != nil {
		g.Nodes = doc.ProcessGraph
		g.Parameters = doc.Parameters
		return nil
	}

	var nodes map[string]Node
	if err := json.Unmarshal(data, &nodes); err != nil {
		return err
	}
	g.Nodes = nodes
	g.Parameters = nil
	return nil
}

// MarshalJSON encodes the normalized document form, the one staged for the
// execution engine
func (g *ProcessGraph) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ProcessGraph map[string]Node `json:"process_graph"`
		Parameters   []Parameter     `json:"parameters,omitempty"`
	}{g.Nodes, g.Parameters})
}
