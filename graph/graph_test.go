package graph_test

import (
	"encoding/json"
	"os"
	"path"

	"github.com/onsi/gomega/types"
	"github.com/openeo-local/runner/graph"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("LoadArgument", func() {
	var final_arg, expected_arg graph.Arg
	var itShouldBeEqual = func(matcher func() types.GomegaMatcher) {
		It("should be equal", func() {
			Expect(final_arg).To(matcher())
		})
	}

	JustBeforeEach(func() {
		argb, err := json.Marshal(graph.ArgJSON{Arg: expected_arg})
		Expect(err).NotTo(HaveOccurred())
		var argJson graph.ArgJSON
		err = json.Unmarshal(argb, &argJson)
		Expect(err).NotTo(HaveOccurred())
		final_arg = argJson.Arg
	})

	Context("ArgNode", func() {
		BeforeEach(func() {
			expected_arg = graph.ArgNode("load")
		})
		itShouldBeEqual(func() types.GomegaMatcher { return Equal(expected_arg) })
	})

	Context("ArgParameter", func() {
		BeforeEach(func() {
			expected_arg = graph.ArgParameter("data")
		})
		itShouldBeEqual(func() types.GomegaMatcher { return Equal(expected_arg) })
	})

	Context("ArgValue", func() {
		BeforeEach(func() {
			expected_arg = graph.ArgValue(json.RawMessage(`42`))
		})
		itShouldBeEqual(func() types.GomegaMatcher { return Equal(expected_arg) })
	})

	Context("ArgArray", func() {
		BeforeEach(func() {
			expected_arg = graph.ArgArray{
				graph.ArgValue(json.RawMessage(`"2022-06-01"`)),
				graph.ArgValue(json.RawMessage(`null`)),
			}
		})
		itShouldBeEqual(func() types.GomegaMatcher { return Equal(expected_arg) })
	})

	Context("ArgObject", func() {
		BeforeEach(func() {
			expected_arg = graph.ArgObject{
				"west": graph.ArgValue(json.RawMessage(`5.05`)),
				"east": graph.ArgValue(json.RawMessage(`5.1`)),
			}
		})
		itShouldBeEqual(func() types.GomegaMatcher { return Equal(expected_arg) })
	})
})

var _ = Describe("LoadGraph", func() {
	var (
		jsonPath    string
		final_graph *graph.ProcessGraph
		err         error
		wd, _       = os.Getwd()
	)
	var itShouldNotRaiseError = func() {
		It("should not raise error", func() {
			Expect(err).To(BeNil())
		})
	}

	JustBeforeEach(func() {
		var byteValue []byte
		byteValue, err = os.ReadFile(path.Join(wd, jsonPath))
		Expect(err).NotTo(HaveOccurred())
		final_graph, err = graph.FromJSON(byteValue)
	})

	Describe("NDVI", func() {
		BeforeEach(func() {
			jsonPath = "library/NDVI.json"
		})
		itShouldNotRaiseError()
		It("should have three nodes", func() {
			Expect(final_graph.Nodes).To(HaveLen(3))
		})
		It("should have the save node as result", func() {
			result, err := final_graph.ResultNode()
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal("save"))
		})
		It("should decode the reducer as a child graph", func() {
			reducer, ok := final_graph.Nodes["ndvi"].Arguments["reducer"].(graph.ArgGraph)
			Expect(ok).To(BeTrue())
			Expect(reducer.Nodes).To(HaveLen(5))
		})
		It("should sort dependencies first", func() {
			sorted, err := final_graph.SortedNodes()
			Expect(err).NotTo(HaveOccurred())
			Expect(sorted).To(Equal([]string{"load", "ndvi", "save"}))
		})
	})

	Describe("LoadSave (flat form)", func() {
		BeforeEach(func() {
			jsonPath = "library/LoadSave.json"
		})
		itShouldNotRaiseError()
		It("should have two nodes", func() {
			Expect(final_graph.Nodes).To(HaveLen(2))
		})
	})

	Describe("MaxTime", func() {
		BeforeEach(func() {
			jsonPath = "library/MaxTime.json"
		})
		itShouldNotRaiseError()
		It("should decode the parameters", func() {
			Expect(final_graph.Parameters).To(HaveLen(2))
			Expect(final_graph.Parameters[0].Name).To(Equal("collection"))
		})
	})
})

var _ = Describe("ValidateGraph", func() {
	var (
		jsonGraph string
		err       error
	)

	JustBeforeEach(func() {
		_, err = graph.FromJSON([]byte(jsonGraph))
	})

	Context("no result node", func() {
		BeforeEach(func() {
			jsonGraph = `{"load": {"process_id": "load_collection", "arguments": {"id": "c"}}}`
		})
		It("should raise an error", func() {
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("no result node"))
		})
	})

	Context("more than one result node", func() {
		BeforeEach(func() {
			jsonGraph = `{
				"a": {"process_id": "constant", "arguments": {"x": 1}, "result": true},
				"b": {"process_id": "constant", "arguments": {"x": 2}, "result": true}}`
		})
		It("should raise an error", func() {
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("more than one result node"))
		})
	})

	Context("unresolved node reference", func() {
		BeforeEach(func() {
			jsonGraph = `{"save": {"process_id": "save_result", "arguments": {"data": {"from_node": "missing"}}, "result": true}}`
		})
		It("should raise an error", func() {
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("'missing' not found"))
		})
	})

	Context("missing process_id", func() {
		BeforeEach(func() {
			jsonGraph = `{"save": {"arguments": {}, "result": true}}`
		})
		It("should raise an error", func() {
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("no process_id"))
		})
	})

	Context("cycle", func() {
		BeforeEach(func() {
			jsonGraph = `{
				"a": {"process_id": "add", "arguments": {"x": {"from_node": "b"}}},
				"b": {"process_id": "add", "arguments": {"x": {"from_node": "a"}}, "result": true}}`
		})
		It("should raise an error", func() {
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("cycle"))
		})
	})

	Context("invalid temporal extent", func() {
		BeforeEach(func() {
			jsonGraph = `{
				"load": {"process_id": "load_collection", "arguments": {"id": "c", "temporal_extent": ["not a date", null]}},
				"save": {"process_id": "save_result", "arguments": {"data": {"from_node": "load"}}, "result": true}}`
		})
		It("should raise an error", func() {
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("invalid date"))
		})
	})

	Context("open temporal extent", func() {
		BeforeEach(func() {
			jsonGraph = `{
				"load": {"process_id": "load_collection", "arguments": {"id": "c", "temporal_extent": ["2021-01-01", null]}},
				"save": {"process_id": "save_result", "arguments": {"data": {"from_node": "load"}}, "result": true}}`
		})
		It("should not raise an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Context("empty graph", func() {
		BeforeEach(func() {
			jsonGraph = `{}`
		})
		It("should raise an error", func() {
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("empty process graph"))
		})
	})
})

var _ = Describe("MarshalGraph", func() {
	It("should round-trip through the normalized document form", func() {
		g, err := graph.FromFile("library/NDVI.json")
		Expect(err).NotTo(HaveOccurred())
		data, err := json.Marshal(g)
		Expect(err).NotTo(HaveOccurred())
		g2, err := graph.FromJSON(data)
		Expect(err).NotTo(HaveOccurred())
		Expect(g2.Nodes).To(HaveLen(len(g.Nodes)))
		sorted1, _ := g.SortedNodes()
		sorted2, _ := g2.SortedNodes()
		Expect(sorted2).To(Equal(sorted1))
	})
})
