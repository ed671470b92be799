package veld

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ExportFormat selects the document format produced by graph export.
type ExportFormat string

const (
	// ExportDOT produces a Graphviz DOT digraph.
	ExportDOT ExportFormat = "dot"
	// ExportJSON produces a structured JSON document.
	ExportJSON ExportFormat = "json"
	// ExportYAML produces a structured YAML document.
	ExportYAML ExportFormat = "yaml"
)

// GraphDocument is the structured form of an exported graph, consumed
// by external visualization tooling.
type GraphDocument struct {
	Nodes []GraphDocumentNode `json:"nodes" yaml:"nodes"`
	Edges []GraphDocumentEdge `json:"edges" yaml:"edges"`
}

// GraphDocumentNode is one node entry of an exported graph document.
type GraphDocumentNode struct {
	Name         string   `json:"name" yaml:"name"`
	Type         string   `json:"type" yaml:"type"`
	Scope        string   `json:"scope" yaml:"scope"`
	IsPrimary    bool     `json:"isPrimary" yaml:"isPrimary"`
	Dependencies []string `json:"dependencies" yaml:"dependencies"`
}

// GraphDocumentEdge is one edge entry of an exported graph document.
type GraphDocumentEdge struct {
	From         string `json:"from" yaml:"from"`
	To           string `json:"to" yaml:"to"`
	Relationship string `json:"relationship" yaml:"relationship"`
}

// Document builds the structured export document for the graph.
func (g *DependencyGraph) Document() *GraphDocument {
	doc := &GraphDocument{
		Nodes: make([]GraphDocumentNode, 0, len(g.insertion)),
		Edges: make([]GraphDocumentEdge, 0, len(g.edges)),
	}
	for _, name := range g.insertion {
		n := g.nodes[name]
		deps := n.Dependencies
		if deps == nil {
			deps = []string{}
		}
		doc.Nodes = append(doc.Nodes, GraphDocumentNode{
			Name:         n.Name,
			Type:         n.Type,
			Scope:        n.Scope.String(),
			IsPrimary:    n.Primary,
			Dependencies: deps,
		})
	}
	for _, e := range g.edges {
		doc.Edges = append(doc.Edges, GraphDocumentEdge{From: e.From, To: e.To, Relationship: e.Relationship})
	}
	return doc
}

// Export renders the graph in the requested format.
func (g *DependencyGraph) Export(format ExportFormat) (string, error) {
	switch format {
	case ExportDOT:
		return g.exportDOT(), nil
	case ExportJSON:
		data, err := json.MarshalIndent(g.Document(), "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to marshal graph to JSON: %w", err)
		}
		return string(data), nil
	case ExportYAML:
		data, err := yaml.Marshal(g.Document())
		if err != nil {
			return "", fmt.Errorf("failed to marshal graph to YAML: %w", err)
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownExportFormat, format)
	}
}

func (g *DependencyGraph) exportDOT() string {
	var b strings.Builder
	b.WriteString("digraph components {\n")
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  node [shape=box];\n")

	for _, name := range g.insertion {
		n := g.nodes[name]
		label := fmt.Sprintf(`%s\n%s`, n.Name, n.Scope)
		if n.Primary {
			label += `\nprimary`
		}
		fmt.Fprintf(&b, "  %q [label=\"%s\"];\n", n.Name, label)
	}
	for _, e := range g.edges {
		fmt.Fprintf(&b, "  %q -> %q [label=\"%s\"];\n", e.From, e.To, e.Relationship)
	}

	b.WriteString("}\n")
	return b.String()
}
