// Package callgraph builds and caches a method-level call graph and an
// exception hierarchy from compiled classes, and answers forward
// call-path and reverse exception-propagation queries.
package callgraph

import (
	"fmt"
	"strings"
)

// MethodNode identifies one method. Equality is by the
// (class, method, params) triple.
type MethodNode struct {
	ClassName      string `json:"class_name"`
	MethodName     string `json:"method_name"`
	ParamSignature string `json:"param_signature"`
	IsInterface    bool   `json:"is_interface"`
	IsAbstract     bool   `json:"is_abstract"`
	SourceFile     string `json:"source_file,omitempty"`
	LineNumber     int    `json:"line_number,omitempty"`
}

// Key is the short method key: class.method.
func (n MethodNode) Key() string {
	return n.ClassName + "." + n.MethodName
}

// QualifiedKey appends the parameter signature for overload disambiguation.
func (n MethodNode) QualifiedKey() string {
	return n.Key() + n.ParamSignature
}

func (n MethodNode) String() string {
	return fmt.Sprintf("%s.%s%s", simpleName(n.ClassName), n.MethodName, n.ParamSignature)
}

// CallGraph is a per-query directed graph rooted at the analyzed method.
type CallGraph struct {
	Root      MethodNode            `json:"root"`
	Nodes     map[string]MethodNode `json:"nodes"` // by short key
	Edges     map[string][]string   `json:"edges"` // caller key -> callee keys, no duplicates
	Truncated bool                  `json:"truncated"`
}

func newCallGraph(root MethodNode) *CallGraph {
	g := &CallGraph{
		Root:  root,
		Nodes: make(map[string]MethodNode),
		Edges: make(map[string][]string),
	}
	g.Nodes[root.Key()] = root
	return g
}

// addEdge inserts a call edge, ignoring duplicates.
func (g *CallGraph) addEdge(from, to MethodNode) {
	g.Nodes[from.Key()] = from
	g.Nodes[to.Key()] = to
	for _, existing := range g.Edges[from.Key()] {
		if existing == to.Key() {
			return
		}
	}
	g.Edges[from.Key()] = append(g.Edges[from.Key()], to.Key())
}

// Size returns the node count.
func (g *CallGraph) Size() int { return len(g.Nodes) }

// ExceptionNode describes one exception class and its superclass chain up
// to the Throwable root.
type ExceptionNode struct {
	ClassName string   `json:"class_name"`
	Hierarchy []string `json:"hierarchy"` // self first, root last
	Checked   bool     `json:"checked"`
}

// ChainAction labels a node in a propagation chain.
type ChainAction string

const (
	ActionThrows     ChainAction = "THROWS"
	ActionCatches    ChainAction = "CATCHES"
	ActionPropagates ChainAction = "PROPAGATES"
)

// ChainNode is one step in an exception propagation chain.
type ChainNode struct {
	Component string      `json:"component"`
	Action    ChainAction `json:"action"`
	Location  string      `json:"location"`
	Details   string      `json:"details,omitempty"`
}

// PropagationChain traces one exception from its throw site up the
// reverse call graph to the first handler or the depth bound.
type PropagationChain struct {
	Exception string      `json:"exception"`
	Nodes     []ChainNode `json:"nodes"`
}

// simpleName returns the class name without its package.
func simpleName(className string) string {
	if idx := strings.LastIndex(className, "."); idx >= 0 {
		return className[idx+1:]
	}
	return className
}
