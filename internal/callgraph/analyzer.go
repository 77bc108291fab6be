package callgraph

import (
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/codelens-ai/codelens/internal/bytecode"
	lenserr "github.com/codelens-ai/codelens/internal/errors"
)

// Defaults for traversal bounds.
const (
	DefaultMaxDepth  = 5
	DefaultMaxNodes  = 500
	DefaultMaxChains = 10
)

// Config controls analyzer construction and traversal bounds.
type Config struct {
	ClassRoots  []string
	BasePackage string
	MaxDepth    int
	MaxNodes    int
	MaxChains   int

	// CachePath persists the built graph, e.g. <data>/graph/call-graph.bin.
	// Empty disables caching.
	CachePath string
}

// methodMeta is the per-method slice of a TypeDescriptor.
type methodMeta struct {
	Name       string
	Descriptor string
	Abstract   bool
	Line       int
	Throws     []string
	Catches    []string
}

// TypeDescriptor is the cached shape of one class.
type TypeDescriptor struct {
	Name        string
	SuperName   string
	Interfaces  []string
	IsInterface bool
	IsAbstract  bool
	SourceFile  string
	Methods     []methodMeta
}

func (t *TypeDescriptor) method(name string) (methodMeta, bool) {
	for _, m := range t.Methods {
		if m.Name == name {
			return m, true
		}
	}
	return methodMeta{}, false
}

// Analyzer owns the global forward/reverse graphs and the type and
// exception caches. Initialization runs once in the background; queries
// before completion see a partial graph but never block.
type Analyzer struct {
	cfg     Config
	scanner *bytecode.Scanner
	logger  *slog.Logger

	mu         sync.RWMutex
	forward    map[string]map[string]struct{}
	reverse    map[string]map[string]struct{}
	types      map[string]*TypeDescriptor
	methods    map[string][]MethodNode // short key -> nodes (overloads)
	qualified  map[string]MethodNode   // qualified key -> node
	exceptions map[string]*ExceptionNode

	readyCh chan struct{}
	initErr error
}

// NewAnalyzer creates an analyzer. Call Start to build the graph.
func NewAnalyzer(cfg Config, logger *slog.Logger) *Analyzer {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}
	if cfg.MaxNodes <= 0 {
		cfg.MaxNodes = DefaultMaxNodes
	}
	if cfg.MaxChains <= 0 {
		cfg.MaxChains = DefaultMaxChains
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{
		cfg:        cfg,
		scanner:    bytecode.NewScanner(cfg.ClassRoots, cfg.BasePackage, logger),
		logger:     logger,
		forward:    make(map[string]map[string]struct{}),
		reverse:    make(map[string]map[string]struct{}),
		types:      make(map[string]*TypeDescriptor),
		methods:    make(map[string][]MethodNode),
		qualified:  make(map[string]MethodNode),
		exceptions: make(map[string]*ExceptionNode),
		readyCh:    make(chan struct{}),
	}
}

// Start builds the graph in the background.
func (a *Analyzer) Start(ctx context.Context) {
	go func() {
		defer close(a.readyCh)
		if err := a.initialize(ctx); err != nil {
			a.initErr = err
			a.logger.Error("call graph initialization failed", "error", err)
		}
	}()
}

// Ready reports whether initialization has finished.
func (a *Analyzer) Ready() bool {
	select {
	case <-a.readyCh:
		return true
	default:
		return false
	}
}

// WaitReady blocks until initialization finishes or the context ends.
func (a *Analyzer) WaitReady(ctx context.Context) error {
	select {
	case <-a.readyCh:
		return a.initErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats summarizes the graph size.
type Stats struct {
	Types   int `json:"types"`
	Methods int `json:"methods"`
	Edges   int `json:"edges"`
}

// GraphStats reports the current graph size.
func (a *Analyzer) GraphStats() Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	edges := 0
	for _, callees := range a.forward {
		edges += len(callees)
	}
	return Stats{Types: len(a.types), Methods: len(a.qualified), Edges: edges}
}

// initialize loads the cached graph when present, otherwise scans classes
// and persists the result.
func (a *Analyzer) initialize(ctx context.Context) error {
	if a.cfg.CachePath != "" {
		if err := a.loadCache(a.cfg.CachePath); err == nil {
			a.logger.Info("call graph loaded from cache",
				"path", a.cfg.CachePath, "classes", len(a.types))
			return nil
		} else if !os.IsNotExist(err) {
			a.logger.Warn("call graph cache unreadable, rebuilding", "error", err)
		}
	}

	classes, err := a.scanner.Scan(ctx)
	if err != nil {
		return err
	}

	a.mu.Lock()
	for _, cf := range classes {
		a.indexClass(cf)
	}
	a.mu.Unlock()

	a.logger.Info("call graph built",
		"classes", len(classes), "methods", len(a.methods))

	if a.cfg.CachePath != "" {
		if err := a.saveCache(a.cfg.CachePath); err != nil {
			a.logger.Warn("call graph cache write failed", "error", err)
		}
	}
	return nil
}

// indexClass folds one parsed class into the caches. Caller holds a.mu.
func (a *Analyzer) indexClass(cf *bytecode.ClassFile) {
	td := &TypeDescriptor{
		Name:        cf.Name,
		SuperName:   cf.SuperName,
		Interfaces:  cf.Interfaces,
		IsInterface: cf.IsInterface(),
		IsAbstract:  cf.IsAbstract(),
		SourceFile:  cf.SourceFile,
	}

	for i := range cf.Methods {
		m := &cf.Methods[i]
		if m.IsSynthetic() {
			continue
		}
		td.Methods = append(td.Methods, methodMeta{
			Name:       m.Name,
			Descriptor: m.Descriptor,
			Abstract:   m.IsAbstract(),
			Line:       m.LineNumber,
			Throws:     m.ThrownTypes,
			Catches:    m.CatchTypes(),
		})

		node := MethodNode{
			ClassName:      cf.Name,
			MethodName:     m.Name,
			ParamSignature: paramSignature(m.Descriptor),
			IsInterface:    cf.IsInterface(),
			IsAbstract:     m.IsAbstract(),
			SourceFile:     cf.SourceFile,
			LineNumber:     m.LineNumber,
		}
		short := node.Key()
		a.methods[short] = append(a.methods[short], node)
		a.qualified[node.QualifiedKey()] = node

		for _, inv := range m.Invocations {
			callee := inv.Owner + "." + inv.Name
			qualifiedCallee := callee + paramSignature(inv.Descriptor)
			a.addEdgeLocked(short, callee, qualifiedCallee)
			a.addEdgeLocked(node.QualifiedKey(), callee, qualifiedCallee)
		}
	}
	a.types[cf.Name] = td
}

// addEdgeLocked records caller -> callee in both graph directions.
// Forward edges key on the caller as given; reverse edges are keyed
// under both the short and descriptor-qualified callee forms so a
// lookup by either form sees the same callers. Reverse values are
// short caller keys. Caller holds a.mu.
func (a *Analyzer) addEdgeLocked(caller, callee, qualifiedCallee string) {
	if a.forward[caller] == nil {
		a.forward[caller] = make(map[string]struct{})
	}
	a.forward[caller][callee] = struct{}{}

	shortCaller := caller
	if idx := strings.IndexByte(caller, '('); idx >= 0 {
		shortCaller = caller[:idx]
	}
	for _, key := range [...]string{callee, qualifiedCallee} {
		if key == "" {
			continue
		}
		if a.reverse[key] == nil {
			a.reverse[key] = make(map[string]struct{})
		}
		a.reverse[key][shortCaller] = struct{}{}
	}
}

// paramSignature reduces a JVM descriptor to its parameter part:
// "(ILjava/lang/String;)V" -> "(ILjava/lang/String;)".
func paramSignature(descriptor string) string {
	if idx := strings.IndexByte(descriptor, ')'); idx >= 0 {
		return descriptor[:idx+1]
	}
	return descriptor
}

// resolve finds the node for a method path, trying the qualified form
// first, then the first overload under the short key.
func (a *Analyzer) resolve(methodPath string) (MethodNode, bool) {
	if n, ok := a.qualified[methodPath]; ok {
		return n, true
	}
	if nodes := a.methods[methodPath]; len(nodes) > 0 {
		return nodes[0], true
	}
	return MethodNode{}, false
}

// AnalyzeMethod builds the forward call graph from a method, bounded by
// maxDepth (0 uses the configured default) and the node hard cap.
func (a *Analyzer) AnalyzeMethod(methodPath string, maxDepth int) (*CallGraph, error) {
	if maxDepth <= 0 {
		maxDepth = a.cfg.MaxDepth
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	root, ok := a.resolve(methodPath)
	if !ok {
		return nil, lenserr.New(lenserr.ErrCodeMethodNotFound,
			fmt.Sprintf("method %q not found in call graph", methodPath), nil)
	}

	graph := newCallGraph(root)
	visited := map[string]bool{root.Key(): true}

	type frame struct {
		node  MethodNode
		depth int
	}
	queue := []frame{{root, 0}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		if cur.depth >= maxDepth {
			continue
		}
		if graph.Size() >= a.cfg.MaxNodes {
			graph.Truncated = true
			break
		}

		for _, calleeKey := range a.sortedCallees(cur.node) {
			callee := a.nodeForKey(calleeKey)
			graph.addEdge(cur.node, callee)
			if graph.Size() >= a.cfg.MaxNodes {
				graph.Truncated = true
				break
			}

			next := []MethodNode{callee}
			if callee.IsInterface || callee.IsAbstract {
				for _, impl := range a.implementationsLocked(callee) {
					graph.addEdge(callee, impl)
					next = append(next, impl)
				}
			}
			for _, n := range next {
				if !visited[n.Key()] {
					visited[n.Key()] = true
					queue = append(queue, frame{n, cur.depth + 1})
				}
			}
		}
	}
	return graph, nil
}

// sortedCallees returns the forward edges of a node in stable order,
// merging both key forms.
func (a *Analyzer) sortedCallees(n MethodNode) []string {
	set := make(map[string]struct{})
	for key := range a.forward[n.Key()] {
		set[key] = struct{}{}
	}
	for key := range a.forward[n.QualifiedKey()] {
		set[key] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for key := range set {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

// nodeForKey resolves a short key to a known node, or synthesizes a bare
// node for methods outside the scanned base package.
func (a *Analyzer) nodeForKey(key string) MethodNode {
	if nodes := a.methods[key]; len(nodes) > 0 {
		return nodes[0]
	}
	className, methodName := splitKey(key)
	node := MethodNode{ClassName: className, MethodName: methodName}
	if td, ok := a.types[className]; ok {
		node.IsInterface = td.IsInterface
		node.SourceFile = td.SourceFile
		if m, ok := td.method(methodName); ok {
			node.IsAbstract = m.Abstract
			node.LineNumber = m.Line
			node.ParamSignature = paramSignature(m.Descriptor)
		}
	}
	return node
}

func splitKey(key string) (string, string) {
	if idx := strings.LastIndexByte(key, '.'); idx >= 0 {
		return key[:idx], key[idx+1:]
	}
	return "", key
}

// FindImplementations returns the concrete overrides of an interface or
// abstract method.
func (a *Analyzer) FindImplementations(methodPath string) ([]MethodNode, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	node, ok := a.resolve(methodPath)
	if !ok {
		return nil, lenserr.New(lenserr.ErrCodeMethodNotFound,
			fmt.Sprintf("method %q not found in call graph", methodPath), nil)
	}
	return a.implementationsLocked(node), nil
}

// implementationsLocked scans the type cache for concrete classes that
// implement the declaring interface (directly or transitively), extend the
// declaring abstract class, and define or inherit a concrete method.
// Caller holds a.mu.
func (a *Analyzer) implementationsLocked(abstract MethodNode) []MethodNode {
	var out []MethodNode
	for _, td := range a.types {
		if td.IsInterface {
			continue
		}
		if !a.typeDerivesFrom(td, abstract.ClassName) {
			continue
		}
		impl, ok := a.concreteMethod(td, abstract.MethodName)
		if !ok {
			continue
		}
		out = append(out, impl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// typeDerivesFrom reports whether td implements or extends target,
// following superclasses and transitive interface inheritance.
func (a *Analyzer) typeDerivesFrom(td *TypeDescriptor, target string) bool {
	seen := make(map[string]bool)
	var visit func(name string) bool
	visit = func(name string) bool {
		if name == "" || seen[name] {
			return false
		}
		seen[name] = true
		if name == target {
			return true
		}
		t, ok := a.types[name]
		if !ok {
			return false
		}
		for _, iface := range t.Interfaces {
			if visit(iface) {
				return true
			}
		}
		return visit(t.SuperName)
	}
	for _, iface := range td.Interfaces {
		if visit(iface) {
			return true
		}
	}
	return visit(td.SuperName)
}

// concreteMethod finds a non-abstract definition of name on td or an
// ancestor class.
func (a *Analyzer) concreteMethod(td *TypeDescriptor, name string) (MethodNode, bool) {
	for cur := td; cur != nil; {
		if m, ok := cur.method(name); ok && !m.Abstract {
			return MethodNode{
				ClassName:      cur.Name,
				MethodName:     name,
				ParamSignature: paramSignature(m.Descriptor),
				SourceFile:     cur.SourceFile,
				LineNumber:     m.Line,
			}, true
		}
		next, ok := a.types[cur.SuperName]
		if !ok {
			break
		}
		cur = next
	}
	return MethodNode{}, false
}

// Callers returns the short keys of methods invoking the given one.
// The method key may be short or descriptor-qualified.
func (a *Analyzer) Callers(methodKey string) []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, len(a.reverse[methodKey]))
	for key := range a.reverse[methodKey] {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

// graphSnapshot is the gob-persisted form of the built graph.
type graphSnapshot struct {
	Forward   map[string][]string
	Reverse   map[string][]string
	Types     map[string]*TypeDescriptor
	Methods   map[string][]MethodNode
	Qualified map[string]MethodNode
}

func (a *Analyzer) saveCache(path string) error {
	a.mu.RLock()
	snap := graphSnapshot{
		Forward:   flattenSets(a.forward),
		Reverse:   flattenSets(a.reverse),
		Types:     a.types,
		Methods:   a.methods,
		Qualified: a.qualified,
	}
	a.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := gob.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func (a *Analyzer) loadCache(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	var snap graphSnapshot
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.forward = expandSets(snap.Forward)
	a.reverse = expandSets(snap.Reverse)
	a.types = snap.Types
	a.methods = snap.Methods
	a.qualified = snap.Qualified
	return nil
}

func flattenSets(m map[string]map[string]struct{}) map[string][]string {
	out := make(map[string][]string, len(m))
	for key, set := range m {
		vals := make([]string, 0, len(set))
		for v := range set {
			vals = append(vals, v)
		}
		sort.Strings(vals)
		out[key] = vals
	}
	return out
}

func expandSets(m map[string][]string) map[string]map[string]struct{} {
	out := make(map[string]map[string]struct{}, len(m))
	for key, vals := range m {
		set := make(map[string]struct{}, len(vals))
		for _, v := range vals {
			set[v] = struct{}{}
		}
		out[key] = set
	}
	return out
}
