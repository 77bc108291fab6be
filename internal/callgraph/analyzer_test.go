package callgraph

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codelens-ai/codelens/internal/bytecode"
)

func class(name, super string, flags uint16, ifaces []string, methods ...bytecode.Method) *bytecode.ClassFile {
	return &bytecode.ClassFile{
		Name:        name,
		SuperName:   super,
		Interfaces:  ifaces,
		AccessFlags: flags,
		SourceFile:  simpleName(name) + ".java",
		Methods:     methods,
	}
}

func method(name string, line int, invocations ...bytecode.Invocation) bytecode.Method {
	return bytecode.Method{
		Name:        name,
		Descriptor:  "()V",
		LineNumber:  line,
		Invocations: invocations,
	}
}

func call(owner, name string, line int) bytecode.Invocation {
	return bytecode.Invocation{Owner: owner, Name: name, Descriptor: "()V", Opcode: bytecode.OpInvokeVirtual, Line: line}
}

// testAnalyzer builds the fixture application:
//
//	Controller.handle -> Service.process (interface)
//	ServiceImpl implements Service; process -> Repo.save
//	Repo.save declares throws DataException; ServiceImpl catches it
//	Orphan.run -> Missing.gone (outside the scanned set)
func testAnalyzer(t *testing.T, cfg Config) *Analyzer {
	t.Helper()
	a := NewAnalyzer(cfg, nil)

	serviceProcess := bytecode.Method{Name: "process", Descriptor: "()V", AccessFlags: bytecode.AccAbstract}
	implProcess := method("process", 20, call("com.app.Repo", "save", 25))
	implProcess.TryCatchBlocks = []bytecode.TryCatchBlock{{CatchType: "com.app.DataException"}}

	repoSave := method("save", 40)
	repoSave.ThrownTypes = []string{"com.app.DataException"}

	loaderLoad := method("load", 60)
	loaderLoad.ThrownTypes = []string{"com.app.FastException"}

	classes := []*bytecode.ClassFile{
		class("com.app.Service", "java.lang.Object", bytecode.AccInterface|bytecode.AccAbstract, nil, serviceProcess),
		class("com.app.ServiceImpl", "java.lang.Object", 0, []string{"com.app.Service"}, implProcess),
		class("com.app.Controller", "java.lang.Object", 0, nil,
			method("handle", 10, bytecode.Invocation{Owner: "com.app.Service", Name: "process", Descriptor: "()V", Opcode: bytecode.OpInvokeInterface, Line: 12})),
		class("com.app.Repo", "java.lang.Object", 0, nil, repoSave),
		class("com.app.Loader", "java.lang.Object", 0, nil, loaderLoad),
		class("com.app.Caller", "java.lang.Object", 0, nil,
			method("fetch", 70, call("com.app.Loader", "load", 72))),
		class("com.app.DataException", "java.lang.Exception", 0, nil),
		class("com.app.FastException", "java.lang.RuntimeException", 0, nil),
	}

	a.mu.Lock()
	for _, cf := range classes {
		a.indexClass(cf)
	}
	a.mu.Unlock()
	return a
}

func TestAnalyzeMethod_ExpandsInterfaceToImplementation(t *testing.T) {
	a := testAnalyzer(t, Config{})

	g, err := a.AnalyzeMethod("com.app.Controller.handle", 0)
	require.NoError(t, err)

	assert.Equal(t, "com.app.Controller.handle", g.Root.Key())
	assert.Contains(t, g.Edges["com.app.Controller.handle"], "com.app.Service.process")
	// Dynamic dispatch edge to the concrete implementation.
	assert.Contains(t, g.Edges["com.app.Service.process"], "com.app.ServiceImpl.process")
	// Traversal continues through the implementation.
	assert.Contains(t, g.Edges["com.app.ServiceImpl.process"], "com.app.Repo.save")
	assert.False(t, g.Truncated)
}

func TestAnalyzeMethod_DepthBound(t *testing.T) {
	a := testAnalyzer(t, Config{})

	g, err := a.AnalyzeMethod("com.app.Controller.handle", 1)
	require.NoError(t, err)
	// Depth 1 stops after the first expansion: Repo.save is out of reach.
	assert.NotContains(t, g.Nodes, "com.app.Repo.save")
}

func TestAnalyzeMethod_NodeCapTruncates(t *testing.T) {
	a := testAnalyzer(t, Config{MaxNodes: 2})

	g, err := a.AnalyzeMethod("com.app.Controller.handle", 0)
	require.NoError(t, err)
	assert.True(t, g.Truncated)
	assert.LessOrEqual(t, g.Size(), 3)
}

func TestAnalyzeMethod_UnknownMethod(t *testing.T) {
	a := testAnalyzer(t, Config{})
	_, err := a.AnalyzeMethod("com.app.Nope.missing", 0)
	assert.Error(t, err)
}

func TestAnalyzeMethod_CycleSafe(t *testing.T) {
	a := NewAnalyzer(Config{}, nil)
	a.mu.Lock()
	a.indexClass(class("com.app.A", "java.lang.Object", 0, nil,
		method("ping", 1, call("com.app.B", "pong", 2))))
	a.indexClass(class("com.app.B", "java.lang.Object", 0, nil,
		method("pong", 1, call("com.app.A", "ping", 2))))
	a.mu.Unlock()

	g, err := a.AnalyzeMethod("com.app.A.ping", 10)
	require.NoError(t, err)
	assert.Equal(t, 2, g.Size())
}

func TestFindImplementations(t *testing.T) {
	a := testAnalyzer(t, Config{})

	impls, err := a.FindImplementations("com.app.Service.process")
	require.NoError(t, err)
	require.Len(t, impls, 1)
	assert.Equal(t, "com.app.ServiceImpl", impls[0].ClassName)
	assert.Equal(t, "process", impls[0].MethodName)
}

func TestCallers_ReverseGraph(t *testing.T) {
	a := testAnalyzer(t, Config{})
	assert.Equal(t, []string{"com.app.ServiceImpl.process"}, a.Callers("com.app.Repo.save"))
	assert.Equal(t, []string{"com.app.Controller.handle"}, a.Callers("com.app.Service.process"))
}

func TestCallers_QualifiedKey(t *testing.T) {
	a := testAnalyzer(t, Config{})
	// Both callee key forms see the same reverse edges.
	assert.Equal(t, []string{"com.app.ServiceImpl.process"}, a.Callers("com.app.Repo.save()"))
	assert.Equal(t, a.Callers("com.app.Service.process"), a.Callers("com.app.Service.process()"))
}

func TestAnalyzeExceptionHierarchy_Checked(t *testing.T) {
	a := testAnalyzer(t, Config{})

	node := a.AnalyzeExceptionHierarchy("com.app.DataException")
	assert.Equal(t, []string{
		"com.app.DataException", "java.lang.Exception", "java.lang.Throwable",
	}, node.Hierarchy)
	assert.True(t, node.Checked)

	// Memoized.
	assert.Same(t, node, a.AnalyzeExceptionHierarchy("com.app.DataException"))
}

func TestAnalyzeExceptionHierarchy_Unchecked(t *testing.T) {
	a := testAnalyzer(t, Config{})

	node := a.AnalyzeExceptionHierarchy("com.app.FastException")
	assert.False(t, node.Checked)
	assert.Contains(t, node.Hierarchy, "java.lang.RuntimeException")
	assert.Equal(t, "java.lang.Throwable", node.Hierarchy[len(node.Hierarchy)-1])
}

func TestAnalyzeExceptionHierarchy_UnscannedClassByNaming(t *testing.T) {
	a := testAnalyzer(t, Config{})

	node := a.AnalyzeExceptionHierarchy("com.other.StorageError")
	assert.False(t, node.Checked)
	assert.Contains(t, node.Hierarchy, "java.lang.Error")
}

func TestAnalyzeExceptionPropagation_CaughtByCaller(t *testing.T) {
	a := testAnalyzer(t, Config{})

	chains := a.AnalyzeExceptionPropagation("com.app.DataException", 0)
	require.Len(t, chains, 1)

	nodes := chains[0].Nodes
	require.Len(t, nodes, 3)
	assert.Equal(t, ActionThrows, nodes[0].Action)
	assert.Equal(t, "Repo", nodes[0].Component)
	assert.Equal(t, "Repo.java:40", nodes[0].Location)
	assert.Equal(t, ActionPropagates, nodes[1].Action)
	assert.Equal(t, "Repo", nodes[1].Component)
	assert.Equal(t, ActionCatches, nodes[2].Action)
	assert.Equal(t, "ServiceImpl", nodes[2].Component)
}

func TestAnalyzeExceptionPropagation_PropagatesWhenUncaught(t *testing.T) {
	a := testAnalyzer(t, Config{})

	chains := a.AnalyzeExceptionPropagation("com.app.FastException", 0)
	require.Len(t, chains, 1)

	nodes := chains[0].Nodes
	require.Len(t, nodes, 3)
	assert.Equal(t, ActionThrows, nodes[0].Action)
	assert.Equal(t, "Loader", nodes[0].Component)
	assert.Equal(t, ActionPropagates, nodes[1].Action)
	assert.Equal(t, "Loader", nodes[1].Component)
	assert.Equal(t, ActionPropagates, nodes[2].Action)
	assert.Equal(t, "Caller", nodes[2].Component)
}

func TestAnalyzeExceptionPropagation_SimpleNameMatch(t *testing.T) {
	a := testAnalyzer(t, Config{})
	chains := a.AnalyzeExceptionPropagation("DataException", 0)
	require.Len(t, chains, 1)
	assert.Equal(t, ActionThrows, chains[0].Nodes[0].Action)
}

func TestAnalyzeExceptionPropagation_ChainCap(t *testing.T) {
	a := testAnalyzer(t, Config{MaxChains: 1})
	a.mu.Lock()
	extra := method("persist", 90)
	extra.ThrownTypes = []string{"com.app.DataException"}
	a.indexClass(class("com.app.SecondRepo", "java.lang.Object", 0, nil, extra))
	a.mu.Unlock()

	chains := a.AnalyzeExceptionPropagation("com.app.DataException", 0)
	assert.Len(t, chains, 1)
}

func TestCacheRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph", "call-graph.bin")

	a := testAnalyzer(t, Config{})
	require.NoError(t, a.saveCache(path))

	restored := NewAnalyzer(Config{}, nil)
	require.NoError(t, restored.loadCache(path))

	g, err := restored.AnalyzeMethod("com.app.Controller.handle", 0)
	require.NoError(t, err)
	assert.Contains(t, g.Edges["com.app.ServiceImpl.process"], "com.app.Repo.save")
}

func TestStartAndReady(t *testing.T) {
	a := NewAnalyzer(Config{ClassRoots: []string{t.TempDir()}}, nil)
	assert.False(t, a.Ready())

	a.Start(context.Background())
	require.NoError(t, a.WaitReady(context.Background()))
	assert.True(t, a.Ready())
}

func TestQualifiedKeyResolution(t *testing.T) {
	a := testAnalyzer(t, Config{})
	g, err := a.AnalyzeMethod("com.app.Controller.handle()", 0)
	require.NoError(t, err)
	assert.Equal(t, "com.app.Controller.handle", g.Root.Key())
}
