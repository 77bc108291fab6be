package callgraph

import (
	"fmt"
	"sort"
	"strings"
)

// Well-known hierarchy roots.
const (
	throwableClass        = "java.lang.Throwable"
	exceptionClass        = "java.lang.Exception"
	runtimeExceptionClass = "java.lang.RuntimeException"
	errorClass            = "java.lang.Error"
)

// AnalyzeExceptionHierarchy walks superclasses to the Throwable root and
// tags the exception checked or unchecked. Results are memoized.
func (a *Analyzer) AnalyzeExceptionHierarchy(className string) *ExceptionNode {
	a.mu.RLock()
	if node, ok := a.exceptions[className]; ok {
		a.mu.RUnlock()
		return node
	}
	a.mu.RUnlock()

	a.mu.Lock()
	defer a.mu.Unlock()
	if node, ok := a.exceptions[className]; ok {
		return node
	}

	chain := []string{className}
	seen := map[string]bool{className: true}
	cur := className
	for {
		td, ok := a.types[cur]
		if !ok || td.SuperName == "" || seen[td.SuperName] {
			break
		}
		cur = td.SuperName
		seen[cur] = true
		chain = append(chain, cur)
	}

	// Classes outside the scanned package bottom out before Throwable;
	// complete the chain from the standard library shape.
	if last := chain[len(chain)-1]; last != throwableClass {
		switch {
		case containsClass(chain, runtimeExceptionClass) || strings.HasSuffix(className, "RuntimeException"):
			chain = appendMissing(chain, runtimeExceptionClass, exceptionClass, throwableClass)
		case containsClass(chain, errorClass) || strings.HasSuffix(className, "Error"):
			chain = appendMissing(chain, errorClass, throwableClass)
		default:
			chain = appendMissing(chain, exceptionClass, throwableClass)
		}
	}

	node := &ExceptionNode{
		ClassName: className,
		Hierarchy: chain,
		Checked:   !containsClass(chain, runtimeExceptionClass) && !containsClass(chain, errorClass),
	}
	a.exceptions[className] = node
	return node
}

func containsClass(chain []string, name string) bool {
	for _, c := range chain {
		if c == name {
			return true
		}
	}
	return false
}

func appendMissing(chain []string, names ...string) []string {
	for _, name := range names {
		if !containsClass(chain, name) {
			chain = append(chain, name)
		}
	}
	return chain
}

// AnalyzeExceptionPropagation traces the exception from every declaring
// throw site up the reverse call graph, recording CATCHES at the first
// matching handler and PROPAGATES otherwise. At most MaxChains chains are
// returned.
func (a *Analyzer) AnalyzeExceptionPropagation(className string, maxDepth int) []PropagationChain {
	if maxDepth <= 0 {
		maxDepth = a.cfg.MaxDepth
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	simple := simpleName(className)
	var chains []PropagationChain

	for _, typeName := range a.sortedTypeNames() {
		td := a.types[typeName]
		for _, m := range td.Methods {
			if len(chains) >= a.cfg.MaxChains {
				return chains
			}
			if !declaresThrown(m.Throws, className, simple) {
				continue
			}

			// The declaring method appears twice: once as the throw site
			// and once as the first hop the exception travels through.
			prefix := []ChainNode{
				{
					Component: simpleName(typeName),
					Action:    ActionThrows,
					Location:  location(td.SourceFile, m.Line),
					Details:   fmt.Sprintf("%s.%s declares throws %s", simpleName(typeName), m.Name, simple),
				},
				{
					Component: simpleName(typeName),
					Action:    ActionPropagates,
					Location:  location(td.SourceFile, m.Line),
					Details:   fmt.Sprintf("%s.%s passes %s up the stack", simpleName(typeName), m.Name, simple),
				},
			}
			methodKey := typeName + "." + m.Name
			branches := a.walkUp(methodKey, className, simple, maxDepth, map[string]bool{methodKey: true})

			if len(branches) == 0 {
				chains = append(chains, PropagationChain{Exception: className, Nodes: prefix})
				continue
			}
			for _, branch := range branches {
				if len(chains) >= a.cfg.MaxChains {
					return chains
				}
				nodes := append(append([]ChainNode{}, prefix...), branch...)
				chains = append(chains, PropagationChain{Exception: className, Nodes: nodes})
			}
		}
	}
	return chains
}

// walkUp explores callers of methodKey. Each returned slice is one branch
// of chain nodes; a branch ends at the first handler or the depth bound.
// Caller holds a.mu.
func (a *Analyzer) walkUp(methodKey, className, simple string, depth int, visited map[string]bool) [][]ChainNode {
	if depth <= 0 {
		return nil
	}

	callers := make([]string, 0, len(a.reverse[methodKey]))
	for key := range a.reverse[methodKey] {
		callers = append(callers, key)
	}
	sort.Strings(callers)

	var branches [][]ChainNode
	for _, caller := range callers {
		if visited[caller] {
			continue
		}
		visited[caller] = true

		callerClass, callerMethod := splitKey(caller)
		td := a.types[callerClass]
		node := ChainNode{Component: simpleName(callerClass)}
		var line int
		if td != nil {
			if m, ok := td.method(callerMethod); ok {
				line = m.Line
				if catchMatches(m.Catches, className, simple) {
					node.Action = ActionCatches
					node.Location = location(td.SourceFile, line)
					node.Details = fmt.Sprintf("%s.%s handles %s", simpleName(callerClass), callerMethod, simple)
					branches = append(branches, []ChainNode{node})
					continue
				}
			}
			node.Location = location(td.SourceFile, line)
		}
		node.Action = ActionPropagates
		node.Details = fmt.Sprintf("%s.%s passes %s up the stack", simpleName(callerClass), callerMethod, simple)

		sub := a.walkUp(caller, className, simple, depth-1, visited)
		if len(sub) == 0 {
			branches = append(branches, []ChainNode{node})
			continue
		}
		for _, branch := range sub {
			branches = append(branches, append([]ChainNode{node}, branch...))
		}
	}
	return branches
}

// declaresThrown matches a declared throws list against the exception by
// fully qualified or simple name.
func declaresThrown(throws []string, className, simple string) bool {
	for _, t := range throws {
		if t == className || simpleName(t) == simple {
			return true
		}
	}
	return false
}

// catchMatches matches handler types by exact, simple-name, or suffix
// comparison.
func catchMatches(catches []string, className, simple string) bool {
	for _, c := range catches {
		if c == className || simpleName(c) == simple || strings.HasSuffix(c, simple) {
			return true
		}
	}
	return false
}

func (a *Analyzer) sortedTypeNames() []string {
	out := make([]string, 0, len(a.types))
	for name := range a.types {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func location(sourceFile string, line int) string {
	if sourceFile == "" {
		return ""
	}
	if line <= 0 {
		return sourceFile
	}
	return fmt.Sprintf("%s:%d", sourceFile, line)
}
