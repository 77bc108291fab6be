package errorchain

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/codelens-ai/codelens/internal/callgraph"
)

const defaultCacheSize = 256

// Analyzer scans Java source under the configured roots. An optional call
// graph enriches results with hierarchy and propagation chains.
type Analyzer struct {
	scanRoots []string
	graph     *callgraph.Analyzer
	logger    *slog.Logger
	cache     *lru.Cache[string, *Result]
	maxDepth  int
}

// NewAnalyzer creates an error-chain analyzer. graph may be nil.
func NewAnalyzer(scanRoots []string, graph *callgraph.Analyzer, maxDepth int, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	if maxDepth <= 0 {
		maxDepth = callgraph.DefaultMaxDepth
	}
	cache, _ := lru.New[string, *Result](defaultCacheSize)
	return &Analyzer{
		scanRoots: scanRoots,
		graph:     graph,
		logger:    logger,
		cache:     cache,
		maxDepth:  maxDepth,
	}
}

// Analyze produces the error-chain result for one exception class.
// Results are cached by (class, flags).
func (a *Analyzer) Analyze(ctx context.Context, exceptionClass string, flags Flags) (*Result, error) {
	key := fmt.Sprintf("%s|%t|%t", exceptionClass, flags.IncludeHierarchy, flags.IncludePropagation)
	if cached, ok := a.cache.Get(key); ok {
		return cached, nil
	}

	result := &Result{
		ExceptionClass:      exceptionClass,
		WrappingPatterns:    make(map[string]int),
		AntiPatterns:        make(map[string]AntiPattern),
		CommonErrorMessages: make(map[string]int),
		Recommendations:     make(map[string]string),
	}

	simple := simpleName(exceptionClass)
	patterns := compilePatterns(simple)

	files, err := a.sourceFiles(ctx)
	if err != nil {
		return nil, err
	}
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		content, err := os.ReadFile(path)
		if err != nil {
			a.logger.Warn("skipping unreadable source file", "path", path, "error", err)
			continue
		}
		a.scanFile(relativeName(a.scanRoots, path), string(content), simple, patterns, result)
	}

	if a.graph != nil {
		if flags.IncludeHierarchy {
			result.Hierarchy = a.graph.AnalyzeExceptionHierarchy(exceptionClass).Hierarchy
		}
		if flags.IncludePropagation {
			result.PropagationChains = a.graph.AnalyzeExceptionPropagation(exceptionClass, a.maxDepth)
		}
	}

	a.finish(result, simple)
	a.cache.Add(key, result)
	return result, nil
}

// sourceFiles lists Java files under the scan roots.
func (a *Analyzer) sourceFiles(ctx context.Context) ([]string, error) {
	var out []string
	for _, root := range a.scanRoots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if !d.IsDir() && strings.HasSuffix(d.Name(), ".java") {
				out = append(out, path)
			}
			return nil
		})
		if err != nil {
			if os.IsNotExist(err) {
				a.logger.Warn("scan root missing", "root", root)
				continue
			}
			return nil, err
		}
	}
	sort.Strings(out)
	return out, nil
}

// classPatterns holds the per-exception compiled regexes.
type classPatterns struct {
	throwSite *regexp.Regexp
	catchSite *regexp.Regexp
	anyCatch  *regexp.Regexp
	wrapper   *regexp.Regexp
	wrapped   *regexp.Regexp
	logCall   *regexp.Regexp
	message   *regexp.Regexp
}

func compilePatterns(simple string) *classPatterns {
	quoted := regexp.QuoteMeta(simple)
	return &classPatterns{
		throwSite: regexp.MustCompile(`throw\s+new\s+` + quoted + `\s*\(`),
		catchSite: regexp.MustCompile(`catch\s*\(\s*(?:final\s+)?[\w.]*` + quoted + `\s+\w+`),
		anyCatch:  regexp.MustCompile(`catch\s*\(\s*(?:final\s+)?([\w.]+)\s+(\w+)\s*\)\s*\{`),
		wrapper:   regexp.MustCompile(`new\s+([\w.]+Exception)\s*\([^;{]*\b` + quoted),
		wrapped:   regexp.MustCompile(`new\s+` + quoted + `\s*\([^;{]*?\bnew\s+([\w.]+Exception)`),
		logCall:   regexp.MustCompile(`\b(?:log|logger)\.(error|warn|info|debug|trace)\s*\(([^;]*)\)`),
		message:   regexp.MustCompile(`new\s+` + quoted + `\s*\(\s*"([^"]*)"`),
	}
}

// scanFile runs every pattern over one file and folds matches into result.
func (a *Analyzer) scanFile(file, content, simple string, p *classPatterns, result *Result) {
	for _, loc := range p.throwSite.FindAllStringIndex(content, -1) {
		result.ThrowLocations = append(result.ThrowLocations, Location{
			File:    file,
			Line:    lineAt(content, loc[0]),
			Context: lineText(content, loc[0]),
		})
	}

	for _, loc := range p.catchSite.FindAllStringIndex(content, -1) {
		result.CatchLocations = append(result.CatchLocations, Location{
			File:    file,
			Line:    lineAt(content, loc[0]),
			Context: lineText(content, loc[0]),
		})
	}

	for _, m := range p.wrapper.FindAllStringSubmatch(content, -1) {
		wrapper := simpleName(m[1])
		if wrapper != simple {
			result.WrappingPatterns[wrapper+" <- "+simple]++
		}
	}
	for _, m := range p.wrapped.FindAllStringSubmatch(content, -1) {
		inner := simpleName(m[1])
		if inner != simple {
			result.WrappingPatterns[simple+" <- "+inner]++
		}
	}

	for _, m := range p.logCall.FindAllStringSubmatchIndex(content, -1) {
		args := content[m[4]:m[5]]
		if !strings.Contains(args, simple) {
			continue
		}
		result.LoggingPatterns = append(result.LoggingPatterns, LoggingPattern{
			Level:    content[m[2]:m[3]],
			Location: Location{File: file, Line: lineAt(content, m[0])},
		})
	}

	for _, m := range p.message.FindAllStringSubmatch(content, -1) {
		if m[1] != "" {
			result.CommonErrorMessages[m[1]]++
		}
	}

	// Anti-patterns only make sense in files that touch this exception.
	if strings.Contains(content, simple) {
		a.scanCatchBodies(file, content, simple, p, result)
	}
}

// scanCatchBodies brace-matches each catch block and checks it against the
// anti-pattern rules.
func (a *Analyzer) scanCatchBodies(file, content, simple string, p *classPatterns, result *Result) {
	for _, m := range p.anyCatch.FindAllStringSubmatchIndex(content, -1) {
		caughtType := simpleName(content[m[2]:m[3]])
		ident := content[m[4]:m[5]]
		relevant := caughtType == simple || caughtType == "Exception" || caughtType == "Throwable"
		if !relevant {
			continue
		}

		bodyStart := m[1] // index just past the opening brace
		body, ok := braceMatchedBody(content, bodyStart)
		if !ok {
			continue
		}
		loc := Location{File: file, Line: lineAt(content, m[0])}

		if caughtType == "Exception" || caughtType == "Throwable" {
			addAntiPattern(result, "generic-catch", loc)
		}

		trimmed := strings.TrimSpace(body)
		hasThrow := strings.Contains(body, "throw")
		hasLog := strings.Contains(body, "log.") || strings.Contains(body, "logger.")
		hasReturn := strings.Contains(body, "return")

		switch {
		case trimmed == "":
			addAntiPattern(result, "empty-catch", loc)
		case !hasThrow && !hasLog && !hasReturn:
			addAntiPattern(result, "swallowed-exception", loc)
		case hasLog && !hasThrow && !hasReturn && onlyLogStatements(body, ident):
			addAntiPattern(result, "catch-and-log-only", loc)
		}

		// Wrap-and-rethrow: the caught exception passed into a new one.
		if caughtType == simple {
			rewrap := regexp.MustCompile(`new\s+([\w.]+Exception)\s*\([^;]*\b` + regexp.QuoteMeta(ident) + `\b`)
			for _, wm := range rewrap.FindAllStringSubmatch(body, -1) {
				wrapper := simpleName(wm[1])
				if wrapper != simple {
					result.WrappingPatterns[wrapper+" <- "+simple]++
				}
			}
		}

		if strings.Contains(body, ident+".printStackTrace()") {
			addAntiPattern(result, "print-stack-trace", loc)
		}
		if strings.Contains(body, "Thread.sleep(") {
			addAntiPattern(result, "sleep-in-catch", loc)
		}

		result.HandlingStrategies = append(result.HandlingStrategies, HandlingStrategy{
			Component:     strings.TrimSuffix(filepath.Base(file), ".java"),
			Strategy:      strategyFor(hasThrow, hasLog, hasReturn),
			Effectiveness: effectivenessFor(file),
		})
	}
}

// braceMatchedBody extracts the block starting right after an opening
// brace, balancing nested braces.
func braceMatchedBody(content string, start int) (string, bool) {
	depth := 1
	for i := start; i < len(content); i++ {
		switch content[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return content[start:i], true
			}
		}
	}
	return "", false
}

// onlyLogStatements reports whether every statement in the body is a
// logger invocation and at least one of them logs the caught exception.
// A block that only logs an unrelated message is not handling the
// exception at all, so it falls outside this rule.
func onlyLogStatements(body, ident string) bool {
	identRef := regexp.MustCompile(`\b` + regexp.QuoteMeta(ident) + `\b`)
	logsCaught := false
	for _, stmt := range strings.Split(body, ";") {
		s := strings.TrimSpace(stmt)
		if s == "" {
			continue
		}
		if !strings.HasPrefix(s, "log.") && !strings.HasPrefix(s, "logger.") {
			return false
		}
		if identRef.MatchString(s) {
			logsCaught = true
		}
	}
	return logsCaught
}

func strategyFor(hasThrow, hasLog, hasReturn bool) string {
	switch {
	case hasThrow && hasLog:
		return "log-and-rethrow"
	case hasThrow:
		return "rethrow"
	case hasReturn:
		return "recover"
	case hasLog:
		return "log-only"
	default:
		return "suppress"
	}
}

// effectivenessFor rates the handling layer from component naming.
func effectivenessFor(file string) string {
	base := filepath.Base(file)
	switch {
	case strings.Contains(base, "Controller") || strings.Contains(base, "Advice"):
		return "High"
	case strings.Contains(base, "Service"):
		return "Medium"
	case strings.Contains(base, "Repository") || strings.Contains(base, "Dao"):
		return "Low"
	default:
		return "Medium"
	}
}

// antiPatternPayloads are the fixed remediation texts emitted per rule.
var antiPatternPayloads = map[string]AntiPattern{
	"empty-catch": {
		Description:    "Catch block contains no statements",
		Impact:         "Failures disappear silently and leave no trail for diagnosis",
		Recommendation: "Handle the exception, rethrow it, or log it with context before continuing",
	},
	"swallowed-exception": {
		Description:    "Catch block neither rethrows, logs, nor returns",
		Impact:         "The error state is discarded and execution continues as if nothing happened",
		Recommendation: "Propagate the exception or record it with enough context to reconstruct the failure",
	},
	"generic-catch": {
		Description:    "Catch clause uses Exception or Throwable instead of a specific type",
		Impact:         "Unrelated failures, including programming errors, are handled by the same branch",
		Recommendation: "Catch the narrowest exception type the block can actually handle",
	},
	"catch-and-log-only": {
		Description:    "Catch block only logs and resumes normal flow",
		Impact:         "Callers observe success for an operation that failed",
		Recommendation: "Rethrow after logging or return an explicit error result to the caller",
	},
	"print-stack-trace": {
		Description:    "Catch block calls printStackTrace on the caught exception",
		Impact:         "Output bypasses the logging pipeline and is lost in production",
		Recommendation: "Replace printStackTrace with a structured logger call",
	},
	"sleep-in-catch": {
		Description:    "Catch block sleeps the thread as a retry mechanism",
		Impact:         "Blocks the carrier thread and hides backoff policy from configuration",
		Recommendation: "Use a retry utility with bounded, configurable backoff instead of Thread.sleep",
	},
}

func addAntiPattern(result *Result, name string, loc Location) {
	ap, ok := result.AntiPatterns[name]
	if !ok {
		ap = antiPatternPayloads[name]
	}
	ap.Locations = append(ap.Locations, loc)
	result.AntiPatterns[name] = ap
}

// finish derives notes and recommendations from the collected evidence.
func (a *Analyzer) finish(result *Result, simple string) {
	if len(result.ThrowLocations) == 0 && len(result.CatchLocations) == 0 {
		result.AnalysisNotes = append(result.AnalysisNotes,
			fmt.Sprintf("no throw or catch sites for %s under the scan roots", simple))
	} else {
		result.AnalysisNotes = append(result.AnalysisNotes,
			fmt.Sprintf("%d throw sites, %d catch sites", len(result.ThrowLocations), len(result.CatchLocations)))
	}
	if len(result.ThrowLocations) > 0 && len(result.CatchLocations) == 0 {
		result.AnalysisNotes = append(result.AnalysisNotes,
			fmt.Sprintf("%s is thrown but never caught under the scan roots", simple))
	}

	for name := range result.AntiPatterns {
		result.Recommendations[name] = antiPatternPayloads[name].Recommendation
	}
}

func simpleName(className string) string {
	if idx := strings.LastIndex(className, "."); idx >= 0 {
		return className[idx+1:]
	}
	return className
}

func relativeName(roots []string, path string) string {
	for _, root := range roots {
		if rel, err := filepath.Rel(root, path); err == nil && !strings.HasPrefix(rel, "..") {
			return rel
		}
	}
	return path
}

func lineAt(content string, pos int) int {
	return 1 + strings.Count(content[:pos], "\n")
}

func lineText(content string, pos int) string {
	start := strings.LastIndexByte(content[:pos], '\n') + 1
	end := strings.IndexByte(content[pos:], '\n')
	if end < 0 {
		end = len(content)
	} else {
		end += pos
	}
	return strings.TrimSpace(content[start:end])
}
