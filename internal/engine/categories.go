package engine

import (
	"regexp"
	"strings"
)

// Category is one query intent label. A query may carry several.
type Category string

const (
	CategoryCodeLocation   Category = "code-location"
	CategoryMethodBehavior Category = "method-behavior"
	CategoryErrorDiagnosis Category = "error-diagnosis"
	CategoryConfigImpact   Category = "config-impact"
	CategoryCrossComponent Category = "cross-component"
)

var categoryTriggers = map[Category][]string{
	CategoryMethodBehavior: {"how does", "what happens when", "call path", "call flow", "who calls", "invokes", "behavior of"},
	CategoryErrorDiagnosis: {"exception", "error", "fails", "failure", "stack trace", "crash", "thrown", "caught"},
	CategoryConfigImpact:   {"config", "configuration", "property", "setting", "flag", "timeout value"},
	CategoryCrossComponent: {"across", "between services", "between repos", "cross-repo", "end to end", "end-to-end", "which services"},
}

// ClassifyCategories labels a query with every matching category.
// A query with no specific signal is a code-location lookup.
func ClassifyCategories(query string) []Category {
	q := strings.ToLower(query)
	var out []Category
	for _, cat := range []Category{
		CategoryMethodBehavior,
		CategoryErrorDiagnosis,
		CategoryConfigImpact,
		CategoryCrossComponent,
	} {
		for _, trigger := range categoryTriggers[cat] {
			if strings.Contains(q, trigger) {
				out = append(out, cat)
				break
			}
		}
	}
	if len(out) == 0 {
		out = append(out, CategoryCodeLocation)
	}
	return out
}

var (
	methodKeyPattern = regexp.MustCompile(`\b((?:[a-z]\w*\.)*[A-Z]\w*(?:\.\w+)+)\s*\(`)
	exceptionPattern = regexp.MustCompile(`\b([A-Z]\w*(?:Exception|Error))\b`)
	configKeyPattern = regexp.MustCompile(`\b([a-z][\w-]*(?:\.[a-z][\w-]*)+)\b`)
)

// extractMethodKey finds a Class.method reference in the query, e.g.
// "OrderService.place(" or "com.app.OrderService.place(".
func extractMethodKey(query string) string {
	if m := methodKeyPattern.FindStringSubmatch(query); m != nil {
		return m[1]
	}
	return ""
}

// extractExceptionClass finds an exception class name in the query.
func extractExceptionClass(query string) string {
	if m := exceptionPattern.FindStringSubmatch(query); m != nil {
		return m[1]
	}
	return ""
}

// extractConfigKey finds a dotted configuration key in the query.
func extractConfigKey(query string) string {
	if m := configKeyPattern.FindStringSubmatch(query); m != nil {
		return m[1]
	}
	return ""
}
