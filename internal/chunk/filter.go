package chunk

import (
	"regexp"
	"strings"
)

// BoilerplateFilter classifies chunks that should be skipped before
// embedding. It fails open: when classification cannot be decided, the chunk
// is treated as not boilerplate, since embedding is the safer side of a
// mistake.
type BoilerplateFilter struct {
	patterns map[string][]*regexp.Regexp
}

// defaultBoilerplatePatterns are per-language regexes matched against the
// whole chunk content. A chunk matching any pattern for its language (or the
// "*" fallback) is boilerplate.
var defaultBoilerplatePatterns = map[string][]string{
	"*": {
		`(?s)\A\s*/\*.*?(Licensed under|SPDX-License-Identifier|All rights reserved).*?\*/\s*\z`,
		`(?i)\bDO NOT EDIT\b.*\bgenerated\b|\bgenerated\b.*\bDO NOT EDIT\b`,
	},
	"java": {
		`(?m)\A(\s*(package\s+[\w.]+;|import\s+(static\s+)?[\w.*]+;)\s*)+\z`,
	},
	"py": {
		`(?m)\A(\s*(import\s+[\w.]+( as \w+)?|from\s+[\w.]+\s+import\s+[\w.*, ]+))+\s*\z`,
	},
	"js": {
		`(?m)\A(\s*(import\s+.*?from\s+['"].*?['"];?|const\s+\w+\s*=\s*require\(['"].*?['"]\);?))+\s*\z`,
	},
	"ts": {
		`(?m)\A(\s*(import\s+.*?from\s+['"].*?['"];?|export\s+\*\s+from\s+['"].*?['"];?))+\s*\z`,
	},
	"json": {
		`(?s)\A\s*\{\s*\}\s*\z`,
	},
}

// NewBoilerplateFilter builds a filter from per-language pattern overrides.
// Patterns that fail to compile are skipped (fail-open). A nil map uses the
// defaults.
func NewBoilerplateFilter(overrides map[string][]string) *BoilerplateFilter {
	source := defaultBoilerplatePatterns
	if overrides != nil {
		source = overrides
	}

	compiled := make(map[string][]*regexp.Regexp, len(source))
	for lang, patterns := range source {
		for _, p := range patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				continue
			}
			compiled[lang] = append(compiled[lang], re)
		}
	}
	return &BoilerplateFilter{patterns: compiled}
}

// IsBoilerplate reports whether the chunk should be skipped for embedding.
func (f *BoilerplateFilter) IsBoilerplate(c *Chunk) bool {
	if c == nil || strings.TrimSpace(c.Content) == "" {
		return true
	}
	for _, re := range f.patterns["*"] {
		if re.MatchString(c.Content) {
			return true
		}
	}
	for _, re := range f.patterns[c.Language] {
		if re.MatchString(c.Content) {
			return true
		}
	}
	return false
}
