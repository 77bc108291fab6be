// Package errorchain analyzes exception handling in source text: throw,
// catch, wrap, and log sites, propagation context, anti-patterns, and
// handling-strategy effectiveness.
package errorchain

import (
	"github.com/codelens-ai/codelens/internal/callgraph"
)

// Location is one matched site in a scanned source file.
type Location struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Context string `json:"context,omitempty"`
}

// LoggingPattern is one logging call that references the exception.
type LoggingPattern struct {
	Level    string   `json:"level"`
	Location Location `json:"location"`
}

// AntiPattern is one detected handling defect with its fixed remediation
// payload.
type AntiPattern struct {
	Description    string     `json:"description"`
	Impact         string     `json:"impact"`
	Recommendation string     `json:"recommendation"`
	Locations      []Location `json:"locations"`
}

// HandlingStrategy describes where the exception is handled and how
// effective that layer tends to be.
type HandlingStrategy struct {
	Component     string `json:"component"`
	Strategy      string `json:"strategy"`
	Effectiveness string `json:"effectiveness"` // High, Medium, Low
}

// Result is the full error-chain analysis for one exception class.
type Result struct {
	ExceptionClass      string                        `json:"exception_class"`
	Hierarchy           []string                      `json:"hierarchy,omitempty"`
	PropagationChains   []callgraph.PropagationChain  `json:"propagation_chains,omitempty"`
	WrappingPatterns    map[string]int                `json:"wrapping_patterns,omitempty"` // "Wrapper <- Wrapped" -> count
	LoggingPatterns     []LoggingPattern              `json:"logging_patterns,omitempty"`
	AntiPatterns        map[string]AntiPattern        `json:"anti_patterns,omitempty"`
	CommonErrorMessages map[string]int                `json:"common_error_messages,omitempty"`
	HandlingStrategies  []HandlingStrategy            `json:"handling_strategies,omitempty"`
	ThrowLocations      []Location                    `json:"throw_locations,omitempty"`
	CatchLocations      []Location                    `json:"catch_locations,omitempty"`
	AnalysisNotes       []string                      `json:"analysis_notes,omitempty"`
	Recommendations     map[string]string             `json:"recommendations,omitempty"`
}

// Flags select optional analysis passes; part of the cache key.
type Flags struct {
	IncludeHierarchy   bool
	IncludePropagation bool
}
