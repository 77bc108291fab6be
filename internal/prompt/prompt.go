// Package prompt builds the deterministic LLM prompt from retrieved
// snippets, knowledge articles, workflow edges, and graph relationships.
package prompt

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/codelens-ai/codelens/internal/store"
)

// fullFileTriggers in the query request full-file content.
var fullFileTriggers = []string{
	"full file",
	"entire file",
	"complete file",
	"full context",
	"full path",
}

// Snippet is one retrieved code chunk with optional log lines observed for
// its file.
type Snippet struct {
	Metadata *store.EmbeddingMetadata
	Score    float64
	Logs     []string
}

// Article is one knowledge-base entry.
type Article struct {
	Title   string
	Content string
}

// WorkflowEdge is one step in an observed workflow between files.
type WorkflowEdge struct {
	SourceFile string
	TargetFile string
	Pattern    string
	Confidence float64
}

// Relationship is one knowledge-graph edge.
type Relationship struct {
	From     string
	Relation string
	To       string
}

// Input carries everything the builder renders.
type Input struct {
	Query            string
	Snippets         []Snippet
	Articles         []Article
	WorkflowEdges    []WorkflowEdge
	Relationships    []Relationship
	IncludeFullFiles bool
}

// Builder renders prompts. ReadFile loads full-file content when the query
// asks for it; nil falls back to os.ReadFile.
type Builder struct {
	ReadFile func(path string) ([]byte, error)
}

func NewBuilder() *Builder {
	return &Builder{ReadFile: os.ReadFile}
}

// WantsFullFiles reports whether the query text requests full-file content.
func WantsFullFiles(query string) bool {
	q := strings.ToLower(query)
	for _, trigger := range fullFileTriggers {
		if strings.Contains(q, trigger) {
			return true
		}
	}
	return false
}

// Build renders the prompt. Identical input yields identical output.
func (b *Builder) Build(in Input) string {
	var sb strings.Builder

	sb.WriteString("You are a senior engineer answering questions about a multi-repository codebase.\n")
	sb.WriteString("Rules:\n")
	sb.WriteString("- Base every statement on the evidence below; say so when the evidence is insufficient.\n")
	sb.WriteString("- Reference file paths and line numbers for every code claim.\n")
	sb.WriteString("- Prefer the most specific snippet over general knowledge.\n\n")

	b.writeArticles(&sb, in.Articles)
	b.writeSnippets(&sb, in)
	b.writeWorkflow(&sb, in.WorkflowEdges)
	b.writeRelationships(&sb, in.Relationships)

	sb.WriteString("## Question\n")
	sb.WriteString(in.Query)
	sb.WriteString("\n\nAnswer the question above. Reference file paths and line numbers from the evidence.\n")
	return sb.String()
}

func (b *Builder) writeArticles(sb *strings.Builder, articles []Article) {
	if len(articles) == 0 {
		return
	}
	sb.WriteString("## Knowledge articles\n")
	for i, a := range articles {
		fmt.Fprintf(sb, "### Article %d: %s\n%s\n", i+1, a.Title, strings.TrimSpace(a.Content))
	}
	sb.WriteString("\n")
}

func (b *Builder) writeSnippets(sb *strings.Builder, in Input) {
	if len(in.Snippets) == 0 {
		return
	}
	includeFull := in.IncludeFullFiles || WantsFullFiles(in.Query)

	sb.WriteString("## Code snippets\n")
	seenFiles := make(map[string]bool)
	for i, s := range in.Snippets {
		m := s.Metadata
		if m == nil {
			continue
		}
		fmt.Fprintf(sb, "### Snippet %d: %s (lines %d-%d)\n", i+1, m.FilePath, m.StartLine, m.EndLine)
		if m.RepositoryNamespace != "" {
			fmt.Fprintf(sb, "Repository: %s\n", m.RepositoryNamespace)
		}
		if m.PurposeSummary != "" {
			fmt.Fprintf(sb, "Purpose: %s\n", m.PurposeSummary)
		}
		if m.Description != "" {
			fmt.Fprintf(sb, "Description: %s\n", m.Description)
		}
		if len(m.Capabilities) > 0 {
			fmt.Fprintf(sb, "Capabilities: %s\n", strings.Join(m.Capabilities, ", "))
		}
		if len(s.Logs) > 0 {
			sb.WriteString("Logs:\n")
			for _, line := range s.Logs {
				fmt.Fprintf(sb, "  %s\n", line)
			}
		}
		fmt.Fprintf(sb, "```%s\n%s\n```\n", m.Language, strings.TrimRight(m.Content, "\n"))

		// Full-file content once per file, regardless of how many snippets
		// reference it.
		if includeFull && !seenFiles[m.FilePath] {
			seenFiles[m.FilePath] = true
			if content := b.readFull(m.FilePath); content != "" {
				fmt.Fprintf(sb, "Full file %s:\n```%s\n%s\n```\n", m.FilePath, m.Language, strings.TrimRight(content, "\n"))
			}
		}
	}
	sb.WriteString("\n")
}

func (b *Builder) readFull(path string) string {
	read := b.ReadFile
	if read == nil {
		read = os.ReadFile
	}
	content, err := read(path)
	if err != nil {
		return ""
	}
	return string(content)
}

func (b *Builder) writeWorkflow(sb *strings.Builder, edges []WorkflowEdge) {
	if len(edges) == 0 {
		return
	}
	bySource := make(map[string][]WorkflowEdge)
	for _, e := range edges {
		bySource[e.SourceFile] = append(bySource[e.SourceFile], e)
	}
	sources := make([]string, 0, len(bySource))
	for src := range bySource {
		sources = append(sources, src)
	}
	sort.Strings(sources)

	sb.WriteString("## Workflow steps\n")
	for _, src := range sources {
		fmt.Fprintf(sb, "From %s:\n", src)
		group := bySource[src]
		sort.Slice(group, func(i, j int) bool { return group[i].TargetFile < group[j].TargetFile })
		for _, e := range group {
			arrow := confidenceArrow(e.Confidence)
			if e.Pattern != "" {
				fmt.Fprintf(sb, "  %s %s [%s]\n", arrow, e.TargetFile, e.Pattern)
			} else {
				fmt.Fprintf(sb, "  %s %s\n", arrow, e.TargetFile)
			}
		}
	}
	sb.WriteString("\n")
}

// confidenceArrow qualifies a workflow edge by its confidence.
func confidenceArrow(confidence float64) string {
	switch {
	case confidence >= 0.8:
		return "==>"
	case confidence >= 0.5:
		return "-->"
	default:
		return "..>"
	}
}

func (b *Builder) writeRelationships(sb *strings.Builder, rels []Relationship) {
	if len(rels) == 0 {
		return
	}
	sorted := make([]Relationship, len(rels))
	copy(sorted, rels)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].From != sorted[j].From {
			return sorted[i].From < sorted[j].From
		}
		return sorted[i].To < sorted[j].To
	})

	sb.WriteString("## Knowledge graph\n")
	for _, r := range sorted {
		fmt.Fprintf(sb, "- %s %s %s\n", r.From, r.Relation, r.To)
	}
	sb.WriteString("\n")
}
