package embed

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// previewLimit caps the stored text preview.
const previewLimit = 200

// Failure records a text that could not be embedded.
// Identity is the content hash; re-attempts increment Attempts.
type Failure struct {
	TextHash    string    `json:"text_hash"`
	TextPreview string    `json:"text_preview"`
	Cause       string    `json:"cause"`
	FirstSeen   time.Time `json:"first_seen"`
	Attempts    int       `json:"attempts"`
}

// FailureLog tracks embedding failures keyed by content hash.
// Entries are retained until cleared or the text embeds successfully.
type FailureLog struct {
	mu       sync.Mutex
	failures map[string]*Failure
}

// NewFailureLog creates an empty failure log.
func NewFailureLog() *FailureLog {
	return &FailureLog{failures: make(map[string]*Failure)}
}

// HashText returns the content hash used as failure identity.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Record registers a failed embedding attempt for the text.
func (l *FailureLog) Record(text string, cause error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	hash := HashText(text)
	if f, ok := l.failures[hash]; ok {
		f.Attempts++
		f.Cause = cause.Error()
		return
	}

	preview := text
	if len(preview) > previewLimit {
		preview = preview[:previewLimit]
	}
	l.failures[hash] = &Failure{
		TextHash:    hash,
		TextPreview: preview,
		Cause:       cause.Error(),
		FirstSeen:   time.Now().UTC(),
		Attempts:    1,
	}
}

// Resolve removes the failure entry for a text that embedded successfully.
func (l *FailureLog) Resolve(text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.failures, HashText(text))
}

// Clear removes all entries.
func (l *FailureLog) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures = make(map[string]*Failure)
}

// Count returns the number of tracked failures.
func (l *FailureLog) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.failures)
}

// All returns failures ordered by first-seen time.
func (l *FailureLog) All() []Failure {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Failure, 0, len(l.failures))
	for _, f := range l.failures {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FirstSeen.Equal(out[j].FirstSeen) {
			return out[i].TextHash < out[j].TextHash
		}
		return out[i].FirstSeen.Before(out[j].FirstSeen)
	})
	return out
}

// Save persists the log as JSON using temp file + rename.
func (l *FailureLog) Save(path string) error {
	entries := l.All()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Load restores the log from a JSON file. A missing file yields an empty log.
func (l *FailureLog) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var entries []Failure
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures = make(map[string]*Failure, len(entries))
	for i := range entries {
		f := entries[i]
		l.failures[f.TextHash] = &f
	}
	return nil
}
