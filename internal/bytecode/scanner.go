package bytecode

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Scanner enumerates and parses class files under configured class roots,
// restricted to a base package prefix.
type Scanner struct {
	roots       []string
	basePackage string // dotted prefix, empty matches everything
	logger      *slog.Logger
}

// NewScanner creates a scanner over class directories.
func NewScanner(roots []string, basePackage string, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{roots: roots, basePackage: basePackage, logger: logger}
}

// Scan parses every matching class file. One unresolvable class is logged
// and skipped, never blocking the rest.
func (s *Scanner) Scan(ctx context.Context) ([]*ClassFile, error) {
	var classes []*ClassFile
	for _, root := range s.roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if d.IsDir() || !strings.HasSuffix(d.Name(), ".class") {
				return nil
			}

			cf, parseErr := s.parseFile(path)
			if parseErr != nil {
				s.logger.Warn("skipping unparsable class file",
					"path", path, "error", parseErr)
				return nil
			}
			if s.matches(cf.Name) {
				classes = append(classes, cf)
			}
			return nil
		})
		if err != nil {
			if os.IsNotExist(err) {
				s.logger.Warn("class root missing", "root", root)
				continue
			}
			return nil, err
		}
	}
	return classes, nil
}

func (s *Scanner) parseFile(path string) (*ClassFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func (s *Scanner) matches(className string) bool {
	if s.basePackage == "" {
		return true
	}
	return strings.HasPrefix(className, s.basePackage)
}
