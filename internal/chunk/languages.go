package chunk

import (
	"path/filepath"
	"strings"
)

// languageByExtension maps recognized file extensions to language labels.
// Anything else is "plaintext".
var languageByExtension = map[string]string{
	".java":       "java",
	".py":         "py",
	".js":         "js",
	".ts":         "ts",
	".html":       "html",
	".css":        "css",
	".xml":        "xml",
	".json":       "json",
	".yaml":       "yaml",
	".yml":        "yaml",
	".properties": "properties",
}

// jvmLanguages are the languages scanned for logging statements.
var jvmLanguages = map[string]bool{
	"java": true,
}

// DetectLanguage identifies the language of a file by extension.
func DetectLanguage(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if lang, ok := languageByExtension[ext]; ok {
		return lang
	}
	return "plaintext"
}

// IsJVMLanguage reports whether log extraction applies to the language.
func IsJVMLanguage(lang string) bool {
	return jvmLanguages[lang]
}
