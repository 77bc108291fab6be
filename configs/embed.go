// Package configs holds configuration templates embedded at build time,
// so 'codelens init' works the same from source builds and binary
// releases.
package configs

import _ "embed"

// ConfigTemplate is the annotated default configuration written by
// 'codelens init' as codelens.yaml in the project root.
//
//go:embed codelens.example.yaml
var ConfigTemplate string
