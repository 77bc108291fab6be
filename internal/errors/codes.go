// Package errors provides structured error handling for CodeLens.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: IO errors (file, disk, index)
//   - 3XX: Network errors (provider, timeout, rate limit)
//   - 4XX: Validation errors
//   - 5XX: Internal errors
//   - 6XX: Analysis errors (bytecode, graph, scan)
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates file and disk I/O errors.
	CategoryIO Category = "IO"
	// CategoryNetwork indicates network-related errors.
	CategoryNetwork Category = "NETWORK"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
	// CategoryAnalysis indicates static-analysis errors (skipped at element granularity).
	CategoryAnalysis Category = "ANALYSIS"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound   = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid    = "ERR_102_CONFIG_INVALID"
	ErrCodeWeightsInvalid   = "ERR_103_WEIGHTS_INVALID"
	ErrCodeScanPathMissing  = "ERR_104_SCAN_PATH_MISSING"

	// IO errors (200-299)
	ErrCodeFileNotFound  = "ERR_201_FILE_NOT_FOUND"
	ErrCodeFilePermission = "ERR_202_FILE_PERMISSION"
	ErrCodeCorruptIndex  = "ERR_203_CORRUPT_INDEX"
	ErrCodeFileTooLarge  = "ERR_204_FILE_TOO_LARGE"

	// Network errors (300-399)
	ErrCodeNetworkTimeout     = "ERR_301_NETWORK_TIMEOUT"
	ErrCodeNetworkUnavailable = "ERR_302_NETWORK_UNAVAILABLE"
	ErrCodeProviderOverloaded = "ERR_303_PROVIDER_OVERLOADED"
	ErrCodeRateLimited        = "ERR_304_RATE_LIMITED"

	// Validation errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeDimensionMismatch = "ERR_402_DIMENSION_MISMATCH"
	ErrCodeQueryEmpty        = "ERR_403_QUERY_EMPTY"
	ErrCodeInvalidPath       = "ERR_404_INVALID_PATH"
	ErrCodeNotFound          = "ERR_405_NOT_FOUND"
	ErrCodeDuplicateTool     = "ERR_406_DUPLICATE_TOOL"

	// Internal errors (500-599)
	ErrCodeInternal        = "ERR_501_INTERNAL"
	ErrCodeEmbeddingFailed = "ERR_502_EMBEDDING_FAILED"
	ErrCodeToolTimeout     = "ERR_503_TOOL_TIMEOUT"
	ErrCodeQueueFull       = "ERR_504_QUEUE_FULL"

	// Analysis errors (600-699)
	ErrCodeClassUnresolvable = "ERR_601_CLASS_UNRESOLVABLE"
	ErrCodeMalformedBytecode = "ERR_602_MALFORMED_BYTECODE"
	ErrCodeMethodNotFound    = "ERR_603_METHOD_NOT_FOUND"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryNetwork
	case '4':
		return CategoryValidation
	case '5':
		return CategoryInternal
	case '6':
		return CategoryAnalysis
	default:
		return CategoryInternal
	}
}

// severityFromCode derives severity from error code.
// Configuration errors abort startup; analysis errors only degrade.
func severityFromCode(code string) Severity {
	switch categoryFromCode(code) {
	case CategoryConfig:
		return SeverityFatal
	case CategoryAnalysis:
		return SeverityWarning
	default:
		return SeverityError
	}
}

// retryableCodes are transient by nature: timeouts, rate limits, overload,
// backpressure rejection. Everything else is permanent.
var retryableCodes = map[string]bool{
	ErrCodeNetworkTimeout:     true,
	ErrCodeNetworkUnavailable: true,
	ErrCodeProviderOverloaded: true,
	ErrCodeRateLimited:        true,
	ErrCodeToolTimeout:        true,
	ErrCodeQueueFull:          true,
}

// isRetryableCode reports whether the code names a transient failure.
func isRetryableCode(code string) bool {
	return retryableCodes[code]
}
