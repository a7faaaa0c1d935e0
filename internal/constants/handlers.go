// Package constants provides shared constants used across the codebase.
package constants

// Handler constants
const (
	// DefaultHistoryLimit is the default number of sessions returned by history endpoints
	DefaultHistoryLimit = 20

	// DefaultSimilarLimit is the default limit for stored face similarity searches
	DefaultSimilarLimit = 10

	// MaxRequestBodySize is the maximum JSON request body size in bytes (16MB)
	MaxRequestBodySize = 16 << 20

	// MaxBatchRegistrations is the maximum number of students in one batch registration
	MaxBatchRegistrations = 50
)

// Service metadata
const (
	// ServiceName is reported by the root endpoint
	ServiceName = "Attendance Recognition API"

	// APIVersion is reported by the root endpoint
	APIVersion = "2.0.0"
)
