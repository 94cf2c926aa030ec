// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

import "time"

// Pagination constants
const (
	// DefaultPageSize is the default number of persons returned by list endpoints
	DefaultPageSize = 50

	// MaxPageSize caps the limit a client may request
	MaxPageSize = 500
)

// Face matching constants
const (
	// DefaultTolerance is the maximum Euclidean distance for two dlib encodings to
	// be considered the same person
	DefaultTolerance = 0.6

	// IndexCandidates is the number of nearest neighbours pulled from the HNSW
	// index before filtering by tolerance and status
	IndexCandidates = 8

	// HNSWMaxNeighbors is the M parameter of the HNSW graph
	HNSWMaxNeighbors = 16

	// HNSWStaleLimit is the minimum number of removed persons left in the
	// HNSW graph before it is rebuilt
	HNSWStaleLimit = 32
)

// Processing constants
const (
	// MaxImageSize is the maximum dimension (width or height) for image processing
	MaxImageSize = 1920

	// JPEGQuality is used when re-encoding uploads
	JPEGQuality = 90

	// DefaultConcurrency is the default number of parallel workers for CLI bulk jobs
	DefaultConcurrency = 4
)

// File upload constants
const (
	// MaxUploadSize is the default maximum upload size in bytes (10MB)
	MaxUploadSize = 10 << 20

	// PersonsUploadDir holds photos attached to missing-person reports
	PersonsUploadDir = "persons"

	// SearchesUploadDir holds query photos that produced a match
	SearchesUploadDir = "searches"
)

// Account constants
const (
	MinUsernameLength = 3
	MaxUsernameLength = 50
	MinPasswordLength = 6
	MaxNameLength     = 100
	MaxGenderLength   = 10
	MaxAge            = 150
)

// Session constants
const (
	// SessionDuration is how long a login stays valid
	SessionDuration = 24 * time.Hour

	// SessionCleanupInterval is how often expired sessions are purged from the store
	SessionCleanupInterval = time.Hour

	// FlashMaxAge is the lifetime in seconds of a one-shot page message
	FlashMaxAge = 60
)
