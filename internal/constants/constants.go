// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

// Detection constants
const (
	// DefaultDetThreshold is the minimum detector confidence for a face to be decoded
	DefaultDetThreshold = 0.4

	// AnchorsPerCell is the number of anchors the SCRFD head predicts per grid location
	AnchorsPerCell = 2

	// DetectorMean and DetectorScale describe the detector input normalization: (px - mean) / scale
	DetectorMean  = 127.5
	DetectorScale = 128.0
)

// DetectorStrides are the feature map strides of the SCRFD heads, smallest first.
var DetectorStrides = []int{8, 16, 32}

// Quality gate constants
const (
	// MinEyeDistance is the minimum inter-eye distance in pixels
	MinEyeDistance = 10.0

	// MaxNoseOffset is the maximum horizontal nose offset relative to eye distance
	MaxNoseOffset = 0.40

	// MinEyeSymmetry is the minimum ratio of the shorter to the longer nose-to-eye distance
	MinEyeSymmetry = 0.60

	// EdgeMargin is the minimum distance of every landmark from the image border in pixels
	EdgeMargin = 20.0

	// MinBrightness and MaxBrightness bound the mean gray level of the face crop
	MinBrightness = 40.0
	MaxBrightness = 220.0

	// MinBlurScore is the minimum variance of the Laplacian of the face crop
	MinBlurScore = 80.0

	// MinRegionVariance is the minimum gray variance around an eye or the nose
	MinRegionVariance = 100.0

	// RegionRadius is the half size of the window sampled around a landmark
	RegionRadius = 8

	// CropMarginX and CropMarginY widen the landmark box by a fraction of eye distance
	CropMarginX = 0.5
	CropMarginY = 0.7
)

// Alignment constants
const (
	// AlignedSize is the side of the square aligned face crop
	AlignedSize = 112
)

// Embedding constants
const (
	// EmbeddingDim is the length of face embedding vectors
	EmbeddingDim = 512

	// NormTolerance is the allowed deviation of an embedding norm from 1 before re-normalizing
	NormTolerance = 1e-6
)

// Matching constants
const (
	// DefaultSimilarityThreshold is the minimum accepted student-to-face similarity
	DefaultSimilarityThreshold = 0.70

	// DefaultMarginThreshold is the minimum gap between the best and second best candidate
	DefaultMarginThreshold = 0.10

	// DefaultMinAbsoluteSimilarity is the hard floor applied before any margin logic
	DefaultMinAbsoluteSimilarity = 0.65

	// DefaultCrossValidationThreshold is the face-to-face similarity above which two
	// faces are treated as the same person
	DefaultCrossValidationThreshold = 0.75
)

// Session constants
const (
	// MinSessionImages and MaxSessionImages bound the number of photos per session
	MinSessionImages = 2
	MaxSessionImages = 4

	// AttendanceRatePrecision is the number of decimals kept in the attendance rate
	AttendanceRatePrecision = 3
)

// Registration constants
const (
	// MinRegistrationImages and MaxRegistrationImages bound the enrollment photos per student
	MinRegistrationImages = 2
	MaxRegistrationImages = 4

	// MinConsistency is the minimum pairwise similarity between enrollment embeddings
	MinConsistency = 0.5

	// MinFrontalScore is the minimum landmark symmetry score for an enrollment photo
	MinFrontalScore = 0.7

	// DefaultVerifyThreshold is the similarity needed to verify a face against a centroid
	DefaultVerifyThreshold = 0.6
)

// Processing constants
const (
	// WorkerPoolSize is the default number of images processed in parallel
	WorkerPoolSize = 4

	// MaxImageSize is the maximum dimension (width or height) for detector input; 0 disables resizing
	MaxImageSize = 0

	// FetchTimeoutSeconds is the timeout for downloading a session image
	FetchTimeoutSeconds = 10
)
