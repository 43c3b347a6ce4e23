package interpret

import "errors"

var (
	// ErrInvalidConfiguration reports unusable analysis parameters such as a
	// repetition count below one or a loss undefined for the response.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrInvalidFeature reports a reference to a feature the dataset lacks.
	ErrInvalidFeature = errors.New("invalid feature")

	// ErrEmptyDomain reports a feature with no usable value range. The
	// partial dependence generator degrades such features to a single-point
	// curve instead of returning it.
	ErrEmptyDomain = errors.New("empty domain")

	// ErrInsufficientVariance reports a near-zero denominator in interaction
	// scoring. Scores affected by it are marked undefined.
	ErrInsufficientVariance = errors.New("insufficient variance")
)
