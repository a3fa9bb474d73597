package intel

import "errors"

var (
	// ErrNonMonotonicThresholds is returned when risk cut points are not
	// strictly increasing inside (0, 10].
	ErrNonMonotonicThresholds = errors.New("risk thresholds must satisfy 0 < medium < high < critical <= 10")

	// ErrInvalidSaturation is returned when the density saturation is not positive.
	ErrInvalidSaturation = errors.New("density saturation must be positive")
)
