package gan

import "errors"

// Configuration errors are raised eagerly before any training step executes.
var (
	ErrUnknownStrategy      = errors.New("gan: unknown loss strategy")
	ErrUnknownPenalty       = errors.New("gan: unknown gradient penalty type")
	ErrInvalidPenaltyCenter = errors.New("gan: gradient penalty center must be 0 or 1")
	ErrInvalidConfig        = errors.New("gan: invalid config")
)
