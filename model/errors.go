package model

import "errors"

var (
	ErrInvalidWeight            = errors.New("channel weight must be a non-negative finite number")
	ErrEmptyChannelID           = errors.New("empty channel id")
	ErrUnknownChannel           = errors.New("unknown channel")
	ErrNoModifier               = errors.New("channel has no behavioral modifier")
	ErrInvalidModifier          = errors.New("invalid behavioral modifier")
	ErrInvalidUShapeWeights     = errors.New("u-shape weights must be non-negative and sum to 1")
	ErrUnknownAttributionMethod = errors.New("unknown attribution method")
	ErrInvalidWindowPolicy      = errors.New("invalid conversion window policy")
	ErrInvalidModelOption       = errors.New("invalid attribution model option")
	ErrDuplicateChannelWeight   = errors.New("channel weight given more than once")
)

// IsValidationError reports whether err was raised at the configuration
// boundary, i.e. the caller supplied a value the engine refuses to store.
func IsValidationError(err error) bool {
	switch err {
	case ErrInvalidWeight, ErrEmptyChannelID, ErrInvalidModifier,
		ErrInvalidUShapeWeights, ErrInvalidWindowPolicy, ErrInvalidModelOption, ErrDuplicateChannelWeight:
		return true
	}
	return false
}
