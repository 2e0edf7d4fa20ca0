package contract

import "errors"

var (
	ErrModelInvoke     = errors.New("model invoke failed")
	ErrSchemaViolation = errors.New("model response violates schema")
	ErrValidation      = errors.New("validation failed")
	ErrRouteParse      = errors.New("route decision is not parseable")
	ErrInvalidRoute    = errors.New("route decision is not a registered capability")
	ErrLoopCeiling     = errors.New("dispatch ceiling reached")
)
