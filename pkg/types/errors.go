package types

import (
	"errors"
	"fmt"
)

// ErrValidation is wrapped by every payload validation error so callers can
// classify with errors.Is
var ErrValidation = errors.New("validation failed")

// ARCHITECTURAL DISCOVERY: Specific error types enable proper error handling
// and user-friendly error messages throughout the system
var (
	ErrInvalidName       = fmt.Errorf("%w: name must be 1-50 characters", ErrValidation)
	ErrInvalidAge        = fmt.Errorf("%w: age must be between 18 and 100", ErrValidation)
	ErrInvalidGender     = fmt.Errorf("%w: gender must be male, female or other", ErrValidation)
	ErrBioTooLong        = fmt.Errorf("%w: bio must be at most 200 characters", ErrValidation)
	ErrInvalidInterests  = fmt.Errorf("%w: at most 20 interests of 1-50 characters each", ErrValidation)
	ErrInvalidLocation   = fmt.Errorf("%w: country and city must be at most 100 characters", ErrValidation)
	ErrInvalidGenderPref = fmt.Errorf("%w: genderPref must be any, male, female or other", ErrValidation)
	ErrInvalidAgeRange   = fmt.Errorf("%w: age range must satisfy 18 <= ageMin <= ageMax <= 100", ErrValidation)
	ErrInvalidReason     = fmt.Errorf("%w: unknown report reason", ErrValidation)
	ErrDetailsTooLong    = fmt.Errorf("%w: details must be at most 500 characters", ErrValidation)
	ErrMissingTarget     = fmt.Errorf("%w: target is required", ErrValidation)
	ErrSelfTarget        = fmt.Errorf("%w: target cannot be yourself", ErrValidation)
	ErrEmptyMessage      = fmt.Errorf("%w: message cannot be empty", ErrValidation)
	ErrMessageTooLong    = fmt.Errorf("%w: message must be at most 500 characters", ErrValidation)
	ErrMissingPayload    = fmt.Errorf("%w: payload is required", ErrValidation)
	ErrInvalidPayload    = fmt.Errorf("%w: malformed payload", ErrValidation)
	ErrInvalidQuality    = fmt.Errorf("%w: quality must be 1-32 characters", ErrValidation)
	ErrUnknownEvent      = fmt.Errorf("%w: unknown event type", ErrValidation)
)
