package build

import (
	"errors"
	"fmt"
)

// Base error categories. Argument errors flag malformed or out-of-domain
// input handed directly to a setter or converter; state errors flag
// configuration that is internally inconsistent or incomplete at the point
// an operation needing it runs. Both are raised eagerly and are terminal
// for the current construction attempt.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrInvalidState    = errors.New("invalid state")
)

var (
	ErrAmbiguousKeySizing   = fmt.Errorf("%w: ambiguous key sizing: average and constant sizes specified", ErrInvalidState)
	ErrAmbiguousValueSizing = fmt.Errorf("%w: ambiguous value sizing: average and constant sizes specified", ErrInvalidState)
	ErrKeyTypeMissing       = fmt.Errorf("%w: key type must be specified prior to construction", ErrInvalidState)
	ErrValueTypeMissing     = fmt.Errorf("%w: value type must be specified prior to construction", ErrInvalidState)
	ErrNotValidated         = fmt.Errorf("%w: Validate must succeed before Build", ErrInvalidState)
)
