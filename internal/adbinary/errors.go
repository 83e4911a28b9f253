package adbinary

import (
	"errors"
	"fmt"
)

// ErrMalformed is matched by every error returned for truncated or
// inconsistent wire data.
var ErrMalformed = errors.New("malformed wire data")

// MalformedError describes where a blob stopped being decodable.
type MalformedError struct {
	Structure string // Name of the structure being decoded
	Offset    int    // Byte offset at which decoding stopped
	Reason    string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed %s at offset %d: %s", e.Structure, e.Offset, e.Reason)
}

// Is reports whether target is ErrMalformed.
func (e *MalformedError) Is(target error) bool {
	return target == ErrMalformed
}

func malformed(structure string, offset int, format string, args ...any) error {
	return &MalformedError{
		Structure: structure,
		Offset:    offset,
		Reason:    fmt.Sprintf(format, args...),
	}
}
