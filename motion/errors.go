package motion

import (
	"fmt"
)

// ParseError points to the field of motion or pose file that failed to decode.
// Offset is used by binary formats, Line by text formats. Err is never nil.
type ParseError struct {
	Format string
	Field  string
	Offset int64
	Line   int
	Err    error
}

func (e *ParseError) Error() string {
	var at string
	if e.Line > 0 {
		at = fmt.Sprintf("line %d", e.Line)
	} else {
		at = fmt.Sprintf("offset 0x%x", e.Offset)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: Failed to read %s at %s: %v", e.Format, e.Field, at, e.Err)
	}
	return fmt.Sprintf("%s: Failed to read %s at %s", e.Format, e.Field, at)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Cause makes errors.Cause of github.com/pkg/errors reach underlying io error
func (e *ParseError) Cause() error { return e.Err }
