package queue

import (
	"errors"
	"fmt"
)

// MissingFieldError rejects an enqueue before any job record exists.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing required job field %q", e.Field)
}

// IsMissingField reports whether err is an enqueue validation failure.
func IsMissingField(err error) bool {
	var mf *MissingFieldError
	return errors.As(err, &mf)
}
