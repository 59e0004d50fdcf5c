package media

import (
	"errors"
	"fmt"
)

// AcquisitionReason distinguishes user-visible capture failures.
type AcquisitionReason string

const (
	PermissionDenied AcquisitionReason = "permission denied"
	Overconstrained  AcquisitionReason = "constraints unsatisfiable"
	NoDevice         AcquisitionReason = "no capture device"
)

// AcquisitionError is a capture failure with a reason the UI can tell apart.
type AcquisitionError struct {
	Reason AcquisitionReason
	Err    error
}

func (e *AcquisitionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("media: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("media: %s", e.Reason)
}

func (e *AcquisitionError) Unwrap() error { return e.Err }

func NewAcquisitionError(reason AcquisitionReason) *AcquisitionError {
	return &AcquisitionError{Reason: reason}
}

func IsOverconstrained(err error) bool {
	var ae *AcquisitionError
	return errors.As(err, &ae) && ae.Reason == Overconstrained
}

func IsPermissionDenied(err error) bool {
	var ae *AcquisitionError
	return errors.As(err, &ae) && ae.Reason == PermissionDenied
}
