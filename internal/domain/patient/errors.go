package patient

import "errors"

var (
	ErrPatientNotFound = errors.New("patient not found")
	ErrNotOwner        = errors.New("patient belongs to another user")
)
