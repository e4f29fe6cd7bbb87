package wire

import (
	"context"
	"errors"

	"github.com/labrig/labrig-go/pkg/model"
)

// Status is a response status code: 0 for success, otherwise the
// model.ErrorKind of the failure.
type Status uint8

// StatusSuccess indicates the operation completed successfully.
const StatusSuccess Status = 0

// StatusOf returns the status for err. Errors without a kind map to
// CommunicationError, except context deadlines which map to Timeout.
func StatusOf(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	if kind := model.KindOf(err); kind != model.KindNone {
		return Status(kind)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Status(model.KindTimeout)
	}
	return Status(model.KindCommunicationError)
}

// Kind returns the error kind carried by the status.
func (s Status) Kind() model.ErrorKind {
	return model.ErrorKind(s)
}

// String returns the status name.
func (s Status) String() string {
	if s == StatusSuccess {
		return "SUCCESS"
	}
	return s.Kind().String()
}

// IsSuccess returns true if the status indicates success.
func (s Status) IsSuccess() bool {
	return s == StatusSuccess
}

// IsError returns true if the status indicates an error.
func (s Status) IsError() bool {
	return s != StatusSuccess
}
