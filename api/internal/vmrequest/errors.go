package vmrequest

import (
	"fmt"

	"github.com/google/uuid"
)

// NotFoundError means no events exist for the aggregate id within the
// caller's tenant. An aggregate owned by another tenant looks identical,
// so this error never discloses cross-tenant existence.
type NotFoundError struct {
	RequestID uuid.UUID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("vm request %s not found", e.RequestID)
}

// ForbiddenError is a business-rule authorization rejection, such as an
// admin approving their own request.
type ForbiddenError struct {
	Reason string
}

func (e *ForbiddenError) Error() string {
	return "forbidden: " + e.Reason
}

// InvalidStateError means the command is not valid for the aggregate's
// current lifecycle state.
type InvalidStateError struct {
	Current Status
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("command not valid in state %s", e.Current)
}
