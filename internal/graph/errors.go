package graph

import (
	"errors"

	gqlerrors "github.com/graph-gophers/graphql-go/errors"

	"chatgraph/internal/domain"
)

const (
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeNotFound        = "NOT_FOUND"
	CodeConflict        = "CONFLICT"
	CodeBadUserInput    = "BAD_USER_INPUT"
	CodeOperationFailed = "OPERATION_FAILED"
)

// Error is a resolver error carrying a machine readable code in
// extensions.code.
type Error struct {
	Message string
	Code    string
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Extensions() map[string]interface{} {
	return map[string]interface{}{"code": e.Code}
}

// toError maps service errors onto GraphQL errors. Anything unrecognised is
// reported with a generic message.
func toError(err error) error {
	if err == nil {
		return nil
	}
	return classify(err)
}

// subscriptionError is toError for subscription resolvers. graphql-go keeps
// extensions on a failed subscription only when the error is a QueryError.
func subscriptionError(err error) error {
	if err == nil {
		return nil
	}
	e := classify(err)
	return &gqlerrors.QueryError{Message: e.Message, Extensions: e.Extensions()}
}

func classify(err error) *Error {
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		return &Error{Message: err.Error(), Code: CodeUnauthorized}
	case errors.Is(err, domain.ErrNotFound):
		return &Error{Message: err.Error(), Code: CodeNotFound}
	case errors.Is(err, domain.ErrConflict):
		return &Error{Message: err.Error(), Code: CodeConflict}
	case errors.Is(err, domain.ErrInvalidInput):
		return &Error{Message: err.Error(), Code: CodeBadUserInput}
	default:
		return &Error{Message: "operation failed, please try again", Code: CodeOperationFailed}
	}
}
