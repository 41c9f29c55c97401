// Package handlers defines the stable, machine-readable error codes returned
// in ErrorResponse.Code. Clients branch on these codes; messages are for
// humans.
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeInternal         = "internal_error"

	// Domain-specific:
	ErrCodeCreateFailed        = "create_failed"
	ErrCodeListFailed          = "list_failed"
	ErrCodeChatFailed          = "chat_failed"
	ErrCodeProviderUnavailable = "provider_unavailable"
)
