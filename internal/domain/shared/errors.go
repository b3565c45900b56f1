package shared

// DomainError represents a domain-level error
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e *DomainError) Error() string {
	return e.Message
}

// Is reports whether target carries the same code, so wrapped copies created
// with WithMessage still match the sentinel values below.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithMessage returns a copy of the error with a more specific message
func (e *DomainError) WithMessage(message string) *DomainError {
	return &DomainError{Code: e.Code, Message: message}
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// Common domain errors
var (
	ErrNotFound         = NewDomainError("NOT_FOUND", "Resource not found")
	ErrInvalidInput     = NewDomainError("INVALID_INPUT", "Invalid input provided")
	ErrUnauthorized     = NewDomainError("UNAUTHORIZED", "Not authorized to perform this action")
	ErrInvalidShop      = NewDomainError("INVALID_SHOP", "Missing or invalid shop domain")
	ErrInvalidSignature = NewDomainError("INVALID_SIGNATURE", "Request signature could not be verified")
	ErrBillingRequired  = NewDomainError("BILLING_REQUIRED", "An active charge is required")
	ErrUpstreamFailure  = NewDomainError("UPSTREAM_FAILURE", "Upstream service call failed")
	ErrHandlerFailure   = NewDomainError("HANDLER_FAILURE", "Webhook handler failed")
	ErrNoWebhookHandler = NewDomainError("NO_WEBHOOK_HANDLER", "No webhook handler registered")
)
