package dto

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
}

// ErrorInfo represents error details
type ErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// NewSuccessResponse creates a success response
func NewSuccessResponse(data interface{}) Response {
	return Response{
		Success: true,
		Data:    data,
	}
}

// NewErrorResponse creates an error response
func NewErrorResponse(code, message string) Response {
	return Response{
		Success: false,
		Error: &ErrorInfo{
			Code:    code,
			Message: message,
		},
	}
}

// NewErrorResponseWithRequestID creates an error response carrying the request id
func NewErrorResponseWithRequestID(code, message, requestID string) Response {
	resp := NewErrorResponse(code, message)
	resp.Error.RequestID = requestID
	return resp
}

// BillingStatus is the billing part of ShopResponse
type BillingStatus struct {
	Required        bool `json:"required"`
	HasActiveCharge bool `json:"has_active_charge"`
}

// ShopResponse describes the authenticated tenant
type ShopResponse struct {
	Shop      string        `json:"shop"`
	Installed bool          `json:"installed"`
	Scope     string        `json:"scope"`
	IsOnline  bool          `json:"is_online"`
	Billing   BillingStatus `json:"billing"`
}

// HealthResponse is returned by the health and readiness probes
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}
