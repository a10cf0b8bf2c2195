package queryservice

// Envelope is the uniform HTTP response shape every endpoint returns (§6).
type Envelope struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"errorCode,omitempty"`
	Debug     any    `json:"debug,omitempty"`

	HTTPStatus int `json:"-"`
}

const (
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

func ok(data any) Envelope {
	return Envelope{Success: true, Data: data, HTTPStatus: 200}
}

func validationError(msg string) Envelope {
	return Envelope{Success: false, Error: msg, ErrorCode: ErrCodeValidation, HTTPStatus: 400}
}

// degraded builds the well-formed-but-empty envelope §4.7 requires when the
// primary search path fails: callers still get shaped data to render.
func degraded(emptyData any) Envelope {
	return Envelope{
		Success:    false,
		Data:       emptyData,
		Error:      "search service unavailable",
		ErrorCode:  ErrCodeServiceUnavailable,
		HTTPStatus: 503,
	}
}
