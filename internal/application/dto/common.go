package dto

// ErrorResponse cuerpo de error HTTP.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// AcceptedResponse respuesta 202 de operaciones asincrónicas.
type AcceptedResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}
