package models

// Relay API request/response models

// ChatRequest is the body accepted by the chat relay endpoint
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatReply is returned when the completion API answered successfully
type ChatReply struct {
	Reply string `json:"reply"`
}

// ErrorBody is returned on every failure path
type ErrorBody struct {
	Error string `json:"error"`
}

// Fixed client-facing error messages
const (
	ErrMethodNotAllowed = "Method not allowed. Use POST."
	ErrMessageRequired  = "Message is required"
	ErrMissingAPIKey    = "Server Configuration Error: Chat_API environment variable is missing."
	ErrUpstreamFallback = "Failed to fetch from Groq API"
	ErrInternal         = "An internal server error occurred"
	ErrTooManyRequests  = "Too many requests"
)
