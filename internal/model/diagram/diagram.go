package diagram

// GenerateRequest is the body of POST /api/generate.
type GenerateRequest struct {
	UserInput string `json:"user_input"`
}

// GenerateResponse is returned by /api/generate on success.
type GenerateResponse struct {
	Output    string `json:"output"`
	SessionID string `json:"session_id"`
	Process   string `json:"process,omitempty"`
}

// ExampleResponse carries a diagram for the example/base endpoints.
type ExampleResponse struct {
	XML string `json:"xml"`
}

// SessionHeader carries the per-browser session identifier.
const SessionHeader = "X-Session-ID"
