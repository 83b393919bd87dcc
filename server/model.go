package server

// ResponseModel is the envelope of every admin API response.
type ResponseModel struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// StopResult is returned once a pipe was drained and removed.
type StopResult struct {
	Pipe    string `json:"pipe"`
	State   string `json:"state"`
	Drained bool   `json:"drained"`
}
