package client

// UnitStatus mirrors one row of the server's /status response.
type UnitStatus struct {
	Name    string `json:"name"`
	Pid     int    `json:"pid,omitempty"`
	Running bool   `json:"running"`
	Hint    string `json:"hint,omitempty"`
}

// LogsResponse is the /logs response shape.
type LogsResponse struct {
	Unit  string   `json:"unit"`
	Lines []string `json:"lines"`
}

// ErrorResponse is the error shape every endpoint returns on failure.
type ErrorResponse struct {
	Error string `json:"error"`
}
