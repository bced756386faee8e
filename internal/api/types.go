package api

import "time"

// startSessionRequest is the JSON body for POST /api/v1/sessions (spec.md
// §6.4 start).
type startSessionRequest struct {
	SerialNumber string `json:"serial_number"`
	StationID    string `json:"station_id"`
	ProjectID    string `json:"project_id"`
	OperatorID   string `json:"operator_id"`
	PlanName     string `json:"plan_name"`
	StopOnFail   *bool  `json:"stop_on_fail"`

	// RequestedAt lets a station controller retry a StartSession call (e.g.
	// after a network blip) without opening a second session: the same
	// RequestedAt value collapses onto the session already created for it.
	RequestedAt string `json:"requested_at"`
}

// sessionResponse is the JSON view of a storage.Session.
type sessionResponse struct {
	ID           string     `json:"id"`
	SerialNumber string     `json:"serial_number"`
	StationID    string     `json:"station_id"`
	ProjectID    string     `json:"project_id"`
	OperatorID   string     `json:"operator_id"`
	PlanName     string     `json:"plan_name"`
	Status       string     `json:"status"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	TotalItems   int        `json:"total_items"`
	PassItems    int        `json:"pass_items"`
	FailItems    int        `json:"fail_items"`
	ErrorItems   int        `json:"error_items"`
	FinalResult  string     `json:"final_result,omitempty"`
	DurationMs   int64      `json:"duration_ms"`
	ReportPath   string     `json:"report_path,omitempty"`
}

// resultResponse is the JSON view of a storage.Result.
type resultResponse struct {
	ItemNo              int       `json:"item_no"`
	ItemName            string    `json:"item_name"`
	Result              string    `json:"result"`
	MeasuredValue       string    `json:"measured_value,omitempty"`
	LowerLimit          *float64  `json:"lower_limit,omitempty"`
	UpperLimit          *float64  `json:"upper_limit,omitempty"`
	Unit                string    `json:"unit,omitempty"`
	ErrorMessage        string    `json:"error_message,omitempty"`
	ExecutionDurationMs int64     `json:"execution_duration_ms"`
	StartedAt           time.Time `json:"started_at"`
}

// testPlanItemResponse is the JSON view of one testplan.Item (spec.md §6:
// GET /api/v1/testplans/{project}/{station}).
type testPlanItemResponse struct {
	ItemNo     int            `json:"item_no"`
	ItemName   string         `json:"item_name"`
	ItemKey    string         `json:"item_key"`
	Command    string         `json:"command"`
	SwitchMode string         `json:"switch_mode,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
	ValueType  string         `json:"value_type"`
	LimitType  string         `json:"limit_type"`
	LowerLimit *float64       `json:"lower_limit,omitempty"`
	UpperLimit *float64       `json:"upper_limit,omitempty"`
	EqLimit    *string        `json:"eq_limit,omitempty"`
	Unit       string         `json:"unit,omitempty"`
	Enabled    bool           `json:"enabled"`
	UseResult  string         `json:"use_result,omitempty"`
}
