package audit

import (
	"time"

	"github.com/google/uuid"
)

// Result is the outcome recorded for an access check
type Result string

const (
	ResultGranted Result = "GRANTED"
	ResultDenied  Result = "DENIED"
	// ResultConditional is reserved; the decision path never produces it.
	ResultConditional Result = "CONDITIONAL"
)

// Valid reports whether r is a known result
func (r Result) Valid() bool {
	switch r {
	case ResultGranted, ResultDenied, ResultConditional:
		return true
	}
	return false
}

// AccessLogEntry records one access decision. Entries are append-only.
type AccessLogEntry struct {
	ID        int64                  `json:"id"`
	RequestID uuid.UUID              `json:"request_id"`
	UserID    int64                  `json:"user_id"`
	Resource  string                 `json:"resource"`
	Action    string                 `json:"action"`
	Result    Result                 `json:"result"`
	IPAddress string                 `json:"ip_address,omitempty"`
	UserAgent string                 `json:"user_agent,omitempty"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// NewEntry builds an entry with a fresh request id
func NewEntry(userID int64, resource, action string, result Result) *AccessLogEntry {
	return &AccessLogEntry{
		RequestID: uuid.New(),
		UserID:    userID,
		Resource:  resource,
		Action:    action,
		Result:    result,
		Context:   make(map[string]interface{}),
	}
}

// ResourceCount is one row of the top resources ranking
type ResourceCount struct {
	Resource string `json:"resource"`
	Count    int64  `json:"count"`
}

// Stats summarizes access entries over a time window
type Stats struct {
	TotalAccesses  int64            `json:"total_accesses"`
	AccessByResult map[Result]int64 `json:"access_by_result"`
	TopResources   []ResourceCount  `json:"top_resources"`
	Start          time.Time        `json:"start"`
	End            time.Time        `json:"end"`
}

// Filter narrows a search of the access log. Zero fields are ignored.
type Filter struct {
	UserID    *int64     `json:"user_id,omitempty"`
	Resource  string     `json:"resource,omitempty"`
	Action    string     `json:"action,omitempty"`
	Result    Result     `json:"result,omitempty"`
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`

	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// TopResourcesLimit caps the ranking returned by QueryStatistics
const TopResourcesLimit = 10
