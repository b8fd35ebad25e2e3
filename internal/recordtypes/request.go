package recordtypes

// RequestStatus is where a request sits in the admission pipeline.
type RequestStatus string

const (
	StatusInQueue    RequestStatus = "inQueue"
	StatusInProgress RequestStatus = "inProgress"
)

// RequestRecord is one outbound call tracked across the fleet. It is
// created by the originating instance and mirrored to the controller via
// the requestAdded channel.
type RequestRecord struct {
	RequestID  string        `json:"requestId"`
	ClientName string        `json:"clientName"`
	Status     RequestStatus `json:"status"`
	Priority   int           `json:"priority"`
	Cost       int           `json:"cost"`
	TimestampMs int64        `json:"timestamp"`
	Retries    int           `json:"retries"`
}

// Rank orders two requests per the §4.4 priority discipline:
// higher priority first, then higher retries, then earlier timestamp,
// then lexicographically smaller request id. Returns true if r should
// be admitted before other.
func (r *RequestRecord) Rank(other *RequestRecord) bool {
	if r.Priority != other.Priority {
		return r.Priority > other.Priority
	}

	if r.Retries != other.Retries {
		return r.Retries > other.Retries
	}

	if r.TimestampMs != other.TimestampMs {
		return r.TimestampMs < other.TimestampMs
	}

	return r.RequestID < other.RequestID
}

// RequestOutcome is the payload published on requestDone.
type RequestOutcome struct {
	RequestID     string `json:"requestId"`
	ClientName    string `json:"clientName"`
	Cost          int    `json:"cost"`
	Success       bool   `json:"success"`
	StatusCode    int    `json:"statusCode,omitempty"`
	WaitTimeMs    int64  `json:"waitTimeMs"`
	IsRateLimited bool   `json:"isRateLimited"`
	WillRetry     bool   `json:"willRetry"`
}
