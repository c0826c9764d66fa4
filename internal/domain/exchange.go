package domain

// Exchange is a single recorded chat turn.
type Exchange struct {
	PK            string
	SK            string
	ID            string
	CorrelationID string
	Message       string
	Response      string
	Blocked       bool
	Actions       []string
	CreatedAt     string
	TTL           int64
}
