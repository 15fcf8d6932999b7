package domain

import "encoding/json"

// PushReport is the outcome body of a push job.
type PushReport struct {
	Status  Result `json:"status"`
	Flag    string `json:"flag"`
	Adjunct string `json:"adjunct"`
}

// PullReport is the outcome body of a pull job. RequestID is echoed verbatim.
type PullReport struct {
	RequestID json.RawMessage `json:"request_id"`
	Status    Result          `json:"status"`
}

func NewPushReport(status Result, flag string, adjunct []byte) PushReport {
	return PushReport{Status: status, Flag: flag, Adjunct: EncodeAdjunct(adjunct)}
}

func NewPullReport(requestID json.RawMessage, status Result) PullReport {
	return PullReport{RequestID: requestID, Status: status}
}
