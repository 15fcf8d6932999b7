package domain

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Metadata describes the exercise context of a job. It is never mutated after decode.
type Metadata struct {
	Round       int       `json:"round"`
	ServiceName string    `json:"service_name"`
	TeamName    string    `json:"team_name"`
	Timestamp   time.Time `json:"timestamp"`
}

// PushJob stores a flag on a team's service.
type PushJob struct {
	Endpoint  string
	Flag      string
	Adjunct   []byte
	Metadata  Metadata
	ReportURL *url.URL
}

// PullJob retrieves a flag previously stored by a push.
type PullJob struct {
	RequestID json.RawMessage
	Endpoint  string
	Flag      string
	Adjunct   []byte
	// AdjunctText is params.adjunct as received, before decoding.
	AdjunctText string
	Metadata    Metadata
	ReportURL   *url.URL
}

// JobEnvelope is the queued payload as submitted by the controller.
type JobEnvelope struct {
	Params    JobParams   `json:"params"`
	Metadata  JobMetadata `json:"metadata"`
	ReportURL string      `json:"report_url"`
}

type JobParams struct {
	RequestID json.RawMessage `json:"request_id,omitempty"`
	Endpoint  string          `json:"endpoint"`
	Flag      string          `json:"flag"`
	Adjunct   string          `json:"adjunct"`
}

type JobMetadata struct {
	Round       int    `json:"round"`
	ServiceName string `json:"service_name"`
	TeamName    string `json:"team_name"`
	Timestamp   string `json:"timestamp"`
}

// DecodeError reports a structurally invalid job payload.
type DecodeError struct {
	Field string
	Err   error
}

func (e *DecodeError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("decode job: %v", e.Err)
	}
	return fmt.Sprintf("decode job: %s: %v", e.Field, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp accepts RFC 3339 instants with optional fractional seconds.
// Values without a zone are read as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

var stdToURLAlphabet = strings.NewReplacer("+", "-", "/", "_")

// DecodeAdjunct decodes URL-safe base64 with or without padding. Characters of
// the standard alphabet ('+', '/') are accepted too.
func DecodeAdjunct(s string) ([]byte, error) {
	s = stdToURLAlphabet.Replace(s)
	if m := len(s) % 4; m != 0 {
		s += strings.Repeat("=", 4-m)
	}
	b, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if b == nil {
		b = []byte{}
	}
	return b, nil
}

// EncodeAdjunct encodes with the padded URL-safe alphabet.
func EncodeAdjunct(b []byte) string {
	return base64.URLEncoding.EncodeToString(b)
}

func parseReportURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("must be an absolute http(s) URL")
	}
	return u, nil
}

func decodeEnvelope(payload []byte) (JobEnvelope, []byte, Metadata, *url.URL, error) {
	var env JobEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return env, nil, Metadata{}, nil, &DecodeError{Err: err}
	}
	adjunct, err := DecodeAdjunct(env.Params.Adjunct)
	if err != nil {
		return env, nil, Metadata{}, nil, &DecodeError{Field: "params.adjunct", Err: err}
	}
	ts, err := ParseTimestamp(env.Metadata.Timestamp)
	if err != nil {
		return env, nil, Metadata{}, nil, &DecodeError{Field: "metadata.timestamp", Err: err}
	}
	u, err := parseReportURL(env.ReportURL)
	if err != nil {
		return env, nil, Metadata{}, nil, &DecodeError{Field: "report_url", Err: err}
	}
	md := Metadata{
		Round:       env.Metadata.Round,
		ServiceName: env.Metadata.ServiceName,
		TeamName:    env.Metadata.TeamName,
		Timestamp:   ts,
	}
	return env, adjunct, md, u, nil
}

func DecodePushJob(payload []byte) (PushJob, error) {
	env, adjunct, md, u, err := decodeEnvelope(payload)
	if err != nil {
		return PushJob{}, err
	}
	return PushJob{
		Endpoint:  env.Params.Endpoint,
		Flag:      env.Params.Flag,
		Adjunct:   adjunct,
		Metadata:  md,
		ReportURL: u,
	}, nil
}

func DecodePullJob(payload []byte) (PullJob, error) {
	env, adjunct, md, u, err := decodeEnvelope(payload)
	if err != nil {
		return PullJob{}, err
	}
	rid := bytes.TrimSpace(env.Params.RequestID)
	if len(rid) == 0 {
		return PullJob{}, &DecodeError{Field: "params.request_id", Err: fmt.Errorf("missing")}
	}
	return PullJob{
		RequestID:   append(json.RawMessage(nil), rid...),
		Endpoint:    env.Params.Endpoint,
		Flag:        env.Params.Flag,
		Adjunct:     adjunct,
		AdjunctText: env.Params.Adjunct,
		Metadata:    md,
		ReportURL:   u,
	}, nil
}

// DecodeJob validates a payload for the given command.
func DecodeJob(cmd Command, payload []byte) error {
	switch cmd {
	case CmdPush:
		_, err := DecodePushJob(payload)
		return err
	case CmdPull:
		_, err := DecodePullJob(payload)
		return err
	default:
		return &DecodeError{Field: "command", Err: fmt.Errorf("unsupported %q", cmd)}
	}
}
