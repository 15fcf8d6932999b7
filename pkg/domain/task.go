package domain

import (
	"encoding"
	"fmt"
	"strings"
	"time"
)

type Command string

const (
	CmdPush Command = "PUSH"
	CmdPull Command = "PULL"
)

// Commands lists the operations a worker consumes.
func Commands() []Command { return []Command{CmdPush, CmdPull} }

func (c Command) Valid() bool { return c == CmdPush || c == CmdPull }

// ParseCommand accepts either case ("push", "PULL").
func ParseCommand(s string) (Command, error) {
	c := Command(strings.ToUpper(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown command %q (want push or pull)", s)
	}
	return c, nil
}

type TaskStatus string

const (
	StatusPending    TaskStatus = "PENDING"
	StatusInProgress TaskStatus = "IN_PROGRESS"
	StatusCompleted  TaskStatus = "COMPLETED"
	StatusFailed     TaskStatus = "FAILED"
)

type TaskLocation string

const (
	LocationPending    TaskLocation = "PENDING_LIST"
	LocationInProgress TaskLocation = "INPROG_SET"
	LocationDLQ        TaskLocation = "DLQ_LIST"
	LocationNone       TaskLocation = "NONE"
)

// Task is the queue envelope around a job payload.
type Task struct {
	ID      string  `json:"id"`
	Command Command `json:"command"`
	Payload string  `json:"payload"` // job JSON as submitted
	// TraceParent/TraceState carry W3C trace context from the enqueue request to the worker.
	TraceParent string     `json:"traceParent,omitempty"`
	TraceState  string     `json:"traceState,omitempty"`
	Status      TaskStatus `json:"status"`
	// lastKnownLocation is a hint for cleanup; it is not authoritative.
	LastKnownLocation TaskLocation `json:"lastKnownLocation,omitempty"`
	WorkerID          string       `json:"workerId,omitempty"`
	LeaseUntil        string       `json:"leaseUntil,omitempty"` // RFC3339
	Result            *Result      `json:"result,omitempty"`
	Error             string       `json:"error,omitempty"`
	CreatedAt         time.Time    `json:"createdAt"`
	UpdatedAt         time.Time    `json:"updatedAt"`
}

var (
	_ encoding.BinaryMarshaler = Command("")
	_ encoding.TextMarshaler   = Command("")
	_ encoding.BinaryMarshaler = TaskStatus("")
	_ encoding.TextMarshaler   = TaskStatus("")
)

func (c Command) MarshalBinary() ([]byte, error) { return []byte(string(c)), nil }
func (c Command) MarshalText() ([]byte, error)   { return []byte(string(c)), nil }

func (s TaskStatus) MarshalBinary() ([]byte, error) { return []byte(string(s)), nil }
func (s TaskStatus) MarshalText() ([]byte, error)   { return []byte(string(s)), nil }
