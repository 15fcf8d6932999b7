package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/osvaldoandrade/flagq/pkg/domain"

	"github.com/spf13/cobra"
)

type taskResp struct {
	ID      string         `json:"id"`
	Command string         `json:"command"`
	Status  string         `json:"status"`
	Result  *domain.Result `json:"result,omitempty"`
	Error   string         `json:"error,omitempty"`
}

type jobFlags struct {
	file           string
	payload        string
	endpoint       string
	flag           string
	adjunct        string
	requestID      string
	round          int
	service        string
	team           string
	timestamp      string
	reportURL      string
	idempotencyKey string
}

func (f *jobFlags) bind(cmd *cobra.Command, pull bool) {
	cmd.Flags().StringVar(&f.file, "file", "", "Read the job JSON from a file (- for stdin)")
	cmd.Flags().StringVar(&f.payload, "payload", "", "Job JSON")
	cmd.Flags().StringVar(&f.endpoint, "endpoint", "", "Target endpoint (host or address)")
	cmd.Flags().StringVar(&f.flag, "flag", "", "Flag value")
	cmd.Flags().StringVar(&f.adjunct, "adjunct", "", "Adjunct text, base64url-encoded before sending")
	cmd.Flags().IntVar(&f.round, "round", 0, "Exercise round")
	cmd.Flags().StringVar(&f.service, "service", "", "Service name")
	cmd.Flags().StringVar(&f.team, "team", "", "Team name")
	cmd.Flags().StringVar(&f.timestamp, "timestamp", "", "Creation time, RFC 3339 (default now)")
	cmd.Flags().StringVar(&f.reportURL, "report-url", "", "Controller endpoint that receives the outcome")
	cmd.Flags().StringVar(&f.idempotencyKey, "idempotency-key", "", "Idempotency key")
	if pull {
		cmd.Flags().StringVar(&f.requestID, "request-id", "", "Pull request id (JSON value, plain text is sent as a string)")
	}
}

// envelope returns the job JSON, either as given or built from flags.
func (f *jobFlags) envelope(cmd domain.Command, now time.Time) (json.RawMessage, error) {
	raw := strings.TrimSpace(f.payload)
	if f.file != "" {
		var (
			data []byte
			err  error
		)
		if f.file == "-" {
			data, err = io.ReadAll(os.Stdin)
		} else {
			data, err = os.ReadFile(f.file)
		}
		if err != nil {
			return nil, fmt.Errorf("read job file: %w", err)
		}
		raw = strings.TrimSpace(string(data))
	}
	if raw != "" {
		if !json.Valid([]byte(raw)) {
			return nil, errors.New("invalid job JSON")
		}
		return json.RawMessage(raw), nil
	}

	if strings.TrimSpace(f.endpoint) == "" {
		return nil, errors.New("endpoint is required")
	}
	if strings.TrimSpace(f.reportURL) == "" {
		return nil, errors.New("report-url is required")
	}
	ts := f.timestamp
	if ts == "" {
		ts = now.UTC().Format(time.RFC3339Nano)
	}
	env := domain.JobEnvelope{
		Params: domain.JobParams{
			Endpoint: f.endpoint,
			Flag:     f.flag,
			Adjunct:  domain.EncodeAdjunct([]byte(f.adjunct)),
		},
		Metadata: domain.JobMetadata{
			Round:       f.round,
			ServiceName: f.service,
			TeamName:    f.team,
			Timestamp:   ts,
		},
		ReportURL: f.reportURL,
	}
	if cmd == domain.CmdPull {
		rid := strings.TrimSpace(f.requestID)
		if rid == "" {
			return nil, errors.New("request-id is required")
		}
		if json.Valid([]byte(rid)) {
			env.Params.RequestID = json.RawMessage(rid)
		} else {
			b, _ := json.Marshal(rid)
			env.Params.RequestID = b
		}
	}
	b, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func jobCmd(baseURL, producerToken *string, ui *ui) *cobra.Command {
	enqueue := func(command domain.Command) *cobra.Command {
		var f jobFlags
		name := strings.ToLower(string(command))
		c := &cobra.Command{
			Use:   name,
			Short: fmt.Sprintf("Enqueue a %s job", name),
			RunE: func(cmd *cobra.Command, args []string) error {
				body, err := f.envelope(command, time.Now())
				if err != nil {
					return err
				}
				// Catch obvious mistakes before the round trip; the server validates again.
				if err := domain.DecodeJob(command, body); err != nil {
					return err
				}
				cl := newClient(*baseURL, *producerToken)
				resp, err := cl.call("Enqueueing job...", "POST", "/v1/flagq/jobs/"+name, body,
					map[string]string{"Idempotency-Key": f.idempotencyKey})
				if err != nil {
					return err
				}
				var out taskResp
				if err := json.Unmarshal(resp, &out); err != nil {
					fmt.Println(string(resp))
					return nil
				}
				fmt.Printf("%s Job queued: %s (%s)\n", ui.ok("[OK]"), out.ID, out.Command)
				return nil
			},
		}
		f.bind(c, command == domain.CmdPull)
		return c
	}

	get := &cobra.Command{
		Use:     "get <id>",
		Short:   "Show a job",
		Example: "flagq job get 5f2c1a5e-0b57-4a8e-9a40-0f4d1d2f3c11",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl := newClient(*baseURL, *producerToken)
			resp, err := cl.call("Fetching job...", "GET", "/v1/flagq/jobs/"+url.PathEscape(args[0]), nil, nil)
			if err != nil {
				return err
			}
			var out taskResp
			if err := json.Unmarshal(resp, &out); err != nil {
				fmt.Println(string(resp))
				return nil
			}
			printTask(ui, out)
			return nil
		},
	}

	cmd := &cobra.Command{
		Use:   "job",
		Short: "Job operations",
	}
	cmd.AddCommand(enqueue(domain.CmdPush), enqueue(domain.CmdPull), get, importCmd(baseURL, producerToken, ui))
	return cmd
}

func printTask(ui *ui, t taskResp) {
	fmt.Printf("%s %s\n", ui.title(t.Command), t.ID)
	status := ui.info(t.Status)
	switch domain.TaskStatus(t.Status) {
	case domain.StatusCompleted:
		status = ui.ok(t.Status)
	case domain.StatusFailed:
		status = ui.err(t.Status)
	}
	fmt.Printf("%s Status: %s\n", ui.info("•"), status)
	if t.Result != nil {
		fmt.Printf("%s Result: %s\n", ui.info("•"), t.Result.Key())
	}
	if t.Error != "" {
		fmt.Printf("%s Error:  %s\n", ui.info("•"), ui.dim(t.Error))
	}
}
