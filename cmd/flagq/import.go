package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/osvaldoandrade/flagq/pkg/domain"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
)

// importCmd enqueues one job per line of a JSON Lines file, paced so a round's
// worth of jobs does not trip the producer rate limit.
func importCmd(baseURL, producerToken *string, ui *ui) *cobra.Command {
	var (
		file string
		rps  float64
	)
	cmd := &cobra.Command{
		Use:     "import <push|pull>",
		Short:   "Enqueue jobs from a JSON Lines file",
		Example: "flagq job import push --file round-7.jsonl --rps 50",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			command, err := domain.ParseCommand(args[0])
			if err != nil {
				return err
			}
			if file == "" {
				return fmt.Errorf("file is required")
			}
			var r io.Reader = os.Stdin
			if file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			jobs, err := readJobLines(r, command)
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Println(ui.warn("[WARN]"), "No jobs found.")
				return nil
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			limit := rate.Inf
			if rps > 0 {
				limit = rate.Limit(rps)
			}
			lim := rate.NewLimiter(limit, 1)
			cl := newClient(*baseURL, *producerToken)
			path := "/v1/flagq/jobs/" + strings.ToLower(string(command))

			bar := progressbar.NewOptions(len(jobs),
				progressbar.OptionSetDescription("Enqueueing"),
				progressbar.OptionSetWidth(18),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
			)
			var queued, failed int
			for i, job := range jobs {
				if err := lim.Wait(ctx); err != nil {
					break
				}
				status, resp, err := cl.request("POST", path, job, nil)
				_ = bar.Add(1)
				if err != nil || status >= 300 {
					failed++
					if err == nil {
						err = fmt.Errorf("error (%d): %s", status, strings.TrimSpace(string(resp)))
					}
					fmt.Fprintf(os.Stderr, "\n%s line %d: %v\n", ui.err("[ERROR]"), i+1, err)
					continue
				}
				queued++
			}
			_ = bar.Finish()
			fmt.Printf("%s Queued %d of %d jobs (%d failed)\n", ui.ok("[OK]"), queued, len(jobs), failed)
			if failed > 0 {
				return fmt.Errorf("%d jobs were not queued", failed)
			}
			return ctx.Err()
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "JSON Lines file, one job per line (- for stdin)")
	cmd.Flags().Float64Var(&rps, "rps", 20, "Max requests per second (0 for unlimited)")
	return cmd
}

// readJobLines validates every line up front so a bad file enqueues nothing.
func readJobLines(r io.Reader, command domain.Command) ([]json.RawMessage, error) {
	var out []json.RawMessage
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	line := 0
	for sc.Scan() {
		line++
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 || b[0] == '#' {
			continue
		}
		if err := domain.DecodeJob(command, b); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, append(json.RawMessage(nil), b...))
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
