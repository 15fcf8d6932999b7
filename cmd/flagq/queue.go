package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/osvaldoandrade/flagq/pkg/domain"

	"github.com/spf13/cobra"
)

func queueCmd(baseURL, producerToken *string, ui *ui) *cobra.Command {
	inspect := &cobra.Command{
		Use:       "inspect <push|pull>",
		Short:     "Inspect queue depth",
		Example:   "flagq queue inspect push",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"push", "pull"},
		RunE: func(cmd *cobra.Command, args []string) error {
			command, err := domain.ParseCommand(args[0])
			if err != nil {
				return err
			}
			name := strings.ToLower(string(command))
			cl := newClient(*baseURL, *producerToken)
			resp, err := cl.call("Inspecting queue...", "GET", "/v1/flagq/queues/"+name, nil, nil)
			if err != nil {
				return err
			}
			var out domain.QueueStats
			if err := json.Unmarshal(resp, &out); err != nil {
				fmt.Println(string(resp))
				return nil
			}
			fmt.Printf("%s: %d | %s: %d | %s: %d %s\n",
				ui.ok("READY"), out.Ready,
				ui.info("IN_PROGRESS"), out.InProgress,
				ui.err("DLQ"), out.DLQ,
				ui.dim(fmt.Sprintf("(backlog %d)", out.Backlog())),
			)
			return nil
		},
	}

	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Queue operations",
	}
	cmd.AddCommand(inspect)
	return cmd
}
