package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

type ui struct {
	title func(a ...any) string
	ok    func(a ...any) string
	info  func(a ...any) string
	warn  func(a ...any) string
	err   func(a ...any) string
	dim   func(a ...any) string
}

func newUI() *ui {
	return &ui{
		title: color.New(color.FgHiCyan, color.Bold).SprintFunc(),
		ok:    color.New(color.FgGreen, color.Bold).SprintFunc(),
		info:  color.New(color.FgCyan).SprintFunc(),
		warn:  color.New(color.FgYellow).SprintFunc(),
		err:   color.New(color.FgRed, color.Bold).SprintFunc(),
		dim:   color.New(color.FgHiBlack).SprintFunc(),
	}
}

func main() {
	baseURL := getenv("FLAGQ_BASE_URL", "http://localhost:8080")
	producerToken := getenv("FLAGQ_PRODUCER_TOKEN", "")
	profileName := getenv("FLAGQ_PROFILE", "")
	ui := newUI()

	root := &cobra.Command{
		Use:   "flagq",
		Short: "flagq CLI",
		Long:  "flagq CLI for enqueueing checker jobs, inspecting queues and running workers.",
	}
	root.SetHelpTemplate(helpTemplate(ui))
	root.SilenceUsage = true

	root.PersistentFlags().StringVar(&baseURL, "base-url", baseURL, "Base URL for the flagq API")
	root.PersistentFlags().StringVar(&producerToken, "producer-token", producerToken, "Producer token")
	root.PersistentFlags().StringVar(&profileName, "profile", profileName, "Config profile")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, _, _ := loadConfig()
		active := resolveProfileName(profileName, cfg)
		prof := cfg.Profiles[active]

		flags := cmd.Flags()
		if !flags.Changed("base-url") {
			if v := strings.TrimSpace(os.Getenv("FLAGQ_BASE_URL")); v != "" {
				baseURL = v
			} else if prof.BaseURL != "" {
				baseURL = prof.BaseURL
			}
		}
		if !flags.Changed("producer-token") {
			if v := strings.TrimSpace(os.Getenv("FLAGQ_PRODUCER_TOKEN")); v != "" {
				producerToken = v
			} else if prof.ProducerToken != "" {
				producerToken = prof.ProducerToken
			}
		}
		if !flags.Changed("profile") && profileName == "" {
			profileName = active
		}
		return nil
	}

	root.AddCommand(initCmd(&profileName, ui))
	root.AddCommand(jobCmd(&baseURL, &producerToken, ui))
	root.AddCommand(queueCmd(&baseURL, &producerToken, ui))
	root.AddCommand(workerCmd(ui))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.err("[ERROR]"), err.Error())
		os.Exit(1)
	}
}

func helpTemplate(ui *ui) string {
	title := ui.title("flagq")
	return fmt.Sprintf(`%s: checker job harness CLI

Usage:
  {{.UseLine}}

Commands:
{{range .Commands}}{{if (or .IsAvailableCommand .IsAdditionalHelpTopicCommand)}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}

Flags:
  {{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}

Global Flags:
  {{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}

Config:
  %s

Examples:
  flagq init
  flagq job push --endpoint 10.60.3.2 --flag FLAG123 --round 7 --service vault --team red --report-url http://controller/api/checker/v2/report_push
  flagq job pull --file pull.json --idempotency-key round-7-red
  flagq queue inspect push
  flagq worker start --concurrency 8

`, title, configPath())
}

func getenv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func maskToken(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "<unset>"
	}
	if len(v) <= 8 {
		return "****"
	}
	return v[:4] + "..." + v[len(v)-4:]
}

func emptyOr(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
