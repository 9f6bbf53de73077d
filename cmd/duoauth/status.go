// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/holomush/duoauth/internal/config"
)

// ProbeStatus holds the result of one health probe.
type ProbeStatus struct {
	Probe  string `json:"probe"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// statusConfig holds configuration for the status command.
type statusConfig struct {
	addr       string
	jsonOutput bool
	timeout    time.Duration
}

// newStatusCmd creates the status subcommand.
func newStatusCmd() *cobra.Command {
	cfg := &statusConfig{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the health of a running duoauth server",
		Long:  `Query the liveness and readiness probes of a running server.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("metrics-addr") {
				loaded, err := config.Load(config.Locate(configFile), nil)
				if err != nil {
					return err
				}
				cfg.addr = loaded.Metrics.Addr
			}
			return runStatus(cmd, cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.addr, "metrics-addr", config.Default().Metrics.Addr, "metrics/health HTTP address of the server")
	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output status as JSON")
	cmd.Flags().DurationVar(&cfg.timeout, "timeout", 2*time.Second, "probe timeout")

	return cmd
}

func runStatus(cmd *cobra.Command, cfg *statusConfig) error {
	if cfg.addr == "" {
		return fmt.Errorf("metrics address is empty; the server has no health endpoint")
	}

	client := &http.Client{Timeout: cfg.timeout}
	statuses := []ProbeStatus{
		probe(client, cfg.addr, "liveness"),
		probe(client, cfg.addr, "readiness"),
	}

	if cfg.jsonOutput {
		data, err := json.MarshalIndent(statuses, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal status: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	cmd.Print(formatStatusTable(statuses))
	return nil
}

func probe(client *http.Client, addr, name string) ProbeStatus {
	status := ProbeStatus{Probe: name}

	resp, err := client.Get("http://" + addr + "/healthz/" + name)
	if err != nil {
		status.Detail = fmt.Sprintf("failed to connect: %v", err)
		return status
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	status.OK = resp.StatusCode == http.StatusOK
	status.Detail = strings.TrimSpace(string(body))
	return status
}

func formatStatusTable(statuses []ProbeStatus) string {
	var sb strings.Builder
	w := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintln(w, "PROBE\tSTATUS\tDETAIL")
	for _, s := range statuses {
		state := "ok"
		if !s.OK {
			state = "failing"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", s.Probe, state, s.Detail)
	}

	_ = w.Flush()
	return sb.String()
}
