// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

// ProbeStatus holds the result of one health probe.
type ProbeStatus struct {
	Probe  string `json:"probe"`
	OK     bool   `json:"ok"`
	Code   int    `json:"code,omitempty"`
	Detail string `json:"detail,omitempty"`
	Error  string `json:"error,omitempty"`
}

// statusConfig holds configuration for the status command.
type statusConfig struct {
	jsonOutput bool
	timeout    time.Duration
}

// NewStatusCmd creates the status subcommand.
func NewStatusCmd() *cobra.Command {
	cfg := &statusConfig{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show health of a running gatekeeper",
		Long: `Query the liveness and readiness probes of a running gatekeeper on the
observability address (metrics.addr).`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, cfg)
		},
	}

	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output status as JSON")
	cmd.Flags().DurationVar(&cfg.timeout, "timeout", 2*time.Second, "per-probe timeout")

	return cmd
}

func runStatus(cmd *cobra.Command, cfg *statusConfig) error {
	loaded, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	addr := loaded.Config.Metrics.Addr
	if addr == "" {
		return oops.Code("CONFIG_INVALID").Errorf("metrics.addr is empty; the health endpoints are disabled")
	}

	client := &http.Client{Timeout: cfg.timeout}
	statuses := []ProbeStatus{
		queryProbe(cmd.Context(), client, addr, "liveness"),
		queryProbe(cmd.Context(), client, addr, "readiness"),
	}

	if cfg.jsonOutput {
		data, err := json.MarshalIndent(statuses, "", "  ")
		if err != nil {
			return oops.Code("OUTPUT_FAILED").Wrap(err)
		}
		cmd.Println(string(data))
	} else {
		cmd.Println(formatStatusTable(addr, statuses))
	}

	for _, s := range statuses {
		if !s.OK {
			return oops.Code("NOT_READY").With("probe", s.Probe).Errorf("gatekeeper at %s is not healthy", addr)
		}
	}
	return nil
}

// queryProbe GETs /healthz/<probe> on addr.
func queryProbe(ctx context.Context, client *http.Client, addr, probe string) ProbeStatus {
	status := ProbeStatus{Probe: probe}

	url := "http://" + addr + "/healthz/" + probe
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		status.Error = fmt.Sprintf("failed to build request: %v", err)
		return status
	}
	resp, err := client.Do(req)
	if err != nil {
		status.Error = fmt.Sprintf("failed to connect: %v", err)
		return status
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024)) //nolint:errcheck // detail is informational
	status.Code = resp.StatusCode
	status.Detail = strings.TrimSpace(string(body))
	status.OK = resp.StatusCode == http.StatusOK
	return status
}

// formatStatusTable formats probe results as a human-readable table.
func formatStatusTable(addr string, statuses []ProbeStatus) string {
	var b strings.Builder
	fmt.Fprintf(&b, "gatekeeper at %s\n", addr)
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintln(w, "PROBE\tSTATUS\tCODE\tDETAIL")
	_, _ = fmt.Fprintln(w, "-----\t------\t----\t------")
	for _, s := range statuses {
		state := "ok"
		if !s.OK {
			state = "failing"
		}
		detail := s.Detail
		if s.Error != "" {
			detail = s.Error
		}
		code := "-"
		if s.Code != 0 {
			code = fmt.Sprintf("%d", s.Code)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.Probe, state, code, detail)
	}

	_ = w.Flush()
	return strings.TrimRight(b.String(), "\n")
}
