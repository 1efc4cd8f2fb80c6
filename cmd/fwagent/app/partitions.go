package app

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/autopeer-io/fwagent/internal/fwagent/partition"
)

func newPartitionsCommand() *cobra.Command {
	var (
		server  string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "partitions",
		Short: "Print the partition table of a running agent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			views, err := fetchPartitions(server, timeout)
			if err != nil {
				return err
			}
			printPartitions(cmd.OutOrStdout(), views)
			return nil
		},
	}

	cmd.Flags().StringVar(&server, "server", "http://127.0.0.1:8080", "Base URL of the agent's local HTTP server.")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Request timeout.")
	return cmd
}

func fetchPartitions(server string, timeout time.Duration) ([]partition.View, error) {
	client := &http.Client{Timeout: timeout}
	resp, err := client.Get(strings.TrimSuffix(server, "/") + "/api/v1/partitions")
	if err != nil {
		return nil, fmt.Errorf("failed to query agent: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("agent returned %s", resp.Status)
	}

	var views []partition.View
	if err := json.NewDecoder(resp.Body).Decode(&views); err != nil {
		return nil, fmt.Errorf("failed to decode partition table: %w", err)
	}
	return views, nil
}

func printPartitions(w io.Writer, views []partition.View) {
	table := uitable.New()
	table.MaxColWidth = 40
	table.AddRow("LABEL", "ROLE", "OFFSET", "SIZE", "STATE", "VERSION", "RUNNING", "BOOT")
	for _, v := range views {
		table.AddRow(v.Label, v.Role, fmt.Sprintf("0x%x", v.Offset), v.Size, v.State, v.Version, mark(v.Running), mark(v.Boot))
	}
	fmt.Fprintln(w, table)
}

func mark(b bool) string {
	if b {
		return "*"
	}
	return ""
}
