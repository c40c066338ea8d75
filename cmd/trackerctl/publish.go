package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/darkden-lab/argus-tracker/internal/location"
)

type publishOptions struct {
	server    string
	token     string
	eventID   int64
	latitude  string
	longitude string
	speed     float64
}

func newPublishCmd() *cobra.Command {
	var opts publishOptions
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Send one location report to a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPublish(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.server, "server", "http://localhost:8080", "tracker server URL")
	cmd.Flags().StringVar(&opts.token, "token", "", "bearer token (see 'trackerctl token')")
	cmd.Flags().Int64Var(&opts.eventID, "event", 0, "event to report into")
	cmd.Flags().StringVar(&opts.latitude, "lat", "", "latitude")
	cmd.Flags().StringVar(&opts.longitude, "lon", "", "longitude")
	cmd.Flags().Float64Var(&opts.speed, "speed", 0, "speed telemetry, omitted when zero")
	for _, f := range []string{"token", "event", "lat", "lon"} {
		cmd.MarkFlagRequired(f) //nolint:errcheck
	}
	return cmd
}

func runPublish(cmd *cobra.Command, opts publishOptions) error {
	body := map[string]interface{}{
		"latitude":  opts.latitude,
		"longitude": opts.longitude,
	}
	if opts.speed != 0 {
		speed := opts.speed
		body["telemetry"] = location.Telemetry{Speed: &speed}
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/api/events/%d/locations", strings.TrimRight(opts.server, "/"), opts.eventID)
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+opts.token)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach server: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("server returned %s: %s", resp.Status, strings.TrimSpace(string(respBody)))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Queued: %s\n", strings.TrimSpace(string(respBody)))
	return nil
}
