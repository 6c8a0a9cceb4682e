// Package basespace lists sequencing runs through the Illumina BaseSpace
// command line client (bs).
package basespace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"runmgr/pkg/domain"
)

// DefaultAPIServer is the public BaseSpace endpoint.
const DefaultAPIServer = "https://api.basespace.illumina.com/"

type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func runOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.Output()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
		return out, fmt.Errorf("%w: %s", err, strings.TrimSpace(string(exitErr.Stderr)))
	}
	return out, err
}

// Client invokes bs with a fixed set of connection flags.
type Client struct {
	Binary      string
	APIServer   string
	AccessToken string
	// ConfigName selects a named bs configuration.
	ConfigName string
	// Limit keeps only the most recent runs when positive.
	Limit int
	run   runFunc
}

// New returns a client for binary (bs when empty).
func New(binary, apiServer, accessToken, configName string) *Client {
	if binary == "" {
		binary = "bs"
	}
	if apiServer == "" {
		apiServer = DefaultAPIServer
	}
	return &Client{Binary: binary, APIServer: apiServer, AccessToken: accessToken, ConfigName: configName, run: runOutput}
}

// Args returns the argument list for a call with the given subcommand.
func (c *Client) Args(sub ...string) []string {
	args := []string{"--api-server", c.APIServer}
	if c.AccessToken != "" {
		args = append(args, "--access-token", c.AccessToken)
	}
	args = append(args, sub...)
	if c.ConfigName != "" {
		args = append(args, "-c", c.ConfigName)
	}
	return append(args, "-f", "json")
}

type runHeader struct {
	ID             domain.RunID `json:"Id"`
	ExperimentName string       `json:"ExperimentName"`
	DateCreated    string       `json:"DateCreated"`
	Status         string       `json:"Status"`
}

// ListRuns returns the account's runs, oldest first. Each run keeps its
// full JSON document as metadata.
func (c *Client) ListRuns(ctx context.Context) ([]domain.Run, error) {
	run := c.run
	if run == nil {
		run = runOutput
	}
	out, err := run(ctx, c.Binary, c.Args("list", "runs", "-F", "ExperimentName", "-F", "Status", "--sort-by=DateCreated")...)
	if err != nil {
		return nil, fmt.Errorf("bs list runs: %w", err)
	}
	runs, err := ParseRuns(out)
	if err != nil {
		return nil, err
	}
	if c.Limit > 0 && len(runs) > c.Limit {
		runs = runs[len(runs)-c.Limit:]
	}
	return runs, nil
}

// ParseRuns decodes the JSON array printed by bs list runs.
func ParseRuns(data []byte) ([]domain.Run, error) {
	var docs []json.RawMessage
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("decode run list: %w", err)
	}
	runs := make([]domain.Run, 0, len(docs))
	for i, doc := range docs {
		var h runHeader
		if err := json.Unmarshal(doc, &h); err != nil {
			return nil, fmt.Errorf("run %d: %w", i, err)
		}
		meta, err := domain.ParseRunMetadata(doc)
		if err != nil {
			return nil, fmt.Errorf("run %d: %w", h.ID, err)
		}
		runs = append(runs, domain.Run{
			ID:             int64(h.ID),
			ExperimentName: h.ExperimentName,
			DateCreated:    h.DateCreated,
			Status:         h.Status,
			Metadata:       meta,
		})
	}
	return runs, nil
}
