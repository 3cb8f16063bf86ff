package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tranche/cli/render"
	"github.com/pithecene-io/tranche/lode"
	"github.com/pithecene-io/tranche/metrics"
	"github.com/pithecene-io/tranche/types"
)

// listWarningThreshold is the number of items above which we warn about using --limit.
const listWarningThreshold = 100

// isStderrTTY returns true if stderr is a TTY.
func isStderrTTY() bool {
	info, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

// InspectResponse is the deep view of one stored query manifest.
type InspectResponse struct {
	QueryID         string            `json:"query_id" yaml:"query_id"`
	SObject         string            `json:"sobject" yaml:"sobject"`
	Query           string            `json:"query" yaml:"query"`
	Range           types.TimeRange   `json:"range" yaml:"range"`
	StartedAt       string            `json:"started_at" yaml:"started_at"`
	CompletedAt     string            `json:"completed_at" yaml:"completed_at"`
	Files           []string          `json:"files" yaml:"files"`
	Unfinished      []types.BatchInfo `json:"unfinished" yaml:"unfinished"`
	Jobs            []types.JobInfo   `json:"jobs" yaml:"jobs"`
	TimedOut        bool              `json:"timed_out" yaml:"timed_out"`
	SomeFailed      bool              `json:"some_failed" yaml:"some_failed"`
	Restarts        int               `json:"restarts" yaml:"restarts"`
	Metrics         metrics.Snapshot  `json:"metrics" yaml:"metrics"`
	ManifestVersion string            `json:"manifest_version" yaml:"manifest_version"`
}

func newInspectResponse(m *lode.Manifest) InspectResponse {
	resp := InspectResponse{
		QueryID:         m.QueryID,
		SObject:         m.SObject,
		Query:           m.Query,
		Range:           m.Range,
		StartedAt:       formatTime(m.StartedAt),
		CompletedAt:     formatTime(m.CompletedAt),
		Jobs:            m.Jobs,
		Metrics:         m.Metrics,
		ManifestVersion: m.ManifestVersion,
	}
	if res := m.Result; res != nil {
		resp.Files = res.Filenames
		resp.Unfinished = res.UnfinishedBatches
		resp.TimedOut = res.TimedOut
		resp.SomeFailed = res.SomeFailed
		resp.Restarts = res.Restarts
	}
	return resp
}

// InspectCommand returns the inspect command.
// It reads a stored query manifest; it never contacts the remote service.
func InspectCommand() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "Inspect a finished query by ID",
		ArgsUsage: "<query-id>",
		Flags:     append([]cli.Flag{FormatFlag, ConfigFlag}, storageFlags()...),
		Action:    inspectAction,
	}
}

func inspectAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("query-id required", exitError)
	}
	queryID := c.Args().First()

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	store, err := openStore(c)
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}

	m, err := store.ReadManifest(c.Context, queryID)
	if err != nil {
		return cli.Exit(fmt.Sprintf("query %s: %v", queryID, err), exitError)
	}
	return r.Render(newInspectResponse(m))
}

// ListItem is the thin list view of a stored query.
type ListItem struct {
	QueryID string `json:"query_id" yaml:"query_id"`
}

// ListCommand returns the list command.
// List returns query IDs with a stored manifest, not inspect-level detail.
func ListCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List finished queries",
		Flags: append([]cli.Flag{
			FormatFlag,
			ConfigFlag,
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of queries to return (0 = no limit)",
			},
		}, storageFlags()...),
		Action: listAction,
	}
}

func listAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	store, err := openStore(c)
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}

	ids, err := store.ListManifests(c.Context)
	if err != nil {
		return cli.Exit(fmt.Sprintf("list queries: %v", err), exitError)
	}

	limit := c.Int("limit")
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	// Warn only on a TTY to avoid noise in pipelines.
	if len(ids) > listWarningThreshold && limit == 0 && isStderrTTY() {
		fmt.Fprintf(os.Stderr, "Warning: returning %d results. Consider using --limit to reduce output.\n\n", len(ids))
	}

	items := make([]ListItem, len(ids))
	for i, id := range ids {
		items[i] = ListItem{QueryID: id}
	}
	return r.Render(items)
}

// openStore resolves storage flags and config for read-only commands.
func openStore(c *cli.Context) (*lode.PayloadStore, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	return buildStore(c.Context, resolveStorage(c, cfg))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
