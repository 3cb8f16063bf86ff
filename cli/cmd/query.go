package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tranche/cli/render"
	"github.com/pithecene-io/tranche/runtime"
	"github.com/pithecene-io/tranche/types"
)

// Exit codes of the query commands.
const (
	exitSuccess    = 0
	exitError      = 1
	exitIncomplete = 2
	exitCanceled   = 3
)

// QueryResponse summarizes one query call.
type QueryResponse struct {
	QueryID    string            `json:"query_id" yaml:"query_id"`
	SObject    string            `json:"sobject" yaml:"sobject"`
	Files      []string          `json:"files" yaml:"files"`
	Unfinished []types.BatchInfo `json:"unfinished" yaml:"unfinished"`
	DoneJobs   int               `json:"done_jobs" yaml:"done_jobs"`
	Restarts   int               `json:"restarts" yaml:"restarts"`
	TimedOut   bool              `json:"timed_out" yaml:"timed_out"`
	SomeFailed bool              `json:"some_failed" yaml:"some_failed"`
	Complete   bool              `json:"complete" yaml:"complete"`
	Duration   time.Duration     `json:"duration" yaml:"duration"`
	Version    string            `json:"version" yaml:"version"`
}

func newQueryResponse(res *types.Result) QueryResponse {
	return QueryResponse{
		QueryID:    res.QueryID,
		SObject:    res.SObject,
		Files:      res.Filenames,
		Unfinished: res.UnfinishedBatches,
		DoneJobs:   len(res.DoneJobs),
		Restarts:   res.Restarts,
		TimedOut:   res.TimedOut,
		SomeFailed: res.SomeFailed,
		Complete:   res.Complete(),
		Duration:   res.Duration.Round(time.Millisecond),
		Version:    types.Version,
	}
}

// QueryCommand returns the query command.
// It runs one SOQL query to completion or until the time limit.
func QueryCommand() *cli.Command {
	return &cli.Command{
		Name:  "query",
		Usage: "Run a bulk query and download its batch payloads",
		Flags: append(queryFlags(),
			&cli.StringFlag{
				Name:     "soql",
				Aliases:  []string{"q"},
				Usage:    "Query text (the range filter is appended)",
				Required: true,
			},
		),
		Action: func(c *cli.Context) error {
			return queryAction(c, func(ctx context.Context, client *runtime.Client, sobject string, opts runtime.QueryOptions) (*types.Result, error) {
				return client.Query(ctx, sobject, c.String("soql"), opts)
			})
		},
	}
}

// FieldsCommand returns the fields command.
// It queries every non-compound field of the object.
func FieldsCommand() *cli.Command {
	return &cli.Command{
		Name:  "fields",
		Usage: "Run a bulk query over every field of an object",
		Flags: queryFlags(),
		Action: func(c *cli.Context) error {
			return queryAction(c, func(ctx context.Context, client *runtime.Client, sobject string, opts runtime.QueryOptions) (*types.Result, error) {
				return client.QueryFields(ctx, sobject, opts)
			})
		},
	}
}

type queryFunc func(ctx context.Context, client *runtime.Client, sobject string, opts runtime.QueryOptions) (*types.Result, error)

func queryAction(c *cli.Context, run queryFunc) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}

	opts := queryOptions(c)
	if !opts.From.IsZero() && !opts.To.IsZero() && !opts.From.Before(opts.To) {
		return cli.Exit("--from must be before --to", exitError)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := newSession(ctx, c)
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}
	defer s.Close()

	res, err := run(ctx, s.client, c.String("sobject"), opts)
	if res == nil {
		if err == nil {
			err = errors.New("query returned no result")
		}
		return cli.Exit(fmt.Sprintf("query failed: %v", err), exitError)
	}

	if !c.Bool("quiet") {
		if rerr := r.Render(newQueryResponse(res)); rerr != nil {
			return rerr
		}
	}

	return cli.Exit("", resultExitCode(res, err))
}

// resultExitCode maps a finished call to a process exit code.
func resultExitCode(res *types.Result, err error) int {
	switch {
	case errors.Is(err, context.Canceled):
		return exitCanceled
	case err != nil:
		return exitError
	case !res.Complete():
		return exitIncomplete
	default:
		return exitSuccess
	}
}
