// Command sdlb runs a declarative data pipeline described by a directory
// of HCL configuration files.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/sdlb/smartdatalake/internal/backend/rest"
	"github.com/sdlb/smartdatalake/internal/backend/wsstream"
	"github.com/sdlb/smartdatalake/internal/cli"
	"github.com/sdlb/smartdatalake/internal/ctxlog"
	"github.com/sdlb/smartdatalake/internal/driver"
	"github.com/sdlb/smartdatalake/internal/registry"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	ctx := ctxlog.WithLogger(context.Background(), logger)

	opts, err := cli.Parse(args)
	if err != nil {
		return report(logger, err)
	}

	builders := map[string]registry.Builder{
		"rest":      rest.Builder{},
		"websocket": wsstream.Builder{},
	}

	result, err := driver.Run(ctx, opts, builders)
	if err != nil {
		return report(logger, err)
	}

	cli.RenderSummary(os.Stdout, opts.Name, result.RunID, result.AttemptID, result.Succeeded, result.Entries)
	if !result.Succeeded {
		return cli.ExitFailure
	}
	return cli.ExitSuccess
}

func report(logger *slog.Logger, err error) int {
	var exitErr *cli.ExitError
	if ok := asExitError(err, &exitErr); ok {
		fmt.Fprintln(os.Stderr, exitErr.Message)
		return exitErr.Code
	}
	logger.Error("run failed", "error", err)
	return cli.ExitFailure
}

func asExitError(err error, target **cli.ExitError) bool {
	for err != nil {
		if e, ok := err.(*cli.ExitError); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
