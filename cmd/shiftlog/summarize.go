package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nevindra/shiftlog"
	"github.com/nevindra/shiftlog/aggregate"
)

func newSummarizeCmd() *cobra.Command {
	var userID string
	var skipCache bool

	cmd := &cobra.Command{
		Use:   "summarize <timespan>",
		Short: "Generate and render an activity digest",
		Long: "Generate and render an activity digest for the given timespan: \"today\", " +
			"\"yesterday\", \"last-week\", a single \"YYYY-MM-DD\" day, or an inclusive " +
			"\"YYYY-MM-DD..YYYY-MM-DD\" range.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSummarize(cmd, args[0], userID, skipCache)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id to summarize (default: the token's own user)")
	cmd.Flags().BoolVar(&skipCache, "skip-cache", false, "bypass the fetch cache and re-fetch everything")
	return cmd
}

func runSummarize(cmd *cobra.Command, timespan, userID string, skipCache bool) error {
	// SIGINT/SIGTERM trigger the same graceful shutdown path as the teacher's
	// cmd/oasis (signal.NotifyContext), so in-flight LLM/RPC calls get a
	// chance to unwind rather than being killed mid-write.
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.close(ctx)

	opts, err := aggregatorOptionsWithFlags(rt, skipCache)
	if err != nil {
		return err
	}

	r, err := aggregate.ParseTimespan(timespan, opts.Location, time.Now())
	if err != nil {
		return err
	}

	agg := aggregate.New(rt.chat, rt.store, rt.rpc, rt.llm, rt.embed, rt.inst, opts)

	progress := make(chan shiftlog.ProgressEvent, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for evt := range progress {
			printProgress(evt)
		}
	}()

	report, err := agg.Run(ctx, userID, r, progress)
	<-done
	if err != nil {
		return err
	}

	renderReport(cmd.OutOrStdout(), report)
	return nil
}

func aggregatorOptionsWithFlags(rt *runtime, skipCache bool) (aggregate.Options, error) {
	opts, err := rt.aggregatorOptions()
	if err != nil {
		return opts, err
	}
	opts.SkipCache = skipCache
	return opts, nil
}

func printProgress(evt shiftlog.ProgressEvent) {
	if evt.Channel != "" {
		fmt.Fprintf(os.Stderr, "[%s] %s (%d/%d)\n", evt.Stage, evt.Channel, evt.Current, evt.Total)
		return
	}
	fmt.Fprintf(os.Stderr, "[%s] %s\n", evt.Stage, evt.Message)
}
