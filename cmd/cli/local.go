package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"script-executor/internal/engine"
	"script-executor/internal/engine/goeval"
	"script-executor/internal/executor"
	"script-executor/internal/watch"
)

type localFlags struct {
	engine  string
	imports []string
	events  bool
}

func (f *localFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.engine, "engine", goeval.Name, "Evaluation engine")
	cmd.Flags().StringSliceVar(&f.imports, "allow-import", nil, `Importable packages (default: safe stdlib subset, "*" for all)`)
	cmd.Flags().BoolVar(&f.events, "events", false, "Print every classified event instead of the transcript")
}

func (f *localFlags) executor() (*executor.Executor, error) {
	engines := engine.NewRegistry()
	goeval.Register(engines, goeval.Options{AllowedImports: f.imports})
	factory, err := engines.Get(f.engine)
	if err != nil {
		return nil, err
	}
	return executor.New(factory, executor.WithLogger(log.Logger)), nil
}

func newRunCmd() *cobra.Command {
	var flags localFlags
	cmd := &cobra.Command{
		Use:   "run [script]...",
		Short: "Run scripts locally and print their transcripts",
		Long: "Run each script in order against a fresh engine. The exit status is 1\n" +
			"when the last evaluated unit of the last script failed.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			x, err := flags.executor()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			for _, script := range args {
				if err := x.Run(cmd.Context(), script); err != nil {
					return err
				}
				rec, _ := x.Get(script)
				printRecord(out, rec, flags.events, len(args) > 1)
			}

			if last, ok := x.LastOutcome(); ok && last == executor.Failure {
				return &exitError{code: 1}
			}
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newWatchCmd() *cobra.Command {
	var flags localFlags
	var debounce time.Duration
	cmd := &cobra.Command{
		Use:   "watch [script]...",
		Short: "Run scripts and re-run them whenever they change",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			x, err := flags.executor()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			runAndPrint := func(ctx context.Context, script string) error {
				if err := x.Run(ctx, script); err != nil {
					return err
				}
				rec, _ := x.Get(script)
				printRecord(out, rec, flags.events, true)
				return nil
			}

			w, err := watch.New(runAndPrint, watch.WithDebounce(debounce), watch.WithLogger(log.Logger))
			if err != nil {
				return err
			}
			defer w.Stop()

			scripts, err := watchTargets(args)
			if err != nil {
				return err
			}
			for _, script := range scripts {
				if err := w.Add(script); err != nil {
					return err
				}
				if err := runAndPrint(ctx, script); err != nil {
					log.Warn().Err(err).Str("script", script).Msg("initial run failed")
				}
			}

			w.Start(ctx)
			fmt.Fprintln(cmd.ErrOrStderr(), "watching for changes, press Ctrl-C to stop")
			<-ctx.Done()
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().DurationVar(&debounce, "debounce", 300*time.Millisecond, "Quiet period before a changed script is re-run")
	return cmd
}

// watchTargets makes every script absolute, matching the paths the watcher
// reports for re-runs so each script keeps one registry entry.
func watchTargets(args []string) ([]string, error) {
	scripts := make([]string, 0, len(args))
	for _, arg := range args {
		path, err := filepath.Abs(arg)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", arg, err)
		}
		scripts = append(scripts, path)
	}
	return scripts, nil
}

func printRecord(w io.Writer, rec *executor.Record, events, header bool) {
	if header {
		fmt.Fprintf(w, "== %s (%d events, %d failures)\n", rec.Script, rec.Len(), rec.Count(executor.Failure))
	}
	if !events {
		fmt.Fprint(w, executor.RenderRecord(rec))
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tOUTCOME\tKIND\tSOURCE\tVALUE")
	for _, e := range rec.Sorted() {
		detail := e.Event.Value
		if detail == "" && len(e.Event.Diagnostics) > 0 {
			detail = strings.Join(e.Event.Diagnostics, "; ")
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", e.Seq, e.Outcome, e.Event.SubKind, oneLine(e.Event.Source, 40), oneLine(detail, 60))
	}
	tw.Flush()
}

// oneLine collapses whitespace and shortens s to at most n runes.
func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-3]) + "..."
}
