// Command stress-runonce fires many concurrent run-once requests at a
// resident instance and reports how they were answered.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"gemini-ocr-capture/src/singleinstance"
)

type stressOptions struct {
	n        int
	mode     string
	deadline time.Duration
}

type outcome int

const (
	outcomeOK outcome = iota
	outcomeBusy
	outcomeLocal
	outcomeErr
)

type tally struct {
	mu     sync.Mutex
	counts [4]int
}

func (t *tally) add(o outcome) {
	t.mu.Lock()
	t.counts[o]++
	t.mu.Unlock()
}

// delegateFunc matches singleinstance.Delegate.
type delegateFunc func(ctx context.Context, stdout bool) (bool, string, error)

func main() {
	if err := newRootCmd(&stressOptions{}, singleinstance.Delegate).Execute(); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(opts *stressOptions, delegate delegateFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "stress-runonce",
		Short:         "Stress test run-once delegation against a resident instance",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.mode != "std" && opts.mode != "clip" {
				return fmt.Errorf("unknown mode %q (want std or clip)", opts.mode)
			}
			if opts.n <= 0 {
				return fmt.Errorf("--n must be positive")
			}
			start := time.Now()
			t := run(cmd.Context(), *opts, delegate)
			report(cmd.OutOrStdout(), opts.n, t, time.Since(start))
			return nil
		},
	}

	cmd.Flags().IntVar(&opts.n, "n", 50, "number of concurrent clients")
	cmd.Flags().StringVar(&opts.mode, "mode", "std", "std|clip: ask for stdout text or a clipboard write")
	cmd.Flags().DurationVar(&opts.deadline, "deadline", 5*time.Second, "per-client timeout")

	return cmd
}

func run(ctx context.Context, opts stressOptions, delegate delegateFunc) *tally {
	if ctx == nil {
		ctx = context.Background()
	}
	t := &tally{}
	var wg sync.WaitGroup
	for i := 0; i < opts.n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, opts.deadline)
			defer cancel()
			t.add(classify(delegate(cctx, opts.mode == "std")))
		}()
	}
	wg.Wait()
	return t
}

func classify(delegated bool, _ string, err error) outcome {
	switch {
	case err != nil && err.Error() == singleinstance.BusyMessage:
		return outcomeBusy
	case err != nil:
		return outcomeErr
	case !delegated:
		return outcomeLocal
	default:
		return outcomeOK
	}
}

func report(w io.Writer, n int, t *tally, elapsed time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(w, "launched=%d ok=%d busy=%d no-resident=%d err=%d elapsed=%s\n",
		n, t.counts[outcomeOK], t.counts[outcomeBusy], t.counts[outcomeLocal], t.counts[outcomeErr], elapsed.Round(time.Millisecond))
}
