package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/uhmm/internal/source"
)

var (
	replayInterval time.Duration
	replayTimeout  time.Duration
	replayDrain    time.Duration
)

// replayCmd represents the replay command
var replayCmd = &cobra.Command{
	Use:   "replay <file>",
	Short: "Fact-check a transcript file and print the events",
	Long: `Replay feeds a transcript file through the pipeline as one speech
session and prints every event a viewer would receive, one JSON object
per line, to stdout.

File format (one fragment per line):
  ~text        partial fragment (the next line replaces it)
  [Speaker]    sets the speaker for the following lines
  # comment    ignored, as are blank lines
  text         final fragment

Use "-" to read from stdin.

Example:
  uhmm replay talk.txt
  uhmm replay talk.txt --interval 200ms
  cat talk.txt | uhmm replay - > verdicts.jsonl`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)

	replayCmd.Flags().DurationVar(&replayInterval, "interval", 0, "delay between fragments (simulates live speech)")
	replayCmd.Flags().DurationVar(&replayTimeout, "timeout", 10*time.Minute, "total timeout for the replay")
	replayCmd.Flags().DurationVar(&replayDrain, "drain", 30*time.Second, "how long to wait for pending verdicts after the file ends")
}

func runReplay(cmd *cobra.Command, args []string) error {
	file := args[0]

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, replayTimeout)
	defer cancel()

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  uhmm Replay\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Input file:   %s\n", file)
	fmt.Fprintf(os.Stderr, "  Workers:      %d\n", appConfig.Workers.Size)
	fmt.Fprintf(os.Stderr, "  LLM:          %s\n", appConfig.LLM.Provider)
	fmt.Fprintf(os.Stderr, "  Search:       %s\n", appConfig.Search.Provider)
	fmt.Fprintf(os.Stderr, "\n")

	src, closer, err := source.OpenFile(file, replayInterval)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	a, err := newApp(ctx, appConfig)
	if err != nil {
		return err
	}

	if _, err := a.broadcaster.Subscribe(newWriterTransport(os.Stdout)); err != nil {
		return fmt.Errorf("subscribe stdout viewer: %w", err)
	}

	a.pipeline.Start(ctx)
	runErr := src.Run(ctx, a.pipeline)

	drainCtx, drainCancel := context.WithTimeout(context.Background(), replayDrain)
	defer drainCancel()
	if err := a.shutdown(drainCtx); err != nil {
		fmt.Fprintf(os.Stderr, "✗ shutdown: %v\n", err)
	}

	st := a.pipeline.Stats()
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  Replay Complete\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Fragments:  %d\n", st.Fragments)
	fmt.Fprintf(os.Stderr, "  Sentences:  %d\n", st.Sentences)
	fmt.Fprintf(os.Stderr, "  Claims:     %d\n", st.Claims)
	fmt.Fprintf(os.Stderr, "  Verdicts:   %d\n", st.Verdicts)
	fmt.Fprintf(os.Stderr, "\n")

	if runErr != nil && ctx.Err() == nil {
		return fmt.Errorf("replay %s: %w", file, runErr)
	}
	return nil
}

// writerTransport is a viewer transport printing one frame per line
type writerTransport struct {
	mu sync.Mutex
	w  io.Writer
}

func newWriterTransport(w io.Writer) *writerTransport {
	return &writerTransport{w: w}
}

func (t *writerTransport) Send(ctx context.Context, frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.w.Write(frame); err != nil {
		return err
	}
	_, err := io.WriteString(t.w, "\n")
	return err
}

func (t *writerTransport) Close() error { return nil }
