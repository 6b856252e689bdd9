package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"example.com/backstage/services/aggregation/internal/classifier"
	"example.com/backstage/services/aggregation/internal/gs1"
	"example.com/backstage/services/aggregation/internal/model"
	"example.com/backstage/services/aggregation/internal/session"
)

// gsToken is how serial scanners and terminals show the FNC1 separator
const gsToken = "<GS>"

var (
	scanTaskFile   string
	scanCheckOnEOF bool
	scanKeepTTL    bool
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Aggregate codes read from stdin",
	Long: `Runs one aggregation session fed by a handheld or serial scanner. Each
stdin line is one scan; an empty line is an empty frame. The token <GS>
stands for the FNC1 separator. Check outcomes are written to stdout as JSON
lines.`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().StringVar(&scanTaskFile, "task", "", "task JSON file")
	scanCmd.Flags().BoolVar(&scanCheckOnEOF, "check-on-eof", true, "check the remaining codes when input ends")
	scanCmd.Flags().BoolVar(&scanKeepTTL, "keep-ttl", false, "keep the configured stale TTL instead of holding every scanned code")
	_ = scanCmd.MarkFlagRequired("task")
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	task, err := loadTask(scanTaskFile)
	if err != nil {
		return err
	}

	scan := cfg.Scan
	if !scanKeepTTL {
		// a handheld scanner reads each code once
		scan.StaleTTL = 0
	}

	deps, err := initDeps(cfg, scan)
	if err != nil {
		return err
	}
	defer deps.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := deps.sessions.Restore(ctx); err != nil {
		return errors.Wrap(err, "failed to restore sessions")
	}
	sess, err := deps.sessions.Get(task.ID)
	if errors.Is(err, session.ErrSessionNotFound) {
		sess, err = deps.sessions.Open(ctx, *task)
	}
	if err != nil {
		return err
	}

	out := &outcomeWriter{enc: json.NewEncoder(cmd.OutOrStdout())}
	g, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{})

	g.Go(func() error {
		defer close(done)
		err := feedLines(gctx, cmd.InOrStdin(), func(frame []classifier.RawCode) error {
			outcome, err := sess.Observe(gctx, frame, time.Now())
			if err != nil {
				return err
			}
			return out.write(outcome)
		})
		if err != nil {
			return err
		}
		if scanCheckOnEOF && sess.Len() > 0 {
			outcome, err := sess.CheckNow(gctx, time.Now())
			if err != nil {
				return err
			}
			return out.write(&outcome)
		}
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(cfg.Scheduler.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return nil
			case <-gctx.Done():
				return nil
			case now := <-ticker.C:
				outcome, err := sess.Tick(gctx, now)
				if err != nil {
					log.Error().Err(err).Msg("Session tick failed")
					continue
				}
				if err := out.write(outcome); err != nil {
					return err
				}
			}
		}
	})

	return g.Wait()
}

func loadTask(path string) (*model.Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read task file")
	}
	var task model.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, errors.Wrap(err, "failed to parse task file")
	}
	if err := task.Validate(); err != nil {
		return nil, err
	}
	return &task, nil
}

// feedLines turns each input line into a frame
func feedLines(ctx context.Context, r io.Reader, observe func([]classifier.RawCode) error) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		if err := observe(parseScanLine(scanner.Text())); err != nil {
			return err
		}
	}
	return errors.Wrap(scanner.Err(), "failed to read input")
}

// parseScanLine reads one scanner line. Serial scanners terminate lines with
// CR LF and show FNC1 as <GS>.
func parseScanLine(line string) []classifier.RawCode {
	value := expandSeparators(strings.TrimRight(line, "\r\n"))
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return []classifier.RawCode{{Value: value}}
}

func expandSeparators(s string) string {
	return strings.ReplaceAll(s, gsToken, gs1.FNC1)
}

// outcomeWriter serializes outcome lines from the reader and ticker
type outcomeWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func (w *outcomeWriter) write(outcome *session.Outcome) error {
	if outcome == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Encode(outcome)
}
