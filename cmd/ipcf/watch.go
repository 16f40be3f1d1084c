package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sony/gobreaker/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	ipcf "github.com/wippyai/irm-fileapi"
	"github.com/wippyai/irm-fileapi/config"
	"github.com/wippyai/irm-fileapi/errors"
	"github.com/wippyai/irm-fileapi/fileapi"
)

func (a *app) watchCmd() *cobra.Command {
	var (
		template  string
		outputDir string
		flagNames []string
		recursive bool
	)

	cmd := &cobra.Command{
		Use:   "watch DIR",
		Short: "Protect files as they appear in a directory",
		Long: `Watch a drop folder and protect every unprotected file written to it.

A file is protected once it has been quiet for the debounce interval
(watch.debounce, default 500ms). Files that are already protected are left
alone. Runs until interrupted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			license, err := a.templateLicense(template)
			if err != nil {
				return err
			}
			flags, err := a.encryptFlags(flagNames)
			if err != nil {
				return err
			}
			return a.withAdapter(cmd.Context(), func(ad *fileapi.Adapter) error {
				wc := a.cfg.Watch
				wc.Recursive = recursive || wc.Recursive
				w := newWatcher(ad, wc, a.logger.Named("watch"))
				w.license = license
				w.flags = flags
				w.opts = a.callOptions(outputDir)
				w.onProtect = func(in, out string) {
					fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", in, out)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "watching %s\n", args[0])
				err := w.run(cmd.Context(), args[0])
				if stderrors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		},
	}

	cmd.Flags().StringVarP(&template, "template", "t", "", "template id (GUID)")
	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", "", "directory for protected files")
	cmd.Flags().StringSliceVar(&flagNames, "flag", nil, "encrypt flag")
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "watch subdirectories")
	return cmd
}

// watcher protects files created or written under a directory.
type watcher struct {
	adapter   *fileapi.Adapter
	license   ipcf.License
	flags     ipcf.EncryptFlags
	opts      fileapi.Options
	debounce  time.Duration
	recursive bool
	logger    *zap.Logger
	limiter   *rate.Limiter
	breaker   *gobreaker.CircuitBreaker[struct{}]

	// onProtect is called after each file is protected.
	onProtect func(in, out string)

	fsw      *fsnotify.Watcher
	pending  map[string]time.Time
	produced map[string]struct{}
}

func newWatcher(ad *fileapi.Adapter, cfg config.WatchConfig, logger *zap.Logger) *watcher {
	w := &watcher{
		adapter:   ad,
		debounce:  cfg.Debounce,
		recursive: cfg.Recursive,
		logger:    logger,
	}
	if cfg.Rate > 0 {
		w.limiter = rate.NewLimiter(rate.Limit(cfg.Rate), max(1, int(cfg.Rate)))
	}

	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	w.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "engine",
		MaxRequests: 1,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// Only boundary faults trip the breaker.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			_, refused := errors.StatusOf(err)
			return refused
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return w
}

// run watches root until ctx is done and returns ctx.Err().
func (w *watcher) run(ctx context.Context, root string) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	w.fsw = fsw
	w.pending = make(map[string]time.Time)
	w.produced = make(map[string]struct{})

	if err := w.add(root); err != nil {
		return err
	}

	tick := w.debounce / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handle(event)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", zap.Error(err))

		case now := <-ticker.C:
			for path, changed := range w.pending {
				if now.Sub(changed) < w.debounce {
					continue
				}
				delete(w.pending, path)
				w.protect(ctx, path)
			}
		}
	}
}

func (w *watcher) add(root string) error {
	if !w.recursive {
		return w.fsw.Add(root)
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			w.logger.Warn("watch dir", zap.String("path", path), zap.Error(err))
		}
		return nil
	})
}

func (w *watcher) handle(event fsnotify.Event) {
	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		delete(w.pending, event.Name)
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}

	if event.Has(fsnotify.Create) && w.recursive {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.add(event.Name); err != nil {
				w.logger.Warn("watch dir", zap.String("path", event.Name), zap.Error(err))
			}
			return
		}
	}
	if strings.HasPrefix(filepath.Base(event.Name), ".") {
		return
	}
	w.pending[event.Name] = time.Now()
}

func (w *watcher) protect(ctx context.Context, path string) {
	if _, ok := w.produced[path]; ok {
		delete(w.produced, path)
		return
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return
	}

	var status ipcf.FileStatus
	err = w.guard(func() (err error) {
		status, err = w.adapter.FileStatus(ctx, path)
		return err
	})
	if w.retry(path, err) {
		return
	}
	if err != nil {
		w.logger.Warn("status failed", zap.String("path", path), zap.Error(err))
		return
	}
	if status.Encrypted() {
		w.logger.Debug("already protected", zap.String("path", path))
		return
	}

	if w.limiter != nil {
		if err := w.limiter.Wait(ctx); err != nil {
			return
		}
	}
	var out string
	err = w.guard(func() (err error) {
		out, err = w.adapter.EncryptFile(ctx, path, w.license, w.flags, w.opts)
		return err
	})
	if w.retry(path, err) {
		return
	}
	if err != nil {
		w.logger.Warn("protect failed", zap.String("path", path), zap.Error(err))
		return
	}
	if out != path {
		w.produced[out] = struct{}{}
	}
	w.logger.Info("protected", zap.String("path", path), zap.String("output", out))
	if w.onProtect != nil {
		w.onProtect(path, out)
	}
}

// guard runs an engine call through the breaker.
func (w *watcher) guard(call func() error) error {
	_, err := w.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, call()
	})
	return err
}

// retry requeues path when the breaker refused the call or the call faulted
// at the boundary. Engine status failures are final for the file.
func (w *watcher) retry(path string, err error) bool {
	var e *errors.Error
	switch {
	case err == nil:
		return false
	case stderrors.Is(err, gobreaker.ErrOpenState), stderrors.Is(err, gobreaker.ErrTooManyRequests):
		w.logger.Debug("engine unavailable, retrying later", zap.String("path", path))
	case stderrors.As(err, &e) && e.Kind == errors.KindTrap:
		w.logger.Warn("engine fault, retrying later", zap.String("path", path), zap.Error(err))
	default:
		return false
	}
	w.pending[path] = time.Now()
	return true
}
