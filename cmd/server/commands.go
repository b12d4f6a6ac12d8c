package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/warp/ban-registry/config"
	"github.com/warp/ban-registry/queue"
	"github.com/warp/ban-registry/registry"
	"github.com/warp/ban-registry/store/sqlite"
)

// operator bundles what the offline commands need. Jobs go to a
// throwaway in-memory queue: the persisted pending flag is what the
// running server's recovery pass picks up.
type operator struct {
	tracker    *registry.Tracker
	reconciler *registry.Reconciler
	close      func()
}

func openOperator(cfg config.Config) (*operator, error) {
	log, flush, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	store, err := sqlite.New(cfg.DB)
	if err != nil {
		flush()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	catalog, err := loadCatalog(cfg.Catalog, log)
	if err != nil {
		store.Close()
		flush()
		return nil, err
	}
	jobs, err := queue.New("", 0)
	if err != nil {
		store.Close()
		flush()
		return nil, err
	}

	tracker := registry.NewTracker(store, catalog, jobs, registry.WithLogger(log.WithName("composition")))
	return &operator{
		tracker:    tracker,
		reconciler: registry.NewReconciler(store, tracker, cfg.ReconcileWorkers, log.WithName("certification")),
		close: func() {
			jobs.Close()
			store.Close()
			flush()
		},
	}, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// =============================================================================
// ASK-COMPOSITION
// =============================================================================

// NewAskCompositionCommand creates the ask-composition command.
func NewAskCompositionCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ask-composition CODE...",
		Short: "Flag communes for composition",
		Long: `Flag communes for composition.

Each code is resolved to its current commune and flagged pending in the
database. A running server enqueues the jobs on its next recovery pass.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			op, err := openOperator(opts.Config)
			if err != nil {
				return err
			}
			defer op.close()

			ctx, cancel := signalContext()
			defer cancel()

			var failed int
			for _, code := range args {
				resolved, err := op.tracker.AskComposition(ctx, code)
				if err != nil {
					failed++
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", code, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s pending\n", code, resolved)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d compositions not asked", failed, len(args))
			}
			return nil
		},
	}
}

// =============================================================================
// PENDING
// =============================================================================

// NewPendingCommand creates the pending command.
func NewPendingCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List communes waiting for composition",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			op, err := openOperator(opts.Config)
			if err != nil {
				return err
			}
			defer op.close()

			ctx, cancel := signalContext()
			defer cancel()

			codes, err := op.tracker.GetAskedComposition(ctx)
			if err != nil {
				return err
			}
			for _, code := range codes {
				fmt.Fprintln(cmd.OutOrStdout(), code)
			}
			return nil
		},
	}
}

// =============================================================================
// FORCE-CERTIFICATION
// =============================================================================

// NewForceCertificationCommand creates the force-certification command.
func NewForceCertificationCommand(opts *RootOptions) *cobra.Command {
	var clearAll bool

	cmd := &cobra.Command{
		Use:   "force-certification CODE...",
		Short: "Reconcile the force-certified communes to the given set",
		Long: `Reconcile the force-certified communes to the given set.

The arguments are the complete desired set: communes flagged today and
absent from the arguments are unflagged. Every flipped commune is asked
a recomposition. Use --clear to unflag every commune.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && !clearAll {
				return fmt.Errorf("no codes given: pass --clear to unflag every commune")
			}

			op, err := openOperator(opts.Config)
			if err != nil {
				return err
			}
			defer op.close()

			ctx, cancel := signalContext()
			defer cancel()

			result, err := op.reconciler.UpdateForceCertification(ctx, args)
			if err != nil {
				return err
			}
			failures := make(map[string]string, len(result.Failures))
			for code, err := range result.Failures {
				failures[code] = err.Error()
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"toAdd":    result.ToAdd,
				"toRemove": result.ToRemove,
				"failures": failures,
			})
		},
	}

	cmd.Flags().BoolVar(&clearAll, "clear", false, "unflag every commune")
	return cmd
}
