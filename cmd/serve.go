package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/sidellis/mend/internal/api"
	"github.com/sidellis/mend/internal/events"
	"github.com/sidellis/mend/internal/git"
	"github.com/sidellis/mend/internal/learning"
	"github.com/sidellis/mend/internal/mirror"
	"github.com/sidellis/mend/internal/reconcile"
	"github.com/sidellis/mend/internal/reviewer"
	"github.com/sidellis/mend/internal/runner"
	"github.com/sidellis/mend/internal/scheduler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestrator: reviewer cycles, reconcile passes, and the REST API",
	Long: `Run the long-lived orchestrator process.

Each configured reviewer runs on its own cadence, producing pending
proposals. The reconcile loop verifies approved proposals against the
test command and publishes passing ones as pull requests. The REST API
serves the proposal queue and accepts approve/reject decisions.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveRun()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 8080, "port to listen on")
	viper.SetDefault("port", 8080)
	_ = viper.BindPFlag("port", serveCmd.Flags().Lookup("port"))
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func serveRun() error {
	log := newLogger()
	slog.SetDefault(log)

	remote := viper.GetString("mirror.remote")
	if remote == "" {
		return fmt.Errorf("mirror.remote is not configured (set it in config.yaml or MEND_MIRROR_REMOTE)")
	}

	s, err := getStore()
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	gc := git.NewClient()
	ghc := git.NewGitHubClient()
	mir := mirror.NewManager(viper.GetString("mirror.path"), remote, viper.GetString("mirror.branch"), gc)

	registry, err := reviewer.LoadRegistry(viper.GetString("reviewers_file"))
	if err != nil {
		return err
	}

	testCmd := viper.GetStringSlice("test_command")
	run, err := runner.NewCommandRunner(testCmd)
	if err != nil {
		return err
	}

	apiKey := viper.GetString("anthropic.api_key")
	if apiKey == "" && os.Getenv("ANTHROPIC_API_KEY") == "" {
		ui.Warning("No Anthropic API key configured; reviewer cycles will produce no proposals")
	}
	suggester := reviewer.NewLLMSuggester(apiKey, viper.GetString("anthropic.model"))

	bus := events.NewBus()
	sink := learning.NewStoreSink(s, log)
	engine := reviewer.NewEngine(s, mir, suggester, bus, log)
	publisher := reconcile.NewGitPublisher(mir, gc, ghc, viper.GetString("publish.base_branch"), log)
	reconciler := reconcile.NewReconciler(s, mir, run, publisher, bus, sink, log)

	sched := scheduler.New(log)
	for _, def := range registry.All() {
		err := sched.Add("reviewer:"+def.Name, def.Cadence, func(ctx context.Context) error {
			_, err := engine.RunCycle(ctx, def)
			return err
		})
		if err != nil {
			return err
		}
	}

	reconcileInterval := viper.GetDuration("reconcile_interval")
	err = sched.Add("reconcile", reconcileInterval, func(ctx context.Context) error {
		res, err := reconciler.RunPass(ctx)
		if err != nil {
			return err
		}
		log.Info("reconcile pass finished",
			"tested", res.Tested, "passed", res.Passed, "failed", res.Failed,
			"published", res.Published, "deferred", res.Deferred, "rejected", res.Rejected)
		return nil
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := api.NewServer(s, registry, bus, sink, func(name string) error {
		return sched.Trigger(ctx, name)
	})

	addr := fmt.Sprintf(":%d", viper.GetInt("port"))
	httpServer := &http.Server{Addr: addr, Handler: server.Router()}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sched.Start(ctx)
	})
	g.Go(func() error {
		log.Info("API listening", "addr", addr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	ui.Info("mend serving on http://localhost%s (Ctrl-C to stop)", addr)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	ui.Info("Shut down cleanly")
	return nil
}
