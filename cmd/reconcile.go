package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sidellis/mend/internal/events"
	"github.com/sidellis/mend/internal/git"
	"github.com/sidellis/mend/internal/learning"
	"github.com/sidellis/mend/internal/mirror"
	"github.com/sidellis/mend/internal/reconcile"
	"github.com/sidellis/mend/internal/runner"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run one reconciliation pass immediately",
	Long: `Run one reconciliation pass: sync the mirror, verify each approved
proposal with the test command, and publish passing proposals as pull
requests. Proposals left in test-passed by an earlier failed publish are
retried first, without re-running their tests.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return reconcileRun()
	},
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
}

func reconcileRun() error {
	log := newLogger()

	s, err := getStore()
	if err != nil {
		return err
	}

	remote := viper.GetString("mirror.remote")
	if remote == "" {
		return fmt.Errorf("mirror.remote is not configured")
	}

	run, err := runner.NewCommandRunner(viper.GetStringSlice("test_command"))
	if err != nil {
		return err
	}

	gc := git.NewClient()
	mir := mirror.NewManager(viper.GetString("mirror.path"), remote, viper.GetString("mirror.branch"), gc)
	publisher := reconcile.NewGitPublisher(mir, gc, git.NewGitHubClient(), viper.GetString("publish.base_branch"), log)
	reconciler := reconcile.NewReconciler(s, mir, run, publisher, events.NewBus(), learning.NewStoreSink(s, log), log)

	ui.Info("Running reconciliation pass...")
	res, err := reconciler.RunPass(context.Background())
	if err != nil {
		return err
	}

	ui.Success("Pass finished: %d tested (%d passed, %d failed), %d published, %d deferred, %d rejected",
		res.Tested, res.Passed, res.Failed, res.Published, res.Deferred, res.Rejected)
	return nil
}
