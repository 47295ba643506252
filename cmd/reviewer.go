package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sidellis/mend/internal/events"
	"github.com/sidellis/mend/internal/git"
	"github.com/sidellis/mend/internal/mirror"
	"github.com/sidellis/mend/internal/output"
	"github.com/sidellis/mend/internal/reviewer"
)

var reviewerCmd = &cobra.Command{
	Use:     "reviewer",
	Aliases: []string{"reviewers"},
	Short:   "Manage reviewer roles",
	Long:    "List reviewer roles and their scores, or run a one-off generation cycle.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewerListRun()
	},
}

var reviewerListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List reviewers with their outcome scores",
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewerListRun()
	},
}

var reviewerRunCmd = &cobra.Command{
	Use:   "run <reviewer>",
	Short: "Run one generation cycle for a reviewer immediately",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewerRunRun(args[0])
	},
}

func init() {
	reviewerCmd.AddCommand(reviewerListCmd)
	reviewerCmd.AddCommand(reviewerRunCmd)
	rootCmd.AddCommand(reviewerCmd)
}

func reviewerListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}

	registry, err := reviewer.LoadRegistry(viper.GetString("reviewers_file"))
	if err != nil {
		return err
	}

	scores, err := s.ListReviewerScores(context.Background())
	if err != nil {
		return err
	}
	scoreFor := make(map[string]string)
	statsFor := make(map[string]string)
	for _, sc := range scores {
		scoreFor[sc.Reviewer] = output.ScoreColor(sc.Score)
		statsFor[sc.Reviewer] = fmt.Sprintf("%d/%d approved, %d/%d passed, %d applied",
			sc.Approvals, sc.Approvals+sc.Rejections,
			sc.TestPasses, sc.TestPasses+sc.TestFailures,
			sc.Applied)
	}

	table := ui.Table([]string{"Name", "Cadence", "Max Files", "Focus", "Score", "Outcomes"})
	for _, def := range registry.All() {
		score, ok := scoreFor[def.Name]
		if !ok {
			score = "-"
		}
		_ = table.Append([]string{
			output.Cyan(def.Name),
			def.Cadence.String(),
			fmt.Sprintf("%d", def.MaxFiles),
			def.Focus,
			score,
			statsFor[def.Name],
		})
	}
	_ = table.Render()
	return nil
}

func reviewerRunRun(name string) error {
	log := newLogger()

	s, err := getStore()
	if err != nil {
		return err
	}

	registry, err := reviewer.LoadRegistry(viper.GetString("reviewers_file"))
	if err != nil {
		return err
	}
	def, err := registry.Get(name)
	if err != nil {
		return err
	}

	remote := viper.GetString("mirror.remote")
	if remote == "" {
		return fmt.Errorf("mirror.remote is not configured")
	}

	apiKey := viper.GetString("anthropic.api_key")
	if apiKey == "" && os.Getenv("ANTHROPIC_API_KEY") == "" {
		return fmt.Errorf("no Anthropic API key configured (set anthropic.api_key or ANTHROPIC_API_KEY)")
	}

	mir := mirror.NewManager(viper.GetString("mirror.path"), remote, viper.GetString("mirror.branch"), git.NewClient())
	suggester := reviewer.NewLLMSuggester(apiKey, viper.GetString("anthropic.model"))
	engine := reviewer.NewEngine(s, mir, suggester, events.NewBus(), log)

	ui.Info("Running %s cycle (%s, up to %d files matching %s)...",
		output.Cyan(def.Name), def.Focus, def.MaxFiles, strings.Join(def.Include, ", "))

	res, err := engine.RunCycle(context.Background(), def)
	if err != nil {
		return err
	}

	ui.Success("Cycle finished: %d selected, %d proposals created, %d skipped",
		res.Selected, res.Created, res.Skipped)
	if res.Created > 0 {
		ui.Info("Review them with: mend proposal list --status pending")
	}
	return nil
}
