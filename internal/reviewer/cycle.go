package reviewer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sidellis/mend/internal/events"
	"github.com/sidellis/mend/internal/mirror"
	"github.com/sidellis/mend/internal/models"
	"github.com/sidellis/mend/internal/store"
)

// Engine runs generation cycles: one cycle selects files for a reviewer,
// asks the suggester for transformed bodies, and persists pending
// proposals.
type Engine struct {
	store   store.Store
	mirror  *mirror.Manager
	suggest Suggester
	bus     *events.Bus
	log     *slog.Logger
}

// NewEngine wires a generation engine.
func NewEngine(s store.Store, m *mirror.Manager, sg Suggester, bus *events.Bus, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{store: s, mirror: m, suggest: sg, bus: bus, log: log}
}

// CycleResult summarizes one generation cycle.
type CycleResult struct {
	Reviewer string `json:"reviewer"`
	Selected int    `json:"selected"`
	Created  int    `json:"created"`
	Skipped  int    `json:"skipped"`
}

// RunCycle executes one generation cycle for the reviewer. A mirror sync
// failure aborts the whole cycle (retried on the next tick). A suggestion
// failure for one file is logged and skipped; it never aborts the
// remaining files in the batch.
func (e *Engine) RunCycle(ctx context.Context, def *Definition) (*CycleResult, error) {
	if err := e.mirror.EnsureUpToDate(ctx); err != nil {
		return nil, err
	}

	files, err := SelectFiles(e.mirror.Path(), def.Include, def.MaxFiles)
	if err != nil {
		return nil, fmt.Errorf("select files: %w", err)
	}

	res := &CycleResult{Reviewer: def.Name, Selected: len(files)}
	for _, rel := range files {
		content, err := e.mirror.ReadFile(rel)
		if err != nil {
			e.log.Warn("skipping unreadable file", "reviewer", def.Name, "file", rel, "error", err)
			res.Skipped++
			continue
		}

		after, err := e.suggest.Suggest(ctx, def, rel, string(content))
		if err != nil {
			e.log.Warn("suggestion failed", "reviewer", def.Name, "file", rel, "error", err)
			res.Skipped++
			continue
		}
		if after == "" || after == string(content) {
			e.log.Debug("no change suggested", "reviewer", def.Name, "file", rel)
			res.Skipped++
			continue
		}

		p := &models.Proposal{
			Reviewer:    def.Name,
			FilePath:    rel,
			CodeBefore:  string(content),
			CodeAfter:   after,
			Description: fmt.Sprintf("%s: %s", def.Name, def.Focus),
			Status:      models.StatusPending,
		}
		if err := e.store.CreateProposal(ctx, p); err != nil {
			e.log.Warn("failed to persist proposal", "reviewer", def.Name, "file", rel, "error", err)
			res.Skipped++
			continue
		}

		e.bus.Publish(events.TypeProposalCreated, map[string]any{
			"id":       p.ID,
			"reviewer": p.Reviewer,
			"file":     p.FilePath,
		})
		res.Created++
	}

	e.log.Info("generation cycle finished",
		"reviewer", def.Name, "selected", res.Selected,
		"created", res.Created, "skipped", res.Skipped)
	return res, nil
}
