package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/sidellis/mend/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Limiting to a single
	// connection serializes all DB access through Go's connection pool,
	// preventing "database is locked" errors when reviewer cycles and the
	// reconcile pass write concurrently.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Set busy timeout so concurrent writes wait instead of failing immediately
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()

		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Proposals ---

const proposalColumns = "id, reviewer, file_path, code_before, code_after, description, status, test_status, test_output, result, created_at, updated_at"

func (s *SQLiteStore) CreateProposal(ctx context.Context, p *models.Proposal) error {
	if p.ID == "" {
		p.ID = newULID()
	}
	if p.Status == "" {
		p.Status = models.StatusPending
	}
	if p.TestStatus == "" {
		p.TestStatus = models.TestNotRun
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO proposals (`+proposalColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Reviewer, p.FilePath, p.CodeBefore, p.CodeAfter, p.Description,
		string(p.Status), string(p.TestStatus), p.TestOutput, p.Result,
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create proposal: %w", err)
	}
	return nil
}

func scanProposal(row interface{ Scan(dest ...any) error }) (*models.Proposal, error) {
	p := &models.Proposal{}
	var status, testStatus string
	err := row.Scan(&p.ID, &p.Reviewer, &p.FilePath, &p.CodeBefore, &p.CodeAfter,
		&p.Description, &status, &testStatus, &p.TestOutput, &p.Result,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Status = models.ProposalStatus(status)
	p.TestStatus = models.TestStatus(testStatus)
	return p, nil
}

func (s *SQLiteStore) GetProposal(ctx context.Context, id string) (*models.Proposal, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+proposalColumns+` FROM proposals WHERE id = ?`, id)
	p, err := scanProposal(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("proposal not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get proposal: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) ListProposals(ctx context.Context, filter ProposalFilter) ([]*models.Proposal, error) {
	query := `SELECT ` + proposalColumns + ` FROM proposals`
	var conditions []string
	var args []any

	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Reviewer != "" {
		conditions = append(conditions, "reviewer = ?")
		args = append(args, filter.Reviewer)
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var proposals []*models.Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan proposal: %w", err)
		}
		proposals = append(proposals, p)
	}
	return proposals, rows.Err()
}

// Transition moves a proposal to the target status. The status change is a
// compare-and-swap inside a transaction: the proposal is read, the edge is
// validated against the lifecycle graph, and the UPDATE is conditioned on
// the status still being the one that was read. A concurrent caller losing
// that race gets *InvalidTransitionError and mutates nothing. Every
// successful transition appends an audit entry.
func (s *SQLiteStore) Transition(ctx context.Context, id string, to models.ProposalStatus, meta TransitionMeta) (*models.Proposal, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT `+proposalColumns+` FROM proposals WHERE id = ?`, id)
	p, err := scanProposal(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("proposal not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get proposal: %w", err)
	}

	if !CanTransition(p.Status, to) {
		return nil, &InvalidTransitionError{ID: id, From: p.Status, To: to}
	}

	now := time.Now().UTC()
	from := p.Status
	p.UpdatedAt = now
	if meta.TestStatus != "" {
		p.TestStatus = meta.TestStatus
	}
	if meta.TestOutput != "" {
		p.TestOutput = meta.TestOutput
	}
	if meta.Result != "" {
		p.Result = meta.Result
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE proposals SET status=?, test_status=?, test_output=?, result=?, updated_at=?
		WHERE id=? AND status=?`,
		string(to), string(p.TestStatus), p.TestOutput, p.Result, p.UpdatedAt,
		id, string(from),
	)
	if err != nil {
		return nil, fmt.Errorf("transition proposal: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return nil, &InvalidTransitionError{ID: id, From: from, To: to}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO proposal_transitions (id, proposal_id, from_status, to_status, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		newULID(), id, string(from), string(to), meta.Reason, now,
	)
	if err != nil {
		return nil, fmt.Errorf("record transition: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	p.Status = to
	return p, nil
}

func (s *SQLiteStore) ListTransitions(ctx context.Context, proposalID string) ([]*models.TransitionEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, proposal_id, from_status, to_status, reason, created_at
		FROM proposal_transitions WHERE proposal_id = ? ORDER BY created_at ASC, id ASC`, proposalID)
	if err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*models.TransitionEntry
	for rows.Next() {
		e := &models.TransitionEntry{}
		var from, to string
		if err := rows.Scan(&e.ID, &e.ProposalID, &from, &to, &e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		e.From = models.ProposalStatus(from)
		e.To = models.ProposalStatus(to)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) StatusSummary(ctx context.Context) (map[models.ProposalStatus]int, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT status, COUNT(*) FROM proposals GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("status summary: %w", err)
	}
	defer func() { _ = rows.Close() }()

	summary := make(map[models.ProposalStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		summary[models.ProposalStatus(status)] = count
	}
	return summary, rows.Err()
}

// --- Reviewer scores ---

func (s *SQLiteStore) GetReviewerScore(ctx context.Context, reviewer string) (*models.ReviewerScore, error) {
	sc := &models.ReviewerScore{}
	err := s.db.QueryRowContext(ctx,
		`SELECT reviewer, approvals, rejections, test_passes, test_failures, applied, score, updated_at
		FROM reviewer_scores WHERE reviewer = ?`, reviewer,
	).Scan(&sc.Reviewer, &sc.Approvals, &sc.Rejections, &sc.TestPasses, &sc.TestFailures, &sc.Applied, &sc.Score, &sc.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("reviewer score not found: %s", reviewer)
	}
	if err != nil {
		return nil, fmt.Errorf("get reviewer score: %w", err)
	}
	return sc, nil
}

func (s *SQLiteStore) UpsertReviewerScore(ctx context.Context, score *models.ReviewerScore) error {
	score.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reviewer_scores (reviewer, approvals, rejections, test_passes, test_failures, applied, score, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(reviewer) DO UPDATE SET
			approvals=excluded.approvals, rejections=excluded.rejections,
			test_passes=excluded.test_passes, test_failures=excluded.test_failures,
			applied=excluded.applied, score=excluded.score, updated_at=excluded.updated_at`,
		score.Reviewer, score.Approvals, score.Rejections, score.TestPasses,
		score.TestFailures, score.Applied, score.Score, score.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert reviewer score: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListReviewerScores(ctx context.Context) ([]*models.ReviewerScore, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT reviewer, approvals, rejections, test_passes, test_failures, applied, score, updated_at
		FROM reviewer_scores ORDER BY reviewer`)
	if err != nil {
		return nil, fmt.Errorf("list reviewer scores: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var scores []*models.ReviewerScore
	for rows.Next() {
		sc := &models.ReviewerScore{}
		if err := rows.Scan(&sc.Reviewer, &sc.Approvals, &sc.Rejections, &sc.TestPasses, &sc.TestFailures, &sc.Applied, &sc.Score, &sc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan reviewer score: %w", err)
		}
		scores = append(scores, sc)
	}
	return scores, rows.Err()
}
