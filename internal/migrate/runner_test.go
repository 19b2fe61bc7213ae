package migrate

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cms_migrator/internal/db"
	"cms_migrator/internal/ledger"
)

type testEnv struct {
	fs     afero.Fs
	dsn    string
	opens  int
	runner func(gateOpen, allowDrift bool) *Runner
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		fs:  afero.NewMemMapFs(),
		dsn: filepath.Join(t.TempDir(), "cms.db"),
	}
	require.NoError(t, env.fs.MkdirAll("/migrations", 0o755))
	env.runner = func(gateOpen, allowDrift bool) *Runner {
		return NewRunner(Options{
			Dialect:    db.SQLite{},
			Roots:      []string{"/migrations"},
			AllowDrift: allowDrift,
			Gate:       NewGate(gateOpen),
			Fs:         env.fs,
		}, func(ctx context.Context) (*sql.DB, error) {
			env.opens++
			return db.Open(ctx, db.SQLite{}, env.dsn)
		})
	}
	return env
}

func (e *testEnv) write(t *testing.T, name, content string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(e.fs, "/migrations/"+name, []byte(content), 0o644))
}

func (e *testEnv) db(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Open(context.Background(), db.SQLite{}, e.dsn)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (e *testEnv) hasTable(t *testing.T, name string) bool {
	t.Helper()
	var n int
	err := e.db(t).QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&n)
	require.NoError(t, err)
	return n > 0
}

func (e *testEnv) ledgerState(t *testing.T) ledger.State {
	t.Helper()
	state, err := ledger.New(e.db(t), db.SQLite{}, "").FetchApplied(context.Background())
	require.NoError(t, err)
	return state
}

func TestRunAppliesPendingInOrder(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "002_posts.sql", "CREATE TABLE posts (id INTEGER PRIMARY KEY, user_id INTEGER REFERENCES users(id));")
	env.write(t, "001_users.sql", "CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT);\nINSERT INTO users (name) VALUES ('admin; root');")

	report, err := env.runner(true, false).Run(context.Background(), ModeApply)
	require.NoError(t, err)
	assert.Equal(t, PhaseDone, report.Phase)
	require.Len(t, report.Outcomes, 2)
	assert.Equal(t, "001_users.sql", report.Outcomes[0].Name)
	assert.Len(t, report.Outcomes[0].Statements, 2)
	assert.Equal(t, "002_posts.sql", report.Outcomes[1].Name)
	assert.NotEmpty(t, report.RunID)

	var name string
	require.NoError(t, env.db(t).QueryRow(`SELECT name FROM users`).Scan(&name))
	assert.Equal(t, "admin; root", name)

	state := env.ledgerState(t)
	assert.True(t, state.Present)
	assert.Len(t, state.Entries, 2)
}

func TestRunIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "001_users.sql", "CREATE TABLE users (id INTEGER PRIMARY KEY);")

	_, err := env.runner(true, false).Run(context.Background(), ModeApply)
	require.NoError(t, err)
	before := env.ledgerState(t)

	report, err := env.runner(true, false).Run(context.Background(), ModeApply)
	require.NoError(t, err)
	assert.Equal(t, PhaseDone, report.Phase)
	assert.Empty(t, report.Outcomes)
	assert.True(t, report.Plan.Empty())
	assert.Equal(t, before, env.ledgerState(t))
}

func TestRunGateClosedTouchesNothing(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "001_users.sql", "CREATE TABLE users (id INTEGER PRIMARY KEY);")

	report, err := env.runner(false, false).Run(context.Background(), ModeApply)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGateClosed)
	assert.Equal(t, PhaseAborted, report.Phase)
	assert.Equal(t, 0, env.opens)
	assert.False(t, env.hasTable(t, "users"))
	assert.False(t, env.ledgerState(t).Present)
}

func TestRunStatusAndDryRunBypassGate(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "001_users.sql", "-- users\nCREATE TABLE users (id INTEGER PRIMARY KEY);\nCREATE INDEX users_id ON users (id)")

	status, err := env.runner(false, false).Run(context.Background(), ModeStatus)
	require.NoError(t, err)
	assert.Equal(t, PhaseStatusReported, status.Phase)
	assert.False(t, status.Plan.LedgerPresent)
	assert.Equal(t, []string{"001_users.sql"}, status.Plan.PendingNames())

	dry, err := env.runner(false, false).Run(context.Background(), ModeDryRun)
	require.NoError(t, err)
	assert.Equal(t, PhaseDone, dry.Phase)
	require.Len(t, dry.Outcomes, 1)
	assert.True(t, dry.Outcomes[0].DryRun)
	require.Len(t, dry.Outcomes[0].Statements, 2)
	assert.Equal(t, "CREATE TABLE users (id INTEGER PRIMARY KEY)", dry.Outcomes[0].Statements[0].SQL)

	assert.False(t, env.hasTable(t, "users"))
	assert.False(t, env.ledgerState(t).Present)
}

func TestRunDryRunIsDeterministic(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "002_b.sql", "SELECT 2; SELECT 'x;y'")
	env.write(t, "001_a.sql", "SELECT 1;")

	first, err := env.runner(false, false).Run(context.Background(), ModeDryRun)
	require.NoError(t, err)
	second, err := env.runner(false, false).Run(context.Background(), ModeDryRun)
	require.NoError(t, err)
	assert.Equal(t, first.Outcomes, second.Outcomes)
}

func TestRunStopsAtFirstFailure(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "001_a.sql", "CREATE TABLE a (id INTEGER);")
	env.write(t, "002_b.sql", "CREATE TABLE b (id INTEGER);\nINSERT INTO no_such_table VALUES (1);")
	env.write(t, "003_c.sql", "CREATE TABLE c (id INTEGER);")

	report, err := env.runner(true, false).Run(context.Background(), ModeApply)
	require.Error(t, err)

	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "002_b.sql", execErr.Migration)
	assert.Equal(t, 2, execErr.Statement)
	assert.Equal(t, 2, execErr.Line)
	assert.Contains(t, err.Error(), "002_b.sql: statement 2")

	assert.Equal(t, PhaseFailed, report.Phase)
	assert.Equal(t, "002_b.sql", report.FailedMigration)
	assert.Len(t, report.Outcomes, 2)

	state := env.ledgerState(t)
	assert.Len(t, state.Entries, 1)
	assert.Contains(t, state.Entries, "001_a.sql")
	assert.True(t, env.hasTable(t, "a"))
	assert.False(t, env.hasTable(t, "b"), "failed migration must roll back")
	assert.False(t, env.hasTable(t, "c"))

	// Fixing the file lets the next run pick up where the last one stopped.
	env.write(t, "002_b.sql", "CREATE TABLE b (id INTEGER);")
	report, err = env.runner(true, false).Run(context.Background(), ModeApply)
	require.NoError(t, err)
	assert.Equal(t, []string{"002_b.sql", "003_c.sql"}, []string{report.Outcomes[0].Name, report.Outcomes[1].Name})
}

func TestRunRecordsEmptyMigration(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "001_placeholder.sql", "-- intentionally empty\n/* nothing to do */\n")

	report, err := env.runner(true, false).Run(context.Background(), ModeApply)
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 1)
	assert.Empty(t, report.Outcomes[0].Statements)
	assert.Contains(t, env.ledgerState(t).Entries, "001_placeholder.sql")
}

func TestRunNoMigrations(t *testing.T) {
	env := newTestEnv(t)

	report, err := env.runner(true, false).Run(context.Background(), ModeApply)
	require.NoError(t, err)
	assert.Equal(t, PhaseDone, report.Phase)
	assert.Equal(t, 0, report.Plan.Discovered)
	assert.Empty(t, report.Outcomes)
}

func TestRunDetectsDrift(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "001_a.sql", "CREATE TABLE a (id INTEGER);")
	_, err := env.runner(true, false).Run(context.Background(), ModeApply)
	require.NoError(t, err)
	original := env.ledgerState(t).Entries["001_a.sql"]

	env.write(t, "001_a.sql", "CREATE TABLE a (id INTEGER, extra TEXT);")
	env.write(t, "002_b.sql", "CREATE TABLE b (id INTEGER);")

	report, err := env.runner(true, false).Run(context.Background(), ModeApply)
	var drift *DriftError
	require.ErrorAs(t, err, &drift)
	assert.Equal(t, "001_a.sql", drift.Name)
	assert.Equal(t, PhaseAborted, report.Phase)
	assert.False(t, env.hasTable(t, "b"))

	// Status surfaces the same drift.
	_, err = env.runner(false, false).Run(context.Background(), ModeStatus)
	require.ErrorAs(t, err, &drift)

	report, err = env.runner(true, true).Run(context.Background(), ModeApply)
	require.NoError(t, err)
	require.Len(t, report.Plan.Drifted, 1)
	assert.True(t, env.hasTable(t, "b"))
	// The drifted entry is neither re-applied nor re-recorded.
	assert.Equal(t, original.Checksum, env.ledgerState(t).Entries["001_a.sql"].Checksum)
}

func TestInspectIsReadOnly(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "001_a.sql", "CREATE TABLE a (id INTEGER);")

	plan, err := env.runner(false, false).Inspect(context.Background(), env.db(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"001_a.sql"}, plan.PendingNames())
	assert.False(t, env.ledgerState(t).Present)
}
