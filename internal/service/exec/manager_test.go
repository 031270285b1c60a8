package exec

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"querygate/internal/config"
	"querygate/internal/domain"
)

func testQueryConfig() config.QueryConfig {
	return config.QueryConfig{
		DefaultPageSize: 100,
		MaxPageSize:     500,
		CancelGrace:     time.Second,
		ResultTTL:       10 * time.Minute,
		RetentionWindow: time.Hour,
		SweepInterval:   30 * time.Second,
		RuntimeMargin:   30 * time.Second,
	}
}

func testPolicy() domain.AccessPolicy {
	return domain.AccessPolicy{
		CredentialProfile: "ro",
		ReadOnly:          true,
		MaxRows:           domain.DefaultMaxRows,
		MaxRuntimeSeconds: domain.DefaultMaxRuntimeSeconds,
		MaxConcurrent:     domain.DefaultMaxConcurrent,
	}
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (a *recordingAudit) Insert(_ context.Context, e *domain.AuditEntry) error {
	a.mu.Lock()
	a.entries = append(a.entries, *e)
	a.mu.Unlock()
	return nil
}

func (a *recordingAudit) ListRecent(_ context.Context, limit int) ([]domain.AuditEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.AuditEntry, len(a.entries))
	copy(out, a.entries)
	return out, nil
}

func (a *recordingAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.entries))
	for i, e := range a.entries {
		out[i] = e.Action + "/" + e.Status
	}
	return out
}

// failingResolver simulates an environment with no reachable engines.
type failingResolver struct{}

func (failingResolver) OpenConnection(context.Context, string, string) (domain.ConnectionHandle, error) {
	return nil, domain.ErrDriverUnavailable("no engine reachable")
}

// sqliteResolver hands out connections from a single test database.
type sqliteResolver struct{ db *sql.DB }

func (r sqliteResolver) OpenConnection(ctx context.Context, _, _ string) (domain.ConnectionHandle, error) {
	conn, err := r.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return testHandle{conn: conn}, nil
}

type testHandle struct{ conn *sql.Conn }

func (h testHandle) QueryContext(ctx context.Context, query string) (*sql.Rows, error) {
	return h.conn.QueryContext(ctx, query)
}

func (h testHandle) ExecContext(ctx context.Context, query string) (sql.Result, error) {
	return h.conn.ExecContext(ctx, query)
}

func (h testHandle) Close() error { return h.conn.Close() }

func newTestManager(t *testing.T, resolver domain.ConnectionResolver) (*Manager, *recordingAudit) {
	t.Helper()
	audit := &recordingAudit{}
	m := NewManager(resolver, audit, testQueryConfig(), slog.Default())
	return m, audit
}

func alice() domain.ContextPrincipal { return domain.ContextPrincipal{Name: "alice"} }
func admin() domain.ContextPrincipal { return domain.ContextPrincipal{Name: "root", IsAdmin: true} }

// waitTerminal polls until the execution reaches a terminal status.
func waitTerminal(t *testing.T, m *Manager, principal domain.ContextPrincipal, id string) *domain.ExecutionView {
	t.Helper()
	var view *domain.ExecutionView
	require.Eventually(t, func() bool {
		v, err := m.GetStatus(context.Background(), principal, id)
		if err != nil {
			return false
		}
		view = v
		return v.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	return view
}

func submit(t *testing.T, m *Manager, principal domain.ContextPrincipal, sqlText string, policy domain.AccessPolicy) *domain.ExecutionResponse {
	t.Helper()
	resp, err := m.Submit(context.Background(), principal, domain.SubmitRequest{
		DatasourceID: "dwh",
		SQL:          sqlText,
		OriginAddr:   "127.0.0.1",
	}, policy)
	require.NoError(t, err)
	return resp
}

func TestSubmit_LiteralSelect(t *testing.T) {
	m, audit := newTestManager(t, failingResolver{})

	resp := submit(t, m, alice(), "select 1;", testPolicy())
	assert.Equal(t, domain.ExecutionQueued, resp.Status)
	assert.NotEmpty(t, resp.ExecutionID)
	assert.NotEmpty(t, resp.QueryHash)

	view := waitTerminal(t, m, alice(), resp.ExecutionID)
	assert.Equal(t, domain.ExecutionSucceeded, view.Status)
	assert.Equal(t, 1, view.RowCount)
	assert.False(t, view.RowLimitReached)
	assert.NotNil(t, view.StartedAt)
	assert.NotNil(t, view.CompletedAt)

	page, err := m.GetResults(context.Background(), alice(), resp.ExecutionID, "", 0)
	require.NoError(t, err)
	require.Len(t, page.Rows, 1)
	assert.Equal(t, int64(1), page.Rows[0][0])
	assert.Nil(t, page.NextPageToken)
	require.Len(t, page.Columns, 1)
	assert.Equal(t, "?column?", page.Columns[0].Name)

	assert.Contains(t, audit.actions(), "QUERY_SUBMIT/ALLOWED")
	assert.Contains(t, audit.actions(), "QUERY_COMPLETE/ALLOWED")
}

func TestSubmit_QueryHashIgnoresWhitespaceAndTerminator(t *testing.T) {
	m, _ := newTestManager(t, failingResolver{})

	a := submit(t, m, alice(), "select 1", testPolicy())
	b := submit(t, m, alice(), "  select 1 ;\n", testPolicy())
	assert.Equal(t, a.QueryHash, b.QueryHash)
}

func TestSubmit_EmptySQL(t *testing.T) {
	m, _ := newTestManager(t, failingResolver{})
	_, err := m.Submit(context.Background(), alice(), domain.SubmitRequest{DatasourceID: "dwh", SQL: "  ;  "}, testPolicy())
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestSubmit_ReadOnlyPolicyRejectsWrites(t *testing.T) {
	m, audit := newTestManager(t, failingResolver{})

	_, err := m.Submit(context.Background(), alice(), domain.SubmitRequest{
		DatasourceID: "dwh",
		SQL:          "delete from accounts",
	}, testPolicy())
	var denied *domain.AccessDeniedError
	require.ErrorAs(t, err, &denied)
	assert.Contains(t, audit.actions(), "QUERY_SUBMIT/DENIED")
}

func TestGenerateSeries_Pagination(t *testing.T) {
	m, _ := newTestManager(t, failingResolver{})
	ctx := context.Background()

	resp := submit(t, m, alice(), "select generate_series(1,25)", testPolicy())
	view := waitTerminal(t, m, alice(), resp.ExecutionID)
	require.Equal(t, domain.ExecutionSucceeded, view.Status)
	require.Equal(t, 25, view.RowCount)

	first, err := m.GetResults(ctx, alice(), resp.ExecutionID, "", 10)
	require.NoError(t, err)
	require.Len(t, first.Rows, 10)
	assert.Equal(t, int64(1), first.Rows[0][0])
	assert.Equal(t, 25, first.TotalRows)
	require.NotNil(t, first.NextPageToken)

	second, err := m.GetResults(ctx, alice(), resp.ExecutionID, *first.NextPageToken, 10)
	require.NoError(t, err)
	require.Len(t, second.Rows, 10)
	assert.Equal(t, int64(11), second.Rows[0][0])
	require.NotNil(t, second.NextPageToken)

	third, err := m.GetResults(ctx, alice(), resp.ExecutionID, *second.NextPageToken, 10)
	require.NoError(t, err)
	require.Len(t, third.Rows, 5)
	assert.Nil(t, third.NextPageToken)

	// Concatenating all pages reproduces the full series exactly once, in
	// order.
	var all []int64
	for _, page := range []*domain.ResultPage{first, second, third} {
		for _, row := range page.Rows {
			all = append(all, row[0].(int64))
		}
	}
	require.Len(t, all, 25)
	for i, v := range all {
		assert.Equal(t, int64(i+1), v)
	}
}

func TestGetResults_Deterministic(t *testing.T) {
	m, _ := newTestManager(t, failingResolver{})
	ctx := context.Background()

	resp := submit(t, m, alice(), "select generate_series(1,25)", testPolicy())
	waitTerminal(t, m, alice(), resp.ExecutionID)

	first, err := m.GetResults(ctx, alice(), resp.ExecutionID, "", 10)
	require.NoError(t, err)
	again, err := m.GetResults(ctx, alice(), resp.ExecutionID, "", 10)
	require.NoError(t, err)
	assert.Equal(t, first.Rows, again.Rows)
	assert.Equal(t, *first.NextPageToken, *again.NextPageToken)
}

func TestGetResults_TamperedTokens(t *testing.T) {
	m, _ := newTestManager(t, failingResolver{})
	ctx := context.Background()

	resp := submit(t, m, alice(), "select generate_series(1,25)", testPolicy())
	waitTerminal(t, m, alice(), resp.ExecutionID)

	cases := []struct {
		name  string
		token string
	}{
		{"not base64", "!!!not-a-token!!!"},
		{"no separator", encodeRaw("justanid")},
		{"wrong execution id", encodePageToken("other-id", 5)},
		{"negative offset", encodeRaw(resp.ExecutionID + ":-1")},
		{"non-numeric offset", encodeRaw(resp.ExecutionID + ":ten")},
		{"offset beyond result set", encodePageToken(resp.ExecutionID, 9999)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := m.GetResults(ctx, alice(), resp.ExecutionID, tc.token, 10)
			var invalid *domain.InvalidPageTokenError
			require.ErrorAs(t, err, &invalid)
		})
	}
}

func TestRowLimit_TruncatesAndFlags(t *testing.T) {
	m, _ := newTestManager(t, failingResolver{})
	policy := testPolicy()
	policy.MaxRows = 10

	resp := submit(t, m, alice(), "select generate_series(1,25)", policy)
	view := waitTerminal(t, m, alice(), resp.ExecutionID)

	assert.Equal(t, domain.ExecutionSucceeded, view.Status)
	assert.True(t, view.RowLimitReached)
	assert.Equal(t, 10, view.RowCount)

	page, err := m.GetResults(context.Background(), alice(), resp.ExecutionID, "", 100)
	require.NoError(t, err)
	assert.Len(t, page.Rows, 10)
	assert.True(t, page.RowLimitReached)
	assert.Equal(t, int64(10), page.Rows[9][0])
}

func TestRowLimit_ExactCountIsNotTruncation(t *testing.T) {
	m, _ := newTestManager(t, failingResolver{})
	policy := testPolicy()
	policy.MaxRows = 25

	resp := submit(t, m, alice(), "select generate_series(1,25)", policy)
	view := waitTerminal(t, m, alice(), resp.ExecutionID)
	assert.Equal(t, domain.ExecutionSucceeded, view.Status)
	assert.False(t, view.RowLimitReached)
	assert.Equal(t, 25, view.RowCount)
}

func TestCancel_RunningSleep(t *testing.T) {
	m, audit := newTestManager(t, failingResolver{})
	ctx := context.Background()

	resp := submit(t, m, alice(), "select pg_sleep(5)", testPolicy())

	// Let the worker reach RUNNING before canceling.
	require.Eventually(t, func() bool {
		v, err := m.GetStatus(ctx, alice(), resp.ExecutionID)
		return err == nil && v.Status == domain.ExecutionRunning
	}, 2*time.Second, 5*time.Millisecond)

	start := time.Now()
	view, err := m.Cancel(ctx, alice(), resp.ExecutionID)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	if !view.Status.Terminal() {
		view = waitTerminal(t, m, alice(), resp.ExecutionID)
	}
	assert.Equal(t, domain.ExecutionCanceled, view.Status)

	_, err = m.GetResults(ctx, alice(), resp.ExecutionID, "", 0)
	var notReady *domain.NotReadyError
	require.ErrorAs(t, err, &notReady)

	assert.Contains(t, audit.actions(), "QUERY_CANCEL/ALLOWED")
	assert.Contains(t, audit.actions(), "QUERY_COMPLETE/CANCELED")
}

func TestCancel_Idempotent(t *testing.T) {
	m, _ := newTestManager(t, failingResolver{})
	ctx := context.Background()

	resp := submit(t, m, alice(), "select 1", testPolicy())
	waitTerminal(t, m, alice(), resp.ExecutionID)

	first, err := m.Cancel(ctx, alice(), resp.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionSucceeded, first.Status)

	second, err := m.Cancel(ctx, alice(), resp.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionSucceeded, second.Status)
}

func TestCancel_DoubleCancelOfCanceled(t *testing.T) {
	m, _ := newTestManager(t, failingResolver{})
	ctx := context.Background()

	resp := submit(t, m, alice(), "select pg_sleep(5)", testPolicy())
	_, err := m.Cancel(ctx, alice(), resp.ExecutionID)
	require.NoError(t, err)
	view := waitTerminal(t, m, alice(), resp.ExecutionID)
	require.Equal(t, domain.ExecutionCanceled, view.Status)

	again, err := m.Cancel(ctx, alice(), resp.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionCanceled, again.Status)
}

func TestRuntimeLimit_FailsExecution(t *testing.T) {
	m, _ := newTestManager(t, failingResolver{})
	policy := testPolicy()
	policy.MaxRuntimeSeconds = 1

	resp := submit(t, m, alice(), "select pg_sleep(5)", policy)
	view := waitTerminal(t, m, alice(), resp.ExecutionID)

	assert.Equal(t, domain.ExecutionFailed, view.Status)
	assert.Contains(t, view.Message, "runtime limit")
	assert.Contains(t, view.ErrorSummary, "runtime limit")
}

func TestConcurrencyLimit_NeverExceededUnderConcurrentSubmissions(t *testing.T) {
	m, _ := newTestManager(t, failingResolver{})
	ctx := context.Background()
	policy := testPolicy()
	policy.MaxConcurrent = 2

	const attempts = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		accepted  []string
		limitErrs int
		otherErrs []error
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := m.Submit(ctx, alice(), domain.SubmitRequest{DatasourceID: "dwh", SQL: "select pg_sleep(5)"}, policy)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				var limit *domain.ConcurrencyLimitError
				if errors.As(err, &limit) {
					limitErrs++
				} else {
					otherErrs = append(otherErrs, err)
				}
				return
			}
			accepted = append(accepted, resp.ExecutionID)
		}()
	}
	wg.Wait()

	require.Empty(t, otherErrs)
	assert.Len(t, accepted, 2)
	assert.Equal(t, attempts-2, limitErrs)

	for _, id := range accepted {
		_, err := m.Cancel(ctx, alice(), id)
		require.NoError(t, err)
		waitTerminal(t, m, alice(), id)
	}

	// Slots free up once the active executions are terminal.
	resp, err := m.Submit(ctx, alice(), domain.SubmitRequest{DatasourceID: "dwh", SQL: "select 1"}, policy)
	require.NoError(t, err)
	waitTerminal(t, m, alice(), resp.ExecutionID)
}

func TestActorIsolation(t *testing.T) {
	m, _ := newTestManager(t, failingResolver{})
	ctx := context.Background()

	resp := submit(t, m, alice(), "select 1", testPolicy())
	waitTerminal(t, m, alice(), resp.ExecutionID)

	bob := domain.ContextPrincipal{Name: "bob"}
	_, err := m.GetStatus(ctx, bob, resp.ExecutionID)
	var forbidden *domain.ForbiddenError
	require.ErrorAs(t, err, &forbidden)
	_, err = m.Cancel(ctx, bob, resp.ExecutionID)
	require.ErrorAs(t, err, &forbidden)
	_, err = m.GetResults(ctx, bob, resp.ExecutionID, "", 0)
	require.ErrorAs(t, err, &forbidden)

	// Admins may read any execution.
	_, err = m.GetStatus(ctx, admin(), resp.ExecutionID)
	require.NoError(t, err)

	assert.Len(t, m.List(ctx, alice()), 1)
	assert.Empty(t, m.List(ctx, bob))
	assert.Len(t, m.List(ctx, admin()), 1)
}

func TestGetStatus_UnknownExecution(t *testing.T) {
	m, _ := newTestManager(t, failingResolver{})
	_, err := m.GetStatus(context.Background(), alice(), "nope")
	var notFound *domain.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestGetResults_NotReadyWhileRunning(t *testing.T) {
	m, _ := newTestManager(t, failingResolver{})
	ctx := context.Background()

	resp := submit(t, m, alice(), "select pg_sleep(5)", testPolicy())
	_, err := m.GetResults(ctx, alice(), resp.ExecutionID, "", 0)
	var notReady *domain.NotReadyError
	require.ErrorAs(t, err, &notReady)

	_, err = m.Cancel(ctx, alice(), resp.ExecutionID)
	require.NoError(t, err)
}

func TestOfflineFallback_ReadOnlySelect(t *testing.T) {
	m, _ := newTestManager(t, failingResolver{})

	resp := submit(t, m, alice(), "select name from accounts", testPolicy())
	view := waitTerminal(t, m, alice(), resp.ExecutionID)
	require.Equal(t, domain.ExecutionSucceeded, view.Status)

	page, err := m.GetResults(context.Background(), alice(), resp.ExecutionID, "", 0)
	require.NoError(t, err)
	require.Len(t, page.Rows, 1)
	assert.Equal(t, "simulated result (connection unavailable)", page.Rows[0][0])
}

func TestOfflineFallback_DoesNotApplyToWrites(t *testing.T) {
	m, _ := newTestManager(t, failingResolver{})
	policy := testPolicy()
	policy.ReadOnly = false

	resp := submit(t, m, alice(), "update accounts set name = 'x'", policy)
	view := waitTerminal(t, m, alice(), resp.ExecutionID)
	assert.Equal(t, domain.ExecutionFailed, view.Status)
	assert.NotEmpty(t, view.ErrorSummary)
}

func TestRealConnection_SelectAndUpdate(t *testing.T) {
	db, err := sql.Open("sqlite3", "file::memory:?cache=shared")
	require.NoError(t, err)
	defer db.Close() //nolint:errcheck
	db.SetMaxOpenConns(1)
	_, err = db.Exec(`CREATE TABLE accounts (id INTEGER PRIMARY KEY, name TEXT)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO accounts (name) VALUES ('a'), ('b'), ('c')`)
	require.NoError(t, err)

	m, _ := newTestManager(t, sqliteResolver{db: db})
	ctx := context.Background()
	policy := testPolicy()
	policy.ReadOnly = false

	resp := submit(t, m, alice(), "select id, name from accounts order by id", policy)
	view := waitTerminal(t, m, alice(), resp.ExecutionID)
	require.Equal(t, domain.ExecutionSucceeded, view.Status)

	page, err := m.GetResults(ctx, alice(), resp.ExecutionID, "", 0)
	require.NoError(t, err)
	require.Len(t, page.Rows, 3)
	assert.Equal(t, "a", page.Rows[0][1])
	require.Len(t, page.Columns, 2)
	assert.Equal(t, "id", page.Columns[0].Name)

	upd := submit(t, m, alice(), "update accounts set name = 'z' where id <= 2", policy)
	updView := waitTerminal(t, m, alice(), upd.ExecutionID)
	require.Equal(t, domain.ExecutionSucceeded, updView.Status)

	updPage, err := m.GetResults(ctx, alice(), upd.ExecutionID, "", 0)
	require.NoError(t, err)
	require.Len(t, updPage.Rows, 1)
	assert.Equal(t, int64(2), updPage.Rows[0][0])
	require.Len(t, updPage.Columns, 1)
	assert.Equal(t, "affected_rows", updPage.Columns[0].Name)
}

func TestSweep_ExpiryAndRetention(t *testing.T) {
	m, _ := newTestManager(t, failingResolver{})
	ctx := context.Background()
	cfg := testQueryConfig()

	resp := submit(t, m, alice(), "select generate_series(1,5)", testPolicy())
	waitTerminal(t, m, alice(), resp.ExecutionID)

	// Not yet idle long enough: nothing happens.
	forceCanceled, expired, removed := m.Sweep(time.Now().Add(cfg.ResultTTL / 2))
	assert.Zero(t, forceCanceled+expired+removed)
	_, err := m.GetResults(ctx, alice(), resp.ExecutionID, "", 0)
	require.NoError(t, err)

	// Idle past the TTL: the buffer is cleared but the record survives.
	_, expired, _ = m.Sweep(time.Now().Add(cfg.ResultTTL + time.Minute))
	assert.Equal(t, 1, expired)
	view, err := m.GetStatus(ctx, alice(), resp.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionSucceeded, view.Status)
	assert.True(t, view.ResultsExpired)
	assert.Zero(t, view.RowCount)
	_, err = m.GetResults(ctx, alice(), resp.ExecutionID, "", 0)
	var exp *domain.ExpiredError
	require.ErrorAs(t, err, &exp)

	// Past the retention window: the record is removed entirely.
	_, _, removed = m.Sweep(time.Now().Add(cfg.RetentionWindow + time.Minute))
	assert.Equal(t, 1, removed)
	_, err = m.GetStatus(ctx, alice(), resp.ExecutionID)
	var notFound *domain.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestSweep_ReadRefreshesTTL(t *testing.T) {
	m, _ := newTestManager(t, failingResolver{})
	ctx := context.Background()
	cfg := testQueryConfig()

	resp := submit(t, m, alice(), "select 1", testPolicy())
	waitTerminal(t, m, alice(), resp.ExecutionID)

	// A read refreshes last access, so a sweep shortly after the original
	// TTL horizon finds the record still fresh.
	base := time.Now()
	m.now = func() time.Time { return base.Add(cfg.ResultTTL - time.Minute) }
	_, err := m.GetResults(ctx, alice(), resp.ExecutionID, "", 0)
	require.NoError(t, err)
	m.now = time.Now

	_, expired, _ := m.Sweep(base.Add(cfg.ResultTTL + time.Minute))
	assert.Zero(t, expired)
}

func TestSweep_ForceCancelsRunaway(t *testing.T) {
	m, _ := newTestManager(t, failingResolver{})
	ctx := context.Background()
	policy := testPolicy()
	policy.MaxRuntimeSeconds = 60

	resp := submit(t, m, alice(), "select pg_sleep(30)", policy)
	require.Eventually(t, func() bool {
		v, err := m.GetStatus(ctx, alice(), resp.ExecutionID)
		return err == nil && v.Status == domain.ExecutionRunning
	}, 2*time.Second, 5*time.Millisecond)

	forceCanceled, _, _ := m.Sweep(time.Now().Add(2 * time.Hour))
	assert.Equal(t, 1, forceCanceled)

	view := waitTerminal(t, m, alice(), resp.ExecutionID)
	assert.Equal(t, domain.ExecutionCanceled, view.Status)
}

func encodeRaw(s string) string {
	return base64.URLEncoding.EncodeToString([]byte(s))
}
