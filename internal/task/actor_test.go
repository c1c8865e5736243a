package task_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/webreport/scrapetask/internal/extract"
	pubmem "github.com/webreport/scrapetask/internal/publisher/memory"
	statemem "github.com/webreport/scrapetask/internal/state/memory"
	storagemem "github.com/webreport/scrapetask/internal/storage/memory"
	"github.com/webreport/scrapetask/internal/task"
)

const samplePage = `<html>
<head>
<title>Example Domain</title>
<meta name="description" content="An example page.">
</head>
<body>
<a href="https://example.com/a">First</a>
<a href="/b">Second</a>
</body>
</html>`

type fakeFetcher struct {
	mu     sync.Mutex
	status int
	body   string
	err    error
	gate   chan struct{}
}

// set swaps the canned response, letting a test fail one run and
// succeed the next.
func (f *fakeFetcher) set(status int, body string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = status
	f.body = body
	f.err = err
}

// setGate parks subsequent fetches until the channel is closed.
func (f *fakeFetcher) setGate(gate chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = gate
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (task.FetchResult, error) {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return task.FetchResult{}, ctx.Err()
		}
	}
	f.mu.Lock()
	status, body, err := f.status, f.body, f.err
	f.mu.Unlock()
	if err != nil {
		return task.FetchResult{}, err
	}
	if status == 0 {
		status = 200
	}
	return task.FetchResult{
		FinalURL:   url,
		StatusCode: status,
		Body:       []byte(body),
		Duration:   time.Millisecond,
	}, nil
}

type fixedClock struct {
	t time.Time
}

func (c *fixedClock) Now() time.Time {
	return c.t
}

type fakeGenerator struct {
	summary string
	err     error
}

func (g *fakeGenerator) Generate(_ context.Context, _ string, _ task.GenerateOptions) (string, error) {
	return g.summary, g.err
}

func newActor(t *testing.T, deps task.Deps) (*task.Actor, *storagemem.BlobStore) {
	t.Helper()
	if deps.Blob == nil {
		deps.Blob = storagemem.NewBlobStore()
	}
	if deps.Clock == nil {
		deps.Clock = &fixedClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	}
	store := statemem.NewStore()
	actor := task.NewActor("task-1", store.Scope("task-1"), deps, zap.NewNop())
	blob, _ := deps.Blob.(*storagemem.BlobStore)
	return actor, blob
}

func waitForStatus(t *testing.T, actor *task.Actor, want task.Status) task.Snapshot {
	t.Helper()
	var snap task.Snapshot
	require.Eventually(t, func() bool {
		var err error
		snap, err = actor.Status(context.Background())
		return err == nil && snap.Status == want
	}, 2*time.Second, 5*time.Millisecond, "task never reached status %s", want)
	return snap
}

func TestInitValidation(t *testing.T) {
	t.Parallel()

	actor, _ := newActor(t, task.Deps{Fetcher: &fakeFetcher{body: samplePage}})
	ctx := context.Background()

	require.Error(t, actor.Init(ctx, "", "task-1"))
	require.Error(t, actor.Init(ctx, "not a url ://", "task-1"))
	require.Error(t, actor.Init(ctx, "/relative", "task-1"))
	require.Error(t, actor.Init(ctx, "ftp://example.com", "task-1"))
	require.Error(t, actor.Init(ctx, "https://example.com", ""))

	for _, raw := range []string{"", "/relative", "ftp://example.com"} {
		err := actor.Init(ctx, raw, "task-1")
		require.True(t, task.IsValidation(err), "input %q", raw)
	}

	// Nothing was persisted, so the task is still unknown.
	_, err := actor.Status(ctx)
	require.ErrorIs(t, err, task.ErrNotFound)
}

func TestStatusUnknownTask(t *testing.T) {
	t.Parallel()

	actor, _ := newActor(t, task.Deps{Fetcher: &fakeFetcher{}})
	_, err := actor.Status(context.Background())
	require.ErrorIs(t, err, task.ErrNotFound)
}

func TestInitRunsPipelineToCompletion(t *testing.T) {
	t.Parallel()

	actor, blob := newActor(t, task.Deps{Fetcher: &fakeFetcher{body: samplePage}})
	ctx := context.Background()

	require.NoError(t, actor.Init(ctx, "https://example.com", "task-1"))
	snap := waitForStatus(t, actor, task.StatusCompleted)

	require.Equal(t, "task-1", snap.TaskID)
	require.Equal(t, "https://example.com", snap.TargetURL)
	require.NotNil(t, snap.Progress)
	require.Equal(t, 100, *snap.Progress)
	require.NotEmpty(t, snap.CreatedAt)
	require.NotEmpty(t, snap.CompletedAt)
	require.Empty(t, snap.Error)

	data, err := blob.Get(ctx, "task-1.json")
	require.NoError(t, err)

	var report task.Report
	require.NoError(t, json.Unmarshal(data, &report))
	require.Equal(t, "task-1", report.TaskID)
	require.Equal(t, "https://example.com", report.TargetURL)
	require.Equal(t, "Example Domain", report.Metadata.Title)
	require.Equal(t, "An example page.", report.Metadata.Description)
	require.Len(t, report.Content.Links, 2)
	require.Equal(t, extract.Link{URL: "https://example.com/a", Text: "First"}, report.Content.Links[0])
	require.Equal(t, extract.Link{URL: "https://example.com/b", Text: "Second"}, report.Content.Links[1])
	require.NotEmpty(t, report.Content.RawHTML)

	attrs, err := blob.Attrs(ctx, "task-1.json")
	require.NoError(t, err)
	require.Equal(t, "application/json", attrs.ContentType)
	require.Equal(t, int64(len(data)), attrs.Size)
}

func TestProgressIsMonotonic(t *testing.T) {
	t.Parallel()

	actor, _ := newActor(t, task.Deps{Fetcher: &fakeFetcher{body: samplePage}})
	ctx := context.Background()

	require.NoError(t, actor.Init(ctx, "https://example.com", "task-1"))

	var observed []int
	require.Eventually(t, func() bool {
		snap, err := actor.Status(ctx)
		if err != nil {
			return false
		}
		if snap.Progress != nil {
			observed = append(observed, *snap.Progress)
		}
		return snap.Status == task.StatusCompleted
	}, 2*time.Second, time.Millisecond)

	require.NotEmpty(t, observed)
	for i := 1; i < len(observed); i++ {
		require.GreaterOrEqual(t, observed[i], observed[i-1])
	}
	require.Equal(t, 100, observed[len(observed)-1])
}

func TestFetchStatusFailure(t *testing.T) {
	t.Parallel()

	actor, blob := newActor(t, task.Deps{Fetcher: &fakeFetcher{status: 404, body: "gone"}})
	ctx := context.Background()

	require.NoError(t, actor.Init(ctx, "https://example.com/missing", "task-1"))
	snap := waitForStatus(t, actor, task.StatusError)

	require.Contains(t, snap.Error, "status 404")
	require.Empty(t, snap.CompletedAt)
	require.NotEmpty(t, snap.Logs)
	last := snap.Logs[len(snap.Logs)-1]
	require.Equal(t, task.LogLevelError, last.Level)
	require.Contains(t, last.Message, "404")

	// No report was written.
	_, err := blob.Get(ctx, "task-1.json")
	require.ErrorIs(t, err, task.ErrObjectNotFound)
}

func TestFetchTransportFailure(t *testing.T) {
	t.Parallel()

	actor, _ := newActor(t, task.Deps{Fetcher: &fakeFetcher{err: errors.New("connection refused")}})
	ctx := context.Background()

	require.NoError(t, actor.Init(ctx, "https://unreachable.example", "task-1"))
	snap := waitForStatus(t, actor, task.StatusError)
	require.Contains(t, snap.Error, "connection refused")
}

func TestStartGuardWhileRunning(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	actor, _ := newActor(t, task.Deps{Fetcher: &fakeFetcher{body: samplePage, gate: gate}})
	ctx := context.Background()

	require.NoError(t, actor.Init(ctx, "https://example.com", "task-1"))

	before, err := actor.Status(ctx)
	require.NoError(t, err)

	err = actor.Start(ctx)
	require.ErrorIs(t, err, task.ErrAlreadyInProgress)

	// The rejected start left the snapshot untouched.
	after, err := actor.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, before, after)

	close(gate)
	waitForStatus(t, actor, task.StatusCompleted)
}

func TestStartGuardAfterCompletion(t *testing.T) {
	t.Parallel()

	actor, _ := newActor(t, task.Deps{Fetcher: &fakeFetcher{body: samplePage}})
	ctx := context.Background()

	require.NoError(t, actor.Init(ctx, "https://example.com", "task-1"))
	before := waitForStatus(t, actor, task.StatusCompleted)

	err := actor.Start(ctx)
	require.ErrorIs(t, err, task.ErrAlreadyCompleted)

	after, err := actor.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestResetAndRestart(t *testing.T) {
	t.Parallel()

	actor, blob := newActor(t, task.Deps{Fetcher: &fakeFetcher{body: samplePage}})
	ctx := context.Background()

	require.NoError(t, actor.Init(ctx, "https://example.com", "task-1"))
	completed := waitForStatus(t, actor, task.StatusCompleted)

	require.NoError(t, actor.Reset(ctx))

	snap, err := actor.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, task.StatusPending, snap.Status)
	require.Nil(t, snap.Progress)
	require.Empty(t, snap.CompletedAt)
	require.Empty(t, snap.Error)
	require.Equal(t, completed.TaskID, snap.TaskID)
	require.Equal(t, completed.TargetURL, snap.TargetURL)
	require.Equal(t, completed.CreatedAt, snap.CreatedAt)
	last := snap.Logs[len(snap.Logs)-1]
	require.Equal(t, "task reset", last.Message)

	require.NoError(t, actor.Start(ctx))
	waitForStatus(t, actor, task.StatusCompleted)

	// Re-run overwrote the report object at the same key.
	keys, err := blob.List(ctx, "")
	require.NoError(t, err)
	require.Equal(t, []string{"task-1.json"}, keys)
}

func TestResetIsIdempotent(t *testing.T) {
	t.Parallel()

	actor, _ := newActor(t, task.Deps{Fetcher: &fakeFetcher{body: samplePage}})
	ctx := context.Background()

	require.NoError(t, actor.Init(ctx, "https://example.com", "task-1"))
	waitForStatus(t, actor, task.StatusCompleted)

	require.NoError(t, actor.Reset(ctx))
	require.NoError(t, actor.Reset(ctx))

	snap, err := actor.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, task.StatusPending, snap.Status)
}

func TestLogHistoryBounds(t *testing.T) {
	t.Parallel()

	actor, _ := newActor(t, task.Deps{Fetcher: &fakeFetcher{body: samplePage}})
	ctx := context.Background()

	require.NoError(t, actor.Init(ctx, "https://example.com", "task-1"))
	waitForStatus(t, actor, task.StatusCompleted)

	// Generate far more entries than the retention bound.
	for i := 0; i < 2*task.MaxStoredLogs; i++ {
		require.NoError(t, actor.Reset(ctx))
	}

	snap, err := actor.Status(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Logs, task.SnapshotLogs)
	for _, entry := range snap.Logs {
		require.Equal(t, "task reset", entry.Message)
	}
}

func TestGeneratorSummaryInReport(t *testing.T) {
	t.Parallel()

	actor, blob := newActor(t, task.Deps{
		Fetcher:   &fakeFetcher{body: samplePage},
		Generator: &fakeGenerator{summary: "A short page about examples."},
	})
	ctx := context.Background()

	require.NoError(t, actor.Init(ctx, "https://example.com", "task-1"))
	waitForStatus(t, actor, task.StatusCompleted)

	data, err := blob.Get(ctx, "task-1.json")
	require.NoError(t, err)
	var report task.Report
	require.NoError(t, json.Unmarshal(data, &report))
	require.Equal(t, "A short page about examples.", report.Metadata.Summary)
}

func TestGeneratorFailureFailsPipeline(t *testing.T) {
	t.Parallel()

	actor, _ := newActor(t, task.Deps{
		Fetcher:   &fakeFetcher{body: samplePage},
		Generator: &fakeGenerator{err: errors.New("model unavailable")},
	})
	ctx := context.Background()

	require.NoError(t, actor.Init(ctx, "https://example.com", "task-1"))
	snap := waitForStatus(t, actor, task.StatusError)
	require.Contains(t, snap.Error, "model unavailable")
}

func TestTerminalEventPublished(t *testing.T) {
	t.Parallel()

	pub := pubmem.New()
	actor, _ := newActor(t, task.Deps{
		Fetcher:   &fakeFetcher{body: samplePage},
		Publisher: pub,
		Topic:     "task-events",
	})
	ctx := context.Background()

	require.NoError(t, actor.Init(ctx, "https://example.com", "task-1"))
	waitForStatus(t, actor, task.StatusCompleted)

	require.Eventually(t, func() bool {
		return len(pub.Events()) == 1
	}, time.Second, 5*time.Millisecond)

	event := pub.Events()[0]
	require.Equal(t, "task-events", event.Topic)
	payload, ok := event.Payload.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "task-1", payload["taskId"])
	require.Equal(t, "completed", payload["status"])
	require.Equal(t, "task-1.json", payload["reportKey"])
}

func TestReinitAfterErrorClearsStaleState(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{status: 404, body: "gone"}
	actor, _ := newActor(t, task.Deps{Fetcher: fetcher})
	ctx := context.Background()

	require.NoError(t, actor.Init(ctx, "https://example.com", "task-1"))
	failed := waitForStatus(t, actor, task.StatusError)
	require.NotEmpty(t, failed.Error)

	fetcher.set(200, samplePage, nil)
	require.NoError(t, actor.Init(ctx, "https://example.com", "task-1"))
	snap := waitForStatus(t, actor, task.StatusCompleted)

	require.Empty(t, snap.Error)
	require.NotNil(t, snap.Progress)
	require.Equal(t, 100, *snap.Progress)
	require.NotEmpty(t, snap.CompletedAt)
	require.Equal(t, failed.CreatedAt, snap.CreatedAt)
}

func TestReinitAfterCompletionClearsTerminalFields(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{body: samplePage}
	actor, _ := newActor(t, task.Deps{Fetcher: fetcher})
	ctx := context.Background()

	require.NoError(t, actor.Init(ctx, "https://example.com", "task-1"))
	waitForStatus(t, actor, task.StatusCompleted)

	// Park the relaunched run on the fetch so the freshly initialized
	// snapshot is observable before any new milestone is committed.
	gate := make(chan struct{})
	fetcher.setGate(gate)
	defer close(gate)

	require.NoError(t, actor.Init(ctx, "https://example.com", "task-1"))
	snap := waitForStatus(t, actor, task.StatusInProgress)

	require.True(t, snap.Progress == nil || *snap.Progress < 100)
	require.Empty(t, snap.CompletedAt)
	require.Empty(t, snap.Error)
}

func TestStartAfterErrorClearsError(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{err: errors.New("connection refused")}
	actor, _ := newActor(t, task.Deps{Fetcher: fetcher})
	ctx := context.Background()

	require.NoError(t, actor.Init(ctx, "https://example.com", "task-1"))
	waitForStatus(t, actor, task.StatusError)

	fetcher.set(200, samplePage, nil)
	require.NoError(t, actor.Start(ctx))
	snap := waitForStatus(t, actor, task.StatusCompleted)
	require.Empty(t, snap.Error)
	require.NotEmpty(t, snap.CompletedAt)
}

func TestStartUnknownTask(t *testing.T) {
	t.Parallel()

	actor, _ := newActor(t, task.Deps{Fetcher: &fakeFetcher{body: samplePage}})
	ctx := context.Background()

	require.ErrorIs(t, actor.Start(ctx), task.ErrNotFound)

	// The rejected start persisted nothing.
	_, err := actor.Status(ctx)
	require.ErrorIs(t, err, task.ErrNotFound)
}

func TestReinitOverwritesTarget(t *testing.T) {
	t.Parallel()

	actor, _ := newActor(t, task.Deps{Fetcher: &fakeFetcher{body: samplePage}})
	ctx := context.Background()

	require.NoError(t, actor.Init(ctx, "https://example.com/one", "task-1"))
	first := waitForStatus(t, actor, task.StatusCompleted)

	require.NoError(t, actor.Init(ctx, "https://example.com/two", "task-1"))
	var snap task.Snapshot
	require.Eventually(t, func() bool {
		var err error
		snap, err = actor.Status(ctx)
		return err == nil && snap.Status == task.StatusCompleted && snap.TargetURL == "https://example.com/two"
	}, 2*time.Second, 5*time.Millisecond)

	require.Equal(t, first.CreatedAt, snap.CreatedAt)
}

func TestValidateTargetURL(t *testing.T) {
	t.Parallel()

	valid := []string{
		"http://example.com",
		"https://example.com/path?q=1",
	}
	for _, raw := range valid {
		require.NoError(t, task.ValidateTargetURL(raw), raw)
	}

	invalid := []string{
		"",
		"   ",
		"example.com",
		"/relative/path",
		"ftp://example.com",
		"https://",
	}
	for _, raw := range invalid {
		err := task.ValidateTargetURL(raw)
		require.Error(t, err, raw)
		require.True(t, task.IsValidation(err), raw)
	}
}

func TestValidationErrorMessage(t *testing.T) {
	t.Parallel()

	err := task.NewValidationError("targetUrl", "must not be empty")
	require.EqualError(t, err, "invalid targetUrl: must not be empty")
	require.True(t, task.IsValidation(err))
	require.False(t, task.IsValidation(fmt.Errorf("other")))
}
