package task

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/webreport/scrapetask/internal/extract"
	"github.com/webreport/scrapetask/internal/metrics"
)

// Persisted state keys, one scope per task.
const (
	keyTargetURL   = "targetUrl"
	keyTaskID      = "taskId"
	keyStatus      = "status"
	keyProgress    = "progress"
	keyCreatedAt   = "createdAt"
	keyUpdatedAt   = "updatedAt"
	keyCompletedAt = "completedAt"
	keyError       = "error"
	keyLogs        = "logs"
)

// Progress milestones committed by the pipeline, in order.
const (
	progressFetching  = 10
	progressFetched   = 30
	progressProcessed = 60
	progressCompleted = 100
)

// Deps are the collaborators one actor drives the pipeline with.
type Deps struct {
	Fetcher   Fetcher
	Blob      BlobStore
	Publisher Publisher
	Topic     string
	Generator Generator
	Clock     Clock
}

// Actor owns the lifecycle of exactly one task. All mutation of the task's
// persisted state goes through the actor; concurrent readers observe only
// durably committed state. The pipeline runs on its own goroutine, at most
// one live run per task.
type Actor struct {
	id     string
	scope  StateScope
	deps   Deps
	logger *zap.Logger

	mu      sync.Mutex
	running bool
}

// NewActor builds the actor for one task identifier over its state scope.
func NewActor(id string, scope StateScope, deps Deps, logger *zap.Logger) *Actor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Actor{
		id:     id,
		scope:  scope,
		deps:   deps,
		logger: logger.With(zap.String("task_id", id)),
	}
}

// ID returns the task identifier this actor owns.
func (a *Actor) ID() string {
	return a.id
}

// ValidateTargetURL checks that raw is a well-formed absolute http(s) URL.
func ValidateTargetURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return NewValidationError("targetUrl", "must not be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return NewValidationError("targetUrl", "malformed URL")
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return NewValidationError("targetUrl", "must be an absolute http(s) URL")
	}
	return nil
}

// Init records the task in pending state and launches the pipeline.
// The launch is fire-and-forget: Init returns before any fetching happens.
// Re-invocation overwrites the stored targetUrl, taskId and status and
// clears any terminal fields left by a previous run; createdAt is only
// ever set once.
func (a *Actor) Init(ctx context.Context, targetURL, taskID string) error {
	if taskID == "" {
		return NewValidationError("taskId", "must not be empty")
	}
	if err := ValidateTargetURL(targetURL); err != nil {
		return err
	}

	a.mu.Lock()
	if err := a.scope.DeleteMulti(ctx, keyCompletedAt, keyProgress, keyError); err != nil {
		a.mu.Unlock()
		return fmt.Errorf("clear terminal fields: %w", err)
	}
	now := a.now()
	values := map[string]string{
		keyTargetURL: targetURL,
		keyTaskID:    taskID,
		keyStatus:    string(StatusPending),
		keyUpdatedAt: now,
	}
	if _, ok, err := a.scope.Get(ctx, keyCreatedAt); err != nil {
		a.mu.Unlock()
		return fmt.Errorf("read createdAt: %w", err)
	} else if !ok {
		values[keyCreatedAt] = now
	}
	if err := a.scope.SetMulti(ctx, values); err != nil {
		a.mu.Unlock()
		return fmt.Errorf("persist task: %w", err)
	}
	if err := a.appendLogLocked(ctx, LogLevelInfo, "task initialized"); err != nil {
		a.mu.Unlock()
		return err
	}
	launched := a.markRunningLocked()
	a.mu.Unlock()

	if launched {
		go a.run()
	} else {
		a.logger.Warn("init while pipeline active; not relaunching")
	}
	return nil
}

// Start re-drives the pipeline after a reset. It rejects with
// ErrAlreadyInProgress while a run is live, with ErrAlreadyCompleted for
// a finished task, and with ErrNotFound for an id that was never
// initialized, leaving state untouched in all three cases.
func (a *Actor) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return ErrAlreadyInProgress
	}
	if _, ok, err := a.scope.Get(ctx, keyTaskID); err != nil {
		a.mu.Unlock()
		return fmt.Errorf("read taskId: %w", err)
	} else if !ok {
		a.mu.Unlock()
		return ErrNotFound
	}
	status, _, err := a.scope.Get(ctx, keyStatus)
	if err != nil {
		a.mu.Unlock()
		return fmt.Errorf("read status: %w", err)
	}
	switch Status(status) {
	case StatusInProgress:
		a.mu.Unlock()
		return ErrAlreadyInProgress
	case StatusCompleted:
		a.mu.Unlock()
		return ErrAlreadyCompleted
	}
	a.markRunningLocked()
	a.mu.Unlock()

	go a.run()
	return nil
}

// Status returns the durably committed view of the task. It never mutates
// state and surfaces only the most recent SnapshotLogs log entries.
func (a *Actor) Status(ctx context.Context) (Snapshot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	taskID, ok, err := a.scope.Get(ctx, keyTaskID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read taskId: %w", err)
	}
	if !ok {
		return Snapshot{}, ErrNotFound
	}

	snap := Snapshot{TaskID: taskID, Logs: []LogEntry{}}
	if v, ok, err := a.scope.Get(ctx, keyTargetURL); err != nil {
		return Snapshot{}, fmt.Errorf("read targetUrl: %w", err)
	} else if ok {
		snap.TargetURL = v
	}
	if v, ok, err := a.scope.Get(ctx, keyStatus); err != nil {
		return Snapshot{}, fmt.Errorf("read status: %w", err)
	} else if ok {
		snap.Status = Status(v)
	}
	if v, ok, err := a.scope.Get(ctx, keyProgress); err != nil {
		return Snapshot{}, fmt.Errorf("read progress: %w", err)
	} else if ok {
		if p, convErr := strconv.Atoi(v); convErr == nil {
			snap.Progress = &p
		}
	}
	for key, dst := range map[string]*string{
		keyCreatedAt:   &snap.CreatedAt,
		keyUpdatedAt:   &snap.UpdatedAt,
		keyCompletedAt: &snap.CompletedAt,
		keyError:       &snap.Error,
	} {
		if v, ok, err := a.scope.Get(ctx, key); err != nil {
			return Snapshot{}, fmt.Errorf("read %s: %w", key, err)
		} else if ok {
			*dst = v
		}
	}

	logs, err := a.readLogsLocked(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	if len(logs) > SnapshotLogs {
		logs = logs[len(logs)-SnapshotLogs:]
	}
	snap.Logs = logs
	return snap, nil
}

// Reset returns the task to pending, clearing completedAt, progress and
// error while preserving targetUrl, taskId and createdAt. It always
// succeeds regardless of the current status and appends a log entry.
func (a *Actor) Reset(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.scope.DeleteMulti(ctx, keyCompletedAt, keyProgress, keyError); err != nil {
		return fmt.Errorf("clear terminal fields: %w", err)
	}
	if err := a.scope.SetMulti(ctx, map[string]string{
		keyStatus:    string(StatusPending),
		keyUpdatedAt: a.now(),
	}); err != nil {
		return fmt.Errorf("persist reset: %w", err)
	}
	return a.appendLogLocked(ctx, LogLevelInfo, "task reset")
}

// run executes one pipeline activation. Steps are strictly sequential and
// every durable write is awaited before the next step begins; the launching
// call has already returned to its caller.
func (a *Actor) run() {
	ctx := context.Background()
	started := time.Now()

	err := a.pipeline(ctx)

	terminal := StatusCompleted
	if err != nil {
		terminal = StatusError
		a.fail(ctx, err)
	}
	metrics.ObserveTask(string(terminal), time.Since(started))
	a.publishTerminal(ctx, terminal)

	a.mu.Lock()
	a.running = false
	a.mu.Unlock()
}

func (a *Actor) pipeline(ctx context.Context) error {
	targetURL, ok, err := a.getState(ctx, keyTargetURL)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("task %s has no target URL", a.id)
	}

	if err := a.commit(ctx, nil, map[string]string{keyStatus: string(StatusInProgress)}, LogLevelInfo, "started"); err != nil {
		return err
	}

	if err := a.commitProgress(ctx, progressFetching, "fetching "+targetURL); err != nil {
		return err
	}
	res, err := a.deps.Fetcher.Fetch(ctx, targetURL)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", targetURL, err)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return fmt.Errorf("fetch %s: status %d", targetURL, res.StatusCode)
	}
	metrics.ObserveFetch(targetURL, res.StatusCode, len(res.Body), res.Duration)
	if err := a.commitProgress(ctx, progressFetched, "fetched"); err != nil {
		return err
	}

	body := string(res.Body)
	page := extract.Page(body, targetURL)
	if err := a.commitProgress(ctx, progressProcessed, "processed"); err != nil {
		return err
	}

	report, err := a.buildReport(ctx, targetURL, page, body)
	if err != nil {
		return err
	}
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	uri, err := a.deps.Blob.Put(ctx, a.ReportKey(), "application/json", data)
	if err != nil {
		return fmt.Errorf("store report: %w", err)
	}
	a.logger.Info("report stored", zap.String("uri", uri), zap.Int("bytes", len(data)))

	// A successful run invalidates any error left by an earlier one.
	a.mu.Lock()
	if err := a.scope.DeleteMulti(ctx, keyError); err != nil {
		a.mu.Unlock()
		return fmt.Errorf("clear error: %w", err)
	}
	a.mu.Unlock()

	now := a.now()
	return a.commit(ctx, intPtr(progressCompleted), map[string]string{
		keyStatus:      string(StatusCompleted),
		keyCompletedAt: now,
	}, LogLevelInfo, "completed")
}

// fail converts any pipeline failure into the terminal error state. It is
// the single exit path for fetch, extraction, generation and store
// failures; none of them propagate past the pipeline boundary.
func (a *Actor) fail(ctx context.Context, cause error) {
	a.logger.Error("pipeline failed", zap.Error(cause))

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.scope.DeleteMulti(ctx, keyCompletedAt); err != nil {
		a.logger.Error("clear completedAt failed", zap.Error(err))
	}
	if err := a.scope.SetMulti(ctx, map[string]string{
		keyStatus:    string(StatusError),
		keyError:     cause.Error(),
		keyUpdatedAt: a.now(),
	}); err != nil {
		a.logger.Error("persist error state failed", zap.Error(err))
		return
	}
	if err := a.appendLogLocked(ctx, LogLevelError, cause.Error()); err != nil {
		a.logger.Error("append failure log failed", zap.Error(err))
	}
}

// ReportKey returns the blob store key this task's report lives under.
func (a *Actor) ReportKey() string {
	return a.id + ".json"
}

func (a *Actor) buildReport(ctx context.Context, targetURL string, page extract.Result, body string) (Report, error) {
	report := Report{
		TaskID:    a.id,
		TargetURL: targetURL,
		ScrapedAt: a.now(),
		Metadata: ReportMetadata{
			Title:       page.Title,
			Description: page.Description,
		},
		Content: ReportContent{
			Links:   page.Links,
			RawHTML: extract.Snippet(body),
		},
	}
	if report.Content.Links == nil {
		report.Content.Links = []extract.Link{}
	}
	if a.deps.Generator != nil {
		summary, err := a.deps.Generator.Generate(ctx, summaryPrompt(targetURL, page), GenerateOptions{MaxWords: 120})
		if err != nil {
			return Report{}, fmt.Errorf("generate summary: %w", err)
		}
		report.Metadata.Summary = summary
	}
	return report, nil
}

func summaryPrompt(targetURL string, page extract.Result) string {
	return fmt.Sprintf(
		"Summarize the page at %s titled %q (description: %q, %d outbound links) in a short paragraph.",
		targetURL, page.Title, page.Description, len(page.Links),
	)
}

func (a *Actor) publishTerminal(ctx context.Context, status Status) {
	if a.deps.Publisher == nil || a.deps.Topic == "" {
		return
	}
	payload := map[string]any{
		"taskId":    a.id,
		"status":    string(status),
		"timestamp": a.now(),
	}
	if v, ok, err := a.getState(ctx, keyTargetURL); err == nil && ok {
		payload["targetUrl"] = v
	}
	if status == StatusCompleted {
		payload["reportKey"] = a.ReportKey()
	}
	if _, err := a.deps.Publisher.Publish(ctx, a.deps.Topic, payload); err != nil {
		// Notification loss is tolerated; the task state is authoritative.
		a.logger.Warn("publish terminal event failed", zap.Error(err))
	}
}

// commitProgress durably commits a progress milestone plus a log entry
// before the pipeline proceeds, so concurrent readers observe monotonic
// progress.
func (a *Actor) commitProgress(ctx context.Context, progress int, message string) error {
	return a.commit(ctx, &progress, nil, LogLevelInfo, message)
}

func (a *Actor) commit(ctx context.Context, progress *int, extra map[string]string, level, message string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	values := map[string]string{keyUpdatedAt: a.now()}
	if progress != nil {
		values[keyProgress] = strconv.Itoa(*progress)
	}
	for k, v := range extra {
		values[k] = v
	}
	if err := a.scope.SetMulti(ctx, values); err != nil {
		return fmt.Errorf("commit %q: %w", message, err)
	}
	return a.appendLogLocked(ctx, level, message)
}

func (a *Actor) getState(ctx context.Context, key string) (string, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok, err := a.scope.Get(ctx, key)
	if err != nil {
		return "", false, fmt.Errorf("read %s: %w", key, err)
	}
	return v, ok, nil
}

func (a *Actor) readLogsLocked(ctx context.Context) ([]LogEntry, error) {
	raw, ok, err := a.scope.Get(ctx, keyLogs)
	if err != nil {
		return nil, fmt.Errorf("read logs: %w", err)
	}
	if !ok || raw == "" {
		return []LogEntry{}, nil
	}
	var logs []LogEntry
	if err := json.Unmarshal([]byte(raw), &logs); err != nil {
		return nil, fmt.Errorf("decode logs: %w", err)
	}
	return logs, nil
}

// appendLogLocked appends one entry, evicting the oldest beyond
// MaxStoredLogs. Callers must hold a.mu.
func (a *Actor) appendLogLocked(ctx context.Context, level, message string) error {
	logs, err := a.readLogsLocked(ctx)
	if err != nil {
		return err
	}
	logs = append(logs, LogEntry{
		Timestamp: a.now(),
		Message:   message,
		Level:     level,
	})
	if len(logs) > MaxStoredLogs {
		logs = logs[len(logs)-MaxStoredLogs:]
	}
	data, err := json.Marshal(logs)
	if err != nil {
		return fmt.Errorf("encode logs: %w", err)
	}
	if err := a.scope.SetMulti(ctx, map[string]string{keyLogs: string(data)}); err != nil {
		return fmt.Errorf("persist logs: %w", err)
	}
	return nil
}

// markRunningLocked claims the single live pipeline slot. Callers must
// hold a.mu.
func (a *Actor) markRunningLocked() bool {
	if a.running {
		return false
	}
	a.running = true
	return true
}

func (a *Actor) now() string {
	if a.deps.Clock != nil {
		return a.deps.Clock.Now().UTC().Format(time.RFC3339)
	}
	return time.Now().UTC().Format(time.RFC3339)
}

func intPtr(v int) *int {
	return &v
}
