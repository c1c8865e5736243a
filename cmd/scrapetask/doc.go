// Package main hosts the scrape-task service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, submission, and polling endpoints. A POST /scrape
//     request is validated, assigned a UUIDv7 task id, and handed to that task's actor, which persists the pending
//     state before the request returns 202.
//   - Task actors: internal/task.Registry owns one Actor per task id. All state mutation for a task is serialized
//     through its actor; the fetch/extract/store pipeline runs on a spawned goroutine with every durable write
//     committed before the next step, so pollers only ever observe committed milestones.
//   - Fetch & extract: the Colly-based fetcher performs a single-page GET with browser-like headers; the extractor
//     pulls title, meta description, and bounded outbound links from the raw markup without executing scripts.
//   - Persistence & fanout: per-task state lives in the configured state store (memory/Postgres/Redis) and the JSON
//     report is written to the configured BlobStore (memory/local/GCS) under <taskId>.json. A compact Pub/Sub
//     notification is published on terminal transitions when a topic is configured.
//   - Configuration & plumbing: Viper populates config from env/files; zap provides structured logging; Prometheus
//     metrics are exported via middleware and the /metrics handler.
//
// Operational notes:
//   - Concurrency model: at most one live pipeline run per task, enforced by the actor. Cross-task concurrency is
//     unbounded; each run is a single fetch plus a handful of key/value writes.
//   - Recovery: a failed task stays in the error state until a caller resets and restarts it; nothing retries
//     automatically.
//   - Observability: zap logs carry task ids at key transitions; Prometheus counters/histograms track submissions,
//     terminal states, fetch sizes and durations, and HTTP traffic.
//
// Quick checklist:
//   - Configure env vars with the SCRAPETASK_ prefix: SCRAPETASK_SERVER_PORT, SCRAPETASK_STATE_PROVIDER,
//     SCRAPETASK_STORAGE_PROVIDER, SCRAPETASK_PUBLISHER_PROVIDER, plus provider-specific DSN/bucket/topic values.
//   - Run locally: go run ./cmd/scrapetask -config config.yaml (or rely solely on env overrides).
//   - The process reacts to SIGTERM for graceful drain; in-flight pipeline runs finish or fail on their own timeouts.
package main
