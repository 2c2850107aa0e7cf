// Package api hosts the HTTP server for job submission and operations.
// Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/jobs to queue a crawl of a listing URL.
//   - GET /v1/jobs/{job_id} and /v1/jobs/{job_id}/result for status and
//     per-report outcomes.
//   - POST /v1/jobs/{job_id}/cancel to stop a queued or running job.
package api
