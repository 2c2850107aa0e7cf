// Package crawler defines the types shared by the report acquisition
// pipeline: the pages it fetches, the report metadata it extracts, the jobs
// that drive it, and the collaborator interfaces wired in at startup.
package crawler
