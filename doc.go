// Package archivecore converts collections of tar, tar.gz, and zip archives
// into columnar Parquet output.
//
// For every regular file found in an archive (optionally nested inside
// other archives, to a configurable depth) it records the originating
// archive, the internal path, the size, a SHA-256 content digest, and
// either the raw bytes or decoded text of the content. A concurrent
// orchestrator (see package internal/extract) fans a configured number of
// top-level inputs out across workers that each sniff, iterate, filter,
// hash, and batch their own input, feeding a single columnar writer
// (package internal/sink) under a lock.
package archivecore
