// Package store provides the durable SQLite staging area for the
// migration.
//
// Raw per-object history extracted from the legacy database is written
// into the actions table once, then flows through the windowing tables as
// the scheduler processes it: schedule (live window ordering) → retired +
// changesets (committed work) or discarded (unplayable records). The
// single-row system_info table holds the resume cursor and the explicit
// schedule/changeset counters, so a killed process restarts from the last
// completed changeset without redoing commits.
//
// The store is single-writer by construction (one connection, WAL mode),
// matching the migration's strictly sequential pipeline.
package store
