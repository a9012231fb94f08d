// Package sched reconstructs a globally consistent ordering from the
// legacy store's per-object histories and carves it into changesets.
//
// The legacy database records history independently per object, with
// one-second timestamp resolution and no cross-object ordering. The
// scheduler pulls a bounded time window of pending actions, untangles
// same-second ties with an affinity heuristic, repairs causal violations
// (a child referenced before its parent project exists) by simulating the
// ordering against a scratch copy of the repository image, and hands the
// validated window to the changeset extractor, which greedily carves off
// the longest prefix that can replay as one atomic commit.
//
// The goal is best-effort, deterministic, resumable ordering - the source
// data's resolution makes perfect historical fidelity unattainable, so
// identical inputs producing identical output matters more than any
// single ordering being "right".
package sched
