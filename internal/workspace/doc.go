// Package workspace manages project build directories.
//
// A Cache owns one persistent directory per project under a common root. The
// directory name is derived from a BLAKE3 hash of the project identifier, so
// identifiers never influence path structure. File deltas are validated in full
// before anything on disk changes.
//
// Stateless requests use a Scratch directory, an ephemeral tree that is removed
// by Cleanup.
//
// Mutual exclusion between builds of the same project is provided by Locks. The
// cache itself never evicts workspaces; Idle and Evict exist for an external
// janitor.
package workspace
