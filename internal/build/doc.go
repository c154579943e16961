// Package build sequences the typesetting toolchain for one document.
//
// The Orchestrator runs the primary engine pass, a bibliography pass when the
// auxiliary file references citations, and up to two rerun passes while the
// engine reports unresolved references. Success is decided solely by the
// presence of a freshly produced PDF; exit codes are recorded but never decide
// the outcome. Every invocation runs under a deadline, and an expired deadline
// fails the build with a timeout error.
//
// The outcome is an immutable Result carrying the combined log, per-pass
// records and, on success, the artifact location.
package build
