// Package handlers implements the texbuilder HTTP endpoints: compile entry
// points, build history, and monitoring.
//
// Handlers depend on small interfaces rather than concrete services so they can
// be exercised with httptest and fakes.
package handlers
