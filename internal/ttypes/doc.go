// Package ttypes contains shared types and errors for the speech orchestration layer.
// It is a leaf package so that retry, coordinator, storage, cache and usage can share
// one error taxonomy without import cycles.
package ttypes
