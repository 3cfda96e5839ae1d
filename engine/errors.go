// Package engine ties the subsystems (C1-C13) together behind the
// top-level Engine facade and implements the error taxonomy of §7.
// Wrapping follows the teacher's fmt.Errorf("...: %w", err) convention
// used throughout engine/_teacher_internal/resources/manager.go and
// engine/_teacher_engine.go (DESIGN.md, Ambient stack).
package engine

import (
	"errors"
	"fmt"

	"github.com/publictransport/ptengine/engine/request"
)

// LoadError wraps a failure to bring a provider plugin to a runnable
// state: missing/malformed manifest, unreadable script, syntax error,
// disallowed extension, or an uncaught exception during initial
// evaluation (§7.1).
type LoadError struct {
	ProviderID string
	Err        error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("engine: loading provider %q: %v", e.ProviderID, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// EntryMissingError marks a request whose parse_mode has no
// corresponding entry function in the plugin (§7.2).
type EntryMissingError struct {
	ProviderID   string
	FunctionName string
}

func (e *EntryMissingError) Error() string {
	return fmt.Sprintf("engine: provider %q has no %s function", e.ProviderID, e.FunctionName)
}

// RuntimeError wraps an uncaught exception raised while invoking the
// plugin's entry function (§7.3).
type RuntimeError struct {
	ProviderID string
	Line       int
	Err        error
}

func (e *RuntimeError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("engine: provider %q runtime error at line %d: %v", e.ProviderID, e.Line, e.Err)
	}
	return fmt.Sprintf("engine: provider %q runtime error: %v", e.ProviderID, e.Err)
}

func (e *RuntimeError) Unwrap() error { return e.Err }

// ParseFailedError marks a job that completed without producing any
// usable record (§7.4).
type ParseFailedError struct {
	ProviderID string
	Request    *request.Request
	LastURL    string
}

func (e *ParseFailedError) Error() string {
	return fmt.Sprintf("engine: provider %q produced no records for %s", e.ProviderID, e.Request.ArgumentsString())
}

// StorageCorruptionError wraps a persistent value the typed decoder
// rejected (§7.7).
type StorageCorruptionError struct {
	Key string
	Err error
}

func (e *StorageCorruptionError) Error() string {
	return fmt.Sprintf("engine: storage entry %q corrupted: %v", e.Key, e.Err)
}

func (e *StorageCorruptionError) Unwrap() error { return e.Err }

// SettingsValidationError marks a rejected filter/alarm mutation: an
// empty or forbidden-character name, or a constraint value mismatched
// with its constraint type (§7.6).
type SettingsValidationError struct {
	Field  string
	Reason string
}

func (e *SettingsValidationError) Error() string {
	return fmt.Sprintf("engine: invalid %s: %s", e.Field, e.Reason)
}

// AsLoadError reports whether err (or something it wraps) is a LoadError.
func AsLoadError(err error) (*LoadError, bool) {
	var le *LoadError
	return le, errors.As(err, &le)
}

// AsRuntimeError reports whether err (or something it wraps) is a RuntimeError.
func AsRuntimeError(err error) (*RuntimeError, bool) {
	var re *RuntimeError
	return re, errors.As(err, &re)
}
