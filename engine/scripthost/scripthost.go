// Package scripthost implements the per-job sandbox of §4.7: a fresh
// goja engine per job, the include() resolver, the extension
// allow-list, and the global capability bindings (provider/helper/
// network/storage/result/enum/PublicTransport).
//
// Grounded on original_source/engine/script/serviceproviderscript.cpp
// and engine/script/scripting.cpp for the include-before-first-statement
// rule and the extension allow-list; the per-job-owns-its-dependencies
// shape mirrors how the teacher's engine.Engine holds its pipeline and
// resource manager directly rather than through shared global state
// (DESIGN.md, C7).
package scripthost

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dop251/goja"
	"go.opentelemetry.io/otel/trace"

	"github.com/publictransport/ptengine/engine/network"
	"github.com/publictransport/ptengine/engine/provider"
	"github.com/publictransport/ptengine/engine/request"
	"github.com/publictransport/ptengine/engine/resultsink"
	"github.com/publictransport/ptengine/engine/storage"
)

// allowedExtensions is the normative import allow-list of §4.7 step 2.
var allowedExtensions = map[string]bool{"qt": true, "qt.core": true, "qt.xml": true, "kross": true}

const defaultMaxIncludeLine = 200

// Option configures a Host at construction time.
type Option func(*Host)

// WithMaxIncludeLine overrides the source-line bound within which
// include() calls are recognized (default 200).
func WithMaxIncludeLine(n int) Option {
	return func(h *Host) { h.maxIncludeLine = n }
}

// WithReadFile overrides how include()d files are read (tests only).
func WithReadFile(f func(string) ([]byte, error)) Option {
	return func(h *Host) { h.readFile = f }
}

// WithTracer attaches an OpenTelemetry tracer; Invoke creates one span
// per call when set.
func WithTracer(t trace.Tracer) Option {
	return func(h *Host) { h.tracer = t }
}

// Host is one per-job sandbox. Never reused across jobs (§4.7 step 1).
type Host struct {
	vm    *goja.Runtime
	meta  *provider.Metadata
	store *storage.Storage
	net   *network.Client
	sink  *resultsink.Sink

	scriptDir      string
	maxIncludeLine int
	includedFiles  map[string]bool
	readFile       func(string) ([]byte, error)
	tracer         trace.Tracer
}

// New validates meta's script extensions against the allow-list and
// returns a Host ready for Load. The allow-list check happens before any
// script code runs (§4.7 step 2).
func New(meta *provider.Metadata, store *storage.Storage, netClient *network.Client, sink *resultsink.Sink, opts ...Option) (*Host, error) {
	for _, ext := range meta.ScriptExtensions {
		if !allowedExtensions[ext] {
			return nil, fmt.Errorf("scripthost: extension %q is not in the allow-list", ext)
		}
	}
	h := &Host{
		meta:           meta,
		store:          store,
		net:            netClient,
		sink:           sink,
		scriptDir:      filepath.Dir(meta.ScriptPath),
		maxIncludeLine: defaultMaxIncludeLine,
		includedFiles:  make(map[string]bool),
		readFile:       os.ReadFile,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Load creates the goja engine, installs the global bindings, resolves
// this job's include() prefix, and evaluates the provider script. Any
// uncaught exception fails the job (§4.7 steps 3-6).
func (h *Host) Load(source string) error {
	h.vm = goja.New()
	h.vm.SetFieldNameMapper(snakeCaseMapper{})
	h.bindGlobals()

	if err := h.resolveIncludesAndRun(source); err != nil {
		return fmt.Errorf("scripthost: %w", err)
	}
	return nil
}

func (h *Host) bindGlobals() {
	h.vm.Set("provider", manifestView(h.meta))
	h.vm.Set("helper", helperBinding{})
	h.vm.Set("network", &networkBinding{client: h.net, ctx: context.Background()})
	h.vm.Set("storage", (&storageBinding{store: h.store, vm: h.vm}).object())
	h.vm.Set("result", &resultBinding{sink: h.sink})
	enum, publicTransport := enumBindings()
	h.vm.Set("enum", enum)
	h.vm.Set("PublicTransport", publicTransport)
}

// resolveIncludesAndRun implements §4.7 step 4: it scans source for the
// leading run of whitespace/comments/include() calls, evaluates each
// included file (deduped via includedFiles, path separators forbidden),
// then evaluates the remainder of source with that leading run blanked
// out and a rejecting "include" binding installed, so that any include()
// call appearing after the leading run throws.
func (h *Host) resolveIncludesAndRun(source string) error {
	includes, prefixEnd := scanIncludePrefix(source, h.maxIncludeLine)
	for _, name := range includes {
		if strings.ContainsAny(name, "/\\") {
			return fmt.Errorf("include(%q): path separators are forbidden", name)
		}
		if h.includedFiles[name] {
			continue
		}
		h.includedFiles[name] = true
		data, err := h.readFile(filepath.Join(h.scriptDir, name))
		if err != nil {
			return fmt.Errorf("include(%q): %w", name, err)
		}
		if _, err := h.vm.RunString(string(data)); err != nil {
			return fmt.Errorf("include(%q): %w", name, err)
		}
	}

	h.vm.Set("include", func(name string) (goja.Value, error) {
		return nil, fmt.Errorf("include(%q) called outside the script's leading statements", name)
	})

	main := blankPrefix(source, prefixEnd)
	if _, err := h.vm.RunScript(h.meta.ScriptPath, main); err != nil {
		return err
	}
	return nil
}

// IncludedFiles returns the names this job's script included, each once
// and in no particular order (§4.12: "Records includedFiles out of the
// sandbox's global object").
func (h *Host) IncludedFiles() []string {
	out := make([]string, 0, len(h.includedFiles))
	for name := range h.includedFiles {
		out = append(out, name)
	}
	return out
}

// HasFunction reports whether name resolves to a callable global,
// used both by normal dispatch and by the capability cache's discovery
// probe (§4.12).
func (h *Host) HasFunction(name string) bool {
	val := h.vm.Get(name)
	if val == nil || goja.IsUndefined(val) {
		return false
	}
	_, ok := goja.AssertFunction(val)
	return ok
}

// Invoke looks up req's entry function and calls it with the request's
// script value (§4.7 steps 7-8).
func (h *Host) Invoke(ctx context.Context, req *request.Request) error {
	fnName := req.FunctionName()
	if h.tracer != nil {
		var span trace.Span
		ctx, span = h.tracer.Start(ctx, "scripthost.invoke."+fnName)
		defer span.End()
	}
	_ = ctx

	val := h.vm.Get(fnName)
	if val == nil || goja.IsUndefined(val) {
		return fmt.Errorf("scripthost: entry function %q missing", fnName)
	}
	fn, ok := goja.AssertFunction(val)
	if !ok {
		return fmt.Errorf("scripthost: %q is not callable", fnName)
	}
	if _, err := fn(goja.Undefined(), h.vm.ToValue(req.ScriptValue())); err != nil {
		return fmt.Errorf("scripthost: invoking %q: %w", fnName, err)
	}
	return nil
}

// Call invokes an arbitrary zero/one-argument global function, used by
// the capability cache's usedTimetableInformations() probe (§4.12).
func (h *Host) Call(name string, arg any) (any, error) {
	val := h.vm.Get(name)
	if val == nil || goja.IsUndefined(val) {
		return nil, fmt.Errorf("scripthost: function %q missing", name)
	}
	fn, ok := goja.AssertFunction(val)
	if !ok {
		return nil, fmt.Errorf("scripthost: %q is not callable", name)
	}
	var args []goja.Value
	if arg != nil {
		args = append(args, h.vm.ToValue(arg))
	}
	result, err := fn(goja.Undefined(), args...)
	if err != nil {
		return nil, err
	}
	return result.Export(), nil
}

// Close releases this job's sandbox: in-flight network requests are
// aborted and the engine is interrupted so any still-running script
// evaluation unwinds (§4.7, Resource release).
func (h *Host) Close() {
	h.net.AbortAllRequests()
	if h.vm != nil {
		h.vm.Interrupt("job ended")
	}
}
