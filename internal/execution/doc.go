// Package execution implements the context a macro runs in.
//
// A Context is a flat namespace (helpers, installed sub-APIs, injected
// variables and the positional arguments $0..$98) plus the operations a
// macro uses to reach outside itself: Template renders another macro,
// Require loads a macro as a module and returns its exports, CacheFn reads
// through the shared result cache. Each of these blocks only the calling
// goroutine while loader and cache I/O completes.
//
// Every rendering starts from one top-level Context created with New. Each
// nested Template or Require call derives a child that copies the installed
// namespace but owns its arguments and exports. The children of one
// top-level Context form a lineage, and share:
//
//   - the error sink, read by the renderer once the top-level macro returns
//   - the require cache, so a module body runs at most once per rendering
//   - the loader, the cache and the environment
//
// Load and execution failures never propagate to the calling macro. They are
// recorded in the sink and the failing call yields empty output.
package execution
