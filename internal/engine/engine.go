// Package engine defines the five-operation interface through which the
// slave loop drives the external compute engine, and the one fixed
// expression it evaluates per job. The engine itself is an opaque
// out-of-process collaborator: this package only defines the contract and
// two implementations of it (a subprocess driver, and a mock for tests).
package engine

import "errors"

// ErrNotOpen is returned by Put/Eval/Get when called before Open; Close
// on an engine that was never opened returns nil.
var ErrNotOpen = errors.New("engine: not open")

// Engine is the out-of-process compute engine contract: open a handle,
// put named variables into it, evaluate an expression, get named
// variables back out, close the handle. peerexec is the fixed expression
// the slave loop evaluates for every job: it is the engine's
// responsibility to define what that expression does; the slave loop
// never inspects its body.
type Engine interface {
	// Open starts (or attaches to) the engine using cmd, the configured
	// start command (e.g. the --matlab flag value). A non-nil error means
	// the engine failed to start, e.g. a licensing problem.
	Open(cmd string) error

	// Put copies a named byte blob into the engine's workspace.
	Put(name string, blob []byte) error

	// Eval evaluates an expression in the engine. The slave loop always
	// evaluates the fixed expression EvalExpr.
	Eval(expr string) error

	// Get retrieves a named byte blob from the engine's workspace.
	Get(name string) ([]byte, error)

	// Close releases the engine handle.
	Close() error
}

// EvalExpr is the fixed expression the slave loop asks the engine to
// evaluate for every job, per spec.md §4.4 step 8.
const EvalExpr = "[argout, options] = peerexec(argin, options)"

// Variable names used for Put/Get, matching spec.md's argin/argout/options.
const (
	VarArgin   = "argin"
	VarArgout  = "argout"
	VarOptions = "options"
)
