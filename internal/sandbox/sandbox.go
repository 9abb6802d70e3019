// Package sandbox defines the narrow interface a trusted program
// interpreter must satisfy to back the ExecuteCode/CallProgram wire
// operations. CreDB does not implement a sandboxed language itself; a
// concrete Runtime is an external collaborator wired in by the process
// embedding internal/session.
package sandbox

import "context"

// Runtime executes a previously-registered program against the document
// store on behalf of a session, inside whatever isolation boundary the
// embedding process provides (the spec's "arbitrary code" execution paths
// are explicitly out of this repository's scope).
type Runtime interface {
	// Execute runs the program named by id with args, returning its
	// result or an error. Implementations are responsible for their own
	// sandboxing; CreDB only supplies the document-store handle they run
	// against.
	Execute(ctx context.Context, id string, args map[string]any) (any, error)
}
