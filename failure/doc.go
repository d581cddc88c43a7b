// Package failure is the runtime model of a pipeline failure.
//
// A *Value wraps the underlying error (the payload) together with:
//
//   - a Tag classifying the payload (Message, Named or Unknown),
//   - ordered trace frames appended at each propagation point,
//   - an acyclic list of causes, oldest first.
//
// A Value has a single writer: the pipeline run that created it pushes frames
// and links causes until it returns the value to its caller. Frames are never
// modified once pushed.
//
// Rendering with Trace (or fmt's %+v verb) produces:
//
//	connection refused
//
//	Trace (most recent last):
//	  load.pipe:3:1
//	    → loading user
//	    id: 42
package failure
