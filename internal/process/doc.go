// Package process runs process scripts: the external executables or WASI
// modules that deploy a target and implement its lifecycle hooks.
//
// An entry point is invoked as `<path> <entry>` with the JSON-encoded
// target.Invocation on stdin. The "run" entry performs every step of the run
// pipeline; a non-empty stdout must be JSON and becomes the step result. A
// check entry exits 0 when the target is deployed, 1 when it is not, and
// anything else on error.
package process
