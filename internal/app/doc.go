// Package app wires the control plane together: it loads the pipeline
// descriptor, checks the readiness gate, sizes the progress indicator from a
// dump sample, executes the stages, rebinds the serving component to the new
// artifact, and runs the golden-path verification.
package app
