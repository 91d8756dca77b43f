// Package task serves the claw.task.* methods used for A2A interop.
//
// A Handler owns task records. The Executor validates request parameters,
// checks what the handler returns and maps failures to CKP errors. Store is
// an in-process Handler that keeps records in insertion order.
package task
