// Package protocol defines the wire contract of the Claw Kernel Protocol (CKP).
//
// CKP is JSON-RPC 2.0 carried over newline-delimited frames. This package
// holds the envelope types (Request, Response, Notification), the method
// names, the CKP error taxonomy and the helpers every capability executor
// uses to decode parameters and report failures.
//
// Errors returned from handlers should be *Error values whenever the caller
// must see a specific code:
//
//	if p.Name == "" {
//		return nil, protocol.InvalidParams("Missing tool name")
//	}
//
// Any other error reaching the dispatcher is reported as an internal error
// (-32603).
package protocol
