// Package serve runs a CKP agent as a process.
//
// Run drives an agent over stdin/stdout until the input ends, the context
// is canceled, or the process receives SIGINT or SIGTERM. It can also
// expose the standard gRPC health checking protocol so supervisors can
// probe the agent's lifecycle state:
//
//	err := serve.Run(ctx, a,
//	    serve.WithHealth(&serve.Config{Address: ":50051"}),
//	    serve.WithLogger(logger),
//	)
//
// The health status of both the empty service name and ServiceName is
// SERVING while the agent is READY and NOT_SERVING otherwise.
//
// NewTracerProvider builds the OpenTelemetry provider used by the
// telemetry OTelSink.
package serve
