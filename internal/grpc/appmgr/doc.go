// Package appmgr carries the application manager contract over gRPC.
//
// The service is described by hand with protobuf well-known types, so no
// generated code is needed: scalar results travel as wrappers, structured
// payloads as Struct. Business error codes survive the round trip inside an
// errdetails.ErrorInfo detail.
//
// Server fronts any appmanager.Service. Client implements appmanager.Service
// against a remote Server with a circuit breaker, per-call bearer tokens and
// trace propagation:
//
//	client, err := appmgr.Dial("localhost:50061", appmgr.WithToken(token, false))
//	running, err := client.IsAppRunning(ctx, "com.example.mail", appmanager.WithCloneIndex(1))
package appmgr
