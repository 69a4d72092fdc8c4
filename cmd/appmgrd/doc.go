// Command appmgrd runs the reference application manager host.
//
// It serves the contract over gRPC (appmanager.v1.AppManager) and HTTP/JSON,
// streams observer events over WebSocket, and exposes /health/live,
// /health/ready and /metrics.
//
// Configuration comes from the environment (HTTP_ADDR, GRPC_ADDR,
// APPMGR_PROFILE, LOG_LEVEL, ...); flags override it. The host profile is a
// TOML file listing device facts, installed bundles and callers:
//
//	[device]
//	ram_constrained = "auto"
//
//	[[bundles]]
//	name = "com.example.mail"
//	uid = 20010001
//	clones = [1]
//	executable = "mail"
//
//	[[callers]]
//	id = "settings"
//	bundle_name = "com.example.settings"
//	token_hash = "$2a$10$..."
//	permissions = ["ohos.permission.GET_RUNNING_INFO"]
//
// Usage:
//
//	appmgrd -profile host.toml -grpc :50061 -http :8080
//
// Signals:
//   - SIGINT, SIGTERM: graceful shutdown
package main
