// Package http serves the application manager contract as a JSON API.
//
// Endpoints:
//   - GET    /v1/processes                    running processes visible to the caller
//   - GET    /v1/apps/:bundle/running         ?cloneIndex=N
//   - POST   /v1/apps/:bundle/kill            {"clearPageStack":bool,"appIndex":N}
//   - GET    /v1/device                       stability test, RAM constraint, app memory
//   - DELETE /v1/observers/:id                unregister an observer
//   - GET    /v1/permissions/audit            ?caller=ID&limit=N
//   - POST   /v1/host/processes               launch (host control only)
//   - PUT    /v1/host/processes/:pid/state    transition (host control only)
//   - DELETE /v1/host/processes/:pid          exit (host control only)
//
// Failures are {"code":N,"error":"..."} where N is the contract error code:
// 201 answers 403, 401 and 16000073 answer 400, 16000050 answers 500.
package http
