// Package ws streams observer events to WebSocket clients.
//
// GET /v1/observers/stream?bundle=a&bundle=b registers an observer with an
// optional allow-list. The first frame is {"observerId":N,"streamId":"..."};
// every following frame is one event envelope:
//
//	{"kind":"processCreated","process":{"bundleName":"...","pid":1,...}}
//
// The connection closes normally when the observer is unregistered (for
// example through DELETE /v1/observers/:id). Closing the connection
// unregisters the observer.
package ws
