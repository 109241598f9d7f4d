// Package core contains the integration domain: connections, provider adapter
// contracts, the signed authorization state codec, the keyed connection store,
// the sync engine and the service that drives connect, callback, disconnect,
// sync and status. Provider, storage and transport adapters depend on this
// package; core never depends on them.
package core
