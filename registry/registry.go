// Package registry provides optional self-registration of a running
// server instance in etcd, so an operator (or a separate discovery tool)
// can see which addresses are currently serving. The server consumes
// this one-way: it registers itself on startup and deregisters on
// shutdown. Nothing in this repository discovers or load-balances across
// registered instances — that is explicitly out of scope.
package registry

// Instance describes one running server process.
type Instance struct {
	Addr       string // dial address, e.g. "127.0.0.1:8080"
	ReactorKind string // "st_blocking", "mt_blocking", or "st_nonblocking"
}

// Registry is the self-registration capability a server optionally uses.
type Registry interface {
	// Register publishes this instance under serviceName with a TTL
	// lease, renewed automatically until process exit.
	Register(serviceName string, instance Instance, ttlSeconds int64) error

	// Deregister removes the instance entry; it does not revoke the lease
	// or stop its renewal. Called during graceful shutdown before the
	// listener closes.
	Deregister(serviceName string, addr string) error
}
