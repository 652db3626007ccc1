package registry

import (
	"context"
	"encoding/json"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdRegistry is the Registry implementation backed by etcd v3, used for
// optional instance visibility only: no component in this repository
// queries it back out.
type EtcdRegistry struct {
	client *clientv3.Client
}

// NewEtcdRegistry connects to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{Endpoints: endpoints})
	if err != nil {
		return nil, err
	}
	return &EtcdRegistry{client: c}, nil
}

// Register grants a TTL lease, writes the instance under
// /matrixrpc/{serviceName}/{addr}, and starts background lease renewal.
// The lease ID is a local variable rather than a struct field so that one
// EtcdRegistry can be shared safely by callers registering distinct
// instances.
func (r *EtcdRegistry) Register(serviceName string, instance Instance, ttlSeconds int64) error {
	ctx := context.Background()

	lease, err := r.client.Grant(ctx, ttlSeconds)
	if err != nil {
		return err
	}

	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}

	key := registryKey(serviceName, instance.Addr)
	if _, err := r.client.Put(ctx, key, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return err
	}

	keepAlive, err := r.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return err
	}
	go func() {
		for range keepAlive {
			// Drain renewal responses; a crashed or killed process simply
			// stops sending them and the lease (and entry) expire on their own.
		}
	}()
	return nil
}

// Deregister removes the instance entry ahead of the lease's natural TTL expiry.
func (r *EtcdRegistry) Deregister(serviceName string, addr string) error {
	_, err := r.client.Delete(context.Background(), registryKey(serviceName, addr))
	return err
}

func registryKey(serviceName, addr string) string {
	return "/matrixrpc/" + serviceName + "/" + addr
}
