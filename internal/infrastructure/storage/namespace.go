package storage

import (
	"context"

	"admin-dashboard/internal/ports"
)

// Namespace prefixes every key so several clients can share one store.
type Namespace struct {
	prefix string
	inner  ports.KVStore
}

func NewNamespace(inner ports.KVStore, prefix string) *Namespace {
	return &Namespace{prefix: prefix, inner: inner}
}

func (n *Namespace) Prefix() string { return n.prefix }

func (n *Namespace) Get(ctx context.Context, key string) ([]byte, error) {
	return n.inner.Get(ctx, n.prefix+key)
}

func (n *Namespace) Set(ctx context.Context, key string, value []byte) error {
	return n.inner.Set(ctx, n.prefix+key, value)
}

func (n *Namespace) Delete(ctx context.Context, key string) error {
	return n.inner.Delete(ctx, n.prefix+key)
}

// ClientPrefix is the key prefix of one dashboard client within a shared store.
func ClientPrefix(clientID string) string { return "client:" + clientID + ":" }
