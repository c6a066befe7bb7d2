// Package directory's etcd-backed Directory implementation.
//
// etcd is a distributed key-value store with strong consistency (Raft). We
// use it as a "distributed phonebook" for root services:
//
//	Key:   /traitport/{RootName}/{Addr}
//	Value: JSON-encoded RootRecord
//
// Publication uses TTL-based leases: if the publishing process crashes, the
// lease expires and the entry is automatically removed — preventing "ghost"
// addresses a caller could dial and get nothing back from.
package directory

import (
	"context"
	"encoding/json"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdDirectory implements Directory using etcd v3, directly descended from
// the teacher's EtcdRegistry (same Grant/Put/KeepAlive/Watch shape), with
// ServiceInstance generalized to RootRecord.
type EtcdDirectory struct {
	client *clientv3.Client // etcd client connection (thread-safe, shared across goroutines)
}

// NewEtcdDirectory creates a directory connected to the given etcd endpoints.
func NewEtcdDirectory(endpoints []string) (*EtcdDirectory, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints: endpoints,
	})
	if err != nil {
		return nil, err
	}
	return &EtcdDirectory{client: c}, nil
}

// Publish adds a root record to etcd with a TTL lease.
//
// Flow:
//  1. Create a lease with the given TTL (e.g., 10 seconds)
//  2. Put the key-value pair with the lease attached
//  3. Start KeepAlive to automatically renew the lease
//
// leaseID is a local variable, not stored on the struct, so one
// EtcdDirectory can safely publish many root names concurrently.
func (d *EtcdDirectory) Publish(record RootRecord, ttl int64) error {
	ctx := context.TODO()

	lease, err := d.client.Grant(ctx, ttl)
	if err != nil {
		return err
	}

	val, err := json.Marshal(record)
	if err != nil {
		return err
	}

	_, err = d.client.Put(ctx, "/traitport/"+record.Name+"/"+record.Addr, string(val), clientv3.WithLease(lease.ID))
	if err != nil {
		return err
	}

	ch, err := d.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return err
	}

	go func() {
		for range ch {
		}
	}()
	return nil
}

// Withdraw removes a root record from etcd, called during graceful shutdown
// before the Port itself closes.
func (d *EtcdDirectory) Withdraw(name string, addr string) error {
	ctx := context.TODO()
	_, err := d.client.Delete(ctx, "/traitport/"+name+"/"+addr)
	return err
}

// Watch monitors a root name's prefix in etcd and emits updated record
// lists whenever changes occur (new publications, withdrawals, lease
// expirations), using etcd's server-push Watch API.
func (d *EtcdDirectory) Watch(name string) <-chan []RootRecord {
	ctx := context.TODO()
	ch := make(chan []RootRecord, 1)
	prefix := "/traitport/" + name + "/"

	go func() {
		watchChan := d.client.Watch(ctx, prefix, clientv3.WithPrefix())
		for range watchChan {
			records, _ := d.Lookup(name)
			ch <- records
		}
	}()

	return ch
}

// Lookup returns all currently published records for a root name, querying
// etcd with a key prefix.
func (d *EtcdDirectory) Lookup(name string) ([]RootRecord, error) {
	ctx := context.TODO()
	prefix := "/traitport/" + name + "/"

	resp, err := d.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	records := make([]RootRecord, 0)
	for _, kv := range resp.Kvs {
		var record RootRecord
		if err := json.Unmarshal(kv.Value, &record); err != nil {
			continue
		}
		records = append(records, record)
	}

	return records, nil
}
