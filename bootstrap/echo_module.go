package bootstrap

import (
	"encoding/json"
	"fmt"

	"traitport/port"
	"traitport/registry"
)

// EchoSelector is the one method the echo service exposes.
const EchoSelector uint32 = 0

// EchoService is a hand-written example of the generated-code seam
// spec.md §9 leaves out of scope: a concrete service type backed by a
// registry.Dispatcher, plus a typed EchoProxy wrapper over registry.Proxy.
type EchoService struct {
	Prefix string
}

// Dispatcher adapts EchoService to the raw (selector, args) -> result
// contract a Registry entry requires.
func (s *EchoService) Dispatcher() registry.Dispatcher {
	return func(selector uint32, args []byte) ([]byte, error) {
		if selector != EchoSelector {
			return nil, fmt.Errorf("echo: unknown selector %d", selector)
		}
		var msg string
		if err := json.Unmarshal(args, &msg); err != nil {
			return nil, fmt.Errorf("echo: decode args: %w", err)
		}
		return json.Marshal(s.Prefix + msg)
	}
}

// EchoProxy is a typed wrapper over registry.Proxy's raw Invoke, the shape a
// generated proxy would have if one existed.
type EchoProxy struct {
	proxy *registry.Proxy
}

// Echo calls the remote EchoService and returns its reply.
func (p *EchoProxy) Echo(msg string) (string, error) {
	args, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	result, err := p.proxy.Invoke(EchoSelector, args)
	if err != nil {
		return "", err
	}
	var reply string
	if err := json.Unmarshal(result, &reply); err != nil {
		return "", fmt.Errorf("echo: decode reply: %w", err)
	}
	return reply, nil
}

// Close releases the underlying handle, per registry.Proxy's drop contract.
func (p *EchoProxy) Close() error { return p.proxy.Close() }

// EchoModule is a minimal Bootstrap implementation: it exports one
// EchoService per peer and keeps one EchoProxy per imported service,
// exercising ControlLoop end to end.
type EchoModule struct {
	Prefix  string
	proxies map[string]*EchoProxy
}

// NewEchoModule creates an EchoModule whose exported service prepends prefix
// to every echoed message.
func NewEchoModule(prefix string) *EchoModule {
	return &EchoModule{Prefix: prefix, proxies: make(map[string]*EchoProxy)}
}

// Export registers a fresh EchoService on p and grants the returned handle
// its refcount share, per spec.md §3's invariant that every HandleToExchange
// handed to a peer carries one unit of the entry's outstanding refcount.
func (m *EchoModule) Export(p *port.Port, serviceName string) (registry.HandleToExchange, error) {
	svc := &EchoService{Prefix: m.Prefix}
	return p.Export(svc.Dispatcher(), nil), nil
}

// Import wraps handle in an EchoProxy and keeps it under serviceName.
func (m *EchoModule) Import(p *port.Port, serviceName string, handle registry.HandleToExchange) error {
	proxy, err := p.ImportHandle(handle)
	if err != nil {
		return err
	}
	m.proxies[serviceName] = &EchoProxy{proxy: proxy}
	return nil
}

// Start reports how many services have been imported so far.
func (m *EchoModule) Start() string {
	return fmt.Sprintf("echo module ready, %d service(s) imported", len(m.proxies))
}

// Proxy returns the imported EchoProxy for serviceName, or nil if none.
func (m *EchoModule) Proxy(serviceName string) *EchoProxy {
	return m.proxies[serviceName]
}
