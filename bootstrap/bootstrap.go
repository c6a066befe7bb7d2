// Package bootstrap is a reference control loop driving a fixed set of named
// Ports from a small command stream: link a peer, export/import a handle
// across it, start the module, and quit. It is not part of the core runtime
// — it exists so the core has an exercised, end-to-end caller, mirroring the
// role control_loop.rs plays in the original implementation (one process per
// module, commanded by its parent over a pipe).
package bootstrap

import (
	"fmt"

	"go.uber.org/zap"

	"traitport/directory"
	"traitport/port"
	"traitport/registry"
)

// Bootstrap is the contract a module implements to be driven by a ControlLoop:
// export one of its services toward a named peer, and import one of the
// peer's services in return. Start is optional context the parent process
// may want back once the module is fully linked up.
type Bootstrap interface {
	Export(p *port.Port, serviceName string) (registry.HandleToExchange, error)
	Import(p *port.Port, serviceName string, handle registry.HandleToExchange) error
	Start() string
}

// Command is one line of the control stream. Kind selects which fields are
// meaningful; unused fields are left zero.
type Command struct {
	Kind        string                     `json:"kind"`
	ModuleName  string                     `json:"module_name,omitempty"`
	Addr        string                     `json:"addr,omitempty"`
	ServiceName string                     `json:"service_name,omitempty"`
	Handle      *registry.HandleToExchange `json:"handle,omitempty"`
}

// Reply is sent back after every Command except "quit".
type Reply struct {
	Handle *registry.HandleToExchange `json:"handle,omitempty"`
	Result string                     `json:"result,omitempty"`
	Err    string                     `json:"err,omitempty"`
}

// Dialer opens a new Port toward the named peer module. The parent process
// decides the transport (a domain socket path, a TCP address, an in-process
// pair for tests); ControlLoop only needs the resulting Port.
type Dialer func(addr string) (*port.Port, error)

// ControlLoop holds one module's linked Ports, keyed by the counterpart
// module name the parent process assigned them.
type ControlLoop struct {
	module Bootstrap
	dial   Dialer
	dir    directory.Directory
	logger *zap.Logger

	ports map[string]*port.Port
}

// New creates a ControlLoop around module, dialing new peer links with dial.
// dir is optional (nil means "the parent process always supplies an addr"):
// when given, a "link" command with no Addr is resolved by looking
// ModuleName up in dir first, treating it as a well-known published root
// name, per spec.md §6's cross-process bootstrap.
func New(module Bootstrap, dial Dialer, dir directory.Directory, logger *zap.Logger) *ControlLoop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ControlLoop{
		module: module,
		dial:   dial,
		dir:    dir,
		logger: logger,
		ports:  make(map[string]*port.Port),
	}
}

// Run drives the loop until it receives "quit" or recv returns an error.
// On a clean quit it calls DisableGC on every linked Port before returning,
// so no Proxy held by module emits a DELETE while the parent tears the
// process down around it.
func (l *ControlLoop) Run(recv func() (Command, error), send func(Reply) error) error {
	for {
		cmd, err := recv()
		if err != nil {
			return err
		}
		l.logger.Debug("bootstrap: received command", zap.String("kind", cmd.Kind))

		if cmd.Kind == "quit" {
			break
		}

		reply := l.dispatch(cmd)
		if err := send(reply); err != nil {
			return err
		}
	}

	for _, p := range l.ports {
		p.DisableGC()
	}
	return nil
}

func (l *ControlLoop) dispatch(cmd Command) Reply {
	switch cmd.Kind {
	case "link":
		return l.handleLink(cmd)
	case "handle_export":
		return l.handleExport(cmd)
	case "handle_import":
		return l.handleImport(cmd)
	case "start":
		return Reply{Result: l.module.Start()}
	default:
		panic(fmt.Sprintf("bootstrap: unexpected command: %s", cmd.Kind))
	}
}

func (l *ControlLoop) handleLink(cmd Command) Reply {
	if _, exists := l.ports[cmd.ModuleName]; exists {
		// Asserted before any teardown happens, to avoid a hard-to-debug
		// block on an already-linked Port: the caller must unlink (quit and
		// re-link) rather than double-link the same name.
		panic(fmt.Sprintf("bootstrap: %q is already linked, unlink before re-linking", cmd.ModuleName))
	}

	addr := cmd.Addr
	if addr == "" {
		if l.dir == nil {
			return Reply{Err: fmt.Sprintf("bootstrap: %q: no addr given and no directory configured", cmd.ModuleName)}
		}
		records, err := l.dir.Lookup(cmd.ModuleName)
		if err != nil {
			return Reply{Err: fmt.Sprintf("bootstrap: directory lookup %q: %s", cmd.ModuleName, err)}
		}
		if len(records) == 0 {
			return Reply{Err: fmt.Sprintf("bootstrap: %q: no address published in directory", cmd.ModuleName)}
		}
		addr = records[0].Addr
	}

	p, err := l.dial(addr)
	if err != nil {
		return Reply{Err: err.Error()}
	}
	l.ports[cmd.ModuleName] = p
	return Reply{}
}

func (l *ControlLoop) handleExport(cmd Command) Reply {
	p, ok := l.ports[cmd.ModuleName]
	if !ok {
		return Reply{Err: fmt.Sprintf("bootstrap: %q is not linked, link before export", cmd.ModuleName)}
	}
	handle, err := l.module.Export(p, cmd.ServiceName)
	if err != nil {
		return Reply{Err: err.Error()}
	}
	return Reply{Handle: &handle}
}

func (l *ControlLoop) handleImport(cmd Command) Reply {
	p, ok := l.ports[cmd.ModuleName]
	if !ok {
		return Reply{Err: fmt.Sprintf("bootstrap: %q is not linked, link before import", cmd.ModuleName)}
	}
	if cmd.Handle == nil {
		return Reply{Err: "bootstrap: handle_import requires a handle"}
	}
	if err := l.module.Import(p, cmd.ServiceName, *cmd.Handle); err != nil {
		return Reply{Err: err.Error()}
	}
	return Reply{}
}

// Close tears down every linked Port. Callers that terminate the whole
// process after Run returns don't strictly need this, but it keeps
// in-process callers (tests, embedders) symmetric.
func (l *ControlLoop) Close() {
	for _, p := range l.ports {
		p.Close()
	}
}
