// Package server implements the callee side of one Port's duplex channel: an
// intake goroutine feeding a bounded queue, drained by a small worker pool,
// per spec.md §4.4.
//
// Request processing pipeline:
//
//	Multiplexer.Requests() → intake goroutine → bounded queue (cap 100)
//	  → worker goroutines (W=4) → Handler.Handle → send(response)
//
// This generalizes the teacher's per-connection "one goroutine per request"
// fan-out (server.go's handleConn/handleRequest, unbounded) into the bounded
// worker pool spec.md §4.4 requires: a burst of requests backs up in the
// queue instead of spawning unbounded goroutines, and the queue itself
// provides the backpressure signal to the peer once full.
package server

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"traitport/packet"
)

// defaultWorkers is spec.md §4.4's W=4.
const defaultWorkers = 4

// defaultQueueCapacity is spec.md §4.4's bounded intake queue size.
const defaultQueueCapacity = 100

// defaultShutdownTimeout is spec.md §4.4/§5's T_server_shutdown.
const defaultShutdownTimeout = 500 * time.Millisecond

// Handler dispatches one decoded request payload to application code and
// returns the encoded response payload to send back. A Port wires in its own
// adapter (port.dispatchAdapter), which decodes the payload and calls
// registry.Registry.Dispatch; implementations must be safe for
// concurrent use; a Handler body may itself be reentrant (issue its own
// outbound calls) since workers never hold any server-owned lock while
// Handle runs, per spec.md §4.4's reentrancy note.
type Handler interface {
	Handle(payload []byte) []byte
}

// Server drains a Multiplexer's request stream through a bounded queue and
// a fixed worker pool, sending each response back over send.
type Server struct {
	send    func(packet.Packet) error
	handler Handler
	logger  *zap.Logger

	queue chan packet.Packet
	wg    sync.WaitGroup

	// ShutdownTimeout overrides defaultShutdownTimeout; exported for tests.
	ShutdownTimeout time.Duration

	done         chan struct{}
	shutdownOnce sync.Once
}

// New starts the intake goroutine and workers workers (0 means
// defaultWorkers), draining requests until the channel closes.
func New(requests <-chan packet.Packet, send func(packet.Packet) error, handler Handler, workers int, logger *zap.Logger) *Server {
	if workers <= 0 {
		workers = defaultWorkers
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		send:            send,
		handler:         handler,
		logger:          logger,
		queue:           make(chan packet.Packet, defaultQueueCapacity),
		ShutdownTimeout: defaultShutdownTimeout,
		done:            make(chan struct{}),
	}

	s.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go s.worker()
	}
	go s.intake(requests)
	return s
}

// intake copies the Multiplexer's request stream into the bounded queue,
// then closes it once the stream ends — the signal workers exit on.
func (s *Server) intake(requests <-chan packet.Packet) {
	for req := range requests {
		s.queue <- req
	}
	close(s.queue)
}

func (s *Server) worker() {
	defer s.wg.Done()
	for req := range s.queue {
		result := s.handler.Handle(req.Payload)
		resp := packet.NewResponseFrom(req, result)
		if err := s.send(resp); err != nil {
			// Peer gone: the Port is dying, so this worker exits rather than
			// trying to send every remaining queued response into the void.
			s.logger.Debug("server: failed to send response, exiting worker", zap.Error(err), zap.Uint32("slot", req.SlotID()))
			return
		}
	}
}

// Shutdown blocks until every worker has joined (the request stream closed
// and the queue drained). A timeout indicates a worker is stuck or the
// Multiplexer never closed its request stream — fatal misuse per spec.md §5,
// so this panics rather than returning an error.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.done)
		}()
		select {
		case <-s.done:
		case <-time.After(s.ShutdownTimeout):
			panic(fmt.Sprintf("server: Shutdown timed out after %s waiting for workers to join", s.ShutdownTimeout))
		}
	})
}
