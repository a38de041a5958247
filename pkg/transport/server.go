package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ambus-protocol/ambus-go/pkg/log"
	"github.com/ambus-protocol/ambus-go/pkg/wire"
)

// ServerConfig configures a bridge server.
type ServerConfig struct {
	// Address to listen on (e.g., ":9278" or "127.0.0.1:9278").
	Address string

	// Backend is the session the server fronts. The server never closes
	// it; the owner does.
	Backend Session

	// MaxMessageSize is the maximum bridge message size (default: 64KB).
	MaxMessageSize uint32

	// Logger for traffic logging (optional).
	Logger log.Logger
}

// Server exposes one bus adapter session over TCP. Multiple clients may
// connect; their exchanges are serialized by the backend session.
type Server struct {
	config ServerConfig
	logger log.Logger

	listener net.Listener

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	connCount atomic.Int64
}

// NewServer creates a new bridge server.
func NewServer(config ServerConfig) (*Server, error) {
	if config.Backend == nil {
		return nil, fmt.Errorf("Backend is required")
	}
	if config.MaxMessageSize == 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}
	logger := config.Logger
	if logger == nil {
		logger = log.NoopLogger{}
	}
	return &Server{
		config: config,
		logger: logger,
	}, nil
}

// Start starts the server and begins accepting connections.
func (s *Server) Start(ctx context.Context) error {
	if s.running.Load() {
		return fmt.Errorf("server already running")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)

	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener
	s.running.Store(true)

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Stop stops the server and waits for connection handlers to finish.
func (s *Server) Stop() error {
	if !s.running.Load() {
		return nil
	}
	s.running.Store(false)
	s.cancel()

	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	s.wg.Wait()
	return err
}

// Addr returns the server's listen address.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ConnectionCount returns the number of active client connections.
func (s *Server) ConnectionCount() int {
	return int(s.connCount.Load())
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.running.Load() || s.ctx.Err() != nil {
				return
			}
			continue
		}

		s.wg.Add(1)
		s.connCount.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.connCount.Add(-1)
			s.handleClient(conn)
		}()
	}
}

// handleClient serves one client until it disconnects or the server
// stops.
func (s *Server) handleClient(conn net.Conn) {
	defer conn.Close()

	// Unblock the read loop on shutdown.
	stop := context.AfterFunc(s.ctx, func() {
		conn.SetReadDeadline(time.Now())
	})
	defer stop()

	framer := NewFramer(conn)
	for {
		payload, err := framer.ReadFrame()
		if err != nil {
			if err != io.EOF && s.ctx.Err() == nil {
				s.logError("client read failed: " + err.Error())
			}
			return
		}

		resp := s.serve(payload)
		data, err := EncodeBridgeResponse(resp)
		if err != nil {
			s.logError("response encode failed: " + err.Error())
			return
		}
		if err := framer.WriteFrame(data); err != nil {
			return
		}
	}
}

// serve executes one bridge request against the backend session.
func (s *Server) serve(payload []byte) *BridgeResponse {
	req, err := DecodeBridgeRequest(payload)
	if err != nil {
		return &BridgeResponse{Status: BridgeStatusBadRequest}
	}

	timeout := time.Duration(req.TimeoutMS) * time.Millisecond
	resp := &BridgeResponse{RequestID: req.RequestID, Status: BridgeStatusOK}

	switch req.Op {
	case BridgeOpExchange:
		frame, err := s.config.Backend.Exchange(bridgeToFrame(&req.Frames[0]), timeout)
		if isSessionFault(err) {
			resp.Status = errorToStatus(err)
			return resp
		}
		resp.Results = []BridgeResult{resultFor(frame, err)}

	case BridgeOpBroadcast:
		var req0 wire.Frame
		if len(req.Frames) > 0 {
			req0 = bridgeToFrame(&req.Frames[0])
		}
		replies, err := s.config.Backend.Broadcast(req0, timeout)
		if err != nil {
			resp.Status = errorToStatus(err)
			return resp
		}
		for _, f := range replies {
			resp.Results = append(resp.Results, resultFor(f, nil))
		}

	case BridgeOpBatch:
		batcher, ok := s.config.Backend.(BatchExchanger)
		if !ok {
			// Fall back to sequential exchanges.
			for _, bf := range req.Frames {
				frame, err := s.config.Backend.Exchange(bridgeToFrame(&bf), timeout)
				if isSessionFault(err) {
					resp.Status = errorToStatus(err)
					return resp
				}
				resp.Results = append(resp.Results, resultFor(frame, err))
			}
			return resp
		}
		frames := make([]wire.Frame, len(req.Frames))
		for i := range req.Frames {
			frames[i] = bridgeToFrame(&req.Frames[i])
		}
		results, err := batcher.ExchangeBatch(frames, timeout)
		if err != nil {
			resp.Status = errorToStatus(err)
			return resp
		}
		for _, r := range results {
			resp.Results = append(resp.Results, resultFor(r.Frame, r.Err))
		}
	}

	return resp
}

// isSessionFault reports whether the error ends the backend session, as
// opposed to a per-exchange timeout.
func isSessionFault(err error) bool {
	return errors.Is(err, ErrBusOff) || errors.Is(err, ErrClosed)
}

func resultFor(frame wire.Frame, err error) BridgeResult {
	r := BridgeResult{Status: errorToStatus(err)}
	if err == nil {
		r.Frame = &BridgeFrame{ID: frame.ID, Data: frame.Data}
	}
	return r
}

func (s *Server) logError(msg string) {
	s.logger.Log(log.Event{
		Timestamp: time.Now(),
		SessionID: s.config.Backend.ID(),
		Direction: log.DirectionIn,
		Layer:     log.LayerTransport,
		Category:  log.CategoryError,
		AdapterID: s.config.Backend.AdapterID(),
		Error:     &log.ErrorEventData{Layer: log.LayerTransport, Message: msg},
	})
}
