package simulator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pebbe/zmq4"
)

const serverPollInterval = 50 * time.Millisecond

var ErrNotBound = errors.New("simulator: server not bound")

// Server exposes a Simulator on a ZeroMQ ROUTER socket. Each DEALER peer
// sends [identity, payload]; replies go back to the same identity.
type Server struct {
	sim *Simulator

	mu     sync.Mutex
	socket *zmq4.Socket
}

func NewServer(sim *Simulator) *Server {
	return &Server{sim: sim}
}

// Bind opens the ROUTER socket and returns the resolved endpoint, which
// differs from endpoint when a wildcard port is requested.
func (s *Server) Bind(endpoint string) (string, error) {
	sock, err := zmq4.NewSocket(zmq4.ROUTER)
	if err != nil {
		return "", fmt.Errorf("simulator: create ROUTER socket: %w", err)
	}
	if err := sock.SetLinger(0); err != nil {
		sock.Close()
		return "", fmt.Errorf("simulator: set linger: %w", err)
	}
	if err := sock.Bind(endpoint); err != nil {
		sock.Close()
		return "", fmt.Errorf("simulator: bind %s: %w", endpoint, err)
	}
	bound, err := sock.GetLastEndpoint()
	if err != nil {
		sock.Close()
		return "", fmt.Errorf("simulator: resolve endpoint: %w", err)
	}
	s.mu.Lock()
	s.socket = sock
	s.mu.Unlock()
	s.sim.logger.Info().Str("endpoint", bound).Msg("simulator listening")
	return bound, nil
}

// Serve answers requests until ctx is done, then closes the socket.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	sock := s.socket
	s.mu.Unlock()
	if sock == nil {
		return ErrNotBound
	}
	defer sock.Close()

	poller := zmq4.NewPoller()
	poller.Add(sock, zmq4.POLLIN)
	for ctx.Err() == nil {
		polled, err := poller.Poll(serverPollInterval)
		if err != nil {
			s.sim.logger.Debug().Err(err).Msg("poll failed")
			continue
		}
		if len(polled) == 0 {
			continue
		}
		frames, err := sock.RecvMessageBytes(zmq4.DONTWAIT)
		if err != nil {
			continue
		}
		if len(frames) < 2 {
			s.sim.logger.Warn().Int("parts", len(frames)).Msg("dropping short message")
			continue
		}
		identity, payload := frames[0], frames[len(frames)-1]
		reply := s.sim.HandleFrame(payload)
		if reply == nil {
			continue
		}
		if _, err := sock.SendMessage(identity, reply); err != nil {
			s.sim.logger.Warn().Err(err).Msg("send reply")
		}
	}
	s.sim.logger.Info().Msg("simulator stopped")
	return nil
}

// ListenAndServe binds endpoint and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, endpoint string) error {
	if _, err := s.Bind(endpoint); err != nil {
		return err
	}
	return s.Serve(ctx)
}
