package server

import (
	"fmt"
	"net"
	"net/http"
)

// Server serves the WebSocket endpoint.
type Server struct {
	listener net.Listener
	srv      *http.Server
}

// New binds addr and returns a Server exposing the hub at /ws.
func New(addr string, hub *Hub) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.ServeWS)

	return &Server{
		listener: ln,
		srv:      &http.Server{Handler: mux},
	}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Serve blocks serving requests until Close is called.
func (s *Server) Serve() error {
	return s.srv.Serve(s.listener)
}

// Close shuts the server down.
func (s *Server) Close() error {
	return s.srv.Close()
}
