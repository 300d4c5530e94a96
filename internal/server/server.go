// Package server runs the TCP accept loop: one goroutine per connection,
// one request line in, one reply line out, dispatched against a shared
// Engine.
package server

import (
	"bufio"
	"log"
	"net"

	"kvstore/internal/engine"
	"kvstore/internal/wire"
)

// Server accepts connections on a single address and dispatches every
// line read from them to eng.
type Server struct {
	addr string
	eng  *engine.Engine
}

// New returns a Server bound to addr (not yet listening).
func New(addr string, eng *engine.Engine) *Server {
	return &Server{addr: addr, eng: eng}
}

// ListenAndServe opens addr and serves connections until the listener is
// closed or accept fails.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	defer ln.Close()

	log.Printf("listening on %s", s.addr)
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		reply := s.eng.Dispatch(line)
		if _, err := conn.Write([]byte(wire.FormatReply(reply))); err != nil {
			return
		}
	}
}
