// Package querytest provides an in-process query server for tests.
package querytest

import (
	"bufio"
	"net"
	"strings"
	"sync"
	"testing"
)

// OK is the status line of a successful command.
const OK = "error id=0 msg=ok"

// HandlerFunc returns the lines to send in reply to a command line.
// Returning nil sends nothing.
type HandlerFunc func(line string) []string

// Reply returns a handler that answers every command with lines followed by OK.
func Reply(lines ...string) HandlerFunc {
	return func(string) []string {
		return append(append([]string{}, lines...), OK)
	}
}

// Server speaks the query line protocol on a loopback listener.
type Server struct {
	ln       net.Listener
	handler  HandlerFunc
	greeting []string

	mu       sync.Mutex
	conns    []net.Conn
	received []string
	blanks   int
	wg       sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithGreeting replaces the two greeting lines.
func WithGreeting(lines ...string) Option {
	return func(s *Server) {
		s.greeting = lines
	}
}

// NewServer starts a server and registers its shutdown with t.Cleanup.
// A nil handler answers every command with OK.
func NewServer(t testing.TB, handler HandlerFunc, opts ...Option) *Server {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	if handler == nil {
		handler = Reply()
	}
	s := &Server{
		ln:      ln,
		handler: handler,
		greeting: []string{
			"TS3",
			`Welcome to the TeamSpeak 3 ServerQuery interface, type "help" for a list of commands.`,
		},
	}
	for _, o := range opts {
		o(s)
	}

	s.wg.Add(1)
	go s.accept()
	t.Cleanup(s.Close)
	return s
}

// Addr returns the listener address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Received returns the non-empty lines received so far.
func (s *Server) Received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.received))
	copy(out, s.received)
	return out
}

// Blanks returns the number of empty lines received, which is how
// keep-alive traffic shows up.
func (s *Server) Blanks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blanks
}

// Notify writes line to every open connection.
func (s *Server) Notify(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		c.Write([]byte(line + "\n\r"))
	}
}

// Drop closes every open connection without a goodbye.
func (s *Server) Drop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		c.Close()
	}
	s.conns = nil
}

// Close stops the listener and drops all connections.
func (s *Server) Close() {
	s.ln.Close()
	s.Drop()
	s.wg.Wait()
}

func (s *Server) accept() {
	defer s.wg.Done()
	for {
		c, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, c)
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serve(c)
	}
}

func (s *Server) serve(c net.Conn) {
	defer s.wg.Done()
	defer c.Close()

	s.write(c, s.greeting...)

	r := bufio.NewReader(c)
	for {
		raw, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line := strings.TrimRight(strings.TrimPrefix(raw, "\r"), "\r\n")
		if line == "" {
			s.mu.Lock()
			s.blanks++
			s.mu.Unlock()
			continue
		}

		s.mu.Lock()
		s.received = append(s.received, line)
		s.mu.Unlock()

		if line == "quit" {
			s.write(c, OK)
			return
		}
		s.write(c, s.handler(line)...)
	}
}

func (s *Server) write(c net.Conn, lines ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range lines {
		c.Write([]byte(l + "\n\r"))
	}
}
