//go:build e2e

package e2e

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"
)

// simServer stands in for the simulation process: it accepts the relay,
// records the lines the relay sends and streams telemetry frames back.
type simServer struct {
	ln net.Listener

	mu      sync.Mutex
	conn    net.Conn
	lines   []string
	accepts int

	linesCh chan string
}

func startSimServer(t *testing.T, frameInterval time.Duration) *simServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("sim listen: %v", err)
	}
	s := &simServer{ln: ln, linesCh: make(chan string, 64)}

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			s.mu.Lock()
			s.conn = conn
			s.accepts++
			s.mu.Unlock()
			go s.read(conn)
			go s.stream(conn, frameInterval)
		}
	}()

	t.Cleanup(func() {
		ln.Close()
		s.dropConn()
	})
	return s
}

func (s *simServer) Addr() string { return s.ln.Addr().String() }

func (s *simServer) read(conn net.Conn) {
	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		line := sc.Text()
		s.mu.Lock()
		s.lines = append(s.lines, line)
		s.mu.Unlock()
		select {
		case s.linesCh <- line:
		default:
		}
	}
}

// stream writes a keep-alive probe and then one booster frame per
// interval until the connection breaks.
func (s *simServer) stream(conn net.Conn, interval time.Duration) {
	if _, err := fmt.Fprint(conn, "Client still there?\n"); err != nil {
		return
	}
	for i := 0; ; i++ {
		frame := fmt.Sprintf(`{"objectname":"B13","location":[0,0,%d],"velocity":[0,0,10],"fuelMass":739160,"oxidizerMass":2660840}`+"\n", i*10)
		if _, err := fmt.Fprint(conn, frame); err != nil {
			return
		}
		time.Sleep(interval)
	}
}

// dropConn closes the current relay connection, as a simulation restart
// would.
func (s *simServer) dropConn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

func (s *simServer) Accepts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepts
}

// nextLine waits for the next line the relay sends.
func (s *simServer) nextLine(t *testing.T, timeout time.Duration) string {
	t.Helper()
	select {
	case l := <-s.linesCh:
		return l
	case <-time.After(timeout):
		t.Fatal("simulation received nothing")
		return ""
	}
}
