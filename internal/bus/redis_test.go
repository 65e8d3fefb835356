package bus

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/redis/go-redis/v9"
)

// respServer speaks just enough RESP2 for a pub/sub client. It answers
// SUBSCRIBE late, so a caller that does not wait for the confirmation
// returns before confirmed is set.
type respServer struct {
	ln        net.Listener
	delay     time.Duration
	confirmed atomic.Bool
	wg        sync.WaitGroup

	mu    sync.Mutex
	conns []net.Conn
}

func newRESPServer(c *qt.C, delay time.Duration) *respServer {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	c.Assert(err, qt.IsNil)
	s := &respServer{ln: ln, delay: delay}
	s.wg.Add(1)
	go s.accept()
	c.Cleanup(s.close)
	return s
}

func (s *respServer) accept() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		s.wg.Add(1)
		go s.serve(conn)
	}
}

func (s *respServer) close() {
	s.ln.Close()
	s.mu.Lock()
	for _, conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *respServer) serve(conn net.Conn) {
	defer s.wg.Done()
	r := bufio.NewReader(conn)
	for {
		args, err := readCommand(r)
		if err != nil {
			return
		}
		switch strings.ToUpper(args[0]) {
		case "HELLO":
			io.WriteString(conn, "-ERR unknown command 'HELLO'\r\n")
		case "PING":
			io.WriteString(conn, "+PONG\r\n")
		case "SUBSCRIBE":
			time.Sleep(s.delay)
			for i, topic := range args[1:] {
				s.confirmed.Store(true)
				fmt.Fprintf(conn, "*3\r\n$9\r\nsubscribe\r\n$%d\r\n%s\r\n:%d\r\n", len(topic), topic, i+1)
			}
		default:
			io.WriteString(conn, "+OK\r\n")
		}
	}
}

func readCommand(r *bufio.Reader) ([]string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "*")))
	if err != nil || n < 1 {
		return nil, fmt.Errorf("bad command header %q", line)
	}
	args := make([]string, 0, n)
	for i := 0; i < n; i++ {
		if _, err := r.ReadString('\n'); err != nil {
			return nil, err
		}
		arg, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		args = append(args, strings.TrimRight(arg, "\r\n"))
	}
	return args, nil
}

func TestRedisSubscribeWaitsForConfirmation(t *testing.T) {
	c := qt.New(t)
	srv := newRESPServer(c, 100*time.Millisecond)

	client := redis.NewClient(&redis.Options{Addr: srv.ln.Addr().String(), Protocol: 2})
	defer client.Close()

	ch, cancel := NewRedis(client, nil).Subscribe(context.Background(), TopicNotices)
	c.Assert(srv.confirmed.Load(), qt.IsTrue)

	cancel()
	cancel()
	_, ok := <-ch
	c.Assert(ok, qt.IsFalse)
}
