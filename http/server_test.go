package http

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/freekieb7/blobhttp/test"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTestServer(t testing.TB, opts ...ServerOption) (*Server, *StaticHandler) {
	t.Helper()

	handler := NewStaticHandler(newTestStore(t), WithStaticLogger(discardLogger()))
	opts = append([]ServerOption{WithLogger(discardLogger())}, opts...)
	return NewServer(handler.Handler(), opts...), handler
}

// startServer serves on a loopback listener until the test ends.
func startServer(t *testing.T, server *Server) string {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	test.AssertNoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- server.Serve(context.Background(), listener)
	}()

	t.Cleanup(func() {
		server.Close()
		select {
		case err := <-done:
			test.AssertErrorIs(t, err, ErrServerClosed)
		case <-time.After(3 * time.Second):
			t.Error("listener did not stop")
		}
	})

	return listener.Addr().String()
}

func readResponse(t *testing.T, reader *bufio.Reader, method string) (*http.Response, []byte) {
	t.Helper()

	resp, err := http.ReadResponse(reader, &http.Request{Method: method})
	test.AssertNoError(t, err)
	body, err := io.ReadAll(resp.Body)
	test.AssertNoError(t, err)
	resp.Body.Close()
	return resp, body
}

func TestServeConnKeepAlive(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	server, handler := newTestServer(t)

	done := make(chan struct{})
	go func() {
		server.ServeConn(context.Background(), serverConn)
		close(done)
	}()

	reader := bufio.NewReader(clientConn)
	requests := []struct {
		msg    string
		method string
		status int
		body   string
	}{
		{"GET /index.html HTTP/1.1\r\nHost: localhost\r\n\r\n", http.MethodGet, 200, string(testBlob)},
		{"HEAD / HTTP/1.1\r\nHost: localhost\r\n\r\n", http.MethodHead, 200, ""},
		{"GET /nope HTTP/1.1\r\n\r\n", http.MethodGet, 404, "The resource '/nope' was not found."},
		{"HEAD /nope HTTP/1.1\r\n\r\n", http.MethodHead, 404, ""},
		{"DELETE / HTTP/1.1\r\n\r\n", "DELETE", 400, "Unknown HTTP-method"},
		{"GET /../etc/passwd HTTP/1.1\r\n\r\n", http.MethodGet, 400, "Illegal request-target"},
	}

	for _, r := range requests {
		go clientConn.Write([]byte(r.msg))

		resp, body := readResponse(t, reader, r.method)
		test.AssertEqual(t, r.status, resp.StatusCode)
		test.AssertEqual(t, r.body, string(body))
		test.AssertEqual(t, DefaultServerName, resp.Header.Get("Server"))
		test.AssertTrue(t, !resp.Close, "connection should stay open")

		if r.method == http.MethodHead && r.status == 200 {
			test.AssertEqual(t, int64(len(testBlob)), resp.ContentLength)
		}
		if r.status == 200 && r.method == http.MethodGet {
			test.AssertEqual(t, "gzip", resp.Header.Get("Content-Encoding"))
			test.AssertEqual(t, "text/html", resp.Header.Get("Content-Type"))
		}
	}

	// A clean end of stream ends the session
	clientConn.Close()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("session did not end after end of stream")
	}

	test.AssertEqual(t, int64(1), handler.Served())
	test.AssertEqual(t, int64(0), server.Active())
}

func TestServeConnReadErrorClosesSession(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	server, _ := newTestServer(t)

	done := make(chan struct{})
	go func() {
		server.ServeConn(context.Background(), serverConn)
		close(done)
	}()

	go clientConn.Write([]byte("NOT-HTTP\r\n\r\n"))

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("session did not end after malformed request")
	}
}

func TestIdleTimeoutEndsSession(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	server, _ := newTestServer(t, WithIdleTimeout(50*time.Millisecond))

	done := make(chan struct{})
	go func() {
		server.ServeConn(context.Background(), serverConn)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("idle session was not closed")
	}
}

func TestConnectionCloseHalfCloses(t *testing.T) {
	testCases := []struct {
		name string
		msg  string
	}{
		{"connection close", "GET / HTTP/1.1\r\nConnection: close\r\n\r\n"},
		{"http/1.0", "GET / HTTP/1.0\r\n\r\n"},
	}

	server, _ := newTestServer(t)
	addr := startServer(t, server)

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			conn, err := net.Dial("tcp", addr)
			test.AssertNoError(t, err)
			defer conn.Close()
			conn.SetDeadline(time.Now().Add(3 * time.Second))

			_, err = conn.Write([]byte(tc.msg))
			test.AssertNoError(t, err)

			reader := bufio.NewReader(conn)
			resp, body := readResponse(t, reader, http.MethodGet)
			test.AssertEqual(t, 200, resp.StatusCode)
			test.AssertBytes(t, testBlob, body)
			test.AssertTrue(t, resp.Close, "response should announce close")

			_, err = reader.ReadByte()
			test.AssertErrorIs(t, err, io.EOF)
		})
	}
}

func TestConcurrentKeepAliveConnections(t *testing.T) {
	const (
		connections = 16
		requests    = 10
	)

	server, handler := newTestServer(t)
	addr := startServer(t, server)

	var wg sync.WaitGroup
	for c := 0; c < connections; c++ {
		wg.Add(1)
		go func(c int) {
			defer wg.Done()

			conn, err := net.Dial("tcp", addr)
			if err != nil {
				t.Error(err)
				return
			}
			defer conn.Close()
			conn.SetDeadline(time.Now().Add(5 * time.Second))

			reader := bufio.NewReader(conn)
			for r := 0; r < requests; r++ {
				target := "/"
				expected := string(testBlob)
				if r%3 == 2 {
					target = fmt.Sprintf("/missing-%d-%d", c, r)
					expected = "The resource '" + target + "' was not found."
				}

				if _, err := fmt.Fprintf(conn, "GET %s HTTP/1.1\r\nHost: localhost\r\n\r\n", target); err != nil {
					t.Error(err)
					return
				}

				resp, err := http.ReadResponse(reader, nil)
				if err != nil {
					t.Error(err)
					return
				}
				body, err := io.ReadAll(resp.Body)
				resp.Body.Close()
				if err != nil {
					t.Error(err)
					return
				}
				if string(body) != expected {
					t.Errorf("connection %d request %d: got %q, want %q", c, r, body, expected)
				}
			}
		}(c)
	}
	wg.Wait()

	// 10 requests per connection, every third one misses the store
	test.AssertEqual(t, int64(connections*7), handler.Served())
}

func TestServerCloseAbandonsSessions(t *testing.T) {
	server, _ := newTestServer(t)
	addr := startServer(t, server)

	conn, err := net.Dial("tcp", addr)
	test.AssertNoError(t, err)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(3 * time.Second))

	// Wait until the session is running
	_, err = conn.Write([]byte("GET / HTTP/1.1\r\n\r\n"))
	test.AssertNoError(t, err)
	readResponse(t, bufio.NewReader(conn), http.MethodGet)

	test.AssertNoError(t, server.Close())

	_, err = conn.Read(make([]byte, 1))
	test.AssertTrue(t, err != nil, "connection should be closed by the server")

	err = server.Serve(context.Background(), &closedListener{})
	test.AssertErrorIs(t, err, ErrServerClosed)
}

func TestServeStopsOnContext(t *testing.T) {
	server, _ := newTestServer(t)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	test.AssertNoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- server.Serve(ctx, listener)
	}()

	cancel()

	select {
	case err := <-done:
		test.AssertErrorIs(t, err, ErrServerClosed)
	case <-time.After(3 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestListenAndServeSetupError(t *testing.T) {
	server, _ := newTestServer(t)

	taken, err := net.Listen("tcp", "127.0.0.1:0")
	test.AssertNoError(t, err)
	defer taken.Close()

	err = server.ListenAndServe(context.Background(), taken.Addr().String())
	test.AssertTrue(t, err != nil, "binding a taken address should fail")
	test.AssertTrue(t, !errors.Is(err, ErrServerClosed), "setup failure is not a close")
}

func TestAcceptErrorsAreRetried(t *testing.T) {
	server, _ := newTestServer(t)

	listener := &flakyListener{failures: 3, accepted: make(chan struct{})}
	done := make(chan error, 1)
	go func() {
		done <- server.Serve(context.Background(), listener)
	}()

	select {
	case <-listener.accepted:
	case <-time.After(3 * time.Second):
		t.Fatal("accept was not retried")
	}

	server.Close()
	test.AssertErrorIs(t, <-done, ErrServerClosed)
}

func TestSessionSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer provider.Shutdown(context.Background())

	server, _ := newTestServer(t, WithTracerProvider(provider))

	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()
	go server.ServeConn(context.Background(), serverConn)

	go clientConn.Write([]byte("GET /nope HTTP/1.1\r\n\r\n"))
	readResponse(t, bufio.NewReader(clientConn), http.MethodGet)

	spans := recorder.Ended()
	test.AssertEqual(t, 1, len(spans))
	test.AssertEqual(t, "http.request", spans[0].Name())

	var status int64
	for _, attr := range spans[0].Attributes() {
		if attr.Key == "http.response.status_code" {
			status = attr.Value.AsInt64()
		}
	}
	test.AssertEqual(t, int64(404), status)
}

func TestActiveSessionsMetric(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	server, _ := newTestServer(t, WithMeterProvider(provider))

	serverConn, clientConn := net.Pipe()
	done := make(chan struct{})
	go func() {
		server.ServeConn(context.Background(), serverConn)
		close(done)
	}()

	go clientConn.Write([]byte("GET / HTTP/1.1\r\n\r\n"))
	readResponse(t, bufio.NewReader(clientConn), http.MethodGet)

	var rm metricdata.ResourceMetrics
	test.AssertNoError(t, reader.Collect(context.Background(), &rm))
	test.AssertEqual(t, int64(1), sumInt64(rm, "blobhttp.sessions.active"))

	clientConn.Close()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("session did not end")
	}

	test.AssertNoError(t, reader.Collect(context.Background(), &rm))
	test.AssertEqual(t, int64(0), sumInt64(rm, "blobhttp.sessions.active"))
}

type closedListener struct{}

func (*closedListener) Accept() (net.Conn, error) { return nil, net.ErrClosed }
func (*closedListener) Close() error              { return nil }
func (*closedListener) Addr() net.Addr            { return &net.TCPAddr{} }

// flakyListener fails a number of accepts before blocking until closed.
type flakyListener struct {
	mu       sync.Mutex
	failures int
	accepted chan struct{}
	closed   chan struct{}
	once     sync.Once
}

func (listener *flakyListener) Accept() (net.Conn, error) {
	listener.mu.Lock()
	if listener.closed == nil {
		listener.closed = make(chan struct{})
	}
	closed := listener.closed
	if listener.failures > 0 {
		listener.failures--
		listener.mu.Unlock()
		return nil, errors.New("accept: too many open files")
	}
	listener.mu.Unlock()

	listener.once.Do(func() { close(listener.accepted) })
	<-closed
	return nil, net.ErrClosed
}

func (listener *flakyListener) Close() error {
	listener.mu.Lock()
	defer listener.mu.Unlock()
	if listener.closed == nil {
		listener.closed = make(chan struct{})
	}
	select {
	case <-listener.closed:
	default:
		close(listener.closed)
	}
	return nil
}

func (listener *flakyListener) Addr() net.Addr { return &net.TCPAddr{} }

func BenchmarkServeConn(b *testing.B) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	server, _ := newTestServer(b)

	// Start ServeConn in a goroutine
	go server.ServeConn(context.Background(), serverConn)

	reqStr := "GET / HTTP/1.1\r\nHost: localhost\r\n\r\n"
	reader := bufio.NewReader(clientConn)

	for b.Loop() {
		// Write request
		go clientConn.Write([]byte(reqStr))
		// Read response
		resp, err := http.ReadResponse(reader, nil)
		if err != nil {
			b.Fatalf("read error: %v", err)
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
}
