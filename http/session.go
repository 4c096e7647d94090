package http

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const maxPooledBodySize = 64 * 1024

// session is the state owned by one connection for its whole lifetime.
type session struct {
	id     string
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer

	request  Request
	response Response
}

// ServeConn drives the read, handle, write loop for conn until the peer closes the
// stream, an I/O error occurs or a response requires closing. It then half-closes
// and closes conn.
func (server *Server) ServeConn(ctx context.Context, conn net.Conn) {
	if !server.trackConn(conn, true) {
		conn.Close()
		return
	}
	defer server.trackConn(conn, false)

	server.active.Add(1)
	if server.activeCounter != nil {
		server.activeCounter.Add(ctx, 1)
	}
	defer func() {
		server.active.Add(-1)
		if server.activeCounter != nil {
			server.activeCounter.Add(ctx, -1)
		}
	}()

	sess := server.sessionPool.Get().(*session)
	sess.reset(conn)
	defer server.release(sess)

	server.serveSession(ctx, sess)

	// Send a TCP shutdown, the error is irrelevant at this point
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
	}
	conn.Close()
}

func (server *Server) serveSession(ctx context.Context, sess *session) {
	for {
		if server.idleTimeout > 0 {
			sess.conn.SetReadDeadline(time.Now().Add(server.idleTimeout))
		}

		sess.request.Reset()
		if err := sess.request.Read(sess.reader); err != nil {
			if err != io.EOF {
				server.fail(sess, err, "read")
			}
			return
		}

		sess.response.Reset()
		server.handle(ctx, sess)

		if server.idleTimeout > 0 {
			sess.conn.SetWriteDeadline(time.Now().Add(server.idleTimeout))
		}
		if err := sess.response.Write(sess.writer); err != nil {
			server.fail(sess, err, "write")
			return
		}

		if sess.response.NeedsClose() {
			// This means we should close the connection, usually because
			// the response indicated the "Connection: close" semantic.
			return
		}
	}
}

func (server *Server) handle(ctx context.Context, sess *session) {
	req, res := &sess.request, &sess.response

	ctx, span := server.tracer.Start(ctx, "http.request",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("url.path", req.Target),
			attribute.String("network.protocol.version", req.Proto),
			attribute.String("session.id", sess.id),
		))
	defer span.End()

	req.setContext(ctx)
	res.Proto = req.Proto
	res.KeepAlive = req.KeepAlive

	server.handler(req, res)

	// Responses to HEAD never carry a body on the wire, whatever the status
	if req.Method == MethodHead {
		res.SkipBody = true
	}

	span.SetAttributes(attribute.Int("http.response.status_code", int(res.Status)))
	if res.Status >= StatusInternalServerError {
		span.SetStatus(codes.Error, StatusText(res.Status))
	}
}

// fail reports a transport error unless it was caused by the server closing the connection.
func (server *Server) fail(sess *session, err error, op string) {
	if errors.Is(err, net.ErrClosed) && server.isClosed() {
		return
	}
	server.logger.Error(op, "error", err, "session", sess.id, "remote", sess.conn.RemoteAddr().String())
}

func (server *Server) release(sess *session) {
	sess.reset(nil)
	if cap(sess.request.Body) > maxPooledBodySize {
		sess.request.Body = nil
	}
	server.sessionPool.Put(sess)
}

func (sess *session) reset(conn net.Conn) {
	sess.conn = conn
	sess.reader.Reset(conn)
	sess.writer.Reset(conn)
	sess.request.Reset()
	sess.response.Reset()

	if conn != nil {
		sess.id = uuid.NewString()
	} else {
		sess.id = ""
	}
}
