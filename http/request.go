package http

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

var (
	ErrMalformedRequest            = errors.New("http: malformed request")
	ErrUnsupportedVersion          = errors.New("http: unsupported protocol version")
	ErrHeaderTooLarge              = errors.New("http: request header too large")
	ErrBodyTooLarge                = errors.New("http: request body too large")
	ErrUnsupportedTransferEncoding = errors.New("http: unsupported transfer-encoding")
)

type Request struct {
	Method  string
	Target  string
	Proto   string
	Headers Headers

	KeepAlive bool

	Body []byte

	ctx context.Context
}

func (req *Request) Context() context.Context {
	if req.ctx == nil {
		return context.Background()
	}
	return req.ctx
}

func (req *Request) setContext(ctx context.Context) {
	req.ctx = ctx
}

// Read parses one request off reader. It returns io.EOF only when the peer closed
// the stream cleanly before sending any byte of a new request.
func (req *Request) Read(reader *bufio.Reader) error {
	budget := MaxHeaderBytes

	// Read request line, tolerating empty lines left over from a previous message
	var requestLine string
	for {
		line, n, err := readLine(reader, budget)
		if err != nil {
			return err
		}
		budget -= n
		if line != "" {
			requestLine = line
			break
		}
	}

	parts := strings.Split(requestLine, " ")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("%w: request line %q", ErrMalformedRequest, requestLine)
	}
	method, target, version := parts[0], parts[1], parts[2]

	switch {
	case version == protocolHttp10, version == protocolHttp11:
	case strings.HasPrefix(version, "HTTP/"):
		return fmt.Errorf("%w: %s", ErrUnsupportedVersion, version)
	default:
		return fmt.Errorf("%w: request line %q", ErrMalformedRequest, requestLine)
	}

	req.Method = method
	req.Target = target
	req.Proto = version

	// Read headers
	for {
		line, n, err := readLine(reader, budget)
		if err != nil {
			if err == io.EOF {
				return io.ErrUnexpectedEOF
			}
			return err
		}
		budget -= n
		if line == "" {
			break // end of headers
		}

		i := strings.IndexByte(line, ':')
		if i <= 0 || line[0] == ' ' || line[0] == '\t' || strings.ContainsAny(line[:i], " \t") {
			return fmt.Errorf("%w: header line %q", ErrMalformedRequest, line)
		}
		req.Headers.Add(strings.ToLower(line[:i]), strings.TrimSpace(line[i+1:]))
	}

	if _, found := req.Headers.Get(headerTransferEncoding); found {
		return ErrUnsupportedTransferEncoding
	}

	if err := req.readBody(reader); err != nil {
		return err
	}

	// Determine keep-alive or not
	connHeader, _ := req.Headers.Get(headerConnection)
	if version == protocolHttp11 {
		req.KeepAlive = !hasToken(connHeader, tokenClose)
	} else {
		req.KeepAlive = hasToken(connHeader, tokenKeepAlive) && !hasToken(connHeader, tokenClose)
	}

	return nil
}

func (req *Request) readBody(reader *bufio.Reader) error {
	value, found := req.Headers.Get(headerContentLength)
	if !found {
		return nil
	}

	length, err := strconv.ParseInt(value, 10, 64)
	if err != nil || length < 0 {
		return fmt.Errorf("%w: content-length %q", ErrMalformedRequest, value)
	}
	if length > MaxBodyBytes {
		return ErrBodyTooLarge
	}

	n := int(length)
	if cap(req.Body) < n {
		req.Body = make([]byte, n)
	} else {
		req.Body = req.Body[:n]
	}

	if _, err := io.ReadFull(reader, req.Body); err != nil {
		if err == io.EOF {
			return io.ErrUnexpectedEOF
		}
		return err
	}
	return nil
}

func (req *Request) Reset() {
	req.Method = ""
	req.Target = ""
	req.Proto = ""
	req.Headers.Reset()
	req.KeepAlive = false
	req.Body = req.Body[:0]
	req.ctx = nil
}

// readLine reads a CRLF or LF terminated line of at most limit bytes and
// returns it without the line terminator along with the bytes consumed.
func readLine(reader *bufio.Reader, limit int) (string, int, error) {
	var line []byte
	for {
		chunk, err := reader.ReadSlice('\n')
		if len(line)+len(chunk) > limit {
			return "", 0, ErrHeaderTooLarge
		}
		line = append(line, chunk...)

		if err == nil {
			break
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		if err == io.EOF && len(line) > 0 {
			return "", 0, io.ErrUnexpectedEOF
		}
		return "", 0, err
	}

	n := len(line)
	line = line[:n-1]
	if len(line) > 0 && line[len(line)-1] == '\r' {
		line = line[:len(line)-1]
	}
	return string(line), n, nil
}
