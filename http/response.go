package http

import (
	"bufio"
	"strconv"
)

type Response struct {
	Proto   string
	Status  uint16
	Headers Headers
	Body    []byte

	KeepAlive bool

	// ContentLength overrides len(Body) when non-negative, for HEAD responses.
	ContentLength int
	SkipBody      bool
}

func (res *Response) Reset() {
	res.Proto = protocolHttp11
	res.Status = StatusOK
	res.Headers.Reset()
	res.Body = nil
	res.KeepAlive = false
	res.ContentLength = -1
	res.SkipBody = false
}

func (res *Response) WithStatus(status uint16) *Response {
	res.Status = status
	return res
}

func (res *Response) WithHeader(name, value string) *Response {
	res.Headers.Set(name, value)
	return res
}

// WithHTML sets a text/html body.
func (res *Response) WithHTML(payload string) *Response {
	res.Headers.Set("Content-Type", "text/html")
	res.Body = []byte(payload)
	return res
}

func (res *Response) WithBody(contentType string, body []byte) *Response {
	res.Headers.Set("Content-Type", contentType)
	res.Body = body
	return res
}

// NeedsClose reports whether the connection must be closed once res is written.
func (res *Response) NeedsClose() bool {
	return !res.KeepAlive
}

// Write serializes res onto writer and flushes it.
func (res *Response) Write(writer *bufio.Writer) error {
	proto := res.Proto
	if proto == "" {
		proto = protocolHttp11
	}

	var scratch [20]byte

	writer.WriteString(proto)
	writer.WriteByte(' ')
	writer.Write(strconv.AppendUint(scratch[:0], uint64(res.Status), 10))
	writer.WriteByte(' ')
	writer.WriteString(StatusText(res.Status))
	writer.WriteString("\r\n")

	for _, header := range res.Headers {
		writer.WriteString(header.Name)
		writer.WriteString(": ")
		writer.WriteString(header.Value)
		writer.WriteString("\r\n")
	}

	if res.KeepAlive {
		writer.WriteString("Connection: keep-alive\r\n")
	} else {
		writer.WriteString("Connection: close\r\n")
	}

	length := res.ContentLength
	if length < 0 {
		length = len(res.Body)
	}
	writer.WriteString("Content-Length: ")
	writer.Write(strconv.AppendInt(scratch[:0], int64(length), 10))
	writer.WriteString("\r\n\r\n")

	if !res.SkipBody {
		writer.Write(res.Body)
	}

	return writer.Flush()
}
