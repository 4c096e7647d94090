package http

import "strings"

const (
	DefaultReadBufferSize  = 4096 // 4kB
	DefaultWriteBufferSize = 4096 // 4kB
	MaxHeaderBytes         = 8 * 1024
	MaxBodyBytes           = 1024 * 1024 // 1MB

	MethodGet  = "GET"
	MethodHead = "HEAD"

	protocolHttp10 = "HTTP/1.0"
	protocolHttp11 = "HTTP/1.1"

	headerConnection       = "connection"
	headerContentLength    = "content-length"
	headerTransferEncoding = "transfer-encoding"
	tokenKeepAlive         = "keep-alive"
	tokenClose             = "close"
)

type Header struct {
	Name  string
	Value string
}

// Handler fills res for req. It must not retain either after returning.
type Handler func(req *Request, res *Response)

// Headers is an ordered header list. Names compare case-insensitively.
type Headers []Header

func (headers Headers) Get(name string) (string, bool) {
	for _, header := range headers {
		if strings.EqualFold(header.Name, name) {
			return header.Value, true
		}
	}
	return "", false
}

// Set replaces the first header called name, or appends one.
func (headers *Headers) Set(name, value string) {
	for i := range *headers {
		if strings.EqualFold((*headers)[i].Name, name) {
			(*headers)[i].Value = value
			return
		}
	}
	*headers = append(*headers, Header{Name: name, Value: value})
}

func (headers *Headers) Add(name, value string) {
	*headers = append(*headers, Header{Name: name, Value: value})
}

func (headers *Headers) Del(name string) {
	kept := (*headers)[:0]
	for _, header := range *headers {
		if !strings.EqualFold(header.Name, name) {
			kept = append(kept, header)
		}
	}
	*headers = kept
}

func (headers *Headers) Reset() {
	*headers = (*headers)[:0]
}

// hasToken reports whether the comma separated list value contains token.
func hasToken(value, token string) bool {
	for _, part := range strings.Split(value, ",") {
		if strings.EqualFold(strings.TrimSpace(part), token) {
			return true
		}
	}
	return false
}
