// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package http

const (
	StatusOK uint16 = 200 // RFC 7231, 6.3.1

	StatusBadRequest uint16 = 400 // RFC 7231, 6.5.1
	StatusNotFound   uint16 = 404 // RFC 7231, 6.5.4

	StatusInternalServerError uint16 = 500 // RFC 7231, 6.6.1
)

var (
	unknownStatusCode = "Unknown Status Code"

	statusMessages = [...]string{
		StatusOK: "OK",

		StatusBadRequest: "Bad Request",
		StatusNotFound:   "Not Found",

		StatusInternalServerError: "Internal Server Error",
	}
)

// StatusText returns the reason phrase for code.
func StatusText(code uint16) string {
	if int(code) >= len(statusMessages) || statusMessages[code] == "" {
		return unknownStatusCode
	}
	return statusMessages[code]
}
