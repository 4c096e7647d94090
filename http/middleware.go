package http

import "log/slog"

type Middleware func(next Handler) Handler

// Chain wraps handler so that the first middleware is the outermost one.
func Chain(handler Handler, middleware ...Middleware) Handler {
	for i := len(middleware) - 1; i >= 0; i-- {
		handler = middleware[i](handler)
	}
	return handler
}

// RecoverMiddleware turns a panicking handler into a 500 response that closes the connection.
func RecoverMiddleware(logger *slog.Logger) Middleware {
	return func(next Handler) Handler {
		return func(req *Request, res *Response) {
			defer func() {
				if recovered := recover(); recovered != nil {
					logger.Error("handler", "error", recovered, "path", req.Target)

					serverName, found := res.Headers.Get("Server")
					if !found {
						serverName = DefaultServerName
					}

					res.Reset()
					res.Proto = req.Proto
					res.Headers.Set("Server", serverName)
					res.WithStatus(StatusInternalServerError).
						WithHTML("Internal Server Error")
				}
			}()

			next(req, res)
		}
	}
}
