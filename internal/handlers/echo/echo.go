package echo

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"example.com/h3serve/internal/h3"
	"example.com/h3serve/internal/logger"
	"example.com/h3serve/internal/server"
)

// Config is the handler-specific configuration for "Echo" routes.
type Config struct {
	// EchoHeaders selects whether request headers are included in the body.
	EchoHeaders bool `json:"echo_headers,omitempty"`

	// SendTrailers selects whether the response carries an x-echo-bytes
	// trailer with the request body length.
	SendTrailers bool `json:"send_trailers,omitempty"`
}

// Handler echoes the request back to the client: request line, optionally
// the headers, then the request body verbatim.
type Handler struct {
	cfg Config
	log *logger.Logger
}

// New creates an echo Handler from its route configuration.
func New(handlerConfig json.RawMessage, lg *logger.Logger) (server.Handler, error) {
	cfg := Config{}
	if len(handlerConfig) > 0 {
		if err := json.Unmarshal(handlerConfig, &cfg); err != nil {
			return nil, fmt.Errorf("invalid echo handler config: %w", err)
		}
	}
	return &Handler{cfg: cfg, log: lg}, nil
}

// ServeStream implements server.Handler.
func (h *Handler) ServeStream(sw h3.StreamWriter, req *http.Request) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s %s\n", req.Method, req.RequestURI, req.Proto)
	fmt.Fprintf(&sb, "host: %s\n", req.Host)
	if h.cfg.EchoHeaders {
		names := make([]string, 0, len(req.Header))
		for name := range req.Header {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			for _, v := range req.Header[name] {
				fmt.Fprintf(&sb, "%s: %s\n", strings.ToLower(name), v)
			}
		}
	}
	sb.WriteString("\n")

	body, err := io.ReadAll(req.Body)
	if err != nil {
		h.log.Error("echo handler failed to read request body", logger.LogFields{
			"stream_id": sw.ID(),
			"error":     err.Error(),
		})
		server.SendDefaultErrorResponse(sw, http.StatusInternalServerError, req, "", h.log)
		return
	}

	payload := append([]byte(sb.String()), body...)

	headers := []h3.HeaderField{
		{Name: ":status", Value: "200"},
		{Name: "content-type", Value: "text/plain; charset=utf-8"},
		{Name: "content-length", Value: strconv.Itoa(len(payload))},
	}
	if err := sw.SendHeaders(headers, false); err != nil {
		h.log.Error("echo handler failed to send headers", logger.LogFields{
			"stream_id": sw.ID(),
			"error":     err.Error(),
		})
		return
	}

	if h.cfg.SendTrailers {
		if tc, ok := sw.(h3.TrailerCapable); ok {
			_ = tc.SetTrailers([]h3.HeaderField{
				{Name: "x-echo-bytes", Value: strconv.Itoa(len(body))},
			})
		}
	}

	if _, err := sw.WriteData(payload, !h.cfg.SendTrailers); err != nil {
		h.log.Error("echo handler failed to write body", logger.LogFields{
			"stream_id": sw.ID(),
			"error":     err.Error(),
		})
	}
}
