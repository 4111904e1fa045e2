// streamcheck drives the request-stream engine from a line-oriented script,
// printing every frame the engine emits. It exists so the protocol behavior
// can be exercised end to end without a QUIC stack underneath.
//
// Script commands (one per line, '#' starts a comment):
//
//	stream <id>                      open a new request stream
//	headers <id> [end] n=v n=v ...   deliver a header block
//	data <id> [end] <payload>        deliver a body chunk (rest of line)
//	reset <id> <code>                peer abort with the given error code
//
// Header blocks round-trip through an HPACK encoder and decoder on both
// directions, the way a real transport would hand them over.
package main

import (
	"bufio"
	"bytes"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/http2/hpack"

	"example.com/h3serve/internal/config"
	"example.com/h3serve/internal/h3"
	"example.com/h3serve/internal/handlers/echo"
	"example.com/h3serve/internal/logger"
	"example.com/h3serve/internal/router"
	"example.com/h3serve/internal/server"
)

var (
	configFilePath string
	scriptFilePath string
	settleTimeout  time.Duration
)

// headerCodec round-trips field lists through HPACK. The encoder and decoder
// are both persistent so their dynamic tables stay in sync across blocks.
type headerCodec struct {
	mu      sync.Mutex
	encBuf  bytes.Buffer
	encoder *hpack.Encoder
	decoder *hpack.Decoder
	decoded []hpack.HeaderField
}

func newHeaderCodec() *headerCodec {
	c := &headerCodec{}
	c.encoder = hpack.NewEncoder(&c.encBuf)
	c.decoder = hpack.NewDecoder(4096, func(hf hpack.HeaderField) {
		c.decoded = append(c.decoded, hf)
	})
	return c
}

func (c *headerCodec) roundTrip(fields []hpack.HeaderField) ([]hpack.HeaderField, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.encBuf.Reset()
	c.decoded = nil
	for _, hf := range fields {
		if err := c.encoder.WriteField(hf); err != nil {
			return nil, fmt.Errorf("hpack encode %q: %w", hf.Name, err)
		}
	}
	if _, err := c.decoder.Write(c.encBuf.Bytes()); err != nil {
		return nil, fmt.Errorf("hpack decode: %w", err)
	}
	if err := c.decoder.Close(); err != nil {
		return nil, fmt.Errorf("hpack decode: %w", err)
	}
	out := c.decoded
	c.decoded = nil
	return out, nil
}

// printTransport implements h3.StreamTransport by printing each emitted
// frame. done is closed when the stream terminates in either direction.
type printTransport struct {
	id    uint64
	out   *syncWriter
	codec *headerCodec

	closeOnce sync.Once
	done      chan struct{}
}

type syncWriter struct {
	mu sync.Mutex
	w  *bufio.Writer
}

func (s *syncWriter) printf(format string, args ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, format, args...)
	s.w.Flush()
}

func newPrintTransport(id uint64, out *syncWriter, codec *headerCodec) *printTransport {
	return &printTransport{id: id, out: out, codec: codec, done: make(chan struct{})}
}

func (t *printTransport) terminate() {
	t.closeOnce.Do(func() { close(t.done) })
}

func (t *printTransport) printFields(kind string, fields []hpack.HeaderField) error {
	decoded, err := t.codec.roundTrip(fields)
	if err != nil {
		return err
	}
	var sb strings.Builder
	for _, hf := range decoded {
		fmt.Fprintf(&sb, " %s=%s", hf.Name, hf.Value)
	}
	t.out.printf("stream=%d %s%s\n", t.id, kind, sb.String())
	return nil
}

func (t *printTransport) SendHeaders(fields []hpack.HeaderField) error {
	return t.printFields("HEADERS", fields)
}

func (t *printTransport) SendData(p []byte) (int, error) {
	t.out.printf("stream=%d DATA len=%d %q\n", t.id, len(p), p)
	return len(p), nil
}

func (t *printTransport) SendTrailers(fields []hpack.HeaderField) error {
	return t.printFields("TRAILERS", fields)
}

func (t *printTransport) EndStream() error {
	t.out.printf("stream=%d END_STREAM\n", t.id)
	t.terminate()
	return nil
}

func (t *printTransport) ResetStream(code h3.ErrorCode) error {
	t.out.printf("stream=%d RESET code=%s\n", t.id, code.String())
	t.terminate()
	return nil
}

type scriptRunner struct {
	engine  *h3.Engine
	out     *syncWriter
	codec   *headerCodec
	streams map[uint64]*h3.Stream
	doneChs map[uint64]chan struct{}
}

func (sr *scriptRunner) stream(id uint64) (*h3.Stream, error) {
	s, ok := sr.streams[id]
	if !ok {
		return nil, fmt.Errorf("stream %d not opened", id)
	}
	return s, nil
}

func (sr *scriptRunner) runLine(lineNo int, line string) error {
	if strings.HasPrefix(line, "#") {
		return nil
	}
	fieldsOf := strings.Fields(line)
	if len(fieldsOf) == 0 {
		return nil
	}
	cmd := fieldsOf[0]
	if len(fieldsOf) < 2 {
		return fmt.Errorf("line %d: %s needs a stream id", lineNo, cmd)
	}
	id, err := strconv.ParseUint(fieldsOf[1], 10, 64)
	if err != nil {
		return fmt.Errorf("line %d: bad stream id %q", lineNo, fieldsOf[1])
	}

	switch cmd {
	case "stream":
		if _, exists := sr.streams[id]; exists {
			return fmt.Errorf("line %d: stream %d already open", lineNo, id)
		}
		t := newPrintTransport(id, sr.out, sr.codec)
		sr.streams[id] = sr.engine.NewStream(id, t)
		sr.doneChs[id] = t.done
		return nil

	case "headers":
		s, err := sr.stream(id)
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		rest := fieldsOf[2:]
		endStream := false
		if len(rest) > 0 && rest[0] == "end" {
			endStream = true
			rest = rest[1:]
		}
		var hfs []hpack.HeaderField
		for _, pair := range rest {
			name, value, ok := strings.Cut(pair, "=")
			if !ok {
				return fmt.Errorf("line %d: malformed header %q", lineNo, pair)
			}
			hfs = append(hfs, hpack.HeaderField{Name: name, Value: value})
		}
		decoded, err := sr.codec.roundTrip(hfs)
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		if err := s.DeliverHeaders(decoded, endStream); err != nil {
			sr.out.printf("stream=%d ERROR %v\n", id, err)
		}
		return nil

	case "data":
		s, err := sr.stream(id)
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		payload := ""
		if parts := strings.SplitN(line, " ", 3); len(parts) == 3 {
			payload = parts[2]
		}
		endStream := false
		if payload == "end" {
			endStream, payload = true, ""
		} else if strings.HasPrefix(payload, "end ") {
			endStream, payload = true, payload[len("end "):]
		}
		if err := s.DeliverData([]byte(payload), endStream); err != nil {
			sr.out.printf("stream=%d ERROR %v\n", id, err)
		}
		return nil

	case "reset":
		s, err := sr.stream(id)
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		code := uint64(h3.ErrCodeRequestCancelled)
		if len(fieldsOf) > 2 {
			code, err = strconv.ParseUint(fieldsOf[2], 0, 64)
			if err != nil {
				return fmt.Errorf("line %d: bad error code %q", lineNo, fieldsOf[2])
			}
		}
		s.PeerAborted(h3.ErrorCode(code))
		return nil

	default:
		return fmt.Errorf("line %d: unknown command %q", lineNo, cmd)
	}
}

func main() {
	flag.StringVar(&configFilePath, "config", "", "Path to the configuration file (JSON or TOML)")
	flag.StringVar(&scriptFilePath, "script", "-", "Path to the stream script, or - for stdin")
	flag.DurationVar(&settleTimeout, "settle-timeout", 5*time.Second, "How long to wait for streams to finish after the script ends")
	flag.Parse()

	if configFilePath == "" {
		fmt.Fprintln(os.Stderr, "Error: Configuration file path must be provided via -config flag.")
		flag.Usage()
		os.Exit(1)
	}

	absConfigPath, err := filepath.Abs(configFilePath)
	if err != nil {
		log.Fatalf("Error getting absolute path for config file %s: %v", configFilePath, err)
	}

	cfg, err := config.LoadConfig(absConfigPath)
	if err != nil {
		log.Fatalf("Failed to load configuration from %s: %v", absConfigPath, err)
	}

	appLogger, err := logger.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer appLogger.CloseLogFiles()

	handlerRegistry := server.NewHandlerRegistry()
	if err := handlerRegistry.Register("Echo", echo.New); err != nil {
		appLogger.Error("failed to register Echo handler factory", logger.LogFields{"error": err.Error()})
		os.Exit(1)
	}

	var routesToUse []config.Route
	if cfg.Routing != nil {
		routesToUse = cfg.Routing.Routes
	}
	appRouter, err := router.NewRouter(routesToUse, handlerRegistry, appLogger)
	if err != nil {
		appLogger.Error("failed to initialize router", logger.LogFields{"error": err.Error()})
		os.Exit(1)
	}

	limits := h3.Limits{
		Scheme:             cfg.Server.Scheme,
		MaxFieldSize:       cfg.Server.MaxHeaderFieldSize,
		MaxRequestLineSize: cfg.Server.MaxRequestLineSize,
	}
	engine := h3.NewEngine(limits, *cfg.Server.FieldSizeHardAbort, appLogger, appRouter.ServeStream)
	defer engine.Close()

	var scriptIn *os.File
	if scriptFilePath == "-" {
		scriptIn = os.Stdin
	} else {
		scriptIn, err = os.Open(scriptFilePath)
		if err != nil {
			log.Fatalf("Failed to open script %s: %v", scriptFilePath, err)
		}
		defer scriptIn.Close()
	}

	out := &syncWriter{w: bufio.NewWriter(os.Stdout)}
	sr := &scriptRunner{
		engine:  engine,
		out:     out,
		codec:   newHeaderCodec(),
		streams: make(map[uint64]*h3.Stream),
		doneChs: make(map[uint64]chan struct{}),
	}

	scanner := bufio.NewScanner(scriptIn)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if err := sr.runLine(lineNo, strings.TrimSpace(scanner.Text())); err != nil {
			log.Fatalf("Script error: %v", err)
		}
	}
	if err := scanner.Err(); err != nil {
		log.Fatalf("Failed to read script: %v", err)
	}

	deadline := time.After(settleTimeout)
	for id, done := range sr.doneChs {
		select {
		case <-done:
		case <-deadline:
			out.printf("stream=%d TIMEOUT state=%s\n", id, sr.streams[id].State())
		}
	}
}
