package protocol

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// Request is one inbound JSON-RPC message. A nil ID marks a
// notification.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the message expects no response.
func (r *Request) IsNotification() bool { return len(r.ID) == 0 }

// Response is one outbound JSON-RPC response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *ResponseError  `json:"error,omitempty"`
}

// serverNotification is an outbound server-to-client notification.
type serverNotification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Transport frames JSON-RPC messages with Content-Length headers over
// a stream. Reads are single-consumer (the router); writes are
// serialized internally and may come from any actor.
type Transport struct {
	reader *bufio.Reader

	writeMu sync.Mutex
	writer  io.Writer

	closer io.Closer
	closed atomic.Bool
}

// NewTransport creates a transport over the given stream. closer may
// be nil for streams that need no explicit close (stdio).
func NewTransport(r io.Reader, w io.Writer, c io.Closer) *Transport {
	return &Transport{
		reader: bufio.NewReaderSize(r, 64*1024),
		writer: w,
		closer: c,
	}
}

// Read blocks until the next inbound message arrives and returns it.
// It returns ErrClosed after Close, and io.EOF when the client hangs
// up.
func (t *Transport) Read() (*Request, error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}

	body, err := t.readMessage()
	if err != nil {
		if t.closed.Load() {
			return nil, ErrClosed
		}
		return nil, err
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}
	return &req, nil
}

// Reply sends a successful response for the given request ID.
func (t *Transport) Reply(id json.RawMessage, result any) error {
	return t.send(&Response{JSONRPC: "2.0", ID: id, Result: result})
}

// ReplyError sends an error response for the given request ID.
func (t *Transport) ReplyError(id json.RawMessage, code int, message string) error {
	return t.send(&Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &ResponseError{Code: code, Message: message},
	})
}

// Notify sends a server-to-client notification.
func (t *Transport) Notify(method string, params any) error {
	return t.send(&serverNotification{JSONRPC: "2.0", Method: method, Params: params})
}

// Close closes the transport. Pending Read calls fail with ErrClosed
// once the underlying stream unblocks.
func (t *Transport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	if t.closer != nil {
		return t.closer.Close()
	}
	return nil
}

// IsClosed reports whether Close has been called.
func (t *Transport) IsClosed() bool { return t.closed.Load() }

// send writes a message with the LSP Content-Length header.
func (t *Transport) send(msg any) error {
	if t.closed.Load() {
		return ErrClosed
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if _, err := fmt.Fprintf(t.writer, "Content-Length: %d\r\n\r\n", len(data)); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := t.writer.Write(data); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	return nil
}

// readMessage reads one framed message body.
func (t *Transport) readMessage() ([]byte, error) {
	var contentLength int
	for {
		line, err := t.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			break // end of headers
		}
		if strings.HasPrefix(strings.ToLower(line), "content-length:") {
			parts := strings.SplitN(line, ":", 2)
			if len(parts) == 2 {
				if n, err := strconv.Atoi(strings.TrimSpace(parts[1])); err == nil {
					contentLength = n
				}
			}
		}
		// Content-Type and other headers are ignored.
	}

	if contentLength <= 0 {
		return nil, ErrMissingLength
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(t.reader, body); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}
