package host

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"net"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/BlockscapeNetwork/nomic/ulogger"
)

// Server serves an Application on a TCP socket using a simple
// length-prefixed JSON framing: a big-endian uint32 byte count
// followed by exactly that many bytes of JSON request.
type Server struct {
	app *Application
	log ulogger.Logger
}

// NewServer builds a Server over app.
func NewServer(app *Application, log ulogger.Logger) *Server {
	return &Server{app: app, log: log}
}

// request is one framed call: Method names one of the five consensus
// callbacks, and Body is its method-specific JSON payload.
type request struct {
	Method string          `json:"method"`
	Body   json.RawMessage `json:"body"`
}

type response struct {
	Error string          `json:"error,omitempty"`
	Body  json.RawMessage `json:"body,omitempty"`
}

// Serve accepts connections on ln until ctx is done, handling each
// connection's frames sequentially: the state machine is single-
// threaded and synchronous, so connections are served one at a time
// rather than with a per-connection goroutine pool. The accept loop
// and the ctx-triggered listener close run under one errgroup so
// either side's error propagates into Serve's return value.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		return ln.Close()
	})

	g.Go(func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				select {
				case <-ctx.Done():
					return nil
				default:
					return err
				}
			}
			s.handleConn(ctx, conn)
		}
	})

	return g.Wait()
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	connLog := s.log.With(map[string]interface{}{"conn_id": uuid.NewString()})

	for {
		req, err := readFrame(conn)
		if err != nil {
			if err != io.EOF {
				connLog.Warnf("host: read frame: %v", err)
			}
			return
		}

		resp := s.dispatch(ctx, req)
		raw, err := json.Marshal(resp)
		if err != nil {
			connLog.Errorf("host: encode response: %v", err)
			return
		}
		if err := writeFrame(conn, raw); err != nil {
			connLog.Warnf("host: write frame: %v", err)
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, req request) response {
	switch req.Method {
	case "init_chain":
		var updates []ValidatorUpdate
		if err := json.Unmarshal(req.Body, &updates); err != nil {
			return errResponse(err)
		}
		if err := s.app.InitChain(ctx, updates); err != nil {
			return errResponse(err)
		}
		return response{}

	case "check_tx":
		var raw []byte
		if err := json.Unmarshal(req.Body, &raw); err != nil {
			return errResponse(err)
		}
		return resultResponse(s.app.CheckTx(ctx, raw))

	case "deliver_tx":
		var raw []byte
		if err := json.Unmarshal(req.Body, &raw); err != nil {
			return errResponse(err)
		}
		return resultResponse(s.app.DeliverTx(ctx, raw))

	case "begin_block":
		var header Header
		if err := json.Unmarshal(req.Body, &header); err != nil {
			return errResponse(err)
		}
		if err := s.app.BeginBlock(ctx, header); err != nil {
			return errResponse(err)
		}
		return response{}

	case "end_block":
		updates, err := s.app.EndBlock(ctx)
		if err != nil {
			return errResponse(err)
		}
		body, err := json.Marshal(updates)
		if err != nil {
			return errResponse(err)
		}
		return response{Body: body}

	default:
		return response{Error: "host: unknown method " + req.Method}
	}
}

func resultResponse(r Result) response {
	body, err := json.Marshal(r)
	if err != nil {
		return errResponse(err)
	}
	return response{Body: body}
}

func errResponse(err error) response {
	return response{Error: err.Error()}
}

func readFrame(r io.Reader) (request, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return request{}, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return request{}, err
	}
	var req request
	if err := json.Unmarshal(buf, &req); err != nil {
		return request{}, err
	}
	return req, nil
}

func writeFrame(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}
