package ipc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"sentinel.io/infrastructure/logger"
)

const (
	// Owner and group may read/write the socket; everyone else is kept out.
	socketMode = 0o660

	connIdleTimeout = 5 * time.Minute

	// Large enough for any request line including base64 frame payloads.
	maxLineBytes = 4 << 20
)

// SocketPath resolves the daemon socket path, overridable through
// SENTINEL_SOCKET_PATH.
func SocketPath() string {
	if path := os.Getenv("SENTINEL_SOCKET_PATH"); path != "" {
		return path
	}
	return "/run/sentinel/sentinel.sock"
}

// Server accepts unix-socket connections and dispatches newline-delimited
// JSON-RPC requests to the service.
type Server struct {
	service  *Service
	methods  map[string]handler
	listener net.Listener
	path     string
}

// NewServer binds the unix socket at path, replacing any stale socket
// file, and restricts it to owner+group.
func NewServer(service *Service, path string) (*Server, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create socket dir: %w", err)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("bind socket: %w", err)
	}
	if err := os.Chmod(path, socketMode); err != nil {
		logger.Warning("could not chmod socket", logger.LoggerOptions{
			Key:  "error",
			Data: err.Error(),
		})
	}

	return &Server{
		service:  service,
		methods:  service.handlers(),
		listener: listener,
		path:     path,
	}, nil
}

// Serve runs the accept loop until Close. Each connection gets its own
// goroutine; serialization happens at dispatch, not accept.
func (srv *Server) Serve() error {
	logger.Info("daemon listening", logger.LoggerOptions{
		Key:  "socket",
		Data: srv.path,
	})
	for {
		conn, err := srv.listener.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return err
		}
		go srv.handleConn(conn)
	}
}

// Close stops accepting and removes the socket file.
func (srv *Server) Close() {
	srv.listener.Close()
	os.Remove(srv.path)
}

func (srv *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	encoder := json.NewEncoder(conn)

	for {
		conn.SetDeadline(time.Now().Add(connIdleTimeout))
		if !scanner.Scan() {
			return
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		response, reply := srv.dispatch(line)
		if !reply {
			continue
		}
		if err := encoder.Encode(response); err != nil {
			return
		}
	}
}

// dispatch handles one request line. reply is false for notifications
// (requests without an id), which get no response.
func (srv *Server) dispatch(line []byte) (Response, bool) {
	var request Request
	if err := json.Unmarshal(line, &request); err != nil {
		return errorResponse(nil, CodeParseError, "Parse error"), true
	}
	if len(request.ID) == 0 || string(request.ID) == "null" {
		return Response{}, false
	}

	method, ok := srv.methods[request.Method]
	if !ok {
		return errorResponse(request.ID, CodeMethodNotFound,
			fmt.Sprintf("Method %q not found", request.Method)), true
	}

	result, err := srv.invoke(request.Method, method, request.Params)
	if err != nil {
		logger.Error("rpc method failed", logger.LoggerOptions{
			Key: "rpc",
			Data: map[string]interface{}{
				"method": request.Method,
				"error":  err.Error(),
			},
		})
		return errorResponse(request.ID, CodeInternalError, err.Error()), true
	}
	return resultResponse(request.ID, result), true
}

// invoke runs a handler, converting a panic into an error so one bad
// request cannot take the daemon down with it. The camera and session
// state are not safe for concurrent frame access; everything but status
// serializes on one lock.
func (srv *Server) invoke(name string, method handler, params json.RawMessage) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("rpc method panicked", logger.LoggerOptions{
				Key: "rpc",
				Data: map[string]interface{}{
					"method": name,
					"panic":  fmt.Sprintf("%v", r),
				},
			})
			err = fmt.Errorf("internal error: %v", r)
		}
	}()
	if name == "status" {
		return method(params)
	}
	srv.service.mu.Lock()
	defer srv.service.mu.Unlock()
	return method(params)
}
