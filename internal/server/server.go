// Package server implements the Request Server: a newline-delimited
// JSON protocol over a local Unix stream socket. Each connection reads
// one whitespace-prefixed command line, dispatches it, and writes one
// JSON response line back, on a goroutine drawn from a bounded pool.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nixnav/nixnavd/internal/bookmark"
	"github.com/nixnav/nixnavd/internal/protocol"
	"github.com/nixnav/nixnavd/internal/scanner"
	"github.com/nixnav/nixnavd/internal/store"
)

const (
	readDeadline        = 5 * time.Second
	handlerDeadline     = 10 * time.Second
	longHandlerDeadline = 60 * time.Second // RESCAN, ADD_BOOKMARK

	defaultPoolSize = 64
)

// Deadlines holds the per-connection timeouts: how long a read may
// block, how long a normal handler may take, and how long the slow
// handlers (RESCAN, ADD_BOOKMARK) may take.
type Deadlines struct {
	Read    time.Duration
	Handler time.Duration
	Long    time.Duration // RESCAN, ADD_BOOKMARK
}

// DefaultDeadlines is 5s / 10s / 60s.
var DefaultDeadlines = Deadlines{Read: readDeadline, Handler: handlerDeadline, Long: longHandlerDeadline}

// Server accepts client connections on a Unix socket and dispatches
// each request to a handler drawn from a bounded worker pool.
type Server struct {
	socketPath string
	poolSize   int
	deadlines  Deadlines

	store     *store.Store
	bookmarks *bookmark.Registry
	scanner   *scanner.Scanner

	rescan AddWatcherFunc

	ln  net.Listener
	sem chan struct{}
	wg  sync.WaitGroup
}

// AddWatcherFunc is invoked after ADD_BOOKMARK registers a new root, so
// the daemon supervisor can start a live watcher on it. RESCAN does not
// call this; it only re-walks an already-watched bookmark.
type AddWatcherFunc func(bookmarkID uint64, path string) error

// New returns a Server bound to socketPath, not yet listening. poolSize
// bounds how many connections are handled concurrently; 0 uses
// defaultPoolSize. deadlines of zero fall back to DefaultDeadlines.
func New(socketPath string, st *store.Store, bookmarks *bookmark.Registry, sc *scanner.Scanner, onAddBookmark AddWatcherFunc, poolSize int, deadlines Deadlines) *Server {
	if poolSize <= 0 {
		poolSize = defaultPoolSize
	}
	if deadlines.Read == 0 {
		deadlines.Read = DefaultDeadlines.Read
	}
	if deadlines.Handler == 0 {
		deadlines.Handler = DefaultDeadlines.Handler
	}
	if deadlines.Long == 0 {
		deadlines.Long = DefaultDeadlines.Long
	}
	return &Server{
		socketPath: socketPath,
		poolSize:   poolSize,
		deadlines:  deadlines,
		store:      st,
		bookmarks:  bookmarks,
		scanner:    sc,
		rescan:     onAddBookmark,
		sem:        make(chan struct{}, poolSize),
	}
}

// Listen binds the Unix socket, unlinking a stale one first, and sets
// its permissions to 0600 so only the owning user can connect.
func (s *Server) Listen() error {
	if _, err := os.Stat(s.socketPath); err == nil {
		if rmErr := os.Remove(s.socketPath); rmErr != nil {
			return fmt.Errorf("server: unlink stale socket: %w", rmErr)
		}
	}

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", s.socketPath, err)
	}
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		ln.Close()
		return fmt.Errorf("server: chmod socket: %w", err)
	}
	s.ln = ln
	return nil
}

// Serve runs the accept loop until ctx is cancelled or the listener is
// closed. Each accepted connection is handled on its own goroutine,
// gated by a semaphore so at most poolSize run concurrently.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.ln.Close()
	}()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.wg.Wait()
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) {
				slog.Warn("server: accept error", "error", err)
				continue
			}
			return err
		}

		select {
		case s.sem <- struct{}{}:
		case <-ctx.Done():
			conn.Close()
			s.wg.Wait()
			return nil
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() { <-s.sem }()
			s.handleConn(conn)
		}()
	}
}

// Close stops accepting new connections, waits for in-flight handlers
// to finish, and removes the socket file.
func (s *Server) Close() error {
	if s.ln != nil {
		s.ln.Close()
	}
	s.wg.Wait()
	return os.Remove(s.socketPath)
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	reqID := uuid.NewString()

	if err := conn.SetReadDeadline(time.Now().Add(s.deadlines.Read)); err != nil {
		return
	}

	lineScanner := bufio.NewScanner(conn)
	lineScanner.Buffer(make([]byte, 4096), 1<<20)
	if !lineScanner.Scan() {
		return
	}
	line := strings.TrimSpace(lineScanner.Text())
	if line == "" {
		return
	}

	deadline := s.deadlines.Handler
	if strings.HasPrefix(line, "RESCAN") || strings.HasPrefix(line, "ADD_BOOKMARK") {
		deadline = s.deadlines.Long
	}

	ctx, cancel := context.WithTimeout(context.Background(), deadline)
	defer cancel()

	resp := s.dispatch(ctx, line, reqID)

	encoded, err := json.Marshal(resp)
	if err != nil {
		slog.Error("server: failed to marshal response", "request_id", reqID, "error", err)
		return
	}
	encoded = append(encoded, '\n')

	if err := conn.SetWriteDeadline(time.Now().Add(s.deadlines.Read)); err != nil {
		return
	}
	if _, err := conn.Write(encoded); err != nil {
		slog.Warn("server: write failed", "request_id", reqID, "error", err)
	}
}

// dispatch parses line's command and body, runs the matching handler,
// and always returns something JSON-marshalable: either the handler's
// result or a *protocol.Error.
func (s *Server) dispatch(ctx context.Context, line, reqID string) any {
	command, rest := splitCommand(line)

	var resp any
	var err error

	switch command {
	case "PING":
		resp = protocol.StatusResponse{Status: "pong"}

	case "STATS":
		resp = s.handleStats()

	case "SEARCH":
		resp, err = s.handleSearch(rest)

	case "SEARCH_ALL":
		resp, err = s.handleSearchAll(rest)

	case "RESCAN":
		resp, err = s.handleRescan(ctx, rest)

	case "ADD_BOOKMARK":
		resp, err = s.handleAddBookmark(ctx, rest)

	case "REMOVE_BOOKMARK":
		resp, err = s.handleRemoveBookmark(rest)

	default:
		err = protocol.NewError(protocol.KindBadRequest, "unknown command: "+command)
	}

	if err != nil {
		var protoErr *protocol.Error
		if errors.As(err, &protoErr) {
			slog.Debug("server: request failed", "request_id", reqID, "command", command, "kind", protoErr.Kind, "message", protoErr.Message)
			return protoErr
		}
		slog.Error("server: unexpected handler error", "request_id", reqID, "command", command, "error", err)
		return protocol.NewError(protocol.KindInternal, err.Error())
	}
	return resp
}

func (s *Server) lookupBookmarkRoot(name string) (string, bool) {
	bm, ok := s.bookmarks.ByName(name)
	if !ok {
		return "", false
	}
	return bm.Path, true
}

// splitCommand separates the leading whitespace-delimited command
// token from the remainder of the line.
func splitCommand(line string) (command, rest string) {
	idx := strings.IndexAny(line, " \t")
	if idx < 0 {
		return line, ""
	}
	return line[:idx], strings.TrimSpace(line[idx+1:])
}
