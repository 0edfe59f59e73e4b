package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/vuxtra/mcp-jive/internal/protocol"
)

// maxFrameSize bounds one line-delimited JSON-RPC frame.
const maxFrameSize = 10 * 1024 * 1024

// StdioServer speaks line-delimited JSON-RPC on stdin/stdout. Stdout
// carries nothing but response frames; all logging goes to stderr.
type StdioServer struct {
	handler *protocol.Handler
	logger  *logrus.Logger
	in      io.Reader
	out     io.Writer

	writeMu sync.Mutex
}

// NewStdioServer creates a stdio transport over the given handler.
func NewStdioServer(handler *protocol.Handler, log *logrus.Logger) *StdioServer {
	return &StdioServer{handler: handler, logger: log, in: os.Stdin, out: os.Stdout}
}

// NewStdioServerIO creates a stdio transport over explicit streams, for
// tests.
func NewStdioServerIO(handler *protocol.Handler, log *logrus.Logger, in io.Reader, out io.Writer) *StdioServer {
	return &StdioServer{handler: handler, logger: log, in: in, out: out}
}

// Run reads frames until EOF or context cancellation. Each request is
// handled in its own goroutine; responses are serialized onto the output
// stream.
func (s *StdioServer) Run(ctx context.Context) error {
	s.logger.Info("stdio transport ready")

	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 64*1024), maxFrameSize)

	var wg sync.WaitGroup
	for scanner.Scan() {
		if ctx.Err() != nil {
			break
		}
		line := make([]byte, len(scanner.Bytes()))
		copy(line, scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		wg.Add(1)
		go func(frame []byte) {
			defer wg.Done()
			resp := s.handler.HandleRaw(ctx, frame, protocol.TransportMeta{})
			if resp == nil {
				return
			}
			s.writeFrame(resp)
		}(line)
	}
	wg.Wait()

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stdin read failed: %w", err)
	}
	s.logger.Info("stdio transport closed")
	return nil
}

func (s *StdioServer) writeFrame(frame []byte) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.out.Write(append(frame, '\n')); err != nil {
		s.logger.WithError(err).Error("Failed to write response frame")
	}
}
