package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log"
)

// StdioTransport speaks line-delimited JSON-RPC on a reader/writer pair,
// one frame per line. It is single-threaded on purpose: processing one
// request at a time preserves frame ordering on the stream. Diagnostics go
// to the process logger (stderr), never to the frame stream.
type StdioTransport struct {
	server *Server
	in     io.Reader
	out    io.Writer
}

// NewStdioTransport wires the server to a stream pair (stdin/stdout in
// production, buffers in tests).
func NewStdioTransport(server *Server, in io.Reader, out io.Writer) *StdioTransport {
	return &StdioTransport{server: server, in: in, out: out}
}

// Run processes frames until EOF or context cancellation.
func (t *StdioTransport) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(t.in)
	scanner.Buffer(make([]byte, 1024*1024), 64*1024*1024)
	writer := bufio.NewWriter(t.out)
	encoder := json.NewEncoder(writer)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		resp := t.server.HandleRaw(ctx, line, "", "stdio")
		if err := encoder.Encode(resp); err != nil {
			return err
		}
		if err := writer.Flush(); err != nil {
			return err
		}
		if resp.Error != nil {
			log.Printf("stdio: %s failed with code %d: %s",
				frameMethod(line), resp.Error.Code, resp.Error.Message)
		}
	}
	return scanner.Err()
}

func frameMethod(line []byte) string {
	var probe struct {
		Method string `json:"method"`
	}
	if err := json.Unmarshal(line, &probe); err != nil || probe.Method == "" {
		return "<unparsed>"
	}
	return probe.Method
}
