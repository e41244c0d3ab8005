package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"
)

// ============================================================================
// IPC Server - Unix Domain Socket Interface
// ============================================================================
// Protocol: line-delimited JSON
//   - Client sends: {"type": "reset"} or {"type": "status"}
//   - Server responds: {"status": "ok", "data": ...} or {"status": "error", "error": "msg"}
// ============================================================================

// ipcRequestTimeout bounds the round trip through the daemon loop.
const ipcRequestTimeout = time.Second

// IPCRequest is one client command.
type IPCRequest struct {
	Type string `json:"type"`
}

// IPCResponse represents the response sent back to IPC clients.
type IPCResponse struct {
	Status string `json:"status"`          // "ok" or "error"
	Error  string `json:"error,omitempty"` // error message if status == "error"
	Data   any    `json:"data,omitempty"`
}

// runIPCServer serves the control socket until ctx is canceled.
func runIPCServer(ctx context.Context, socketPath string, requests chan<- daemonRequest, logger *slog.Logger) error {
	// Remove a stale socket left by a previous run.
	if err := os.RemoveAll(socketPath); err != nil {
		return fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	defer listener.Close()
	defer os.Remove(socketPath)

	if err := os.Chmod(socketPath, 0660); err != nil {
		return fmt.Errorf("chmod socket: %w", err)
	}

	logger.Info("IPC listening", "socket", socketPath)

	// Close the listener on shutdown. This unblocks Accept().
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				logger.Debug("IPC listener closed")
				return nil
			}
			logger.Error("IPC accept error", "error", err)
			continue
		}

		go handleIPCConnection(ctx, conn, requests, logger)
	}
}

// handleIPCConnection serves one client until it disconnects.
func handleIPCConnection(ctx context.Context, conn net.Conn, requests chan<- daemonRequest, logger *slog.Logger) {
	defer conn.Close()

	logger.Debug("IPC connection", "remote_addr", conn.RemoteAddr())

	scanner := bufio.NewScanner(conn)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		line := scanner.Bytes()
		logger.Debug("IPC received", "line", string(line))

		resp := handleIPCLine(ctx, line, requests)
		if err := encoder.Encode(resp); err != nil {
			logger.Error("IPC failed to send response", "error", err)
			return
		}
	}

	logger.Debug("IPC connection closed")
}

func handleIPCLine(ctx context.Context, line []byte, requests chan<- daemonRequest) IPCResponse {
	var req IPCRequest
	if err := json.Unmarshal(line, &req); err != nil {
		return ipcError(fmt.Errorf("parse request: %w", err))
	}

	ctx, cancel := context.WithTimeout(ctx, ipcRequestTimeout)
	defer cancel()

	switch req.Type {
	case "reset":
		if err := requestReset(ctx, requests); err != nil {
			return ipcError(fmt.Errorf("reset: %w", err))
		}
		return IPCResponse{Status: "ok"}

	case "status":
		st, err := requestStatus(ctx, requests)
		if err != nil {
			return ipcError(fmt.Errorf("status: %w", err))
		}
		return IPCResponse{Status: "ok", Data: st}

	default:
		return ipcError(fmt.Errorf("unknown request type %q", req.Type))
	}
}

func ipcError(err error) IPCResponse {
	return IPCResponse{Status: "error", Error: err.Error()}
}
