package notify

import (
	"net"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func TestClient_NoSocketIsNoop(t *testing.T) {
	c := &Client{socket: ""}
	if err := c.Ready(); err != nil {
		t.Errorf("Ready without socket should be a no-op, got %v", err)
	}
	if err := c.Stopping(); err != nil {
		t.Errorf("Stopping without socket should be a no-op, got %v", err)
	}
	if err := c.Status("idle"); err != nil {
		t.Errorf("Status without socket should be a no-op, got %v", err)
	}
}

func TestClient_SendsDatagrams(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unixgram sockets not supported on windows")
	}

	sockPath := filepath.Join(t.TempDir(), "notify.sock")
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: sockPath, Net: "unixgram"})
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	defer func() {
		_ = conn.Close()
	}()

	c := &Client{socket: sockPath}
	if err := c.Ready(); err != nil {
		t.Fatalf("Ready failed: %v", err)
	}
	if err := c.Status("last cycle: created=1"); err != nil {
		t.Fatalf("Status failed: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 256)

	n, _, err := conn.ReadFrom(buf)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(buf[:n]) != "READY=1" {
		t.Errorf("expected READY=1, got %q", buf[:n])
	}

	n, _, err = conn.ReadFrom(buf)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(buf[:n]) != "STATUS=last cycle: created=1" {
		t.Errorf("unexpected status datagram: %q", buf[:n])
	}
}

func TestClient_DeadSocket(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unixgram sockets not supported on windows")
	}

	c := &Client{socket: filepath.Join(t.TempDir(), "missing.sock")}
	if err := c.Ready(); err == nil {
		t.Error("expected error for unreachable notify socket")
	}
}
