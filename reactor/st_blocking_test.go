package reactor

import (
	"net"
	"testing"
	"time"

	"matrixrpc/codec"
	"matrixrpc/message"
	"matrixrpc/testclient"
)

func freePort(t *testing.T) uint16 {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find a free port: %v", err)
	}
	defer l.Close()
	return uint16(l.Addr().(*net.TCPAddr).Port)
}

func startReactor(t *testing.T, kind Kind, cfg Config) (addr string, stop func()) {
	t.Helper()
	r, err := New(kind, cfg)
	if err != nil {
		t.Fatalf("New(%s): %v", kind, err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- r.Run() }()

	addr = cfg.addr()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err == nil {
			conn.Close()
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	return addr, func() {
		r.Stop()
		select {
		case <-errCh:
		case <-time.After(2 * time.Second):
			t.Fatalf("reactor %s did not stop in time", kind)
		}
	}
}

func TestSTBlockingMultiplyRoundTrip(t *testing.T) {
	cfg := Config{ListeningAddress: "127.0.0.1", Port: freePort(t)}
	addr, stop := startReactor(t, STBlocking, cfg)
	defer stop()

	c, err := testclient.Dial(addr, time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	req := message.MatrixOpRequest{
		Op: message.MUL,
		Args: []message.Matrix{
			{Rows: 2, Columns: 2, Content: []float32{1, 2, 3, 4}},
			{Rows: 2, Columns: 2, Content: []float32{1, 2, 3, 4}},
		},
	}
	resp, err := c.Call(req)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp.Result == nil {
		t.Fatalf("expected a result, got error %q", resp.Error)
	}
	want := []float32{7, 10, 15, 22}
	if len(resp.Result.Content) != len(want) {
		t.Fatalf("content = %v, want %v", resp.Result.Content, want)
	}
	for i := range want {
		if resp.Result.Content[i] != want[i] {
			t.Fatalf("content = %v, want %v", resp.Result.Content, want)
		}
	}
}

func TestSTBlockingZeroLengthIsNoOp(t *testing.T) {
	cfg := Config{ListeningAddress: "127.0.0.1", Port: freePort(t), Keepalive: true}
	addr, stop := startReactor(t, STBlocking, cfg)
	defer stop()

	c, err := testclient.Dial(addr, time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	if err := c.SendRaw(nil); err != nil {
		t.Fatalf("SendRaw(nil): %v", err)
	}

	req := message.MatrixOpRequest{
		Op:   message.MUL,
		Args: []message.Matrix{{Rows: 1, Columns: 1, Content: []float32{2}}, {Rows: 1, Columns: 1, Content: []float32{3}}},
	}
	resp, err := c.Call(req)
	if err != nil {
		t.Fatalf("Call after no-op: %v", err)
	}
	if resp.Result == nil || resp.Result.Content[0] != 6 {
		t.Fatalf("resp = %+v, want Content[0]=6", resp)
	}
}

func TestSTBlockingJunkBytesClosesConnection(t *testing.T) {
	cfg := Config{ListeningAddress: "127.0.0.1", Port: freePort(t)}
	addr, stop := startReactor(t, STBlocking, cfg)
	defer stop()

	c, err := testclient.Dial(addr, time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	if err := c.SendRaw([]byte("qqq")); err != nil {
		t.Fatalf("SendRaw: %v", err)
	}
	body, err := c.RecvRaw()
	if err != nil {
		t.Fatalf("RecvRaw: %v", err)
	}
	env, err := codec.Decode(body)
	if err != nil {
		t.Fatalf("response envelope should decode: %v", err)
	}
	if env.ProcID != message.Invalid {
		t.Fatalf("expected Invalid proc_id, got %d", env.ProcID)
	}
	if string(env.Payload) != "Corrupted matrix_service::Procedure protobuf!" {
		t.Fatalf("payload = %q", env.Payload)
	}

	if err := c.SendRaw([]byte("more")); err == nil {
		if _, err := c.RecvRaw(); err == nil {
			t.Fatalf("expected connection to be closed after a protocol-level failure")
		}
	}
}

func TestSTBlockingKeepaliveFalseClosesAfterOneRequest(t *testing.T) {
	cfg := Config{ListeningAddress: "127.0.0.1", Port: freePort(t), Keepalive: false}
	addr, stop := startReactor(t, STBlocking, cfg)
	defer stop()

	c, err := testclient.Dial(addr, time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	req := message.MatrixOpRequest{
		Op:   message.MUL,
		Args: []message.Matrix{{Rows: 1, Columns: 1, Content: []float32{1}}, {Rows: 1, Columns: 1, Content: []float32{1}}},
	}
	if _, err := c.Call(req); err != nil {
		t.Fatalf("Call: %v", err)
	}

	if err := c.SendRaw([]byte("x")); err == nil {
		if _, err := c.RecvRaw(); err == nil {
			t.Fatalf("expected the connection to be closed when keepalive is false")
		}
	}
}
