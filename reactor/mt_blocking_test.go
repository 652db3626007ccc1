package reactor

import (
	"sync"
	"testing"
	"time"

	"matrixrpc/message"
	"matrixrpc/testclient"
)

func TestMTBlockingMultiplyRoundTrip(t *testing.T) {
	cfg := Config{ListeningAddress: "127.0.0.1", Port: freePort(t), ThreadLimit: 4}
	addr, stop := startReactor(t, MTBlocking, cfg)
	defer stop()

	c, err := testclient.Dial(addr, time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	req := message.MatrixOpRequest{
		Op:   message.MUL,
		Args: []message.Matrix{{Rows: 1, Columns: 2, Content: []float32{1, 2}}, {Rows: 2, Columns: 1, Content: []float32{3, 4}}},
	}
	resp, err := c.Call(req)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp.Result == nil || resp.Result.Content[0] != 11 {
		t.Fatalf("resp = %+v, want Content[0]=11", resp)
	}
}

// TestMTBlockingBoundedConcurrency drives thread_limit+1 simultaneous
// clients against a pool bounded to thread_limit. It substitutes
// dispatchFunc with a wrapper that blocks on a test-controlled channel, so
// concurrency is measured at the point the server is actually servicing a
// request — inside the worker holding its pool slot — rather than at
// TCP-connect time on the client side. It asserts that at most
// thread_limit requests ever reach the handler concurrently, and that the
// (thread_limit+1)th client's request has not reached the handler at all
// while the pool is full.
func TestMTBlockingBoundedConcurrency(t *testing.T) {
	const threadLimit = 4
	const clientCount = 5

	var mu sync.Mutex
	inHandler := 0
	maxInHandler := 0
	release := make(chan struct{})

	realDispatch := dispatchFunc
	dispatchFunc = func(body []byte) ([]byte, bool) {
		mu.Lock()
		inHandler++
		if inHandler > maxInHandler {
			maxInHandler = inHandler
		}
		mu.Unlock()

		<-release

		mu.Lock()
		inHandler--
		mu.Unlock()

		return realDispatch(body)
	}
	defer func() { dispatchFunc = realDispatch }()

	cfg := Config{ListeningAddress: "127.0.0.1", Port: freePort(t), ThreadLimit: threadLimit}
	addr, stop := startReactor(t, MTBlocking, cfg)
	defer stop()

	var wg sync.WaitGroup
	for i := 0; i < clientCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := testclient.Dial(addr, 2*time.Second)
			if err != nil {
				t.Errorf("Dial: %v", err)
				return
			}
			defer c.Close()

			req := message.MatrixOpRequest{
				Op:   message.MUL,
				Args: []message.Matrix{{Rows: 1, Columns: 1, Content: []float32{1}}, {Rows: 1, Columns: 1, Content: []float32{1}}},
			}
			if _, err := c.Call(req); err != nil {
				t.Errorf("Call: %v", err)
			}
		}()
	}

	// Wait for exactly thread_limit requests to pile up inside the
	// handler; that's the pool full.
	deadline := time.Now().Add(3 * time.Second)
	for {
		mu.Lock()
		n := inHandler
		mu.Unlock()
		if n == threadLimit {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("inHandler never reached thread_limit=%d (last seen %d)", threadLimit, n)
		}
		time.Sleep(5 * time.Millisecond)
	}

	// The pool is now full. Give the 5th client every chance to be served
	// anyway and confirm it stays queued outside the handler instead.
	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	stillFull := inHandler
	mu.Unlock()
	if stillFull != threadLimit {
		t.Fatalf("inHandler = %d while pool should be saturated at thread_limit=%d; 5th client was served early", stillFull, threadLimit)
	}

	close(release)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if maxInHandler > threadLimit {
		t.Fatalf("maxInHandler = %d, want <= %d", maxInHandler, threadLimit)
	}
}
