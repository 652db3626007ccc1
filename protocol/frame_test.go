package protocol

import (
	"bytes"
	"io"
	"testing"
)

type neverStop struct{}

func (neverStop) Load() bool { return false }

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	body := []byte("hello frame")

	if err := WriteFrame(&buf, body, neverStop{}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	got, err := ReadFrame(&buf, neverStop{})
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Fatalf("got %q, want %q", got, body)
	}
}

func TestReadFrameZeroLengthIsNoOp(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteLength(&buf, 0, neverStop{}); err != nil {
		t.Fatalf("WriteLength: %v", err)
	}

	got, err := ReadFrame(&buf, neverStop{})
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil body for zero-length frame, got %v", got)
	}
}

func TestReadExactPeerClosed(t *testing.T) {
	r := bytes.NewReader(nil)
	buf := make([]byte, 4)
	_, err := ReadExact(r, buf, neverStop{})
	if err != ErrPeerClosed {
		t.Fatalf("expected ErrPeerClosed, got %v", err)
	}
}

func TestReadExactPartialThenClosed(t *testing.T) {
	r := io.MultiReader(bytes.NewReader([]byte{1, 2}))
	buf := make([]byte, 4)
	_, err := ReadExact(r, buf, neverStop{})
	if err != ErrPeerClosed {
		t.Fatalf("expected ErrPeerClosed, got %v", err)
	}
}
