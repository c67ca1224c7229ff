package mpi

import (
	"net"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	cases := []struct {
		name    string
		tag     int32
		payload []byte
	}{
		{"empty payload", 7, []byte{}},
		{"small payload", AnyTag, []byte("hello")},
		{"zero user tag", 0, []byte{1, 2, 3, 4}},
		{"large payload", 42, make([]byte, 3*maxRecvChunk+17)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server, client := net.Pipe()
			defer server.Close()
			defer client.Close()

			errCh := make(chan error, 1)
			go func() { errCh <- sendFrame(client, tc.tag, tc.payload) }()

			got, err := recvFrame(server)
			if err != nil {
				t.Fatalf("recvFrame: %v", err)
			}
			if err := <-errCh; err != nil {
				t.Fatalf("sendFrame: %v", err)
			}
			if got.Tag != tc.tag {
				t.Fatalf("tag = %d, want %d", got.Tag, tc.tag)
			}
			if len(got.Payload) != len(tc.payload) {
				t.Fatalf("payload length = %d, want %d", len(got.Payload), len(tc.payload))
			}
			for i := range tc.payload {
				if got.Payload[i] != tc.payload[i] {
					t.Fatalf("payload[%d] = %d, want %d", i, got.Payload[i], tc.payload[i])
				}
			}
		})
	}
}

func TestFrameBarrierTagIsHeaderOnly(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	errCh := make(chan error, 1)
	go func() { errCh <- sendFrame(client, BarrierTag, []byte("ignored")) }()

	got, err := recvFrame(server)
	if err != nil {
		t.Fatalf("recvFrame: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("sendFrame: %v", err)
	}
	if got.Tag != BarrierTag {
		t.Fatalf("tag = %d, want %d", got.Tag, BarrierTag)
	}
	if len(got.Payload) != 0 {
		t.Fatalf("barrier frame carried a payload: %v", got.Payload)
	}
}

func TestRecvNSocketClosedMidFrame(t *testing.T) {
	server, client := net.Pipe()
	go func() {
		client.Write([]byte{1, 2, 3})
		client.Close()
	}()
	if _, err := recvN(server, 10); err != ErrSocketClosed {
		t.Fatalf("err = %v, want ErrSocketClosed", err)
	}
}
