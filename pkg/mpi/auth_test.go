package mpi

import (
	"net"
	"testing"
)

func TestAuthHandshakeMatchingKeysSucceeds(t *testing.T) {
	var key Authkey
	for i := range key {
		key[i] = byte(i)
	}

	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	serverErr := make(chan error, 1)
	go func() { serverErr <- authServer(server, key) }()

	if err := authClient(client, key); err != nil {
		t.Fatalf("authClient: %v", err)
	}
	if err := <-serverErr; err != nil {
		t.Fatalf("authServer: %v", err)
	}
}

func TestAuthHandshakeMismatchedKeysFails(t *testing.T) {
	var serverKey, clientKey Authkey
	for i := range serverKey {
		serverKey[i] = byte(i)
		clientKey[i] = byte(i + 1)
	}

	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	serverErr := make(chan error, 1)
	go func() { serverErr <- authServer(server, serverKey) }()

	clientErr := authClient(client, clientKey)
	if clientErr == nil {
		t.Fatal("authClient: expected error for mismatched authkey, got nil")
	}
	if err := <-serverErr; err == nil {
		t.Fatal("authServer: expected error for mismatched authkey, got nil")
	}
}
