package srp

import (
	"bytes"
	"testing"
)

func TestSRP_HappyPath(t *testing.T) {
	identity := []byte("alice")
	password := []byte("correct horse battery staple")

	salt, verifier, err := NewVerifier(identity, password)
	if err != nil {
		t.Fatalf("NewVerifier() error = %v", err)
	}

	client := NewClient(identity, password)
	A := client.Credentials()

	server, err := NewServer(salt, verifier, A)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}

	gotSalt, B := server.Challenge()
	if !bytes.Equal(gotSalt, salt) {
		t.Fatalf("Challenge() salt mismatch")
	}

	M, err := client.ProcessChallenge(gotSalt, B)
	if err != nil {
		t.Fatalf("ProcessChallenge() error = %v", err)
	}

	HAMK, ok := server.VerifySession(M)
	if !ok {
		t.Fatalf("server VerifySession() = false, want true")
	}

	if !client.VerifySession(HAMK) {
		t.Fatalf("client VerifySession() = false, want true")
	}

	if !bytes.Equal(client.SessionKey(), server.SessionKey()) {
		t.Fatalf("session keys differ: client=%x server=%x", client.SessionKey(), server.SessionKey())
	}
}

func TestSRP_WrongPasswordFailsVerification(t *testing.T) {
	identity := []byte("bob")
	salt, verifier, err := NewVerifier(identity, []byte("realpassword"))
	if err != nil {
		t.Fatalf("NewVerifier() error = %v", err)
	}

	client := NewClient(identity, []byte("wrongpassword"))
	server, err := NewServer(salt, verifier, client.Credentials())
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}

	gotSalt, B := server.Challenge()
	M, err := client.ProcessChallenge(gotSalt, B)
	if err != nil {
		t.Fatalf("ProcessChallenge() error = %v", err)
	}

	if _, ok := server.VerifySession(M); ok {
		t.Fatalf("server VerifySession() = true for wrong password, want false")
	}
}

func TestNewServer_RejectsDegenerateA(t *testing.T) {
	identity := []byte("carol")
	salt, verifier, err := NewVerifier(identity, []byte("pw"))
	if err != nil {
		t.Fatalf("NewVerifier() error = %v", err)
	}

	if _, err := NewServer(salt, verifier, N); err != ErrChallenge {
		t.Fatalf("NewServer() with A=N error = %v, want ErrChallenge", err)
	}
}
