// Package srp implements SRP-6a authentication (spec.md §4.5/§6), bound
// by the login protocol's surrounding HMAC check rather than by itself.
// Grounded on the structure of the SRP-6a reference implementation in the
// retrieval pack (Tomsons-go-srp's srp.go), adapted to the hex-over-JSON
// transport this protocol requires and to the fixed SHA-1/2048-bit RFC
// 5054 group spec.md §6 calls for.
package srp

import (
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
)

// ErrChallenge is returned when a challenge round produces a degenerate
// value (A, B or u congruent to 0 mod N) — spec.md §4.5's "err CHALLENGE
// if s or B null" and the SRP abort safeguards.
var ErrChallenge = errors.New("srp: challenge failed")

// ErrVerification is returned when the client's proof M does not match
// what the server independently computes.
var ErrVerification = errors.New("srp: verification failed")

// saltSize is the length, in bytes, of a freshly generated salt.
const saltSize = 16

// N and g are the RFC 5054 2048-bit group, the "library defaults" spec.md
// §6 calls for.
var (
	N, _ = new(big.Int).SetString(
		"AC6BDB41324A9A9BF166DE5E1389582FAF72B6651987EE07FC3192943DB56050A37329CBB4A099ED8193E0757767A13DD52312AB4B03310DCD7F48A9DA04FD50E8083969EDB767B0CF6095179A163AB3661A05FBD5FAAAE82918A9962F0B93B855F97993EC975EEAA80D740ADBF4FF747359D041D5C33EA71D281E446B14773BCA97B43A23FB801676BD207A436C6481F1D2B9078717461A5B9D32E688F87748544523B524B0D57D5EA77A2775D2ECFA032CFBDBF52FB3786160279004E57AE6AF874E7303CE53299CCC041C7BC308D82A5698F3A8D0C38271AE35F8E9DBFBB694B5C803D89F7AE435DE236D525F54759B65E372FCD68EF20FA7111F9E4AFF73",
		16)
	g = big.NewInt(2)

	// k is the SRP-6a multiplier parameter, k = H(N, pad(g)) per RFC 5054.
	k = computeK()
)

func computeK() *big.Int {
	return hashToInt(N.Bytes(), pad(g, len(N.Bytes())))
}

// pad left-pads x's big-endian bytes to n bytes.
func pad(x *big.Int, n int) []byte {
	b := x.Bytes()
	if len(b) >= n {
		return b
	}
	out := make([]byte, n)
	copy(out[n-len(b):], b)
	return out
}

func hashToInt(parts ...[]byte) *big.Int {
	h := sha1.New()
	for _, p := range parts {
		h.Write(p)
	}
	return new(big.Int).SetBytes(h.Sum(nil))
}

func randBigInt(bits int) *big.Int {
	b := make([]byte, (bits+7)/8)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("srp: read random bytes: %v", err))
	}
	return new(big.Int).SetBytes(b)
}

// NewVerifier derives the salt s and password verifier v for identity I
// under password p, to be stored by the responder keyed on I. Computed
// as x = H(s, I, p); v = g^x mod N.
func NewVerifier(identity, password []byte) (salt []byte, verifier *big.Int, err error) {
	salt = make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, nil, fmt.Errorf("srp: generate salt: %w", err)
	}
	x := hashToInt(salt, identity, password)
	v := new(big.Int).Exp(g, x, N)
	return salt, v, nil
}

// Client holds the initiator's ephemeral SRP-6a state across one login
// attempt.
type Client struct {
	identity []byte
	password []byte

	a *big.Int // ephemeral private
	A *big.Int // ephemeral public
	B *big.Int // server's ephemeral public, set by ProcessChallenge

	key []byte // session key, set by ProcessChallenge
	m   []byte // own proof M, set by ProcessChallenge
}

// NewClient begins a client-side SRP-6a exchange for identity under
// password. The returned Client's Credentials() is the value to send as
// the login protocol's first RESP (A, hex-encoded).
func NewClient(identity, password []byte) *Client {
	a := randBigInt(256)
	A := new(big.Int).Exp(g, a, N)
	return &Client{identity: identity, password: password, a: a, A: A}
}

// Credentials returns the client's ephemeral public value A.
func (c *Client) Credentials() *big.Int {
	return c.A
}

// ProcessChallenge consumes the server's (salt, B) challenge and returns
// the client's proof M. It fails with ErrChallenge if B or the derived
// scrambling parameter u is degenerate (congruent to 0 mod N).
func (c *Client) ProcessChallenge(salt []byte, B *big.Int) ([]byte, error) {
	if new(big.Int).Mod(B, N).Sign() == 0 {
		return nil, ErrChallenge
	}

	u := hashToInt(pad(c.A, len(N.Bytes())), pad(B, len(N.Bytes())))
	if u.Sign() == 0 {
		return nil, ErrChallenge
	}

	x := hashToInt(salt, c.identity, c.password)

	// S = (B - k*g^x) ^ (a + u*x) mod N
	kgx := new(big.Int).Mul(k, new(big.Int).Exp(g, x, N))
	base := new(big.Int).Sub(B, kgx)
	base.Mod(base, N)

	exp := new(big.Int).Mul(u, x)
	exp.Add(exp, c.a)

	S := new(big.Int).Exp(base, exp, N)

	key := sha1.Sum(S.Bytes())
	c.key = key[:]
	c.B = B
	c.m = clientProof(c.A, B, c.key)

	return c.m, nil
}

// VerifySession reports whether HAMK matches the server's expected proof
// of the shared session key. SessionKey() must not be trusted until this
// returns true.
func (c *Client) VerifySession(HAMK []byte) bool {
	if c.key == nil {
		return false
	}
	expected := serverProof(c.A, c.m, c.key)
	return subtle.ConstantTimeCompare(HAMK, expected) == 1
}

// SessionKey returns the derived session key, valid once ProcessChallenge
// has run.
func (c *Client) SessionKey() []byte {
	return c.key
}

// Server holds the responder's ephemeral SRP-6a state for one login
// attempt, built from a stored (salt, verifier) pair and the client's A.
type Server struct {
	salt     []byte
	verifier *big.Int
	A        *big.Int

	b *big.Int
	B *big.Int

	key []byte

	expectedM []byte
}

// NewServer begins a server-side SRP-6a exchange given the stored salt
// and verifier for the claimed identity and the client's ephemeral public
// value A. It fails with ErrChallenge if A is degenerate.
func NewServer(salt []byte, verifier, A *big.Int) (*Server, error) {
	if new(big.Int).Mod(A, N).Sign() == 0 {
		return nil, ErrChallenge
	}

	b := randBigInt(256)

	// B = (k*v + g^b) mod N
	kv := new(big.Int).Mul(k, verifier)
	gb := new(big.Int).Exp(g, b, N)
	B := new(big.Int).Add(kv, gb)
	B.Mod(B, N)

	s := &Server{salt: salt, verifier: verifier, A: A, b: b, B: B}

	u := hashToInt(pad(A, len(N.Bytes())), pad(B, len(N.Bytes())))
	if u.Sign() == 0 {
		return nil, ErrChallenge
	}

	// S = (A * v^u) ^ b mod N
	vu := new(big.Int).Exp(verifier, u, N)
	base := new(big.Int).Mul(A, vu)
	base.Mod(base, N)
	S := new(big.Int).Exp(base, b, N)

	key := sha1.Sum(S.Bytes())
	s.key = key[:]
	s.expectedM = clientProof(A, B, s.key)

	return s, nil
}

// Challenge returns the (salt, B) pair to send back to the client.
func (s *Server) Challenge() ([]byte, *big.Int) {
	return s.salt, s.B
}

// VerifySession checks the client's proof M against the server's
// independently computed expectation and, on success, returns the
// server's own proof HAMK. On failure it returns (nil, false) and the
// session key must not be used.
func (s *Server) VerifySession(M []byte) (HAMK []byte, ok bool) {
	if subtle.ConstantTimeCompare(M, s.expectedM) != 1 {
		return nil, false
	}
	return serverProof(s.A, M, s.key), true
}

// SessionKey returns the derived session key, valid once VerifySession
// has returned true.
func (s *Server) SessionKey() []byte {
	return s.key
}

// clientProof computes M = H(A, B, K), the client's proof of the shared
// key; the client and the server (for its expected M) both call it with
// the same A, B and K. A nil B is skipped.
func clientProof(A, B *big.Int, key []byte) []byte {
	h := sha1.New()
	h.Write(A.Bytes())
	if B != nil {
		h.Write(B.Bytes())
	}
	h.Write(key)
	return h.Sum(nil)
}

// serverProof computes HAMK = H(A, M, K), the server's proof-of-session.
func serverProof(A *big.Int, M, key []byte) []byte {
	h := sha1.New()
	h.Write(A.Bytes())
	h.Write(M)
	h.Write(key)
	return h.Sum(nil)
}
