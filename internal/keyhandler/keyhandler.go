// Package keyhandler implements the Diffie-Hellman transport-key exchange,
// the two superimposed AES-256-CBC cipher contexts it and the SRP login
// derive, and the HMAC-SHA-512 primitives used to bind the login exchange
// to the transport.
package keyhandler

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/nyx-proto/shakeline/internal/base85"
)

// ErrAlreadySet is returned by SetCounterKey/SetCounterCipher on any
// invocation after the first.
var ErrAlreadySet = errors.New("keyhandler: value already set")

// ErrBadPadding is returned by Decrypt when the trailing PKCS#7 pad byte
// is 0 or greater than the block size.
var ErrBadPadding = errors.New("keyhandler: bad pkcs7 padding")

const blockSize = aes.BlockSize // 16

// KeyHandler holds one endpoint's DH keypair and the cipher state derived
// from it and, later, from the SRP session key. It is owned exclusively
// by a single Node and is not safe to share across connections.
type KeyHandler struct {
	mu sync.Mutex

	privateKey *big.Int
	publicKey  *big.Int

	counterKey *big.Int
	counterSet bool

	personalBlock cipher.Block
	personalIV    []byte

	counterBlock cipher.Block
	counterIV    []byte
	counterCipherSet bool
}

// New generates a fresh DH keypair: a uniform random private key in
// [1, P-1] and the corresponding public key g^private mod P.
func New() (*KeyHandler, error) {
	limit := new(big.Int).Sub(P, big.NewInt(1))
	priv, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return nil, fmt.Errorf("keyhandler: generate private key: %w", err)
	}
	priv.Add(priv, big.NewInt(1)) // shift [0, P-2] to [1, P-1]

	pub := new(big.Int).Exp(g, priv, P)

	return &KeyHandler{
		privateKey: priv,
		publicKey:  pub,
	}, nil
}

// PublicKey returns this endpoint's DH public value.
func (kh *KeyHandler) PublicKey() *big.Int {
	return kh.publicKey
}

// SetCounterKey installs the peer's DH public value, derives the shared
// hash, and activates the personal cipher. It fails with ErrAlreadySet on
// any call after the first.
func (kh *KeyHandler) SetCounterKey(peerPublic *big.Int) error {
	kh.mu.Lock()
	defer kh.mu.Unlock()

	if kh.counterSet {
		return ErrAlreadySet
	}

	kh.counterKey = new(big.Int).Set(peerPublic)
	shared := new(big.Int).Exp(peerPublic, kh.privateKey, P)
	hash := sha256.Sum256(shared.Bytes())

	block, err := aes.NewCipher(hash[0:32])
	if err != nil {
		return fmt.Errorf("keyhandler: derive personal cipher: %w", err)
	}
	kh.personalBlock = block
	kh.personalIV = append([]byte(nil), hash[16:32]...)
	kh.counterSet = true
	return nil
}

// CounterKeySet reports whether SetCounterKey has installed the personal
// cipher.
func (kh *KeyHandler) CounterKeySet() bool {
	kh.mu.Lock()
	defer kh.mu.Unlock()
	return kh.counterSet
}

// SetCounterCipher installs the SRP-derived outer cipher from the raw
// session key bytes. It fails with ErrAlreadySet on any call after the
// first.
func (kh *KeyHandler) SetCounterCipher(sessionKey []byte) error {
	kh.mu.Lock()
	defer kh.mu.Unlock()

	if kh.counterCipherSet {
		return ErrAlreadySet
	}

	hash := sha256.Sum256(sessionKey)
	block, err := aes.NewCipher(hash[0:32])
	if err != nil {
		return fmt.Errorf("keyhandler: derive counter cipher: %w", err)
	}
	kh.counterBlock = block
	kh.counterIV = append([]byte(nil), hash[16:32]...)
	kh.counterCipherSet = true
	return nil
}

// CounterCipherSet reports whether SetCounterCipher has installed the
// outer cipher.
func (kh *KeyHandler) CounterCipherSet() bool {
	kh.mu.Lock()
	defer kh.mu.Unlock()
	return kh.counterCipherSet
}

// Encrypt pads and encrypts plaintext. With no cipher installed it is a
// passthrough of the raw bytes. With only the personal cipher installed,
// ciphertext = AES_personal(pad(plaintext)). Once the counter cipher is
// installed, ciphertext = AES_counter(AES_personal(pad(plaintext))).
func (kh *KeyHandler) Encrypt(plaintext []byte) ([]byte, error) {
	kh.mu.Lock()
	defer kh.mu.Unlock()

	if kh.personalBlock == nil {
		return plaintext, nil
	}

	padded := pkcs7Pad(plaintext, blockSize)
	inner := make([]byte, len(padded))
	cipher.NewCBCEncrypter(kh.personalBlock, kh.personalIV).CryptBlocks(inner, padded)

	if kh.counterBlock == nil {
		return inner, nil
	}

	outer := make([]byte, len(inner))
	cipher.NewCBCEncrypter(kh.counterBlock, kh.counterIV).CryptBlocks(outer, inner)
	return outer, nil
}

// Decrypt inverts Encrypt: it peels the counter cipher first (if
// installed), then the personal cipher, then removes the PKCS#7 padding.
// With no cipher installed it is a passthrough of the raw bytes.
func (kh *KeyHandler) Decrypt(ciphertext []byte) ([]byte, error) {
	kh.mu.Lock()
	defer kh.mu.Unlock()

	if kh.personalBlock == nil {
		return ciphertext, nil
	}

	data := ciphertext
	if kh.counterBlock != nil {
		if len(data) == 0 || len(data)%blockSize != 0 {
			return nil, fmt.Errorf("keyhandler: ciphertext not a multiple of block size")
		}
		plain := make([]byte, len(data))
		cipher.NewCBCDecrypter(kh.counterBlock, kh.counterIV).CryptBlocks(plain, data)
		data = plain
	}

	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("keyhandler: ciphertext not a multiple of block size")
	}
	plain := make([]byte, len(data))
	cipher.NewCBCDecrypter(kh.personalBlock, kh.personalIV).CryptBlocks(plain, data)

	return pkcs7Unpad(plain)
}

// pkcs7Pad pads data to a multiple of blockSize, always appending at
// least one full pad block when data is already aligned.
func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

// pkcs7Unpad reverses pkcs7Pad, rejecting a pad count of 0 or greater than
// blockSize as ErrBadPadding.
func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrBadPadding
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(data) {
		return nil, ErrBadPadding
	}
	return data[:len(data)-padLen], nil
}

// HMACSign computes the 64-byte HMAC-SHA-512 tag over msg under key. The
// key is always caller-supplied; there is no implicit default key.
func HMACSign(msg, key []byte) []byte {
	mac := hmac.New(sha512.New, key)
	mac.Write(msg)
	return mac.Sum(nil)
}

// HMACVerify base85-decodes tagBase85 and constant-time compares it
// against the HMAC-SHA-512 of msg under key.
func HMACVerify(tagBase85 string, msg, key []byte) bool {
	decoded, err := base85.Decode(tagBase85)
	if err != nil {
		return false
	}
	expected := HMACSign(msg, key)
	return subtle.ConstantTimeCompare(decoded, expected) == 1
}
