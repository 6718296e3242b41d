// Package ecies implements the asymmetric envelope encryption scheme used to
// protect all persisted wallet state. It is an ECIES construction over
// secp256k1: an ephemeral ECDH exchange against the recipient's public key,
// HKDF-SHA256 key derivation, and XChaCha20-Poly1305 for the payload itself.
//
// The wire layout of a sealed message is:
//
//	ephemeralPubKey(33, compressed) || nonce(24) || ciphertext || tag(16)
//
// Batch variants share a single ephemeral key across all messages of the
// batch and use strictly increasing counter nonces, since the AEAD forbids
// nonce reuse under one key and large batches exceed the threshold where
// random nonces are collision safe.
package ecies

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/sync/errgroup"
)

const (
	// ephemeralKeySize is the size of the compressed ephemeral public key
	// that prefixes every sealed message.
	ephemeralKeySize = 33

	// nonceSize is the XChaCha20-Poly1305 extended nonce size.
	nonceSize = chacha20poly1305.NonceSizeX

	// tagSize is the Poly1305 authentication tag size.
	tagSize = chacha20poly1305.Overhead

	// minCiphertextSize is the smallest possible sealed message: an empty
	// plaintext still carries the key, nonce and tag.
	minCiphertextSize = ephemeralKeySize + nonceSize + tagSize

	// privKeySize is the required length of a raw private key.
	privKeySize = 32
)

// hkdfInfo is the domain separation string mixed into the HKDF expansion so
// keys derived here can never collide with another protocol sharing the same
// ECDH secret.
var hkdfInfo = []byte("ecies-secp256k1-xchacha20poly1305-v1")

var (
	// ErrDecryptionFailed is returned whenever a sealed message fails
	// authentication. No plaintext is ever returned alongside it.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrMalformedPublicKey is returned when a recipient public key is
	// not a valid 32, 33 or 65 byte secp256k1 point encoding.
	ErrMalformedPublicKey = errors.New("malformed public key")

	// ErrMalformedPrivateKey is returned when a private key is not
	// exactly 32 bytes.
	ErrMalformedPrivateKey = errors.New("malformed private key")

	// ErrCiphertextTooShort is returned when a sealed message is shorter
	// than the fixed envelope overhead.
	ErrCiphertextTooShort = errors.New("ciphertext too short")
)

// ParsePubKey parses a recipient public key. A 33 byte compressed or 65 byte
// uncompressed encoding is parsed directly. A 32 byte key is treated as a
// BIP-340 x-only key and lifted to the even-Y point before parsing.
func ParsePubKey(pubKey []byte) (*btcec.PublicKey, error) {
	switch len(pubKey) {
	case 32:
		lifted := make([]byte, 33)
		lifted[0] = 0x02
		copy(lifted[1:], pubKey)
		pubKey = lifted

	case 33, 65:

	default:
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformedPublicKey,
			len(pubKey))
	}

	key, err := btcec.ParsePubKey(pubKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPublicKey, err)
	}

	return key, nil
}

// parsePrivKey parses a raw 32 byte private key.
func parsePrivKey(privKey []byte) (*btcec.PrivateKey, error) {
	if len(privKey) != privKeySize {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformedPrivateKey,
			len(privKey))
	}

	priv, _ := btcec.PrivKeyFromBytes(privKey)
	return priv, nil
}

// deriveKey computes the ECDH shared point between the private and public
// key, strips the parity byte of its compressed serialization, and expands
// the remaining x coordinate through HKDF-SHA256 into the symmetric key.
func deriveKey(priv *btcec.PrivateKey, pub *btcec.PublicKey) ([]byte, error) {
	var (
		pubJacobian btcec.JacobianPoint
		shared      btcec.JacobianPoint
	)
	pub.AsJacobian(&pubJacobian)

	btcec.ScalarMultNonConst(&priv.Key, &pubJacobian, &shared)
	shared.ToAffine()

	sharedKey := btcec.NewPublicKey(&shared.X, &shared.Y)
	secret := sharedKey.SerializeCompressed()[1:]

	key := make([]byte, chacha20poly1305.KeySize)
	expand := hkdf.New(sha256.New, secret, nil, hkdfInfo)
	if _, err := io.ReadFull(expand, key); err != nil {
		return nil, fmt.Errorf("hkdf expand: %w", err)
	}

	return key, nil
}

// counterNonce returns the i'th nonce of a batch: a 24 byte value holding the
// counter as a big endian integer in its low-order bytes.
func counterNonce(i uint64) []byte {
	nonce := make([]byte, nonceSize)
	binary.BigEndian.PutUint64(nonce[nonceSize-8:], i)
	return nonce
}

// Encrypt seals a single plaintext to the recipient's public key under a
// fresh ephemeral key.
func Encrypt(plaintext, recipientPubKey []byte) ([]byte, error) {
	sealed, err := EncryptBatch([][]byte{plaintext}, recipientPubKey)
	if err != nil {
		return nil, err
	}
	return sealed[0], nil
}

// EncryptBatch seals each plaintext to the recipient's public key. A single
// ephemeral key is generated for the whole batch, with counter nonces
// guaranteeing uniqueness per message. The i'th output ciphertext
// corresponds to the i'th input plaintext.
func EncryptBatch(plaintexts [][]byte,
	recipientPubKey []byte) ([][]byte, error) {

	pub, err := ParsePubKey(recipientPubKey)
	if err != nil {
		return nil, err
	}

	ephemeral, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("ephemeral key: %w", err)
	}

	key, err := deriveKey(ephemeral, pub)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}

	ephemeralPub := ephemeral.PubKey().SerializeCompressed()

	sealed := make([][]byte, len(plaintexts))
	for i, plaintext := range plaintexts {
		nonce := counterNonce(uint64(i))

		out := make(
			[]byte, 0,
			minCiphertextSize+len(plaintext),
		)
		out = append(out, ephemeralPub...)
		out = append(out, nonce...)
		out = aead.Seal(out, nonce, plaintext, nonce)

		sealed[i] = out
	}

	return sealed, nil
}

// Decrypt opens a single sealed message with the recipient's private key. Any
// authentication failure, including a wrong key or a tampered nonce,
// ciphertext or tag, returns ErrDecryptionFailed with no plaintext.
func Decrypt(ciphertext, recipientPrivKey []byte) ([]byte, error) {
	priv, err := parsePrivKey(recipientPrivKey)
	if err != nil {
		return nil, err
	}

	return open(ciphertext, priv, nil)
}

// open authenticates and decrypts a single sealed message. A pre-derived
// symmetric key may be passed to skip the ECDH when the ephemeral key is
// already known, which DecryptBatch uses to share one derivation per group.
func open(ciphertext []byte, priv *btcec.PrivateKey, key []byte) ([]byte,
	error) {

	if len(ciphertext) < minCiphertextSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrCiphertextTooShort,
			len(ciphertext))
	}

	if key == nil {
		ephemeralPub, err := btcec.ParsePubKey(
			ciphertext[:ephemeralKeySize],
		)
		if err != nil {
			return nil, fmt.Errorf("%w: ephemeral key: %v",
				ErrDecryptionFailed, err)
		}

		key, err = deriveKey(priv, ephemeralPub)
		if err != nil {
			return nil, err
		}
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}

	nonce := ciphertext[ephemeralKeySize : ephemeralKeySize+nonceSize]
	payload := ciphertext[ephemeralKeySize+nonceSize:]

	plaintext, err := aead.Open(nil, nonce, payload, nonce)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	return plaintext, nil
}

// DecryptBatch opens a set of sealed messages with the recipient's private
// key. Messages sealed by the same EncryptBatch call share an ephemeral key,
// so the ciphertexts are grouped by their embedded ephemeral key and the
// shared secret is derived once per group, with the groups opened
// concurrently. The i'th output plaintext corresponds to the i'th input
// ciphertext no matter how the inputs are grouped or ordered.
func DecryptBatch(ciphertexts [][]byte,
	recipientPrivKey []byte) ([][]byte, error) {

	priv, err := parsePrivKey(recipientPrivKey)
	if err != nil {
		return nil, err
	}

	groups := make(map[[ephemeralKeySize]byte][]int)
	for i, ciphertext := range ciphertexts {
		if len(ciphertext) < minCiphertextSize {
			return nil, fmt.Errorf("%w: message %d: %d bytes",
				ErrCiphertextTooShort, i, len(ciphertext))
		}

		var ephemeralPub [ephemeralKeySize]byte
		copy(ephemeralPub[:], ciphertext[:ephemeralKeySize])
		groups[ephemeralPub] = append(groups[ephemeralPub], i)
	}

	plaintexts := make([][]byte, len(ciphertexts))

	var eg errgroup.Group
	for ephemeralPub, indices := range groups {
		ephemeralPub, indices := ephemeralPub, indices
		eg.Go(func() error {
			pub, err := btcec.ParsePubKey(ephemeralPub[:])
			if err != nil {
				return fmt.Errorf("%w: ephemeral key: %v",
					ErrDecryptionFailed, err)
			}

			key, err := deriveKey(priv, pub)
			if err != nil {
				return err
			}

			for _, i := range indices {
				plaintext, err := open(
					ciphertexts[i], priv, key,
				)
				if err != nil {
					return fmt.Errorf("message %d: %w",
						i, err)
				}
				plaintexts[i] = plaintext
			}

			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	return plaintexts, nil
}

// Envelope binds a recipient keypair so the repository layer can seal and
// open records without handling raw key material at every call site.
type Envelope struct {
	pubKey  []byte
	privKey []byte
}

// NewEnvelope creates an Envelope for the given keypair. The public key is
// used for sealing, the private key for opening. Both are validated eagerly
// so a malformed key fails at construction rather than first use.
func NewEnvelope(pubKey, privKey []byte) (*Envelope, error) {
	if _, err := ParsePubKey(pubKey); err != nil {
		return nil, err
	}
	if _, err := parsePrivKey(privKey); err != nil {
		return nil, err
	}

	return &Envelope{
		pubKey:  append([]byte(nil), pubKey...),
		privKey: append([]byte(nil), privKey...),
	}, nil
}

// Encrypt seals a single plaintext to the envelope's public key.
func (e *Envelope) Encrypt(plaintext []byte) ([]byte, error) {
	return Encrypt(plaintext, e.pubKey)
}

// Decrypt opens a single sealed message with the envelope's private key.
func (e *Envelope) Decrypt(ciphertext []byte) ([]byte, error) {
	return Decrypt(ciphertext, e.privKey)
}

// EncryptBatch seals a batch of plaintexts to the envelope's public key.
func (e *Envelope) EncryptBatch(plaintexts [][]byte) ([][]byte, error) {
	return EncryptBatch(plaintexts, e.pubKey)
}

// DecryptBatch opens a batch of sealed messages with the envelope's private
// key.
func (e *Envelope) DecryptBatch(ciphertexts [][]byte) ([][]byte, error) {
	return DecryptBatch(ciphertexts, e.privKey)
}
