// Package aesrand provides the two AES-keyed primitives the scan engine
// needs: a CSPRNG word source used to seed the cyclic permutation, and a
// single-block AES encrypt used by the response validator as a keyed PRF.
package aesrand

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	ctrdrbg "github.com/sixafter/aes-ctr-drbg"
	"golang.org/x/crypto/hkdf"
)

// WordSource emits 128-bit words from an AES-CTR keystream. It backs
// cyclic.Cyclic's search for a starting point and a group generator.
//
// Two backends are used depending on whether reproducibility was
// requested:
//
//   - seed == 0: github.com/sixafter/aes-ctr-drbg's pooled, self-reseeding
//     DRBG.
//   - seed != 0: a key derived deterministically via HKDF, fed through a
//     stdlib crypto/cipher.StreamReader in CTR mode over an all-zero
//     plaintext stream. aes-ctr-drbg intentionally mixes in fresh OS
//     entropy even when personalized (see its own doc comments), which
//     is correct for its purpose but incompatible with bit-for-bit
//     reproducibility, so the seeded path is hand-rolled directly on
//     the stdlib primitive instead.
type WordSource struct {
	r io.Reader
}

// NewWordSource draws a fresh 16-byte AES key, either from the OS CSPRNG
// (seed == 0) or expanded from seed via HKDF-SHA256 (seed != 0).
func NewWordSource(seed uint64) (*WordSource, error) {
	if seed == 0 {
		r, err := ctrdrbg.NewReader(ctrdrbg.WithPersonalization([]byte("tscan-cyclic-v1")))
		if err != nil {
			return nil, fmt.Errorf("aesrand: init AES-CTR-DRBG: %w", err)
		}
		return &WordSource{r: r}, nil
	}

	seedBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(seedBytes, seed)
	key := make([]byte, 16)
	kdf := hkdf.New(sha256.New, seedBytes, nil, []byte("tscan-cyclic-v1"))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("aesrand: expand seed: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aesrand: derived key is invalid AES-128 key: %w", err)
	}
	var iv [aes.BlockSize]byte
	stream := cipher.NewCTR(block, iv[:])
	return &WordSource{r: &ctrReader{stream: stream}}, nil
}

// ctrReader turns a cipher.Stream into an io.Reader of its keystream by
// encrypting an all-zero plaintext: a PRNG that emits 128-bit words by
// encrypting an incrementing counter.
type ctrReader struct {
	stream cipher.Stream
}

func (c *ctrReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	c.stream.XORKeyStream(p, p)
	return len(p), nil
}

// Next returns the next 128-bit word as two big-endian uint64 halves.
func (w *WordSource) Next() (hi, lo uint64) {
	var buf [16]byte
	if _, err := io.ReadFull(w.r, buf[:]); err != nil {
		panic(fmt.Sprintf("aesrand: DRBG read failed: %v", err))
	}
	return binary.BigEndian.Uint64(buf[:8]), binary.BigEndian.Uint64(buf[8:])
}

// Block is a single AES-128 block cipher used as the validator's keyed
// PRF. No other mode is required for this use.
type Block struct {
	cipher cipher.Block
}

// NewBlock draws a fresh 16-byte AES key from the OS CSPRNG and returns
// a Block bound to it for the lifetime of the process.
func NewBlock() (*Block, error) {
	var key [16]byte
	if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
		return nil, fmt.Errorf("aesrand: read validator key: %w", err)
	}
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("aesrand: validator key rejected: %w", err)
	}
	return &Block{cipher: block}, nil
}

// Encrypt encrypts one 16-byte block under the process validator key.
func (b *Block) Encrypt(in [16]byte) [16]byte {
	var out [16]byte
	b.cipher.Encrypt(out[:], in[:])
	return out
}
