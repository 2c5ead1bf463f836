package encryption

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"

	"filippo.io/age"
)

// Result of encrypting a listing payload. ShareA and ShareB jointly
// reconstruct the decryption key; one share is later embedded on-chain to
// enable conditional release to a buyer.
type Result struct {
	Ciphertext []byte
	ShareA     [32]byte
	ShareB     [32]byte
}

type Encryptor interface {
	Encrypt(data []byte) (*Result, error)
	Decrypt(ciphertext []byte, shareA, shareB [32]byte) ([]byte, error)
}

type encryptor struct {
	prover *Prover
}

// Encrypt seals the payload under a fresh random key and splits the key into
// two shares. The proving runtime is guaranteed loaded before encryption
// begins.
func (e *encryptor) Encrypt(data []byte) (*Result, error) {
	if err := e.prover.Load(); err != nil {
		return nil, fmt.Errorf("proving runtime unavailable: %w", err)
	}

	var key [32]byte
	if _, err := rand.Read(key[:]); err != nil {
		return nil, fmt.Errorf("failed to generate content key: %w", err)
	}

	recipient, err := age.NewScryptRecipient(hex.EncodeToString(key[:]))
	if err != nil {
		return nil, fmt.Errorf("failed to derive recipient: %w", err)
	}

	buf := &bytes.Buffer{}
	w, err := age.Encrypt(buf, recipient)
	if err != nil {
		return nil, fmt.Errorf("failed to start encryption: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("failed to encrypt payload: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize encryption: %w", err)
	}

	res := &Result{
		Ciphertext: buf.Bytes(),
	}
	if _, err := rand.Read(res.ShareA[:]); err != nil {
		return nil, fmt.Errorf("failed to generate key share: %w", err)
	}
	for i := range key {
		res.ShareB[i] = key[i] ^ res.ShareA[i]
	}

	return res, nil
}

// Decrypt reconstructs the content key from the two shares and opens the
// ciphertext.
func (e *encryptor) Decrypt(ciphertext []byte, shareA, shareB [32]byte) ([]byte, error) {
	var key [32]byte
	for i := range key {
		key[i] = shareA[i] ^ shareB[i]
	}

	identity, err := age.NewScryptIdentity(hex.EncodeToString(key[:]))
	if err != nil {
		return nil, fmt.Errorf("failed to derive identity: %w", err)
	}

	r, err := age.Decrypt(bytes.NewReader(ciphertext), identity)
	if err != nil {
		return nil, fmt.Errorf("failed to open ciphertext: %w", err)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read plaintext: %w", err)
	}

	return data, nil
}

func NewEncryptor(prover *Prover) Encryptor {
	return &encryptor{
		prover: prover,
	}
}
