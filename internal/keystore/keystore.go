// Package keystore seals and opens the escrow hot-wallet key used for
// direct payouts. Keys at rest are encrypted with AES-256-GCM under a
// PBKDF2-SHA256 derived key, with the wallet address bound as additional
// data so an envelope cannot be swapped between wallets.
package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/pbkdf2"
)

const (
	envelopeVersion   = 1
	defaultIterations = 480_000
	saltLen           = 16
	keyLen            = 32
)

// ErrBadPassphrase is returned when an envelope fails authentication.
var ErrBadPassphrase = errors.New("keystore: wrong passphrase or corrupted envelope")

// Envelope is the on-disk form of a sealed escrow key.
type Envelope struct {
	Version    int    `json:"version"`
	Address    string `json:"address"`
	Iterations int    `json:"iterations"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// Source says where the escrow key comes from. A raw hex key wins over a
// sealed file.
type Source struct {
	HexKey     string
	File       string
	Passphrase string
}

// Key is an unlocked escrow key.
type Key struct {
	Private *ecdsa.PrivateKey
	Address common.Address
}

// ParseHex unlocks a hex-encoded secp256k1 key, with or without 0x.
func ParseHex(hexKey string) (*Key, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("keystore: invalid private key: %w", err)
	}
	return &Key{Private: pk, Address: ethcrypto.PubkeyToAddress(pk.PublicKey)}, nil
}

// Seal encrypts k under passphrase.
func Seal(k *Key, passphrase string) ([]byte, error) {
	return seal(k, passphrase, defaultIterations)
}

func seal(k *Key, passphrase string, iterations int) ([]byte, error) {
	if passphrase == "" {
		return nil, errors.New("keystore: passphrase must not be empty")
	}
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("keystore: salt: %w", err)
	}
	gcm, err := newGCM(passphrase, salt, iterations)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("keystore: nonce: %w", err)
	}

	addr := k.Address.Hex()
	ct := gcm.Seal(nil, nonce, ethcrypto.FromECDSA(k.Private), []byte(addr))
	return json.MarshalIndent(Envelope{
		Version:    envelopeVersion,
		Address:    addr,
		Iterations: iterations,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ct),
	}, "", "  ")
}

// Open decrypts an envelope produced by Seal and checks the recovered key
// matches the recorded address.
func Open(data []byte, passphrase string) (*Key, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("keystore: parse envelope: %w", err)
	}
	if env.Version != envelopeVersion {
		return nil, fmt.Errorf("keystore: unsupported envelope version %d", env.Version)
	}
	if !common.IsHexAddress(env.Address) {
		return nil, fmt.Errorf("keystore: envelope address %q is not a hex address", env.Address)
	}

	salt, err := base64.StdEncoding.DecodeString(env.Salt)
	if err != nil {
		return nil, fmt.Errorf("keystore: decode salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil {
		return nil, fmt.Errorf("keystore: decode nonce: %w", err)
	}
	ct, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("keystore: decode ciphertext: %w", err)
	}

	gcm, err := newGCM(passphrase, salt, env.Iterations)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("keystore: nonce length %d: %w", len(nonce), ErrBadPassphrase)
	}
	raw, err := gcm.Open(nil, nonce, ct, []byte(env.Address))
	if err != nil {
		return nil, ErrBadPassphrase
	}

	pk, err := ethcrypto.ToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("keystore: decrypted key: %w", err)
	}
	k := &Key{Private: pk, Address: ethcrypto.PubkeyToAddress(pk.PublicKey)}
	if k.Address != common.HexToAddress(env.Address) {
		return nil, fmt.Errorf("keystore: key does not match address %s", env.Address)
	}
	return k, nil
}

// Load resolves the escrow key from src.
func Load(src Source) (*Key, error) {
	if src.HexKey != "" {
		return ParseHex(src.HexKey)
	}
	if src.File != "" {
		data, err := os.ReadFile(src.File)
		if err != nil {
			return nil, fmt.Errorf("keystore: read %s: %w", src.File, err)
		}
		return Open(data, src.Passphrase)
	}
	return nil, errors.New("keystore: no escrow key configured")
}

func newGCM(passphrase string, salt []byte, iterations int) (cipher.AEAD, error) {
	if passphrase == "" {
		return nil, errors.New("keystore: passphrase must not be empty")
	}
	if iterations < 1 {
		return nil, fmt.Errorf("keystore: invalid iteration count %d", iterations)
	}
	dk := pbkdf2.Key([]byte(passphrase), salt, iterations, keyLen, sha256.New)
	block, err := aes.NewCipher(dk)
	if err != nil {
		return nil, fmt.Errorf("keystore: cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("keystore: gcm: %w", err)
	}
	return gcm, nil
}
