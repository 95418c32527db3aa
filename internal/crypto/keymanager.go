// Package crypto loads the operator's escrow key and signs and verifies API
// requests with EIP-191 personal signatures.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
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
	envelopeVersion = 1
	kdfIterations   = 480_000
	saltSize        = 16
)

// keyEnvelope is the on-disk form of an encrypted operator key. Address is
// stored in the clear so a wrong file is caught before the key is used.
type keyEnvelope struct {
	Version    int            `json:"version"`
	Address    common.Address `json:"address"`
	Salt       []byte         `json:"salt"`
	Nonce      []byte         `json:"nonce"`
	Ciphertext []byte         `json:"ciphertext"`
}

// KeyConfig names where the operator key comes from. RawPrivateKey wins
// over EncryptedKeyPath.
type KeyConfig struct {
	RawPrivateKey    string // hex, optional 0x prefix
	EncryptedKeyPath string // JSON file written by EncryptKey
	KeyPassword      string
}

// EncryptKey seals a hex private key under password with PBKDF2-SHA256 and
// AES-256-GCM and returns the JSON envelope.
func EncryptKey(privateKeyHex, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	key, err := parseKeyHex(privateKeyHex)
	if err != nil {
		return nil, err
	}

	env := keyEnvelope{
		Version: envelopeVersion,
		Address: ethcrypto.PubkeyToAddress(key.PublicKey),
		Salt:    make([]byte, saltSize),
	}
	if _, err := rand.Read(env.Salt); err != nil {
		return nil, fmt.Errorf("crypto: salt: %w", err)
	}
	aead, err := envelopeCipher(password, env.Salt)
	if err != nil {
		return nil, err
	}
	env.Nonce = make([]byte, aead.NonceSize())
	if _, err := rand.Read(env.Nonce); err != nil {
		return nil, fmt.Errorf("crypto: nonce: %w", err)
	}
	// The address is authenticated as associated data.
	env.Ciphertext = aead.Seal(nil, env.Nonce, ethcrypto.FromECDSA(key), env.Address.Bytes())

	return json.MarshalIndent(env, "", "  ")
}

// DecryptKey opens an envelope written by EncryptKey.
func DecryptKey(data []byte, password string) (*ecdsa.PrivateKey, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	var env keyEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("crypto: parse key envelope: %w", err)
	}
	if env.Version != envelopeVersion {
		return nil, fmt.Errorf("crypto: unsupported key envelope version %d", env.Version)
	}

	aead, err := envelopeCipher(password, env.Salt)
	if err != nil {
		return nil, err
	}
	if len(env.Nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("crypto: nonce must be %d bytes", aead.NonceSize())
	}
	plain, err := aead.Open(nil, env.Nonce, env.Ciphertext, env.Address.Bytes())
	if err != nil {
		return nil, fmt.Errorf("crypto: decryption failed (wrong password?): %w", err)
	}
	key, err := ethcrypto.ToECDSA(plain)
	if err != nil {
		return nil, fmt.Errorf("crypto: decrypted key: %w", err)
	}
	if got := ethcrypto.PubkeyToAddress(key.PublicKey); got != env.Address {
		return nil, fmt.Errorf("crypto: envelope address %s does not match key %s", env.Address.Hex(), got.Hex())
	}
	return key, nil
}

// LoadKey resolves the operator's escrow key from cfg.
func LoadKey(cfg KeyConfig) (*ecdsa.PrivateKey, error) {
	switch {
	case cfg.RawPrivateKey != "":
		return parseKeyHex(cfg.RawPrivateKey)
	case cfg.EncryptedKeyPath != "":
		data, err := os.ReadFile(cfg.EncryptedKeyPath)
		if err != nil {
			return nil, fmt.Errorf("crypto: read key file: %w", err)
		}
		return DecryptKey(data, cfg.KeyPassword)
	default:
		return nil, errors.New("crypto: no private key source configured (set wallet.private_key or wallet.encrypted_key_path)")
	}
}

func parseKeyHex(s string) (*ecdsa.PrivateKey, error) {
	key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key: %w", err)
	}
	return key, nil
}

func envelopeCipher(password string, salt []byte) (cipher.AEAD, error) {
	if len(salt) != saltSize {
		return nil, fmt.Errorf("crypto: salt must be %d bytes", saltSize)
	}
	block, err := aes.NewCipher(pbkdf2.Key([]byte(password), salt, kdfIterations, 32, sha256.New))
	if err != nil {
		return nil, fmt.Errorf("crypto: cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
