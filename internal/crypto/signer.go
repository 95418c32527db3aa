package crypto

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Request signature headers.
const (
	HeaderSigner    = "X-Signer-Address"
	HeaderTimestamp = "X-Timestamp"
	HeaderSignature = "X-Signature"
)

var (
	ErrBadSignature = errors.New("crypto: bad request signature")
	ErrStale        = errors.New("crypto: request timestamp outside window")
)

// RequestMessage is the text a caller signs for one API request:
//
//	{unix seconds}\n{METHOD}\n{path}\n{hex sha256(body)}
func RequestMessage(ts int64, method, path string, body []byte) []byte {
	sum := sha256.Sum256(body)
	return []byte(strconv.FormatInt(ts, 10) + "\n" + strings.ToUpper(method) + "\n" + path + "\n" + hex.EncodeToString(sum[:]))
}

// ReplayKey identifies one signed request by signer and message digest. It
// ignores the signature bytes, so a re-encoded signature maps to the same key.
func ReplayKey(signer common.Address, ts int64, method, path string, body []byte) string {
	sum := sha256.Sum256(RequestMessage(ts, method, path, body))
	return strings.ToLower(signer.Hex()) + ":" + hex.EncodeToString(sum[:])
}

// SignRequest produces the 0x-hex personal signature for a request.
func SignRequest(key *ecdsa.PrivateKey, ts int64, method, path string, body []byte) (string, error) {
	sig, err := ethcrypto.Sign(accounts.TextHash(RequestMessage(ts, method, path, body)), key)
	if err != nil {
		return "", fmt.Errorf("crypto: sign request: %w", err)
	}
	// Wallets emit V as 27/28.
	sig[ethcrypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}

// Verifier checks request signatures against a clock.
type Verifier struct {
	Window time.Duration
	Now    func() time.Time
}

// Recover returns the address that signed the request. It fails with
// ErrStale when ts is more than Window away from now and ErrBadSignature when
// the signature does not recover to claimed.
func (v Verifier) Recover(claimed common.Address, ts int64, method, path string, body []byte, signature string) (common.Address, error) {
	now := time.Now
	if v.Now != nil {
		now = v.Now
	}
	if d := now().Sub(time.Unix(ts, 0)); d > v.Window || d < -v.Window {
		return common.Address{}, ErrStale
	}

	sig, err := hexutil.Decode(signature)
	if err != nil || len(sig) != ethcrypto.SignatureLength {
		return common.Address{}, ErrBadSignature
	}
	if sig[ethcrypto.RecoveryIDOffset] >= 27 {
		sig[ethcrypto.RecoveryIDOffset] -= 27
	}
	pub, err := ethcrypto.SigToPub(accounts.TextHash(RequestMessage(ts, method, path, body)), sig)
	if err != nil {
		return common.Address{}, ErrBadSignature
	}
	signer := ethcrypto.PubkeyToAddress(*pub)
	if signer != claimed {
		return common.Address{}, fmt.Errorf("%w: signed by %s, claimed %s", ErrBadSignature, signer.Hex(), claimed.Hex())
	}
	return signer, nil
}
