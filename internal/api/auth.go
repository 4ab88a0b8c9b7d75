package api

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

const signatureHeader = "X-Signature"

var ErrBadSignature = errors.New("bad signature")

// recoverSigner returns the account that personal-signed (EIP-191) body.
func recoverSigner(body []byte, sigHex string) (common.Address, error) {
	if sigHex == "" {
		return common.Address{}, fmt.Errorf("%w: missing %s header", ErrBadSignature, signatureHeader)
	}
	if !strings.HasPrefix(sigHex, "0x") {
		sigHex = "0x" + sigHex
	}
	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %w", ErrBadSignature, err)
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: length %d", ErrBadSignature, len(sig))
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash(body), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %w", ErrBadSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
