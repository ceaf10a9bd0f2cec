package wallet

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

const ecdsaSignatureLength = crypto.SignatureLength

type ecdsaFamily struct{}

func (ecdsaFamily) Name() string { return "ecdsa" }

func (ecdsaFamily) sealed() {}

// Verify 按 EIP-191 计算个人消息摘要，从 r||s||v 签名恢复公钥并与声明地址比对（不区分大小写）。
func (ecdsaFamily) Verify(address, signature string, message []byte) error {
	sig, err := decodeHexSignature(signature)
	if err != nil {
		return malformed("invalid signature encoding")
	}
	if len(sig) != ecdsaSignatureLength {
		return malformed("signature must be 65 bytes")
	}

	v := sig[crypto.RecoveryIDOffset]
	if v >= 27 {
		v -= 27
	}
	if v > 1 {
		return malformed("invalid recovery id")
	}
	normalized := make([]byte, ecdsaSignatureLength)
	copy(normalized, sig)
	normalized[crypto.RecoveryIDOffset] = v

	digest := accounts.TextHash(message)
	pub, err := crypto.SigToPub(digest, normalized)
	if err != nil {
		return rejected("recovery failed")
	}
	recovered := crypto.PubkeyToAddress(*pub)
	if !strings.EqualFold(recovered.Hex(), address) {
		return rejected("address mismatch")
	}
	return nil
}

func decodeHexSignature(signature string) ([]byte, error) {
	trimmed := strings.TrimSpace(signature)
	if !strings.HasPrefix(trimmed, "0x") && !strings.HasPrefix(trimmed, "0X") {
		trimmed = "0x" + trimmed
	}
	return hexutil.Decode(trimmed)
}
