package wallet

import (
	"crypto/ed25519"

	"github.com/mr-tron/base58"
)

type ed25519Family struct{}

func (ed25519Family) Name() string { return "ed25519" }

func (ed25519Family) sealed() {}

// Verify 对 base58 编码的 32 字节公钥与 64 字节签名做 Ed25519 校验，消息为原始 UTF-8 字节。
func (ed25519Family) Verify(address, signature string, message []byte) error {
	pub, err := base58.Decode(address)
	if err != nil {
		return malformed("invalid public key encoding")
	}
	if len(pub) != ed25519.PublicKeySize {
		return malformed("public key must be 32 bytes")
	}
	sig, err := base58.Decode(signature)
	if err != nil {
		return malformed("invalid signature encoding")
	}
	if len(sig) != ed25519.SignatureSize {
		return malformed("signature must be 64 bytes")
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), message, sig) {
		return rejected("signature verification failed")
	}
	return nil
}
