package wallet

import (
	"strings"

	xerrors "LobsterMarket/internal/errors"
)

const (
	// CodeMalformedSignature 表示地址或签名编码、长度、恢复标识不合法。
	CodeMalformedSignature xerrors.Code = "WALLET_MALFORMED"
	// CodeSignatureRejected 表示签名校验失败或恢复出的地址不一致。
	CodeSignatureRejected xerrors.Code = "WALLET_SIGNATURE_REJECTED"
	// CodeUnknownFamily 表示无法识别的钱包类型。
	CodeUnknownFamily xerrors.Code = "WALLET_UNKNOWN_FAMILY"
)

func init() {
	xerrors.Register(CodeMalformedSignature, xerrors.Attributes{
		Message:  "malformed wallet signature",
		Kind:     xerrors.KindBadRequest,
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeSignatureRejected, xerrors.Attributes{
		Message:  "wallet signature rejected",
		Kind:     xerrors.KindUnauthorized,
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeUnknownFamily, xerrors.Attributes{
		Message:  "unknown wallet type",
		Kind:     xerrors.KindBadRequest,
		Severity: xerrors.SeverityInfo,
	})
}

// Family 是签名算法族的封闭变体，只有本包内的 Ed25519 与 ECDSA 两种实现。
type Family interface {
	// Name 返回持久化使用的族标识。
	Name() string
	// Verify 校验 signature 是否由 address 对应的私钥对 message 签出。
	Verify(address, signature string, message []byte) error

	sealed()
}

var (
	// Ed25519 覆盖使用 base58 公钥作为地址的链（如 Solana）。
	Ed25519 Family = ed25519Family{}
	// ECDSA 覆盖使用 secp256k1 + EIP-191 个人消息签名的 EVM 系链。
	ECDSA Family = ecdsaFamily{}
)

// Classify 根据地址外形选择签名族：0x 开头且长度为 42 的地址走 ECDSA，其余走 Ed25519。
// 这是启发式规则，地址格式与之不符的链需要显式指定钱包类型。
func Classify(address string) Family {
	if strings.HasPrefix(address, "0x") && len(address) == 42 {
		return ECDSA
	}
	return Ed25519
}

// Resolve 在客户端显式给出钱包类型时使用该类型，否则回退到 Classify。
func Resolve(walletType, address string) (Family, error) {
	switch strings.ToLower(strings.TrimSpace(walletType)) {
	case "":
		return Classify(address), nil
	case "solana", "ed25519":
		return Ed25519, nil
	case "ethereum", "evm", "base", "bnb", "ecdsa", "secp256k1":
		return ECDSA, nil
	default:
		return nil, xerrors.New(CodeUnknownFamily, "unsupported wallet type", xerrors.WithMetadata("wallet_type", walletType))
	}
}

// ParseFamily 将持久化的族标识还原为 Family。
func ParseFamily(name string) (Family, bool) {
	switch name {
	case Ed25519.Name():
		return Ed25519, true
	case ECDSA.Name():
		return ECDSA, true
	default:
		return nil, false
	}
}

// Verify 使用指定签名族校验消息签名。
func Verify(family Family, address, signature, message string) error {
	if family == nil {
		return xerrors.New(CodeUnknownFamily, "wallet family is required")
	}
	return family.Verify(address, signature, []byte(message))
}

func malformed(msg string) error {
	return xerrors.New(CodeMalformedSignature, msg)
}

func rejected(msg string) error {
	return xerrors.New(CodeSignatureRejected, msg)
}
