package wallet

import (
	"fmt"
	"strings"
)

const challengeTemplate = "LobsterMarket.ai wants you to sign in with your %s.\n\nDomain: %s\nWallet: %s\nNonce: %s\n\nBy signing, you agree to the LobsterMarket Terms of Service."

// ChallengeLabel 返回挑战消息中描述钱包的文字。
func ChallengeLabel(wallet string) string {
	if strings.HasPrefix(wallet, "0x") {
		return "wallet address"
	}
	return "Solana wallet"
}

// BuildChallenge 生成待签名的挑战消息，签发与校验两侧必须逐字节一致。
func BuildChallenge(domain, nonce, wallet string) string {
	return fmt.Sprintf(challengeTemplate, ChallengeLabel(wallet), domain, wallet, nonce)
}
