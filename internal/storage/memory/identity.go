package memory

import (
	"context"

	"LobsterMarket/internal/auth"
)

// FindWallet 按地址查找钱包。
func (db *DB) FindWallet(_ context.Context, address string) (*auth.Wallet, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	w, ok := db.wallets[address]
	if !ok {
		return nil, auth.ErrWalletNotFound
	}
	cp := *w
	return &cp, nil
}

// GetUser 按 ID 查找用户。
func (db *DB) GetUser(_ context.Context, id string) (*auth.User, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	u, ok := db.users[id]
	if !ok {
		return nil, auth.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

// CreateIdentity 原子地写入用户与其首个钱包。
func (db *DB) CreateIdentity(_ context.Context, user *auth.User, wallet *auth.Wallet) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.wallets[wallet.Address]; ok {
		return auth.ErrIdentityExists
	}
	if _, ok := db.users[user.ID]; ok {
		return auth.ErrIdentityExists
	}
	u, w := *user, *wallet
	db.users[u.ID] = &u
	db.wallets[w.Address] = &w
	return nil
}

// SetSuspended 设置用户的封禁状态。
func (db *DB) SetSuspended(_ context.Context, userID string, suspended bool) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	u, ok := db.users[userID]
	if !ok {
		return auth.ErrUserNotFound
	}
	u.Suspended = suspended
	return nil
}
