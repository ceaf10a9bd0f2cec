package sqlstore

import (
	"context"

	"LobsterMarket/internal/auth"
)

const (
	userColumns   = `id, display_name, role, client_score, is_suspended, created_at`
	walletColumns = `user_id, address, family, is_primary, verified_at`
)

// FindWallet 按地址查找钱包。
func (s *Store) FindWallet(ctx context.Context, address string) (*auth.Wallet, error) {
	var w auth.Wallet
	if err := s.get(ctx, &w, auth.ErrWalletNotFound, `SELECT `+walletColumns+` FROM wallets WHERE address = ?`, address); err != nil {
		return nil, err
	}
	return &w, nil
}

// GetUser 按 ID 查找用户。
func (s *Store) GetUser(ctx context.Context, id string) (*auth.User, error) {
	var u auth.User
	if err := s.get(ctx, &u, auth.ErrUserNotFound, `SELECT `+userColumns+` FROM users WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateIdentity 在同一事务中写入用户与钱包，钱包已绑定时返回 ErrIdentityExists。
func (s *Store) CreateIdentity(ctx context.Context, user *auth.User, wallet *auth.Wallet) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return storageError(err, "开启事务失败")
	}
	insert := func(query string, arg any) error {
		if _, err := tx.NamedExecContext(ctx, query, arg); err != nil {
			if isDuplicate(err) {
				return auth.ErrIdentityExists
			}
			return storageError(err, "写入身份失败")
		}
		return nil
	}
	if err := insert(`INSERT INTO users (`+userColumns+`) VALUES (:id, :display_name, :role, :client_score, :is_suspended, :created_at)`, user); err != nil {
		tx.Rollback()
		return err
	}
	if err := insert(`INSERT INTO wallets (`+walletColumns+`) VALUES (:user_id, :address, :family, :is_primary, :verified_at)`, wallet); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return storageError(err, "提交事务失败")
	}
	return nil
}

// SetSuspended 设置用户的封禁状态。
func (s *Store) SetSuspended(ctx context.Context, userID string, suspended bool) error {
	return s.exec(ctx, auth.ErrUserNotFound, `UPDATE users SET is_suspended = ? WHERE id = ?`, suspended, userID)
}
