package db

import (
	"context"

	"gaiya/internal/auth"
)

// AuthTxAdapter implements auth.AuthTxManager over a PgxTxManager,
// handing the callback transaction-scoped user and session repositories.
type AuthTxAdapter struct {
	txManager *PgxTxManager
}

// NewAuthTxAdapter creates an AuthTxAdapter over the given transaction
// manager.
func NewAuthTxAdapter(txManager *PgxTxManager) *AuthTxAdapter {
	return &AuthTxAdapter{txManager: txManager}
}

// RunInTx executes fn within a single database transaction.
func (a *AuthTxAdapter) RunInTx(ctx context.Context, fn func(ctx context.Context, txUserRepo auth.UserRepo, txSessionRepo auth.SessionRepo) error) error {
	return a.txManager.RunInTx(ctx, func(ctx context.Context, tx DBTX) error {
		return fn(ctx, NewUserRepository(tx), NewSessionRepository(tx))
	})
}
