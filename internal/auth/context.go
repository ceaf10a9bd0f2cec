package auth

import "context"

// claimsKey 是上下文中存储会话声明的键类型。
type claimsKey struct{}

// WithClaims 将经过验证的会话声明存入上下文。
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	if claims == nil {
		return ctx
	}
	return context.WithValue(ctx, claimsKey{}, claims)
}

// ClaimsFromContext 从上下文中取出会话声明。
func ClaimsFromContext(ctx context.Context) *Claims {
	if ctx == nil {
		return nil
	}
	if claims, ok := ctx.Value(claimsKey{}).(*Claims); ok {
		return claims
	}
	return nil
}

// UserIDFromContext 返回当前调用方的用户 ID，未认证时为空。
func UserIDFromContext(ctx context.Context) string {
	return ClaimsFromContext(ctx).UserID()
}
