// Package identity はWebSocketハンドシェイク時の接続者識別を提供する。
//
// 認証はオプショナルであり、トークンの欠落・不正・検証タイムアウトの
// いずれの場合も接続を拒否せず匿名アイデンティティへフォールバックする。
package identity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/spotter/internal/model"
)

// tokenClaims はアクセストークンのクレーム構造。
type tokenClaims struct {
	DisplayName string `json:"name"`
	Admin       bool   `json:"admin"`
	jwt.RegisteredClaims
}

// Verifier はHS256署名のアクセストークンを検証する。
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify はトークンを検証し、認証済みアイデンティティを返す。
// 署名不正・期限切れ・subクレーム欠落はエラーとなる。
func (v *Verifier) Verify(ctx context.Context, tokenString string) (model.Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &tokenClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return model.Identity{}, model.NewInvalidTokenError(fmt.Sprintf("token validation failed: %v", err))
	}

	claims, ok := token.Claims.(*tokenClaims)
	if !ok || !token.Valid {
		return model.Identity{}, model.NewInvalidTokenError("token claims are malformed")
	}
	if claims.Subject == "" {
		return model.Identity{}, model.NewInvalidTokenError("token has no subject")
	}

	name := claims.DisplayName
	if name == "" {
		name = "ユーザー"
	}

	return model.Identity{
		UserID:        claims.Subject,
		DisplayName:   name,
		Authenticated: true,
		Admin:         claims.Admin,
	}, nil
}

// Anonymous は匿名アイデンティティを生成する。
// ユーザーIDと表示名は接続ごとに一意で、再接続時に引き継がれない。
func Anonymous() model.Identity {
	id := uuid.NewString()
	return model.Identity{
		UserID:        "guest-" + id,
		DisplayName:   "ゲスト-" + id[:8],
		Authenticated: false,
	}
}

// ResolveIdentity はハンドシェイク時のトークンからアイデンティティを解決する。
// トークンが空・不正、または検証がtimeout内に完了しない場合は匿名へ
// フォールバックし、接続自体は常に受理される。
func ResolveIdentity(ctx context.Context, v *Verifier, tokenString string, timeout time.Duration, logger *slog.Logger) model.Identity {
	if tokenString == "" {
		return Anonymous()
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	identity, err := v.Verify(ctx, tokenString)
	if err != nil {
		logger.Debug("トークン検証に失敗したため匿名として扱います",
			slog.String("error", err.Error()),
		)
		return Anonymous()
	}
	return identity
}
