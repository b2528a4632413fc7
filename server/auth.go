package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"echoes/core/session"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const listenerKey contextKey = "listener"

// Authenticator 校验 bearer token，token 的 subject 即 listener id
type Authenticator struct {
	secret []byte
}

// NewAuthenticator 密钥为空时返回 nil，表示不启用认证
func NewAuthenticator(secret string) *Authenticator {
	if secret == "" {
		return nil
	}
	return &Authenticator{secret: []byte(secret)}
}

// IssueToken 为 listener 签发 HS256 token
func (a *Authenticator) IssueToken(listener string, ttl time.Duration) (string, error) {
	if listener == "" {
		return "", errors.New("listener is required")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   listener,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// ParseToken 校验 token 并返回 listener
func (a *Authenticator) ParseToken(tokenStr string) (string, error) {
	var claims jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return "", err
	}
	if !token.Valid || claims.Subject == "" {
		return "", errors.New("invalid token claims")
	}
	return claims.Subject, nil
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	// 浏览器的 WebSocket 无法设置请求头
	return r.URL.Query().Get("token")
}

// Middleware 把 listener 写入请求上下文；未启用认证时所有请求都是匿名 listener
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a == nil {
			next.ServeHTTP(w, r.WithContext(withListener(r.Context(), session.AnonymousListener)))
			return
		}
		tokenStr := bearerToken(r)
		if tokenStr == "" {
			http.Error(w, "Authorization header is required", http.StatusUnauthorized)
			return
		}
		listener, err := a.ParseToken(tokenStr)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(withListener(r.Context(), listener)))
	})
}

func withListener(ctx context.Context, listener string) context.Context {
	return context.WithValue(ctx, listenerKey, listener)
}

// ListenerFromContext 读取中间件写入的 listener
func ListenerFromContext(ctx context.Context) string {
	if l, ok := ctx.Value(listenerKey).(string); ok {
		return l
	}
	return session.AnonymousListener
}
