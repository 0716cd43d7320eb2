package main

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/aagudeloRN/RAGPruebas/api/handlers"
	"github.com/aagudeloRN/RAGPruebas/config"
	"github.com/aagudeloRN/RAGPruebas/internal/ctxkeys"
	"github.com/aagudeloRN/RAGPruebas/types"
)

// Authenticate 接受 X-API-Key 或 Authorization: Bearer <JWT> 任一凭证。
// 两者都未配置时不做认证；publicPaths 中的探针路径始终放行。
func Authenticate(apiKeys []string, jwtCfg config.JWTConfig, publicPaths []string, logger *zap.Logger) Middleware {
	public := make(map[string]bool, len(publicPaths))
	for _, p := range publicPaths {
		public[p] = true
	}
	keys := newKeySet(apiKeys)
	verifier := newJWTVerifier(jwtCfg)

	return func(next http.Handler) http.Handler {
		if keys.empty() && verifier == nil {
			return next
		}
		deny := func(w http.ResponseWriter, r *http.Request, msg string) {
			handlers.WriteErrorMessage(w, r, http.StatusUnauthorized, types.ErrUnauthorized, msg, nil)
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if public[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			if key := r.Header.Get("X-API-Key"); key != "" && !keys.empty() {
				if !keys.contains(key) {
					deny(w, r, "invalid API key")
					return
				}
				next.ServeHTTP(w, r.WithContext(ctxkeys.WithAPIKeyID(r.Context(), maskKey(key))))
				return
			}

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || verifier == nil {
				deny(w, r, "missing credentials")
				return
			}
			sub, err := verifier.verify(token)
			if err != nil {
				logger.Debug("JWT validation failed", zap.Error(err))
				deny(w, r, "invalid or expired token")
				return
			}
			next.ServeHTTP(w, r.WithContext(ctxkeys.WithSubject(r.Context(), sub)))
		})
	}
}

type keySet [][]byte

func newKeySet(keys []string) keySet {
	s := make(keySet, 0, len(keys))
	for _, k := range keys {
		if k != "" {
			s = append(s, []byte(k))
		}
	}
	return s
}

func (s keySet) empty() bool { return len(s) == 0 }

// contains 逐个做常量时间比较，不提前返回
func (s keySet) contains(key string) bool {
	candidate := []byte(key)
	match := 0
	for _, k := range s {
		match |= subtle.ConstantTimeCompare(k, candidate)
	}
	return match == 1
}

// maskKey 日志与 context 中只保留末 4 位
func maskKey(key string) string {
	if len(key) <= 4 {
		return "key_****"
	}
	return "key_" + key[len(key)-4:]
}

// jwtVerifier 只接受带 exp 的 HS256 token
type jwtVerifier struct {
	secret []byte
	parser *jwt.Parser
}

func newJWTVerifier(cfg config.JWTConfig) *jwtVerifier {
	if cfg.Secret == "" {
		return nil
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	return &jwtVerifier{secret: []byte(cfg.Secret), parser: jwt.NewParser(opts...)}
}

// verify 返回 sub 声明
func (v *jwtVerifier) verify(raw string) (string, error) {
	var claims jwt.RegisteredClaims
	token, err := v.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", errors.New("invalid token")
	}
	return claims.Subject, nil
}
