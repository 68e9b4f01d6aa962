package security

import (
	"net/http"
	"strings"

	"PPRelay/tools/errs"

	"github.com/gin-gonic/gin"
)

// —— context key ——
// 后续 handler 统一用这个 key 读取已认证的用户
const (
	PPCtxAuthKey = "authorization" // string, 原始 token
	PPCtxUserKey = "user_id"       // string
)

// Verifier 校验 token 并返回用户 id（tools/security.Issuer 满足）
type Verifier interface {
	Verify(token string) (string, error)
}

type Options struct {
	// 读取哪个请求头
	HeaderToken               string // 默认 "authorization"
	EnableAuthorizationBearer bool   // 默认 true

	Verifier Verifier
}

func DefaultOptions(v Verifier) *Options {
	return &Options{
		HeaderToken:               PPCtxAuthKey,
		EnableAuthorizationBearer: true,
		Verifier:                  v,
	}
}

// ExtractToken 读取 token，兼容 Authorization: Bearer xxx
func ExtractToken(c *gin.Context, opts *Options) string {
	token := strings.TrimSpace(c.GetHeader(opts.HeaderToken))
	if opts.EnableAuthorizationBearer {
		if strings.HasPrefix(strings.ToLower(token), "bearer ") {
			return strings.TrimSpace(token[len("bearer "):])
		}
		if authz := strings.TrimSpace(c.GetHeader("Authorization")); strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return strings.TrimSpace(authz[len("bearer "):])
		}
	}
	return token
}

func Middleware(opts *Options) gin.HandlerFunc {
	if opts == nil || opts.Verifier == nil {
		panic("security: middleware needs a verifier")
	}
	return func(c *gin.Context) {
		token := ExtractToken(c, opts)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrUnauthorized.WithDetail("missing token"))
			return
		}
		userID, err := opts.Verifier.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrUnauthorized.WithDetail("invalid token"))
			return
		}
		c.Set(PPCtxAuthKey, token)
		c.Set(PPCtxUserKey, userID)
		c.Next()
	}
}

// UserID returns the authenticated user set by Middleware, or "".
func UserID(c *gin.Context) string {
	return c.GetString(PPCtxUserKey)
}
