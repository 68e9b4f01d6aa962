package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// OriginMatcher 返回来源白名单判断。allowOrigins 为空或包含 "*" 时放行任意来源。
func OriginMatcher(allowOrigins []string) func(origin string) bool {
	allowed := make(map[string]bool, len(allowOrigins))
	for _, o := range allowOrigins {
		if o == "*" {
			return func(string) bool { return true }
		}
		allowed[o] = true
	}
	if len(allowed) == 0 {
		return func(string) bool { return true }
	}
	return func(origin string) bool { return allowed[origin] }
}

// Cors 跨域处理，来源规则同 OriginMatcher
func Cors(allowOrigins []string) gin.HandlerFunc {
	match := OriginMatcher(allowOrigins)

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && match(origin) {
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Add("Vary", "Origin")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
