package chat

import (
	"net/http"

	"PPRelay/logger"
	"PPRelay/middleware"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// newUpgrader 按 allowOrigins 校验浏览器来源；没有 Origin 头的非浏览器客户端直接放行
func newUpgrader(allowOrigins []string) *websocket.Upgrader {
	match := middleware.OriginMatcher(allowOrigins)
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || match(origin)
		},
	}
}

// HandleWS 升级为 websocket 并在当前请求协程里跑完整个会话
func (s *Server) HandleWS(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// 常见：非 WebSocket 请求/握手失败，Upgrade 已经写回了错误响应
		logger.Infof("[HandleWS] upgrade websocket error: %v", err)
		return
	}
	defer func() { _ = ws.Close() }()

	if s.opts.MaxMessageSize > 0 {
		ws.SetReadLimit(s.opts.MaxMessageSize)
	}
	s.Serve(ws)
}
