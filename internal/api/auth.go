package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	loggerpkg "ZKRebalance-Chain/pkg/logger"
)

// requireAuth 在配置了静态令牌时强制校验 Bearer 请求头。
// 健康检查与指标端点始终放行，便于探活与采集。
func (s *Server) requireAuth(next http.Handler) http.Handler {
	if s.token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		// 认证请求。
		token, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			loggerpkg.Audit().Warn("access_denied",
				"path", r.URL.Path,
				"method", r.Method,
				"reason", "missing_token",
			)
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.token)) != 1 {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			loggerpkg.Audit().Warn("access_denied",
				"path", r.URL.Path,
				"method", r.Method,
				"reason", "invalid_token",
			)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// bearerToken 从 Authorization 请求头提取 Bearer 令牌。
func bearerToken(header string) (string, bool) {
	token, ok := strings.CutPrefix(strings.TrimSpace(header), "Bearer ")
	if !ok {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
