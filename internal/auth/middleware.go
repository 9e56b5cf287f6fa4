package auth

import (
	"net/http"

	loggerpkg "AgroSubsidy-Chain/pkg/logger"
)

// Middleware 返回保护指定 HTTP 方法的中间件。methods 为空时保护全部
// 方法。访问控制关闭时中间件直接透传。
func (s *Service) Middleware(methods ...string) func(http.Handler) http.Handler {
	protected := make(map[string]bool, len(methods))
	for _, method := range methods {
		protected[method] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !s.Enabled() {
				next.ServeHTTP(w, r)
				return
			}
			if len(protected) > 0 && !protected[r.Method] {
				next.ServeHTTP(w, r)
				return
			}
			if err := s.Authenticate(r.Header.Get("Authorization")); err != nil {
				status := http.StatusUnauthorized
				http.Error(w, http.StatusText(status), status)
				loggerpkg.Audit().Warn("access_denied",
					"path", r.URL.Path,
					"method", r.Method,
					"error", err.Error(),
				)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
