package auth

import (
	"crypto/subtle"
	"errors"
	"os"
	"strings"
)

// Mode 表示访问控制的运行模式。
type Mode string

const (
	// ModeDisabled 关闭访问控制，所有请求直接放行。
	ModeDisabled Mode = "disabled"
	// ModeStatic 使用配置中列出的静态令牌校验请求。
	ModeStatic Mode = "static"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// Service 校验运营端请求携带的静态 Bearer 令牌。
// 令牌在进程启动时解析一次，之后只读，可以并发使用。
type Service struct {
	mode   Mode
	tokens []string
}

// NewService 构造访问控制服务。tokens 中以 env: 开头的条目在启动时
// 从环境变量读取，配置文件里永远不出现令牌明文。
func NewService(mode string, tokens []string) (*Service, error) {
	m := Mode(strings.TrimSpace(mode))
	if m == "" {
		m = ModeDisabled
	}
	switch m {
	case ModeDisabled:
		return &Service{mode: ModeDisabled}, nil
	case ModeStatic:
	default:
		return nil, errors.New("不支持的访问控制模式: " + string(m))
	}

	resolved := make([]string, 0, len(tokens))
	for _, token := range tokens {
		token = strings.TrimSpace(token)
		if name, ok := strings.CutPrefix(token, "env:"); ok {
			token = strings.TrimSpace(os.Getenv(name))
		}
		if token != "" {
			resolved = append(resolved, token)
		}
	}
	if len(resolved) == 0 {
		return nil, errors.New("static 模式下没有解析到任何可用令牌")
	}
	return &Service{mode: ModeStatic, tokens: resolved}, nil
}

// Enabled 报告访问控制是否生效。
func (s *Service) Enabled() bool {
	return s != nil && s.mode == ModeStatic
}

// Authenticate 校验 Authorization 头。
func (s *Service) Authenticate(header string) error {
	if !s.Enabled() {
		return nil
	}
	header = strings.TrimSpace(header)
	if header == "" {
		return ErrMissingToken
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ErrInvalidToken
	}
	token = strings.TrimSpace(token)
	for _, candidate := range s.tokens {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(token)) == 1 {
			return nil
		}
	}
	return ErrInvalidToken
}
