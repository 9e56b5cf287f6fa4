package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/smtp"
	"os"
	"strings"
	"time"

	"AgroSubsidy-Chain/pkg/logger"
)

// webhookTimeout 限定单次 Webhook 投递的耗时。
const webhookTimeout = 10 * time.Second

var (
	_ DingTalkSender = (*DingTalkWebhookSender)(nil)
	_ SlackSender    = (*SlackWebhookSender)(nil)
	_ EmailSender    = (*SMTPSender)(nil)
	_ Notifier       = (*LogNotifier)(nil)
)

// DingTalkWebhookSender 通过自定义机器人 Webhook 发送文本消息。
type DingTalkWebhookSender struct {
	URL    string
	Client *http.Client
}

// Send 投递钉钉文本消息。
func (s *DingTalkWebhookSender) Send(ctx context.Context, content string) error {
	payload := map[string]any{
		"msgtype": "text",
		"text":    map[string]string{"content": content},
	}
	return postJSON(ctx, s.Client, s.URL, payload)
}

// SlackWebhookSender 通过 Incoming Webhook 发送消息。
type SlackWebhookSender struct {
	URL    string
	Client *http.Client
}

// Send 投递 Slack 消息。
func (s *SlackWebhookSender) Send(ctx context.Context, channel, content string) error {
	payload := map[string]string{"text": content}
	if channel != "" {
		payload["channel"] = channel
	}
	return postJSON(ctx, s.Client, s.URL, payload)
}

func postJSON(ctx context.Context, client *http.Client, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化告警消息失败: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: webhookTimeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("构造告警请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("投递告警失败: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("告警渠道返回 %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return nil
}

// SMTPSender 通过 SMTP 发送告警邮件。
type SMTPSender struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Send 发送一封纯文本邮件。
func (s *SMTPSender) Send(ctx context.Context, subject, content string, to []string) error {
	var msg strings.Builder
	msg.WriteString("From: " + s.From + "\r\n")
	msg.WriteString("To: " + strings.Join(to, ", ") + "\r\n")
	msg.WriteString("Subject: " + subject + "\r\n")
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n")
	msg.WriteString(content)

	var auth smtp.Auth
	if s.Username != "" {
		auth = smtp.PlainAuth("", s.Username, s.Password, s.Host)
	}
	addr := fmt.Sprintf("%s:%d", s.Host, s.Port)
	if err := smtp.SendMail(addr, auth, s.From, to, []byte(msg.String())); err != nil {
		return fmt.Errorf("发送告警邮件失败: %w", err)
	}
	return nil
}

// Config 描述按渠道名装配分发器所需的参数。
type Config struct {
	Channels           []string
	DingTalkWebhookEnv string
	SlackWebhookEnv    string
	SlackChannel       string
	Email              EmailConfig
}

// EmailConfig 描述邮件渠道的 SMTP 参数，口令通过环境变量引用。
type EmailConfig struct {
	Host          string
	Port          int
	Username      string
	PasswordEnv   string
	From          string
	To            []string
	SubjectPrefix string
}

// FromConfig 按配置装配告警分发器。未配置齐全的渠道记一条警告后跳过，
// 日志渠道无外部依赖，始终可用。
func FromConfig(cfg Config) (*FanoutDispatcher, error) {
	var notifiers []Notifier
	for _, name := range cfg.Channels {
		switch Channel(strings.ToLower(strings.TrimSpace(name))) {
		case ChannelLog:
			notifiers = append(notifiers, &LogNotifier{})
		case ChannelDingTalk:
			url := envValue(cfg.DingTalkWebhookEnv)
			if url == "" {
				logger.L().Warn("钉钉告警渠道未配置 Webhook，跳过", slog.String("env", cfg.DingTalkWebhookEnv))
				continue
			}
			notifiers = append(notifiers, &DingTalkNotifier{Sender: &DingTalkWebhookSender{URL: url}})
		case ChannelSlack:
			url := envValue(cfg.SlackWebhookEnv)
			if url == "" {
				logger.L().Warn("Slack 告警渠道未配置 Webhook，跳过", slog.String("env", cfg.SlackWebhookEnv))
				continue
			}
			notifiers = append(notifiers, &SlackNotifier{
				Sender:    &SlackWebhookSender{URL: url},
				ChannelID: cfg.SlackChannel,
			})
		case ChannelEmail:
			if cfg.Email.Host == "" || cfg.Email.From == "" || len(cfg.Email.To) == 0 {
				logger.L().Warn("邮件告警渠道配置不完整，跳过", slog.String("host", cfg.Email.Host))
				continue
			}
			port := cfg.Email.Port
			if port <= 0 {
				port = 587
			}
			notifiers = append(notifiers, &EmailNotifier{
				Sender: &SMTPSender{
					Host:     cfg.Email.Host,
					Port:     port,
					Username: cfg.Email.Username,
					Password: envValue(cfg.Email.PasswordEnv),
					From:     cfg.Email.From,
				},
				To:            cfg.Email.To,
				SubjectPrefix: cfg.Email.SubjectPrefix,
			})
		default:
			return nil, fmt.Errorf("未知的告警渠道: %s", name)
		}
	}
	return NewFanout(notifiers...), nil
}

func envValue(name string) string {
	if strings.TrimSpace(name) == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(name))
}
