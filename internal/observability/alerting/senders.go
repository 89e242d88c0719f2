package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/smtp"
	"strings"
	"time"
)

// defaultWebhookClient 供未显式注入 http.Client 的 webhook 发送器使用。
var defaultWebhookClient = &http.Client{Timeout: 10 * time.Second}

// SMTPConfig 描述告警邮件所用的 SMTP 服务。
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPSender 通过标准 SMTP 协议发送告警邮件。
type SMTPSender struct {
	cfg SMTPConfig
}

// NewSMTPSender 创建 SMTP 邮件发送器。
func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	if cfg.Port <= 0 {
		cfg.Port = 25
	}
	return &SMTPSender{cfg: cfg}
}

// Send 实现 EmailSender。smtp.SendMail 本身不接受 context,
// 发送前先检查取消状态,避免在关停阶段继续投递。
func (s *SMTPSender) Send(ctx context.Context, subject, content string, to []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", s.cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	msg.WriteString(content)

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	if err := smtp.SendMail(addr, auth, s.cfg.From, to, []byte(msg.String())); err != nil {
		return fmt.Errorf("发送告警邮件失败: %w", err)
	}
	return nil
}

// DingTalkWebhook 调用钉钉自定义机器人 webhook。
type DingTalkWebhook struct {
	URL    string
	Client *http.Client
}

// Send 实现 DingTalkSender。
func (w *DingTalkWebhook) Send(ctx context.Context, content string) error {
	payload := map[string]any{
		"msgtype": "text",
		"text":    map[string]string{"content": content},
	}
	return postJSON(ctx, orDefault(w.Client), w.URL, payload)
}

// SlackWebhook 调用 Slack incoming webhook。
type SlackWebhook struct {
	URL    string
	Client *http.Client
}

// Send 实现 SlackSender。channel 为空时沿用 webhook 预设的频道。
func (w *SlackWebhook) Send(ctx context.Context, channel, content string) error {
	payload := map[string]any{"text": content}
	if channel != "" {
		payload["channel"] = channel
	}
	return postJSON(ctx, orDefault(w.Client), w.URL, payload)
}

func orDefault(client *http.Client) *http.Client {
	if client != nil {
		return client
	}
	return defaultWebhookClient
}

func postJSON(ctx context.Context, client *http.Client, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化告警消息失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("构建告警请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("发送告警请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("告警服务返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return nil
}
