package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	xerrors "LobsterMarket/internal/errors"
	"LobsterMarket/pkg/logger"
)

// Channel 表示通知渠道。
type Channel string

// 支持的通知渠道
const (
	ChannelLog      Channel = "log"
	ChannelWebhook  Channel = "webhook"
	ChannelDingTalk Channel = "dingtalk"
	ChannelSlack    Channel = "slack"
)

// Event 描述一次需要告警的事件。
type Event struct {
	Code       xerrors.Code      `json:"code"`
	Message    string            `json:"message"`
	Severity   xerrors.Severity  `json:"severity"`
	EntityType string            `json:"entity_type,omitempty"`
	EntityID   string            `json:"entity_id,omitempty"`
	Attempts   int               `json:"attempts,omitempty"`
	MaxRetries int               `json:"max_retries,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Notifier 负责将事件发送到指定渠道。
type Notifier interface {
	Channel() Channel
	Notify(ctx context.Context, event Event) error
}

// Dispatcher 将事件广播给多个通知器。
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// FanoutDispatcher 实现将事件投递到多个通知器的逻辑。
type FanoutDispatcher struct {
	notifiers map[Channel]Notifier
}

// NewFanout 创建一个新的 FanoutDispatcher。
func NewFanout(notifiers ...Notifier) *FanoutDispatcher {
	set := make(map[Channel]Notifier, len(notifiers))
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		set[n.Channel()] = n
	}
	return &FanoutDispatcher{notifiers: set}
}

// Notify 将事件广播至所有注册渠道。
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	var errs []error
	for _, notifier := range d.notifiers {
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", notifier.Channel(), err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// LogNotifier 将告警写入审计日志，未配置外部渠道时作为兜底。
type LogNotifier struct{}

// Channel 返回日志渠道。
func (LogNotifier) Channel() Channel { return ChannelLog }

// Notify 写入审计日志。
func (LogNotifier) Notify(_ context.Context, event Event) error {
	logger.Audit().Warn("alert",
		slog.String("code", string(event.Code)),
		slog.String("severity", string(event.Severity)),
		slog.String("entity_type", event.EntityType),
		slog.String("entity_id", event.EntityID),
		slog.String("message", event.Message),
		slog.Any("metadata", event.Metadata),
	)
	return nil
}

// WebhookNotifier 以 HTTP POST 推送告警。Format 决定消息体格式：
// 默认为事件 JSON，dingtalk 与 slack 使用对应机器人的文本格式。
type WebhookNotifier struct {
	URL    string
	Format Channel
	Client *http.Client
}

// Channel 返回 Webhook 的渠道，未设置格式时为通用 webhook。
func (n *WebhookNotifier) Channel() Channel {
	if n == nil || n.Format == "" {
		return ChannelWebhook
	}
	return n.Format
}

// Notify 发送 Webhook 请求。
func (n *WebhookNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || strings.TrimSpace(n.URL) == "" {
		logger.L().Warn("WebhookNotifier 未正确配置，跳过发送", slog.String("entity_id", event.EntityID))
		return nil
	}
	body, err := n.payload(event)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	client := n.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("webhook responded with status %d", resp.StatusCode)
	}
	return nil
}

func (n *WebhookNotifier) payload(event Event) ([]byte, error) {
	switch n.Format {
	case ChannelDingTalk:
		return json.Marshal(map[string]any{
			"msgtype": "text",
			"text":    map[string]string{"content": renderText(event)},
		})
	case ChannelSlack:
		return json.Marshal(map[string]string{
			"text": fmt.Sprintf("*[%s]* %s - %s", event.Severity, event.Code, event.Message),
		})
	default:
		return json.Marshal(event)
	}
}

func renderText(event Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s\n", event.Severity, event.Code)
	if event.EntityID != "" {
		fmt.Fprintf(&b, "对象: %s %s\n", event.EntityType, event.EntityID)
	}
	if event.MaxRetries > 0 {
		fmt.Fprintf(&b, "重试: %d/%d\n", event.Attempts, event.MaxRetries)
	}
	b.WriteString(event.Message)
	if len(event.Metadata) > 0 {
		keys := make([]string, 0, len(event.Metadata))
		for k := range event.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\n详情:")
		for _, k := range keys {
			fmt.Fprintf(&b, "\n- %s: %s", k, event.Metadata[k])
		}
	}
	return b.String()
}
