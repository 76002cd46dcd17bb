package notifications

import (
	"context"
	"fmt"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/httpclient"
)

const (
	ChannelWebhook = "webhook"
	ChannelKafka   = "kafka"
	ChannelLog     = "log"
)

// WebhookSender POSTs the notification as JSON. Anything but a 2xx is a failure; nothing is retried.
type WebhookSender struct {
	client  *httpclient.Client
	url     string
	headers map[string]string
}

func NewWebhookSender(client *httpclient.Client, url string, headers map[string]string) *WebhookSender {
	return &WebhookSender{
		client:  client,
		url:     url,
		headers: headers,
	}
}

func (s *WebhookSender) Send(ctx context.Context, notification Notification) error {
	resp, err := s.client.PostJSON(ctx, s.url, notification, s.headers)
	if err != nil {
		return httperror.WrapError(http.StatusBadGateway, err)
	}
	if !resp.IsSuccess() {
		return httperror.NewHTTPError(http.StatusBadGateway, fmt.Sprintf("notification webhook returned %d", resp.StatusCode))
	}
	return nil
}

// NotificationPublisher is satisfied by *kafka.Producer
type NotificationPublisher interface {
	PublishNotification(ctx context.Context, key string, kind string, payload any) error
}

// KafkaSender hands notifications to a downstream mailer through a topic.
type KafkaSender struct {
	publisher NotificationPublisher
}

func NewKafkaSender(publisher NotificationPublisher) *KafkaSender {
	return &KafkaSender{publisher: publisher}
}

func (s *KafkaSender) Send(ctx context.Context, notification Notification) error {
	return s.publisher.PublishNotification(ctx, notification.Key.String(), string(notification.Kind), notification)
}

// LogSender only logs. Used in development.
type LogSender struct {
	logger ectologger.Logger
}

func NewLogSender(logger ectologger.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, notification Notification) error {
	s.logger.WithContext(ctx).WithFields(map[string]any{
		"kind":       notification.Kind,
		"plan_id":    notification.PlanID,
		"recipients": len(notification.Recipients),
	}).Infof("Notification: %s", notification.Subject)
	return nil
}
