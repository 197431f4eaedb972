// Package notify pushes newly synced portal records to outbound
// channels. Delivery is strictly best-effort: the sync service logs
// and swallows every error returned from here, so an unreachable
// webhook or a misconfigured mailbox never fails a sync.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/jordan-wright/email"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/notify")

// Message is a channel-independent rendering of one new record.
type Message struct {
	Feature string `json:"feature"`
	Title   string `json:"title"`
	Body    string `json:"body"`
}

type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

type WebhookConfig struct {
	Url string `json:"url"`
}

type EmailConfig struct {
	Server   string `json:"server"`
	Port     int    `json:"port"`
	Address  string `json:"address"`
	Password string `json:"password"`
	To       string `json:"to"`
}

type Config struct {
	Webhook WebhookConfig `json:"webhook"`
	Email   EmailConfig   `json:"email"`
}

// FromConfig assembles a notifier from whichever channels the config
// fills in. A config with no channels yields nil, which the sync
// service treats as "notifications disabled".
func FromConfig(config Config) Notifier {
	var channels Multi
	if config.Webhook.Url != "" {
		channels = append(channels, NewWebhook(config.Webhook))
	}
	if config.Email.Server != "" {
		channels = append(channels, Email{config: config.Email})
	}
	if len(channels) == 0 {
		return nil
	}
	return channels
}

type Webhook struct {
	http *resty.Client
}

func NewWebhook(config WebhookConfig) Webhook {
	client := resty.New()
	client.SetBaseURL(config.Url)
	return Webhook{http: client}
}

func (w Webhook) Notify(ctx context.Context, msg Message) error {
	ctx, span := tracer.Start(ctx, "webhook:Notify")
	defer span.End()

	res, err := w.http.R().
		SetContext(ctx).
		SetHeader("content-type", "application/json").
		SetBody(msg).
		Post("")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "webhook post failed")
		return err
	}
	if res.IsError() {
		err := fmt.Errorf("webhook responded with status %d", res.StatusCode())
		span.RecordError(err)
		span.SetStatus(codes.Error, "webhook rejected message")
		return err
	}
	return nil
}

type Email struct {
	config EmailConfig
}

func (e Email) Notify(ctx context.Context, msg Message) error {
	_, span := tracer.Start(ctx, "email:Notify")
	defer span.End()

	mail := email.NewEmail()
	mail.From = fmt.Sprintf("Gakujo <%s>", e.config.Address)
	mail.To = []string{e.config.To}
	mail.Subject = fmt.Sprintf("[%s] %s", msg.Feature, msg.Title)
	mail.Text = []byte(msg.Body)

	addr := fmt.Sprintf("%s:%d", e.config.Server, e.config.Port)
	err := mail.Send(addr, smtp.PlainAuth("", e.config.Address, e.config.Password, e.config.Server))
	if err != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		err = mail.Send(addr, nil)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send email")
		return err
	}
	return nil
}

// Multi fans a message out to every channel and reports the combined
// failures, still attempting the remaining channels after one fails.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, msg Message) error {
	var errs []error
	for _, channel := range m {
		err := channel.Notify(ctx, msg)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
