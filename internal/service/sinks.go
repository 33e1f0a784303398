package service

import (
	"context"

	repository "github.com/ds124wfegd/cca-waitlist/internal/database/postgres"
	"github.com/ds124wfegd/cca-waitlist/internal/entity"
	"github.com/ds124wfegd/cca-waitlist/internal/i18n"
	"github.com/ds124wfegd/cca-waitlist/pkg/rabbitMQ"
)

// InboxSink сохраняет уведомление во встроенный inbox (таблица notifications)
type InboxSink struct {
	repo repository.NotificationRepository
}

func NewInboxSink(repo repository.NotificationRepository) *InboxSink {
	return &InboxSink{repo: repo}
}

func (s *InboxSink) Name() string { return "inbox" }

func (s *InboxSink) Send(ctx context.Context, n entity.Notification) error {
	return s.repo.Create(ctx, &n)
}

// BrokerSink отдает уведомление в RabbitMQ для почтовой рассылки
type BrokerSink struct {
	publisher rabbitMQ.Publisher
}

func NewBrokerSink(publisher rabbitMQ.Publisher) *BrokerSink {
	return &BrokerSink{publisher: publisher}
}

func (s *BrokerSink) Name() string { return "rabbitmq" }

func (s *BrokerSink) Send(ctx context.Context, n entity.Notification) error {
	return s.publisher.Publish(ctx, n)
}

// MessageSender отправляет текст в служебный чат
type MessageSender interface {
	SendMessage(text string) error
}

// OpsChatSink дублирует выдачу и истечение предложений в чат организаторов
type OpsChatSink struct {
	sender     MessageSender
	translator Translator
	locale     string
}

func NewOpsChatSink(sender MessageSender, translator Translator, locale string) *OpsChatSink {
	return &OpsChatSink{sender: sender, translator: translator, locale: locale}
}

func (s *OpsChatSink) Name() string { return "telegram" }

func (s *OpsChatSink) Send(_ context.Context, n entity.Notification) error {
	var key string
	switch n.Kind {
	case entity.NotificationPromotionOffered:
		key = i18n.KeyOpsOffered
	case entity.NotificationPromotionExpired:
		key = i18n.KeyOpsExpired
	default:
		return nil
	}

	data := templateData(n.Metadata)
	data["UserID"] = n.UserID
	return s.sender.SendMessage(s.translator.T(s.locale, key, data))
}
