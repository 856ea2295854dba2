package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/domain/repository"
	xhttp "github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/pkg/http"
	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/pkg/queue"
)

const JobTypeSend = "telegram.send"

type sendMessageRequest struct {
	ChatID                string       `json:"chat_id"`
	Text                  string       `json:"text"`
	ParseMode             string       `json:"parse_mode,omitempty"`
	DisableWebPagePreview bool         `json:"disable_web_page_preview"`
	ReplyMarkup           *replyMarkup `json:"reply_markup,omitempty"`
}

type replyMarkup struct {
	InlineKeyboard [][]repository.Button `json:"inline_keyboard"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// TelegramSink posts notifications through the Bot API sendMessage method.
type TelegramSink struct {
	client *xhttp.Client
	apiURL string
	token  string
	chatID string
}

type TelegramOption func(*TelegramSink)

func WithAPIURL(u string) TelegramOption {
	return func(s *TelegramSink) {
		if u != "" {
			s.apiURL = strings.TrimRight(u, "/")
		}
	}
}

func WithClient(c *xhttp.Client) TelegramOption {
	return func(s *TelegramSink) {
		if c != nil {
			s.client = c
		}
	}
}

func NewTelegramSink(token, chatID string, opts ...TelegramOption) *TelegramSink {
	s := &TelegramSink{
		apiURL: "https://api.telegram.org",
		token:  token,
		chatID: chatID,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = xhttp.NewClient(xhttp.WithTimeout(10 * time.Second))
	}
	return s
}

func (s *TelegramSink) Send(ctx context.Context, n repository.Notification) error {
	req := sendMessageRequest{
		ChatID:                s.chatID,
		Text:                  n.Text,
		DisableWebPagePreview: true,
	}
	if n.Markdown {
		req.ParseMode = "Markdown"
	}
	if len(n.Buttons) > 0 {
		req.ReplyMarkup = &replyMarkup{InlineKeyboard: n.Buttons}
	}

	var resp apiResponse
	err := s.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodPost,
		URL:    fmt.Sprintf("%s/bot%s/sendMessage", s.apiURL, s.token),
		Body:   req,
	}, &resp)
	if err != nil {
		return fmt.Errorf("telegram sendMessage: %w", s.redact(err))
	}
	if !resp.OK {
		return fmt.Errorf("telegram sendMessage: %s", resp.Description)
	}
	return nil
}

// redact strips the bot token from transport errors, whose text carries the
// request URL.
func (s *TelegramSink) redact(err error) error {
	var ue *url.Error
	if s.token != "" && errors.As(err, &ue) {
		ue.URL = strings.ReplaceAll(ue.URL, s.token, "<redacted>")
	}
	return err
}

// QueueSink defers delivery to the Redis queue; SendJob performs it.
type QueueSink struct {
	q queue.Publisher
}

func NewQueueSink(q queue.Publisher) *QueueSink {
	return &QueueSink{q: q}
}

func (s *QueueSink) Send(ctx context.Context, n repository.Notification) error {
	if err := s.q.PublishMessage(ctx, JobTypeSend, n); err != nil {
		return fmt.Errorf("enqueue notification %s: %w", n.ID, err)
	}
	return nil
}

// SendJob is the queue consumer side of QueueSink.
type SendJob struct {
	sink repository.NotificationSink
}

func NewSendJob(sink repository.NotificationSink) *SendJob {
	return &SendJob{sink: sink}
}

func (j *SendJob) Type() string { return JobTypeSend }

func (j *SendJob) Handle(ctx context.Context, payload json.RawMessage) error {
	n, err := queue.Decode[repository.Notification](payload)
	if err != nil {
		return err
	}
	return j.sink.Send(ctx, n)
}
