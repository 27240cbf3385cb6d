package notify

import (
	"context"
	"log/slog"
	"sync"

	"gopkg.in/gomail.v2"

	"github.com/tringuyen-psa/shopify-shop-sub002/internal/config"
)

// EmailNotifier queues messages and sends them over SMTP from a single
// background worker. A full queue drops the message with a warning.
type EmailNotifier struct {
	cfg  config.SMTPConfig
	send func(Email) error

	queue  chan Email
	mu     sync.Mutex
	ctx    context.Context
	cancel func()
	wg     sync.WaitGroup
}

func NewEmailNotifier(cfg config.SMTPConfig) *EmailNotifier {
	n := newEmailNotifier(cfg, 200)
	n.send = n.dialAndSend
	n.start()
	return n
}

func newEmailNotifier(cfg config.SMTPConfig, queueSize int) *EmailNotifier {
	ctx, cancel := context.WithCancel(context.Background())
	return &EmailNotifier{
		cfg:    cfg,
		queue:  make(chan Email, queueSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (n *EmailNotifier) start() {
	n.wg.Add(1)
	go n.loop()
}

func (n *EmailNotifier) Notify(_ context.Context, msg Email) {
	select {
	case n.queue <- msg:
	default:
		slog.Warn("email dropped: queue full", "subject", msg.Subject, "to", msg.To)
	}
}

func (n *EmailNotifier) loop() {
	defer n.wg.Done()
	for {
		select {
		case <-n.ctx.Done():
			return
		case msg := <-n.queue:
			if err := n.send(msg); err != nil {
				slog.Error("email send failed", "subject", msg.Subject, "to", msg.To, "error", err.Error())
			}
		}
	}
}

func (n *EmailNotifier) dialAndSend(e Email) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", msg.FormatAddress(n.cfg.From, "Marketplace"))
	msg.SetHeader("To", e.To...)
	msg.SetHeader("Subject", e.Subject)
	msg.SetBody("text/plain", e.Text)
	if e.HTML != "" {
		msg.AddAlternative("text/html", e.HTML)
	}
	d := gomail.NewDialer(n.cfg.Host, n.cfg.Port, n.cfg.Username, n.cfg.Password)
	d.SSL = n.cfg.Port == 465
	return d.DialAndSend(msg)
}

// Close stops the worker; queued messages that were not yet picked up are
// discarded.
func (n *EmailNotifier) Close(ctx context.Context) error {
	n.mu.Lock()
	cancel := n.cancel
	n.cancel = nil
	n.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
