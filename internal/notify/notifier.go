package notify

import (
	"bytes"
	"context"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
)

type Email struct {
	To      []string
	Subject string
	Text    string
	HTML    string
}

// Notifier delivers transactional messages. Implementations must not block
// the request path.
type Notifier interface {
	Notify(ctx context.Context, msg Email)
}

type Nop struct{}

func (Nop) Notify(context.Context, Email) {}

// Kind names one of the built-in message templates.
type Kind string

const (
	OrderPaid     Kind = "order_paid"
	OrderShipped  Kind = "order_shipped"
	RefundDecided Kind = "refund_decided"
	ShopStatus    Kind = "shop_status"
)

type tmpl struct {
	subject string
	body    string
}

var templates = map[Kind]tmpl{
	OrderPaid: {
		subject: "Order {{.OrderID}} confirmed",
		body:    "Thanks for your order at {{.ShopName}}.\nOrder: {{.OrderID}}\nTotal: {{.Total}} {{.Currency}}\n",
	},
	OrderShipped: {
		subject: "Order {{.OrderID}} is on its way",
		body:    "Your order {{.OrderID}} has shipped.\nCarrier: {{.Carrier}}\nTracking: {{.TrackingNumber}}\n",
	},
	RefundDecided: {
		subject: "Refund {{.Decision}} for order {{.OrderID}}",
		body:    "Your refund request for order {{.OrderID}} was {{.Decision}}.\nAmount: {{.Amount}} {{.Currency}}\n{{if .Note}}Note: {{.Note}}\n{{end}}",
	},
	ShopStatus: {
		subject: "Your shop {{.ShopName}} is now {{.Status}}",
		body:    "The status of {{.ShopName}} changed to {{.Status}}.\n{{if .Reason}}Reason: {{.Reason}}\n{{end}}",
	},
}

// Render fills the template for kind. The HTML part is the text body
// escaped and wrapped in <pre>.
func Render(kind Kind, to string, data any) (Email, error) {
	t, ok := templates[kind]
	if !ok {
		return Email{}, fmt.Errorf("unknown notification kind %q", kind)
	}
	subject, err := execText(string(kind)+".subject", t.subject, data)
	if err != nil {
		return Email{}, err
	}
	text, err := execText(string(kind)+".body", t.body, data)
	if err != nil {
		return Email{}, err
	}
	var html bytes.Buffer
	if err := htmlWrapper.Execute(&html, text); err != nil {
		return Email{}, err
	}
	return Email{To: []string{to}, Subject: subject, Text: text, HTML: html.String()}, nil
}

var htmlWrapper = htmltemplate.Must(htmltemplate.New("wrap").Parse(`<html><body><pre style="font-family:sans-serif">{{.}}</pre></body></html>`))

func execText(name, src string, data any) (string, error) {
	t, err := texttemplate.New(name).Option("missingkey=zero").Parse(src)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}

// Send renders and hands the message to n, logging nothing on success. A
// render failure is returned so callers can log it with context.
func Send(ctx context.Context, n Notifier, kind Kind, to string, data any) error {
	if n == nil || strings.TrimSpace(to) == "" {
		return nil
	}
	msg, err := Render(kind, to, data)
	if err != nil {
		return err
	}
	n.Notify(ctx, msg)
	return nil
}
