package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/shopspring/decimal"
)

type Email struct {
	To      string
	Subject string
	HTML    string
}

// ShortID is the first group of the order UUID, upper-cased.
func ShortID(orderID string) string {
	head, _, _ := strings.Cut(orderID, "-")
	return strings.ToUpper(head)
}

// FormatBRL renders an amount as R$ 1.234,56.
func FormatBRL(v decimal.Decimal) string {
	s := v.Abs().StringFixed(2)
	intPart, frac, _ := strings.Cut(s, ".")
	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	sign := ""
	if v.IsNegative() {
		sign = "-"
	}
	return sign + "R$ " + b.String() + "," + frac
}

const layoutOpen = `<div style="font-family: sans-serif; max-width: 600px; margin: 0 auto;">`
const signature = `<div style="margin-top: 30px; padding-top: 20px; border-top: 1px solid #e5e7eb;"><p style="color: #6b7280; font-size: 14px;">Equipe Raystar</p></div></div>`

var templates = map[Kind]*template.Template{
	KindOrderCreated: template.Must(template.New("order_created").Parse(layoutOpen + `
<h1>Olá, {{.Name}}!</h1>
<p>Recebemos seu pedido com sucesso. Estamos aguardando a confirmação do pagamento.</p>
<div style="border: 1px solid #e5e7eb; padding: 20px; border-radius: 8px;">
<p><strong>Pedido:</strong> #{{.ShortID}}</p>
<p><strong>Total:</strong> {{.Total}}</p>
<p><strong>Forma de Pagamento:</strong> {{.Method}}</p>
</div>
{{if and (eq .Method "PIX") .PixCode}}<div style="background-color: #f0f9ff; padding: 15px; border-radius: 8px; margin: 20px 0;">
<h3 style="color: #0284c7; margin-top: 0;">Pagamento via PIX</h3>
<p>Copie e cole o código abaixo no seu banco:</p>
<code style="background: #e2e8f0; padding: 10px; display: block; word-break: break-all; border-radius: 4px;">{{.PixCode}}</code>
</div>{{end}}
{{if and (eq .Method "BOLETO") .BoletoURL}}<div style="background-color: #fff7ed; padding: 15px; border-radius: 8px; margin: 20px 0;">
<h3 style="color: #ea580c; margin-top: 0;">Boleto Bancário</h3>
<p><a href="{{.BoletoURL}}" target="_blank">Baixar Boleto</a></p>
</div>{{end}}
<p style="color: #6b7280; font-size: 14px; margin-top: 30px;">Você pode acompanhar o status em "Minha Conta" no site.</p>
</div>`)),

	KindPaymentConfirmed: template.Must(template.New("payment_confirmed").Parse(layoutOpen + `
<h1 style="color: #16a34a;">Pagamento Confirmado!</h1>
<p>Olá, {{.Name}}.</p>
<p>Seu pagamento para o pedido <strong>#{{.ShortID}}</strong> foi aprovado com sucesso.</p>
<p>Já estamos preparando seus produtos para envio.</p>
` + signature)),

	KindDispatched: template.Must(template.New("dispatched").Parse(layoutOpen + `
<h1 style="color: #2563eb;">Seu pedido saiu para entrega!</h1>
<p>Olá, {{.Name}}.</p>
<p>Boas notícias! Seu pedido <strong>#{{.ShortID}}</strong> já está com a transportadora/entregador.</p>
{{if .TrackingCode}}<p>Código de Rastreio: <strong>{{.TrackingCode}}</strong></p>{{end}}
<p>Fique atento ao endereço de entrega.</p>
` + signature)),
}

var subjects = map[Kind]string{
	KindOrderCreated:     "Pedido Recebido! #%s",
	KindPaymentConfirmed: "Pagamento Aprovado! Pedido #%s",
	KindDispatched:       "Pedido a Caminho! #%s",
}

type view struct {
	Name         string
	ShortID      string
	Total        string
	Method       string
	PixCode      string
	BoletoURL    string
	TrackingCode string
}

func Render(r Request) (Email, error) {
	tmpl, ok := templates[r.Kind]
	if !ok {
		return Email{}, fmt.Errorf("notify: unknown kind %q", r.Kind)
	}
	name := r.Name
	if name == "" {
		name = "Cliente"
	}
	short := ShortID(r.Summary.OrderID)
	v := view{
		Name:         name,
		ShortID:      short,
		Total:        FormatBRL(r.Summary.Total),
		Method:       strings.ToUpper(r.Summary.PaymentMethod),
		PixCode:      r.Summary.PixCode,
		BoletoURL:    r.Summary.BoletoURL,
		TrackingCode: r.Summary.TrackingCode,
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, v); err != nil {
		return Email{}, fmt.Errorf("render %s: %w", r.Kind, err)
	}
	return Email{To: r.To, Subject: fmt.Sprintf(subjects[r.Kind], short), HTML: buf.String()}, nil
}
