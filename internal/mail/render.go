package mail

import (
	"bytes"
	"fmt"
	"html/template"
	"net/url"
	"strings"

	"github.com/cuongbtq/order-fulfillment/internal/jobs"
)

var templates = template.Must(template.New("mail").Parse(`
{{define "create_order"}}<div><b>Your order at {{.Shop}} was placed successfully</b></div>
{{range .Items}}<div>
  <div>You ordered <b>{{.Name}}</b>, quantity <b>{{.Amount}}</b>, price <b>{{printf "%.0f" .Price}} VND</b></div>
  {{if .Image}}<div><img src="{{.Image}}" alt="{{.Name}}" width="160"></div>{{end}}
</div>
{{end}}{{end}}
{{define "forgot_password"}}<div>Click the link below to reset your password.</div>
<div><a href="{{.ResetLink}}">{{.ResetLink}}</a></div>{{end}}
`))

// Renderer turns email jobs into messages.
type Renderer struct {
	Shop string
}

// Render builds the message for an email job. Order item images that point
// at local files are attached, remote ones are linked inline.
func (r Renderer) Render(job jobs.EmailJob) (Message, error) {
	var buf bytes.Buffer

	switch e := job.(type) {
	case jobs.CreateOrderEmail:
		data := struct {
			Shop  string
			Items []jobs.EmailOrderItem
		}{Shop: r.Shop, Items: e.OrderItems}
		if err := templates.ExecuteTemplate(&buf, "create_order", data); err != nil {
			return Message{}, fmt.Errorf("render order email: %w", err)
		}

		msg := Message{
			To:      e.Email,
			Subject: fmt.Sprintf("Your order at %s", r.Shop),
			HTML:    buf.String(),
			Text:    orderText(e.OrderItems),
		}
		for _, item := range e.OrderItems {
			if path, ok := localPath(item.Image); ok {
				msg.Attachments = append(msg.Attachments, Attachment{Path: path})
			}
		}
		return msg, nil

	case jobs.ForgotPasswordEmail:
		if err := templates.ExecuteTemplate(&buf, "forgot_password", e); err != nil {
			return Message{}, fmt.Errorf("render reset email: %w", err)
		}
		return Message{
			To:      e.Email,
			Subject: "Reset your password",
			HTML:    buf.String(),
			Text:    "Open this link to reset your password: " + e.ResetLink,
		}, nil

	default:
		return Message{}, fmt.Errorf("no template for email type %s", job.JobType())
	}
}

func orderText(items []jobs.EmailOrderItem) string {
	var b strings.Builder
	b.WriteString("Your order was placed successfully.\n")
	for _, item := range items {
		fmt.Fprintf(&b, "- %s x%d, %.0f VND\n", item.Name, item.Amount, item.Price)
	}
	return b.String()
}

// localPath returns the file system path of an image reference that is not
// a remote URL.
func localPath(ref string) (string, bool) {
	if ref == "" {
		return "", false
	}
	u, err := url.Parse(ref)
	switch {
	case err != nil:
		return "", false
	case u.Scheme == "":
		return ref, true
	case u.Scheme == "file":
		return u.Path, true
	default:
		return "", false
	}
}
