package mail

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/order-fulfillment/internal/jobs"
)

func TestRenderCreateOrder(t *testing.T) {
	r := Renderer{Shop: "Gopher Shop"}
	msg, err := r.Render(jobs.CreateOrderEmail{
		Email: "buyer@example.com",
		OrderItems: []jobs.EmailOrderItem{
			{Name: "Keyboard <mech>", Amount: 2, Price: 1500000, Image: "https://cdn.example.com/k.png"},
			{Name: "Cable", Amount: 1, Price: 50000, Image: "/srv/images/cable.png"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "buyer@example.com", msg.To)
	assert.Contains(t, msg.Subject, "Gopher Shop")
	assert.Contains(t, msg.HTML, "Keyboard &lt;mech&gt;")
	assert.Contains(t, msg.HTML, `src="https://cdn.example.com/k.png"`)
	assert.Contains(t, msg.Text, "Cable x1")
	assert.Equal(t, []Attachment{{Path: "/srv/images/cable.png"}}, msg.Attachments)
}

func TestRenderForgotPassword(t *testing.T) {
	msg, err := Renderer{Shop: "Gopher Shop"}.Render(jobs.ForgotPasswordEmail{
		Email:     "user@example.com",
		ResetLink: "https://shop.example.com/reset?token=abc",
	})
	require.NoError(t, err)

	assert.Equal(t, "user@example.com", msg.To)
	assert.Contains(t, msg.HTML, `href="https://shop.example.com/reset?token=abc"`)
	assert.Contains(t, msg.Text, "https://shop.example.com/reset?token=abc")
	assert.Empty(t, msg.Attachments)
}

func TestLocalPath(t *testing.T) {
	tests := []struct {
		ref    string
		want   string
		wantOK bool
	}{
		{"", "", false},
		{"https://x/y.png", "", false},
		{"images/a.png", "images/a.png", true},
		{"file:///tmp/a.png", "/tmp/a.png", true},
	}
	for _, tt := range tests {
		got, ok := localPath(tt.ref)
		assert.Equal(t, tt.wantOK, ok, tt.ref)
		assert.Equal(t, tt.want, got, tt.ref)
	}
}

func TestRenderPricesWithoutExponent(t *testing.T) {
	msg, err := Renderer{Shop: "s"}.Render(jobs.CreateOrderEmail{
		Email:      "a@b.c",
		OrderItems: []jobs.EmailOrderItem{{Name: "TV", Amount: 1, Price: 12500000}},
	})
	require.NoError(t, err)
	assert.Contains(t, msg.HTML, "12500000 VND")
	assert.Contains(t, msg.Text, "12500000 VND")
}
