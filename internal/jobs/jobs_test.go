package jobs

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInventoryWireShape(t *testing.T) {
	body, err := json.Marshal(UpdateStock{ProductID: "p1", Amount: 5})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"UPDATE_STOCK","productId":"p1","amount":5}`, string(body))

	body, err = json.Marshal(BatchUpdate{OrderItems: []OrderItem{{Product: "p1", Amount: 2}}, Applied: []string{"p1"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"BATCH_UPDATE","orderItems":[{"product":"p1","amount":2}],"applied":["p1"]}`, string(body))
}

func TestDecodeInventory(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    InventoryJob
		wantErr bool
	}{
		{
			name: "update stock",
			raw:  `{"type":"UPDATE_STOCK","productId":"p1","amount":3}`,
			want: UpdateStock{ProductID: "p1", Amount: 3},
		},
		{
			name: "restore stock",
			raw:  `{"type":"RESTORE_STOCK","productId":"p2","amount":1}`,
			want: RestoreStock{ProductID: "p2", Amount: 1},
		},
		{
			name: "batch without progress",
			raw:  `{"type":"BATCH_UPDATE","orderItems":[{"product":"p1","amount":1}]}`,
			want: BatchUpdate{OrderItems: []OrderItem{{Product: "p1", Amount: 1}}},
		},
		{name: "unknown type", raw: `{"type":"SHRED"}`, wantErr: true},
		{name: "missing amount", raw: `{"type":"UPDATE_STOCK","productId":"p1"}`, wantErr: true},
		{name: "empty batch", raw: `{"type":"BATCH_UPDATE","orderItems":[]}`, wantErr: true},
		{name: "not json", raw: `nope`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeInventory(json.RawMessage(tt.raw))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPayload)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEmailWireShape(t *testing.T) {
	body, err := json.Marshal(ForgotPasswordEmail{Email: "a@b.c", ResetLink: "https://x/reset"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"FORGOT_PASSWORD","data":{"email":"a@b.c","resetLink":"https://x/reset"}}`, string(body))

	got, err := DecodeEmail(body)
	require.NoError(t, err)
	assert.Equal(t, "a@b.c", got.Recipient())
	assert.IsType(t, ForgotPasswordEmail{}, got)
}

func TestDecodeEmailRejectsUnknownType(t *testing.T) {
	_, err := DecodeEmail(json.RawMessage(`{"type":"NEWSLETTER","data":{}}`))
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestDecodePayment(t *testing.T) {
	p, err := DecodePayment(json.RawMessage(`{"orderId":"o1","paymentStatus":"SUCCESS","paymentMethod":"VNPAY"}`))
	require.NoError(t, err)
	assert.Equal(t, PaymentSuccess, p.PaymentStatus)

	_, err = DecodePayment(json.RawMessage(`{"orderId":"o1","paymentStatus":"MAYBE"}`))
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = DecodePayment(json.RawMessage(`{"paymentStatus":"FAILED"}`))
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestDisplayTitle(t *testing.T) {
	assert.Equal(t, "Order cancelled", DisplayTitle(ActionCancelOrder))
	assert.Equal(t, "custom", DisplayTitle("custom"))
}
