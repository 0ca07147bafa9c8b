package vnpay

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "SECRETKEY123"

func newTestSigner() *Signer {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 10, 3, 0, 0, 0, time.UTC))
	return NewSigner(Config{
		TmnCode:   "TMN01",
		SecretKey: testSecret,
		PayURL:    "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html",
		ReturnURL: "https://shop.example/payment/return",
	}, clock)
}

func TestEncodeComponent(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"a b", "a+b"},
		{"x/y?z=1&w", "x%2Fy%3Fz%3D1%26w"},
		{"it's (ok)!*", "it's+(ok)!*"},
		{"~-_.", "~-_."},
		{"đơn", "%C4%91%C6%A1n"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, encodeComponent(tt.in))
		})
	}
}

func TestCanonicalQuery_SortsByKey(t *testing.T) {
	got := canonicalQuery(map[string]string{
		"vnp_TxnRef":    "o1",
		"vnp_Amount":    "15000000",
		"vnp_OrderInfo": "Thanh toan (don) hang",
	})
	assert.Equal(t, "vnp_Amount=15000000&vnp_OrderInfo=Thanh+toan+(don)+hang&vnp_TxnRef=o1", got)
}

func TestPaymentURL(t *testing.T) {
	s := newTestSigner()

	raw, err := s.PaymentURL(PaymentRequest{OrderID: "o1", Amount: 150000, ClientIP: "10.0.0.1"})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(raw, "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html?"))

	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "15000000", q.Get("vnp_Amount"))
	assert.Equal(t, "20240510100000", q.Get("vnp_CreateDate"))
	assert.Equal(t, "vn", q.Get("vnp_Locale"))
	assert.Equal(t, "NCB", q.Get("vnp_BankCode"))
	assert.Equal(t, "https://shop.example/payment/return", q.Get("vnp_ReturnUrl"))

	signed := raw[strings.Index(raw, "?")+1 : strings.Index(raw, "&vnp_SecureHash=")]
	mac := hmac.New(sha512.New, []byte(testSecret))
	mac.Write([]byte(signed))
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), q.Get("vnp_SecureHash"))
}

func TestPaymentURL_RejectsNonPositiveAmount(t *testing.T) {
	_, err := newTestSigner().PaymentURL(PaymentRequest{OrderID: "o1"})
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestVerifyIPN(t *testing.T) {
	s := newTestSigner()

	signedCallback := func(responseCode string) url.Values {
		params := map[string]string{
			"vnp_TxnRef":        "o1",
			"vnp_Amount":        "15000000",
			"vnp_ResponseCode":  responseCode,
			"vnp_OrderInfo":     "Thanh toan don hang o1",
			"vnp_TransactionNo": "14012345",
		}
		v := url.Values{}
		for k, val := range params {
			v.Set(k, val)
		}
		v.Set("vnp_SecureHashType", "HmacSHA512")
		v.Set("vnp_SecureHash", s.sign(canonicalQuery(params)))
		// Non vnp_ parameters are ignored.
		v.Set("orderId", "ignored")
		return v
	}

	t.Run("valid success", func(t *testing.T) {
		ipn := s.VerifyIPN(signedCallback("00"))
		assert.True(t, ipn.ValidSignature)
		assert.True(t, ipn.Paid())
		assert.Equal(t, "o1", ipn.OrderID)
	})

	t.Run("valid but declined", func(t *testing.T) {
		ipn := s.VerifyIPN(signedCallback("24"))
		assert.True(t, ipn.ValidSignature)
		assert.False(t, ipn.Paid())
	})

	t.Run("uppercase hash accepted", func(t *testing.T) {
		v := signedCallback("00")
		v.Set("vnp_SecureHash", strings.ToUpper(v.Get("vnp_SecureHash")))
		assert.True(t, s.VerifyIPN(v).ValidSignature)
	})

	t.Run("tampered amount", func(t *testing.T) {
		v := signedCallback("00")
		v.Set("vnp_Amount", "100")
		ipn := s.VerifyIPN(v)
		assert.False(t, ipn.ValidSignature)
		assert.False(t, ipn.Paid())
		assert.Equal(t, "o1", ipn.OrderID)
	})

	t.Run("round trip through payment url", func(t *testing.T) {
		raw, err := s.PaymentURL(PaymentRequest{OrderID: "o2", Amount: 99000, Language: "en", ClientIP: "::1"})
		require.NoError(t, err)
		u, err := url.Parse(raw)
		require.NoError(t, err)
		assert.True(t, s.VerifyIPN(u.Query()).ValidSignature)
	})
}
