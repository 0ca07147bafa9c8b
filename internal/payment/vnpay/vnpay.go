// Package vnpay signs payment URLs for the VNPay gateway and verifies the
// signature of its IPN callbacks.
package vnpay

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
)

// Response codes returned to the gateway from the IPN endpoint.
const (
	RspConfirmed        = "00"
	RspOrderNotFound    = "01"
	RspInvalidSignature = "97"
	RspUnknownError     = "99"
)

// ResponseCodeSuccess is the vnp_ResponseCode of a successful payment.
const ResponseCodeSuccess = "00"

const (
	paramSecureHash     = "vnp_SecureHash"
	paramSecureHashType = "vnp_SecureHashType"
	createDateLayout    = "20060102150405"
)

// ErrInvalidAmount is returned for non-positive payment amounts.
var ErrInvalidAmount = errors.New("payment amount must be positive")

// gatewayZone is the zone VNPay expects vnp_CreateDate in (GMT+7).
var gatewayZone = time.FixedZone("ICT", 7*60*60)

type Config struct {
	TmnCode   string `yaml:"tmn_code"`
	SecretKey string `yaml:"secret_key"`
	PayURL    string `yaml:"pay_url"`
	ReturnURL string `yaml:"return_url"`
}

// Signer computes and checks HMAC-SHA512 signatures over VNPay parameters.
type Signer struct {
	cfg   Config
	clock clockwork.Clock
}

func NewSigner(cfg Config, clock clockwork.Clock) *Signer {
	return &Signer{cfg: cfg, clock: clock}
}

// PaymentRequest describes an order to be paid through the gateway.
type PaymentRequest struct {
	OrderID  string
	Amount   int64
	Language string
	BankCode string
	ClientIP string
}

// PaymentURL builds the signed redirect URL for req.
func (s *Signer) PaymentURL(req PaymentRequest) (string, error) {
	if req.Amount <= 0 {
		return "", ErrInvalidAmount
	}

	now := s.clock.Now().In(gatewayZone)
	locale := req.Language
	if locale == "" {
		locale = "vn"
	}
	bankCode := req.BankCode
	if bankCode == "" {
		bankCode = "NCB"
	}

	params := map[string]string{
		"vnp_Version":    "2.1.0",
		"vnp_Command":    "pay",
		"vnp_TmnCode":    s.cfg.TmnCode,
		"vnp_Locale":     locale,
		"vnp_CurrCode":   "VND",
		"vnp_TxnRef":     req.OrderID,
		"vnp_OrderInfo":  "Thanh toan don hang " + req.OrderID,
		"vnp_OrderType":  "other",
		"vnp_Amount":     strconv.FormatInt(req.Amount*100, 10),
		"vnp_ReturnUrl":  s.cfg.ReturnURL,
		"vnp_IpAddr":     req.ClientIP,
		"vnp_CreateDate": now.Format(createDateLayout),
		"vnp_BankCode":   bankCode,
	}

	query := canonicalQuery(params)
	return fmt.Sprintf("%s?%s&%s=%s", s.cfg.PayURL, query, paramSecureHash, s.sign(query)), nil
}

// IPN is a verified-or-not gateway callback.
type IPN struct {
	OrderID        string
	ResponseCode   string
	ValidSignature bool
}

// Paid reports whether the callback is authentic and announces a successful
// payment.
func (n IPN) Paid() bool {
	return n.ValidSignature && n.ResponseCode == ResponseCodeSuccess
}

// VerifyIPN checks the signature of callback query parameters. Only vnp_*
// parameters take part in the signature, minus the hash fields themselves.
func (s *Signer) VerifyIPN(values url.Values) IPN {
	params := make(map[string]string, len(values))
	for k := range values {
		if !strings.HasPrefix(k, "vnp_") || k == paramSecureHash || k == paramSecureHashType {
			continue
		}
		params[k] = values.Get(k)
	}

	expected := s.sign(canonicalQuery(params))
	got := strings.ToLower(values.Get(paramSecureHash))

	return IPN{
		OrderID:        values.Get("vnp_TxnRef"),
		ResponseCode:   values.Get("vnp_ResponseCode"),
		ValidSignature: hmac.Equal([]byte(expected), []byte(got)),
	}
}

func (s *Signer) sign(data string) string {
	mac := hmac.New(sha512.New, []byte(s.cfg.SecretKey))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// canonicalQuery joins params sorted by encoded key as k=v pairs, with both
// sides encoded like encodeURIComponent and spaces written as '+'.
func canonicalQuery(params map[string]string) string {
	keys := make([]string, 0, len(params))
	encoded := make(map[string]string, len(params))
	for k, v := range params {
		ek := encodeComponent(k)
		keys = append(keys, ek)
		encoded[ek] = encodeComponent(v)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(encoded[k])
	}
	return b.String()
}

// componentReplacer restores the characters encodeURIComponent leaves alone
// but url.QueryEscape escapes.
var componentReplacer = strings.NewReplacer(
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%2A", "*",
)

// encodeComponent escapes s the way the gateway's reference client does.
func encodeComponent(s string) string {
	return componentReplacer.Replace(url.QueryEscape(s))
}
