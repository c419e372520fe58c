package transport

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// BinanceSigner sends the api key header and, for signed endpoints, appends
// timestamp, recvWindow and an HMAC-SHA256 hex signature of the query string.
// Parameters are always carried in the query so the signature covers them all.
type BinanceSigner struct {
	APIKey     string
	APISecret  string
	RecvWindow time.Duration

	now func() time.Time
}

func (s *BinanceSigner) Sign(req *http.Request, body []byte, auth AuthType) error {
	if s.APIKey == "" {
		return errors.New("api_key required")
	}
	req.Header.Set("X-MBX-APIKEY", s.APIKey)
	if auth != AuthSigned {
		return nil
	}
	if s.APISecret == "" {
		return errors.New("api_secret required")
	}
	params := req.URL.Query()
	params.Set("timestamp", strconv.FormatInt(s.clock().UnixMilli(), 10))
	if s.RecvWindow > 0 {
		params.Set("recvWindow", strconv.FormatInt(s.RecvWindow.Milliseconds(), 10))
	}
	payload := params.Encode()
	req.URL.RawQuery = payload + "&signature=" + hmacHex(s.APISecret, payload+string(body))
	return nil
}

func (s *BinanceSigner) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

// CoinbaseSigner implements the CB-ACCESS header scheme: a base64 HMAC-SHA256,
// keyed by the base64-decoded secret, over timestamp + method + path + body.
type CoinbaseSigner struct {
	apiKey     string
	secret     []byte
	passphrase string

	now func() time.Time
}

func NewCoinbaseSigner(apiKey, apiSecret, passphrase string) (*CoinbaseSigner, error) {
	if apiKey == "" || apiSecret == "" {
		return nil, errors.New("api_key/api_secret required")
	}
	secret, err := base64.StdEncoding.DecodeString(apiSecret)
	if err != nil {
		return nil, fmt.Errorf("api_secret must be base64: %w", err)
	}
	return &CoinbaseSigner{apiKey: apiKey, secret: secret, passphrase: passphrase}, nil
}

func (s *CoinbaseSigner) Sign(req *http.Request, body []byte, _ AuthType) error {
	ts := strconv.FormatInt(s.clock().Unix(), 10)
	path := req.URL.Path
	if req.URL.RawQuery != "" {
		path += "?" + req.URL.RawQuery
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(ts + req.Method + path + string(body)))
	req.Header.Set("CB-ACCESS-KEY", s.apiKey)
	req.Header.Set("CB-ACCESS-SIGN", base64.StdEncoding.EncodeToString(mac.Sum(nil)))
	req.Header.Set("CB-ACCESS-TIMESTAMP", ts)
	req.Header.Set("CB-ACCESS-PASSPHRASE", s.passphrase)
	return nil
}

func (s *CoinbaseSigner) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

func hmacHex(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
