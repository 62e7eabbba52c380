package gemini

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Signer implements the venue's payload signing: a JSON payload carrying
// the request path and a monotonic nonce is base64-encoded and signed
// with HMAC-SHA384. The same scheme authenticates REST calls and the
// private websocket.
type Signer struct {
	apiKey string
	secret []byte

	nonceMu   sync.Mutex
	lastNonce int64
	now       func() time.Time
}

// NewSigner builds a signer from API credentials.
func NewSigner(apiKey, apiSecret string) *Signer {
	return &Signer{
		apiKey: apiKey,
		secret: []byte(apiSecret),
		now:    time.Now,
	}
}

// APIKey returns the key, used for the order-events session filter.
func (s *Signer) APIKey() string { return s.apiKey }

// nonce returns milliseconds since epoch, strictly increasing even when
// two requests land in the same millisecond.
func (s *Signer) nonce() int64 {
	s.nonceMu.Lock()
	defer s.nonceMu.Unlock()
	n := s.now().UnixMilli()
	if n <= s.lastNonce {
		n = s.lastNonce + 1
	}
	s.lastNonce = n
	return n
}

// EncodeAndSign builds the base64 payload and its hex signature. Extra
// fields are merged alongside request and nonce.
func (s *Signer) EncodeAndSign(path string, extra map[string]interface{}) (b64 string, signature string, err error) {
	payload := make(map[string]interface{}, len(extra)+2)
	for k, v := range extra {
		payload[k] = v
	}
	payload["request"] = path
	payload["nonce"] = s.nonce()

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", "", fmt.Errorf("gemini: marshal payload: %w", err)
	}
	b64 = base64.StdEncoding.EncodeToString(raw)

	mac := hmac.New(sha512.New384, s.secret)
	mac.Write([]byte(b64))
	return b64, hex.EncodeToString(mac.Sum(nil)), nil
}

// SignRequest authenticates a REST request. The JSON body, when present,
// supplies the payload's extra fields; the venue reads the payload from
// the headers, so the body itself is cleared.
func (s *Signer) SignRequest(req *http.Request, body []byte) error {
	extra := map[string]interface{}{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &extra); err != nil {
			return fmt.Errorf("gemini: sign body: %w", err)
		}
	}
	b64, signature, err := s.EncodeAndSign(req.URL.Path, extra)
	if err != nil {
		return err
	}
	s.setHeaders(req.Header, b64, signature)
	req.Header.Set("Content-Type", "text/plain")
	req.Body = http.NoBody
	req.ContentLength = 0
	return nil
}

// StreamHeaders authenticates the private websocket handshake.
func (s *Signer) StreamHeaders(path string) (http.Header, error) {
	b64, signature, err := s.EncodeAndSign(path, nil)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	s.setHeaders(header, b64, signature)
	return header, nil
}

func (s *Signer) setHeaders(h http.Header, b64, signature string) {
	h.Set("X-GEMINI-PAYLOAD", b64)
	h.Set("X-GEMINI-APIKEY", s.apiKey)
	h.Set("X-GEMINI-SIGNATURE", signature)
}
