// Package tc3 implements the TC3-HMAC-SHA256 request signature used by Tencent Cloud API 3.0.
package tc3

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	Algorithm     = "TC3-HMAC-SHA256"
	SignedHeaders = "content-type;host;x-tc-action"

	terminator = "tc3_request"
	dateLayout = "2006-01-02"
)

// Request holds every input of one signature. Date and Timestamp always come
// from the same instant; build it with NewRequest.
type Request struct {
	Method    string
	Action    string
	Query     string
	Body      []byte
	Host      string
	Service   string
	Timestamp int64
	Date      string
}

// NewRequest captures the UTC date and unix timestamp from a single instant.
func NewRequest(method, action, query string, body []byte, host, service string, now time.Time) Request {
	now = now.UTC()
	return Request{
		Method:    strings.ToUpper(method),
		Action:    action,
		Query:     query,
		Body:      body,
		Host:      host,
		Service:   service,
		Timestamp: now.Unix(),
		Date:      now.Format(dateLayout),
	}
}

// ContentType is the content type that must be both signed and sent.
func (r Request) ContentType() string {
	return ContentType(r.Method)
}

func ContentType(method string) string {
	if strings.EqualFold(method, http.MethodGet) {
		return "application/x-www-form-urlencoded"
	}
	return "application/json; charset=utf-8"
}

// CredentialScope is {date}/{service}/tc3_request.
func (r Request) CredentialScope() string {
	return r.Date + "/" + r.Service + "/" + terminator
}

func (r Request) CanonicalRequest() string {
	var b strings.Builder
	b.WriteString(r.Method)
	b.WriteString("\n/\n")
	b.WriteString(r.Query)
	b.WriteString("\n")
	b.WriteString("content-type:" + r.ContentType() + "\n")
	b.WriteString("host:" + r.Host + "\n")
	b.WriteString("x-tc-action:" + strings.ToLower(r.Action) + "\n")
	b.WriteString("\n")
	b.WriteString(SignedHeaders + "\n")
	b.WriteString(sha256Hex(r.Body))
	return b.String()
}

func (r Request) StringToSign() string {
	return Algorithm + "\n" +
		strconv.FormatInt(r.Timestamp, 10) + "\n" +
		r.CredentialScope() + "\n" +
		sha256Hex([]byte(r.CanonicalRequest()))
}

// Sign derives the signing key from secretKey and returns the hex signature.
func Sign(r Request, secretKey string) string {
	kDate := hmacSHA256([]byte("TC3"+secretKey), r.Date)
	kService := hmacSHA256(kDate, r.Service)
	kSigning := hmacSHA256(kService, terminator)
	return hex.EncodeToString(hmacSHA256(kSigning, r.StringToSign()))
}

// Authorization renders the Authorization header value for a computed signature.
func (r Request) Authorization(secretID, signature string) string {
	return fmt.Sprintf("%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		Algorithm, secretID, r.CredentialScope(), SignedHeaders, signature)
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func hmacSHA256(key []byte, data string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(data))
	return mac.Sum(nil)
}
