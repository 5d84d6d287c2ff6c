package okx

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"time"
)

const timestampLayout = "2006-01-02T15:04:05.000Z"

// Sign returns base64(HMAC-SHA256(secret, timestamp+method+requestPath+body)).
// requestPath includes the query string for GET requests.
func Sign(secret, timestamp, method, requestPath, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + method + requestPath + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func Timestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}
