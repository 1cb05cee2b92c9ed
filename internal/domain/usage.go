package domain

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// SignUsageEvent computes the HMAC-SHA256 signature stored alongside each
// ledger row. The signed tuple is (company_id, event_type, quantity,
// created_at unix seconds); metadata is advisory and not covered.
func SignUsageEvent(secret string, companyID int64, eventType UsageEventType, quantity int64, createdAt time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(companyID, 10)))
	mac.Write([]byte{'|'})
	mac.Write([]byte(eventType))
	mac.Write([]byte{'|'})
	mac.Write([]byte(strconv.FormatInt(quantity, 10)))
	mac.Write([]byte{'|'})
	mac.Write([]byte(strconv.FormatInt(createdAt.UTC().Unix(), 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyUsageEvent reports whether a ledger row's signature matches.
func VerifyUsageEvent(secret string, e UsageEvent) bool {
	want := SignUsageEvent(secret, e.CompanyID, e.EventType, e.Quantity, e.CreatedAt)
	return hmac.Equal([]byte(want), []byte(e.Signature))
}
