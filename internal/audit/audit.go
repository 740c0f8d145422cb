package audit

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"market-optimizer/internal/auth"
)

// Actions recorded by the API.
const (
	ActionCSVUpload = "optimization.upload_csv"
	ActionExport    = "optimization.export"
	ActionPrefetch  = "market_data.prefetch"
)

// Entry is one audited API action.
type Entry struct {
	ID            string
	Actor         string
	Role          string
	Action        string
	Resource      string
	Metadata      json.RawMessage
	PayloadDigest string
	IP            string
	UserAgent     string
	CreatedAt     time.Time
}

// Logger writes audit entries.
type Logger interface {
	Log(ctx context.Context, entry Entry) error
}

// FromRequest fills the caller identity and client details from r.
// metadata is marshalled to JSON; a marshal failure leaves it empty.
func FromRequest(r *http.Request, action, resource string, metadata any) Entry {
	entry := Entry{
		Actor:     auth.SubjectFromContext(r.Context()),
		Role:      string(auth.RoleFromContext(r.Context())),
		Action:    action,
		Resource:  resource,
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
	}
	if metadata != nil {
		if data, err := json.Marshal(metadata); err == nil {
			entry.Metadata = data
		}
	}
	return entry
}

// NewID generates a random audit id.
func NewID() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return "audit-" + hex.EncodeToString(buf)
}

// Digest returns the SHA256 hex digest of data, or "" when empty.
func Digest(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
