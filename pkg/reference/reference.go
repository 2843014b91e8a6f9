// Package reference mints the identifiers that tie a checkout session to its
// gateway calls. It is shared by the server and the client SDK.
package reference

import (
	"crypto/rand"
	"encoding/base32"
	"regexp"
	"time"

	"github.com/google/uuid"
)

const (
	intentPrefix  = "SET"
	randomLength  = 12
	intentPattern = `^SET-[0-9]{8}-[0-9A-HJKMNP-TV-Z]{12}$`
)

// crockford base32 drops I, L, O and U so references survive being read aloud.
var encoding = base32.NewEncoding("0123456789ABCDEFGHJKMNPQRSTVWXYZ").WithPadding(base32.NoPadding)

var intentRe = regexp.MustCompile(intentPattern)

// NewIntentReference returns a fresh purchase intent reference such as
// SET-20261019-7K2QM9X4HT3B. The date part is UTC.
func NewIntentReference() string {
	return newIntentReference(time.Now())
}

func newIntentReference(now time.Time) string {
	var b [8]byte
	// crypto/rand.Read never returns an error
	_, _ = rand.Read(b[:])
	return intentPrefix + "-" + now.UTC().Format("20060102") + "-" + encoding.EncodeToString(b[:])[:randomLength]
}

// NewAttemptReference returns a fresh reference for one gateway call.
func NewAttemptReference() string {
	return NewID()
}

// NewID returns a time ordered UUIDv7 string used for row identifiers.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

func ValidIntentReference(s string) bool {
	return intentRe.MatchString(s)
}

func ValidAttemptReference(s string) bool {
	id, err := uuid.Parse(s)
	return err == nil && id.Version() == 7
}
