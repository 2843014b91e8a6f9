package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/fatflowers/settle/pkg/types"
)

// maxResponseBody caps how much of a provider response is read.
const maxResponseBody = 1 << 20

// Client is the JSON-over-HTTP plumbing shared by the rail adapters.
type Client struct {
	Rail    types.Rail
	BaseURL string
	HTTP    *http.Client
	// Auth decorates every request, usually with a bearer or api key header.
	Auth func(req *http.Request)
}

// Do sends body (JSON encoded when not nil) and decodes a 2xx response into
// out. Transport failures and non-2xx responses come back as *Error.
func (c *Client) Do(ctx context.Context, op, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return Permanent(c.Rail, op, "encode request: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.BaseURL, "/")+path, reader)
	if err != nil {
		return Permanent(c.Rail, op, "build request: %v", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Auth != nil {
		c.Auth(req)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Classify(c.Rail, op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return Classify(c.Rail, op, err)
	}
	if resp.StatusCode >= 400 {
		return FromStatus(c.Rail, op, resp.StatusCode, providerMessage(raw))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		// a 2xx with a body we cannot read is usually an edge proxy page
		return &Error{Rail: c.Rail, Op: op, Retryable: true, StatusCode: resp.StatusCode, Message: fmt.Sprintf("decode response: %v", err)}
	}
	return nil
}

// providerMessage pulls the "message" field most rails return on errors.
func providerMessage(raw []byte) string {
	var body struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Message != "" {
		return body.Message
	}
	s := strings.TrimSpace(string(raw))
	if len(s) > 256 {
		s = s[:256]
	}
	return s
}

// Signed is the shared policy for webhook authentication: with no secret
// the rail accepts only when it explicitly opted into insecure mode.
func Signed(secret string, insecure bool, check func(secret []byte) bool) bool {
	if secret == "" {
		return insecure
	}
	return check([]byte(secret))
}

// EqualMAC compares two MACs in constant time.
func EqualMAC(expected, got []byte) bool {
	return len(got) > 0 && hmac.Equal(expected, got)
}
