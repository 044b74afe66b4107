package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestStatusCategory(t *testing.T) {
	cases := []struct {
		code int
		want ErrorCategory
	}{
		{400, Irrecoverable},
		{401, Irrecoverable},
		{404, Irrecoverable},
		{422, Irrecoverable},
		{408, Recoverable},
		{409, Recoverable},
		{429, Recoverable},
		{500, Recoverable},
		{503, Recoverable},
		{302, Recoverable},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, StatusCategory(c.code), "status %d", c.code)
	}
}

func TestFetchErrorClassification(t *testing.T) {
	notFound := &FetchError{Provider: "open5e", URL: "http://x", StatusCode: 404}
	assert.True(t, IsIrrecoverable(notFound))

	unavailable := &FetchError{Provider: "open5e", URL: "http://x", StatusCode: 503}
	assert.True(t, IsRetryable(unavailable))

	network := &FetchError{Provider: "srd", URL: "http://x", Err: stderrors.New("connection reset")}
	assert.True(t, IsRetryable(network))

	graphql := &FetchError{Provider: "srd", URL: "http://x", StatusCode: 200, Terminal: true}
	assert.True(t, IsIrrecoverable(graphql))

	wrapped := fmt.Errorf("page 2: %w", notFound)
	assert.True(t, IsIrrecoverable(wrapped))
}

func TestValidationErrorIsTerminal(t *testing.T) {
	err := &ValidationError{Provider: "open5e", Type: "spell", Reason: "missing name"}
	assert.True(t, IsIrrecoverable(err))
	assert.Contains(t, err.Error(), "<unknown>")
}

func TestClassifiedErrors(t *testing.T) {
	body := strings.Repeat("x", 2000)
	ce := ClassifyHTTPError(400, body, stderrors.New("bad"))
	assert.Equal(t, Irrecoverable, ce.Category)
	assert.Less(t, len(ce.Body), 600)
	assert.Contains(t, ce.Error(), "HTTP 400")

	netErr := NewNetworkError("deliver", stderrors.New("dial tcp: refused"))
	assert.True(t, IsRetryable(netErr))
	assert.False(t, IsRetryable(nil))

	withBody := NewHTTPError(422, `{"error":"name required"}`, "POST /api/compendium/feat")
	assert.True(t, IsIrrecoverable(withBody))
	assert.Contains(t, withBody.Error(), "name required")
}

func TestIsNetwork(t *testing.T) {
	assert.True(t, IsNetwork(fmt.Errorf("drain: %w", NewNetworkError("deliver", stderrors.New("refused")))))
	assert.False(t, IsNetwork(NewHTTPError(503, "", "deliver")))
	assert.False(t, IsNetwork(&ClassifiedError{Category: Irrecoverable, Underlying: stderrors.New("bad kind")}))
	assert.True(t, IsNetwork(&FetchError{Provider: "srd", Err: stderrors.New("reset")}))
	assert.False(t, IsNetwork(&FetchError{Provider: "srd", Terminal: true}))
	assert.False(t, IsNetwork(stderrors.New("plain")))
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	assert.Equal(t, "short", Truncate("short"))

	// 511 ASCII bytes followed by a 3-byte rune straddling the cut.
	s := strings.Repeat("a", maxBodyLen-1) + "€" + strings.Repeat("b", 10)
	got := Truncate(s)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("a", maxBodyLen-1)+"…", got)

	exact := strings.Repeat("é", maxBodyLen) // 2 bytes each
	got = Truncate(exact)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("é", maxBodyLen/2)+"…", got)
}

func TestIndexError(t *testing.T) {
	err := fmt.Errorf("search: %w", &IndexError{Op: "search", Err: stderrors.New("no such table")})
	assert.True(t, IsIndexError(err))
	assert.False(t, IsIndexError(stderrors.New("other")))
}
