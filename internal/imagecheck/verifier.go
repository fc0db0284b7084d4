// Package imagecheck validates image references attached to reports, either
// inline data URIs or remote URLs probed with a HEAD request.
package imagecheck

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"
)

// Reason is a machine-readable rejection code.
type Reason string

const (
	ReasonUnsupportedType Reason = "UNSUPPORTED_TYPE"
	ReasonTooLarge        Reason = "TOO_LARGE"
	ReasonInvalidFormat   Reason = "INVALID_FORMAT"
	ReasonFetchFailed     Reason = "FETCH_FAILED"
)

var errPrivateAddress = errors.New("image host resolves to a non-public address")

// Error is returned for every rejected reference. Status is the HTTP status
// the caller should answer with.
type Error struct {
	Reason Reason
	Status int
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Reason, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

func reject(reason Reason, detail string, err error) *Error {
	status := http.StatusBadRequest
	if reason == ReasonFetchFailed {
		status = http.StatusBadGateway
	}
	return &Error{Reason: reason, Status: status, Detail: detail, Err: err}
}

// Options configure a Verifier.
type Options struct {
	MaxBytes          int64
	AllowedTypes      []string
	Timeout           time.Duration
	AllowPrivateHosts bool
}

// DefaultOptions allows jpeg, png, webp and gif up to 5 MiB.
func DefaultOptions() Options {
	return Options{
		MaxBytes:     5 << 20,
		AllowedTypes: []string{"image/jpeg", "image/png", "image/webp", "image/gif"},
		Timeout:      5 * time.Second,
	}
}

// Verifier checks image references. Safe for concurrent use.
type Verifier struct {
	maxBytes int64
	allowed  map[string]struct{}
	client   *http.Client
}

// NewVerifier creates a verifier. Unless opts.AllowPrivateHosts is set, URL
// probes refuse to connect to loopback, private, link-local or unspecified
// addresses, including after redirects.
func NewVerifier(opts Options) *Verifier {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultOptions().MaxBytes
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions().Timeout
	}
	allowed := make(map[string]struct{}, len(opts.AllowedTypes))
	for _, t := range opts.AllowedTypes {
		allowed[strings.ToLower(strings.TrimSpace(t))] = struct{}{}
	}

	dialer := &net.Dialer{Timeout: opts.Timeout}
	if !opts.AllowPrivateHosts {
		dialer.Control = refusePrivate
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialer.DialContext
	transport.Proxy = nil

	return &Verifier{
		maxBytes: opts.MaxBytes,
		allowed:  allowed,
		client:   &http.Client{Timeout: opts.Timeout, Transport: transport},
	}
}

// VerifyAll checks refs in order and returns the first rejection.
func (v *Verifier) VerifyAll(ctx context.Context, refs ...string) error {
	for _, ref := range refs {
		if ref == "" {
			continue
		}
		if err := v.Verify(ctx, ref); err != nil {
			return err
		}
	}
	return nil
}

// Verify checks a single reference. Rejections are *Error.
func (v *Verifier) Verify(ctx context.Context, ref string) error {
	lower := strings.ToLower(ref)
	switch {
	case strings.HasPrefix(lower, "data:"):
		return v.verifyInline(ref)
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return v.verifyRemote(ctx, ref)
	default:
		return reject(ReasonInvalidFormat, "image must be a data URI or an http(s) URL", nil)
	}
}

// verifyInline checks data:<mime>[;params];base64,<payload>.
func (v *Verifier) verifyInline(ref string) error {
	header, payload, ok := strings.Cut(ref[len("data:"):], ",")
	if !ok {
		return reject(ReasonInvalidFormat, "data URI has no payload", nil)
	}
	params := strings.Split(header, ";")
	if !strings.EqualFold(params[len(params)-1], "base64") {
		return reject(ReasonInvalidFormat, "data URI must be base64 encoded", nil)
	}
	mimeType := strings.ToLower(strings.TrimSpace(params[0]))
	if !v.typeAllowed(mimeType) {
		return reject(ReasonUnsupportedType, fmt.Sprintf("content type %q is not allowed", mimeType), nil)
	}
	if size := decodedSize(len(payload)); size > v.maxBytes {
		return reject(ReasonTooLarge, fmt.Sprintf("image is %d bytes, limit is %d", size, v.maxBytes), nil)
	}
	return nil
}

func (v *Verifier) verifyRemote(ctx context.Context, ref string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, ref, nil)
	if err != nil {
		return reject(ReasonInvalidFormat, "image URL could not be parsed", err)
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return reject(ReasonFetchFailed, "image URL could not be reached", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return reject(ReasonFetchFailed, fmt.Sprintf("image URL answered %d", resp.StatusCode), nil)
	}

	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || !v.typeAllowed(mediaType) {
		return reject(ReasonUnsupportedType, fmt.Sprintf("content type %q is not allowed", resp.Header.Get("Content-Type")), nil)
	}
	// ContentLength is -1 when the server does not declare one.
	if resp.ContentLength > v.maxBytes {
		return reject(ReasonTooLarge, fmt.Sprintf("image is %d bytes, limit is %d", resp.ContentLength, v.maxBytes), nil)
	}
	return nil
}

func (v *Verifier) typeAllowed(mimeType string) bool {
	if mimeType == "" {
		return false
	}
	_, ok := v.allowed[strings.ToLower(mimeType)]
	return ok
}

// decodedSize is ceil(encodedLength * 3/4).
func decodedSize(encodedLen int) int64 {
	n := int64(encodedLen)
	return (n*3 + 3) / 4
}

func refusePrivate(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	ip := net.ParseIP(host)
	if ip == nil || ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return errPrivateAddress
	}
	return nil
}
