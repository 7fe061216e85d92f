package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/custodia-labs/casewatch/internal/core/domain"
	"github.com/custodia-labs/casewatch/internal/core/ports/driven"
)

// Ensure session implements the interface.
var _ driven.PortalSession = (*session)(nil)

const (
	casePath        = "/account/case-service/api/cases/"
	receiptInfoPath = "/secure-messaging/api/case-service/receipt_info/"

	// maxMessageLength bounds the response text kept in a PortalError.
	maxMessageLength = 200
)

// fetchScript runs inside the authenticated page so the request carries
// the session cookies. The result is returned as JSON text.
const fetchScript = `async (url) => {
	try {
		const response = await fetch(url, { method: 'GET', credentials: 'include' });
		const body = await response.text();
		return JSON.stringify({ status: response.status, statusText: response.statusText, body: body });
	} catch (e) {
		return JSON.stringify({ error: String((e && e.message) || e) });
	}
}`

// session is an authenticated tab.
type session struct {
	tab *tab
}

// FetchCase requests the case status from the portal API.
func (s *session) FetchCase(ctx context.Context, caseNumber string) ([]byte, error) {
	return s.fetch(ctx, caseURL(s.tab.portal.portalCfg.BaseURL, caseNumber), caseNumber)
}

// FetchReceiptInfo requests the receipt details, which carry the
// processing-center code.
func (s *session) FetchReceiptInfo(ctx context.Context, caseNumber string) ([]byte, error) {
	return s.fetch(ctx, receiptInfoURL(s.tab.portal.portalCfg.BaseURL, caseNumber), caseNumber)
}

func (s *session) fetch(ctx context.Context, target, caseNumber string) ([]byte, error) {
	page, cancel := s.tab.withTimeout(ctx)
	defer cancel()

	res, err := page.Eval(fetchScript, target)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, transportError("fetch "+caseNumber, err)
	}
	return decodeFetchResult(res.Value.Str(), target)
}

// Close ends the session.
func (s *session) Close() error {
	return s.tab.Close()
}

func caseURL(baseURL, caseNumber string) string {
	return strings.TrimRight(baseURL, "/") + casePath + url.PathEscape(caseNumber)
}

func receiptInfoURL(baseURL, caseNumber string) string {
	return strings.TrimRight(baseURL, "/") + receiptInfoPath + url.PathEscape(caseNumber)
}

// fetchResult is what fetchScript reports.
type fetchResult struct {
	Status     int    `json:"status"`
	StatusText string `json:"statusText"`
	Body       string `json:"body"`
	Error      string `json:"error"`
}

// decodeFetchResult maps the in-page fetch outcome onto the payload or a
// classifiable error.
func decodeFetchResult(raw, target string) ([]byte, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: no response received from %s", domain.ErrTransient, target)
	}

	var result fetchResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("%w: unreadable fetch result: %v", domain.ErrTransient, err)
	}
	if result.Error != "" {
		return nil, fmt.Errorf("%w: fetch %s: %s", domain.ErrTransient, target, result.Error)
	}
	if result.Status != http.StatusOK {
		return nil, &domain.PortalError{
			StatusCode: result.Status,
			Message:    portalMessage(result),
			URL:        target,
		}
	}
	return []byte(result.Body), nil
}

func portalMessage(result fetchResult) string {
	msg := strings.TrimSpace(result.Body)
	if msg == "" {
		msg = result.StatusText
	}
	if msg == "" {
		msg = http.StatusText(result.Status)
	}
	if len(msg) > maxMessageLength {
		msg = msg[:maxMessageLength] + "..."
	}
	return msg
}
