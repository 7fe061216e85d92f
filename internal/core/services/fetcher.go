package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/custodia-labs/casewatch/internal/core/domain"
	"github.com/custodia-labs/casewatch/internal/core/ports/driven"
	"github.com/custodia-labs/casewatch/internal/logger"
)

// excerptLength bounds the payload excerpt kept on malformed responses.
const excerptLength = 120

// CaseFetcher retrieves and parses case status documents.
// It never retries; callers decide from the error class.
type CaseFetcher struct {
	limiter *rate.Limiter
}

// NewCaseFetcher creates a fetcher allowing requestsPerMinute portal
// requests. Zero or negative disables throttling.
func NewCaseFetcher(requestsPerMinute float64) *CaseFetcher {
	limit := rate.Inf
	if requestsPerMinute > 0 {
		limit = rate.Every(time.Duration(float64(time.Minute) / requestsPerMinute))
	}
	return &CaseFetcher{limiter: rate.NewLimiter(limit, 1)}
}

// Fetch retrieves one case through an authenticated session.
//
// Errors wrap one of domain.ErrNotAuthorized, domain.ErrCaseNotFound,
// domain.ErrTransient or domain.ErrMalformedResponse.
func (f *CaseFetcher) Fetch(
	ctx context.Context,
	session driven.PortalSession,
	caseNumber string,
) (*domain.StatusDocument, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("fetch %s: %w", caseNumber, err)
	}

	logger.Debug("fetching case %s", caseNumber)
	raw, err := session.FetchCase(ctx, caseNumber)
	if err != nil {
		return nil, classifyFetchError(ctx, caseNumber, err)
	}

	doc, err := domain.ParseStatusDocument(raw)
	if err != nil {
		merr := newMalformedResponseError(caseNumber, raw, err)
		logger.Warn("%v", merr)
		return nil, merr
	}
	return doc, nil
}

// Location retrieves the processing-center code from a case's receipt
// info. An empty code means the portal has none on record.
func (f *CaseFetcher) Location(
	ctx context.Context,
	session driven.PortalSession,
	caseNumber string,
) (string, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("receipt info %s: %w", caseNumber, err)
	}

	raw, err := session.FetchReceiptInfo(ctx, caseNumber)
	if err != nil {
		return "", classifyFetchError(ctx, caseNumber, err)
	}

	location, err := domain.ParseReceiptLocation(raw)
	if err != nil {
		return "", newMalformedResponseError(caseNumber, raw, err)
	}
	return location, nil
}

func classifyFetchError(ctx context.Context, caseNumber string, err error) error {
	switch {
	case errors.Is(err, domain.ErrNotAuthorized),
		errors.Is(err, domain.ErrCaseNotFound),
		errors.Is(err, domain.ErrTransient),
		errors.Is(err, domain.ErrMalformedResponse):
		return fmt.Errorf("fetch %s: %w", caseNumber, err)
	case ctx.Err() != nil:
		return fmt.Errorf("fetch %s: %w", caseNumber, ctx.Err())
	default:
		// Unclassified transport failures are network problems.
		return fmt.Errorf("fetch %s: %w: %w", caseNumber, domain.ErrTransient, err)
	}
}

func newMalformedResponseError(caseNumber string, raw []byte, err error) *domain.MalformedResponseError {
	sum := sha256.Sum256(raw)
	excerpt := raw
	if len(excerpt) > excerptLength {
		excerpt = excerpt[:excerptLength]
		for len(excerpt) > 0 && !utf8.Valid(excerpt) {
			excerpt = excerpt[:len(excerpt)-1]
		}
	}
	return &domain.MalformedResponseError{
		CaseNumber: caseNumber,
		Length:     len(raw),
		Digest:     hex.EncodeToString(sum[:])[:12],
		Excerpt:    string(excerpt),
		Err:        err,
	}
}
