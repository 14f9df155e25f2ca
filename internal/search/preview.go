package search

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Preview fetches a freshly minted signed URL for a source document and
// reduces it to plain text for display. HTML sources get their markup
// stripped; anything else is returned as-is, truncated to maxSize.
func (c *Client) Preview(ctx context.Context, relativePath string, maxSize int) (string, error) {
	if maxSize <= 0 {
		maxSize = 5000
	}

	signedURL := c.SignedURL(ctx, relativePath)
	if signedURL == "" {
		return "", &RetrievalError{Err: fmt.Errorf("no signed URL available for %q", relativePath)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, signedURL, nil)
	if err != nil {
		return "", &RetrievalError{Err: err}
	}
	req.Header.Set("Accept", "*/*")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &RetrievalError{Err: fmt.Errorf("failed to fetch source: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &RetrievalError{Err: fmt.Errorf("source fetch returned status %d", resp.StatusCode)}
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "text/html") {
		doc, err := goquery.NewDocumentFromReader(resp.Body)
		if err != nil {
			return "", &RetrievalError{Err: fmt.Errorf("failed to parse source HTML: %w", err)}
		}

		doc.Find("script, style, nav, footer, header").Remove()
		text := strings.TrimSpace(doc.Find("body").Text())
		return truncate(text, maxSize), nil
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, int64(maxSize)+1))
	if err != nil {
		return "", &RetrievalError{Err: fmt.Errorf("failed to read source: %w", err)}
	}

	return truncate(string(data), maxSize), nil
}

func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}
