package camera

import (
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// parseListing extracts recordings from the camera's HTML directory listing.
// Only anchors whose target ends in ext (case-insensitive) are considered.
func (c *Client) parseListing(body io.Reader, folder *url.URL) ([]*Recording, error) {
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrListingParse, err)
	}

	ext := strings.ToUpper(c.opts.Extension)
	var (
		recordings []*Recording
		parseErr   error
	)
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if !strings.HasSuffix(strings.ToUpper(href), ext) {
			return true
		}

		ref, err := url.Parse(href)
		if err != nil {
			parseErr = fmt.Errorf("%w: href %q: %v", ErrListingParse, href, err)
			return false
		}
		resolved := folder.ResolveReference(ref)
		name := path.Base(resolved.Path)

		ts, err := parseTimestamp(name, c.opts.Location)
		if err != nil {
			c.log.Warn("skipping recording without timestamp", "href", href, "error", err)
			return true
		}

		recordings = append(recordings, &Recording{
			name:       name,
			remotePath: resolved.Path,
			timestamp:  ts,
			client:     c,
		})
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return recordings, nil
}

func parseTimestamp(name string, loc *time.Location) (time.Time, error) {
	if len(name) < len(TimestampLayout) {
		return time.Time{}, fmt.Errorf("name %q has no timestamp prefix", name)
	}
	prefix := name[:len(TimestampLayout)]
	for _, r := range prefix {
		if r < '0' || r > '9' {
			return time.Time{}, fmt.Errorf("name %q has no timestamp prefix", name)
		}
	}
	return time.ParseInLocation(TimestampLayout, prefix, loc)
}
