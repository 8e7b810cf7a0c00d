package linkedinads

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ajitpratap0/nebula-sync/pkg/errors"
)

// listResponse is the envelope of LinkedIn collection endpoints.
type listResponse struct {
	Elements []map[string]interface{} `json:"elements"`
	Paging   *paging                  `json:"paging,omitempty"`
}

type paging struct {
	Start int `json:"start"`
	Count int `json:"count"`
	Total int `json:"total"`
}

func (s *Source) headers() map[string]string {
	return map[string]string{
		"LinkedIn-Version":          s.apiVersion,
		"X-RestLi-Protocol-Version": "2.0.0",
	}
}

// get performs one GET without retries.
func (s *Source) get(ctx context.Context, rawURL string, out interface{}) error {
	return s.HTTPClient().GetJSON(ctx, rawURL, s.headers(), out)
}

// getWithRetry performs a GET, retrying rate limits, 5xx and timeouts.
func (s *Source) getWithRetry(ctx context.Context, rawURL string, out interface{}) error {
	return s.ExecuteWithRetry(ctx, func() error {
		return s.get(ctx, rawURL, out)
	})
}

// paginate walks a start/count paged collection and hands every page to handle.
// Cancellation is checked between pages.
func (s *Source) paginate(ctx context.Context, rawURL string, handle func([]map[string]interface{}) error) error {
	sep := "&"
	if !strings.Contains(rawURL, "?") {
		sep = "?"
	}
	for start := 0; ; {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, errors.ErrorTypeCancelled, "linkedin read cancelled")
		}

		var page listResponse
		pageURL := fmt.Sprintf("%s%sstart=%d&count=%d", rawURL, sep, start, s.pageSize)
		if err := s.getWithRetry(ctx, pageURL, &page); err != nil {
			return err
		}
		if err := handle(page.Elements); err != nil {
			return err
		}

		n := len(page.Elements)
		if n == 0 || n < s.pageSize {
			return nil
		}
		start += n
		if page.Paging != nil && page.Paging.Total > 0 && start >= page.Paging.Total {
			return nil
		}
	}
}

func accountURN(id string) string {
	return accountURNPrefix + id
}

// analyticsURL builds an adAnalytics statistics query. Rest.li list and record
// syntax must reach the server unescaped, so the query is assembled by hand.
func (s *Source) analyticsURL(accountID string, start, end time.Time, fields []string) string {
	escaped := make([]string, len(fields))
	for i, f := range fields {
		escaped[i] = url.QueryEscape(f)
	}
	return fmt.Sprintf("%sadAnalytics?q=statistics&dateRange=(start:%s,end:%s)&pivots=List(%s)&timeGranularity=DAILY&accounts=List(%s)&fields=%s",
		s.baseURL,
		restliDate(start),
		restliDate(end),
		strings.Join(analyticsPivots, ","),
		url.QueryEscape(accountURN(accountID)),
		strings.Join(escaped, ","),
	)
}

func restliDate(t time.Time) string {
	return fmt.Sprintf("(year:%d,month:%d,day:%d)", t.Year(), int(t.Month()), t.Day())
}

// idString renders numeric ids without exponent notation.
func idString(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	default:
		return fmt.Sprint(x)
	}
}

// toInt64 converts decoded JSON numbers and numeric strings.
func toInt64(v interface{}) (int64, bool) {
	switch x := v.(type) {
	case float64:
		return int64(x), true
	case int64:
		return x, true
	case int:
		return int64(x), true
	case string:
		i, err := strconv.ParseInt(x, 10, 64)
		return i, err == nil
	case fmt.Stringer:
		i, err := strconv.ParseInt(x.String(), 10, 64)
		return i, err == nil
	}
	return 0, false
}
