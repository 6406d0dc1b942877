package importer

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/cockroachdb/errors"

	"stocksync/internal/config"
	"stocksync/internal/scheduler"
)

// feedItem is one product entry parsed out of a source feed, before it
// is normalized into a model.Product.
type feedItem struct {
	ExternalID string `json:"id"`
	Name       string `json:"name"`
	PriceCents int64  `json:"priceCents"`
	Currency   string `json:"currency"`
}

type jsonFeed struct {
	Products []feedItem `json:"products"`
}

// fetchFeed downloads and parses one source feed. The job kind rides
// along as a query parameter so sources can serve smaller delta feeds.
func (c *Catalog) fetchFeed(ctx context.Context, src *config.SourceConfig, kind string) ([]feedItem, error) {
	feedURL := src.URL
	if kind != "" {
		u, err := url.Parse(src.URL)
		if err != nil {
			return nil, &scheduler.ProcessError{
				Code: "FEED_URL_INVALID",
				Err:  errors.Wrapf(err, "parse feed url for source %s", src.ID),
			}
		}
		q := u.Query()
		q.Set("kind", kind)
		u.RawQuery = q.Encode()
		feedURL = u.String()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build feed request")
	}
	if c.cfg.Importer.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.Importer.UserAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &scheduler.ProcessError{
			Code: "FEED_FETCH_FAILED",
			Err:  errors.Wrapf(err, "fetch feed for source %s", src.ID),
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &scheduler.ProcessError{
			Code: "FEED_FETCH_FAILED",
			Err:  errors.Newf("feed for source %s returned status %d", src.ID, resp.StatusCode),
		}
	}

	switch src.Format {
	case "", "json":
		var feed jsonFeed
		if err := json.NewDecoder(resp.Body).Decode(&feed); err != nil {
			return nil, &scheduler.ProcessError{
				Code: "FEED_PARSE_FAILED",
				Err:  errors.Wrapf(err, "decode json feed for source %s", src.ID),
			}
		}
		return feed.Products, nil
	case "html":
		doc, err := goquery.NewDocumentFromReader(resp.Body)
		if err != nil {
			return nil, &scheduler.ProcessError{
				Code: "FEED_PARSE_FAILED",
				Err:  errors.Wrapf(err, "parse html feed for source %s", src.ID),
			}
		}
		return parsePriceTable(doc)
	default:
		return nil, &scheduler.ProcessError{
			Code: "FEED_FORMAT_UNSUPPORTED",
			Err:  errors.Newf("source %s has unsupported feed format %q", src.ID, src.Format),
		}
	}
}

// parsePriceTable extracts items from an HTML price table. Expected
// row shape: <tr><td class="sku">..</td><td class="name">..</td>
// <td class="price">12.34</td></tr>, optionally with a data-currency
// attribute on the price cell.
func parsePriceTable(doc *goquery.Document) ([]feedItem, error) {
	var items []feedItem
	var parseErr error

	doc.Find("table.price-list tr").EachWithBreak(func(i int, row *goquery.Selection) bool {
		sku := strings.TrimSpace(row.Find("td.sku").Text())
		name := strings.TrimSpace(row.Find("td.name").Text())
		priceCell := row.Find("td.price")
		priceText := strings.TrimSpace(priceCell.Text())

		// Header rows and spacer rows have no sku cell.
		if sku == "" && name == "" && priceText == "" {
			return true
		}

		price, err := parsePriceCents(priceText)
		if err != nil {
			parseErr = &scheduler.ProcessError{
				Code:       "INVALID_ITEM",
				ExternalID: sku,
				Err:        errors.Wrapf(err, "row %d has unparseable price %q", i, priceText),
			}
			return false
		}

		currency, _ := priceCell.Attr("data-currency")
		items = append(items, feedItem{
			ExternalID: sku,
			Name:       name,
			PriceCents: price,
			Currency:   currency,
		})
		return true
	})

	if parseErr != nil {
		return nil, parseErr
	}
	return items, nil
}

// parsePriceCents converts a decimal price string like "12.34" to cents.
func parsePriceCents(s string) (int64, error) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, errors.Newf("negative price %q", s)
	}
	return int64(math.Round(v * 100)), nil
}
