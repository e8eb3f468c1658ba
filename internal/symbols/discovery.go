package symbols

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
)

// ErrNoSymbolList is returned when the discovery page has no symbol dropdown.
var ErrNoSymbolList = errors.New("symbol dropdown not found")

// Discoverer provides the set of symbols to harvest.
type Discoverer interface {
	Discover(ctx context.Context) ([]string, error)
}

// HTMLDiscoverer scrapes the symbol codes listed in the <select id="Code"> dropdown of a page
type HTMLDiscoverer struct {
	url       string
	userAgent string
	client    *http.Client
	log       *logrus.Entry
}

// NewHTMLDiscoverer creates a discoverer reading url. A nil client uses http.DefaultClient.
func NewHTMLDiscoverer(url, userAgent string, client *http.Client, log *logrus.Entry) *HTMLDiscoverer {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTMLDiscoverer{url: url, userAgent: userAgent, client: client, log: log}
}

// Discover downloads the page and returns the valid symbol codes, sorted and deduplicated.
// Codes containing digits denote bonds and rights and are skipped.
func (d *HTMLDiscoverer) Discover(ctx context.Context) ([]string, error) {
	d.log.WithField("url", d.url).Info("Discovering symbols")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build symbol request: %w", err)
	}
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download symbol list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download symbol list, status code: %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse symbol page: %w", err)
	}

	dropdown := doc.Find("select#Code")
	if dropdown.Length() == 0 {
		return nil, ErrNoSymbolList
	}

	var codes []string
	skipped := 0
	dropdown.Find("option").Each(func(_ int, opt *goquery.Selection) {
		code, ok := opt.Attr("value")
		if !ok {
			code = opt.Text()
		}
		code = strings.TrimSpace(code)
		if code == "" {
			return
		}
		if strings.IndexFunc(code, unicode.IsDigit) >= 0 {
			skipped++
			return
		}
		codes = append(codes, code)
	})

	codes = Normalize(codes)
	d.log.WithFields(logrus.Fields{"symbols": len(codes), "skipped": skipped}).Info("Found valid symbols")
	return codes, nil
}

// StaticDiscoverer returns a fixed list of symbols
type StaticDiscoverer []string

// Discover implements Discoverer.
func (s StaticDiscoverer) Discover(context.Context) ([]string, error) {
	return Normalize(s), nil
}

// ParseList splits a comma separated list of symbols.
func ParseList(list string) []string {
	return Normalize(strings.Split(list, ","))
}

// LoadFile reads symbols from a file, one per line. Blank lines and lines starting with # are ignored.
func LoadFile(path string) ([]string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read symbol file: %w", err)
	}

	var symbols []string
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		symbols = append(symbols, line)
	}
	return Normalize(symbols), nil
}

// Normalize trims, deduplicates and sorts symbols.
func Normalize(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
