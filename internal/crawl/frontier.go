package crawl

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

func visitedKey(crawlID string) string        { return fmt.Sprintf("crawl:%s:visited", crawlID) }
func docsKey(crawlID string) string           { return fmt.Sprintf("crawl:%s:docs", crawlID) }
func jobsKey(crawlID string) string           { return fmt.Sprintf("crawl:%s:jobs", crawlID) }
func jobsDoneKey(crawlID string) string       { return fmt.Sprintf("crawl:%s:jobs_done", crawlID) }
func jobsDoneOrderedKey(crawlID string) string { return fmt.Sprintf("crawl:%s:jobs_done_ordered", crawlID) }
func robotsBlockedKey(crawlID string) string  { return fmt.Sprintf("crawl:%s:robots_blocked", crawlID) }
func finishLockKey(crawlID string) string     { return fmt.Sprintf("crawl:%s:finish", crawlID) }
func crawlKey(crawlID string) string          { return fmt.Sprintf("crawl:%s", crawlID) }

// pathPolicy implements the include/exclude regex admission rule: a
// URL is admitted iff it matches at least one include pattern (when
// any are configured) and no exclude pattern. Patterns match against
// the URL's path by default, or the whole URL when onFullURL is set.
type pathPolicy struct {
	include   []*regexp.Regexp
	exclude   []*regexp.Regexp
	onFullURL bool
}

func compilePathPolicy(includePaths, excludePaths []string, onFullURL bool) (*pathPolicy, error) {
	p := &pathPolicy{onFullURL: onFullURL}
	for _, pat := range includePaths {
		re, err := regexp.Compile(pat)
		if err != nil {
			return nil, fmt.Errorf("invalid includePaths pattern %q: %w", pat, err)
		}
		p.include = append(p.include, re)
	}
	for _, pat := range excludePaths {
		re, err := regexp.Compile(pat)
		if err != nil {
			return nil, fmt.Errorf("invalid excludePaths pattern %q: %w", pat, err)
		}
		p.exclude = append(p.exclude, re)
	}
	return p, nil
}

func (p *pathPolicy) allows(urlStr string) bool {
	subject := urlStr
	if !p.onFullURL {
		if u, err := url.Parse(urlStr); err == nil {
			subject = u.Path
		}
	}
	for _, re := range p.exclude {
		if re.MatchString(subject) {
			return false
		}
	}
	if len(p.include) == 0 {
		return true
	}
	for _, re := range p.include {
		if re.MatchString(subject) {
			return true
		}
	}
	return false
}

// tryAdmitURL canonicalizes a discovered URL and admits it into the
// crawl's frontier iff the frontier still has room under limit and the
// URL hasn't been seen before. Dedup is a Redis set cardinality check:
// SAdd returns 1 only on first sight. A limit <= 0 means unbounded.
func tryAdmitURL(ctx context.Context, store Store, crawlID, rawURL string, dropQuery bool, limit int) (string, bool, error) {
	if limit > 0 {
		card, err := store.SCard(ctx, visitedKey(crawlID))
		if err != nil {
			return "", false, err
		}
		if card >= int64(limit) {
			return "", false, nil
		}
	}
	canon, err := Canonicalize(rawURL, dropQuery)
	if err != nil {
		return "", false, fmt.Errorf("canonicalize %q: %w", rawURL, err)
	}
	added, err := store.SAdd(ctx, visitedKey(crawlID), canon)
	if err != nil {
		return "", false, err
	}
	return canon, added > 0, nil
}

// inScope reports whether candidateURL is admissible for a crawl
// rooted at originURL, honoring the same allowSubdomains/allowExternal
// rules crawler.Map applies to its own discovery (internal/crawler's
// sameHostOrSubdomain is unexported, so the same policy is
// reimplemented here for links discovered mid-crawl).
func inScope(originURL, candidateURL string, allowSubdomains, allowExternal bool) bool {
	if allowExternal {
		return true
	}
	ou, err := url.Parse(originURL)
	if err != nil {
		return false
	}
	cu, err := url.Parse(candidateURL)
	if err != nil {
		return false
	}
	base := strings.ToLower(ou.Hostname())
	host := strings.ToLower(cu.Hostname())
	if host == "" {
		return false
	}
	if strings.EqualFold(base, host) {
		return true
	}
	if allowSubdomains && strings.HasSuffix(host, "."+base) {
		return true
	}
	return false
}
