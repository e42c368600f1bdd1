package scraper

import (
	"crypto/md5"
	"encoding/hex"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"jobpulse/ingest-service/internal/model"
)

// Parser extracts job records from NoFluffJobs-style markup. Selectors are
// fallback lists because the site tweaks class names between deployments.
type Parser struct {
	baseURL string
}

// NewParser constructs a Parser resolving relative links against baseURL.
func NewParser(baseURL string) *Parser {
	return &Parser{baseURL: baseURL}
}

var (
	jobSlugRe     = regexp.MustCompile(`/job/([^/?]+)`)
	digitRe       = regexp.MustCompile(`\d`)
	salaryRangeRe = regexp.MustCompile(`(\d[\d\s]*-[\d\s]*\d)\s*(PLN|zł|EUR)`)
)

var listingSelectors = []string{
	`a[href*="/job/"]`,
	"a.posting-list-item",
	`a[class*="posting"]`,
	"div.posting a",
	`article a[href*="/pl/job/"]`,
}

// ExtractJobURLs returns the absolute, deduplicated job URLs on a listing
// page, in document order.
func (p *Parser) ExtractJobURLs(doc *goquery.Document) []string {
	var urls []string
	seen := map[string]struct{}{}

	for _, selector := range listingSelectors {
		doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
			href, ok := s.Attr("href")
			if !ok || !strings.Contains(href, "/job/") {
				return
			}
			abs := p.absoluteURL(href)
			if _, dup := seen[abs]; dup {
				return
			}
			seen[abs] = struct{}{}
			urls = append(urls, abs)
		})
	}

	return urls
}

// HasNextPage reports whether the listing page links a further page. This
// signal is authoritative over any page-URL construction assumption.
func (p *Parser) HasNextPage(doc *goquery.Document) bool {
	selectors := []string{
		`a[rel="next"]`,
		"a.next",
		`a[aria-label*="next"]`,
		"button.next",
	}
	for _, selector := range selectors {
		found := false
		doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if _, disabled := s.Attr("disabled"); !disabled {
				found = true
				return false
			}
			return true
		})
		if found {
			return true
		}
	}
	return false
}

// ParseJobDetail extracts the flat job record from a detail page.
func (p *Parser) ParseJobDetail(doc *goquery.Document, pageURL string) model.RawJob {
	return model.RawJob{
		URL:            pageURL,
		JobID:          jobIDFromURL(pageURL),
		Title:          p.extractTitle(doc),
		CompanyName:    firstText(doc, `[class*="company"]`, `a[href*="/company/"]`, "div.company-name", "span.company"),
		Description:    truncateRunes(firstBlockText(doc, `[class*="description"]`, `[class*="about"]`, "section.job-description", "div.description"), 5000),
		Requirements:   truncateRunes(firstBlockText(doc, `[class*="requirement"]`, `[class*="must-have"]`, "section.requirements"), 5000),
		Salary:         p.extractSalary(doc),
		Location:       firstText(doc, `[class*="location"]`, `[class*="city"]`, "span.location", "div.location"),
		Technologies:   p.extractTechnologies(doc),
		Seniority:      p.extractSeniority(doc),
		EmploymentType: extractEmploymentType(doc),
	}
}

// jobIDFromURL derives the stable external id from the URL slug, with an
// md5-hash fallback for unrecognized URL shapes.
func jobIDFromURL(pageURL string) string {
	if m := jobSlugRe.FindStringSubmatch(pageURL); m != nil {
		return m[1]
	}
	sum := md5.Sum([]byte(pageURL))
	return hex.EncodeToString(sum[:])[:16]
}

func (p *Parser) extractTitle(doc *goquery.Document) string {
	for _, selector := range []string{"h1", "h1.posting-title", `[class*="title"]`} {
		title := cleanText(doc.Find(selector).First().Text())
		if len(title) > 5 {
			return title
		}
	}
	return ""
}

func (p *Parser) extractSalary(doc *goquery.Document) string {
	for _, selector := range []string{`[class*="salary"]`, `[class*="money"]`, "span.salary", "div.salary-range"} {
		text := cleanText(doc.Find(selector).First().Text())
		if digitRe.MatchString(text) {
			return text
		}
	}
	// Fall back to a range pattern anywhere in the page text.
	if m := salaryRangeRe.FindString(doc.Text()); m != "" {
		return m
	}
	return ""
}

var techSelectors = []string{
	`[class*="technology"]`,
	`[class*="skill"]`,
	`[class*="tech-"]`,
	"span.tag",
	"div.tags span",
}

// techKeywords is the fallback scan list for pages without structured tags.
var techKeywords = []string{
	"Python", "Java", "JavaScript", "TypeScript", "C#", "C++", "Go", "Rust",
	"Ruby", "PHP", "Swift", "Kotlin", "Scala",
	"React", "Angular", "Vue", "Django", "Flask", "FastAPI", "Spring",
	"Node.js", "Express", ".NET", "ASP.NET",
	"PostgreSQL", "MySQL", "MongoDB", "Redis", "Elasticsearch", "Oracle",
	"AWS", "Azure", "GCP", "Docker", "Kubernetes", "Terraform",
	"Git", "Jenkins", "GitLab", "CI/CD", "Ansible",
	"Linux", "Ubuntu", "Windows", "MacOS",
}

func (p *Parser) extractTechnologies(doc *goquery.Document) []string {
	var techs []string
	seen := map[string]struct{}{}

	for _, selector := range techSelectors {
		doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
			tech := cleanText(s.Text())
			if len(tech) < 2 {
				return
			}
			if _, dup := seen[tech]; dup {
				return
			}
			seen[tech] = struct{}{}
			techs = append(techs, tech)
		})
	}

	if len(techs) == 0 {
		techs = techsFromText(doc.Text())
	}
	if len(techs) > 50 {
		techs = techs[:50]
	}
	return techs
}

func techsFromText(text string) []string {
	lower := strings.ToLower(text)
	var found []string
	for _, tech := range techKeywords {
		if containsWord(lower, strings.ToLower(tech)) {
			found = append(found, tech)
		}
	}
	return found
}

// containsWord does a word-boundary substring match without building a
// regexp per keyword.
func containsWord(haystack, needle string) bool {
	for start := 0; ; {
		i := strings.Index(haystack[start:], needle)
		if i < 0 {
			return false
		}
		i += start
		end := i + len(needle)
		beforeOK := i == 0 || !isWordChar(haystack[i-1])
		afterOK := end == len(haystack) || !isWordChar(haystack[end])
		if beforeOK && afterOK {
			return true
		}
		start = i + 1
	}
}

func isWordChar(c byte) bool {
	return c == '_' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

var (
	seniorWords = []string{"senior", "starszy", "lead", "principal", "architect"}
	juniorWords = []string{"junior", "młodszy", "trainee", "graduate"}
)

func (p *Parser) extractSeniority(doc *goquery.Document) string {
	title := strings.ToLower(cleanText(doc.Find("h1").First().Text()))
	if containsAny(title, seniorWords) {
		return "senior"
	}
	if containsAny(title, juniorWords) {
		return "junior"
	}
	if containsAny(title, []string{"mid", "regular"}) {
		return "mid"
	}

	body := strings.ToLower(doc.Text())
	if strings.Contains(body, "senior") || strings.Contains(body, "starszy") {
		return "senior"
	}
	if strings.Contains(body, "junior") || strings.Contains(body, "młodszy") {
		return "junior"
	}
	return "mid"
}

func extractEmploymentType(doc *goquery.Document) string {
	text := strings.ToLower(doc.Text())
	switch {
	case strings.Contains(text, "b2b"):
		return "b2b"
	case strings.Contains(text, "full-time"), strings.Contains(text, "pełny etat"):
		return "full-time"
	case strings.Contains(text, "part-time"), strings.Contains(text, "część etatu"):
		return "part-time"
	case strings.Contains(text, "contract"), strings.Contains(text, "kontrakt"), strings.Contains(text, "umowa"):
		return "contract"
	}
	return ""
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// firstText returns the cleaned text of the first selector that matches.
func firstText(doc *goquery.Document, selectors ...string) string {
	for _, selector := range selectors {
		if text := cleanText(doc.Find(selector).First().Text()); text != "" {
			return text
		}
	}
	return ""
}

// firstBlockText is firstText preserving line structure between elements.
func firstBlockText(doc *goquery.Document, selectors ...string) string {
	for _, selector := range selectors {
		sel := doc.Find(selector).First()
		if sel.Length() == 0 {
			continue
		}
		var lines []string
		for _, line := range strings.Split(sel.Text(), "\n") {
			if line = cleanText(line); line != "" {
				lines = append(lines, line)
			}
		}
		if len(lines) > 0 {
			return strings.Join(lines, "\n")
		}
	}
	return ""
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

func (p *Parser) absoluteURL(href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	base, err := url.Parse(p.baseURL)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
