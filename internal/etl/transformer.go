package etl

import (
	"regexp"
	"strconv"
	"strings"

	"jobpulse/ingest-service/internal/model"
)

// Transformer normalizes free-text salary, location, seniority and
// technology fields against fixed lookup tables. It is stateless.
type Transformer struct{}

// NewTransformer constructs a Transformer.
func NewTransformer() *Transformer {
	return &Transformer{}
}

// cityRegions maps recognized Polish cities to their regions. Order matters:
// the first city found in the text wins.
var cityRegions = []struct {
	City   string
	Region string
}{
	{"Warszawa", "Mazowieckie"},
	{"Kraków", "Małopolskie"},
	{"Wrocław", "Dolnośląskie"},
	{"Poznań", "Wielkopolskie"},
	{"Gdańsk", "Pomorskie"},
	{"Gdynia", "Pomorskie"},
	{"Sopot", "Pomorskie"},
	{"Szczecin", "Zachodniopomorskie"},
	{"Łódź", "Łódzkie"},
	{"Katowice", "Śląskie"},
	{"Gliwice", "Śląskie"},
	{"Bydgoszcz", "Kujawsko-pomorskie"},
	{"Lublin", "Lubelskie"},
	{"Białystok", "Podlaskie"},
	{"Rzeszów", "Podkarpackie"},
	{"Toruń", "Kujawsko-pomorskie"},
}

// techCategories is evaluated in two passes: exact case-insensitive equality
// over the whole table first, then substring containment. The exact pass must
// finish before the substring pass starts so that e.g. "Java" matches the
// language entry instead of substring-matching inside "JavaScript" rules.
var techCategories = []struct {
	Category string
	Names    []string
}{
	{"language", []string{
		"Python", "Java", "JavaScript", "TypeScript", "C#", "C++", "Go",
		"Rust", "Ruby", "PHP", "Swift", "Kotlin", "Scala", "R", "Julia",
	}},
	{"framework", []string{
		"React", "Angular", "Vue", "Django", "Flask", "FastAPI", "Spring",
		"Node.js", "Express", ".NET", "ASP.NET", "Laravel", "Rails",
		"Symfony", "Next.js", "Nuxt.js", "Svelte",
	}},
	{"database", []string{
		"PostgreSQL", "MySQL", "MongoDB", "Redis", "Elasticsearch",
		"Oracle", "SQL Server", "Cassandra", "DynamoDB", "MariaDB",
		"SQLite", "Neo4j", "CouchDB",
	}},
	{"cloud", []string{
		"AWS", "Azure", "GCP", "Google Cloud", "Heroku", "DigitalOcean",
		"Linode", "Cloudflare",
	}},
	{"tool", []string{
		"Docker", "Kubernetes", "Git", "Jenkins", "GitLab", "GitHub",
		"Terraform", "Ansible", "Vagrant", "CI/CD", "Jira", "Confluence",
	}},
}

var remoteKeywords = []string{"zdalna", "remote", "zdalnie", "praca zdalna", "remotely"}

var numberRe = regexp.MustCompile(`\d+`)

// Transform normalizes one extracted job.
func (t *Transformer) Transform(job model.ExtractedJob) model.NormalizedJob {
	city, region, locType := t.StandardizeLocation(job.Snapshot.Location)

	normalized := model.NormalizedJob{
		Posting: job.Posting,
		Snapshot: model.JobSnapshot{
			JobID:          job.Posting.JobID,
			Description:    job.Snapshot.Description,
			Requirements:   job.Snapshot.Requirements,
			LocationType:   locType,
			City:           city,
			Region:         region,
			Country:        "Poland",
			SeniorityLevel: t.NormalizeSeniority(job.Snapshot.Seniority),
			EmploymentType: job.Snapshot.EmploymentType,
		},
		Salary: t.NormalizeSalary(job.SalaryText),
	}

	for _, name := range job.Technologies {
		normalized.Technologies = append(normalized.Technologies, model.Technology{
			Name:     name,
			Category: t.CategorizeTechnology(name),
		})
	}

	return normalized
}

// TransformBatch normalizes a batch; items are independent.
func (t *Transformer) TransformBatch(jobs []model.ExtractedJob) []model.NormalizedJob {
	out := make([]model.NormalizedJob, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, t.Transform(job))
	}
	return out
}

// NormalizeSalary parses salary free text. It returns nil when no usable
// figure exists — a single embedded number counts only when the text carries
// a currency marker.
func (t *Transformer) NormalizeSalary(text string) *model.Salary {
	if text == "" {
		return nil
	}

	cleaned := strings.ReplaceAll(text, " ", "")
	cleaned = strings.ReplaceAll(cleaned, "\u00a0", "")
	lower := strings.ToLower(cleaned)

	numbers := numberRe.FindAllString(cleaned, -1)

	var salaryMin, salaryMax int
	switch {
	case len(numbers) == 0:
		return nil
	case len(numbers) == 1:
		if !hasCurrencyMarker(cleaned) {
			return nil
		}
		v, err := strconv.Atoi(numbers[0])
		if err != nil {
			return nil
		}
		salaryMin, salaryMax = v, v
	default:
		var err error
		if salaryMin, err = strconv.Atoi(numbers[0]); err != nil {
			return nil
		}
		if salaryMax, err = strconv.Atoi(numbers[1]); err != nil {
			return nil
		}
	}

	if salaryMin > salaryMax {
		salaryMin, salaryMax = salaryMax, salaryMin
	}

	currency := "PLN"
	if strings.Contains(cleaned, "EUR") || strings.Contains(cleaned, "€") {
		currency = "EUR"
	} else if strings.Contains(cleaned, "USD") || strings.Contains(cleaned, "$") {
		currency = "USD"
	}

	period := "monthly"
	if strings.Contains(lower, "/h") || strings.Contains(lower, "godz") || strings.Contains(lower, "hour") {
		period = "hourly"
	} else if strings.Contains(lower, "/rok") || strings.Contains(lower, "annual") || strings.Contains(lower, "yearly") {
		period = "annual"
	}

	b2b := strings.Contains(lower, "b2b") || strings.Contains(lower, "netto") || strings.Contains(lower, "net")

	return &model.Salary{
		Currency: currency,
		Min:      float64(salaryMin),
		Max:      float64(salaryMax),
		Avg:      float64(salaryMin+salaryMax) / 2,
		Period:   period,
		B2B:      b2b,
	}
}

func hasCurrencyMarker(s string) bool {
	for _, marker := range []string{"PLN", "zł", "EUR", "€", "USD", "$"} {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}

// StandardizeLocation classifies location free text. Remote keyword plus a
// recognized city means hybrid; remote only is remote; city only is office;
// neither leaves the type empty.
func (t *Transformer) StandardizeLocation(text string) (city, region, locationType string) {
	if text == "" {
		return "", "", ""
	}

	lower := strings.ToLower(text)

	remote := false
	for _, kw := range remoteKeywords {
		if strings.Contains(lower, kw) {
			remote = true
			break
		}
	}

	for _, cr := range cityRegions {
		if strings.Contains(lower, strings.ToLower(cr.City)) {
			city, region = cr.City, cr.Region
			break
		}
	}

	switch {
	case remote && city != "":
		locationType = "hybrid"
	case remote:
		locationType = "remote"
	case city != "":
		locationType = "office"
	}
	return city, region, locationType
}

var (
	seniorKeywords = []string{"senior", "starszy", "lead", "principal", "architect"}
	juniorKeywords = []string{"junior", "młodszy", "trainee", "graduate", "entry"}
)

// NormalizeSeniority maps free text onto junior/mid/senior; the senior family
// is checked first and absence of any keyword defaults to mid.
func (t *Transformer) NormalizeSeniority(text string) string {
	lower := strings.ToLower(text)
	for _, kw := range seniorKeywords {
		if strings.Contains(lower, kw) {
			return "senior"
		}
	}
	for _, kw := range juniorKeywords {
		if strings.Contains(lower, kw) {
			return "junior"
		}
	}
	return "mid"
}

// CategorizeTechnology resolves a name to a category: exact case-insensitive
// match over the whole table first, then substring containment, then "other".
func (t *Transformer) CategorizeTechnology(name string) string {
	lower := strings.ToLower(name)

	for _, group := range techCategories {
		for _, entry := range group.Names {
			if strings.ToLower(entry) == lower {
				return group.Category
			}
		}
	}

	// Entries shorter than 3 runes ("R", "Go", "C#") only participate in the
	// exact pass; as substrings they match almost anything.
	for _, group := range techCategories {
		for _, entry := range group.Names {
			if len(entry) < 3 {
				continue
			}
			if strings.Contains(lower, strings.ToLower(entry)) {
				return group.Category
			}
		}
	}

	return "other"
}
