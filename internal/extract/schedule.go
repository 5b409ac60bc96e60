package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/html"

	"enigbot/internal/models"
)

// Audience selects which timetable variant a schedule page refers to.
type Audience int

const (
	AudienceAny Audience = iota
	AudienceStudents
	AudienceInstructors
)

// SchedulePage is one page of a schedule PDF; one page holds one academic
// group's timetable.
type SchedulePage struct {
	Page    int
	Group   string
	Content string
}

// Schedule is the extracted timetable for one week.
type Schedule struct {
	Week      int
	SourceURL string
	PDFURL    string
	Pages     []SchedulePage
}

// WeekNotFoundError reports that a requested week has no published
// schedule, along with the weeks that are available.
type WeekNotFoundError struct {
	Requested int
	Available []int
}

func (e *WeekNotFoundError) Error() string {
	return fmt.Sprintf("schedule for week %d not found (available: %v)", e.Requested, e.Available)
}

var (
	weekLabelPattern  = regexp.MustCompile(models.WeekLabelRegex)
	groupLabelPattern = regexp.MustCompile(models.GroupLabelRegex)
)

type weekLink struct {
	Week int
	URL  string
}

// ExtractSchedule locates the schedule for the requested week on the
// timetable index page and extracts the content of its PDF, one entry per
// group. A nil week selects the latest published week. A missing requested
// week yields a WeekNotFoundError rather than a fetch failure.
func (e *Extractor) ExtractSchedule(ctx context.Context, baseURL string, week *int, audience Audience) (*Schedule, error) {
	root, err := e.fetchHTML(ctx, baseURL)
	if err != nil {
		return nil, fmt.Errorf("extracting schedule index %s: %w", baseURL, err)
	}

	pageLinks, pdfLinks := weekLinks(root, baseURL, audience)
	if len(pageLinks) == 0 && len(pdfLinks) == 0 {
		return nil, fmt.Errorf("no week links on %s", baseURL)
	}

	target, pageURL, pdfURL, err := pickWeek(pageLinks, pdfLinks, week)
	if err != nil {
		return nil, err
	}

	sched := &Schedule{Week: target, SourceURL: baseURL, PDFURL: pdfURL}

	// The PDF is sometimes only linked from the week's own page.
	var pageContent string
	if pageURL != "" {
		if node, err := e.fetchHTML(ctx, pageURL); err == nil {
			pageContent = pageText(node)
			if sched.PDFURL == "" {
				_, inner := weekLinks(node, pageURL, audience)
				for _, l := range inner {
					if l.Week == target || l.Week == 0 {
						sched.PDFURL = l.URL
						break
					}
				}
			}
		}
	}

	if sched.PDFURL != "" {
		pages, err := e.extractSchedulePDF(ctx, sched.PDFURL)
		if err != nil {
			log.Warn().Str("pdf", sched.PDFURL).Err(err).Msg("schedule PDF extraction failed")
		} else {
			sched.Pages = pages
		}
	}
	if len(sched.Pages) == 0 && pageContent != "" {
		sched.Pages = []SchedulePage{{Page: 1, Content: clip(cleanContent(pageContent))}}
	}
	if len(sched.Pages) == 0 {
		return nil, fmt.Errorf("week %d: no extractable schedule content", target)
	}
	return sched, nil
}

// pickWeek resolves the target week and its page/PDF links.
func pickWeek(pages, pdfs []weekLink, requested *int) (week int, pageURL, pdfURL string, err error) {
	available := weekNumbers(pages, pdfs)
	if len(available) == 0 {
		return 0, "", "", fmt.Errorf("no dated week links found")
	}

	if requested == nil {
		week = available[0] // latest
	} else {
		week = *requested
		found := false
		for _, w := range available {
			if w == week {
				found = true
				break
			}
		}
		if !found {
			return 0, "", "", &WeekNotFoundError{Requested: week, Available: available}
		}
	}

	for _, l := range pages {
		if l.Week == week {
			pageURL = l.URL
			break
		}
	}
	for _, l := range pdfs {
		if l.Week == week {
			pdfURL = l.URL
			break
		}
	}
	return week, pageURL, pdfURL, nil
}

func weekNumbers(pages, pdfs []weekLink) []int {
	seen := make(map[int]bool)
	var out []int
	for _, l := range append(append([]weekLink{}, pages...), pdfs...) {
		if l.Week > 0 && !seen[l.Week] {
			seen[l.Week] = true
			out = append(out, l.Week)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(out)))
	return out
}

// weekLinks scans anchors for week-numbered pages and PDFs, filtered by
// audience markers in the link.
func weekLinks(node *html.Node, baseURL string, audience Audience) (pages, pdfs []weekLink) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, nil
	}
	for _, a := range anchors(node) {
		target, err := base.Parse(a.href)
		if err != nil {
			continue
		}
		full := target.String()
		label := strings.ToLower(full + " " + a.text)

		if !matchesAudience(label, audience) {
			continue
		}

		w, ok := weekFromLabel(label)
		isPDF := strings.Contains(strings.ToLower(target.Path), ".pdf")
		switch {
		case isPDF && ok:
			pdfs = append(pdfs, weekLink{Week: w, URL: full})
		case isPDF:
			pdfs = append(pdfs, weekLink{Week: 0, URL: full})
		case ok:
			pages = append(pages, weekLink{Week: w, URL: full})
		}
	}
	return pages, pdfs
}

func matchesAudience(label string, audience Audience) bool {
	isInstructor := strings.Contains(label, "enseignant") || strings.Contains(label, "prof")
	switch audience {
	case AudienceStudents:
		return !isInstructor
	case AudienceInstructors:
		return isInstructor
	default:
		return true
	}
}

func weekFromLabel(label string) (int, bool) {
	m := weekLabelPattern.FindStringSubmatch(label)
	if m == nil {
		return 0, false
	}
	for _, g := range m[1:] {
		if g != "" {
			n, err := strconv.Atoi(g)
			return n, err == nil
		}
	}
	return 0, false
}

// extractSchedulePDF downloads the PDF and returns one entry per page,
// labelled with the group code found in the page header when present.
func (e *Extractor) extractSchedulePDF(ctx context.Context, pdfURL string) ([]SchedulePage, error) {
	body, err := e.fetch(ctx, pdfURL)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(body)
	body.Close()
	if err != nil {
		return nil, err
	}

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("parsing pdf: %w", err)
	}

	var pages []SchedulePage
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			log.Debug().Int("page", i).Err(err).Msg("unreadable pdf page")
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		pages = append(pages, SchedulePage{
			Page:    i,
			Group:   groupLabelPattern.FindString(text),
			Content: cleanPDFText(text),
		})
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("pdf has no extractable text (possibly scanned)")
	}
	return pages, nil
}

var controlChars = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)

func cleanPDFText(text string) string {
	text = controlChars.ReplaceAllString(text, "")
	var lines []string
	for _, l := range strings.Split(text, "\n") {
		lines = append(lines, strings.TrimSpace(l))
	}
	text = strings.Join(lines, "\n")
	for strings.Contains(text, "\n\n\n") {
		text = strings.ReplaceAll(text, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(text)
}

// Render formats the schedule as user-facing text with page separators.
func (s *Schedule) Render() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Emploi du temps - Semaine %d\n", s.Week)
	for _, p := range s.Pages {
		sb.WriteString("\n" + strings.Repeat("=", 40) + "\n")
		if p.Group != "" {
			fmt.Fprintf(&sb, "Groupe %s (page %d)\n", p.Group, p.Page)
		} else {
			fmt.Fprintf(&sb, "Page %d\n", p.Page)
		}
		sb.WriteString(p.Content)
		sb.WriteString("\n")
	}
	if s.PDFURL != "" {
		fmt.Fprintf(&sb, "\nPDF: %s\n", s.PDFURL)
	}
	return sb.String()
}
