package responder

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"enigbot/internal/extract"
	"enigbot/internal/models"
	"enigbot/internal/retrieval"
)

// enoughEvidence is the number of evidence units after which the web loop
// stops early instead of spending the rest of its budget.
const enoughEvidence = 3

var (
	weekQueryPattern  = regexp.MustCompile(`(?i)(?:semaine|week)\s*[-_]?\s*(\d+)`)
	groupQueryPattern = regexp.MustCompile(`(?i)gcr\s*(\d)\s*([ab])?`)
	urlPattern        = regexp.MustCompile(`^https?://`)
)

// gatherWeb drives the internship pipeline: vector search for candidate
// pages, then keyword-bounded extraction of each, stopping at the first of
// enough evidence, budget exhaustion or context expiry. Each search and
// each extraction counts as one iteration.
func (d *Dispatcher) gatherWeb(ctx context.Context, budget Budget, question string) ([]models.EvidenceUnit, int, error) {
	iterations := 1
	hits, err := d.retriever.Search(ctx, question)
	if err != nil {
		return nil, iterations, fmt.Errorf("searching sources: %w", err)
	}
	if len(hits) == 0 {
		return nil, iterations, ErrNoEvidence
	}

	var evidence []models.EvidenceUnit
	for _, hit := range hits {
		if len(evidence) >= enoughEvidence || iterations >= budget.MaxIter || ctx.Err() != nil {
			break
		}
		if !urlPattern.MatchString(hit.Source) {
			// Indexed snippet without a fetchable page; use it as-is.
			if excerpt := extract.SemanticExcerpt(hit.Content, question); excerpt != "" {
				evidence = append(evidence, models.EvidenceUnit{Source: hit.Source, Excerpt: excerpt, Score: hit.Score})
			}
			continue
		}

		iterations++
		content, err := d.extractor.ExtractPage(ctx, hit.Source, question)
		if err != nil {
			log.Warn().Err(err).Str("url", hit.Source).Msg("page extraction failed, using indexed content")
			content = hit.Content
		}
		excerpt := extract.SemanticExcerpt(content, question)
		if excerpt == "" {
			continue
		}
		evidence = append(evidence, models.EvidenceUnit{Source: hit.Source, Excerpt: excerpt, Score: hit.Score})
	}

	if len(evidence) == 0 {
		return nil, iterations, ErrNoEvidence
	}
	return evidence, iterations, nil
}

// gatherSchedule extracts the timetable for the requested week and group.
// A question without a week number gets the latest published week; a
// question mentioning instructors is routed to the instructor index. The
// index URL is taken from retrieval when the knowledge base knows a
// schedule page, from configuration otherwise.
func (d *Dispatcher) gatherSchedule(ctx context.Context, _ Budget, question string) ([]models.EvidenceUnit, int, error) {
	week := weekFromQuery(question)
	audience := extract.AudienceStudents
	baseURL := d.schedule.StudentURL
	if asksInstructors(question) {
		audience = extract.AudienceInstructors
		if d.schedule.InstructorURL != "" {
			baseURL = d.schedule.InstructorURL
		}
	}

	iterations := 1
	if hits, err := d.retriever.Search(ctx, question); err == nil {
		if indexURL := scheduleIndexURL(hits); indexURL != "" {
			baseURL = indexURL
		}
	} else {
		log.Warn().Err(err).Msg("schedule index lookup failed, using configured URL")
	}

	schedule, err := d.extractor.ExtractSchedule(ctx, baseURL, week, audience)
	iterations++
	var wnf *extract.WeekNotFoundError
	if errors.As(err, &wnf) && week != nil {
		// Serve the latest published week alongside the explanation.
		iterations++
		latest, latestErr := d.extractor.ExtractSchedule(ctx, baseURL, nil, audience)
		if latestErr != nil {
			return nil, iterations, err
		}
		return []models.EvidenceUnit{scheduleEvidence(latest, question)}, iterations, err
	}
	if err != nil {
		return nil, iterations, err
	}
	return []models.EvidenceUnit{scheduleEvidence(schedule, question)}, iterations, nil
}

var scheduleURLMarkers = []string{"emploi", "edt", "schedule", "timetable"}

// scheduleIndexURL picks the first retrieval hit that looks like a
// schedule index page.
func scheduleIndexURL(hits []retrieval.Hit) string {
	for _, hit := range hits {
		if !urlPattern.MatchString(hit.Source) {
			continue
		}
		candidate := strings.ToLower(hit.Source + " " + hit.Title)
		for _, marker := range scheduleURLMarkers {
			if strings.Contains(candidate, marker) {
				return hit.Source
			}
		}
	}
	return ""
}

func scheduleEvidence(schedule *extract.Schedule, question string) models.EvidenceUnit {
	if group := groupFromQuery(question); group != "" {
		schedule = filterGroup(schedule, group)
	}
	unit := models.EvidenceUnit{
		Source:  schedule.SourceURL,
		Excerpt: schedule.Render(),
		Score:   1,
		Ref:     fmt.Sprintf("semaine %d", schedule.Week),
	}
	if schedule.PDFURL != "" {
		unit.Source = schedule.PDFURL
	}
	return unit
}

// maxSummaryChunks caps how much of a document is fed to summarization.
const maxSummaryChunks = 20

// gatherDocument answers from the uploaded documents. A listing question
// is served from the index itself, a summary request from the active
// upload's own chunks; everything else goes through semantic search over
// the document chunks.
func (d *Dispatcher) gatherDocument(ctx context.Context, _ Budget, question, upload string) ([]models.EvidenceUnit, int, error) {
	if d.docs == nil {
		return nil, 0, ErrNoEvidence
	}
	if asksSummary(question) && upload != "" {
		chunks := d.docs.Content(upload)
		if len(chunks) > maxSummaryChunks {
			chunks = chunks[:maxSummaryChunks]
		}
		evidence := make([]models.EvidenceUnit, 0, len(chunks))
		for _, chunk := range chunks {
			evidence = append(evidence, models.EvidenceUnit{
				Source:  upload,
				Excerpt: chunk.Content,
				Score:   1,
				Ref:     fmt.Sprintf("page %d", chunk.PageNumber),
			})
		}
		if len(evidence) > 0 {
			return evidence, 0, nil
		}
	}
	if asksDocumentList(question) {
		docs := d.docs.List()
		if len(docs) == 0 {
			return nil, 0, ErrNoEvidence
		}
		var b strings.Builder
		for _, doc := range docs {
			fmt.Fprintf(&b, "- %s (%d extraits, indexé le %s)\n", doc.Filename, doc.Chunks, doc.IndexedAt.Format("2006-01-02"))
		}
		return []models.EvidenceUnit{{Source: "documents", Excerpt: b.String(), Score: 1}}, 0, nil
	}

	hits, err := d.docs.Search(ctx, question)
	if err != nil {
		return nil, 1, fmt.Errorf("searching documents: %w", err)
	}
	if len(hits) == 0 {
		return nil, 1, ErrNoEvidence
	}
	evidence := make([]models.EvidenceUnit, 0, len(hits))
	for _, hit := range hits {
		evidence = append(evidence, models.EvidenceUnit{Source: hit.Source, Excerpt: hit.Content, Score: hit.Score})
	}
	return evidence, 1, nil
}

func weekFromQuery(q string) *int {
	m := weekQueryPattern.FindStringSubmatch(q)
	if m == nil {
		return nil
	}
	var week int
	fmt.Sscanf(m[1], "%d", &week)
	return &week
}

func groupFromQuery(q string) string {
	m := groupQueryPattern.FindStringSubmatch(q)
	if m == nil {
		return ""
	}
	return "GCR" + m[1] + strings.ToUpper(m[2])
}

var instructorMarkers = []string{"enseignant", "professeur", "prof ", "teacher", "instructor", "الأساتذة", "أستاذ"}

func asksInstructors(q string) bool {
	lower := strings.ToLower(q)
	for _, marker := range instructorMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func asksSummary(q string) bool {
	lower := strings.ToLower(q)
	return strings.Contains(lower, "résum") || strings.Contains(lower, "resum") ||
		strings.Contains(lower, "summar") || strings.Contains(lower, "لخص")
}

func asksDocumentList(q string) bool {
	lower := strings.ToLower(q)
	if !strings.Contains(lower, "document") && !strings.Contains(lower, "fichier") {
		return false
	}
	return strings.Contains(lower, "liste") || strings.Contains(lower, "list") ||
		strings.Contains(lower, "quels") || strings.Contains(lower, "which")
}

func filterGroup(schedule *extract.Schedule, group string) *extract.Schedule {
	var pages []extract.SchedulePage
	for _, page := range schedule.Pages {
		if page.Group == "" || strings.HasPrefix(page.Group, group) || strings.HasPrefix(group, page.Group) {
			pages = append(pages, page)
		}
	}
	if len(pages) == 0 {
		return schedule
	}
	filtered := *schedule
	filtered.Pages = pages
	return &filtered
}
