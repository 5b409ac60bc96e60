package responder

import (
	"context"
	"strings"
	"testing"
	"time"

	"enigbot/internal/config"
	"enigbot/internal/extract"
	"enigbot/internal/models"
	"enigbot/internal/retrieval"
	"enigbot/internal/session"
)

type fakeRetriever struct {
	hits  []retrieval.Hit
	err   error
	calls int
}

func (f *fakeRetriever) Search(_ context.Context, _ string) ([]retrieval.Hit, error) {
	f.calls++
	return f.hits, f.err
}

type fakeExtractor struct {
	pageContent   string
	pageErr       error
	pageCalls     int
	schedule      *extract.Schedule
	scheduleErr   error
	scheduleCalls int
	gotWeek       *int
	gotAudience   extract.Audience
	gotBase       string
}

func (f *fakeExtractor) ExtractPage(_ context.Context, _, _ string) (string, error) {
	f.pageCalls++
	return f.pageContent, f.pageErr
}

func (f *fakeExtractor) ExtractSchedule(_ context.Context, baseURL string, week *int, audience extract.Audience) (*extract.Schedule, error) {
	f.scheduleCalls++
	f.gotBase = baseURL
	f.gotWeek = week
	f.gotAudience = audience
	if f.scheduleErr != nil {
		return nil, f.scheduleErr
	}
	return f.schedule, nil
}

type fakeGenerator struct {
	replies []string
	err     error
	calls   int
	prompts []string
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	if len(f.replies) == 0 {
		return "Voici une réponse complète fondée sur les sources fournies.", nil
	}
	reply := f.replies[0]
	if len(f.replies) > 1 {
		f.replies = f.replies[1:]
	}
	return reply, nil
}

type fakeDocs struct {
	hits    []retrieval.Hit
	docs    []models.IndexedDocument
	content map[string][]models.Chunk
	calls   int
}

func (f *fakeDocs) Search(_ context.Context, _ string) ([]retrieval.Hit, error) {
	f.calls++
	return f.hits, nil
}

func (f *fakeDocs) Content(filename string) []models.Chunk { return f.content[filename] }

func (f *fakeDocs) List() []models.IndexedDocument { return f.docs }

var testScheduleCfg = config.ScheduleConfig{
	StudentURL:    "http://example.test/edt",
	InstructorURL: "http://example.test/edt-enseignants",
}

func newTestDispatcher(r *fakeRetriever, e *fakeExtractor, g *fakeGenerator, d *fakeDocs) *Dispatcher {
	var docs DocumentStore
	if d != nil {
		docs = d
	}
	return NewDispatcher(r, e, g, docs, testScheduleCfg)
}

func TestProcessConversationUsesNoTools(t *testing.T) {
	retriever := &fakeRetriever{}
	extractor := &fakeExtractor{}
	generator := &fakeGenerator{}
	d := newTestDispatcher(retriever, extractor, generator, nil)
	sess := session.New(nil)

	result := d.Process(context.Background(), "bonjour, ça va ?", sess)

	if retriever.calls != 0 || extractor.pageCalls != 0 || extractor.scheduleCalls != 0 {
		t.Fatalf("conversation used tools: retriever=%d pages=%d schedules=%d",
			retriever.calls, extractor.pageCalls, extractor.scheduleCalls)
	}
	if result.Iterations != 0 {
		t.Errorf("Iterations = %d, want 0", result.Iterations)
	}
	if len(result.Sources) != 0 {
		t.Errorf("Sources = %v, want none", result.Sources)
	}
	if generator.calls != 1 {
		t.Errorf("generator calls = %d, want 1", generator.calls)
	}
	turns := sess.Recent(1)
	if len(turns) != 1 || turns[0].Query.Intent != models.IntentConversation {
		t.Errorf("turn not recorded with conversation intent: %+v", turns)
	}
}

func TestProcessInternshipGathersEvidence(t *testing.T) {
	retriever := &fakeRetriever{hits: []retrieval.Hit{
		{Source: "http://example.test/mitacs", Content: "page indexée", Score: 0.9},
		{Source: "http://example.test/globalink", Content: "page indexée", Score: 0.8},
	}}
	extractor := &fakeExtractor{
		pageContent: "Le programme Mitacs Globalink accueille des stagiaires internationaux.\n\nLa candidature se fait en ligne avant septembre.",
	}
	generator := &fakeGenerator{}
	d := newTestDispatcher(retriever, extractor, generator, nil)
	sess := session.New(nil)

	result := d.Process(context.Background(), "comment postuler au programme mitacs globalink ?", sess)

	if result.Iterations != 3 {
		t.Errorf("Iterations = %d, want 3 (one search, two extractions)", result.Iterations)
	}
	if len(result.Sources) != 2 {
		t.Fatalf("Sources = %v, want both pages", result.Sources)
	}
	if generator.calls != 1 {
		t.Fatalf("generator calls = %d, want 1", generator.calls)
	}
	if !strings.Contains(generator.prompts[0], "Mitacs Globalink") {
		t.Error("synthesis prompt is missing the extracted evidence")
	}
	if !strings.Contains(generator.prompts[0], "http://example.test/mitacs") {
		t.Error("synthesis prompt is missing the evidence source")
	}
}

func TestProcessInternshipRespectsIterationBudget(t *testing.T) {
	hits := make([]retrieval.Hit, 10)
	for i := range hits {
		hits[i] = retrieval.Hit{Source: "http://example.test/page", Content: "x", Score: 0.5}
	}
	retriever := &fakeRetriever{hits: hits}
	extractor := &fakeExtractor{pageContent: "Page sans rapport avec le sujet demandé."}
	generator := &fakeGenerator{}
	d := newTestDispatcher(retriever, extractor, generator, nil)

	result := d.Process(context.Background(), "procédure d'inscription au stage pfe", session.New(nil))

	budget := budgetFor(models.IntentInternship)
	if result.Iterations > budget.MaxIter {
		t.Errorf("Iterations = %d, exceeds budget %d", result.Iterations, budget.MaxIter)
	}
	if extractor.pageCalls != budget.MaxIter-1 {
		t.Errorf("page extractions = %d, want %d", extractor.pageCalls, budget.MaxIter-1)
	}
	// Nothing relevant was found; the answer must say so without inventing
	// a source.
	if len(result.Sources) != 0 {
		t.Errorf("Sources = %v, want none", result.Sources)
	}
	if !strings.Contains(result.Answer, "pas trouvé de source fiable") {
		t.Errorf("Answer = %q, want the no-evidence explanation", result.Answer)
	}
}

func TestProcessEmptyRetrievalReportsNoEvidence(t *testing.T) {
	retriever := &fakeRetriever{}
	generator := &fakeGenerator{}
	d := newTestDispatcher(retriever, &fakeExtractor{}, generator, nil)

	result := d.Process(context.Background(), "quels sont les programmes de Mitacs ?", session.New(nil))

	if generator.calls != 0 {
		t.Errorf("generator calls = %d, want 0 when there is no evidence", generator.calls)
	}
	if len(result.Sources) != 0 {
		t.Errorf("Sources = %v, want none", result.Sources)
	}
	if !strings.Contains(result.Answer, "pas trouvé de source fiable") {
		t.Errorf("Answer = %q, want the no-evidence explanation", result.Answer)
	}
}

func TestProcessScheduleWeekAndGroup(t *testing.T) {
	extractor := &fakeExtractor{schedule: &extract.Schedule{
		Week:      14,
		SourceURL: "http://example.test/edt/semaine-14",
		PDFURL:    "http://example.test/edt/semaine-14.pdf",
		Pages: []extract.SchedulePage{
			{Page: 1, Group: "GCR1A", Content: "Lundi 08h30 Béton armé salle A1"},
			{Page: 2, Group: "GCR2", Content: "Lundi 08h30 Hydraulique salle B2"},
		},
	}}
	generator := &fakeGenerator{}
	d := newTestDispatcher(&fakeRetriever{}, extractor, generator, nil)

	result := d.Process(context.Background(), "emploi du temps semaine 14 gcr1a", session.New(nil))

	if extractor.gotBase != testScheduleCfg.StudentURL {
		t.Errorf("base URL = %q, want the student index", extractor.gotBase)
	}
	if extractor.gotAudience != extract.AudienceStudents {
		t.Errorf("audience = %v, want students", extractor.gotAudience)
	}
	if extractor.gotWeek == nil || *extractor.gotWeek != 14 {
		t.Fatalf("requested week = %v, want 14", extractor.gotWeek)
	}
	prompt := generator.prompts[0]
	if !strings.Contains(prompt, "Béton armé") {
		t.Error("prompt is missing the requested group's page")
	}
	if strings.Contains(prompt, "Hydraulique") {
		t.Error("prompt contains another group's page despite the group filter")
	}
	if len(result.Sources) != 1 || result.Sources[0] != extractor.schedule.PDFURL {
		t.Errorf("Sources = %v, want the schedule PDF", result.Sources)
	}
}

func TestProcessScheduleIndexFromRetrieval(t *testing.T) {
	retriever := &fakeRetriever{hits: []retrieval.Hit{
		{Source: "http://enigplus.test/emploi-du-temps", Title: "Emploi du temps", Score: 0.95},
	}}
	extractor := &fakeExtractor{schedule: &extract.Schedule{
		Week:      14,
		SourceURL: "http://enigplus.test/emploi-du-temps/semaine-14",
		PDFURL:    "http://enigplus.test/emploi-du-temps/semaine-14.pdf",
		Pages:     []extract.SchedulePage{{Page: 1, Group: "GCR1", Content: "Lundi 08h30 Béton armé"}},
	}}
	generator := &fakeGenerator{}
	d := newTestDispatcher(retriever, extractor, generator, nil)

	result := d.Process(context.Background(), "emploi étudiants semaine 14", session.New(nil))

	if extractor.gotBase != "http://enigplus.test/emploi-du-temps" {
		t.Errorf("base URL = %q, want the retrieval-provided index", extractor.gotBase)
	}
	if len(result.Sources) != 1 || !strings.HasSuffix(result.Sources[0], ".pdf") {
		t.Errorf("Sources = %v, want the schedule PDF link", result.Sources)
	}
	if !strings.Contains(generator.prompts[0], "Béton armé") {
		t.Error("synthesis prompt is missing the per-group timetable content")
	}
}

func TestProcessScheduleLatestWeekByDefault(t *testing.T) {
	extractor := &fakeExtractor{schedule: &extract.Schedule{
		Week:      15,
		SourceURL: "http://example.test/edt/semaine-15",
		Pages:     []extract.SchedulePage{{Page: 1, Content: "Mardi 10h00 Topographie"}},
	}}
	d := newTestDispatcher(&fakeRetriever{}, extractor, &fakeGenerator{}, nil)

	d.Process(context.Background(), "quel est l'emploi du temps de cette semaine ?", session.New(nil))

	if extractor.gotWeek != nil {
		t.Errorf("requested week = %d, want nil for the latest week", *extractor.gotWeek)
	}
}

func TestProcessScheduleInstructorAudience(t *testing.T) {
	extractor := &fakeExtractor{schedule: &extract.Schedule{
		Week:      14,
		SourceURL: "http://example.test/edt-enseignants/semaine-14",
		Pages:     []extract.SchedulePage{{Page: 1, Content: "Planning enseignants"}},
	}}
	d := newTestDispatcher(&fakeRetriever{}, extractor, &fakeGenerator{}, nil)

	d.Process(context.Background(), "emploi du temps des enseignants semaine 14", session.New(nil))

	if extractor.gotBase != testScheduleCfg.InstructorURL {
		t.Errorf("base URL = %q, want the instructor index", extractor.gotBase)
	}
	if extractor.gotAudience != extract.AudienceInstructors {
		t.Errorf("audience = %v, want instructors", extractor.gotAudience)
	}
}

func TestProcessScheduleWeekNotFound(t *testing.T) {
	extractor := &fakeExtractor{scheduleErr: &extract.WeekNotFoundError{Requested: 99, Available: []int{14, 13}}}
	generator := &fakeGenerator{}
	d := newTestDispatcher(&fakeRetriever{}, extractor, generator, nil)

	result := d.Process(context.Background(), "emploi du temps semaine 99", session.New(nil))

	if generator.calls != 0 {
		t.Errorf("generator calls = %d, want 0", generator.calls)
	}
	if !strings.Contains(result.Answer, "semaine 99") {
		t.Errorf("Answer = %q, want mention of the missing week", result.Answer)
	}
	if !strings.Contains(result.Answer, "14, 13") {
		t.Errorf("Answer = %q, want the available weeks", result.Answer)
	}
}

// fallbackExtractor serves the latest week only when no specific week is
// requested.
type fallbackExtractor struct {
	fakeExtractor
	latest *extract.Schedule
}

func (f *fallbackExtractor) ExtractSchedule(ctx context.Context, baseURL string, week *int, audience extract.Audience) (*extract.Schedule, error) {
	f.scheduleCalls++
	if week == nil {
		return f.latest, nil
	}
	return nil, &extract.WeekNotFoundError{Requested: *week, Available: []int{f.latest.Week}}
}

func TestProcessScheduleMissingWeekServesLatest(t *testing.T) {
	extractor := &fallbackExtractor{latest: &extract.Schedule{
		Week:      14,
		SourceURL: "http://example.test/edt/semaine-14",
		Pages:     []extract.SchedulePage{{Page: 1, Content: "Lundi 08h30 Béton armé"}},
	}}
	d := NewDispatcher(&fakeRetriever{}, extractor, &fakeGenerator{}, nil, testScheduleCfg)

	result := d.Process(context.Background(), "emploi du temps semaine 20", session.New(nil))

	if extractor.scheduleCalls != 2 {
		t.Errorf("schedule extractions = %d, want 2 (requested week, then latest)", extractor.scheduleCalls)
	}
	if !strings.Contains(result.Answer, "semaine 20") {
		t.Errorf("Answer = %q, want mention of the missing week", result.Answer)
	}
	if !strings.Contains(result.Answer, "Béton armé") {
		t.Errorf("Answer = %q, want the latest published week's content", result.Answer)
	}
}

func TestProcessDocumentList(t *testing.T) {
	docs := &fakeDocs{docs: []models.IndexedDocument{
		{Filename: "rapport.pdf", IndexedAt: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), Chunks: 12},
	}}
	generator := &fakeGenerator{}
	d := newTestDispatcher(&fakeRetriever{}, &fakeExtractor{}, generator, docs)
	sess := session.New(nil)
	sess.SetUpload("rapport.pdf")

	d.Process(context.Background(), "quels documents sont disponibles ?", sess)

	if docs.calls != 0 {
		t.Errorf("document searches = %d, want 0 for a listing question", docs.calls)
	}
	if !strings.Contains(generator.prompts[0], "rapport.pdf") {
		t.Error("prompt is missing the indexed document name")
	}
}

func TestProcessDocumentSearch(t *testing.T) {
	docs := &fakeDocs{hits: []retrieval.Hit{
		{Source: "rapport.pdf", Content: "Le chapitre 3 traite du dimensionnement des poutres.", Score: 0.91},
	}}
	generator := &fakeGenerator{}
	d := newTestDispatcher(&fakeRetriever{}, &fakeExtractor{}, generator, docs)
	sess := session.New(nil)
	sess.SetUpload("rapport.pdf")

	result := d.Process(context.Background(), "de quoi parle le chapitre 3 de ce document ?", sess)

	if docs.calls != 1 {
		t.Fatalf("document searches = %d, want 1", docs.calls)
	}
	if !strings.Contains(generator.prompts[0], "dimensionnement des poutres") {
		t.Error("prompt is missing the document evidence")
	}
	if len(result.Sources) != 1 || result.Sources[0] != "rapport.pdf" {
		t.Errorf("Sources = %v, want the document name", result.Sources)
	}
}

func TestProcessDocumentSummary(t *testing.T) {
	docs := &fakeDocs{content: map[string][]models.Chunk{
		"rapport.pdf": {
			{Content: "Introduction au dimensionnement des structures.", PageNumber: 1, ChunkID: 1},
			{Content: "Calcul des charges permanentes et d'exploitation.", PageNumber: 2, ChunkID: 1},
		},
	}}
	generator := &fakeGenerator{}
	d := newTestDispatcher(&fakeRetriever{}, &fakeExtractor{}, generator, docs)
	sess := session.New(nil)
	sess.SetUpload("rapport.pdf")

	d.Process(context.Background(), "peux-tu résumer ce document ?", sess)

	if docs.calls != 0 {
		t.Errorf("document searches = %d, want 0 for a summary of the active upload", docs.calls)
	}
	prompt := generator.prompts[0]
	if !strings.Contains(prompt, "Summarize") {
		t.Error("prompt does not use the summary template")
	}
	if !strings.Contains(prompt, "dimensionnement des structures") {
		t.Error("prompt is missing the document content")
	}
}

func TestProcessShortAnswerRetriedThenDegraded(t *testing.T) {
	generator := &fakeGenerator{replies: []string{"Ok.", "Ok."}}
	d := newTestDispatcher(&fakeRetriever{}, &fakeExtractor{}, generator, nil)

	result := d.Process(context.Background(), "bonjour", session.New(nil))

	if generator.calls != 2 {
		t.Errorf("generator calls = %d, want 2 (one retry)", generator.calls)
	}
	if !result.Degraded {
		t.Error("Degraded = false, want true for a persistently short answer")
	}
	if !strings.Contains(result.Answer, "Réponse partielle") {
		t.Errorf("Answer = %q, want the degraded notice", result.Answer)
	}
}

func TestCleanAnswer(t *testing.T) {
	raw := "<think>raisonnement interne</think>Thought: je dois chercher\nAction: search\nLa réponse est la semaine 14.\n\n\nFinal Answer: ignorée"
	got := cleanAnswer(raw)
	if strings.Contains(got, "think") || strings.Contains(got, "Thought") || strings.Contains(got, "Final Answer") {
		t.Errorf("cleanAnswer(%q) = %q, traces not stripped", raw, got)
	}
	if !strings.Contains(got, "La réponse est la semaine 14.") {
		t.Errorf("cleanAnswer(%q) = %q, content lost", raw, got)
	}
}

func TestWeekFromQuery(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"emploi du temps semaine 14", 14, true},
		{"edt semaine-7", 7, true},
		{"schedule for week 3", 3, true},
		{"emploi du temps", 0, false},
	}
	for _, tt := range tests {
		got := weekFromQuery(tt.in)
		if tt.ok && (got == nil || *got != tt.want) {
			t.Errorf("weekFromQuery(%q) = %v, want %d", tt.in, got, tt.want)
		}
		if !tt.ok && got != nil {
			t.Errorf("weekFromQuery(%q) = %d, want nil", tt.in, *got)
		}
	}
}

func TestGroupFromQuery(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"emploi du temps gcr1a", "GCR1A"},
		{"edt GCR2", "GCR2"},
		{"emploi du temps", ""},
	}
	for _, tt := range tests {
		if got := groupFromQuery(tt.in); got != tt.want {
			t.Errorf("groupFromQuery(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
