package responder

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"enigbot/internal/classify"
	"enigbot/internal/config"
	"enigbot/internal/extract"
	"enigbot/internal/llm"
	"enigbot/internal/models"
	"enigbot/internal/session"
)

const minAnswerLen = 20

// Dispatcher routes classified queries to their responder pipeline.
type Dispatcher struct {
	retriever Retriever
	extractor Extractor
	generator llm.Generator
	docs      DocumentStore
	schedule  config.ScheduleConfig
}

func NewDispatcher(retriever Retriever, extractor Extractor, generator llm.Generator, docs DocumentStore, schedule config.ScheduleConfig) *Dispatcher {
	return &Dispatcher{
		retriever: retriever,
		extractor: extractor,
		generator: generator,
		docs:      docs,
		schedule:  schedule,
	}
}

// Process runs one query through classification, evidence gathering,
// synthesis and cleaning, records the turn in the session and returns the
// result. It never returns an error: every failure mode becomes an honest
// answer instead.
func (d *Dispatcher) Process(ctx context.Context, question string, sess *session.Session) models.ResponderResult {
	start := time.Now()
	parent := ctx

	enriched := sess.Enrich(question)
	lang, intent := classify.Classify(enriched, sess.HasUpload())
	budget := budgetFor(intent)

	log.Debug().
		Str("intent", string(intent)).
		Str("language", string(lang)).
		Int("max_iter", budget.MaxIter).
		Msg("query classified")

	ctx, cancel := context.WithTimeout(ctx, budget.Timeout)
	defer cancel()

	var (
		evidence   []models.EvidenceUnit
		iterations int
		gatherErr  error
	)
	switch intent {
	case models.IntentConversation:
		// No tools: the conversational responder answers from the
		// message and the session history alone.
	case models.IntentSchedule:
		evidence, iterations, gatherErr = d.gatherSchedule(ctx, budget, enriched)
	case models.IntentDocument:
		evidence, iterations, gatherErr = d.gatherDocument(ctx, budget, enriched, sess.Upload())
	default:
		evidence, iterations, gatherErr = d.gatherWeb(ctx, budget, enriched)
	}

	answer, degraded := d.synthesize(ctx, intent, lang, enriched, evidence, gatherErr, sess)

	result := models.ResponderResult{
		Answer:     answer,
		Sources:    sourceList(evidence),
		Iterations: iterations,
		Elapsed:    time.Since(start),
		Degraded:   degraded,
	}
	sess.Append(parent, models.Turn{
		At:     start,
		Query:  models.Query{Raw: question, Language: lang, Intent: intent},
		Result: result,
	})
	return result
}

func (d *Dispatcher) synthesize(ctx context.Context, intent models.Intent, lang models.Language, question string, evidence []models.EvidenceUnit, gatherErr error, sess *session.Session) (string, bool) {
	if gatherErr != nil {
		answer := explainGatherFailure(gatherErr, lang)
		// The schedule pipeline may still have gathered the latest
		// published week; deliver it under the explanation.
		var wnf *extract.WeekNotFoundError
		if errors.As(gatherErr, &wnf) && len(evidence) > 0 {
			answer += "\n\n" + evidence[0].Excerpt
		}
		return answer, false
	}

	var prompt string
	switch {
	case intent == models.IntentConversation:
		prompt = fmt.Sprintf(models.ConversationPromptTemplate, question, models.LanguageInstruction(lang))
	case len(evidence) == 0:
		return explainGatherFailure(ErrNoEvidence, lang), false
	case intent == models.IntentDocument && asksSummary(question):
		prompt = fmt.Sprintf(models.SummaryPromptTemplate, evidenceBlock(evidence), models.LanguageInstruction(lang))
	default:
		prompt = fmt.Sprintf(models.AnswerPromptTemplate, evidenceBlock(evidence), question, models.LanguageInstruction(lang))
	}
	if history := historyBlock(sess.Recent(maxHistoryTurns)); history != "" {
		prompt = history + "\n" + prompt
	}

	answer, degraded, err := d.generate(ctx, prompt, lang)
	if err != nil {
		log.Warn().Err(err).Msg("synthesis failed")
		return apology(lang), true
	}
	return answer, degraded
}

// generate calls the model and cleans the output. A reply below the
// minimum length is retried once; if it stays short the degraded notice
// is appended rather than hiding the problem.
func (d *Dispatcher) generate(ctx context.Context, prompt string, lang models.Language) (string, bool, error) {
	raw, err := d.generator.Generate(ctx, prompt)
	if err != nil {
		return "", false, err
	}
	answer := cleanAnswer(raw)
	if len(answer) >= minAnswerLen {
		return answer, false, nil
	}

	log.Debug().Int("length", len(answer)).Msg("short answer, retrying synthesis")
	raw, err = d.generator.Generate(ctx, prompt)
	if err != nil {
		return "", false, err
	}
	retried := cleanAnswer(raw)
	if len(retried) >= minAnswerLen {
		return retried, false, nil
	}
	if retried == "" {
		return "", false, ErrSynthesisDegraded
	}
	return retried + "\n\n" + degradedNotice(lang), true, nil
}

const maxHistoryTurns = 10

var (
	thinkTag  = regexp.MustCompile(models.ThinkTag)
	toolTrace = regexp.MustCompile(models.ToolTraceRegex)
)

// cleanAnswer strips reasoning tags and agent-style tool traces that some
// models leak into their final output.
func cleanAnswer(raw string) string {
	s := thinkTag.ReplaceAllString(raw, "")
	s = toolTrace.ReplaceAllString(s, "")
	var lines []string
	blank := false
	for _, line := range strings.Split(s, "\n") {
		trimmed := strings.TrimRight(line, " \t")
		if strings.TrimSpace(trimmed) == "" {
			if blank {
				continue
			}
			blank = true
			trimmed = ""
		} else {
			blank = false
		}
		lines = append(lines, trimmed)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func evidenceBlock(evidence []models.EvidenceUnit) string {
	parts := make([]string, 0, len(evidence))
	for _, unit := range evidence {
		head := unit.Source
		if unit.Ref != "" {
			head += " (" + unit.Ref + ")"
		}
		parts = append(parts, head+"\n"+unit.Excerpt)
	}
	return strings.Join(parts, models.ContextSeparator)
}

func historyBlock(turns []models.Turn) string {
	if len(turns) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Previous exchanges:\n")
	for _, t := range turns {
		fmt.Fprintf(&b, "User: %s\nAssistant: %s\n", t.Query.Raw, t.Result.Answer)
	}
	return b.String()
}

func sourceList(evidence []models.EvidenceUnit) []string {
	var sources []string
	seen := map[string]bool{}
	for _, unit := range evidence {
		if unit.Source == "" || seen[unit.Source] {
			continue
		}
		seen[unit.Source] = true
		sources = append(sources, unit.Source)
	}
	return sources
}

func explainGatherFailure(err error, lang models.Language) string {
	var wnf *extract.WeekNotFoundError
	if errors.As(err, &wnf) {
		return explainWeekNotFound(wnf, lang)
	}
	if errors.Is(err, ErrNoEvidence) {
		return noEvidenceMessage(lang)
	}
	log.Warn().Err(err).Msg("evidence gathering failed")
	return apology(lang)
}

func explainWeekNotFound(err *extract.WeekNotFoundError, lang models.Language) string {
	weeks := make([]string, len(err.Available))
	for i, w := range err.Available {
		weeks[i] = fmt.Sprintf("%d", w)
	}
	available := strings.Join(weeks, ", ")
	switch lang {
	case models.LangEnglish:
		if available == "" {
			return fmt.Sprintf("No timetable is published for week %d yet.", err.Requested)
		}
		return fmt.Sprintf("No timetable is published for week %d yet. Available weeks: %s.", err.Requested, available)
	case models.LangArabic:
		if available == "" {
			return fmt.Sprintf("لم يُنشر جدول الأسبوع %d بعد.", err.Requested)
		}
		return fmt.Sprintf("لم يُنشر جدول الأسبوع %d بعد. الأسابيع المتوفرة: %s.", err.Requested, available)
	default:
		if available == "" {
			return fmt.Sprintf("L'emploi du temps de la semaine %d n'est pas encore publié.", err.Requested)
		}
		return fmt.Sprintf("L'emploi du temps de la semaine %d n'est pas encore publié. Semaines disponibles : %s.", err.Requested, available)
	}
}

func noEvidenceMessage(lang models.Language) string {
	switch lang {
	case models.LangEnglish:
		return "I could not find a reliable source for this question. Please check with the department office."
	case models.LangArabic:
		return "لم أجد مصدرًا موثوقًا للإجابة على هذا السؤال. يرجى التحقق لدى إدارة القسم."
	default:
		return "Je n'ai pas trouvé de source fiable pour répondre à cette question. Merci de vérifier auprès de l'administration du département."
	}
}

func apology(lang models.Language) string {
	switch lang {
	case models.LangEnglish:
		return "Sorry, something went wrong while preparing the answer. Please try again."
	case models.LangArabic:
		return "عذرًا، حدث خطأ أثناء تحضير الإجابة. يرجى المحاولة مرة أخرى."
	default:
		return "Désolé, une erreur est survenue pendant la préparation de la réponse. Merci de réessayer."
	}
}

func degradedNotice(lang models.Language) string {
	switch lang {
	case models.LangEnglish:
		return "(Partial answer: the assistant could not produce a complete reply.)"
	case models.LangArabic:
		return "(إجابة جزئية: لم يتمكن المساعد من تقديم رد كامل.)"
	default:
		return "(Réponse partielle : l'assistant n'a pas pu produire une réponse complète.)"
	}
}
