// Package classify maps raw query text to a language tag and an intent
// category using keyword and character-set heuristics. It is a pure
// function of the text and the session's "has active upload" flag.
package classify

import (
	"regexp"
	"strings"
	"unicode"

	"enigbot/internal/models"
)

var weekPattern = regexp.MustCompile(`(?i)semaine\s*\d+|week\s*\d+`)

// englishWords is the curated token set for language detection. One hit
// (outside the Arabic case) classifies the text as English.
var englishWords = map[string]bool{
	"i": true, "you": true, "the": true, "is": true, "are": true,
	"hello": true, "hi": true, "how": true, "what": true, "where": true,
	"when": true, "schedule": true, "internship": true, "student": true,
	"help": true, "need": true, "want": true, "please": true,
	"thank": true, "thanks": true, "course": true, "week": true,
	"teacher": true,
}

var documentKeywords = []string{
	"fichier", "document uploadé", "document ajouté",
	"le document", "ce document", "mon document", "mes documents",
	"le fichier", "ce fichier", "mon fichier", "mes fichiers",
	"uploaded", "the file", "the document", "my document",
	"téléchargé", "telecharge",
	"résumé du", "résumer", "summarize", "summary", "resume le", "resumer",
	"reformuler", "de quoi parle", "parle de quoi", "about what",
	"contenu du", "content of", "dans le fichier", "in the file",
	"cherche dans", "search in", "trouve dans", "find in",
	"selon le document", "according to the document",
	"liste des documents", "list documents", "quels documents",
	".pdf", ".docx", ".xlsx", ".txt",
}

// continuationKeywords mark short follow-ups on an ongoing document
// conversation (only meaningful while an upload is active).
var continuationKeywords = []string{
	"résumé", "resume", "détaillé", "détails", "details", "detaille",
	"explique", "explain", "plus de détails", "more details",
	"continue", "suite", "encore", "chapitre", "chapter", "section",
	"exercice", "exercise", "exemple", "example",
}

var scheduleKeywords = []string{
	"emploi", "edt",
	"horaire", "timetable",
	"lundi", "mardi", "mercredi", "jeudi", "vendredi", "samedi",
	"monday", "tuesday", "wednesday", "thursday", "friday",
	"salle", "room", "amphi",
	"gcr1", "gcr2", "gcr3",
	"جدول", "توقيت", "حصة",
}

var internshipKeywords = []string{
	"mitacs", "globalink",
	"stage", "pfe", "initiation", "perfectionnement",
	"internship", "تدريب",
	"inscription", "inscrire", "procédure", "procedure",
	"formulaire", "convention",
	"c'est quoi", "what is", "qu'est-ce que", "ما هو",
	"enig", "université", "university",
	"programmes", "programs", "formations",
	"où se trouve", "where is", "bureau",
}

var conversationKeywords = []string{
	// greetings and farewells
	"bonjour", "bonsoir", "salut", "coucou", "hello", "hey",
	"مرحبا", "السلام عليكم", "أهلا",
	"au revoir", "bye", "goodbye", "مع السلامة", "à bientôt",
	"bonne nuit", "good night",
	"merci", "thank you", "شكرا",
	// mood
	"ça va", "comment vas", "how are", "كيف حالك",
	"stressé", "stress", "fatigué", "fatigue", "tired",
	"triste", "sad", "déprimé", "depressed", "anxieux", "anxious",
	"je me sens", "i feel", "pas bien",
	// humor and motivation
	"blague", "joke", "drôle", "funny", "fais moi rire",
	"motivation", "motivé", "courage", "conseil", "advice",
	// questions about the bot
	"qui es-tu", "who are you", "من أنت", "ton nom", "your name",
}

type rule struct {
	intent models.Intent
	match  func(q string, hasUpload bool) bool
}

// Ordered highest priority first; the first matching rule wins. Ties
// between intents are resolved by this declared order, nothing else.
var rules = []rule{
	{models.IntentDocument, func(q string, hasUpload bool) bool {
		if !hasUpload {
			return false
		}
		return containsAny(q, documentKeywords) || containsAny(q, continuationKeywords)
	}},
	{models.IntentSchedule, func(q string, _ bool) bool {
		return containsAny(q, scheduleKeywords) || weekPattern.MatchString(q)
	}},
	{models.IntentInternship, func(q string, _ bool) bool {
		return containsAny(q, internshipKeywords)
	}},
	{models.IntentConversation, func(q string, _ bool) bool {
		return containsAny(q, conversationKeywords)
	}},
}

// Classify returns the detected language and intent of text. hasUpload
// reports whether the session has an actively uploaded document, which
// gates the document intent.
func Classify(text string, hasUpload bool) (models.Language, models.Intent) {
	return DetectLanguage(text), detectIntent(strings.ToLower(text), hasUpload)
}

// DetectLanguage applies the ordered checks: Arabic characters dominate,
// then English keywords, then French as the default.
func DetectLanguage(text string) models.Language {
	for _, r := range text {
		if isArabic(r) {
			return models.LangArabic
		}
	}
	for _, tok := range tokens(text) {
		if englishWords[tok] {
			return models.LangEnglish
		}
	}
	return models.LangFrench
}

func detectIntent(q string, hasUpload bool) models.Intent {
	for _, r := range rules {
		if r.match(q, hasUpload) {
			return r.intent
		}
	}
	return models.IntentUnknown
}

func isArabic(r rune) bool {
	return (r >= 0x0600 && r <= 0x06FF) ||
		(r >= 0x0750 && r <= 0x077F) ||
		(r >= 0x08A0 && r <= 0x08FF)
}

func tokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

func containsAny(q string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(q, kw) {
			return true
		}
	}
	return false
}
