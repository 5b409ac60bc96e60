// Package session holds per-session conversational state: a bounded
// buffer of recent turns, the active upload flag, and the durable
// transcript. Sessions are independent; two sessions never share state.
package session

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"enigbot/internal/models"
)

// maxTurns bounds the in-memory history per session.
const maxTurns = 10

type Session struct {
	ID string

	mu     sync.RWMutex
	turns  []models.Turn
	upload string // filename of the active uploaded document, if any

	transcripts *TranscriptStore // optional, nil when persistence is off
}

func New(transcripts *TranscriptStore) *Session {
	return &Session{ID: uuid.NewString(), transcripts: transcripts}
}

// Append records a finished turn, trimming the buffer to the last
// maxTurns, and persists it to the transcript when a store is configured.
func (s *Session) Append(ctx context.Context, turn models.Turn) {
	s.mu.Lock()
	s.turns = append(s.turns, turn)
	if len(s.turns) > maxTurns {
		s.turns = s.turns[len(s.turns)-maxTurns:]
	}
	s.mu.Unlock()

	if s.transcripts != nil {
		if err := s.transcripts.Append(ctx, s.ID, turn); err != nil {
			log.Warn().Str("session", s.ID).Err(err).Msg("transcript append failed")
		}
	}
}

// Recent returns up to n most recent turns, oldest first.
func (s *Session) Recent(n int) []models.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n > len(s.turns) {
		n = len(s.turns)
	}
	out := make([]models.Turn, n)
	copy(out, s.turns[len(s.turns)-n:])
	return out
}

func (s *Session) SetUpload(filename string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upload = filename
}

func (s *Session) Upload() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.upload
}

func (s *Session) HasUpload() bool {
	return s.Upload() != ""
}

// Clear ends the session: memory is dropped, the durable transcript stays.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = nil
	s.upload = ""
}

// knownTopics maps history keywords to the subject they stand for, used to
// enrich follow-up questions that lack an explicit subject.
var knownTopics = []struct{ keyword, topic string }{
	{"mitacs", "Mitacs"},
	{"globalink", "Globalink"},
	{"enigplus", "ENIGPlus"},
	{"enig", "ENIG"},
	{"pfe", "PFE"},
	{"stage d'initiation", "stage d'initiation"},
	{"stage de perfectionnement", "stage de perfectionnement"},
	{"emploi du temps", "emploi du temps"},
	{"gcr", "GCR"},
}

var autonomousSubjects = []string{
	"mitacs", "globalink", "enig", "gcr",
	"emploi", "semaine", "horaire",
	"stage", "pfe", "inscription", "procédure",
	"bonjour", "salut", "hello", "hi", "مرحبا",
}

var contextIndicators = []string{
	"qu'il", "qu'elle", "qu'ils", "il offre", "elle offre",
	"ses programmes", "ses services", "son site", "leur", "leurs",
	"ce programme", "cette organisation", "y postuler",
	"it offers", "they offer", "its programs", "their", "this program",
	"quels sont les", "quelles sont les", "comment faire", "comment postuler",
	"c'est quand", "c'est où",
}

// Enrich appends the dominant recent topic to a follow-up question that
// carries no subject of its own, so retrieval has something to anchor on.
// Questions with an explicit subject pass through unchanged.
func (s *Session) Enrich(question string) string {
	q := strings.ToLower(question)
	for _, subj := range autonomousSubjects {
		if strings.Contains(q, subj) {
			return question
		}
	}
	if !needsContext(q, question) {
		return question
	}
	topic := s.recentTopic()
	if topic == "" {
		return question
	}
	return question + " (concernant " + topic + ")"
}

func needsContext(q, original string) bool {
	for _, ind := range contextIndicators {
		if strings.Contains(q, ind) {
			return true
		}
	}
	// very short question with no clear subject
	return len(strings.Fields(original)) <= 5
}

// recentTopic scans the last three turns, newest first, for a known topic
// in either the question or the answer.
func (s *Session) recentTopic() string {
	recent := s.Recent(3)
	for i := len(recent) - 1; i >= 0; i-- {
		haystack := strings.ToLower(recent[i].Query.Raw + " " + recent[i].Result.Answer)
		for _, kt := range knownTopics {
			if strings.Contains(haystack, kt.keyword) {
				return kt.topic
			}
		}
	}
	return ""
}
