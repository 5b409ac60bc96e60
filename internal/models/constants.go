package models

const (
	WeekLabelRegex   = `(?i)semaine[-_ ]?(\d+)|week[-_ ]?(\d+)`
	GroupLabelRegex  = `GCR\d[AB]?`
	ThinkTag         = `(?s)<think>.*?</think>`
	ToolTraceRegex   = `(?im)^(Thought|Action|Action Input|Observation|Final Answer):.*$`
	ContextSeparator = "\n---\n"
)

var (
	AnswerPromptTemplate = `You are the assistant of the civil engineering department. Use only the provided evidence to answer the question. Cite nothing that is not in the evidence; if the evidence is insufficient, say so.
<evidence>
%s
</evidence>
Question: %s
%s`

	ConversationPromptTemplate = `You are a friendly assistant for engineering students. Reply briefly and warmly to the message below. Do not invent schedules, procedures or links.
Message: %s
%s`

	SummaryPromptTemplate = `Summarize the following document excerpts faithfully. Keep the structure of the original where visible.
<document>
%s
</document>
%s`
)

// LanguageInstruction returns the synthesis instruction forcing the reply
// language.
func LanguageInstruction(lang Language) string {
	switch lang {
	case LangEnglish:
		return "[INSTRUCTION: Answer in English.]"
	case LangArabic:
		return "[INSTRUCTION: أجب بالعربية.]"
	default:
		return "[INSTRUCTION: Réponds en français.]"
	}
}
