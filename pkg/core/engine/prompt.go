package engine

import (
	"fmt"
	"strings"

	"github.com/avirahq/interviewd/pkg/core/types"
)

// historyWindow is how many recent exchanges the loop prompt carries
// verbatim; older material is represented only by the rolling summary.
const historyWindow = 6

// PersonaName is the interviewer identity used in the system prompt.
const PersonaName = "Avira"

// PromptSettings selects the interview's framing.
type PromptSettings struct {
	Position   string
	Difficulty string
}

func (s PromptSettings) withDefaults() PromptSettings {
	if s.Position == "" {
		s.Position = "Full Stack Engineer"
	}
	if s.Difficulty == "" {
		s.Difficulty = "medium"
	}
	return s
}

// BuildSystemPrompt renders the interviewer persona. The rendered prompt is
// stored on the session at start time so every later turn reuses the exact
// same framing.
func BuildSystemPrompt(resumeSummary, jdSummary string, settings PromptSettings) string {
	settings = settings.withDefaults()

	var ctxParts strings.Builder
	if resumeSummary != "" {
		fmt.Fprintf(&ctxParts, "**Candidate's Background:**\n%s\n", resumeSummary)
	}
	if jdSummary != "" {
		fmt.Fprintf(&ctxParts, "**Role Requirements:**\n%s\n", jdSummary)
	}

	return fmt.Sprintf(`You are %q, a senior software engineer conducting a technical interview for a %s role.

**Your Personality:**
- Warm and approachable, but professional

**Context:**
%s**Interview Level:** %s

**How to Conduct the Interview:**

1. **Opening (warm & personal):**
   - Introduce yourself briefly, then ask them to tell you about themselves and what they're excited about

2. **During Questions:**
   - Ask ONE question at a time, then stop and listen
   - Give them space to think; silence is okay
   - Frame questions conversationally: "Can you walk me through..." instead of "Explain..."
   - If they struggle, offer a hint or rephrase

3. **Handling Answers:**
   - Good answers: show genuine interest
   - Unclear answers: ask follow-ups naturally
   - Wrong answers: be kind and redirect

4. **Keep it Conversational:**
   - Speak in short, natural sentences
   - Avoid robotic patterns; never say "Question 1:" or "Moving on to the next question"

5. **Closing:**
   - When they signal they're done or time is up, thank them warmly

**Critical Rules:**
- PATIENCE IS KEY: people need time to think
- LANGUAGE: speak only in English, regardless of what the candidate uses
- AUDIO-FIRST: your text output must EXACTLY match what you speak
- ONE QUESTION AT A TIME
- BE HUMAN: this is a real conversation about tech, not an interrogation

Your goal is to assess their skills while making them feel comfortable enough to show their best work.`,
		PersonaName, settings.Position, ctxParts.String(), settings.Difficulty)
}

// firstQuestionPrompt asks the model for the opening question.
func firstQuestionPrompt(systemPrompt string) string {
	return systemPrompt + `
CONTEXT: no previous Questions & Answers.

Task: Generate the first interview question (one). Return only a JSON object:
{ "questionId": "<uuid>", "questionText": "<short question>", "topic": "string", "difficulty": "medium" }`
}

// renderHistory formats the recent exchanges for the loop prompt.
func renderHistory(history []types.QAEntry) string {
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	blocks := make([]string, 0, len(history))
	for i, qa := range history {
		answer := qa.Answer
		if answer == "" {
			answer = "(no answer)"
		}
		blocks = append(blocks, fmt.Sprintf("Q%d: %s\nA%d: %s", i+1, qa.Question, i+1, answer))
	}
	return strings.Join(blocks, "\n---\n")
}

// loopPrompt asks for an evaluation of the latest answer and the next
// question.
func loopPrompt(systemPrompt, summary string, history []types.QAEntry, resumeJSON, jdJSON, position string) string {
	return fmt.Sprintf(`
%s

CONTEXT SUMMARY: %s

RECENT INTERVIEW HISTORY:
%s

CANDIDATE RESUME:
%s

JOB DESCRIPTION:
%s

POSITION: %s
---
Task:
1. Evaluate the candidate's latest answer
2. Generate the next interview question based on:
   - Their performance so far
   - Areas that need deeper exploration
   - Topics from the JD that haven't been covered
   - Natural interview progression

Guidelines for next question:
- Build upon previous answers when relevant
- Adapt difficulty based on candidate's performance
- Cover diverse topics from the job requirements
- Avoid repeating similar questions

Return ONLY a JSON object in this exact format:
{
  "nextQuestion": {
    "questionId": "<generate a UUID>",
    "questionText": "<the actual question to ask>",
    "topic": "<main topic/skill being tested>",
    "difficulty": "<easy|medium|hard>"
  }
}

IMPORTANT:
- Do NOT include any text outside the JSON object
- Ensure all JSON is properly formatted
- The questionId should be a valid UUID v4
- Base difficulty on candidate's performance trend
`, systemPrompt, summary, renderHistory(history), resumeJSON, jdJSON, position)
}

// closingPrompt asks for the end-of-interview acknowledgment.
func closingPrompt(systemPrompt string) string {
	return fmt.Sprintf(`
%s

---
SESSION END REQUESTED

Task: Generate a brief closing message for the candidate (2-3 sentences max).

The message should:
- Thank them for their time
- Be encouraging and professional
- Keep it short and friendly

Return ONLY a JSON object in this exact format:
{
  "closingMessage": "<your brief closing message>",
  "nextQuestion": null
}

Do NOT include any evaluation. Just a simple, friendly closing message.
`, systemPrompt)
}
