package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Message is one prior turn of a push conversation, replayed to the model.
type Message struct {
	Sender  string `json:"sender"` // "system" or "user"
	Content string `json:"content"`
}

// Evaluation is the model's judgment of the user's recall, attached to a
// conversation-ending turn. Grade is a pointer so a missing grade can be
// told apart from zero.
type Evaluation struct {
	Grade          *float64 `json:"grade"`
	Recommendation string   `json:"recommendation"`
	Confidence     *float64 `json:"confidence,omitempty"`
}

// Turn is the model's next move in a push conversation.
type Turn struct {
	Response   string      `json:"response"`
	ShouldEnd  bool        `json:"should_end"`
	Evaluation *Evaluation `json:"evaluation,omitempty"`
}

// QuestionRequest seeds the opening question of a review conversation.
type QuestionRequest struct {
	Content       string
	FamiliarScore float64
	Language      string
}

// TurnRequest asks for the next turn given the conversation so far. When
// ForceEvaluate is set, the model is told to conclude and grade regardless
// of the natural flow.
type TurnRequest struct {
	Content       string
	FamiliarScore float64
	History       []Message
	Language      string
	ForceEvaluate bool
}

const questionSystemPrompt = `You are a spaced-repetition review tutor. Given a fragment of the user's notes and how familiar the user already is with it (0 = new, 1 = mastered), ask one open question that tests whether the user actually understands the fragment. Calibrate difficulty to the familiarity. Reply with the question only, in %s, with no preamble.`

const turnSystemPrompt = `You are a spaced-repetition review tutor conducting a short dialogue about a fragment of the user's notes. Familiarity with the fragment is %.2f (0 = new, 1 = mastered). Respond in %s.

Reply with a single JSON object, no markdown fence:
{"response": "<your reply to the user>", "should_end": <true when the review is finished>, "evaluation": {"grade": <0-5 recall quality>, "recommendation": "<one-sentence study advice>", "confidence": <0-1, optional>}}

Keep the dialogue short: probe once or twice, then end with an evaluation. Omit "evaluation" while the conversation continues.`

const forceEvaluateNudge = `The user asked to end the review now. Conclude immediately: set should_end to true and include an evaluation based on the conversation so far.`

// GenerateQuestion asks for an opening review question.
func (c *Client) GenerateQuestion(ctx context.Context, req QuestionRequest) (string, error) {
	lang := req.Language
	if lang == "" {
		lang = "en"
	}
	messages := []chatMessage{
		{Role: "system", Content: fmt.Sprintf(questionSystemPrompt, lang)},
		{Role: "user", Content: fmt.Sprintf("Note fragment:\n%s\n\nFamiliarity: %.2f", req.Content, req.FamiliarScore)},
	}
	question, err := c.chatComplete(ctx, messages)
	if err != nil {
		return "", err
	}
	if question == "" {
		return "", fmt.Errorf("empty question from model")
	}
	return question, nil
}

// GenerateTurn asks for the next conversation turn. A response that is not
// valid JSON is degraded to a plain continue-the-conversation turn rather
// than failing: the transport succeeded, only the formatting is off.
func (c *Client) GenerateTurn(ctx context.Context, req TurnRequest) (Turn, error) {
	lang := req.Language
	if lang == "" {
		lang = "en"
	}

	messages := []chatMessage{
		{Role: "system", Content: fmt.Sprintf(turnSystemPrompt, req.FamiliarScore, lang)},
		{Role: "user", Content: "Note fragment:\n" + req.Content},
	}
	for _, m := range req.History {
		role := "assistant"
		if m.Sender == "user" {
			role = "user"
		}
		messages = append(messages, chatMessage{Role: role, Content: m.Content})
	}
	if req.ForceEvaluate {
		messages = append(messages, chatMessage{Role: "system", Content: forceEvaluateNudge})
	}

	content, err := c.chatComplete(ctx, messages)
	if err != nil {
		return Turn{}, err
	}

	var turn Turn
	if err := json.Unmarshal([]byte(stripFences(content)), &turn); err != nil || strings.TrimSpace(turn.Response) == "" {
		return Turn{Response: content, ShouldEnd: false}, nil
	}
	return turn, nil
}
