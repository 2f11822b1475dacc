package game

import (
	"fmt"
	"strings"

	"github.com/wfunc/story-game/internal/models"
)

// openingSystemContext 开局回合的系统上下文
// 要求生成器只输出纯JSON，便于结构化解析与重试判定
const openingSystemContext = `You are the narrator of an interactive text adventure. Respond with ONLY valid JSON (no markdown, no code fences, no explanations) in this format:

{
  "narrative": "Opening scene text, 2-4 paragraphs",
  "imagePrompt": "A concise visual description of the scene for an image generator",
  "suggestedActions": ["action 1", "action 2", "action 3"],
  "timeOfDay": "morning|day|evening|night",
  "isSameLocation": true,
  "characters": ["names of non-player characters present"],
  "gameGoal": "A single clear win condition for this story",
  "goalPrerequisites": ["ordered steps the players must accomplish before the goal can be achieved"]
}

Rules:
- Write the narrative in the same language as the theme
- goalPrerequisites must contain 2 to 4 concrete, verifiable steps
- Return ONLY the JSON object, nothing else`

// turnSystemContext 后续回合的系统上下文
const turnSystemContext = `You are the narrator of an interactive text adventure. Continue the story based on the acting player's action. Respond with ONLY valid JSON (no markdown, no code fences, no explanations) in this format:

{
  "narrative": "What happens as a result of the action, 1-3 paragraphs",
  "imagePrompt": "A concise visual description of the new scene for an image generator",
  "suggestedActions": ["action 1", "action 2", "action 3"],
  "timeOfDay": "morning|day|evening|night",
  "isSameLocation": true,
  "characters": ["names of non-player characters present"],
  "updatedMetPrerequisites": ["prerequisites from the list below that are now satisfied, including previously satisfied ones"],
  "goalMetThisTurn": false
}

Rules:
- Only mark a prerequisite satisfied when the story has clearly accomplished it
- Set goalMetThisTurn to true only when the action directly achieves the game goal
- Write in the same language as the existing narrative
- Return ONLY the JSON object, nothing else`

// OpeningSystemContext 返回开局系统上下文
func OpeningSystemContext() string {
	return openingSystemContext
}

// TurnSystemContext 返回后续回合系统上下文
func TurnSystemContext() string {
	return turnSystemContext
}

// BuildOpeningPrompt 构造开局提示词
func BuildOpeningPrompt(theme string, roster []models.StoryPlayer) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Theme: %s\n\n", theme)
	b.WriteString("Player characters:\n")
	for _, p := range roster {
		writeRosterLine(&b, &p, false)
	}
	b.WriteString("\nWrite the opening scene, establish the game goal and its prerequisites.")
	return b.String()
}

// BuildTurnPrompt 构造回合提示词
// 历史账目压缩为紧凑的剧情记录，窗口之外的早期回合只保留叙事概貌
func BuildTurnPrompt(session *models.StorySession, turns []*models.StoryTurn, actingIndex int, action string, historyWindow int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Theme: %s\n\n", session.Theme)

	b.WriteString("Player characters:\n")
	for _, p := range session.Players {
		writeRosterLine(&b, &p, p.PlayerIndex == actingIndex)
	}

	fmt.Fprintf(&b, "\nGame goal: %s\n", session.GameGoal)
	fmt.Fprintf(&b, "Prerequisites: %s\n", strings.Join(session.GoalPrerequisites, "; "))
	if len(session.MetPrerequisites) > 0 {
		fmt.Fprintf(&b, "Already satisfied: %s\n", strings.Join(session.MetPrerequisites, "; "))
	} else {
		b.WriteString("Already satisfied: none\n")
	}

	b.WriteString("\nStory so far:\n")
	start := 0
	if historyWindow > 0 && len(turns) > historyWindow {
		start = len(turns) - historyWindow
		fmt.Fprintf(&b, "[%d earlier turns omitted]\n", start)
	}
	for _, t := range turns[start:] {
		if t.ActionTaken != nil {
			fmt.Fprintf(&b, "Turn %d action: %s\n", t.TurnIndex, *t.ActionTaken)
		}
		fmt.Fprintf(&b, "Turn %d: %s\n", t.TurnIndex, t.Narrative)
	}

	fmt.Fprintf(&b, "\nThe acting player now does: %s\n", action)
	return b.String()
}

// writeRosterLine 输出一行花名册描述
func writeRosterLine(b *strings.Builder, p *models.StoryPlayer, acting bool) {
	name := p.CharacterName
	if name == "" {
		name = fmt.Sprintf("Player %d", p.PlayerIndex)
	}
	if p.Gender != "" {
		fmt.Fprintf(b, "- [%d] %s (%s)", p.PlayerIndex, name, p.Gender)
	} else {
		fmt.Fprintf(b, "- [%d] %s", p.PlayerIndex, name)
	}
	if acting {
		b.WriteString(" <- acting player")
	}
	b.WriteString("\n")
}
