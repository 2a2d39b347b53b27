package rooms

import (
	"regexp"
	"strings"
)

// Dispatch targets.
const (
	TargetDM          = "dm"
	TargetDirectBot   = "direct_bot"
	TargetLeaderFirst = "leader_first"
)

// Dispatch says which bots handle a message and in what order.
type Dispatch struct {
	Target        string
	PrimaryBot    string
	SecondaryBots []string
	RoomID        string
}

var mentionRe = regexp.MustCompile(`(^|\s)@([A-Za-z0-9_-]+)`)

// Dispatch resolves a message to a primary bot and optional secondaries.
//
// Rules in order: DMs go to the DM target; "@all" fans out leader-first;
// a mention of a room participant goes to that bot alone; everything
// else goes leader-first.
func (m *Manager) Dispatch(content, roomID string, isDM bool, dmTarget string) Dispatch {
	if isDM {
		return Dispatch{Target: TargetDM, PrimaryBot: dmTarget, RoomID: roomID}
	}

	participants := m.Participants(roomID)
	leader := m.leaderBot

	if mention := firstMention(content); mention != "" {
		if mention == "all" {
			return Dispatch{
				Target:        TargetLeaderFirst,
				PrimaryBot:    leader,
				SecondaryBots: exclude(participants, leader),
				RoomID:        roomID,
			}
		}
		for _, p := range participants {
			if strings.EqualFold(p, mention) {
				return Dispatch{Target: TargetDirectBot, PrimaryBot: p, RoomID: roomID}
			}
		}
	}

	return Dispatch{
		Target:        TargetLeaderFirst,
		PrimaryBot:    leader,
		SecondaryBots: exclude(participants, leader),
		RoomID:        roomID,
	}
}

func firstMention(content string) string {
	match := mentionRe.FindStringSubmatch(content)
	if match == nil {
		return ""
	}
	return match[2]
}

func exclude(names []string, drop string) []string {
	var out []string
	for _, n := range names {
		if n != drop {
			out = append(out, n)
		}
	}
	return out
}

// Project type keywords for room suggestions.
var projectTypeWords = map[string][]string{
	"coding":   {"code", "coding", "implement", "refactor", "debug", "api", "backend", "frontend", "deploy"},
	"research": {"research", "investigate", "analyze", "study", "compare", "evaluate"},
	"writing":  {"write", "draft", "blog", "article", "documentation", "docs", "copy"},
	"planning": {"plan", "roadmap", "schedule", "organize", "milestones", "sprint"},
}

var projectIntentRe = regexp.MustCompile(`(?i)\b(start|begin|create|kick\s*off|set\s*up|new)\b.{0,40}\b(project|initiative|effort|workstream)\b`)

var roomNameSanitizeRe = regexp.MustCompile(`[^a-z0-9]+`)

// ShouldLeaderCreateRoom heuristically detects "start a project" intent
// and suggests a room name and project type.
func ShouldLeaderCreateRoom(content string) (bool, string, string) {
	if !projectIntentRe.MatchString(content) {
		return false, "", ""
	}

	lower := strings.ToLower(content)
	projectType := "general"
	for ptype, words := range projectTypeWords {
		for _, w := range words {
			if strings.Contains(lower, w) {
				projectType = ptype
				break
			}
		}
		if projectType != "general" {
			break
		}
	}

	// Name from the words after "project", else from the type.
	name := projectType + "-project"
	if _, after, ok := strings.Cut(lower, "project"); ok {
		after = strings.TrimSpace(strings.Trim(after, ".!?,:;"))
		words := strings.Fields(after)
		if len(words) > 0 {
			if len(words) > 3 {
				words = words[:3]
			}
			candidate := roomNameSanitizeRe.ReplaceAllString(strings.Join(words, "-"), "-")
			candidate = strings.Trim(candidate, "-")
			if candidate != "" {
				name = candidate
			}
		}
	}
	return true, name, projectType
}

// SuggestBotsForProject maps a project type to specialist bot names.
func SuggestBotsForProject(projectType string) []string {
	switch projectType {
	case "coding":
		return []string{"coder", "reviewer"}
	case "research":
		return []string{"researcher"}
	case "writing":
		return []string{"writer", "editor"}
	case "planning":
		return []string{"planner"}
	default:
		return nil
	}
}
