package turn

import (
	"sort"
	"strings"
)

const (
	// DefaultTitle labels conversations that have no transcript yet.
	DefaultTitle = "New conversation"

	maxTitleRunes = 48
)

// Summary describes one conversation in a user's list.
type Summary struct {
	ConversationID       string `json:"conversationId"`
	Title                string `json:"title"`
	LastMessageTimestamp int64  `json:"lastMessageTimestamp"`
	MessageCount         int    `json:"messageCount"`
}

// Summarize builds the summary of a conversation from its turns.
func Summarize(conversationID string, turns []Turn) Summary {
	s := Summary{
		ConversationID: conversationID,
		Title:          DefaultTitle,
		MessageCount:   len(turns),
	}

	titled := false
	for _, t := range SortByTimestamp(turns) {
		if t.Timestamp > s.LastMessageTimestamp {
			s.LastMessageTimestamp = t.Timestamp
		}
		if !titled && t.Direction == DirectionInput && strings.TrimSpace(t.Transcript) != "" {
			s.Title = Title(t.Transcript)
			titled = true
		}
	}
	return s
}

// Title derives a short label from a transcript.
func Title(transcript string) string {
	text := strings.Join(strings.Fields(transcript), " ")
	runes := []rune(text)
	if len(runes) <= maxTitleRunes {
		return text
	}
	cut := string(runes[:maxTitleRunes])
	if i := strings.LastIndex(cut, " "); i > maxTitleRunes/2 {
		cut = cut[:i]
	}
	return cut + "..."
}

// SortByTimestamp returns turns ordered oldest first. The input is not modified.
func SortByTimestamp(turns []Turn) []Turn {
	out := make([]Turn, len(turns))
	copy(out, turns)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp < out[j].Timestamp
	})
	return out
}

// SortSummaries orders summaries by most recent activity first.
func SortSummaries(summaries []Summary) {
	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].LastMessageTimestamp > summaries[j].LastMessageTimestamp
	})
}
