package memory

// KV layout of a conversation. Every conv:{id}:* key shares the
// conversation TTL.
const (
	KeyConversations = "conversations"
	KeyToolStats     = "stats:tools"
)

func MessagesKey(convID string) string { return "conv:" + convID + ":messages" }
func ArchiveKey(convID string) string  { return "conv:" + convID + ":archive" }
func SummaryKey(convID string) string  { return "conv:" + convID + ":summary" }
func HistoryKey(convID string) string  { return "conv:" + convID + ":summary_history" }
func StatsKey(convID string) string    { return "conv:" + convID + ":stats" }
func PendingKey(convID string) string  { return "conv:" + convID + ":pending" }

// ConversationKeys lists every key a conversation owns. Delete removes
// exactly these, so ids that extend one another ("a", "a:b") stay apart.
func ConversationKeys(convID string) []string {
	return []string{
		MessagesKey(convID),
		ArchiveKey(convID),
		SummaryKey(convID),
		HistoryKey(convID),
		StatsKey(convID),
		PendingKey(convID),
	}
}

// Stat counter names in the conversation stats hash.
const (
	StatTurns     = "turns"
	StatMessages  = "messages"
	StatSummaries = "summaries"
	StatToolCalls = "tool_calls"
)
