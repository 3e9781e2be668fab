package status

import "fmt"

// EntryFormatter renders tracker messages
type EntryFormatter interface {
	// FormatEntryOperation formats what happened to an entry
	FormatEntryOperation(key string, status EntryStatus) string
	// FormatProgress formats a progress message
	FormatProgress(current, total int) string
	// FormatError formats an error message
	FormatError(err error) string
}

// DefaultEntryFormatter provides a default implementation of EntryFormatter
type DefaultEntryFormatter struct{}

func NewDefaultEntryFormatter() *DefaultEntryFormatter {
	return &DefaultEntryFormatter{}
}

// FormatEntryOperation formats an entry status message with emojis
func (f *DefaultEntryFormatter) FormatEntryOperation(key string, status EntryStatus) string {
	switch status {
	case StatusNew:
		return fmt.Sprintf("✨ Created %s", key)
	case StatusTransformed:
		return fmt.Sprintf("📝 Transformed %s", key)
	case StatusRenamed:
		return fmt.Sprintf("🔀 Renamed %s", key)
	case StatusFailed:
		return fmt.Sprintf("❌ Failed %s", key)
	default:
		return fmt.Sprintf("👍 Copied %s", key)
	}
}

// FormatProgress formats a progress message with percentage
func (f *DefaultEntryFormatter) FormatProgress(current, total int) string {
	var percentage float64
	if total == 0 {
		if current > 0 {
			percentage = 100
		}
	} else {
		percentage = float64(current) / float64(total) * 100
	}

	if current >= total {
		return fmt.Sprintf("✅ Progress: %d/%d (%.0f%%)", current, total, percentage)
	}
	return fmt.Sprintf("⏳ Progress: %d/%d (%.0f%%)", current, total, percentage)
}

// FormatError formats an error message with emoji
func (f *DefaultEntryFormatter) FormatError(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("❌ Error: %v", err)
}
