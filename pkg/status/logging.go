package status

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
)

// 🎨 Display configuration
const (
	entryIndent = 4  // spaces to indent entries
	keyWidth    = 40 // Base width for the key
	typeWidth   = 8  // Width for the content type
	digestWidth = 12 // Shown digest prefix
)

// 🎯 FormatEntryLine formats a tracked entry for display
func FormatEntryLine(info EntryInfo) string {
	var prefix string
	switch info.Status {
	case StatusNew:
		prefix = color.GreenString("✓")
	case StatusTransformed, StatusRenamed:
		prefix = color.YellowString("⟳")
	case StatusFailed:
		prefix = color.RedString("✗")
	default:
		prefix = color.HiBlackString("-")
	}

	key := info.Key
	if info.Status == StatusRenamed {
		key = info.SourceKey + " → " + info.Key
	}
	digest := info.Digest
	if len(digest) > digestWidth {
		digest = digest[:digestWidth]
	}

	return fmt.Sprintf("%s%s %-*s %-*s %-*s %s",
		strings.Repeat(" ", entryIndent),
		prefix,
		keyWidth, key,
		typeWidth, info.ContentType,
		digestWidth, digest,
		info.Status,
	)
}

// FormatSummary renders status counts in a fixed order
func FormatSummary(s Summary) string {
	var parts []string
	for _, st := range []EntryStatus{StatusNew, StatusCopied, StatusTransformed, StatusRenamed, StatusFailed} {
		if n := s.Counts[st]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, st))
		}
	}
	if len(parts) == 0 {
		return "no entries"
	}
	return fmt.Sprintf("%s (%d bytes)", strings.Join(parts, ", "), s.Bytes)
}
