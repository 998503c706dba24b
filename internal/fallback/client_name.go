package fallback

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

const maxClientNameLen = 60

var (
	// Business prefixes stay part of the name; personal honorifics do not.
	businessPrefixPattern = regexp.MustCompile(`(?i)\b(M/S\.?|Messrs\.?)\s+([A-Za-z][A-Za-z0-9&.' -]*?)\s*(?:[,;:(]|\s{2,}|\bmushak\b|\bpremium\b|$)`)
	honorificPattern      = regexp.MustCompile(`\b(?:Mr|Mrs|Ms|Miss|Dr)\.?\s+([A-Z][A-Za-z.' -]*?)\s*(?:[,;:(]|\s{2,}|\b[Mm]ushak\b|\b[Pp]remium\b|$)`)
)

// ClientName returns the paying client's name in three tiers: a prefix or
// honorific pattern, then the model, then the truncated first line of text.
func (e *Extractor) ClientName(ctx context.Context, text string) string {
	if name := ClientNameFromPattern(text); name != "" {
		return name
	}

	if e.completer != nil {
		reply, err := e.complete(ctx, BuildClientNamePrompt(text))
		if err == nil {
			if name := parseClientName(reply); name != "" {
				return name
			}
		} else {
			e.logger.Debug("fallback: client name model call failed", zap.Error(err))
		}
	}

	return firstLine(text)
}

// ClientNameFromPattern finds a name introduced by M/S or an honorific.
func ClientNameFromPattern(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if m := businessPrefixPattern.FindStringSubmatch(line); m != nil {
			if name := strings.TrimSpace(m[2]); name != "" {
				return m[1] + " " + name
			}
		}
		if m := honorificPattern.FindStringSubmatch(line); m != nil {
			if name := strings.TrimSpace(m[1]); name != "" {
				return name
			}
		}
	}
	return ""
}

func parseClientName(reply string) string {
	var out struct {
		ClientName *string `json:"clientName"`
	}
	if err := json.Unmarshal([]byte(StripCodeFences(reply)), &out); err != nil || out.ClientName == nil {
		return ""
	}
	return cleanString(*out.ClientName)
}

func firstLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if r := []rune(line); len(r) > maxClientNameLen {
			return strings.TrimSpace(string(r[:maxClientNameLen]))
		}
		return line
	}
	return ""
}
