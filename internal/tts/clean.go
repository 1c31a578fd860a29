package tts

import (
	"regexp"
	"strings"
)

var (
	thinkRE      = regexp.MustCompile(`(?s)<think>.*?</think>`)
	emotionTagRE = regexp.MustCompile(`(?i)\[(laugh|chuckle|cough|sigh|gasp|sniff|groan|shush|clear throat|pause)\]`)
	urlRE        = regexp.MustCompile(`https?://\S+`)
	emojiRE      = regexp.MustCompile(`[\x{1F600}-\x{1F64F}\x{1F300}-\x{1F5FF}\x{1F680}-\x{1F6FF}\x{1F1E0}-\x{1F1FF}` +
		`\x{2702}-\x{27B0}\x{1F900}-\x{1F9FF}\x{1FA00}-\x{1FA6F}\x{1FA70}-\x{1FAFF}\x{2600}-\x{26FF}\x{FE00}-\x{FE0F}\x{200D}]+`)
	boldRE        = regexp.MustCompile(`\*\*(.+?)\*\*`)
	italicRE      = regexp.MustCompile(`\*(.+?)\*`)
	underscoreRE  = regexp.MustCompile(`_(.+?)_`)
	codeRE        = regexp.MustCompile("`(.+?)`")
	headerRE      = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	bulletRE      = regexp.MustCompile(`(?m)^\s*[-*+]\s+`)
	numberedRE    = regexp.MustCompile(`(?m)^\s*\d+\.\s+`)
	multiSpaceRE  = regexp.MustCompile(`[ \t]+`)
	blankLinesRE  = regexp.MustCompile(`\n{2,}`)
)

// CleanForSpeech strips markup, links and symbols a speech engine would read
// aloud literally.
func CleanForSpeech(text string) string {
	text = thinkRE.ReplaceAllString(text, "")
	text = emotionTagRE.ReplaceAllString(text, "")
	text = urlRE.ReplaceAllString(text, "")
	text = emojiRE.ReplaceAllString(text, "")
	text = boldRE.ReplaceAllString(text, "$1")
	text = italicRE.ReplaceAllString(text, "$1")
	text = underscoreRE.ReplaceAllString(text, "$1")
	text = codeRE.ReplaceAllString(text, "$1")
	text = headerRE.ReplaceAllString(text, "")
	text = bulletRE.ReplaceAllString(text, "")
	text = numberedRE.ReplaceAllString(text, "")
	text = multiSpaceRE.ReplaceAllString(text, " ")
	text = blankLinesRE.ReplaceAllString(text, ". ")
	return strings.TrimSpace(text)
}
