package transcribe

import "strings"

const DefaultLanguage = "English"

// BuildPrompt returns the transcription instruction for language.
func BuildPrompt(language string) string {
	language = strings.TrimSpace(language)
	if language == "" {
		language = DefaultLanguage
	}
	var b strings.Builder
	b.WriteString("Transcribe this recording. The spoken language is ")
	b.WriteString(language)
	b.WriteString(".\n")
	b.WriteString("Return a JSON array of segments in chronological order. Each segment is an object with ")
	b.WriteString(`"timestamp" (start time as mm:ss), "speaker" (a consistent label such as "Speaker 1", or a name when one is stated), and "text" (the words spoken). `)
	b.WriteString("Start a new segment whenever the speaker changes or after a natural pause. ")
	b.WriteString("Do not summarize, translate, or add commentary. Output only the JSON array.")
	return b.String()
}

const repairPrompt = "The following text was meant to be a JSON array of transcript segments, " +
	`each an object with "timestamp", "speaker" and "text" string fields, but it is malformed or truncated. ` +
	"Return the corrected JSON array only, keeping every segment that can be recovered and dropping incomplete trailing text.\n\n"
