package publisher

import "strings"

// captionSpacer pushes the legal boilerplate below the caption's fold.
const captionSpacer = "\n\n\n•\n•\n•\n•\n•\n"

const disclaimer = "(We don't own this content. All rights are reserved & belong to their " +
	"respective owners, no copyright infringement intended. DM for credit/removal.)"

// BuildCaption assembles the final post caption: the moderated caption,
// a spacer, the author credit and disclaimer, then the hashtags.
// Empty parts are skipped so a bare repost still reads cleanly.
func BuildCaption(caption, hashtags, author string) string {
	var b strings.Builder

	tail := disclaimer
	if author != "" {
		tail = "Credit: @" + author + "\n" + disclaimer
	}

	if caption != "" {
		b.WriteString(caption)
		b.WriteString(captionSpacer)
	}
	b.WriteString(tail)

	if hashtags != "" {
		b.WriteString("\n•\n")
		b.WriteString(hashtags)
	}
	return b.String()
}
