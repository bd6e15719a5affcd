package ai

import (
	"context"
	"fmt"
	"strings"
)

// PolishCaption rewrites a moderator's caption draft into publishable
// form. The model's output is used verbatim, so an empty response falls
// back to the draft.
func (c *Client) PolishCaption(ctx context.Context, caption string) (string, error) {
	response, err := c.Complete(ctx, CaptionPolishSystemPrompt,
		fmt.Sprintf(CaptionPolishUserPrompt, caption))
	if err != nil {
		return "", err
	}

	polished := strings.TrimSpace(response)
	if polished == "" {
		c.log.Warn().Msg("Empty polish response, keeping draft")
		return caption, nil
	}
	return polished, nil
}
