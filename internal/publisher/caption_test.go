package publisher

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildCaptionFull(t *testing.T) {
	out := BuildCaption("sunset over the bay", "#sunset #nofilter", "someone")

	require.True(t, strings.HasPrefix(out, "sunset over the bay\n\n\n•\n"))
	require.Contains(t, out, "Credit: @someone")
	require.Contains(t, out, "no copyright infringement intended")
	require.True(t, strings.HasSuffix(out, "\n•\n#sunset #nofilter"))
}

func TestBuildCaptionNoCaption(t *testing.T) {
	out := BuildCaption("", "#tag", "someone")

	require.True(t, strings.HasPrefix(out, "Credit: @someone"), "spacer must be skipped without a caption")
	require.True(t, strings.HasSuffix(out, "\n•\n#tag"))
}

func TestBuildCaptionNoHashtagsNoAuthor(t *testing.T) {
	out := BuildCaption("just a caption", "", "")

	require.True(t, strings.HasPrefix(out, "just a caption"))
	require.True(t, strings.HasSuffix(out, disclaimer))
	require.NotContains(t, out, "Credit:")
}

func TestBuildCaptionBareRepost(t *testing.T) {
	require.Equal(t, disclaimer, BuildCaption("", "", ""))
}
