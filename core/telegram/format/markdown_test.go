package format

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEscapeMarkdown(t *testing.T) {
	out, err := EscapeMarkdown("a_b*c`d[e]", MarkdownV1)
	require.NoError(t, err)
	assert.Equal(t, "a\\_b\\*c\\`d\\[e]", out)

	out, err = EscapeMarkdown("1.5 (ok)!", MarkdownV2)
	require.NoError(t, err)
	assert.Equal(t, "1\\.5 \\(ok\\)\\!", out)

	_, err = EscapeMarkdown("x", 3)
	assert.Error(t, err)

	assert.Equal(t, "user\\_name", MD("user_name"))
}
