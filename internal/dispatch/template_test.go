package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderTemplate_SubstitutesKnownKeys(t *testing.T) {
	out := renderTemplate("hi {{name}}, your code is {{code}}", map[string]string{
		"name": "Ada",
		"code": "4242",
	})
	assert.Equal(t, "hi Ada, your code is 4242", out)
}

func TestRenderTemplate_LeavesUnknownTokensLiteral(t *testing.T) {
	out := renderTemplate("hi {{name}}, {{unknown}} stays", map[string]string{"name": "Ada"})
	assert.Equal(t, "hi Ada, {{unknown}} stays", out)
}

func TestRenderTemplate_NoPropsReturnsContentUnchanged(t *testing.T) {
	out := renderTemplate("hi {{name}}", nil)
	assert.Equal(t, "hi {{name}}", out)
}
