package fitting

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"fitting-studio-server/modules/common/model"
)

func TestBuildPromptTryOnCarriesInvariants(t *testing.T) {
	p := BuildPrompt(model.ModeTryOn, "  앞모습으로 자연스럽게 ")

	assert.Contains(t, p, "IMAGE 1 is the PERSON")
	assert.Contains(t, p, "IMAGE 2 is the GARMENT")
	for _, inv := range tryOnInvariants {
		assert.Contains(t, p, inv)
	}
	assert.Contains(t, p, "ONLY THE CLOTHING MAY CHANGE")
	assert.Contains(t, p, "앞모습으로 자연스럽게")
}

func TestBuildPromptDefaults(t *testing.T) {
	assert.Contains(t, BuildPrompt(model.ModeTryOn, ""), defaultTryOnInstruction)
	assert.Contains(t, BuildPrompt(model.ModeEdit, "   "), defaultEditInstruction)
	assert.Contains(t, BuildPrompt(model.ModeGenerate, ""), defaultGenerateInstruction)
}

func TestBuildPromptEndsWithImageDirective(t *testing.T) {
	for _, mode := range []model.Mode{model.ModeTryOn, model.ModeEdit, model.ModeGenerate} {
		p := BuildPrompt(mode, "x")
		assert.True(t, strings.HasSuffix(p, imageOnlyDirective), mode)
	}
}

func TestBuildPromptEditAndGenerateSkipTryOnInvariants(t *testing.T) {
	edit := BuildPrompt(model.ModeEdit, "배경을 해변으로")
	assert.Contains(t, edit, "input photo to be modified")
	assert.NotContains(t, edit, "IMAGE 2")

	gen := BuildPrompt(model.ModeGenerate, "red trench coat")
	assert.Contains(t, gen, "fashion photograph")
	assert.Contains(t, gen, "red trench coat")
	assert.NotContains(t, gen, "PRESERVE EXACTLY")
}

func TestDeriveModeTable(t *testing.T) {
	assert.Equal(t, model.ModeTryOn, model.DeriveMode(true, true))
	assert.Equal(t, model.ModeEdit, model.DeriveMode(true, false))
	assert.Equal(t, model.ModeGenerate, model.DeriveMode(false, true))
	assert.Equal(t, model.ModeGenerate, model.DeriveMode(false, false))
}
