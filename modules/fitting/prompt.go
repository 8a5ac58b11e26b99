package fitting

import (
	"strings"

	"fitting-studio-server/modules/common/model"
)

// 입력이 비었을 때 모드별 기본 지시문
const (
	defaultTryOnInstruction    = "natural, photorealistic result"
	defaultEditInstruction     = "edit naturally"
	defaultGenerateInstruction = "high-quality fashion image"
)

// imageOnlyDirective - 모든 프롬프트의 마지막 문장
const imageOnlyDirective = "OUTPUT: Respond with exactly one inline image part (inlineData with a mimeType and base64 data) and do not return a textual description instead of the image."

// tryOnInvariants - 사람 사진에서 바뀌면 안 되는 항목
var tryOnInvariants = []string{
	"identity and facial features",
	"pose and body position",
	"body proportions and shape",
	"skin tone",
	"hair color and hair style",
	"hands, arms and legs placement",
	"background and environment",
	"lighting, shadows and color grading",
	"camera angle and perspective",
	"aspect ratio and framing",
}

// BuildPrompt - 모드별 프롬프트 생성 (instruction 은 그대로 포함)
func BuildPrompt(mode model.Mode, instruction string) string {
	instruction = strings.TrimSpace(instruction)

	switch mode {
	case model.ModeTryOn:
		return buildTryOnPrompt(orDefault(instruction, defaultTryOnInstruction))
	case model.ModeEdit:
		return buildEditPrompt(orDefault(instruction, defaultEditInstruction))
	default:
		return buildGeneratePrompt(orDefault(instruction, defaultGenerateInstruction))
	}
}

func buildTryOnPrompt(instruction string) string {
	var sb strings.Builder

	sb.WriteString("[VIRTUAL TRY-ON - CLOTHING REPLACEMENT ONLY]\n")
	sb.WriteString("IMAGE 1 is the PERSON reference photo. IMAGE 2 is the GARMENT reference photo.\n")
	sb.WriteString("Dress the person from IMAGE 1 in the garment from IMAGE 2.\n\n")

	sb.WriteString("PRESERVE EXACTLY (from IMAGE 1):\n")
	for _, inv := range tryOnInvariants {
		sb.WriteString("• ")
		sb.WriteString(inv)
		sb.WriteString("\n")
	}

	sb.WriteString("\nONLY THE CLOTHING MAY CHANGE:\n")
	sb.WriteString("• Take design, color, pattern and material from the garment in IMAGE 2\n")
	sb.WriteString("• Fit the garment naturally to the person's pose and body shape\n")
	sb.WriteString("• Match folds, shadows and highlights to the original lighting\n\n")

	sb.WriteString("⚠️ CRITICAL: This is clothing replacement, not new image generation. ")
	sb.WriteString("The result must look like IMAGE 1 with only the clothing changed.\n\n")

	sb.WriteString("ADDITIONAL INSTRUCTIONS: ")
	sb.WriteString(instruction)
	sb.WriteString("\n\n")
	sb.WriteString(imageOnlyDirective)

	return sb.String()
}

func buildEditPrompt(instruction string) string {
	var sb strings.Builder

	sb.WriteString("[IMAGE EDIT]\n")
	sb.WriteString("The attached image is the input photo to be modified. ")
	sb.WriteString("Apply the requested edit and keep every element the request does not mention as it is.\n\n")

	sb.WriteString("EDIT REQUEST: ")
	sb.WriteString(instruction)
	sb.WriteString("\n\n")
	sb.WriteString(imageOnlyDirective)

	return sb.String()
}

func buildGeneratePrompt(instruction string) string {
	var sb strings.Builder

	sb.WriteString("[FASHION PHOTOGRAPHY]\n")
	sb.WriteString("Create one high-quality, photorealistic fashion photograph with editorial lighting and composition.\n\n")

	sb.WriteString("REQUEST: ")
	sb.WriteString(instruction)
	sb.WriteString("\n\n")
	sb.WriteString(imageOnlyDirective)

	return sb.String()
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
