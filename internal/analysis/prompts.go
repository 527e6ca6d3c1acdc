package analysis

import (
	"fmt"
	"strings"
)

const systemPrompt = "You are an expert patent analyst specializing in pharmaceutical and biotech patents. You extract only information that is explicitly stated in the provided text and never speculate. Return strict JSON only."

const biologicalInstructions = `Identify the biological subject matter of this patent text: primary biological targets (e.g. PI4K, mTOR, EGFR), mechanisms of action, and the diseases or conditions targeted. Produce one finding per distinct target, mechanism, or indication.`

const chemicalInstructions = `Identify the chemical subject matter of this patent text: the compound class or chemical series described, key structural features or modifications, and what makes the chemistry novel or different from known compounds. Produce one finding per distinct series, feature, or novelty claim.`

const innovationInstructions = `Assess the innovation represented by this patent text: the innovation level (breakthrough, incremental, or defensive), competitive advantages, and potential commercial value. Produce one finding per distinct insight.`

const responseSchema = `{
  "findings": [
    {
      "claim_text": "one precise factual statement extracted from the text",
      "supporting_section_indices": [0],
      "confidence": 0.0
    }
  ],
  "confidence": 0.0
}`

const strictSuffix = "Your previous response was not valid JSON matching the schema. Respond again with ONLY the JSON object, no prose, no code fences, every field present with the exact names and types shown."

func stageInstructions(stage StageKind) string {
	switch stage {
	case StageBiological:
		return biologicalInstructions
	case StageChemical:
		return chemicalInstructions
	case StageInnovation:
		return innovationInstructions
	default:
		return ""
	}
}

// buildPrompt renders the stage instructions, the labeled document text,
// and the output schema into a single user message. Overlap blocks are
// marked so the model does not cite them as independent sources.
func buildPrompt(req StageRequest) string {
	var sb strings.Builder
	sb.WriteString(stageInstructions(req.Stage))
	sb.WriteString("\n\nPatent text, labeled by section index:\n")
	for _, b := range req.PromptContext {
		if b.ContextOnly {
			fmt.Fprintf(&sb, "\n[section %d | %s | context only, do not cite]\n%s\n", b.SectionIndex, b.Kind, b.Text)
			continue
		}
		fmt.Fprintf(&sb, "\n[section %d | %s]\n%s\n", b.SectionIndex, b.Kind, b.Text)
	}
	sb.WriteString("\nProvide your analysis in the following JSON format:\n\n")
	sb.WriteString(responseSchema)
	sb.WriteString("\n\nIMPORTANT:\n")
	sb.WriteString("- Only extract information explicitly stated in the text\n")
	sb.WriteString("- supporting_section_indices must list only section indices shown above that directly support the finding\n")
	sb.WriteString("- confidence values are between 0 and 1; use low values when uncertain\n")
	sb.WriteString("- Respond with ONLY the JSON object, no additional text\n")
	if req.Strict {
		sb.WriteString("\n" + strictSuffix + "\n")
	}
	sb.WriteString("\nJSON Response:")
	return sb.String()
}
