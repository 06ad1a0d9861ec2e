package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"server/internal/domain"
)

const glassesOnFacePrompt = `You are a professional eyewear photo editor.

TASK: Add eyeglasses to this person's face.

GLASSES SPECIFICATIONS:
Create glasses with THESE EXACT SPECIFICATIONS:
%s

CRITICAL REQUIREMENTS:
1. COLOR, THICKNESS, MATERIAL: use the EXACT values specified above, do not reinterpret them.
2. ORIENTATION: generate the image in vertical portrait orientation with a typical selfie aspect ratio.
3. TEMPLE PLACEMENT: identify the ears in the photo; temple arms must rest on top of the ears, never float in the air, curving behind the ear when visible.
4. POSITIONING: bridge centered on the nose bridge, frame at natural eye level, perfectly horizontal and parallel to the eye line.
5. REALISM: scale the frame to the face width, match the camera angle and lighting of the original photo, add subtle lens reflections and shadows.
6. PRESERVATION: keep face, hair, skin and background completely unchanged.

OUTPUT: exactly one photorealistic vertical portrait image of the person naturally wearing the specified glasses. No text, labels or alternative views.`

const glassesProductPrompt = `You are a professional product photographer for an eyewear e-commerce catalog.

TASK: Create a product photograph of eyeglasses.

GLASSES SPECIFICATIONS:
Create a product photo of THESE EXACT SAME GLASSES:
%s

CRITICAL REQUIREMENTS:
1. COLOR, THICKNESS, MATERIAL: every detail must match the specifications exactly.
2. COMPOSITION: 3/4 view, floating and slightly tilted, professional studio lighting, clear lenses with minimal reflections, pure white or light gray background.
3. EXCLUSIONS: no face, body parts or hands, no text, prices or brand names, no props, no multiple glasses.

OUTPUT: exactly one premium product photograph showing only the specified eyeglasses.`

const textAnalysisPrompt = `You are an optical stylist helping a client choose their perfect glasses.

Analyze the client's selfie and produce a BRIEF, FRIENDLY summary to help them buy.

INSTRUCTIONS:
- Be concise and direct (at most 300 words total).
- Use a warm, personal tone and no complex technical terms.
- Focus on what flatters them the MOST.

RESPONSE FORMAT:
### Your Profile
One sentence describing their face shape and skin tone.
### What Flatters You
Three short bullet points with the key traits to look for.
### My Top 2 Recommendations
For each: style name, material, recommended color and one sentence on why it suits them.
### Avoid
One bullet point with what does NOT flatter them.
### Final Tip
One practical purchase tip in a single sentence.`

const styleSelectionPrompt = `You are an expert eyewear stylist analyzing a client's face.

STEP 1 - ANALYZE THIS PERSON'S FACE:
Observe face shape, facial proportions, feature spacing and overall aesthetic.

STEP 2 - SELECT THE 2 BEST FRAME STYLES:
From these 10 eyeglass frame options, select the 2 styles that will be MOST FLATTERING for this specific person:

%s

SELECTION CRITERIA: face shape compatibility, proportional balance, style coherence, and versatility (one versatile option, one bold option).

STEP 3 - RESPOND:
Respond with ONLY the 2 numbers (1-10) of your selected styles, separated by a comma.
Example response: "3, 7"
DO NOT include explanations, just the two numbers.`

const specDesignPrompt = `You are an expert eyewear designer analyzing this client's face.

STEP 1 - ANALYZE THE FACE: face shape and proportions, skin undertone, hair and eye color, overall style aesthetic.

STEP 2 - DESIGN %s GLASSES:
Based on your analysis, design the perfect %s eyeglasses for this person. Choose EXACT specifications: exact color/finish, frame thickness in millimeters, material details and finish, lens tint, and temple arm design.

STEP 3 - RESPOND:
Provide a SINGLE PARAGRAPH detailed description of the glasses you designed. Start directly with the description, no preamble.`

func onFacePrompt(specs string) string {
	return fmt.Sprintf(glassesOnFacePrompt, specs)
}

func productPrompt(specs string) string {
	return fmt.Sprintf(glassesProductPrompt, specs)
}

func selectionPrompt(styles []domain.FrameStyle) string {
	lines := make([]string, len(styles))
	for i, s := range styles {
		lines[i] = fmt.Sprintf("%d. **%s** (%s): %s", i+1, s.Name, s.Style, s.Description)
	}
	return fmt.Sprintf(styleSelectionPrompt, strings.Join(lines, "\n"))
}

func designPrompt(style domain.FrameStyle) string {
	upper := strings.ToUpper(style.Style)
	return fmt.Sprintf(specDesignPrompt, upper, style.Style)
}

// fallbackSpecs is the templated frame description used when the design
// capability fails; the pipeline must not halt on a missing spec.
func fallbackSpecs(style domain.FrameStyle) string {
	title := cases.Title(language.Und).String(style.Style)
	return fmt.Sprintf("%s eyeglasses with a professional finish", title)
}

// FormatUserData renders the optional biometric/preference fields as a
// bullet list, in a stable order. Currently informational only.
func FormatUserData(userData map[string]string) string {
	if len(userData) == 0 {
		return ""
	}
	keys := make([]string, 0, len(userData))
	for k, v := range userData {
		if strings.TrimSpace(v) != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("- %s: %s", k, userData[k]))
	}
	return strings.Join(lines, "\n")
}
