package service

import (
	"fmt"
	"strings"
)

const (
	DefaultAspectRatio = "9:16"
	DefaultImageSize   = "2K"
)

var (
	aspectRatios = map[string]bool{"9:16": true, "3:4": true, "1:1": true, "16:9": true}
	imageSizes   = map[string]bool{"1K": true, "2K": true}
)

const infographicPromptTemplate = `You are an infographic designer and data visualization specialist. Produce one polished, high quality infographic for the request below.

Design:
- Vertical layout with a clear visual hierarchy and generous spacing between sections.
- All text rendered crisp and legible: bold headings, readable body copy, correct spelling.
- A cohesive professional palette with strong contrast.
- Numbers and statistics shown as charts, icons or other visual elements.
- Consistent flat iconography with subtle depth; print-ready edges.

Structure:
1. A prominent title at the top.
2. Key points grouped into sections with headers, each paired with a visual.
3. A short footer or conclusion, citing sources when facts are used.

If the request references a web page or a topic that needs current figures, use accurate, verifiable data and attribute it in the footer.

Request:
%s

Return the finished infographic image.`

// buildInfographicPrompt wraps the user's request in the design brief sent to
// the image model.
func buildInfographicPrompt(userPrompt string) string {
	return fmt.Sprintf(infographicPromptTemplate, strings.TrimSpace(userPrompt))
}

func normalizeImageOptions(aspectRatio, imageSize string) (string, string, error) {
	aspectRatio = strings.TrimSpace(aspectRatio)
	imageSize = strings.ToUpper(strings.TrimSpace(imageSize))
	if aspectRatio == "" {
		aspectRatio = DefaultAspectRatio
	}
	if imageSize == "" {
		imageSize = DefaultImageSize
	}
	if !aspectRatios[aspectRatio] {
		return "", "", fmt.Errorf("unsupported aspect ratio %q", aspectRatio)
	}
	if !imageSizes[imageSize] {
		return "", "", fmt.Errorf("unsupported image size %q", imageSize)
	}
	return aspectRatio, imageSize, nil
}
