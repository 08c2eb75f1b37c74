package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
)

const (
	noTextFound       = "No text found"
	visionPrompt      = "Extract all readable text from this image. Return only the text, preserving line breaks. If the image contains no text, reply exactly: " + noTextFound
	visionMaxTokens   = 2000
	visionTemperature = 0.1
)

// ExtractImageText runs an OCR-style vision completion over an image. The
// model reply "No text found" is normalised to an empty string.
func (g *Gateway) ExtractImageText(ctx context.Context, data []byte, mimeType string) (string, error) {
	if len(data) == 0 {
		return "", errors.New("llm: empty image")
	}
	if mimeType == "" {
		mimeType = "image/png"
	}
	dataURL := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
	out, err := g.Complete(ctx, CompletionRequest{
		Model: g.cfg.VisionModel,
		Messages: []ChatMessage{{
			Role:  RoleUser,
			Parts: []ContentPart{TextPart(visionPrompt), ImagePart(dataURL)},
		}},
		MaxTokens:   visionMaxTokens,
		Temperature: visionTemperature,
	})
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if strings.EqualFold(out, noTextFound) {
		return "", nil
	}
	return out, nil
}
