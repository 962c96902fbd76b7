package tryon

import (
	"fmt"
	"strings"
)

// Part is one element of the content sent to the model: either inline
// image data or text.
type Part struct {
	Text       string
	InlineData *Blob
}

type Blob struct {
	MimeType string
	Data     string
}

func (p Part) IsImage() bool {
	return p.InlineData != nil && p.InlineData.Data != ""
}

func imagePart(f UploadedFile) Part {
	return Part{InlineData: &Blob{MimeType: f.MimeType, Data: f.Base64}}
}

// BuildPrompt returns the self photo, the present garments (top, bottom,
// accessory) and one trailing instruction, in that order.
func BuildPrompt(self UploadedFile, clothing ClothingSelection, scene string) []Part {
	parts := []Part{imagePart(self)}

	var pieces []string
	if clothing.Top != nil {
		parts = append(parts, imagePart(*clothing.Top))
		// A top without a bottom is a single garment such as a dress.
		if clothing.Bottom != nil {
			pieces = append(pieces, "top")
		} else {
			pieces = append(pieces, "garment")
		}
	}
	if clothing.Bottom != nil {
		parts = append(parts, imagePart(*clothing.Bottom))
		pieces = append(pieces, "bottom")
	}
	if clothing.Accessory != nil {
		parts = append(parts, imagePart(*clothing.Accessory))
		pieces = append(pieces, "accessory")
	}

	return append(parts, Part{Text: Instruction(pieces, scene)})
}

// Instruction renders the text part for the given garment labels and scene.
func Instruction(pieces []string, scene string) string {
	description := "the provided clothes"
	if len(pieces) > 0 {
		description = "the provided " + strings.Join(pieces, ", ")
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("You are an expert virtual stylist. Your task is to edit the first image of a person to show them realistically wearing %s from the subsequent images.\n", description))
	b.WriteString("Place the person in the following scene: \"" + scene + "\".\n")
	b.WriteString("The final image should be high quality and photorealistic. It is crucial to maintain the person's original facial features, body shape, and pose as closely as possible.\n")
	b.WriteString("The output must be only the final, edited image. Do not output any text.")
	return b.String()
}
