package tryon

import "strings"

type Scene struct {
	Description string
	Caption     string
	Subtitle    string
}

// Title is the description up to its first comma.
func (s Scene) Title() string {
	title, _, _ := strings.Cut(s.Description, ",")
	return strings.TrimSpace(title)
}

var defaultScenes = []Scene{
	{
		Description: "Full body shot in a photography studio with a neutral, clean background.",
		Caption:     "Full Body Shot",
		Subtitle:    "Studio setting",
	},
	{
		Description: "Close-up shot from the waist up, focusing on the clothing details, in a well-lit indoor setting.",
		Caption:     "Close-Up",
		Subtitle:    "Detailed view",
	},
	{
		Description: "A candid lifestyle shot in a cozy, modern living room.",
		Caption:     "At Home",
		Subtitle:    "Lifestyle at home",
	},
	{
		Description: "Walking down a stylish city street during the day.",
		Caption:     "Outdoors",
		Subtitle:    "Urban or nature",
	},
}

// Scenes returns a copy of the fixed scene list. Its order defines the
// order of generated images.
func Scenes() []Scene {
	return append([]Scene(nil), defaultScenes...)
}
