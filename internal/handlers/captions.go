package handlers

import (
	"fmt"
	"strings"

	"virtual-tryon/internal/tryon"
)

const targetSelf = "self"

const helpText = "How it works:\n" +
	"1. Send a photo of yourself.\n" +
	"2. Send photos of the garments: a top, a bottom (two-piece mode) and an optional accessory.\n" +
	"   Captionless photos fill the next empty slot. Caption a photo with me, top, bottom or accessory to choose the slot.\n" +
	"3. Send /generate.\n\n" +
	"Commands:\n" +
	"/mode one|two - one-piece or two-piece outfit\n" +
	"/status - what you have uploaded so far\n" +
	"/generate - create your four looks\n" +
	"/reset - start over"

// targetFromCaption maps a photo caption to a slot. It reports false when
// the caption does not name one.
func targetFromCaption(caption string) (string, bool) {
	word := strings.ToLower(strings.TrimSpace(caption))
	if i := strings.IndexAny(word, " \n\t,.!"); i >= 0 {
		word = word[:i]
	}
	word = strings.TrimPrefix(word, "#")

	switch word {
	case "me", "self", "myself", "photo":
		return targetSelf, true
	case "dress", "garment", "outfit":
		return string(tryon.SlotTop), true
	case "pants", "trousers", "skirt", "jeans":
		return string(tryon.SlotBottom), true
	}
	if slot, err := tryon.ParseSlot(word); err == nil {
		return string(slot), true
	}
	return "", false
}

func slotLabel(target string, mode tryon.GarmentMode) string {
	switch target {
	case targetSelf:
		return "your photo"
	case string(tryon.SlotTop):
		if mode == tryon.OnePiece {
			return "single garment"
		}
		return "top garment"
	case string(tryon.SlotBottom):
		return "bottom garment"
	case string(tryon.SlotAccessory):
		return "accessory"
	}
	return target
}

func nextHint(st tryon.State) string {
	switch next := st.NextEmptySlot(); {
	case next == targetSelf:
		return "Now send a photo of yourself."
	case next == string(tryon.SlotTop):
		return "Now send the " + slotLabel(next, st.Mode) + "."
	case st.CanGenerate():
		return "Send /generate when you are ready."
	}
	return ""
}

func describe(st tryon.State) string {
	check := func(ok bool) string {
		if ok {
			return "set"
		}
		return "missing"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Mode: %s\n", st.Mode)
	fmt.Fprintf(&b, "Your photo: %s\n", check(st.Self != nil))
	fmt.Fprintf(&b, "%s: %s\n", capitalize(slotLabel(string(tryon.SlotTop), st.Mode)), check(st.Clothing.Top != nil))
	if st.Mode == tryon.TwoPiece {
		fmt.Fprintf(&b, "Bottom garment: %s\n", check(st.Clothing.Bottom != nil))
	}
	fmt.Fprintf(&b, "Accessory: %s\n", check(st.Clothing.Accessory != nil))

	switch {
	case st.Loading:
		b.WriteString("\nGenerating: ")
		b.WriteString(st.Progress)
	case st.Error != "":
		b.WriteString("\nLast error: ")
		b.WriteString(st.Error)
	case len(st.Images) > 0:
		fmt.Fprintf(&b, "\nLast run produced %d looks.", len(st.Images))
	}

	if hint := nextHint(st); hint != "" && !st.Loading {
		b.WriteString("\n")
		b.WriteString(hint)
	}
	return strings.TrimRight(b.String(), "\n")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
