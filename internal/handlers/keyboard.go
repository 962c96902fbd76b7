package handlers

import (
	"context"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"virtual-tryon/internal/tryon"
)

const callbackPrefix = "to"

func controlsKeyboard(ownerID int64, st tryon.State) tgbotapi.InlineKeyboardMarkup {
	owner := strconv.FormatInt(ownerID, 10)
	data := func(parts ...string) string {
		return callbackPrefix + ":" + owner + ":" + strings.Join(parts, ":")
	}

	one, two := "One piece", "Two piece"
	if st.Mode == tryon.OnePiece {
		one = "* " + one
	} else {
		two = "* " + two
	}

	rows := [][]tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(two, data("mode", "two")),
			tgbotapi.NewInlineKeyboardButtonData(one, data("mode", "one")),
		),
	}
	last := []tgbotapi.InlineKeyboardButton{tgbotapi.NewInlineKeyboardButtonData("Reset", data("reset"))}
	if st.CanGenerate() {
		last = append([]tgbotapi.InlineKeyboardButton{tgbotapi.NewInlineKeyboardButtonData("Generate my look", data("generate"))}, last...)
	}
	rows = append(rows, last)
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func (h *Handler) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) error {
	if q == nil || q.Message == nil || q.From == nil {
		return nil
	}
	data := strings.TrimSpace(q.Data)
	if !strings.HasPrefix(data, callbackPrefix+":") {
		return nil
	}

	parts := strings.Split(data, ":")
	if len(parts) < 3 {
		return nil
	}

	ownerID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return nil
	}
	if ownerID != q.From.ID {
		return h.tg.AnswerCallback(q.ID, "These buttons belong to someone else.")
	}

	chatID := q.Message.Chat.ID
	id := sessionKey(chatID, ownerID)

	switch action, args := parts[2], parts[3:]; action {
	case "mode":
		if len(args) < 1 {
			return nil
		}
		mode, err := tryon.ParseGarmentMode(args[0])
		if err != nil {
			return nil
		}
		_ = h.tg.AnswerCallback(q.ID, "")
		return h.setMode(chatID, ownerID, mode)
	case "generate":
		_ = h.tg.AnswerCallback(q.ID, "Generating...")
		return h.generate(ctx, chatID, id)
	case "reset":
		_ = h.tg.AnswerCallback(q.ID, "Cleared")
		h.sessions.Reset(id)
		return h.tg.SendText(chatID, "Everything was cleared. Send a photo of yourself to start over.")
	}
	return h.tg.AnswerCallback(q.ID, "")
}

func (h *Handler) setMode(chatID, userID int64, mode tryon.GarmentMode) error {
	st, err := h.sessions.Update(sessionKey(chatID, userID), func(st *tryon.State) error {
		if st.Loading {
			return tryon.ErrRunInProgress
		}
		st.SetMode(mode)
		return nil
	})
	if err != nil {
		return h.replyError(chatID, err)
	}

	text := "Two-piece mode: send a top and a bottom (plus an optional accessory)."
	if st.Mode == tryon.OnePiece {
		text = "One-piece mode: send a single garment (plus an optional accessory)."
	}
	return h.tg.SendTextWithKeyboard(chatID, text, controlsKeyboard(userID, st))
}
