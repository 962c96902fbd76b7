package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/sync/errgroup"

	"virtual-tryon/internal/mediagroup"
	"virtual-tryon/internal/session"
	"virtual-tryon/internal/telegram"
	"virtual-tryon/internal/tryon"
)

// Messenger is the part of *telegram.Client the handlers use.
type Messenger interface {
	SendText(chatID int64, text string) error
	SendTextWithKeyboard(chatID int64, text string, markup tgbotapi.InlineKeyboardMarkup) error
	AnswerCallback(callbackID, text string) error
	SendPhotos(chatID int64, photos []telegram.Photo) error
	SendTyping(chatID int64)
	DownloadFile(ctx context.Context, fileID string) (tryon.UploadedFile, error)
}

// Generator runs one try-on batch. *tryon.Generator implements it.
type Generator interface {
	Scenes() []tryon.Scene
	Generate(ctx context.Context, self *tryon.UploadedFile, clothing tryon.ClothingSelection, progress func(tryon.Progress)) ([]string, error)
}

type Options struct {
	Telegram  Messenger
	Generator Generator
	Sessions  *session.Store
	Logger    *slog.Logger
}

type Handler struct {
	tg         Messenger
	gen        Generator
	sessions   *session.Store
	logger     *slog.Logger
	aggregator *mediagroup.Aggregator
}

func New(opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		tg:       opts.Telegram,
		gen:      opts.Generator,
		sessions: opts.Sessions,
		logger:   logger,
	}
}

func (h *Handler) SetMediaGroupAggregator(ag *mediagroup.Aggregator) {
	h.aggregator = ag
}

func (h *Handler) HandleUpdate(ctx context.Context, update telegram.Update) error {
	if update.CallbackQuery != nil {
		return h.handleCallback(ctx, update.CallbackQuery)
	}
	if update.Message == nil {
		return nil
	}

	msg := update.Message
	chatID := msg.Chat.ID
	userID := chatID
	if msg.From != nil {
		userID = msg.From.ID
	}

	if msg.IsCommand() {
		return h.handleCommand(ctx, chatID, userID, msg)
	}

	if len(msg.Photo) > 0 {
		return h.handlePhoto(ctx, chatID, userID, msg)
	}

	if msg.Document != nil {
		return h.tg.SendText(chatID, "Please send images as photos, not as files.")
	}

	if strings.TrimSpace(msg.Text) != "" {
		return h.tg.SendText(chatID, "Send me photos to get started, or /help to see how it works.")
	}

	return nil
}

func (h *Handler) HandleMediaGroup(ctx context.Context, group mediagroup.Group) {
	photos := make([]incomingPhoto, 0, len(group.Photos))
	for _, p := range group.Photos {
		photos = append(photos, incomingPhoto{FileID: p.FileID, Caption: p.Caption})
	}
	if err := h.assignPhotos(ctx, group.ChatID, group.UserID, photos); err != nil {
		h.logger.Error("media group processing failed", "err", err)
	}
}

func (h *Handler) handleCommand(ctx context.Context, chatID int64, userID int64, msg *tgbotapi.Message) error {
	id := sessionKey(chatID, userID)

	switch msg.Command() {
	case "start":
		return h.tg.SendText(chatID,
			"AI Virtual Fitting Room\n\n"+
				"Send a photo of yourself, then photos of the garments you want to try on. "+
				"I will dress you up in four different scenes.\n\n"+
				helpText,
		)
	case "help":
		return h.tg.SendText(chatID, helpText)
	case "mode":
		mode, err := tryon.ParseGarmentMode(msg.CommandArguments())
		if err != nil {
			return h.tg.SendText(chatID, "Usage: /mode one or /mode two")
		}
		return h.setMode(chatID, userID, mode)
	case "status":
		st := h.sessions.Snapshot(id)
		return h.tg.SendTextWithKeyboard(chatID, describe(st), controlsKeyboard(userID, st))
	case "reset":
		h.sessions.Reset(id)
		return h.tg.SendText(chatID, "Everything was cleared. Send a photo of yourself to start over.")
	case "generate":
		return h.generate(ctx, chatID, id)
	default:
		return h.tg.SendText(chatID, "Unknown command. Use /help.")
	}
}

func (h *Handler) handlePhoto(ctx context.Context, chatID int64, userID int64, msg *tgbotapi.Message) error {
	photo := msg.Photo[len(msg.Photo)-1]

	if msg.MediaGroupID != "" && h.aggregator != nil {
		h.aggregator.Add(mediagroup.Item{
			ChatID:       chatID,
			UserID:       userID,
			MessageID:    msg.MessageID,
			MediaGroupID: msg.MediaGroupID,
			Caption:      msg.Caption,
			FileID:       photo.FileID,
		})
		return nil
	}

	return h.assignPhotos(ctx, chatID, userID, []incomingPhoto{{FileID: photo.FileID, Caption: msg.Caption}})
}

type incomingPhoto struct {
	FileID  string
	Caption string
}

// assignPhotos downloads photos concurrently and stores them in message
// order. A caption naming a slot wins; otherwise the next empty slot is
// filled.
func (h *Handler) assignPhotos(ctx context.Context, chatID int64, userID int64, photos []incomingPhoto) error {
	h.tg.SendTyping(chatID)

	files := make([]tryon.UploadedFile, len(photos))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, p := range photos {
		eg.Go(func() error {
			f, err := h.tg.DownloadFile(egCtx, p.FileID)
			if err != nil {
				return err
			}
			files[i] = f
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		h.logger.Error("photo download failed", "err", err)
		return h.tg.SendText(chatID, "Sorry, I could not read that image. Please try again.")
	}

	var saved, skipped []string
	st, err := h.sessions.Update(sessionKey(chatID, userID), func(st *tryon.State) error {
		if st.Loading {
			return tryon.ErrRunInProgress
		}
		for i := range files {
			f := files[i]
			target, ok := targetFromCaption(photos[i].Caption)
			if !ok {
				target = st.NextEmptySlot()
			}

			switch target {
			case "":
				skipped = append(skipped, "all slots are already filled")
			case targetSelf:
				if !tryon.IsImageType(f.MimeType) {
					skipped = append(skipped, "your photo must be an image")
					continue
				}
				st.SetSelf(&f)
				saved = append(saved, slotLabel(target, st.Mode))
			default:
				slot := tryon.Slot(target)
				if slot == tryon.SlotBottom && st.Mode == tryon.OnePiece {
					skipped = append(skipped, "bottoms are not used in one-piece mode")
					continue
				}
				st.SetGarment(slot, &f)
				saved = append(saved, slotLabel(target, st.Mode))
			}
		}
		return nil
	})
	if err != nil {
		return h.replyError(chatID, err)
	}

	h.logger.Info("photos assigned", "chat_id", chatID, "saved", len(saved), "skipped", len(skipped))

	var b strings.Builder
	if len(saved) > 0 {
		fmt.Fprintf(&b, "Saved: %s.\n", strings.Join(saved, ", "))
	}
	for _, reason := range skipped {
		fmt.Fprintf(&b, "Skipped one photo: %s.\n", reason)
	}
	b.WriteString(nextHint(st))
	return h.tg.SendTextWithKeyboard(chatID, strings.TrimSpace(b.String()), controlsKeyboard(userID, st))
}

func (h *Handler) generate(ctx context.Context, chatID int64, id string) error {
	var (
		run      uint64
		self     tryon.UploadedFile
		clothing tryon.ClothingSelection
	)
	_, err := h.sessions.Update(id, func(st *tryon.State) error {
		var err error
		run, err = st.BeginRun()
		if err != nil {
			return err
		}
		st.SetProgress(run, tryon.PreparingMessage)
		self = *st.Self
		clothing = st.Clothing
		return nil
	})
	if err != nil {
		return h.replyError(chatID, err)
	}

	_ = h.tg.SendText(chatID, tryon.PreparingMessage)

	images, genErr := h.gen.Generate(ctx, &self, clothing, func(p tryon.Progress) {
		_, _ = h.sessions.Update(id, func(st *tryon.State) error {
			st.SetProgress(run, p.Message)
			return nil
		})
		h.tg.SendTyping(chatID)
		if err := h.tg.SendText(chatID, p.Message); err != nil {
			h.logger.Warn("progress message failed", "err", err)
		}
	})

	recorded := false
	_, _ = h.sessions.Update(id, func(st *tryon.State) error {
		recorded = st.FinishRun(run, images, genErr)
		return nil
	})
	if !recorded {
		h.logger.Info("generation discarded after reset", "chat_id", chatID)
		return nil
	}

	if genErr != nil {
		h.logger.Error("generation failed", "chat_id", chatID, "err", genErr)
		return h.tg.SendText(chatID, genErr.Error())
	}

	scenes := h.gen.Scenes()
	photos := make([]telegram.Photo, 0, len(images))
	for i, img := range images {
		caption := fmt.Sprintf("Look %d", i+1)
		if i < len(scenes) {
			caption = scenes[i].Caption + " - " + scenes[i].Subtitle
		}
		photos = append(photos, telegram.Photo{DataURI: img, Caption: caption})
	}
	if err := h.tg.SendPhotos(chatID, photos); err != nil {
		return err
	}
	return h.tg.SendText(chatID, "Your AI-styled looks are ready. Send new garments or /reset to try a new outfit.")
}

func (h *Handler) replyError(chatID int64, err error) error {
	var validationErr *tryon.ValidationError
	switch {
	case errors.As(err, &validationErr):
		return h.tg.SendText(chatID, validationErr.Message)
	case errors.Is(err, tryon.ErrRunInProgress):
		return h.tg.SendText(chatID, "Your looks are still being generated. Please wait.")
	}
	h.logger.Error("request failed", "err", err)
	return h.tg.SendText(chatID, "Something went wrong. Please try again.")
}

func sessionKey(chatID, userID int64) string {
	return fmt.Sprintf("tg:%d:%d", chatID, userID)
}
