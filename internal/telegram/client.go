package telegram

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"virtual-tryon/internal/tryon"
)

const (
	maxMessageBytes = 4096
	maxCaptionBytes = 1024
	maxAlbumSize    = 10
)

type Options struct {
	Token      string
	HTTPClient *http.Client
	Logger     *slog.Logger
	Debug      bool
}

type Client struct {
	bot        *tgbotapi.BotAPI
	httpClient *http.Client
	logger     *slog.Logger
}

func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if opts.HTTPClient == nil {
		return nil, errors.New("http client is nil")
	}

	bot, err := tgbotapi.NewBotAPIWithClient(opts.Token, tgbotapi.APIEndpoint, opts.HTTPClient)
	if err != nil {
		return nil, err
	}
	bot.Debug = opts.Debug

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Client{
		bot:        bot,
		httpClient: opts.HTTPClient,
		logger:     logger,
	}, nil
}

func (c *Client) Username() string {
	return c.bot.Self.UserName
}

type Update = tgbotapi.Update

type UpdatesOptions struct {
	Timeout time.Duration
}

func (c *Client) Updates(opts UpdatesOptions) tgbotapi.UpdatesChannel {
	u := tgbotapi.NewUpdate(0)
	if opts.Timeout > 0 {
		u.Timeout = int(opts.Timeout.Seconds())
	} else {
		u.Timeout = 30
	}
	return c.bot.GetUpdatesChan(u)
}

func (c *Client) StopUpdates() {
	c.bot.StopReceivingUpdates()
}

func (c *Client) SendTyping(chatID int64) {
	_, _ = c.bot.Send(tgbotapi.NewChatAction(chatID, tgbotapi.ChatUploadPhoto))
}

func (c *Client) SendText(chatID int64, text string) error {
	for _, p := range splitByBytes(text, maxMessageBytes) {
		msg := tgbotapi.NewMessage(chatID, p)
		if _, err := c.bot.Send(msg); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) SendTextWithKeyboard(chatID int64, text string, markup tgbotapi.InlineKeyboardMarkup) error {
	msg := tgbotapi.NewMessage(chatID, truncateByBytes(text, maxMessageBytes))
	msg.ReplyMarkup = markup
	_, err := c.bot.Send(msg)
	return err
}

func (c *Client) AnswerCallback(callbackID, text string) error {
	_, err := c.bot.Request(tgbotapi.NewCallback(callbackID, text))
	return err
}

// Photo is one generated image with its caption.
type Photo struct {
	DataURI string
	Caption string
}

// SendPhotos delivers photos as a single album when there is more than one.
func (c *Client) SendPhotos(chatID int64, photos []Photo) error {
	if len(photos) == 1 {
		return c.SendPhotoDataURI(chatID, photos[0].DataURI, photos[0].Caption)
	}

	for start := 0; start < len(photos); start += maxAlbumSize {
		end := min(start+maxAlbumSize, len(photos))

		media := make([]interface{}, 0, end-start)
		for i, p := range photos[start:end] {
			file, err := fileBytes(p.DataURI, fmt.Sprintf("look-%d", start+i+1))
			if err != nil {
				return err
			}
			item := tgbotapi.NewInputMediaPhoto(file)
			item.Caption = truncateByBytes(p.Caption, maxCaptionBytes)
			media = append(media, item)
		}

		if _, err := c.bot.SendMediaGroup(tgbotapi.NewMediaGroup(chatID, media)); err != nil {
			return fmt.Errorf("send album: %w", err)
		}
	}
	return nil
}

func (c *Client) SendPhotoDataURI(chatID int64, dataURI string, caption string) error {
	file, err := fileBytes(dataURI, "look")
	if err != nil {
		return err
	}

	photo := tgbotapi.NewPhoto(chatID, file)
	if caption != "" {
		photo.Caption = truncateByBytes(caption, maxCaptionBytes)
	}

	_, err = c.bot.Send(photo)
	return err
}

// DownloadFile fetches a Telegram file and encodes it the same way a web
// upload is encoded.
func (c *Client) DownloadFile(ctx context.Context, fileID string) (tryon.UploadedFile, error) {
	fileURL, err := c.bot.GetFileDirectURL(fileID)
	if err != nil {
		return tryon.UploadedFile{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return tryon.UploadedFile{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return tryon.UploadedFile{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return tryon.UploadedFile{}, fmt.Errorf("telegram file download %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	name := path.Base(req.URL.Path)
	return tryon.Encode(resp.Body, name, resp.Header.Get("content-type"))
}

func fileBytes(dataURI, baseName string) (tgbotapi.FileBytes, error) {
	mimeType, payload, err := tryon.ParseDataURI(dataURI)
	if err != nil {
		return tgbotapi.FileBytes{}, err
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return tgbotapi.FileBytes{}, fmt.Errorf("decode base64: %w", err)
	}

	return tgbotapi.FileBytes{Name: baseName + extensionFor(mimeType), Bytes: raw}, nil
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	}
	if exts, _ := mime.ExtensionsByType(mimeType); len(exts) > 0 {
		return exts[0]
	}
	return ".jpg"
}

func splitByBytes(text string, maxBytes int) []string {
	if len(text) <= maxBytes || maxBytes <= 0 {
		return []string{text}
	}

	var out []string
	var buf strings.Builder
	buf.Grow(maxBytes)

	for _, r := range text {
		runeBytes := utf8.RuneLen(r)
		if runeBytes < 0 {
			runeBytes = len(string(r))
		}

		if buf.Len() > 0 && buf.Len()+runeBytes > maxBytes {
			out = append(out, buf.String())
			buf.Reset()
		}
		buf.WriteRune(r)
	}

	if buf.Len() > 0 {
		out = append(out, buf.String())
	}

	return out
}

func truncateByBytes(text string, maxBytes int) string {
	if len(text) <= maxBytes || maxBytes <= 0 {
		return text
	}

	var buf strings.Builder
	buf.Grow(maxBytes)
	for _, r := range text {
		runeBytes := utf8.RuneLen(r)
		if runeBytes < 0 {
			runeBytes = len(string(r))
		}

		if buf.Len()+runeBytes > maxBytes {
			break
		}
		buf.WriteRune(r)
	}
	return buf.String()
}
