package handlers

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"virtual-tryon/internal/mediagroup"
	"virtual-tryon/internal/session"
	"virtual-tryon/internal/telegram"
	"virtual-tryon/internal/tryon"
)

type fakeMessenger struct {
	mu        sync.Mutex
	texts     []string
	photos    []telegram.Photo
	answers   []string
	files     map[string]tryon.UploadedFile
	downloadE error
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{files: map[string]tryon.UploadedFile{}}
}

func (m *fakeMessenger) SendText(chatID int64, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.texts = append(m.texts, text)
	return nil
}

func (m *fakeMessenger) SendTextWithKeyboard(chatID int64, text string, markup tgbotapi.InlineKeyboardMarkup) error {
	return m.SendText(chatID, text)
}

func (m *fakeMessenger) AnswerCallback(callbackID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.answers = append(m.answers, text)
	return nil
}

func (m *fakeMessenger) SendPhotos(chatID int64, photos []telegram.Photo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.photos = append(m.photos, photos...)
	return nil
}

func (m *fakeMessenger) SendTyping(chatID int64) {}

func (m *fakeMessenger) DownloadFile(ctx context.Context, fileID string) (tryon.UploadedFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.downloadE != nil {
		return tryon.UploadedFile{}, m.downloadE
	}
	f, ok := m.files[fileID]
	if !ok {
		f = tryon.UploadedFile{Base64: "AA==", MimeType: "image/jpeg", Name: fileID + ".jpg"}
	}
	return f, nil
}

func (m *fakeMessenger) lastText() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.texts) == 0 {
		return ""
	}
	return m.texts[len(m.texts)-1]
}

type fakeModel struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (m *fakeModel) GenerateContent(ctx context.Context, parts []tryon.Part) (tryon.Response, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.err != nil {
		return tryon.Response{}, m.err
	}
	return tryon.Response{Candidates: []tryon.Candidate{{Parts: []tryon.Part{
		{InlineData: &tryon.Blob{MimeType: "image/png", Data: "b3V0"}},
	}}}}, nil
}

const (
	testChat = int64(100)
	testUser = int64(7)
)

func newTestHandler(model *fakeModel) (*Handler, *fakeMessenger, *session.Store) {
	tg := newFakeMessenger()
	store := session.NewStore(session.Options{})
	h := New(Options{
		Telegram:  tg,
		Generator: tryon.NewGenerator(tryon.GeneratorOptions{Model: model}),
		Sessions:  store,
	})
	return h, tg, store
}

func command(text string) telegram.Update {
	name := text
	if i := strings.IndexByte(text, ' '); i >= 0 {
		name = text[:i]
	}
	return telegram.Update{Message: &tgbotapi.Message{
		MessageID: 1,
		Chat:      &tgbotapi.Chat{ID: testChat},
		From:      &tgbotapi.User{ID: testUser},
		Text:      text,
		Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(name)}},
	}}
}

func photo(messageID int, fileID, caption string) telegram.Update {
	return telegram.Update{Message: &tgbotapi.Message{
		MessageID: messageID,
		Chat:      &tgbotapi.Chat{ID: testChat},
		From:      &tgbotapi.User{ID: testUser},
		Caption:   caption,
		Photo: []tgbotapi.PhotoSize{
			{FileID: fileID + "-small", Width: 90, Height: 90},
			{FileID: fileID, Width: 800, Height: 800},
		},
	}}
}

func TestPhotosFillNextEmptySlot(t *testing.T) {
	h, tg, store := newTestHandler(&fakeModel{})
	ctx := context.Background()

	for i, id := range []string{"me", "shirt", "jeans", "hat"} {
		if err := h.HandleUpdate(ctx, photo(i+1, id, "")); err != nil {
			t.Fatalf("HandleUpdate(%s): %v", id, err)
		}
	}

	st := store.Snapshot(sessionKey(testChat, testUser))
	if st.Self == nil || st.Self.Name != "me.jpg" {
		t.Fatalf("self = %+v", st.Self)
	}
	if st.Clothing.Top.Name != "shirt.jpg" || st.Clothing.Bottom.Name != "jeans.jpg" || st.Clothing.Accessory.Name != "hat.jpg" {
		t.Fatalf("unexpected clothing: %+v", st.Clothing)
	}

	if err := h.HandleUpdate(ctx, photo(5, "extra", "")); err != nil {
		t.Fatalf("HandleUpdate: %v", err)
	}
	if !strings.Contains(tg.lastText(), "all slots are already filled") {
		t.Fatalf("last reply = %q", tg.lastText())
	}
}

func TestCaptionChoosesSlot(t *testing.T) {
	h, _, store := newTestHandler(&fakeModel{})
	ctx := context.Background()

	_ = h.HandleUpdate(ctx, photo(1, "hat", "accessory"))
	_ = h.HandleUpdate(ctx, photo(2, "me", "me"))

	st := store.Snapshot(sessionKey(testChat, testUser))
	if st.Clothing.Accessory == nil || st.Clothing.Accessory.Name != "hat.jpg" {
		t.Fatalf("accessory = %+v", st.Clothing.Accessory)
	}
	if st.Self == nil || st.Self.Name != "me.jpg" {
		t.Fatalf("self = %+v", st.Self)
	}
	if st.Clothing.Top != nil {
		t.Fatalf("top must stay empty")
	}
}

func TestOnePieceSkipsBottom(t *testing.T) {
	h, tg, store := newTestHandler(&fakeModel{})
	ctx := context.Background()

	_ = h.HandleUpdate(ctx, photo(1, "jeans", "bottom"))
	_ = h.HandleUpdate(ctx, command("/mode one"))

	st := store.Snapshot(sessionKey(testChat, testUser))
	if st.Mode != tryon.OnePiece || st.Clothing.Bottom != nil {
		t.Fatalf("mode switch did not clear bottom: %+v", st)
	}

	_ = h.HandleUpdate(ctx, photo(2, "jeans", "bottom"))
	if !strings.Contains(tg.lastText(), "not used in one-piece mode") {
		t.Fatalf("last reply = %q", tg.lastText())
	}
	if store.Snapshot(sessionKey(testChat, testUser)).Clothing.Bottom != nil {
		t.Fatalf("bottom must not be stored in one-piece mode")
	}
}

func TestSelfPhotoMustBeImage(t *testing.T) {
	h, tg, store := newTestHandler(&fakeModel{})
	tg.files["doc"] = tryon.UploadedFile{Base64: "AA==", MimeType: "application/pdf", Name: "doc.pdf"}

	_ = h.HandleUpdate(context.Background(), photo(1, "doc", ""))

	if store.Snapshot(sessionKey(testChat, testUser)).Self != nil {
		t.Fatalf("non-image must not become the self photo")
	}
	if !strings.Contains(tg.lastText(), "must be an image") {
		t.Fatalf("last reply = %q", tg.lastText())
	}
}

func TestDownloadFailure(t *testing.T) {
	h, tg, store := newTestHandler(&fakeModel{})
	tg.downloadE = errors.New("file expired")

	if err := h.HandleUpdate(context.Background(), photo(1, "me", "")); err != nil {
		t.Fatalf("HandleUpdate: %v", err)
	}
	if store.Snapshot(sessionKey(testChat, testUser)).Self != nil {
		t.Fatalf("failed download must not change state")
	}
	if !strings.Contains(tg.lastText(), "could not read") {
		t.Fatalf("last reply = %q", tg.lastText())
	}
}

func TestGenerateValidation(t *testing.T) {
	model := &fakeModel{}
	h, tg, _ := newTestHandler(model)
	ctx := context.Background()

	_ = h.HandleUpdate(ctx, command("/generate"))
	if tg.lastText() != "Please upload a photo of yourself first." {
		t.Fatalf("reply = %q", tg.lastText())
	}

	_ = h.HandleUpdate(ctx, photo(1, "me", ""))
	_ = h.HandleUpdate(ctx, command("/generate"))
	if tg.lastText() != "Please upload an image of at least one garment." {
		t.Fatalf("reply = %q", tg.lastText())
	}
	if model.calls != 0 {
		t.Fatalf("model called %d times", model.calls)
	}
}

func TestGenerateSendsLooks(t *testing.T) {
	model := &fakeModel{}
	h, tg, store := newTestHandler(model)
	ctx := context.Background()

	_ = h.HandleUpdate(ctx, photo(1, "me", ""))
	_ = h.HandleUpdate(ctx, photo(2, "shirt", ""))
	if err := h.HandleUpdate(ctx, command("/generate")); err != nil {
		t.Fatalf("generate: %v", err)
	}

	if len(tg.photos) != 4 {
		t.Fatalf("sent %d photos, want 4", len(tg.photos))
	}
	if tg.photos[0].Caption != "Full Body Shot - Studio setting" || tg.photos[3].Caption != "Outdoors - Urban or nature" {
		t.Fatalf("unexpected captions: %q / %q", tg.photos[0].Caption, tg.photos[3].Caption)
	}

	var progress []string
	for _, txt := range tg.texts {
		if strings.HasPrefix(txt, "Generating look ") {
			progress = append(progress, txt)
		}
	}
	if len(progress) != 4 || progress[1] != "Generating look 2 of 4: Close-up shot from the waist up..." {
		t.Fatalf("progress messages = %q", progress)
	}

	st := store.Snapshot(sessionKey(testChat, testUser))
	if st.Status != tryon.StatusSucceeded || len(st.Images) != 4 {
		t.Fatalf("unexpected state: %+v", st)
	}
}

func TestGenerateFailureMessage(t *testing.T) {
	model := &fakeModel{err: errors.New("boom")}
	h, tg, _ := newTestHandler(model)
	ctx := context.Background()

	_ = h.HandleUpdate(ctx, photo(1, "me", ""))
	_ = h.HandleUpdate(ctx, photo(2, "shirt", ""))
	_ = h.HandleUpdate(ctx, command("/generate"))

	want := `error with scene "Full body shot in a photography studio with a neutral": boom. Please try again.`
	if tg.lastText() != want {
		t.Fatalf("reply = %q, want %q", tg.lastText(), want)
	}
	if len(tg.photos) != 0 {
		t.Fatalf("no photos must be sent on failure")
	}
}

func TestMediaGroupAssignsInOrder(t *testing.T) {
	h, _, store := newTestHandler(&fakeModel{})

	h.HandleMediaGroup(context.Background(), mediagroup.Group{
		ChatID: testChat,
		UserID: testUser,
		Photos: []mediagroup.Photo{
			{MessageID: 1, FileID: "me"},
			{MessageID: 2, FileID: "shirt"},
			{MessageID: 3, FileID: "hat", Caption: "accessory"},
			{MessageID: 4, FileID: "jeans"},
		},
	})

	st := store.Snapshot(sessionKey(testChat, testUser))
	if st.Self.Name != "me.jpg" || st.Clothing.Top.Name != "shirt.jpg" || st.Clothing.Accessory.Name != "hat.jpg" || st.Clothing.Bottom.Name != "jeans.jpg" {
		t.Fatalf("unexpected assignment: self=%v top=%v bottom=%v accessory=%v", st.Self, st.Clothing.Top, st.Clothing.Bottom, st.Clothing.Accessory)
	}
}

func TestResetCommand(t *testing.T) {
	h, _, store := newTestHandler(&fakeModel{})
	ctx := context.Background()

	_ = h.HandleUpdate(ctx, photo(1, "me", ""))
	_ = h.HandleUpdate(ctx, command("/reset"))

	if store.Snapshot(sessionKey(testChat, testUser)).Self != nil {
		t.Fatalf("reset did not clear the photo")
	}
}

func TestCallbackOwnership(t *testing.T) {
	h, tg, store := newTestHandler(&fakeModel{})

	cb := func(from int64, data string) telegram.Update {
		return telegram.Update{CallbackQuery: &tgbotapi.CallbackQuery{
			ID:      "cb",
			From:    &tgbotapi.User{ID: from},
			Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: testChat}},
			Data:    data,
		}}
	}

	_ = h.HandleUpdate(context.Background(), cb(99, "to:7:mode:one"))
	if len(tg.answers) != 1 || !strings.Contains(tg.answers[0], "someone else") {
		t.Fatalf("answers = %q", tg.answers)
	}
	if store.Snapshot(sessionKey(testChat, testUser)).Mode != tryon.TwoPiece {
		t.Fatalf("foreign callback changed the mode")
	}

	_ = h.HandleUpdate(context.Background(), cb(testUser, "to:7:mode:one"))
	if store.Snapshot(sessionKey(testChat, testUser)).Mode != tryon.OnePiece {
		t.Fatalf("owner callback did not change the mode")
	}
}

func TestTargetFromCaption(t *testing.T) {
	tests := []struct {
		caption string
		want    string
		ok      bool
	}{
		{caption: "me", want: targetSelf, ok: true},
		{caption: "  Top please", want: "top", ok: true},
		{caption: "#bottom", want: "bottom", ok: true},
		{caption: "dress", want: "top", ok: true},
		{caption: "Accessory.", want: "accessory", ok: true},
		{caption: "", ok: false},
		{caption: "look at this", ok: false},
	}

	for _, tt := range tests {
		got, ok := targetFromCaption(tt.caption)
		if ok != tt.ok || got != tt.want {
			t.Fatalf("targetFromCaption(%q) = %q, %v; want %q, %v", tt.caption, got, ok, tt.want, tt.ok)
		}
	}
}
