package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"virtual-tryon/internal/session"
	"virtual-tryon/internal/tryon"
)

const sessionCookie = "tryon_session"

//go:embed static/*
var staticFS embed.FS

var (
	errNotImage         = errors.New("Please upload an image file.")
	errBottomInOnePiece = errors.New("bottom garments are not used in one-piece mode")
	errRunDiscarded     = errors.New("the session was reset while generating")
	errMissingUpload    = errors.New("missing image")
	errInvalidMultipart = errors.New("invalid multipart form")
	errSessionRequired  = errors.New("session cookie is required")
)

// Generator runs one try-on batch. *tryon.Generator implements it.
type Generator interface {
	Scenes() []tryon.Scene
	Generate(ctx context.Context, self *tryon.UploadedFile, clothing tryon.ClothingSelection, progress func(tryon.Progress)) ([]string, error)
}

type Options struct {
	Store          *session.Store
	Generator      Generator
	Hub            *Hub
	Logger         *slog.Logger
	MaxUploadBytes int64
	RequestTimeout time.Duration
}

type Server struct {
	store          *session.Store
	gen            Generator
	hub            *Hub
	logger         *slog.Logger
	maxUploadBytes int64
	requestTimeout time.Duration
}

type apiError struct {
	Error string `json:"error"`
}

type generateResponse struct {
	Results []resultView `json:"results"`
	State   *stateView   `json:"state"`
}

func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	hub := opts.Hub
	if hub == nil {
		hub = NewHub(logger)
	}

	maxUpload := opts.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 25 << 20
	}

	return &Server{
		store:          opts.Store,
		gen:            opts.Generator,
		hub:            hub,
		logger:         logger,
		maxUploadBytes: maxUpload,
		requestTimeout: opts.RequestTimeout,
	}
}

// Handler returns the router with access logging applied.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/state", s.handleState).Methods(http.MethodGet)
	api.HandleFunc("/scenes", s.handleScenes).Methods(http.MethodGet)
	api.HandleFunc("/photo", s.handleSetPhoto).Methods(http.MethodPost)
	api.HandleFunc("/photo", s.handleClearPhoto).Methods(http.MethodDelete)
	api.HandleFunc("/garments/{slot}", s.handleSetGarment).Methods(http.MethodPost)
	api.HandleFunc("/garments/{slot}", s.handleClearGarment).Methods(http.MethodDelete)
	api.HandleFunc("/mode", s.handleMode).Methods(http.MethodPut)
	api.HandleFunc("/generate", s.handleGenerate).Methods(http.MethodPost)
	api.HandleFunc("/reset", s.handleReset).Methods(http.MethodPost)
	api.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, apiError{Error: "not found"})
	})
	api.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, apiError{Error: "method not allowed"})
	})

	staticSub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	r.PathPrefix("/").Handler(http.FileServer(http.FS(staticSub)))

	return withLogging(r, s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	id := s.sessionID(w, r)
	writeJSON(w, http.StatusOK, s.view(s.store.Snapshot(id)))
}

func (s *Server) handleScenes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newSceneViews(s.gen.Scenes()))
}

func (s *Server) handleSetPhoto(w http.ResponseWriter, r *http.Request) {
	id := s.sessionID(w, r)

	f, err := s.readUpload(w, r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !tryon.IsImageType(f.MimeType) {
		writeJSON(w, http.StatusBadRequest, apiError{Error: errNotImage.Error()})
		return
	}

	s.mutate(w, id, func(st *tryon.State) error {
		st.SetSelf(&f)
		return nil
	})
}

func (s *Server) handleClearPhoto(w http.ResponseWriter, r *http.Request) {
	id := s.sessionID(w, r)
	s.mutate(w, id, func(st *tryon.State) error {
		st.SetSelf(nil)
		return nil
	})
}

func (s *Server) handleSetGarment(w http.ResponseWriter, r *http.Request) {
	id := s.sessionID(w, r)

	slot, err := tryon.ParseSlot(mux.Vars(r)["slot"])
	if err != nil {
		writeJSON(w, http.StatusNotFound, apiError{Error: err.Error()})
		return
	}

	f, err := s.readUpload(w, r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.mutate(w, id, func(st *tryon.State) error {
		if slot == tryon.SlotBottom && st.Mode == tryon.OnePiece {
			return errBottomInOnePiece
		}
		st.SetGarment(slot, &f)
		return nil
	})
}

func (s *Server) handleClearGarment(w http.ResponseWriter, r *http.Request) {
	id := s.sessionID(w, r)

	slot, err := tryon.ParseSlot(mux.Vars(r)["slot"])
	if err != nil {
		writeJSON(w, http.StatusNotFound, apiError{Error: err.Error()})
		return
	}

	s.mutate(w, id, func(st *tryon.State) error {
		st.ClearGarment(slot)
		return nil
	})
}

func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	id := s.sessionID(w, r)

	var body struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 4<<10)).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid json body"})
		return
	}
	mode, err := tryon.ParseGarmentMode(body.Mode)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: err.Error()})
		return
	}

	s.mutate(w, id, func(st *tryon.State) error {
		st.SetMode(mode)
		return nil
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	id := s.sessionID(w, r)

	st := s.store.Reset(id)
	view := s.view(st)
	s.hub.Broadcast(id, Event{Type: EventReset, State: view})
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	id := s.sessionID(w, r)

	var (
		run      uint64
		self     tryon.UploadedFile
		clothing tryon.ClothingSelection
	)
	st, err := s.store.Update(id, func(st *tryon.State) error {
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
		var validationErr *tryon.ValidationError
		if errors.As(err, &validationErr) {
			s.hub.Broadcast(id, Event{Type: EventState, State: s.view(s.store.Snapshot(id))})
		}
		s.writeError(w, err)
		return
	}
	s.hub.Broadcast(id, Event{Type: EventState, State: s.view(st)})

	ctx := r.Context()
	if s.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.requestTimeout)
		defer cancel()
	}

	start := time.Now()
	images, genErr := s.gen.Generate(ctx, &self, clothing, func(p tryon.Progress) {
		_, _ = s.store.Update(id, func(st *tryon.State) error {
			st.SetProgress(run, p.Message)
			return nil
		})
		s.hub.Broadcast(id, Event{Type: EventProgress, Message: p.Message, Index: p.Index, Total: p.Total})
	})

	recorded := false
	st, _ = s.store.Update(id, func(st *tryon.State) error {
		recorded = st.FinishRun(run, images, genErr)
		return nil
	})
	if !recorded {
		s.logger.Info("generation discarded after reset", "run", run)
		writeJSON(w, http.StatusConflict, apiError{Error: errRunDiscarded.Error()})
		return
	}

	view := s.view(st)
	if genErr != nil {
		s.logger.Error("generation failed", "err", genErr, "dur_ms", time.Since(start).Milliseconds())
		s.hub.Broadcast(id, Event{Type: EventFailed, Message: genErr.Error(), State: view})
		writeJSON(w, http.StatusBadGateway, apiError{Error: genErr.Error()})
		return
	}

	s.logger.Info("generation finished", "images", len(images), "dur_ms", time.Since(start).Milliseconds())
	s.hub.Broadcast(id, Event{Type: EventDone, State: view})
	writeJSON(w, http.StatusOK, generateResponse{Results: view.Results, State: view})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id, ok := readSessionID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, apiError{Error: errSessionRequired.Error()})
		return
	}
	s.hub.Serve(w, r, id, Event{Type: EventState, State: s.view(s.store.Snapshot(id))})
}

// mutate applies fn unless a run is in flight and answers with the new state.
func (s *Server) mutate(w http.ResponseWriter, id string, fn func(*tryon.State) error) {
	st, err := s.store.Update(id, func(st *tryon.State) error {
		if st.Loading {
			return tryon.ErrRunInProgress
		}
		return fn(st)
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	view := s.view(st)
	s.hub.Broadcast(id, Event{Type: EventState, State: view})
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (tryon.UploadedFile, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		return tryon.UploadedFile{}, errInvalidMultipart
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		return tryon.UploadedFile{}, errMissingUpload
	}
	defer file.Close()

	f, err := tryon.Encode(file, header.Filename, header.Header.Get("Content-Type"))
	if err != nil {
		return tryon.UploadedFile{}, err
	}

	if info, err := tryon.Inspect(f); err == nil {
		s.logger.Debug("upload received", "name", f.Name, "mime", f.MimeType, "format", info.Format, "width", info.Width, "height", info.Height)
	} else {
		s.logger.Debug("upload received", "name", f.Name, "mime", f.MimeType, "inspect_err", err)
	}
	return f, nil
}

func (s *Server) view(st tryon.State) *stateView {
	return newStateView(st, s.gen.Scenes())
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var (
		validationErr *tryon.ValidationError
		encodingErr   *tryon.EncodingError
	)
	switch {
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusBadRequest, apiError{Error: validationErr.Message})
	case errors.As(err, &encodingErr),
		errors.Is(err, errInvalidMultipart),
		errors.Is(err, errMissingUpload):
		writeJSON(w, http.StatusBadRequest, apiError{Error: err.Error()})
	case errors.Is(err, tryon.ErrRunInProgress), errors.Is(err, errBottomInOnePiece):
		writeJSON(w, http.StatusConflict, apiError{Error: err.Error()})
	default:
		s.logger.Error("request failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, apiError{Error: "internal error"})
	}
}

// sessionID returns the caller's session id, issuing a new cookie when the
// request carries none.
func (s *Server) sessionID(w http.ResponseWriter, r *http.Request) string {
	if id, ok := readSessionID(r); ok {
		return id
	}

	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

func readSessionID(r *http.Request) (string, bool) {
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		return "", false
	}
	parsed, err := uuid.Parse(c.Value)
	if err != nil {
		return "", false
	}
	return parsed.String(), true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
