package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"playsync/internal/domain"
	"playsync/internal/middleware"
	"playsync/internal/service"
	"playsync/internal/worker"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

type SyncRunner interface {
	RunOnce(ctx context.Context) (*worker.Report, error)
	LastReport() *worker.Report
	IsRunning() bool
}

type DownloadRunner interface {
	Run(ctx context.Context) (*service.DownloadResult, error)
}

type UploadRunner interface {
	Run(ctx context.Context) (*service.UploadResult, error)
}

type PlayManager interface {
	LogQuickPlay(ctx context.Context, gameID int, gameName string) (*domain.Play, error)
	Save(ctx context.Context, play *domain.Play) error
	RenameLocation(ctx context.Context, from, to string) (int, error)
	RenamePlayer(ctx context.Context, from, to string) (int, error)
	UpdatePlaysWithNickName(ctx context.Context, username, nickName string) (int, error)
	AddUsernameToPlayer(ctx context.Context, name, username string) (int, error)
	MarkAsDeleted(ctx context.Context, localID string) error
	ResetPlays(ctx context.Context) error
	DeletePlays(ctx context.Context) error
	Watermarks(ctx context.Context) (domain.Watermarks, error)
}

type StatsReader interface {
	Current(ctx context.Context) (game, player domain.HIndex, err error)
}

// Server is the local HTTP control surface of the sync engine.
type Server struct {
	sync     SyncRunner
	download DownloadRunner
	upload   UploadRunner
	plays    PlayManager
	stats    StatsReader
	logger   zerolog.Logger
}

func NewServer(sync SyncRunner, download DownloadRunner, upload UploadRunner, plays PlayManager, stats StatsReader, logger zerolog.Logger) *Server {
	return &Server{
		sync:     sync,
		download: download,
		upload:   upload,
		plays:    plays,
		stats:    stats,
		logger:   logger,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

type statusResponse struct {
	WorkerRunning bool           `json:"worker_running"`
	Newest        string         `json:"newest"`
	Oldest        string         `json:"oldest"`
	GameHIndex    string         `json:"game_h_index"`
	PlayerHIndex  string         `json:"player_h_index"`
	LastReport    *worker.Report `json:"last_report,omitempty"`
}

type quickPlayRequest struct {
	GameID   int    `json:"game_id"`
	GameName string `json:"game_name"`
}

type playerRequest struct {
	Username      string  `json:"username"`
	UserID        int     `json:"user_id"`
	Name          string  `json:"name"`
	StartPosition string  `json:"start_position"`
	Color         string  `json:"color"`
	Score         string  `json:"score"`
	New           bool    `json:"new"`
	Rating        float64 `json:"rating"`
	Win           bool    `json:"win"`
}

type playRequest struct {
	Date       string          `json:"date"`
	Length     int             `json:"length"`
	GameID     int             `json:"game_id"`
	GameName   string          `json:"game_name"`
	Subtypes   []string        `json:"subtypes"`
	Location   string          `json:"location"`
	Comments   string          `json:"comments"`
	Quantity   int             `json:"quantity"`
	Incomplete bool            `json:"incomplete"`
	NoWinStats bool            `json:"no_win_stats"`
	Players    []playerRequest `json:"players"`
}

func (req playRequest) toPlay(localID string) (*domain.Play, error) {
	play := &domain.Play{
		LocalID:    localID,
		Length:     req.Length,
		GameID:     req.GameID,
		GameName:   req.GameName,
		Subtypes:   req.Subtypes,
		Location:   req.Location,
		Comments:   req.Comments,
		Quantity:   req.Quantity,
		Incomplete: req.Incomplete,
		NoWinStats: req.NoWinStats,
	}
	if req.Date != "" {
		date, err := domain.ParseDate(req.Date)
		if err != nil {
			return nil, fmt.Errorf("date must be YYYY-MM-DD: %w", domain.ErrInvalidPlay)
		}
		play.Date = date
	}
	for _, pl := range req.Players {
		play.Players = append(play.Players, domain.Player{
			Username:      pl.Username,
			UserID:        pl.UserID,
			Name:          pl.Name,
			StartPosition: pl.StartPosition,
			Color:         pl.Color,
			Score:         pl.Score,
			IsNew:         pl.New,
			Rating:        pl.Rating,
			Win:           pl.Win,
		})
	}
	return play, nil
}

type renameRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type linkUserRequest struct {
	Name     string `json:"name"`
	Username string `json:"username"`
}

type nickNameRequest struct {
	Username string `json:"username"`
	NickName string `json:"nickname"`
}

type editResponse struct {
	Plays int `json:"plays"`
}

type playResponse struct {
	LocalID  string `json:"local_id"`
	PlayID   int    `json:"play_id"`
	Date     string `json:"date"`
	GameID   int    `json:"game_id"`
	GameName string `json:"game_name"`
	Quantity int    `json:"quantity"`
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	}).Handler)

	r.Get("/healthz", s.health)

	r.Route("/sync", func(r chi.Router) {
		r.Get("/status", s.status)
		r.Post("/run", s.runSync)
		r.Post("/download", s.runDownload)
		r.Post("/upload", s.runUpload)
		r.Post("/reset", s.reset)
	})

	r.Route("/plays", func(r chi.Router) {
		r.Post("/", s.createPlay)
		r.Post("/quick", s.quickPlay)
		r.Put("/{localID}", s.updatePlay)
		r.Delete("/{localID}", s.deletePlay)
	})

	r.Post("/locations/rename", s.renameLocation)
	r.Route("/players", func(r chi.Router) {
		r.Post("/rename", s.renamePlayer)
		r.Post("/username", s.addUsername)
		r.Post("/nickname", s.updateNickName)
	})

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	marks, err := s.plays.Watermarks(ctx)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	game, player, err := s.stats.Current(ctx)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{
		WorkerRunning: s.sync.IsRunning(),
		Newest:        domain.FormatDate(marks.Newest),
		Oldest:        marks.Oldest.String(),
		GameHIndex:    game.String(),
		PlayerHIndex:  player.String(),
		LastReport:    s.sync.LastReport(),
	})
}

func (s *Server) runSync(w http.ResponseWriter, r *http.Request) {
	report, err := s.sync.RunOnce(r.Context())
	if err != nil && report == nil {
		s.writeError(w, r, err)
		return
	}
	if err != nil {
		// the report carries the per-stage errors
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("sync cycle finished with errors")
		writeJSON(w, statusFor(err), report)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) runDownload(w http.ResponseWriter, r *http.Request) {
	result, err := s.download.Run(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) runUpload(w http.ResponseWriter, r *http.Request) {
	result, err := s.upload.Run(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// reset forces a full re-download; with wipe=true local plays are deleted too.
func (s *Server) reset(w http.ResponseWriter, r *http.Request) {
	var err error
	if r.URL.Query().Get("wipe") == "true" {
		err = s.plays.DeletePlays(r.Context())
	} else {
		err = s.plays.ResetPlays(r.Context())
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) quickPlay(w http.ResponseWriter, r *http.Request) {
	var req quickPlayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	play, err := s.plays.LogQuickPlay(r.Context(), req.GameID, req.GameName)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newPlayResponse(play))
}

func (s *Server) createPlay(w http.ResponseWriter, r *http.Request) {
	s.savePlay(w, r, "", http.StatusCreated)
}

func (s *Server) updatePlay(w http.ResponseWriter, r *http.Request) {
	s.savePlay(w, r, chi.URLParam(r, "localID"), http.StatusOK)
}

func (s *Server) savePlay(w http.ResponseWriter, r *http.Request, localID string, status int) {
	var req playRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	play, err := req.toPlay(localID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.plays.Save(r.Context(), play); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, status, newPlayResponse(play))
}

func (s *Server) renameLocation(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	n, err := s.plays.RenameLocation(r.Context(), req.From, req.To)
	s.writeEdit(w, r, n, err)
}

func (s *Server) renamePlayer(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	n, err := s.plays.RenamePlayer(r.Context(), req.From, req.To)
	s.writeEdit(w, r, n, err)
}

func (s *Server) addUsername(w http.ResponseWriter, r *http.Request) {
	var req linkUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	n, err := s.plays.AddUsernameToPlayer(r.Context(), req.Name, req.Username)
	s.writeEdit(w, r, n, err)
}

func (s *Server) updateNickName(w http.ResponseWriter, r *http.Request) {
	var req nickNameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	n, err := s.plays.UpdatePlaysWithNickName(r.Context(), req.Username, req.NickName)
	s.writeEdit(w, r, n, err)
}

func (s *Server) writeEdit(w http.ResponseWriter, r *http.Request, n int, err error) {
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, editResponse{Plays: n})
}

func newPlayResponse(play *domain.Play) playResponse {
	return playResponse{
		LocalID:  play.LocalID,
		PlayID:   play.PlayID,
		Date:     play.DateString(),
		GameID:   play.GameID,
		GameName: play.GameName,
		Quantity: play.Quantity,
	}
}

func (s *Server) deletePlay(w http.ResponseWriter, r *http.Request) {
	localID := chi.URLParam(r, "localID")
	if err := s.plays.MarkAsDeleted(r.Context(), localID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func statusFor(err error) int {
	switch {
	case domain.IsAuthError(err):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrSyncInProgress):
		return http.StatusConflict
	case errors.Is(err, domain.ErrPlayNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidPlay), errors.Is(err, domain.ErrMissingUsername):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	switch status {
	case http.StatusUnauthorized:
		msg = "authentication with the remote service failed, sign in again and update the auth cookie"
	case http.StatusConflict:
		msg = "a sync of this kind is already running"
	case http.StatusInternalServerError:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("request failed")
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
