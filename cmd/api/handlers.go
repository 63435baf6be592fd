package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/apperrors"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/logging"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/middleware"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/pipeline"
	"github.com/therealutkarshpriyadarshi/captionforge/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

// VideoService is the pipeline surface the HTTP layer drives
type VideoService interface {
	Upload(ctx context.Context, userID string, req pipeline.UploadRequest) (*models.Video, error)
	GenerateSubtitles(ctx context.Context, userID, videoID string, opts pipeline.GenerateOptions) (*pipeline.GenerateResult, error)
	RequestDubbing(ctx context.Context, userID, videoID, targetLang string) (*pipeline.DubbingResult, error)
	DubbingStatus(ctx context.Context, userID, videoID, dubbingID string) (*pipeline.DubbingResult, error)
	BurnSubtitles(ctx context.Context, userID, videoID string, req pipeline.BurnRequest) (*pipeline.BurnResult, error)
	DeleteVideo(ctx context.Context, userID, videoID string) error
	GetVideo(ctx context.Context, userID, videoID string) (*pipeline.VideoView, error)
	ListVideos(ctx context.Context, userID string, limit, offset int) ([]*models.Video, error)
	ListSubtitles(ctx context.Context, userID, videoID string) ([]*models.Subtitle, error)
	SubtitleFile(ctx context.Context, userID, subtitleID, format string) (*pipeline.SubtitleFile, error)
}

// UserStore holds accounts and their usage audit trail
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	ListCharges(ctx context.Context, userID string, limit int) ([]*models.UsageCharge, error)
}

// HealthChecker reports whether a backing service is reachable
type HealthChecker interface {
	Health(ctx context.Context) error
}

type API struct {
	videos         VideoService
	users          UserStore
	health         HealthChecker
	logger         *logging.Logger
	costPerMinute  decimal.Decimal
	defaultAllowed decimal.Decimal
	tokenTTL       time.Duration
	maxUploadBytes int64
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
	// multipartOverhead covers form boundaries and fields around the file part
	multipartOverhead = 1 << 20
)

// respondError writes err as a typed JSON error. Untyped errors are logged and
// reported as internal failures.
func (api *API) respondError(c *gin.Context, err error) {
	if appErr, ok := apperrors.As(err); ok {
		c.JSON(appErr.HTTPStatus(), appErr)
		return
	}
	api.logger.WithRequestID(c.GetString(middleware.RequestIDContextKey)).
		ErrorWithErr("Unhandled request error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"kind": "internal", "error": "internal server error"})
}

func currentUser(c *gin.Context) string {
	userID, _ := middleware.GetUserID(c)
	return userID
}

// Health check endpoint
func (api *API) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := api.health.Health(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

type credentials struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

type tokenResponse struct {
	Token     string       `json:"token"`
	ExpiresIn int64        `json:"expires_in"`
	User      *models.User `json:"user"`
}

func (api *API) register(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		api.respondError(c, apperrors.Validation("body", err.Error()))
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		api.respondError(c, err)
		return
	}

	user := &models.User{
		Email:          strings.ToLower(req.Email),
		PasswordHash:   string(hash),
		AllowedMinutes: api.defaultAllowed,
	}
	if err := api.users.CreateUser(c.Request.Context(), user); err != nil {
		if errors.Is(err, models.ErrAlreadyExists) {
			api.respondError(c, apperrors.Conflict("", "email is already registered"))
			return
		}
		api.respondError(c, apperrors.Storage("", err))
		return
	}

	api.respondToken(c, http.StatusCreated, user)
}

func (api *API) issueToken(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		api.respondError(c, apperrors.Validation("body", err.Error()))
		return
	}

	user, err := api.users.GetUserByEmail(c.Request.Context(), strings.ToLower(req.Email))
	if errors.Is(err, models.ErrNotFound) {
		api.respondError(c, apperrors.Unauthorized("invalid email or password"))
		return
	}
	if err != nil {
		api.respondError(c, apperrors.Storage("", err))
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		api.respondError(c, apperrors.Unauthorized("invalid email or password"))
		return
	}

	api.respondToken(c, http.StatusOK, user)
}

func (api *API) respondToken(c *gin.Context, status int, user *models.User) {
	token, err := middleware.GenerateToken(user.ID, user.Email, api.tokenTTL)
	if err != nil {
		api.respondError(c, err)
		return
	}
	c.JSON(status, tokenResponse{
		Token:     token,
		ExpiresIn: int64(api.tokenTTL.Seconds()),
		User:      user,
	})
}

type usageSummary struct {
	UserID           string          `json:"user_id"`
	Email            string          `json:"email"`
	MinutesConsumed  decimal.Decimal `json:"minutes_consumed"`
	FreeMinutesUsed  decimal.Decimal `json:"free_minutes_used"`
	AllowedMinutes   decimal.Decimal `json:"allowed_minutes"`
	MinutesRemaining decimal.Decimal `json:"minutes_remaining"`
	BilledMinutes    decimal.Decimal `json:"billed_minutes"`
	TotalCost        decimal.Decimal `json:"total_cost"`
	CostPerMinute    decimal.Decimal `json:"cost_per_minute"`
}

func (api *API) getUsage(c *gin.Context) {
	user, err := api.users.GetUser(c.Request.Context(), currentUser(c))
	if errors.Is(err, models.ErrNotFound) {
		api.respondError(c, apperrors.NotFound("user not found"))
		return
	}
	if err != nil {
		api.respondError(c, apperrors.Storage("", err))
		return
	}

	c.JSON(http.StatusOK, usageSummary{
		UserID:           user.ID,
		Email:            user.Email,
		MinutesConsumed:  user.MinutesConsumed,
		FreeMinutesUsed:  user.FreeMinutesUsed,
		AllowedMinutes:   user.AllowedMinutes,
		MinutesRemaining: user.FreeMinutesRemaining(),
		BilledMinutes:    user.BilledMinutes(),
		TotalCost:        user.TotalCost,
		CostPerMinute:    api.costPerMinute,
	})
}

func (api *API) listCharges(c *gin.Context) {
	limit, _, err := pagination(c)
	if err != nil {
		api.respondError(c, err)
		return
	}

	charges, err := api.users.ListCharges(c.Request.Context(), currentUser(c), limit)
	if err != nil {
		api.respondError(c, apperrors.Storage("", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"charges": charges, "count": len(charges)})
}

// pagination reads limit and offset query parameters
func pagination(c *gin.Context) (limit, offset int, err error) {
	limit, offset = defaultPageSize, 0
	if raw := c.Query("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit <= 0 {
			return 0, 0, apperrors.Validation("limit", "limit must be a positive integer")
		}
		if limit > maxPageSize {
			limit = maxPageSize
		}
	}
	if raw := c.Query("offset"); raw != "" {
		if offset, err = strconv.Atoi(raw); err != nil || offset < 0 {
			return 0, 0, apperrors.Validation("offset", "offset must be a non-negative integer")
		}
	}
	return limit, offset, nil
}

// Upload video endpoint
func (api *API) uploadVideo(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, api.maxUploadBytes+multipartOverhead)

	file, header, err := c.Request.FormFile("video")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.respondError(c, apperrors.Validation("file", "file exceeds the upload size limit"))
			return
		}
		api.respondError(c, apperrors.Validation("file", "no video file provided"))
		return
	}
	defer file.Close()

	video, err := api.videos.Upload(c.Request.Context(), currentUser(c), pipeline.UploadRequest{
		Filename: header.Filename,
		Size:     header.Size,
		Body:     file,
		Language: c.PostForm("language"),
	})
	if err != nil {
		api.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, video)
}

func (api *API) listVideos(c *gin.Context) {
	limit, offset, err := pagination(c)
	if err != nil {
		api.respondError(c, err)
		return
	}

	videos, err := api.videos.ListVideos(c.Request.Context(), currentUser(c), limit, offset)
	if err != nil {
		api.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"videos": videos,
		"count":  len(videos),
		"limit":  limit,
		"offset": offset,
	})
}

func (api *API) getVideo(c *gin.Context) {
	view, err := api.videos.GetVideo(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		api.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (api *API) deleteVideo(c *gin.Context) {
	if err := api.videos.DeleteVideo(c.Request.Context(), currentUser(c), c.Param("id")); err != nil {
		api.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "video deleted"})
}

// bindOptional decodes a JSON body when one was sent. Unknown keys are
// rejected so a misspelt option never falls back to its default.
func bindOptional(c *gin.Context, dest interface{}) error {
	if c.Request.ContentLength == 0 {
		return nil
	}

	dec := json.NewDecoder(c.Request.Body)
	dec.DisallowUnknownFields()
	err := dec.Decode(dest)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}

	if name, ok := strings.CutPrefix(err.Error(), "json: unknown field "); ok {
		name = strings.Trim(name, `"`)
		return apperrors.Validation(name, "unknown option "+strconv.Quote(name))
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return apperrors.Validation(typeErr.Field, "must be a "+typeErr.Type.String())
	}
	return apperrors.Validation("body", "invalid JSON body")
}

func (api *API) generateSubtitles(c *gin.Context) {
	var opts pipeline.GenerateOptions
	if err := bindOptional(c, &opts); err != nil {
		api.respondError(c, err)
		return
	}

	result, err := api.videos.GenerateSubtitles(c.Request.Context(), currentUser(c), c.Param("id"), opts)
	if err != nil {
		api.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (api *API) listSubtitles(c *gin.Context) {
	subtitles, err := api.videos.ListSubtitles(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		api.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subtitles": subtitles, "count": len(subtitles)})
}

func (api *API) downloadSubtitle(c *gin.Context) {
	file, err := api.videos.SubtitleFile(c.Request.Context(), currentUser(c), c.Param("id"), c.Query("format"))
	if err != nil {
		api.respondError(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+file.Filename+`"`)
	c.Data(http.StatusOK, file.ContentType, []byte(file.Body))
}

type dubbingRequest struct {
	TargetLanguage string `json:"target_language"`
}

func (api *API) requestDubbing(c *gin.Context) {
	var req dubbingRequest
	if err := bindOptional(c, &req); err != nil {
		api.respondError(c, err)
		return
	}

	result, err := api.videos.RequestDubbing(c.Request.Context(), currentUser(c), c.Param("id"), req.TargetLanguage)
	if err != nil {
		api.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, result)
}

func (api *API) dubbingStatus(c *gin.Context) {
	result, err := api.videos.DubbingStatus(c.Request.Context(), currentUser(c), c.Param("id"), c.Param("dubbing_id"))
	if err != nil {
		api.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (api *API) burnSubtitles(c *gin.Context) {
	var req pipeline.BurnRequest
	if err := bindOptional(c, &req); err != nil {
		api.respondError(c, err)
		return
	}
	api.burn(c, req)
}

type rerenderRequest struct {
	Language string `json:"language,omitempty"`
	Audio    string `json:"audio,omitempty"`
}

// rerender burns again from the render spec stored on the video
func (api *API) rerender(c *gin.Context) {
	var req rerenderRequest
	if err := bindOptional(c, &req); err != nil {
		api.respondError(c, err)
		return
	}
	api.burn(c, pipeline.BurnRequest{Language: req.Language, Audio: req.Audio})
}

func (api *API) burn(c *gin.Context, req pipeline.BurnRequest) {
	result, err := api.videos.BurnSubtitles(c.Request.Context(), currentUser(c), c.Param("id"), req)
	if err != nil {
		api.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
