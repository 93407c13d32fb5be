package controllers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v5"

	"github.com/datallboy/serenity/internal/app"
	"github.com/datallboy/serenity/internal/domain"
)

type SoundsController struct {
	App *app.Context
}

// ListSounds returns the manifest in order, joined with live progress.
func (ctrl *SoundsController) ListSounds(c *echo.Context) error {
	m, err := ctrl.App.Engine.Manifest(c.Request().Context())
	if errors.Is(err, domain.ErrNotFound) {
		return c.JSON(http.StatusOK, []SoundResponse{})
	}
	if err != nil {
		return ctrl.fail(c, http.StatusInternalServerError, err)
	}

	snap := ctrl.App.Progress.Snapshot()
	running := ctrl.App.Engine.Running()

	out := make([]SoundResponse, 0, len(m.Sounds))
	for _, s := range m.Sounds {
		_, busy := running[s.Filename]
		out = append(out, SoundResponse{
			Name:        s.Name,
			Location:    s.Location,
			Filename:    s.Filename,
			Progress:    snap[s.Filename],
			Downloading: busy,
		})
	}
	return c.JSON(http.StatusOK, out)
}

func (ctrl *SoundsController) Progress(c *echo.Context) error {
	return c.JSON(http.StatusOK, ctrl.App.Progress.Snapshot())
}

func (ctrl *SoundsController) Ready(c *echo.Context) error {
	filename := c.Param("filename")
	if err := domain.ValidateFilename(filename); err != nil {
		return ctrl.fail(c, http.StatusBadRequest, err)
	}

	ok, err := ctrl.App.Engine.Ready(c.Request().Context(), filename)
	if err != nil {
		return ctrl.fail(c, http.StatusBadGateway, err)
	}
	return c.JSON(http.StatusOK, ReadyResponse{Filename: filename, Ready: ok})
}

// Sync starts a manifest fetch followed by every download in the background.
func (ctrl *SoundsController) Sync(c *echo.Context) error {
	if err := ctrl.App.Engine.SyncAsync(ctrl.App.Background); err != nil {
		if errors.Is(err, domain.ErrAlreadyRunning) {
			return ctrl.fail(c, http.StatusConflict, err)
		}
		return ctrl.fail(c, http.StatusInternalServerError, err)
	}
	return c.NoContent(http.StatusAccepted)
}

func (ctrl *SoundsController) Download(c *echo.Context) error {
	filename := c.Param("filename")
	if err := domain.ValidateFilename(filename); err != nil {
		return ctrl.fail(c, http.StatusBadRequest, err)
	}
	known, err := ctrl.known(c, filename)
	if err != nil {
		return ctrl.fail(c, http.StatusInternalServerError, err)
	}
	if !known {
		return ctrl.unknown(c, filename)
	}

	id, err := ctrl.App.Engine.DownloadAsync(ctrl.App.Background, filename)
	if errors.Is(err, domain.ErrAlreadyRunning) {
		return ctrl.fail(c, http.StatusConflict, err)
	}
	if err != nil {
		return ctrl.fail(c, http.StatusInternalServerError, err)
	}
	return c.JSON(http.StatusAccepted, TaskStartedResponse{ID: id, Filename: filename})
}

func (ctrl *SoundsController) GetSelected(c *echo.Context) error {
	v, _, err := ctrl.App.Settings.GetSetting(c.Request().Context(), domain.SettingSelectedSound)
	if err != nil {
		return ctrl.fail(c, http.StatusInternalServerError, err)
	}
	return c.JSON(http.StatusOK, SelectedResponse{Filename: v})
}

func (ctrl *SoundsController) PutSelected(c *echo.Context) error {
	var req SelectedRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return ctrl.fail(c, http.StatusBadRequest, err)
	}
	known, err := ctrl.known(c, req.Filename)
	if err != nil {
		return ctrl.fail(c, http.StatusInternalServerError, err)
	}
	if !known {
		return ctrl.unknown(c, req.Filename)
	}

	if err := ctrl.App.Settings.PutSetting(c.Request().Context(), domain.SettingSelectedSound, req.Filename); err != nil {
		return ctrl.fail(c, http.StatusInternalServerError, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (ctrl *SoundsController) ListTasks(c *echo.Context) error {
	limit := 50
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be a positive integer"})
		}
		limit = n
	}

	runs, err := ctrl.App.History.ListTaskRuns(c.Request().Context(), c.QueryParam("filename"), limit)
	if err != nil {
		return ctrl.fail(c, http.StatusInternalServerError, err)
	}

	out := make([]TaskResponse, 0, len(runs))
	for _, r := range runs {
		out = append(out, toTaskResponse(r))
	}
	return c.JSON(http.StatusOK, out)
}

// known reports whether filename is listed in the current manifest.
func (ctrl *SoundsController) known(c *echo.Context, filename string) (bool, error) {
	m, err := ctrl.App.Engine.Manifest(c.Request().Context())
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	_, ok := m.Lookup(filename)
	return ok, nil
}

func (ctrl *SoundsController) unknown(c *echo.Context, filename string) error {
	return c.JSON(http.StatusNotFound, ErrorResponse{Error: "unknown sound " + strconv.Quote(filename)})
}

func (ctrl *SoundsController) fail(c *echo.Context, code int, err error) error {
	if code >= http.StatusInternalServerError {
		ctrl.App.Logger.Error("%s %s: %v", c.Request().Method, c.Request().URL.Path, err)
	}
	return c.JSON(code, ErrorResponse{Error: err.Error()})
}
