package controllers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/datallboy/mediagrab/internal/app"
	"github.com/datallboy/mediagrab/internal/domain"
	"github.com/datallboy/mediagrab/internal/job"
	"github.com/datallboy/mediagrab/internal/store"
	"github.com/labstack/echo/v5"
)

type JobsController struct {
	App *app.Context
}

// HandleList returns the most recent jobs from history
func (ctrl *JobsController) HandleList(c *echo.Context) error {
	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be a positive integer"})
		}
		limit = n
	}

	jobs, err := ctrl.App.Jobs.List(c.Request().Context(), limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
	}
	if jobs == nil {
		jobs = []*domain.JobRecord{}
	}
	return c.JSON(http.StatusOK, JobList{Jobs: jobs})
}

func (ctrl *JobsController) HandleGet(c *echo.Context) error {
	rec, err := ctrl.App.Jobs.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			return c.JSON(http.StatusNotFound, ErrorResponse{Error: "job not found"})
		}
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, rec)
}

func (ctrl *JobsController) HandleActive(c *echo.Context) error {
	rec, ok := ctrl.App.Jobs.Active()
	if !ok {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, rec)
}

// HandleCreate queues the posted task
func (ctrl *JobsController) HandleCreate(c *echo.Context) error {
	var task domain.Task
	if err := c.Bind(&task); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid task: " + err.Error()})
	}

	rec, err := ctrl.App.Jobs.Add(task)
	if err != nil {
		if errors.Is(err, job.ErrNothingToDownload) || task.URL == "" {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		}
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusAccepted, rec)
}

func (ctrl *JobsController) HandleCancel(c *echo.Context) error {
	if !ctrl.App.Jobs.Cancel(c.Param("id")) {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "job is not queued or running"})
	}
	return c.NoContent(http.StatusNoContent)
}
