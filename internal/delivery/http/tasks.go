package http

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"golang-taskrunner/internal/dto"
	"golang-taskrunner/internal/model"
)

func (h *HttpAPIHandler) SetupTasks(base *echo.Group) {
	v1 := base.Group("/v1/tasks")
	{
		v1.GET("/running", h.RunningTasks)
		v1.GET("/:id/completion", h.TaskCompletion)
		v1.POST("/:id/cancel", h.CancelTask)
	}
}

func (h *HttpAPIHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, dto.NewSuccessResponse("ok", nil))
}

func (h *HttpAPIHandler) RunningTasks(c echo.Context) error {
	ids := h.service.Orchestrator.RunningIDs()
	response := dto.NewSuccessResponse("Running tasks", dto.RunningTasksResponse{
		Count: len(ids),
		IDs:   ids,
	})
	return c.JSON(response.Code, response)
}

func (h *HttpAPIHandler) TaskCompletion(c echo.Context) error {
	id, err := parseTaskID(c)
	if err != nil {
		response := dto.NewBadRequestResponse("invalid task id")
		return c.JSON(response.Code, response)
	}

	record, found := h.service.Orchestrator.Completion(id)
	if !found {
		response := dto.NewNotFoundResponse("no completion recorded for task")
		return c.JSON(response.Code, response)
	}

	response := dto.NewSuccessResponse("Task completion", dto.NewTaskCompletionResponse(record))
	return c.JSON(response.Code, response)
}

func (h *HttpAPIHandler) CancelTask(c echo.Context) error {
	id, err := parseTaskID(c)
	if err != nil {
		response := dto.NewBadRequestResponse("invalid task id")
		return c.JSON(response.Code, response)
	}

	result := h.service.Orchestrator.Cancel(id)
	if !result.Found {
		response := dto.NewNotFoundResponse("task is not running")
		return c.JSON(response.Code, response)
	}

	response := dto.NewSuccessResponse("Task cancel requested", dto.CancelTaskResponse{
		ID:     id,
		Killed: result.Killed,
		Status: result.Status,
	})
	return c.JSON(response.Code, response)
}

func parseTaskID(c echo.Context) (model.TaskID, error) {
	raw, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, err
	}
	return model.TaskID(raw), nil
}
