package controllers

import (
	"time"

	"github.com/datallboy/serenity/internal/domain"
)

type SoundResponse struct {
	Name        string  `json:"name"`
	Location    string  `json:"location"`
	Filename    string  `json:"filename"`
	Progress    float64 `json:"progress"`
	Downloading bool    `json:"downloading"`
}

type ReadyResponse struct {
	Filename string `json:"filename"`
	Ready    bool   `json:"ready"`
}

type TaskStartedResponse struct {
	ID       string `json:"id,omitempty"`
	Filename string `json:"filename,omitempty"`
}

type SelectedRequest struct {
	Filename string `json:"filename"`
}

type SelectedResponse struct {
	Filename string `json:"filename"`
}

type TaskResponse struct {
	ID               string    `json:"id"`
	Kind             string    `json:"kind"`
	Filename         string    `json:"filename,omitempty"`
	Status           string    `json:"status"`
	Attempts         int       `json:"attempts"`
	BytesTransferred int64     `json:"bytes_transferred"`
	Error            string    `json:"error,omitempty"`
	FinishedAt       time.Time `json:"finished_at"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func toTaskResponse(rec *domain.TaskRecord) TaskResponse {
	return TaskResponse{
		ID:               rec.ID,
		Kind:             string(rec.Kind),
		Filename:         rec.Filename,
		Status:           string(rec.Status),
		Attempts:         rec.Attempts,
		BytesTransferred: rec.BytesTransferred,
		Error:            rec.Error,
		FinishedAt:       rec.FinishedAt,
	}
}
