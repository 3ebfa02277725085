package controllers

import "github.com/datallboy/mediagrab/internal/domain"

type ErrorResponse struct {
	Error string `json:"error"`
}

type JobList struct {
	Jobs []*domain.JobRecord `json:"jobs"`
}
