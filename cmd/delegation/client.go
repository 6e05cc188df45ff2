package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/taskmesh/delegation/internal/assignment"
	"github.com/taskmesh/delegation/internal/engine"
	"github.com/taskmesh/delegation/internal/worker"
)

// client is a thin HTTP client for the delegation server's JSON API.
type client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func newClient(baseURL, apiKey string) *client {
	return &client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    http.DefaultClient,
	}
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (c *client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil {
			return fmt.Errorf("server returned %s", resp.Status)
		}
		return &apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *client) registerWorker(ctx context.Context, req *worker.RegisterRequest) (*worker.Capability, error) {
	var out worker.Capability
	if err := c.do(ctx, http.MethodPost, "/api/workers", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) listWorkers(ctx context.Context, workerType, skill string, availableOnly bool) ([]*worker.Capability, error) {
	query := url.Values{}
	if workerType != "" {
		query.Set("type", workerType)
	}
	if skill != "" {
		query.Set("skill", skill)
	}
	if availableOnly {
		query.Set("available", "true")
	}
	var out struct {
		Workers []*worker.Capability `json:"workers"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/workers", query, nil, &out); err != nil {
		return nil, err
	}
	return out.Workers, nil
}

func (c *client) setWorkerDisabled(ctx context.Context, workerID string, disabled bool) (*worker.Capability, error) {
	action := "enable"
	if disabled {
		action = "disable"
	}
	var out worker.Capability
	if err := c.do(ctx, http.MethodPost, "/api/workers/"+workerID+"/"+action, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) delegate(ctx context.Context, taskID, workerID, effort string) (*assignment.Assignment, error) {
	req := map[string]string{
		"task_id":          taskID,
		"worker_id":        workerID,
		"estimated_effort": effort,
	}
	var out assignment.Assignment
	if err := c.do(ctx, http.MethodPost, "/api/assignments", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) accept(ctx context.Context, assignmentID string) (*assignment.Assignment, error) {
	var out assignment.Assignment
	if err := c.do(ctx, http.MethodPost, "/api/assignments/"+assignmentID+"/accept", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) complete(ctx context.Context, assignmentID, effort string) (*assignment.Assignment, error) {
	req := map[string]string{"actual_effort": effort}
	var out assignment.Assignment
	if err := c.do(ctx, http.MethodPost, "/api/assignments/"+assignmentID+"/complete", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) cancel(ctx context.Context, assignmentID string) (*assignment.Assignment, error) {
	var out assignment.Assignment
	if err := c.do(ctx, http.MethodPost, "/api/assignments/"+assignmentID+"/cancel", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) getAssignment(ctx context.Context, assignmentID string) (*assignment.Assignment, error) {
	var out assignment.Assignment
	if err := c.do(ctx, http.MethodGet, "/api/assignments/"+assignmentID, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) listAssignments(ctx context.Context, workerID, taskID, status string) ([]*assignment.Assignment, error) {
	query := url.Values{}
	if workerID != "" {
		query.Set("worker_id", workerID)
	}
	if taskID != "" {
		query.Set("task_id", taskID)
	}
	if status != "" {
		query.Set("status", status)
	}
	var out struct {
		Assignments []*assignment.Assignment `json:"assignments"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/assignments", query, nil, &out); err != nil {
		return nil, err
	}
	return out.Assignments, nil
}

func (c *client) suggest(ctx context.Context, workerType, skills string) ([]*engine.Suggestion, error) {
	query := url.Values{}
	if workerType != "" {
		query.Set("type", workerType)
	}
	if skills != "" {
		query.Set("skill", skills)
	}
	var out struct {
		Suggestions []*engine.Suggestion `json:"suggestions"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/workers/suggest", query, nil, &out); err != nil {
		return nil, err
	}
	return out.Suggestions, nil
}
