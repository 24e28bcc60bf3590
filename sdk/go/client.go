package daylinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Dayline HTTP API client.
type Client struct {
	BaseURL     string
	UserID      string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, userID string) *Client {
	return &Client{
		BaseURL: baseURL,
		UserID:  userID,
		Timeout: 10 * time.Second,
	}
}

// ProgramState mirrors the API state model.
type ProgramState struct {
	ActiveDay            int  `json:"active_day"`
	ViewingDay           int  `json:"viewing_day"`
	FurthestUnlockedDay  int  `json:"furthest_unlocked_day"`
	ManualNavigation     bool `json:"manual_navigation"`
	ProgramDays          int  `json:"program_days"`
	ProgramComplete      bool `json:"program_complete"`
	ActiveDayResolved    bool `json:"active_day_resolved"`
	DistinctProgressDays int  `json:"distinct_progress_days"`
}

// TaskStatus is one task's outcome within a day.
type TaskStatus struct {
	TaskID     string  `json:"task_id"`
	Name       string  `json:"name"`
	Category   string  `json:"category"`
	Completed  bool    `json:"completed"`
	Skipped    bool    `json:"skipped"`
	SkipReason *string `json:"skip_reason,omitempty"`
}

// DayView is one program day with its recorded outcomes.
type DayView struct {
	Day           int          `json:"day"`
	Tasks         []TaskStatus `json:"tasks"`
	Completed     int          `json:"completed"`
	Skipped       int          `json:"skipped"`
	Remaining     int          `json:"remaining"`
	FullyResolved bool         `json:"fully_resolved"`
	IsActive      bool         `json:"is_active"`
}

// State pairs the program state with the viewing day.
type State struct {
	State ProgramState `json:"state"`
	Day   DayView      `json:"day"`
}

// Achievement mirrors a catalog definition.
type Achievement struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Tier     int    `json:"tier"`
}

// Outcome is returned from complete/skip calls.
type Outcome struct {
	State         ProgramState  `json:"state"`
	Day           DayView       `json:"day"`
	NewlyUnlocked []Achievement `json:"newly_unlocked,omitempty"`
}

// NavigateResult reports whether the viewing day moved.
type NavigateResult struct {
	State ProgramState `json:"state"`
	Moved bool         `json:"moved"`
}

// RequirementProgress reports progress toward one requirement.
type RequirementProgress struct {
	TaskID      string `json:"task_id"`
	Target      int    `json:"target"`
	Current     int    `json:"current"`
	Consecutive bool   `json:"consecutive,omitempty"`
	Met         bool   `json:"met"`
}

// AchievementStatus pairs a definition with the user's standing.
type AchievementStatus struct {
	Definition   Achievement           `json:"definition"`
	Unlocked     bool                  `json:"unlocked"`
	UnlockedAt   string                `json:"unlocked_at,omitempty"`
	Requirements []RequirementProgress `json:"requirements"`
}

// Profile represents the created user profile.
type Profile struct {
	UserID     string `json:"user_id"`
	Variant    string `json:"variant"`
	StartDate  string `json:"start_date"`
	CurrentDay int    `json:"current_day"`
	CreatedAt  string `json:"created_at"`
}

// Event represents a log entry.
type Event struct {
	ID      int64  `json:"id"`
	TS      string `json:"ts"`
	Type    string `json:"type"`
	UserID  string `json:"user_id,omitempty"`
	TaskID  string `json:"task_id,omitempty"`
	Day     int    `json:"day,omitempty"`
	Payload string `json:"payload_json"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateUser starts a program for a new user.
func (c *Client) CreateUser(ctx context.Context, userID, variant string) (Profile, error) {
	body := map[string]any{
		"user_id": userID,
		"variant": variant,
	}
	var resp Profile
	err := c.do(ctx, http.MethodPost, "v0/users", body, &resp)
	return resp, err
}

// State returns the program state and viewing day.
func (c *Client) State(ctx context.Context) (State, error) {
	var resp State
	err := c.do(ctx, http.MethodGet, c.userPath("state"), nil, &resp)
	return resp, err
}

// Day returns a specific unlocked day.
func (c *Client) Day(ctx context.Context, day int) (DayView, error) {
	var resp DayView
	err := c.do(ctx, http.MethodGet, c.userPath(fmt.Sprintf("days/%d", day)), nil, &resp)
	return resp, err
}

// CompleteTask records a completion on the active day.
func (c *Client) CompleteTask(ctx context.Context, taskID string) (Outcome, error) {
	var resp Outcome
	endpoint := c.userPath(fmt.Sprintf("tasks/%s/complete", url.PathEscape(taskID)))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{}, &resp)
	return resp, err
}

// SkipTask records a skip on the active day.
func (c *Client) SkipTask(ctx context.Context, taskID, reason string) (Outcome, error) {
	body := map[string]any{}
	if reason != "" {
		body["reason"] = reason
	}
	var resp Outcome
	endpoint := c.userPath(fmt.Sprintf("tasks/%s/skip", url.PathEscape(taskID)))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// NavigateToDay sets the viewing day.
func (c *Client) NavigateToDay(ctx context.Context, day int) (NavigateResult, error) {
	var resp NavigateResult
	err := c.do(ctx, http.MethodPost, c.userPath("navigate"), map[string]any{"day": day}, &resp)
	return resp, err
}

// Navigate moves the viewing day by direction: previous, next, or today.
func (c *Client) Navigate(ctx context.Context, direction string) (NavigateResult, error) {
	var resp NavigateResult
	err := c.do(ctx, http.MethodPost, c.userPath("navigate"), map[string]any{"direction": direction}, &resp)
	return resp, err
}

// Achievements returns all achievements with unlock status and progress.
func (c *Client) Achievements(ctx context.Context) ([]AchievementStatus, error) {
	var resp struct {
		Achievements []AchievementStatus `json:"achievements"`
	}
	err := c.do(ctx, http.MethodGet, c.userPath("achievements"), nil, &resp)
	return resp.Achievements, err
}

// Events returns recent events, newest first.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := c.userPath("events")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp struct {
		Events []Event `json:"events"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Events, err
}

// Reset wipes all progress for the user.
func (c *Client) Reset(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, c.userPath("reset"), map[string]any{}, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) userPath(p string) string {
	user := url.PathEscape(c.UserID)
	return fmt.Sprintf("v0/users/%s/%s", user, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
