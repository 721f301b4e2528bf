// Package crm implements the RD Station client behind the lead intake
// pipeline. Transient upstream failures (5xx, transport errors) are retried
// with exponential backoff; 4xx responses are terminal and surface at once.
//
// The client also carries a dry-run mode, on by default in configuration, so
// an unconfigured deployment logs the intended CRM writes instead of making
// them.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"

	"github.com/cenatlabs/go-sdr-whatsapp/internal/config"
)

// Client talks to an RD Station account over its REST API. All calls carry
// the account access token as a bearer credential.
type Client struct {
	baseURL     string
	accessToken string
	dryRun      bool
	http        *http.Client

	// retry tuning, overridable in tests
	retryInitial time.Duration
	retryMax     time.Duration
	maxTries     uint
}

// NewClient builds a Client from CRM configuration.
func NewClient(cfg config.CRMConfig) *Client {
	return &Client{
		baseURL:      cfg.BaseURL,
		accessToken:  cfg.AccessToken,
		dryRun:       cfg.DryRun,
		http:         &http.Client{Timeout: timeoutOrDefault(cfg.Timeout)},
		retryInitial: 500 * time.Millisecond,
		retryMax:     4 * time.Second,
		maxTries:     3,
	}
}

type stageRequest struct {
	Stage string `json:"stage"`
}

type tagsRequest struct {
	Email string   `json:"email"`
	Tags  []string `json:"tags"`
}

type taskRequest struct {
	Title   string `json:"title"`
	DueDate string `json:"due_date"`
	Owner   string `json:"owner,omitempty"`
}

type noteRequest struct {
	Note string `json:"note"`
}

// UpdateStage moves a deal to the given pipeline stage.
func (c *Client) UpdateStage(ctx context.Context, dealID, stage string) error {
	if dealID == "" || stage == "" {
		return errors.New("crm: deal id and stage are required")
	}
	return c.do(ctx, http.MethodPut, "/crm/deals/"+dealID+"/stage", stageRequest{Stage: stage})
}

// AddTags tags the contact identified by email.
func (c *Client) AddTags(ctx context.Context, email string, tags []string) error {
	if email == "" || len(tags) == 0 {
		return errors.New("crm: email and at least one tag are required")
	}
	return c.do(ctx, http.MethodPost, "/platform/contacts/tags", tagsRequest{Email: email, Tags: tags})
}

// CreateTask attaches a follow-up task to a deal. dueDate is a plain
// YYYY-MM-DD date; owner is optional.
func (c *Client) CreateTask(ctx context.Context, dealID, title, dueDate, owner string) error {
	if dealID == "" || title == "" || dueDate == "" {
		return errors.New("crm: deal id, title and due date are required")
	}
	return c.do(ctx, http.MethodPost, "/crm/deals/"+dealID+"/tasks", taskRequest{Title: title, DueDate: dueDate, Owner: owner})
}

// AddNote attaches a free-form note to a deal.
func (c *Client) AddNote(ctx context.Context, dealID, note string) error {
	if dealID == "" || note == "" {
		return errors.New("crm: deal id and note are required")
	}
	return c.do(ctx, http.MethodPost, "/crm/deals/"+dealID+"/notes", noteRequest{Note: note})
}

// do performs one JSON request with retries. 5xx and transport errors are
// retried up to maxTries with exponential backoff; 4xx never retries, so a
// bad payload cannot hammer the CRM.
func (c *Client) do(ctx context.Context, method, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("crm: encode request: %w", err)
	}

	op := func() (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return struct{}{}, backoff.Permanent(fmt.Errorf("crm: build request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return struct{}{}, fmt.Errorf("crm: %s %s: %w", method, path, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return struct{}{}, nil
		}
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		reqErr := fmt.Errorf("crm: %s %s status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(snippet))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return struct{}{}, backoff.Permanent(reqErr)
		}
		return struct{}{}, reqErr
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retryInitial
	bo.MaxInterval = c.retryMax

	_, err = backoff.Retry(ctx, op,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(c.maxTries),
	)
	return err
}

// Task describes a follow-up task to create on a deal.
type Task struct {
	Title   string
	DueDate string
	Owner   string
}

// Actions is the set of CRM writes one lead produces. Zero values mean
// "skip that operation".
type Actions struct {
	Stage string
	Tags  []string
	Note  string
	Task  *Task
}

// Target identifies where the actions land: tags key on the contact email,
// stage/note/task need an existing deal.
type Target struct {
	DealID string
	Email  string
}

// Outcome reports one operation's result.
type Outcome struct {
	Applied bool   `json:"applied"`
	Err     string `json:"err,omitempty"`
}

// Results summarizes an Apply call, one outcome per operation.
type Results struct {
	DryRun bool    `json:"dry_run"`
	Stage  Outcome `json:"stage"`
	Tags   Outcome `json:"tags"`
	Note   Outcome `json:"note"`
	Task   Outcome `json:"task"`
}

// Apply executes the action set, tolerating partial failure: each operation
// gets its own outcome and a failed one never blocks the rest. Deal-scoped
// operations are skipped when the target has no deal id. In dry-run mode
// nothing is sent; every operation that would have run reports applied.
func (c *Client) Apply(ctx context.Context, target Target, a Actions) Results {
	res := Results{DryRun: c.dryRun}

	wantTags := len(a.Tags) > 0 && target.Email != ""
	wantStage := a.Stage != "" && target.DealID != ""
	wantNote := a.Note != "" && target.DealID != ""
	wantTask := a.Task != nil && target.DealID != ""

	if c.dryRun {
		log.Info().
			Str("stage", a.Stage).
			Strs("tags", a.Tags).
			Bool("note", a.Note != "").
			Bool("task", a.Task != nil).
			Str("deal_id", target.DealID).
			Msg("crm dry-run, skipping writes")
		res.Stage = Outcome{Applied: wantStage}
		res.Tags = Outcome{Applied: wantTags}
		res.Note = Outcome{Applied: wantNote}
		res.Task = Outcome{Applied: wantTask}
		return res
	}

	if wantTags {
		res.Tags = outcomeOf(c.AddTags(ctx, target.Email, a.Tags))
	}
	if wantStage {
		res.Stage = outcomeOf(c.UpdateStage(ctx, target.DealID, a.Stage))
	}
	if wantTask {
		res.Task = outcomeOf(c.CreateTask(ctx, target.DealID, a.Task.Title, a.Task.DueDate, a.Task.Owner))
	}
	if wantNote {
		res.Note = outcomeOf(c.AddNote(ctx, target.DealID, a.Note))
	}
	return res
}

func outcomeOf(err error) Outcome {
	if err != nil {
		return Outcome{Err: err.Error()}
	}
	return Outcome{Applied: true}
}

func timeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return 15 * time.Second
	}
	return d
}
