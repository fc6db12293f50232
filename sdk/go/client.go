package ideaflowsdk

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

// Client is a minimal Ideaflow HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults. baseURL includes the API base
// path, e.g. http://127.0.0.1:3001/api.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// User is the authenticated account.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	Name     string `json:"name"`
	Email    string `json:"email,omitempty"`
}

// Idea is what a submitter proposes.
type Idea struct {
	Title                   string   `json:"title,omitempty"`
	IdeaDescription         string   `json:"ideaDescription"`
	BusinessObjective       string   `json:"businessObjective"`
	BusinessValue           *float64 `json:"businessValue,omitempty"`
	MonetaryValue           *float64 `json:"monetaryValue,omitempty"`
	PrincipalFeatures       string   `json:"principalFeatures,omitempty"`
	PersonsAffected         string   `json:"personsAffected,omitempty"`
	BusinessAreasAffected   string   `json:"businessAreasAffected,omitempty"`
	PlatformClientsImpacted []string `json:"platformClientsImpacted,omitempty"`
}

// Analysis is the scored assessment of an idea.
type Analysis struct {
	StatementOfWork            string `json:"statementOfWork"`
	BusinessValueScore         int    `json:"businessValueScore"`
	BusinessValueJustification string `json:"businessValueJustification"`
	CostSaving                 bool   `json:"costSaving"`
	UserProvidedScore          bool   `json:"userProvidedScore"`
	Source                     string `json:"source,omitempty"`
}

// Initiative represents the API initiative model.
type Initiative struct {
	ID              string   `json:"id"`
	Status          string   `json:"status"`
	SubmittedBy     string   `json:"submittedBy"`
	SubmittedAt     string   `json:"submittedAt"`
	Idea            Idea     `json:"idea"`
	AIAnalysis      Analysis `json:"aiAnalysis"`
	ApprovedBy      *string  `json:"approvedBy,omitempty"`
	ApprovedAt      *string  `json:"approvedAt,omitempty"`
	ApprovalReason  *string  `json:"approvalReason,omitempty"`
	ADOWorkItemID   *int64   `json:"adoWorkItemId,omitempty"`
	RejectedBy      *string  `json:"rejectedBy,omitempty"`
	RejectedAt      *string  `json:"rejectedAt,omitempty"`
	RejectionReason *string  `json:"rejectionReason,omitempty"`
}

// Event is one lifecycle entry of an initiative.
type Event struct {
	ID           int64  `json:"id"`
	TS           string `json:"ts"`
	Type         string `json:"type"`
	InitiativeID string `json:"initiativeId"`
	Actor        string `json:"actor"`
	Payload      string `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Login authenticates and stores the bearer token on the client.
func (c *Client) Login(ctx context.Context, username, password string) (User, error) {
	var resp struct {
		Token string `json:"token"`
		User  User   `json:"user"`
	}
	body := map[string]string{"username": username, "password": password}
	if err := c.do(ctx, http.MethodPost, "login", body, &resp); err != nil {
		return User{}, err
	}
	c.BearerToken = resp.Token
	return resp.User, nil
}

// Logout revokes the current token.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, "logout", nil, nil); err != nil {
		return err
	}
	c.BearerToken = ""
	return nil
}

// Me returns the authenticated user.
func (c *Client) Me(ctx context.Context) (User, error) {
	var resp struct {
		User User `json:"user"`
	}
	err := c.do(ctx, http.MethodGet, "me", nil, &resp)
	return resp.User, err
}

// Analyze scores an idea without storing it.
func (c *Client) Analyze(ctx context.Context, idea Idea) (Analysis, error) {
	var resp Analysis
	err := c.do(ctx, http.MethodPost, "analyze", idea, &resp)
	return resp, err
}

// Submit creates an initiative. A nil analysis is computed server-side.
func (c *Client) Submit(ctx context.Context, idea Idea, analysis *Analysis) (Initiative, error) {
	body := map[string]any{"idea": idea}
	if analysis != nil {
		body["aiAnalysis"] = analysis
	}
	var resp Initiative
	err := c.do(ctx, http.MethodPost, "initiatives", body, &resp)
	return resp, err
}

// List returns initiatives newest first. An empty status lists all.
func (c *Client) List(ctx context.Context, status string) ([]Initiative, error) {
	endpoint := "initiatives"
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp []Initiative
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Get fetches an initiative by id.
func (c *Client) Get(ctx context.Context, id string) (Initiative, error) {
	var resp Initiative
	err := c.do(ctx, http.MethodGet, initiativePath(id), nil, &resp)
	return resp, err
}

// Approve approves an initiative; reason is required.
func (c *Client) Approve(ctx context.Context, id, reason string) (Initiative, error) {
	return c.patch(ctx, id, map[string]any{"status": "approved", "approvalReason": reason})
}

// Reject rejects an initiative.
func (c *Client) Reject(ctx context.Context, id, reason string) (Initiative, error) {
	return c.patch(ctx, id, map[string]any{"status": "rejected", "rejectionReason": reason})
}

// Edit replaces the idea of the caller's own initiative.
func (c *Client) Edit(ctx context.Context, id string, idea Idea, analysis *Analysis) (Initiative, error) {
	body := map[string]any{"idea": idea}
	if analysis != nil {
		body["aiAnalysis"] = analysis
	}
	return c.patch(ctx, id, body)
}

// Delete removes an initiative and returns it.
func (c *Client) Delete(ctx context.Context, id string) (Initiative, error) {
	var resp struct {
		Initiative Initiative `json:"initiative"`
	}
	err := c.do(ctx, http.MethodDelete, initiativePath(id), nil, &resp)
	return resp.Initiative, err
}

// Events returns the lifecycle history of an initiative.
func (c *Client) Events(ctx context.Context, id string) ([]Event, error) {
	var resp []Event
	err := c.do(ctx, http.MethodGet, initiativePath(id)+"/events", nil, &resp)
	return resp, err
}

func (c *Client) patch(ctx context.Context, id string, body map[string]any) (Initiative, error) {
	var resp Initiative
	err := c.do(ctx, http.MethodPatch, initiativePath(id), body, &resp)
	return resp, err
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
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func initiativePath(id string) string {
	return "initiatives/" + url.PathEscape(id)
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
