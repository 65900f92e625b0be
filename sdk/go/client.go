package controltowersdk

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

// Client is a minimal Control Tower HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Session is the login response. Token is an opaque session token;
// JWT is a signed bearer usable by stateless callers.
type Session struct {
	Token     string `json:"token"`
	JWT       string `json:"jwt,omitempty"`
	LoginID   string `json:"login_id"`
	POCName   string `json:"poc_name"`
	Persona   string `json:"persona"`
	OrderID   string `json:"order_id,omitempty"`
	ExpiresAt string `json:"expires_at"`
}

// Order represents the API order model with derived health fields.
type Order struct {
	ID          string `json:"id"`
	ClientName  string `json:"client_name"`
	OrderType   string `json:"order_type"`
	Lifecycle   string `json:"lifecycle_stage"`
	OverallRAG  string `json:"overall_rag"`
	SLABreached bool   `json:"sla_breached"`
	OrderStatus string `json:"order_status"`
	StartDate   string `json:"start_date"`
	AgeingDays  int    `json:"ageing_days"`
	DerivedRAG  string `json:"derived_rag"`
	Milestone   string `json:"milestone"`
	RoutedTeam  string `json:"routed_team"`
}

// Ticket represents a support ticket.
type Ticket struct {
	ID               string `json:"id"`
	OrderID          string `json:"order_id"`
	CustomerName     string `json:"customer_name"`
	Lifecycle        string `json:"lifecycle_stage"`
	RoutedTeam       string `json:"routed_team"`
	Category         string `json:"category"`
	Description      string `json:"description"`
	Status           string `json:"status"`
	AssignedTo       string `json:"assigned_to,omitempty"`
	CustomerNotified bool   `json:"customer_notified"`
	RaisedAt         string `json:"raised_at"`
	StatusUpdatedAt  string `json:"status_updated_at"`
}

// Escalation represents an escalation record.
type Escalation struct {
	ID        string `json:"id"`
	OrderID   string `json:"order_id"`
	TaskID    string `json:"task_id"`
	Target    string `json:"target"`
	Reason    string `json:"reason"`
	RaisedBy  string `json:"raised_by"`
	CreatedAt string `json:"created_at"`
}

// Event represents an audit log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	OrderID    string `json:"order_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Login authenticates and stores the returned session token on the client.
func (c *Client) Login(ctx context.Context, loginID, password string) (Session, error) {
	body := map[string]any{
		"login_id": loginID,
		"password": password,
	}
	var resp Session
	if err := c.do(ctx, http.MethodPost, "v1/auth/login", body, &resp); err != nil {
		return Session{}, err
	}
	c.BearerToken = resp.Token
	return resp, nil
}

// Logout invalidates the current session token.
func (c *Client) Logout(ctx context.Context) error {
	err := c.do(ctx, http.MethodPost, "v1/auth/logout", map[string]any{}, nil)
	if err == nil {
		c.BearerToken = ""
	}
	return err
}

// Orders lists orders visible to the session, optionally filtered.
func (c *Client) Orders(ctx context.Context, filters url.Values) ([]Order, error) {
	endpoint := "v1/orders"
	if len(filters) > 0 {
		endpoint += "?" + filters.Encode()
	}
	var resp []Order
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Order fetches one order's deep-dive view into out, which should be a
// pointer to a struct matching the order detail shape the caller needs.
func (c *Client) Order(ctx context.Context, orderID string, out any) error {
	endpoint := "v1/orders/" + url.PathEscape(orderID)
	return c.do(ctx, http.MethodGet, endpoint, nil, out)
}

// SubmitTicket raises a support ticket against an order.
func (c *Client) SubmitTicket(ctx context.Context, orderID, category, description string) (Ticket, error) {
	body := map[string]any{
		"order_id":    orderID,
		"category":    category,
		"description": description,
	}
	var resp Ticket
	err := c.do(ctx, http.MethodPost, "v1/tickets", body, &resp)
	return resp, err
}

// Tickets lists tickets. Scope is one of "all", "mine", or "team".
func (c *Client) Tickets(ctx context.Context, scope string) ([]Ticket, error) {
	endpoint := "v1/tickets"
	if scope != "" {
		endpoint += "?scope=" + url.QueryEscape(scope)
	}
	var resp []Ticket
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// AcknowledgeTicket moves an open ticket to Acknowledged, claiming it
// for the calling engineer when it is unassigned.
func (c *Client) AcknowledgeTicket(ctx context.Context, ticketID string) (Ticket, error) {
	return c.transition(ctx, ticketID, "acknowledge")
}

// StartTicket moves an acknowledged ticket to In Progress.
func (c *Client) StartTicket(ctx context.Context, ticketID string) (Ticket, error) {
	return c.transition(ctx, ticketID, "start")
}

// ResolveTicket moves an in-progress ticket to Resolved.
func (c *Client) ResolveTicket(ctx context.Context, ticketID string) (Ticket, error) {
	return c.transition(ctx, ticketID, "resolve")
}

// ReassignTicket hands a ticket to another engineer on the caller's team.
func (c *Client) ReassignTicket(ctx context.Context, ticketID, assignee string) (Ticket, error) {
	body := map[string]any{"assignee": assignee}
	var resp Ticket
	endpoint := fmt.Sprintf("v1/tickets/%s/reassign", url.PathEscape(ticketID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// TriggerEscalation escalates an at-risk task on an order.
func (c *Client) TriggerEscalation(ctx context.Context, orderID, taskID, target, reason string) (Escalation, error) {
	body := map[string]any{
		"order_id": orderID,
		"task_id":  taskID,
		"target":   target,
		"reason":   reason,
	}
	var resp Escalation
	err := c.do(ctx, http.MethodPost, "v1/escalations", body, &resp)
	return resp, err
}

// Events tails the audit log.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v1/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) transition(ctx context.Context, ticketID, action string) (Ticket, error) {
	var resp Ticket
	endpoint := fmt.Sprintf("v1/tickets/%s/%s", url.PathEscape(ticketID), action)
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
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
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
