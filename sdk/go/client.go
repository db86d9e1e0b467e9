package santasdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is a minimal Secret Santa action API client.
// Participant calls use Password, admin calls use AdminPassword; a BearerToken
// from Login replaces either.
type Client struct {
	BaseURL       string
	Password      string
	AdminPassword string
	BearerToken   string
	Locale        string
	HTTPClient    *http.Client
	Timeout       time.Duration
}

// New creates a client with sane defaults. baseURL includes the API base path, e.g. http://host/api.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Status is the public event status.
type Status struct {
	IsDistributed    bool   `json:"isDistributed"`
	DistributionDate string `json:"distributionDate"`
	GiftDeadline     string `json:"giftDeadline"`
	ParticipantCount int    `json:"participantCount"`
	EventName        string `json:"eventName"`
	MaxGiftPrice     int    `json:"maxGiftPrice"`
	Currency         string `json:"currency"`
}

// Wish is a gift request.
type Wish struct {
	GiftRequest string `json:"gift_request"`
	GiftLink    string `json:"gift_link"`
}

// User is the caller's own view.
type User struct {
	Name         string `json:"name"`
	GiftRequest  string `json:"gift_request"`
	GiftLink     string `json:"gift_link"`
	AssignedTo   string `json:"assigned_to"`
	ReceivedFrom *Wish  `json:"received_from"`
}

// Recipient is the participant the caller gives a gift to.
type Recipient struct {
	Name        string `json:"name"`
	GiftRequest string `json:"gift_request"`
	GiftLink    string `json:"gift_link"`
}

// Credential is a participant login as listed for the admin.
type Credential struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

// Session is the result of Login.
type Session struct {
	IsAdmin bool
	Token   string
	User    *User
}

type response struct {
	Success      bool         `json:"success"`
	Message      string       `json:"message"`
	Code         string       `json:"code"`
	IsAdmin      bool         `json:"isAdmin"`
	Token        string       `json:"token"`
	User         *User        `json:"user"`
	Status       *Status      `json:"status"`
	Recipient    *Recipient   `json:"recipient"`
	Participants []Credential `json:"participants"`
	Password     string       `json:"password"`
}

// ActionError is a refused action: success=false with a stable code.
type ActionError struct {
	Code    string
	Message string
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Login authenticates password; when the server issues a token it is kept as BearerToken.
func (c *Client) Login(ctx context.Context, password string) (Session, error) {
	resp, err := c.action(ctx, map[string]any{"action": "login", "password": password})
	if err != nil {
		return Session{}, err
	}
	if resp.Token != "" {
		c.BearerToken = resp.Token
	}
	if resp.IsAdmin {
		c.AdminPassword = password
	} else {
		c.Password = password
	}
	return Session{IsAdmin: resp.IsAdmin, Token: resp.Token, User: resp.User}, nil
}

// Status returns the public event status.
func (c *Client) Status(ctx context.Context) (Status, error) {
	resp, err := c.action(ctx, map[string]any{"action": "getStatus"})
	if err != nil || resp.Status == nil {
		return Status{}, err
	}
	return *resp.Status, nil
}

// UserData returns the caller's own view.
func (c *Client) UserData(ctx context.Context) (User, error) {
	resp, err := c.action(ctx, c.userBody("getUserData"))
	if err != nil || resp.User == nil {
		return User{}, err
	}
	return *resp.User, nil
}

// Recipient returns whom the caller gives a gift to.
func (c *Client) Recipient(ctx context.Context) (Recipient, error) {
	resp, err := c.action(ctx, c.userBody("getRecipient"))
	if err != nil || resp.Recipient == nil {
		return Recipient{}, err
	}
	return *resp.Recipient, nil
}

// SubmitGift stores the caller's wish. It can only be done once.
func (c *Client) SubmitGift(ctx context.Context, text, link string) error {
	body := c.userBody("submitGift")
	body["text"] = text
	if link != "" {
		body["link"] = link
	}
	_, err := c.action(ctx, body)
	return err
}

// Participants lists every participant with their password (admin).
func (c *Client) Participants(ctx context.Context) ([]Credential, error) {
	resp, err := c.action(ctx, c.adminBody("getParticipants"))
	if err != nil {
		return nil, err
	}
	return resp.Participants, nil
}

// AddUser registers a participant (admin). An empty password asks the server to generate one.
func (c *Client) AddUser(ctx context.Context, name, password string) (Credential, error) {
	body := c.adminBody("addUser")
	body["name"] = name
	if password != "" {
		body["password"] = password
	}
	resp, err := c.action(ctx, body)
	if err != nil {
		return Credential{}, err
	}
	return Credential{Name: strings.TrimSpace(name), Password: resp.Password}, nil
}

// RunDistribution runs the draw (admin).
func (c *Client) RunDistribution(ctx context.Context) (Status, error) {
	resp, err := c.action(ctx, c.adminBody("runDistribution"))
	if err != nil {
		return Status{}, err
	}
	if resp.Status != nil {
		return *resp.Status, nil
	}
	return c.Status(ctx)
}

func (c *Client) userBody(action string) map[string]any {
	body := map[string]any{"action": action}
	if c.BearerToken == "" && c.Password != "" {
		body["password"] = c.Password
	}
	return body
}

func (c *Client) adminBody(action string) map[string]any {
	body := map[string]any{"action": action}
	if c.BearerToken == "" && c.AdminPassword != "" {
		body["adminPassword"] = c.AdminPassword
	}
	return body
}

func (c *Client) action(ctx context.Context, body map[string]any) (response, error) {
	var resp response
	if err := c.do(ctx, http.MethodPost, "action", body, &resp); err != nil {
		return resp, err
	}
	if !resp.Success {
		return resp, &ActionError{Code: resp.Code, Message: resp.Message}
	}
	return resp, nil
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
	if c.Locale != "" {
		req.Header.Set("Accept-Language", c.Locale)
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
