package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"rtchat/internal/errs"
	"rtchat/internal/models"

	"github.com/goccy/go-json"
)

// MessagesPage is the paginated history response.
type MessagesPage struct {
	Messages []models.Message `json:"messages"`
	Page     int              `json:"page"`
}

type roomsResponse struct {
	Rooms []models.Room `json:"rooms"`
}

type apiError struct {
	Error *models.AckError `json:"error"`
}

// API is the HTTP collaborator for historical data and mutations. All calls
// carry the bearer credential.
type API struct {
	baseURL string
	token   string
	httpc   *http.Client
}

func NewAPI(baseURL, token string) *API {
	return &API{
		baseURL: baseURL,
		token:   token,
		httpc:   &http.Client{Timeout: 15 * time.Second},
	}
}

func (a *API) ListRooms(ctx context.Context) ([]models.Room, error) {
	var resp roomsResponse
	if err := a.do(ctx, http.MethodGet, "/api/rooms", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Rooms, nil
}

func (a *API) GetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	var room models.Room
	if err := a.do(ctx, http.MethodGet, "/api/rooms/"+url.PathEscape(roomID), nil, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

func (a *API) CreateRoom(ctx context.Context, name, roomType string, maxMembers int) (*models.Room, error) {
	body := map[string]interface{}{"name": name, "type": roomType, "maxMembers": maxMembers}
	var room models.Room
	if err := a.do(ctx, http.MethodPost, "/api/rooms", body, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

func (a *API) UpdateRoom(ctx context.Context, roomID, name string, maxMembers int) error {
	body := map[string]interface{}{"name": name, "maxMembers": maxMembers}
	return a.do(ctx, http.MethodPatch, "/api/rooms/"+url.PathEscape(roomID), body, nil)
}

func (a *API) DeleteRoom(ctx context.Context, roomID string) error {
	return a.do(ctx, http.MethodDelete, "/api/rooms/"+url.PathEscape(roomID), nil, nil)
}

// GetMessages fetches one page of a room's history, newest first.
func (a *API) GetMessages(ctx context.Context, roomID string, page, limit int) (*MessagesPage, error) {
	path := fmt.Sprintf("/api/rooms/%s/messages?page=%d&limit=%d", url.PathEscape(roomID), page, limit)
	var resp MessagesPage
	if err := a.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (a *API) EditMessage(ctx context.Context, messageID, content string) (*models.Message, error) {
	var msg models.Message
	err := a.do(ctx, http.MethodPatch, "/api/messages/"+url.PathEscape(messageID),
		map[string]string{"content": content}, &msg)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (a *API) DeleteMessage(ctx context.Context, messageID string) error {
	return a.do(ctx, http.MethodDelete, "/api/messages/"+url.PathEscape(messageID), nil, nil)
}

func (a *API) SetReaction(ctx context.Context, messageID, emoji string) (*models.Message, error) {
	var msg models.Message
	err := a.do(ctx, http.MethodPost, "/api/messages/"+url.PathEscape(messageID)+"/reactions",
		map[string]string{"emoji": emoji}, &msg)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (a *API) RemoveReaction(ctx context.Context, messageID string) (*models.Message, error) {
	var msg models.Message
	err := a.do(ctx, http.MethodDelete, "/api/messages/"+url.PathEscape(messageID)+"/reactions", nil, &msg)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (a *API) MarkRead(ctx context.Context, roomID string) error {
	return a.do(ctx, http.MethodPost, "/api/rooms/"+url.PathEscape(roomID)+"/read",
		map[string]interface{}{}, nil)
}

// do performs one call and decodes the response. HTTP failures come back
// classified: transport errors as network, server rejections by their ack
// error kind or status.
func (a *API) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return errs.Wrap(errs.KindValidation, "encode request", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return errs.Wrap(errs.KindValidation, "build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.httpc.Do(req)
	if err != nil {
		return errs.ClassifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errs.Wrap(errs.KindServer, "decode response", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var body apiError
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != nil {
		return errs.New(errs.Kind(body.Error.Kind), body.Error.Message)
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return errs.New(errs.KindAuth, "unauthorized")
	case http.StatusForbidden:
		return errs.New(errs.KindAuthorization, "forbidden")
	case http.StatusBadRequest:
		return errs.New(errs.KindValidation, "bad request")
	case http.StatusTooManyRequests:
		return errs.New(errs.KindRateLimit, "too many requests")
	default:
		return errs.Newf(errs.KindServer, "unexpected status %d", resp.StatusCode)
	}
}
