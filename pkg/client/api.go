package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"chatsync/pkg/errdefs"
	"chatsync/pkg/models"
)

// Page is one page of conversation history as served by the read path:
// items in ascending time order, NextCursor empty when no older history
// remains.
type Page struct {
	Items      []models.Message `json:"items"`
	NextCursor string           `json:"nextCursor,omitempty"`
}

// apiClient performs the authoritative HTTP calls with identity headers
// attached.
type apiClient struct {
	base string
	http *http.Client
	id   Identity
}

func newAPIClient(base string, hc *http.Client, id Identity) *apiClient {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &apiClient{base: base, http: hc, id: id}
}

func (a *apiClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range a.id.headers() {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return errdefs.Unavailable("request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return apiError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func apiError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	msg := resp.Status
	if json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body) == nil && body.Error != "" {
		msg = body.Error
	}
	switch resp.StatusCode {
	case http.StatusBadRequest:
		return errdefs.InvalidArg(msg)
	case http.StatusUnauthorized:
		return errdefs.Unauthorized(msg)
	case http.StatusForbidden:
		return errdefs.Forbidden(msg)
	case http.StatusNotFound:
		return errdefs.NotFound(msg)
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return errdefs.Unavailable(msg, nil)
	default:
		return errdefs.Internal(fmt.Sprintf("http %d: %s", resp.StatusCode, msg), nil)
	}
}

func (a *apiClient) getOrCreateDirect(ctx context.Context, peerID string) (models.Conversation, error) {
	var c models.Conversation
	err := a.do(ctx, http.MethodPost, "/v1/conversations/direct",
		map[string]string{"peerId": peerID}, &c)
	return c, err
}

func (a *apiClient) createGroup(ctx context.Context, name string, members []string) (models.Conversation, error) {
	var c models.Conversation
	err := a.do(ctx, http.MethodPost, "/v1/conversations",
		map[string]any{"name": name, "members": members}, &c)
	return c, err
}

func (a *apiClient) listRooms(ctx context.Context) ([]models.Conversation, error) {
	var out struct {
		Rooms []models.Conversation `json:"rooms"`
	}
	err := a.do(ctx, http.MethodGet, "/v1/conversations", nil, &out)
	return out.Rooms, err
}

func (a *apiClient) renameGroup(ctx context.Context, convID, name string) (models.Conversation, error) {
	var c models.Conversation
	err := a.do(ctx, http.MethodPatch, "/v1/conversations/"+url.PathEscape(convID),
		map[string]string{"name": name}, &c)
	return c, err
}

func (a *apiClient) addMember(ctx context.Context, convID, userID string) (models.Conversation, error) {
	var c models.Conversation
	err := a.do(ctx, http.MethodPost, "/v1/conversations/"+url.PathEscape(convID)+"/members",
		map[string]string{"userId": userID}, &c)
	return c, err
}

func (a *apiClient) removeMember(ctx context.Context, convID, userID string) error {
	return a.do(ctx, http.MethodDelete,
		"/v1/conversations/"+url.PathEscape(convID)+"/members/"+url.PathEscape(userID), nil, nil)
}

func (a *apiClient) sendMessage(ctx context.Context, convID, text, clientID, replyTo string) (models.Message, error) {
	var m models.Message
	err := a.do(ctx, http.MethodPost, "/v1/conversations/"+url.PathEscape(convID)+"/messages",
		map[string]string{"text": text, "clientId": clientID, "replyTo": replyTo}, &m)
	return m, err
}

func (a *apiClient) listPage(ctx context.Context, convID string, limit int, cursor string, resync bool) (Page, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if resync {
		q.Set("resync", "1")
	}
	path := "/v1/conversations/" + url.PathEscape(convID) + "/messages"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var p Page
	err := a.do(ctx, http.MethodGet, path, nil, &p)
	return p, err
}

func (a *apiClient) editMessage(ctx context.Context, msgID, text string) (models.Message, error) {
	var m models.Message
	err := a.do(ctx, http.MethodPut, "/v1/messages/"+url.PathEscape(msgID),
		map[string]string{"text": text}, &m)
	return m, err
}

func (a *apiClient) deleteMessage(ctx context.Context, msgID string) error {
	return a.do(ctx, http.MethodDelete, "/v1/messages/"+url.PathEscape(msgID), nil, nil)
}

func (a *apiClient) listVersions(ctx context.Context, msgID string) ([]models.Message, error) {
	var out struct {
		Versions []models.Message `json:"versions"`
	}
	err := a.do(ctx, http.MethodGet, "/v1/messages/"+url.PathEscape(msgID)+"/versions", nil, &out)
	return out.Versions, err
}
