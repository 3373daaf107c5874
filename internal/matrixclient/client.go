// Copyright 2024 The Matrix.org Foundation C.I.C.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package matrixclient implements the moderation engine's view of the
// homeserver on top of the Matrix client-server API.
package matrixclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strings"

	"github.com/matrix-org/gomatrix"
	"github.com/matrix-org/gomatrixserverlib/spec"

	"github.com/matrix-org/warden/moderation/api"
	"github.com/matrix-org/warden/setup/config"
)

// Client is an api.ProtocolAPI backed by a gomatrix client. gomatrix does
// not take a context, so ctx is only checked before each request is made.
type Client struct {
	*gomatrix.Client
}

// NewClient creates a client for the bot account described by cfg.
func NewClient(cfg *config.Global, httpClient *http.Client) (*Client, error) {
	cli, err := gomatrix.NewClient(cfg.HomeserverURL, cfg.UserID, cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("gomatrix.NewClient: %w", err)
	}
	if httpClient != nil {
		cli.Client = httpClient
	}
	return &Client{Client: cli}, nil
}

func (c *Client) UserID() string {
	return c.Client.UserID
}

func (c *Client) RoomState(ctx context.Context, roomID, eventType string) ([]api.StateEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var events []api.StateEvent
	if err := c.MakeRequest(http.MethodGet, c.BuildURL("rooms", roomID, "state"), nil, &events); err != nil {
		return nil, wrapError(err)
	}
	matching := events[:0]
	for _, ev := range events {
		if ev.Type == eventType {
			matching = append(matching, ev)
		}
	}
	return matching, nil
}

func (c *Client) SendStateEvent(ctx context.Context, roomID, eventType, stateKey string, content interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.Client.SendStateEvent(roomID, eventType, stateKey, content)
	return wrapError(err)
}

type relatesTo struct {
	InReplyTo *inReplyTo `json:"m.in_reply_to,omitempty"`
}

type inReplyTo struct {
	EventID string `json:"event_id"`
}

type noticeContent struct {
	MsgType       string     `json:"msgtype"`
	Body          string     `json:"body"`
	Format        string     `json:"format,omitempty"`
	FormattedBody string     `json:"formatted_body,omitempty"`
	RelatesTo     *relatesTo `json:"m.relates_to,omitempty"`
}

// SendNotice sends an m.notice. If formattedBody is empty one is derived from
// body by escaping it.
func (c *Client) SendNotice(ctx context.Context, roomID, body, formattedBody, replyTo string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if formattedBody == "" {
		formattedBody = strings.ReplaceAll(html.EscapeString(body), "\n", "<br>")
	}
	content := noticeContent{
		MsgType:       "m.notice",
		Body:          body,
		Format:        "org.matrix.custom.html",
		FormattedBody: formattedBody,
	}
	if replyTo != "" {
		content.RelatesTo = &relatesTo{InReplyTo: &inReplyTo{EventID: replyTo}}
	}
	_, err := c.SendMessageEvent(roomID, "m.room.message", content)
	return wrapError(err)
}

func (c *Client) Ban(ctx context.Context, roomID, userID, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.BanUser(roomID, &gomatrix.ReqBanUser{Reason: reason, UserID: userID})
	return wrapError(err)
}

func (c *Client) Kick(ctx context.Context, roomID, userID, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.KickUser(roomID, &gomatrix.ReqKickUser{Reason: reason, UserID: userID})
	return wrapError(err)
}

func (c *Client) PowerLevels(ctx context.Context, roomID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var content json.RawMessage
	if err := c.StateEvent(roomID, spec.MRoomPowerLevels, "", &content); err != nil {
		return nil, wrapError(err)
	}
	return content, nil
}

func (c *Client) SetPowerLevels(ctx context.Context, roomID string, content []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.Client.SendStateEvent(roomID, spec.MRoomPowerLevels, "", json.RawMessage(content))
	return wrapError(err)
}

func (c *Client) Membership(ctx context.Context, roomID, userID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var member struct {
		Membership string `json:"membership"`
	}
	if err := c.StateEvent(roomID, spec.MRoomMember, userID, &member); err != nil {
		return "", wrapError(err)
	}
	return member.Membership, nil
}

func (c *Client) JoinedMembers(ctx context.Context, roomID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp, err := c.Client.JoinedMembers(roomID)
	if err != nil {
		return nil, wrapError(err)
	}
	members := make([]string, 0, len(resp.Joined))
	for userID := range resp.Joined {
		members = append(members, userID)
	}
	return members, nil
}

func (c *Client) JoinRoom(ctx context.Context, roomID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.Client.JoinRoom(roomID, "", nil)
	return wrapError(err)
}

// wrapError turns a 404 from the homeserver into api.ErrNotFound.
func wrapError(err error) error {
	if err == nil {
		return nil
	}
	if statusCode(err) == http.StatusNotFound {
		return fmt.Errorf("%w: %s", api.ErrNotFound, err)
	}
	return err
}

func statusCode(err error) int {
	var httpErr gomatrix.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Code
	}
	var httpErrPtr *gomatrix.HTTPError
	if errors.As(err, &httpErrPtr) {
		return httpErrPtr.Code
	}
	return 0
}

var _ api.ProtocolAPI = (*Client)(nil)
