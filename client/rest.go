package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/converse/messaging/internal/protocol"
)

// REST is the HTTP client for the gateway's non-streaming endpoints:
// paginated history and directory snapshots. Ids and shapes match the
// server's handlers exactly.
type REST struct {
	baseURL string
	http    *http.Client
}

// NewREST creates a client for the API at baseURL (scheme and host,
// no trailing slash).
func NewREST(baseURL string) *REST {
	return &REST{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// HistoryPage is one page of history, newest first as served.
type HistoryPage struct {
	Messages []protocol.Message `json:"messages"`
	HasMore  bool               `json:"has_more"`
}

// RoomInfo mirrors the server's room shape.
type RoomInfo struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	ImageRef  string   `json:"image_ref"`
	MemberIDs []string `json:"member_ids"`
}

// DirectConversationInfo is one row of the direct-conversation snapshot,
// with the peer's presence joined in by the server.
type DirectConversationInfo struct {
	PeerID      string           `json:"peer_id"`
	LastMessage protocol.Message `json:"last_message"`
	IsOnline    bool             `json:"is_online"`
	LastSeen    int64            `json:"last_seen,omitempty"`
}

// RoomMessages fetches a history page for a room.
func (r *REST) RoomMessages(ctx context.Context, roomID string, skip, take int) (HistoryPage, error) {
	var page HistoryPage
	path := fmt.Sprintf("/rooms/%s/messages?%s", url.PathEscape(roomID), pageQuery(skip, take))
	err := r.getJSON(ctx, path, &page)
	return page, err
}

// DirectMessages fetches a history page for the conversation between two
// users. Order of the two ids does not matter.
func (r *REST) DirectMessages(ctx context.Context, userA, userB string, skip, take int) (HistoryPage, error) {
	var page HistoryPage
	path := fmt.Sprintf("/dm/%s/%s/messages?%s",
		url.PathEscape(userA), url.PathEscape(userB), pageQuery(skip, take))
	err := r.getJSON(ctx, path, &page)
	return page, err
}

// UserRooms fetches the rooms a user belongs to.
func (r *REST) UserRooms(ctx context.Context, userID string) ([]RoomInfo, error) {
	var rooms []RoomInfo
	err := r.getJSON(ctx, "/users/"+url.PathEscape(userID)+"/rooms", &rooms)
	return rooms, err
}

// DirectConversations fetches the user's direct-conversation snapshot.
func (r *REST) DirectConversations(ctx context.Context, userID string) ([]DirectConversationInfo, error) {
	var convs []DirectConversationInfo
	err := r.getJSON(ctx, "/users/"+url.PathEscape(userID)+"/conversations", &convs)
	return convs, err
}

func pageQuery(skip, take int) string {
	q := url.Values{}
	q.Set("skip", strconv.Itoa(skip))
	q.Set("take", strconv.Itoa(take))
	return q.Encode()
}

func (r *REST) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error != "" {
			return fmt.Errorf("api %s: %s (%s)", path, apiErr.Error, apiErr.Message)
		}
		return fmt.Errorf("api %s: status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
