package edge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/edgecommerce/edge-dispatch/internal/relation"
)

const (
	connectTimeout = 10 * time.Second
	readTimeout    = 20 * time.Second
)

// FailureKind classifies a failed edge call. Only successful calls
// contribute to state transitions; every failure kind maps to the same
// recovery at a given call site.
type FailureKind int

const (
	FailureTransport FailureKind = iota + 1
	FailureStatus
	FailureDecode
)

// CallError is the error returned for any non-Ok edge call.
type CallError struct {
	Kind FailureKind
	Op   string
	Err  error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("edge %s: %v", e.Op, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// Client is a thin typed wrapper over the edge-server HTTP surface.
// Servers are addressed per call; one client serves the whole fleet.
type Client struct {
	http *http.Client
}

// NewClient builds a client with the edge deadlines: 10s to connect,
// 20s to first response byte. The transport is traced.
func NewClient() *Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: connectTimeout,
		}).DialContext,
		ResponseHeaderTimeout: readTimeout,
	}
	return &Client{
		http: &http.Client{
			Transport: otelhttp.NewTransport(transport),
			Timeout:   connectTimeout + readTimeout,
		},
	}
}

func edgeURL(server *Server, endpoint string) string {
	return fmt.Sprintf("http://%s/edge/%s", server.IPAddress, endpoint)
}

func userAPIURL(server *Server, method string) string {
	return fmt.Sprintf("http://%s/ISteamUser/%s/", server.IPAddress, method)
}

// Healthcheck probes an edge server. The response body is the server's
// self-reported delay in seconds.
func (c *Client) Healthcheck(ctx context.Context, server *Server) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, edgeURL(server, "healthcheck"), nil)
	if err != nil {
		return "", &CallError{Kind: FailureTransport, Op: "healthcheck", Err: err}
	}
	req.Header.Set("X-Requested-At", strconv.FormatInt(time.Now().Unix(), 10))

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &CallError{Kind: FailureTransport, Op: "healthcheck", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &CallError{Kind: FailureStatus, Op: "healthcheck", Err: fmt.Errorf("status code %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &CallError{Kind: FailureTransport, Op: "healthcheck", Err: err}
	}
	return strings.TrimSpace(string(body)), nil
}

// PushResponse is the cart/push/ payload.
type PushResponse struct {
	Success  bool          `json:"success"`
	Result   PushRejection `json:"result"`
	TaskID   string        `json:"task_id"`
	TaskName TaskKind      `json:"task_name"`
}

func (r PushResponse) Ref() TaskRef {
	return TaskRef{TaskID: r.TaskID, TaskName: r.TaskName}
}

// PushCart pushes cart items to a bot. A response with Success=false
// is returned to the caller, not converted to an error; the rejection
// code says why the edge refused the push.
func (c *Client) PushCart(ctx context.Context, server *Server, networkID string, items []relation.CartItem) (*PushResponse, error) {
	encoded, err := json.Marshal(items)
	if err != nil {
		return nil, &CallError{Kind: FailureDecode, Op: "cart/push", Err: err}
	}

	form := url.Values{
		"network_id": {networkID},
		"items":      {string(encoded)},
	}

	var out PushResponse
	if err := c.postForm(ctx, "cart/push", edgeURL(server, "cart/push/"), form, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Checkout starts checkout of the bot's current cart.
func (c *Client) Checkout(ctx context.Context, server *Server, networkID, gifteeAccountID, paymentMethod string) (*TaskRef, error) {
	form := url.Values{
		"network_id":        {networkID},
		"giftee_account_id": {gifteeAccountID},
		"payment_method":    {paymentMethod},
	}

	var out TaskRef
	if err := c.postForm(ctx, "cart/checkout", edgeURL(server, "cart/checkout/"), form, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ResetCart clears the bot's cart snapshot.
func (c *Client) ResetCart(ctx context.Context, server *Server, networkID string) (*TaskRef, error) {
	form := url.Values{"network_id": {networkID}}

	var out TaskRef
	if err := c.postForm(ctx, "cart/reset", edgeURL(server, "cart/reset/"), form, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TransactionLink asks the bot for the external payment link of a
// storefront transaction id.
func (c *Client) TransactionLink(ctx context.Context, server *Server, transID, networkID string) (*TaskRef, error) {
	form := url.Values{
		"transid":    {transID},
		"network_id": {networkID},
	}

	var out TaskRef
	if err := c.postForm(ctx, "transaction/link", edgeURL(server, "transaction/link/"), form, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TaskStateResponse is the task/state/ payload. TaskResult stays raw
// until the handler decodes it by task kind.
type TaskStateResponse struct {
	Success    bool            `json:"success"`
	TaskStatus TaskStatus      `json:"task_status"`
	TaskResult json.RawMessage `json:"task_result"`
}

// TaskState polls the remote status of a task.
func (c *Client) TaskState(ctx context.Context, server *Server, taskName TaskKind, taskID string) (*TaskStateResponse, error) {
	form := url.Values{
		"task_name": {string(taskName)},
		"task_id":   {taskID},
	}

	var out TaskStateResponse
	if err := c.postForm(ctx, "task/state", edgeURL(server, "task/state/"), form, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FriendsList returns the external account ids on the bot's friend
// list.
func (c *Client) FriendsList(ctx context.Context, server *Server, networkID string) ([]string, error) {
	u := userAPIURL(server, "GetFriendsList") + "?" + url.Values{
		"network_id": {networkID},
		"ids":        {"1"},
	}.Encode()

	var raw []json.Number
	if err := c.getJSON(ctx, "GetFriendsList", u, &raw); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(raw))
	for _, n := range raw {
		ids = append(ids, n.String())
	}
	return ids, nil
}

// AddFriend sends a friend invite from the bot to an external account.
// The returned flag reports whether the bot's friend list is full.
func (c *Client) AddFriend(ctx context.Context, server *Server, networkID, externalAccountID string) (full bool, err error) {
	u := userAPIURL(server, "AddFriend") + "?" + url.Values{
		"network_id": {networkID},
		"steam_id":   {externalAccountID},
	}.Encode()

	var raw map[string]json.RawMessage
	if err := c.getJSON(ctx, "AddFriend", u, &raw); err != nil {
		return false, err
	}

	_, full = raw["0"]
	return full, nil
}

func (c *Client) postForm(ctx context.Context, op, target string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
	if err != nil {
		return &CallError{Kind: FailureTransport, Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(op, req, out)
}

func (c *Client) getJSON(ctx context.Context, op, target string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return &CallError{Kind: FailureTransport, Op: op, Err: err}
	}
	return c.do(op, req, out)
}

func (c *Client) do(op string, req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		log.WithFields(log.Fields{"op": op, "err": err}).Error("unable to contact edge server")
		return &CallError{Kind: FailureTransport, Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.WithFields(log.Fields{"op": op, "status": resp.StatusCode}).Error("edge server returned non-200")
		return &CallError{Kind: FailureStatus, Op: op, Err: fmt.Errorf("status code %d", resp.StatusCode)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		log.WithFields(log.Fields{"op": op, "err": err}).Error("unable to decode edge server response")
		return &CallError{Kind: FailureDecode, Op: op, Err: err}
	}
	return nil
}
