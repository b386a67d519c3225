package slack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Client is the Slack capability set consumed by the reconcilers. One Client is
// bound to one tenant's workspace credential. Every failure is an *APIError.
type Client interface {
	// FindUserByEmail returns ok=false on a lookup miss; a miss is not an error.
	FindUserByEmail(ctx context.Context, email string) (UserRef, bool, error)
	// InviteUser invites email to the workspace. The returned ref has an empty ID
	// when the account does not exist yet (invite pending acceptance).
	InviteUser(ctx context.Context, email string) (UserRef, error)

	CreateChannel(ctx context.Context, name string) (ChannelRef, error)
	FindChannelByName(ctx context.Context, name string) (ChannelRef, bool, error)
	RenameChannel(ctx context.Context, channelID, name string) (ChannelRef, error)
	ArchiveChannel(ctx context.Context, channelID string) error
	SetChannelTopic(ctx context.Context, channelID, topic string) error
	InviteToChannel(ctx context.Context, channelID string, userIDs []string) error
	RemoveFromChannel(ctx context.Context, channelID string, userIDs []string) error
	GetChannelMembers(ctx context.Context, channelID string) ([]string, error)

	GetUsergroupMembers(ctx context.Context, groupID string) ([]string, error)
	AddUsergroupMembers(ctx context.Context, groupID string, userIDs []string) error
	RemoveUsergroupMembers(ctx context.Context, groupID string, userIDs []string) error
}

// UserRef identifies a Slack user.
type UserRef struct {
	ID   string
	Name string
}

// Pending reports whether the user has been invited but has no account id yet.
func (u UserRef) Pending() bool { return u.ID == "" }

// ChannelRef identifies a Slack channel.
type ChannelRef struct {
	ID   string
	Name string
}

// CallObserver is notified after every API method call with its outcome
// ("ok" or an error Kind) and duration.
type CallObserver func(method, outcome string, d time.Duration)

// ClientOptions configures an HTTPClient.
type ClientOptions struct {
	BaseURL     string
	WorkspaceID string
	HTTPClient  *http.Client
	Limiter     *Limiter
	MaxRetries  int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Observer    CallObserver

	// InviteChannelIDs is sent as channel_ids on workspace invites. When empty
	// the workspace's general channel is used.
	InviteChannelIDs []string
}

// HTTPClient implements Client using the Slack Web API.
type HTTPClient struct {
	baseURL     string
	workspaceID string
	httpClient  *http.Client
	limiter     *Limiter
	maxRetries  int
	baseDelay   time.Duration
	maxDelay    time.Duration
	observe     CallObserver

	inviteMu       sync.Mutex
	inviteChannels []string
}

// NewHTTPClient creates a Slack client. Authentication is expected to be carried
// by opts.HTTPClient's transport.
func NewHTTPClient(opts ClientOptions) *HTTPClient {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://slack.com/api"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	return &HTTPClient{
		baseURL:     baseURL,
		workspaceID: opts.WorkspaceID,
		httpClient:  httpClient,
		limiter:     opts.Limiter,
		maxRetries:  maxRetries,
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
		observe:     opts.Observer,

		inviteChannels: slices.Clone(opts.InviteChannelIDs),
	}
}

// --- Users ---

func (c *HTTPClient) FindUserByEmail(ctx context.Context, email string) (UserRef, bool, error) {
	var resp userResponse
	err := c.call(ctx, "users.lookupByEmail", url.Values{"email": {email}}, &resp)
	if errors.Is(err, ErrNotFound) {
		return UserRef{}, false, nil
	}
	if err != nil {
		return UserRef{}, false, err
	}
	return UserRef{ID: resp.User.ID, Name: resp.User.Name}, true, nil
}

// InviteUser calls admin.users.invite, which needs an org-level token with the
// admin.invites:write scope and at least one channel to land the user in.
func (c *HTTPClient) InviteUser(ctx context.Context, email string) (UserRef, error) {
	channels, err := c.resolveInviteChannels(ctx)
	if err != nil {
		return UserRef{}, err
	}
	params := url.Values{
		"email":       {email},
		"channel_ids": {strings.Join(channels, ",")},
	}
	if c.workspaceID != "" {
		params.Set("team_id", c.workspaceID)
	}
	err = c.call(ctx, "admin.users.invite", params, nil)
	if err != nil && !errors.Is(err, ErrConflict) {
		return UserRef{}, err
	}

	// The invite response carries no user; the account may exist already
	// (already_in_team) or only after the invite is accepted.
	ref, found, err := c.FindUserByEmail(ctx, email)
	if err != nil {
		return UserRef{}, err
	}
	if !found {
		return UserRef{}, nil
	}
	return ref, nil
}

// resolveInviteChannels returns the configured invite channels, or looks up
// the general channel once per client.
func (c *HTTPClient) resolveInviteChannels(ctx context.Context) ([]string, error) {
	c.inviteMu.Lock()
	defer c.inviteMu.Unlock()
	if len(c.inviteChannels) > 0 {
		return c.inviteChannels, nil
	}

	ch, found, err := c.findChannel(ctx, func(ch slackChannel) bool { return ch.IsGeneral })
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, &APIError{
			Kind:   KindInvalid,
			Method: "admin.users.invite",
			Code:   "no_invite_channel",
		}
	}
	c.inviteChannels = []string{ch.ID}
	return c.inviteChannels, nil
}

// --- Channels ---

func (c *HTTPClient) CreateChannel(ctx context.Context, name string) (ChannelRef, error) {
	var resp channelResponse
	err := c.call(ctx, "conversations.create", url.Values{
		"name":       {name},
		"is_private": {"false"},
	}, &resp)
	if err != nil {
		return ChannelRef{}, err
	}
	return ChannelRef{ID: resp.Channel.ID, Name: resp.Channel.Name}, nil
}

func (c *HTTPClient) FindChannelByName(ctx context.Context, name string) (ChannelRef, bool, error) {
	return c.findChannel(ctx, func(ch slackChannel) bool { return ch.Name == name })
}

func (c *HTTPClient) findChannel(ctx context.Context, match func(slackChannel) bool) (ChannelRef, bool, error) {
	cursor := ""
	for {
		params := url.Values{
			"types":            {"public_channel,private_channel"},
			"exclude_archived": {"true"},
			"limit":            {"200"},
		}
		if cursor != "" {
			params.Set("cursor", cursor)
		}
		var resp channelListResponse
		if err := c.call(ctx, "conversations.list", params, &resp); err != nil {
			return ChannelRef{}, false, err
		}
		for _, ch := range resp.Channels {
			if match(ch) {
				return ChannelRef{ID: ch.ID, Name: ch.Name}, true, nil
			}
		}
		cursor = resp.Metadata.NextCursor
		if cursor == "" {
			return ChannelRef{}, false, nil
		}
	}
}

func (c *HTTPClient) RenameChannel(ctx context.Context, channelID, name string) (ChannelRef, error) {
	var resp channelResponse
	err := c.call(ctx, "conversations.rename", url.Values{
		"channel": {channelID},
		"name":    {name},
	}, &resp)
	if err != nil {
		return ChannelRef{}, err
	}
	return ChannelRef{ID: resp.Channel.ID, Name: resp.Channel.Name}, nil
}

func (c *HTTPClient) ArchiveChannel(ctx context.Context, channelID string) error {
	err := c.call(ctx, "conversations.archive", url.Values{"channel": {channelID}}, nil)
	if isCode(err, "already_archived") {
		return nil
	}
	return err
}

func (c *HTTPClient) SetChannelTopic(ctx context.Context, channelID, topic string) error {
	return c.call(ctx, "conversations.setTopic", url.Values{
		"channel": {channelID},
		"topic":   {topic},
	}, nil)
}

func (c *HTTPClient) InviteToChannel(ctx context.Context, channelID string, userIDs []string) error {
	if len(userIDs) == 0 {
		return nil
	}
	err := c.call(ctx, "conversations.invite", url.Values{
		"channel": {channelID},
		"users":   {strings.Join(userIDs, ",")},
		"force":   {"true"},
	}, nil)
	if isCode(err, "already_in_channel") {
		return nil
	}
	return err
}

// RemoveFromChannel kicks users one by one; Slack has no batch kick. Users that
// already left are ignored.
func (c *HTTPClient) RemoveFromChannel(ctx context.Context, channelID string, userIDs []string) error {
	for _, id := range userIDs {
		err := c.call(ctx, "conversations.kick", url.Values{
			"channel": {channelID},
			"user":    {id},
		}, nil)
		if err != nil && !isCode(err, "not_in_channel") {
			return err
		}
	}
	return nil
}

func (c *HTTPClient) GetChannelMembers(ctx context.Context, channelID string) ([]string, error) {
	var members []string
	cursor := ""
	for {
		params := url.Values{
			"channel": {channelID},
			"limit":   {"200"},
		}
		if cursor != "" {
			params.Set("cursor", cursor)
		}
		var resp membersResponse
		if err := c.call(ctx, "conversations.members", params, &resp); err != nil {
			return nil, err
		}
		members = append(members, resp.Members...)
		cursor = resp.Metadata.NextCursor
		if cursor == "" {
			return members, nil
		}
	}
}

// --- Usergroups ---

func (c *HTTPClient) GetUsergroupMembers(ctx context.Context, groupID string) ([]string, error) {
	var resp usergroupUsersResponse
	err := c.call(ctx, "usergroups.users.list", url.Values{
		"usergroup":        {groupID},
		"include_disabled": {"true"},
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Users, nil
}

// AddUsergroupMembers adds userIDs to the group. Slack only supports replacing
// the full member list, so the current list is read first.
func (c *HTTPClient) AddUsergroupMembers(ctx context.Context, groupID string, userIDs []string) error {
	current, err := c.GetUsergroupMembers(ctx, groupID)
	if err != nil {
		return err
	}
	next := union(current, userIDs)
	if len(next) == len(current) {
		return nil
	}
	return c.updateUsergroup(ctx, groupID, next)
}

// RemoveUsergroupMembers removes userIDs from the group. Slack cannot empty a
// usergroup through usergroups.users.update, so a removal that would leave no
// members fails with ErrEmptyUsergroup without calling the API.
func (c *HTTPClient) RemoveUsergroupMembers(ctx context.Context, groupID string, userIDs []string) error {
	current, err := c.GetUsergroupMembers(ctx, groupID)
	if err != nil {
		return err
	}
	next := subtract(current, userIDs)
	if len(next) == len(current) {
		return nil
	}
	if len(next) == 0 {
		return &APIError{
			Kind:   KindInvalid,
			Method: "usergroups.users.update",
			Code:   "empty_usergroup",
			Err:    ErrEmptyUsergroup,
		}
	}
	return c.updateUsergroup(ctx, groupID, next)
}

func (c *HTTPClient) updateUsergroup(ctx context.Context, groupID string, userIDs []string) error {
	return c.call(ctx, "usergroups.users.update", url.Values{
		"usergroup": {groupID},
		"users":     {strings.Join(userIDs, ",")},
	}, nil)
}

// --- transport ---

func (c *HTTPClient) call(ctx context.Context, method string, params url.Values, out any) error {
	start := time.Now()
	err := c.do(ctx, method, params, out)
	if c.observe != nil {
		outcome := "ok"
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			outcome = apiErr.Kind.String()
		}
		c.observe(method, outcome, time.Since(start))
	}
	return err
}

func (c *HTTPClient) do(ctx context.Context, method string, params url.Values, out any) error {
	body := params.Encode()
	u := c.baseURL + "/" + method

	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return &APIError{Kind: KindTransient, Method: method, Err: err}
		}

		apiErr := c.attempt(ctx, method, u, body, out)
		if apiErr == nil {
			return nil
		}

		delay := c.retryDelay(attempt+1, apiErr.RetryAfter)
		if apiErr.Kind == KindRateLimited {
			// Every tenant shares the workspace budget gate.
			hold := apiErr.RetryAfter
			if hold <= 0 {
				hold = delay
			}
			c.limiter.Hold(hold)
			if apiErr.RetryAfter > c.maxDelay {
				return apiErr
			}
		}
		if !apiErr.retryable() || attempt >= c.maxRetries {
			return apiErr
		}
		if apiErr.Kind != KindRateLimited || c.limiter == nil {
			if err := sleepContext(ctx, delay); err != nil {
				return apiErr
			}
		}
	}
}

func (c *HTTPClient) attempt(ctx context.Context, method, u, body string, out any) *APIError {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(body))
	if err != nil {
		return &APIError{Kind: KindInvalid, Method: method, Err: fmt.Errorf("building request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransportError(method, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &APIError{
			Kind:       KindRateLimited,
			Method:     method,
			Code:       "ratelimited",
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &APIError{Kind: KindUnauthorized, Method: method, StatusCode: resp.StatusCode}
	case resp.StatusCode >= 500:
		return &APIError{Kind: KindTransient, Method: method, StatusCode: resp.StatusCode}
	case resp.StatusCode != http.StatusOK:
		return &APIError{Kind: KindInvalid, Method: method, StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &APIError{Kind: KindTransient, Method: method, StatusCode: resp.StatusCode, Err: err}
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return &APIError{Kind: KindTransient, Method: method, StatusCode: resp.StatusCode,
			Err: fmt.Errorf("decoding response: %w", err)}
	}
	if !env.OK {
		return &APIError{Kind: kindForCode(env.Error), Method: method, Code: env.Error, StatusCode: resp.StatusCode}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return &APIError{Kind: KindTransient, Method: method, StatusCode: resp.StatusCode,
				Err: fmt.Errorf("decoding %s response: %w", method, err)}
		}
	}
	return nil
}

func (c *HTTPClient) retryDelay(attempt int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		return retryAfter
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	return delay
}

// classifyTransportError maps transport-level errors to transient or
// unauthorized API errors.
func classifyTransportError(method string, err error) *APIError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &APIError{Kind: KindTransient, Method: method, Code: "timeout", Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &APIError{Kind: KindTransient, Method: method, Code: "timeout", Err: err}
	}
	return &APIError{Kind: KindTransient, Method: method, Err: err}
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func isCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

func union(current, add []string) []string {
	seen := make(map[string]bool, len(current)+len(add))
	out := make([]string, 0, len(current)+len(add))
	for _, id := range append(append([]string{}, current...), add...) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func subtract(current, remove []string) []string {
	drop := make(map[string]bool, len(remove))
	for _, id := range remove {
		drop[id] = true
	}
	out := make([]string, 0, len(current))
	for _, id := range current {
		if !drop[id] {
			out = append(out, id)
		}
	}
	return out
}

// --- wire types ---

type envelope struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

type responseMetadata struct {
	NextCursor string `json:"next_cursor"`
}

type slackUser struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type userResponse struct {
	User slackUser `json:"user"`
}

type slackChannel struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsGeneral bool   `json:"is_general"`
}

type channelResponse struct {
	Channel slackChannel `json:"channel"`
}

type channelListResponse struct {
	Channels []slackChannel   `json:"channels"`
	Metadata responseMetadata `json:"response_metadata"`
}

type membersResponse struct {
	Members  []string         `json:"members"`
	Metadata responseMetadata `json:"response_metadata"`
}

type usergroupUsersResponse struct {
	Users []string `json:"users"`
}

var _ Client = (*HTTPClient)(nil)
