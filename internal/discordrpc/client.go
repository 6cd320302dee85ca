package discordrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// State of the RPC connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAwaitingAuth
	StateAuthenticated
	StateSubscribed
	StateError
)

var speakingEvents = []string{"SPEAKING_START", "SPEAKING_STOP"}

type (
	authorizeArgs struct {
		ClientID string   `json:"client_id"`
		Scopes   []string `json:"scopes"`
	}
	authenticateArgs struct {
		AccessToken string `json:"access_token"`
	}
	guildArgs struct {
		GuildID string `json:"guild_id"`
	}
	channelArgs struct {
		ChannelID string `json:"channel_id"`
	}
)

type pendingResult struct {
	data json.RawMessage
	err  error
}

// Client drives one connection to the local Discord client: handshake,
// OAuth, voice-event subscriptions and channel-switch handling. Responses
// are matched to requests through per-request nonces; frames without a
// matching nonce are dispatched as events.
type Client struct {
	clientID     string
	clientSecret string
	rpcOrigin    string
	oauth        *OAuth

	// dial is swapped out by tests to inject a scripted transport.
	dial func() (Transport, error)

	mu               sync.Mutex
	state            State
	connected        bool
	pending          map[string]chan pendingResult
	refreshNonce     string // dedicated slot for the channel-switch GET_CHANNEL
	refreshOldID     string
	currentChannelID string
	channelInfo      *ChannelInfo
	selfUserID       string
	transport        Transport
	events           chan<- SpeakingEvent
	readyCh          chan error
}

// NewClient creates an RPC client for the given application credentials.
// rpcOrigin doubles as the OAuth redirect URI, matching how the Discord
// developer portal pairs them.
func NewClient(clientID, clientSecret, rpcOrigin string) *Client {
	c := &Client{
		clientID:     clientID,
		clientSecret: clientSecret,
		rpcOrigin:    rpcOrigin,
		oauth:        NewOAuth(""),
		pending:      make(map[string]chan pendingResult),
	}
	c.dial = c.dialDefault
	return c
}

func (c *Client) dialDefault() (Transport, error) {
	if t, err := DialPipe(c.clientID); err == nil {
		return t, nil
	} else {
		logrus.WithError(err).Debug("IPC unavailable, falling back to WebSocket")
	}
	return DialWebSocket(c.clientID, c.rpcOrigin)
}

// Connect opens the transport and runs the full fresh-auth flow: READY,
// AUTHORIZE (the user approves a popup in Discord), code exchange,
// AUTHENTICATE, channel discovery and event subscriptions. It returns the
// refresh token to persist, once the connection reaches the Subscribed
// state. Speaking events are delivered on events, which the caller must
// keep draining for the lifetime of the connection.
func (c *Client) Connect(ctx context.Context, events chan<- SpeakingEvent) (string, error) {
	return c.connect(ctx, events, "")
}

// ConnectWithRefreshToken reconnects silently: the stored refresh token is
// exchanged for an access token before the transport opens, and AUTHORIZE
// is skipped. It returns the refresh token to persist (the rotated one
// when Discord issued a new one).
func (c *Client) ConnectWithRefreshToken(ctx context.Context, events chan<- SpeakingEvent, refreshToken string) (string, error) {
	access, rotated, err := c.oauth.RefreshToken(ctx, c.clientID, c.clientSecret, c.rpcOrigin, refreshToken)
	if err != nil {
		return "", err
	}
	if rotated == "" {
		rotated = refreshToken
	}
	if _, err := c.connect(ctx, events, access); err != nil {
		return "", err
	}
	return rotated, nil
}

func (c *Client) connect(ctx context.Context, events chan<- SpeakingEvent, accessToken string) (string, error) {
	c.setState(StateConnecting)

	t, err := c.dial()
	if err != nil {
		c.setState(StateError)
		return "", err
	}

	c.mu.Lock()
	c.transport = t
	c.events = events
	c.pending = make(map[string]chan pendingResult)
	c.readyCh = make(chan error, 1)
	c.mu.Unlock()

	type result struct {
		refresh string
		err     error
	}
	done := make(chan result, 1)
	go func() {
		refresh, err := c.handshake(ctx, accessToken)
		done <- result{refresh, err}
	}()
	go c.readLoop(ctx, t)

	select {
	case r := <-done:
		if r.err != nil {
			_ = t.Close()
			c.setState(StateError)
			return "", enhanceError(r.err)
		}
		return r.refresh, nil
	case <-ctx.Done():
		_ = t.Close()
		return "", ctx.Err()
	}
}

// handshake runs the connect sequence over the live read loop. With an
// access token override (silent reconnect), AUTHORIZE and the code
// exchange are skipped.
func (c *Client) handshake(ctx context.Context, accessToken string) (string, error) {
	c.mu.Lock()
	ready := c.readyCh
	c.mu.Unlock()

	select {
	case err := <-ready:
		if err != nil {
			return "", err
		}
	case <-ctx.Done():
		return "", ctx.Err()
	}
	c.setState(StateAwaitingAuth)

	var refreshToken string
	if accessToken == "" {
		logrus.Info("Sending AUTHORIZE (approve in the Discord popup)")
		data, err := c.request(ctx, envelope{
			Cmd:  "AUTHORIZE",
			Args: authorizeArgs{ClientID: c.clientID, Scopes: []string{"rpc", "identify"}},
		})
		if err != nil {
			return "", err
		}
		var auth authorizeData
		_ = json.Unmarshal(data, &auth)
		if auth.Code == "" {
			return "", errors.New("no authorization code. Approve the request in the Discord popup; if none appeared, check the app's RPC Origin and OAuth2 redirect URI")
		}
		accessToken, refreshToken, err = c.oauth.ExchangeCode(ctx, c.clientID, c.clientSecret, c.rpcOrigin, auth.Code)
		if err != nil {
			return "", err
		}
	}

	data, err := c.request(ctx, envelope{Cmd: "AUTHENTICATE", Args: authenticateArgs{AccessToken: accessToken}})
	if err != nil {
		return "", err
	}
	var authed authenticateData
	_ = json.Unmarshal(data, &authed)
	c.mu.Lock()
	c.selfUserID = authed.User.ID
	c.state = StateAuthenticated
	c.mu.Unlock()

	data, err = c.request(ctx, envelope{Cmd: "GET_SELECTED_VOICE_CHANNEL", Args: struct{}{}})
	if err != nil {
		return "", err
	}
	var ch channelData
	if len(data) > 0 {
		_ = json.Unmarshal(data, &ch)
	}
	if ch.ID == "" {
		return "", errors.New("not in a voice channel. Join a voice channel in Discord first, then connect")
	}

	// The channel response carries only the guild id; GET_GUILD resolves
	// the human name. Failure here is not fatal.
	guildName := ""
	if ch.GuildID != "" {
		if gdata, err := c.request(ctx, envelope{Cmd: "GET_GUILD", Args: guildArgs{GuildID: ch.GuildID}}); err == nil {
			var g guildData
			_ = json.Unmarshal(gdata, &g)
			guildName = g.Name
		} else {
			logrus.WithError(err).Debug("GET_GUILD failed")
		}
	}

	info := ChannelInfo{
		ChannelID:   ch.ID,
		ChannelName: ch.Name,
		ChannelType: ch.Type,
		GuildID:     ch.GuildID,
		GuildName:   guildName,
		SelfUserID:  authed.User.ID,
		UserLabels:  ch.userLabels(authed.User.ID),
	}
	c.mu.Lock()
	c.channelInfo = &info
	c.currentChannelID = ch.ID
	c.mu.Unlock()
	logrus.WithFields(logrus.Fields{
		"guild":      guildName,
		"channel":    ch.Name,
		"channel_id": ch.ID,
	}).Info("Voice channel resolved")

	if _, err := c.request(ctx, envelope{Cmd: "SUBSCRIBE", Evt: "VOICE_CHANNEL_SELECT", Args: struct{}{}}); err != nil {
		return "", err
	}
	for _, evt := range speakingEvents {
		if _, err := c.request(ctx, envelope{Cmd: "SUBSCRIBE", Evt: evt, Args: channelArgs{ChannelID: ch.ID}}); err != nil {
			return "", err
		}
	}

	c.mu.Lock()
	c.state = StateSubscribed
	c.connected = true
	c.mu.Unlock()
	logrus.Info("RPC subscribed to voice events")
	return refreshToken, nil
}

// request sends one nonce-correlated command and waits for its response.
func (c *Client) request(ctx context.Context, env envelope) (json.RawMessage, error) {
	env.Nonce = uuid.NewString()
	ch := make(chan pendingResult, 1)
	c.mu.Lock()
	c.pending[env.Nonce] = ch
	t := c.transport
	c.mu.Unlock()

	if err := c.sendEnvelope(t, env); err != nil {
		c.dropPending(env.Nonce)
		return nil, err
	}
	select {
	case r := <-ch:
		return r.data, r.err
	case <-ctx.Done():
		c.dropPending(env.Nonce)
		return nil, ctx.Err()
	}
}

// fireAndForget sends a nonce-correlated command whose response is
// discarded when it arrives. Used from inside the event loop, which
// cannot block on its own reads.
func (c *Client) fireAndForget(t Transport, env envelope) {
	env.Nonce = uuid.NewString()
	c.mu.Lock()
	c.pending[env.Nonce] = make(chan pendingResult, 1)
	c.mu.Unlock()
	if err := c.sendEnvelope(t, env); err != nil {
		c.dropPending(env.Nonce)
		logrus.WithError(err).WithField("cmd", env.Cmd).Warn("RPC send failed")
	}
}

func (c *Client) sendEnvelope(t Transport, env envelope) error {
	if t == nil {
		return errors.New("not connected")
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", env.Cmd, err)
	}
	return t.Send(OpFrame, payload)
}

func (c *Client) dropPending(nonce string) {
	c.mu.Lock()
	delete(c.pending, nonce)
	c.mu.Unlock()
}

func (c *Client) readLoop(ctx context.Context, t Transport) {
	for {
		_, payload, err := t.Recv()
		if err != nil {
			c.teardown(err)
			return
		}
		var env envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			logrus.WithError(err).Debug("Dropping unparseable RPC frame")
			continue
		}
		if fatal := c.dispatch(ctx, t, &env); fatal != nil {
			c.teardown(fatal)
			return
		}
	}
}

// dispatch routes one incoming frame. A non-nil return terminates the
// event loop (protocol error).
func (c *Client) dispatch(ctx context.Context, t Transport, env *envelope) error {
	if env.Evt == "READY" {
		c.mu.Lock()
		ready := c.readyCh
		c.mu.Unlock()
		select {
		case ready <- nil:
		default:
		}
		return nil
	}

	if env.Nonce != "" {
		c.mu.Lock()
		isRefresh := env.Nonce == c.refreshNonce && c.refreshNonce != ""
		c.mu.Unlock()
		if isRefresh {
			c.handleChannelRefresh(t, env)
			return nil
		}

		c.mu.Lock()
		ch, ok := c.pending[env.Nonce]
		if ok {
			delete(c.pending, env.Nonce)
		}
		c.mu.Unlock()
		if ok {
			if env.Evt == "ERROR" {
				ch <- pendingResult{err: errors.New(parseErrorData(env.Data))}
			} else {
				ch <- pendingResult{data: env.Data}
			}
			return nil
		}
	}

	switch env.Evt {
	case "VOICE_CHANNEL_SELECT":
		c.handleChannelSelect(t, env)
	case "SPEAKING_START", "SPEAKING_STOP":
		c.handleSpeaking(ctx, env)
	case "ERROR":
		return errors.New(parseErrorData(env.Data))
	}
	return nil
}

// handleChannelSelect reacts to the user moving between voice channels: a
// null channel id clears the channel info, anything else triggers a
// GET_CHANNEL whose nonce is parked in the dedicated refresh slot so it
// cannot collide with caller-initiated requests.
func (c *Client) handleChannelSelect(t Transport, env *envelope) {
	var d voiceChannelSelectData
	if len(env.Data) > 0 {
		_ = json.Unmarshal(env.Data, &d)
	}
	if d.ChannelID == nil || *d.ChannelID == "" {
		c.mu.Lock()
		c.channelInfo = nil
		c.currentChannelID = ""
		c.mu.Unlock()
		logrus.Info("User left the voice channel")
		return
	}

	nonce := uuid.NewString()
	c.mu.Lock()
	c.refreshNonce = nonce
	c.refreshOldID = c.currentChannelID
	c.mu.Unlock()
	err := c.sendEnvelope(t, envelope{Cmd: "GET_CHANNEL", Nonce: nonce, Args: channelArgs{ChannelID: *d.ChannelID}})
	if err != nil {
		logrus.WithError(err).Warn("GET_CHANNEL send failed")
		c.mu.Lock()
		c.refreshNonce, c.refreshOldID = "", ""
		c.mu.Unlock()
	}
}

// handleChannelRefresh finishes a channel switch: rebuild the channel
// info, move the speaking subscriptions from the old channel to the new
// one. GET_GUILD is skipped here; a refresh must not wait on further
// responses from inside the event loop.
func (c *Client) handleChannelRefresh(t Transport, env *envelope) {
	c.mu.Lock()
	oldID := c.refreshOldID
	c.refreshNonce, c.refreshOldID = "", ""
	selfID := c.selfUserID
	c.mu.Unlock()

	var ch channelData
	if len(env.Data) > 0 {
		_ = json.Unmarshal(env.Data, &ch)
	}
	if ch.ID == "" {
		return
	}

	info := ChannelInfo{
		ChannelID:   ch.ID,
		ChannelName: ch.Name,
		ChannelType: ch.Type,
		GuildID:     ch.GuildID,
		SelfUserID:  selfID,
		UserLabels:  ch.userLabels(selfID),
	}
	c.mu.Lock()
	c.channelInfo = &info
	c.currentChannelID = ch.ID
	c.mu.Unlock()
	logrus.WithFields(logrus.Fields{
		"channel":    ch.Name,
		"channel_id": ch.ID,
	}).Info("Channel info refreshed")

	if oldID != "" {
		for _, evt := range speakingEvents {
			c.fireAndForget(t, envelope{Cmd: "UNSUBSCRIBE", Evt: evt, Args: channelArgs{ChannelID: oldID}})
		}
	}
	for _, evt := range speakingEvents {
		c.fireAndForget(t, envelope{Cmd: "SUBSCRIBE", Evt: evt, Args: channelArgs{ChannelID: ch.ID}})
	}
}

func (c *Client) handleSpeaking(ctx context.Context, env *envelope) {
	var d speakingData
	if len(env.Data) == 0 || json.Unmarshal(env.Data, &d) != nil || d.UserID == "" {
		// Payloads without a user id carry nothing to attribute.
		return
	}
	kind := SpeakingStart
	if env.Evt == "SPEAKING_STOP" {
		kind = SpeakingStop
	}
	c.mu.Lock()
	events := c.events
	c.mu.Unlock()
	select {
	case events <- SpeakingEvent{Kind: kind, UserID: d.UserID}:
	case <-ctx.Done():
	}
}

// teardown ends the connection: pending requests fail, the connected flag
// clears, and the state records whether this was a close or an error.
func (c *Client) teardown(err error) {
	err = enhanceError(err)
	c.mu.Lock()
	if errors.Is(err, ErrClosed) {
		c.state = StateDisconnected
	} else {
		c.state = StateError
	}
	c.connected = false
	pending := c.pending
	c.pending = make(map[string]chan pendingResult)
	ready := c.readyCh
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- pendingResult{err: err}
	}
	if ready != nil {
		select {
		case ready <- err:
		default:
		}
	}
	if errors.Is(err, ErrClosed) {
		logrus.Info("RPC connection closed")
	} else {
		logrus.WithError(err).Error("RPC event loop terminated")
	}
}

// Close tears down the transport; the read loop exits on the resulting
// receive error.
func (c *Client) Close() error {
	c.mu.Lock()
	t := c.transport
	c.mu.Unlock()
	if t == nil {
		return nil
	}
	return t.Close()
}

// State returns the connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connected reports whether the client is subscribed and receiving events.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// ChannelInfo returns a copy of the current channel info, or nil when the
// user is not in a voice channel.
func (c *Client) ChannelInfo() *ChannelInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channelInfo == nil {
		return nil
	}
	info := *c.channelInfo
	info.UserLabels = make(map[string]string, len(c.channelInfo.UserLabels))
	for k, v := range c.channelInfo.UserLabels {
		info.UserLabels[k] = v
	}
	return &info
}

// SelfUserID returns the authenticated user's id.
func (c *Client) SelfUserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selfUserID
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// enhanceError augments Discord's terse "Invalid Origin" diagnostic with
// the configuration it actually refers to.
func enhanceError(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "Invalid Origin") {
		return fmt.Errorf("%w. Add your RPC origin (e.g. https://localhost) to the app's RPC Origins in the Discord Developer Portal; RPC Origins are configured separately from OAuth2 redirects", err)
	}
	return err
}
