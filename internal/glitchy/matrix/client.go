// Package matrix connects the bot to a Matrix homeserver.
//
// Client implements chat.Transport on top of mautrix-go and turns incoming
// m.room.message events into chat.Event values.  Rooms with at most two
// members are treated as direct conversations; room invites are accepted
// automatically when enabled.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/bdobrica/glitchy/internal/glitchy/chat"
)

var _ chat.Transport = (*Client)(nil)

// Config holds the Matrix connection parameters.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
	// Rooms are joined at start.  IDs ("!x:server") and aliases
	// ("#x:server") are accepted.
	Rooms []string
	// Admins are privileged senders, as full user IDs.  A bare localpart
	// is taken to live on the bot's own homeserver.
	Admins []string
	// AutoJoin accepts every room invite.
	AutoJoin bool
	// SendRate and SendBurst bound outbound messages per second.
	// Defaults: 1 and 3.
	SendRate  float64
	SendBurst int
	// SyncState persists the sync position.  When nil the whole timeline
	// is replayed on restart (events older than Start are still dropped).
	SyncState SyncState
}

// EventHandler receives every accepted inbound line.
type EventHandler func(ctx context.Context, ev chat.Event)

// Client is the bot's Matrix connection.
type Client struct {
	mxc     *mautrix.Client
	cfg     Config
	logger  *slog.Logger
	limiter *rate.Limiter

	userID  id.UserID
	admins  map[string]struct{}
	started time.Time

	mu      sync.Mutex
	members map[id.RoomID]int // joined member counts, invalidated on m.room.member

	stopMu   sync.Mutex // orders handlers.Add against Stop
	stopCh   chan struct{}
	stopOnce sync.Once
	handlers sync.WaitGroup
}

// New creates a Client but does not start syncing.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.Homeserver == "" || cfg.UserID == "" || cfg.AccessToken == "" {
		return nil, errors.New("matrix: homeserver, user ID and access token are required")
	}
	if cfg.SendRate <= 0 {
		cfg.SendRate = 1
	}
	if cfg.SendBurst <= 0 {
		cfg.SendBurst = 3
	}
	if logger == nil {
		logger = slog.Default()
	}

	mxc, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("matrix: create client: %w", err)
	}

	if cfg.SyncState != nil {
		mxc.Store = newSyncStore(cfg.SyncState)
		logger.Info("matrix: using persistent sync store")
	} else {
		logger.Warn("matrix: no sync store configured, history will replay on restart")
	}

	admins, err := adminSet(cfg.Admins, id.UserID(cfg.UserID))
	if err != nil {
		return nil, err
	}

	return &Client{
		mxc:     mxc,
		cfg:     cfg,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(cfg.SendRate), cfg.SendBurst),
		userID:  id.UserID(cfg.UserID),
		admins:  admins,
		members: make(map[id.RoomID]int),
		stopCh:  make(chan struct{}),
	}, nil
}

// Start joins the configured rooms and runs the sync loop in the background,
// calling handler for each inbound line on its own goroutine.  The loop
// reconnects with exponential back-off.
func (c *Client) Start(ctx context.Context, handler EventHandler) error {
	c.started = time.Now()

	syncer, ok := c.mxc.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return errors.New("matrix: unexpected syncer type")
	}
	syncer.OnEventType(event.EventMessage, func(ctx context.Context, evt *event.Event) {
		c.deliver(ctx, evt, handler)
	})
	syncer.OnEventType(event.StateMember, c.handleMember)

	for _, room := range c.cfg.Rooms {
		if err := c.Join(ctx, room, ""); err != nil {
			c.logger.Warn("matrix: could not join room", "room", room, "err", err)
		}
	}

	go c.syncLoop(ctx)
	return nil
}

func (c *Client) syncLoop(ctx context.Context) {
	const (
		backoffMin = 2 * time.Second
		backoffMax = 5 * time.Minute
	)
	backoff := backoffMin
	for {
		err := c.mxc.SyncWithContext(ctx)
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}
		if err == nil {
			return
		}
		c.logger.Error("matrix: sync stopped, reconnecting", "err", err, "backoff", backoff)
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, backoffMax)
	}
}

// deliver converts evt and runs handler on its own goroutine.  Events that
// arrive after Stop are dropped.
func (c *Client) deliver(ctx context.Context, evt *event.Event, handler EventHandler) {
	ev, ok := c.convert(ctx, evt)
	if !ok {
		return
	}
	c.stopMu.Lock()
	select {
	case <-c.stopCh:
		c.stopMu.Unlock()
		return
	default:
	}
	c.handlers.Add(1)
	c.stopMu.Unlock()

	go func() {
		defer c.handlers.Done()
		handler(ctx, ev)
	}()
}

// Stop halts the sync loop and waits for in-flight handlers.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		c.stopMu.Lock()
		close(c.stopCh)
		c.stopMu.Unlock()
		c.mxc.StopSync()
	})
	c.handlers.Wait()
}

// UserID returns the bot's Matrix user ID.
func (c *Client) UserID() string { return c.userID.String() }

// convert turns a message event into a chat.Event.  Own messages, events
// from before Start and non-text message types are dropped.
func (c *Client) convert(ctx context.Context, evt *event.Event) (chat.Event, bool) {
	if evt.Sender == c.userID {
		return chat.Event{}, false
	}
	at := time.UnixMilli(evt.Timestamp)
	if !c.started.IsZero() && at.Before(c.started) {
		return chat.Event{}, false
	}
	msg := evt.Content.AsMessage()
	if msg == nil {
		return chat.Event{}, false
	}
	var action bool
	switch msg.MsgType {
	case event.MsgText:
	case event.MsgEmote:
		action = true
	default:
		return chat.Event{}, false
	}

	return chat.Event{
		Target:     evt.RoomID.String(),
		Nick:       Nick(evt.Sender),
		Text:       msg.Body,
		Direct:     c.isDirect(ctx, evt.RoomID),
		Action:     action,
		Privileged: c.isAdmin(evt.Sender),
		At:         at,
	}, true
}

// Nick returns the localpart of a user ID, or the whole ID when it does not
// parse.
func Nick(userID id.UserID) string {
	localpart, _, err := userID.Parse()
	if err != nil || localpart == "" {
		return userID.String()
	}
	return localpart
}

// adminSet normalises the configured admins to lowercase full user IDs.
// Bare localparts are qualified with the bot's homeserver so that a user of
// the same name on another server is never privileged.
func adminSet(admins []string, self id.UserID) (map[string]struct{}, error) {
	_, home, err := self.Parse()
	if err != nil {
		return nil, fmt.Errorf("matrix: parse user ID %q: %w", self, err)
	}
	set := make(map[string]struct{}, len(admins))
	for _, a := range admins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if !strings.HasPrefix(a, "@") {
			a = id.NewUserID(a, home).String()
		}
		uid := id.UserID(a)
		if _, _, err := uid.Parse(); err != nil {
			return nil, fmt.Errorf("matrix: admin %q is not a user ID: %w", a, err)
		}
		set[strings.ToLower(uid.String())] = struct{}{}
	}
	return set, nil
}

func (c *Client) isAdmin(sender id.UserID) bool {
	_, ok := c.admins[strings.ToLower(sender.String())]
	return ok
}

// isDirect reports whether roomID has at most two joined members.  Counts
// are cached until the next membership change in the room.
func (c *Client) isDirect(ctx context.Context, roomID id.RoomID) bool {
	c.mu.Lock()
	n, ok := c.members[roomID]
	c.mu.Unlock()
	if ok {
		return n <= 2
	}

	resp, err := c.mxc.JoinedMembers(ctx, roomID)
	if err != nil {
		c.logger.Warn("matrix: member count unavailable, assuming group room", "room", roomID, "err", err)
		return false
	}
	n = len(resp.Joined)
	c.mu.Lock()
	c.members[roomID] = n
	c.mu.Unlock()
	return n <= 2
}

func (c *Client) handleMember(ctx context.Context, evt *event.Event) {
	c.mu.Lock()
	delete(c.members, evt.RoomID)
	c.mu.Unlock()

	member := evt.Content.AsMember()
	if member == nil || evt.GetStateKey() != c.userID.String() {
		return
	}
	if member.Membership != event.MembershipInvite || !c.cfg.AutoJoin {
		return
	}
	if _, err := c.mxc.JoinRoomByID(ctx, evt.RoomID); err != nil {
		c.logger.Warn("matrix: failed to accept invite", "room", evt.RoomID, "inviter", evt.Sender, "err", err)
		return
	}
	c.logger.Info("matrix: accepted invite", "room", evt.RoomID, "inviter", evt.Sender)
}

// Send posts a plain text message.
func (c *Client) Send(ctx context.Context, target, text string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("matrix: send: %w", err)
	}
	if _, err := c.mxc.SendText(ctx, id.RoomID(target), text); err != nil {
		return fmt.Errorf("matrix: send: %w", err)
	}
	return nil
}

// SendAction posts an m.emote message.
func (c *Client) SendAction(ctx context.Context, target, text string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("matrix: send action: %w", err)
	}
	content := event.MessageEventContent{MsgType: event.MsgEmote, Body: text}
	if _, err := c.mxc.SendMessageEvent(ctx, id.RoomID(target), event.EventMessage, &content); err != nil {
		return fmt.Errorf("matrix: send action: %w", err)
	}
	return nil
}

// Join joins a room by ID or alias.  Matrix rooms have no join keys, so key
// is ignored.
func (c *Client) Join(ctx context.Context, target, key string) error {
	if key != "" {
		c.logger.Debug("matrix: ignoring join key", "room", target)
	}
	roomID, err := c.resolve(ctx, target)
	if err != nil {
		return err
	}
	if _, err := c.mxc.JoinRoomByID(ctx, roomID); err != nil {
		// Homeservers answer M_FORBIDDEN when the bot is already a member.
		if errors.Is(err, mautrix.MForbidden) {
			c.logger.Warn("matrix: already a member or access denied", "room", target)
			return nil
		}
		return fmt.Errorf("matrix: join %s: %w", target, err)
	}
	c.logger.Info("matrix: joined room", "room", target)
	return nil
}

// Part leaves a room.
func (c *Client) Part(ctx context.Context, target string) error {
	roomID, err := c.resolve(ctx, target)
	if err != nil {
		return err
	}
	if slices.Contains(c.cfg.Rooms, target) {
		c.logger.Info("matrix: leaving a configured room, it will be rejoined on restart", "room", target)
	}
	if _, err := c.mxc.LeaveRoom(ctx, roomID); err != nil {
		return fmt.Errorf("matrix: part %s: %w", target, err)
	}
	c.mu.Lock()
	delete(c.members, roomID)
	c.mu.Unlock()
	return nil
}

// resolve maps a room alias to its ID.  IDs are returned unchanged.
func (c *Client) resolve(ctx context.Context, target string) (id.RoomID, error) {
	if !strings.HasPrefix(target, "#") {
		return id.RoomID(target), nil
	}
	resp, err := c.mxc.ResolveAlias(ctx, id.RoomAlias(target))
	if err != nil {
		return "", fmt.Errorf("matrix: resolve alias %s: %w", target, err)
	}
	return resp.RoomID, nil
}
