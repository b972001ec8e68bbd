// Package orchestrator owns the single Discord gateway session and Roomy
// client shared by every bridged pair, routes inbound Discord events to
// the right Bridge by guild, and manages the bridge lifecycle map.
package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/muni-town/roomy-bridge/src/bridge"
	"github.com/muni-town/roomy-bridge/src/config"
	"github.com/muni-town/roomy-bridge/src/discordapi"
	"github.com/muni-town/roomy-bridge/src/logging"
	"github.com/muni-town/roomy-bridge/src/repo"
	"github.com/muni-town/roomy-bridge/src/roomyapi"
	"github.com/muni-town/roomy-bridge/src/types"
)

// Orchestrator multiplexes one Discord connection and one Roomy client
// across every guild/space pair the service is currently bridging.
type Orchestrator struct {
	cfg     config.Config
	repo    repo.Repo
	discord *discordapi.Client
	roomy   roomyapi.Client
	log     *logrus.Entry

	mu            sync.RWMutex
	bridges       map[types.GuildSpaceKey]*bridge.Bridge
	guildIndex    map[types.Snowflake][]types.GuildSpaceKey
}

// New creates an Orchestrator. It does not open the Discord session; call
// Start for that.
func New(cfg config.Config, r repo.Repo, roomyClient roomyapi.Client) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		repo:       r,
		roomy:      roomyClient,
		log:        logging.Log.WithField("component", "orchestrator"),
		bridges:    make(map[types.GuildSpaceKey]*bridge.Bridge),
		guildIndex: make(map[types.Snowflake][]types.GuildSpaceKey),
	}
}

// Start opens the shared Discord gateway session and begins routing its
// events to bridges as they're created.
func (o *Orchestrator) Start() error {
	client, err := discordapi.Open(o.cfg.DiscordToken, o.routeDiscordEvent)
	if err != nil {
		return fmt.Errorf("orchestrator: opening discord session: %w", err)
	}
	o.discord = client

	if err := discordapi.RegisterBridgeCommands(client, o); err != nil {
		o.log.WithError(err).Warn("failed to register /bridge commands")
	}
	return nil
}

// Stop disconnects every active bridge and closes the shared Discord
// session.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	keys := make([]types.GuildSpaceKey, 0, len(o.bridges))
	for k := range o.bridges {
		keys = append(keys, k)
	}
	o.mu.Unlock()

	for _, k := range keys {
		if err := o.DeleteBridgeByKey(ctx, k); err != nil {
			o.log.WithError(err).WithField("key", k).Warn("error disconnecting bridge during shutdown")
		}
	}

	if o.discord != nil {
		return o.discord.Close()
	}
	return nil
}

func (o *Orchestrator) routeDiscordEvent(ev types.DiscordEvent) {
	o.mu.RLock()
	keys := o.guildIndex[ev.GuildID]
	bridges := make([]*bridge.Bridge, 0, len(keys))
	for _, k := range keys {
		if b, ok := o.bridges[k]; ok {
			bridges = append(bridges, b)
		}
	}
	o.mu.RUnlock()

	for _, b := range bridges {
		b.OnDiscordEvent(ev, false)
	}
}

// CreateBridge starts bridging guildID to spaceID. It is a no-op if that
// exact pair is already bridged.
func (o *Orchestrator) CreateBridge(ctx context.Context, guildID types.Snowflake, spaceID types.StreamDid) (*bridge.Bridge, error) {
	key := types.NewGuildSpaceKey(guildID, spaceID)

	o.mu.Lock()
	if existing, ok := o.bridges[key]; ok {
		o.mu.Unlock()
		return existing, nil
	}
	o.mu.Unlock()

	b, err := bridge.Connect(ctx, bridge.Config{
		GuildID:        guildID,
		SpaceID:        spaceID,
		Repo:           o.repo,
		Discord:        o.discord,
		RoomyClient:    o.roomy,
		BatchSize:      o.cfg.RoomyBatchSize,
		DispatchWarnAt: o.cfg.DispatchQueueWarnAt,
	})
	if err != nil {
		return nil, fmt.Errorf("orchestrator: connecting bridge: %w", err)
	}

	o.mu.Lock()
	o.bridges[key] = b
	o.guildIndex[guildID] = append(o.guildIndex[guildID], key)
	o.mu.Unlock()

	return b, nil
}

// DeleteBridge tears down every bridge registered for guildID (one per
// bridged space), if any, stopping at the first error.
func (o *Orchestrator) DeleteBridge(ctx context.Context, guildID types.Snowflake) error {
	o.mu.RLock()
	keys := append([]types.GuildSpaceKey(nil), o.guildIndex[guildID]...)
	o.mu.RUnlock()

	for _, k := range keys {
		if err := o.DeleteBridgeByKey(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

// DeleteBridgeByKey tears down one specific guild/space pair.
func (o *Orchestrator) DeleteBridgeByKey(ctx context.Context, key types.GuildSpaceKey) error {
	o.mu.Lock()
	b, ok := o.bridges[key]
	if ok {
		delete(o.bridges, key)
		guildID, _, _ := key.Split()
		o.guildIndex[guildID] = removeKey(o.guildIndex[guildID], key)
	}
	o.mu.Unlock()

	if !ok {
		return nil
	}
	return b.Disconnect(ctx)
}

// BridgeFor returns the bridge currently handling guildID, if any.
func (o *Orchestrator) BridgeFor(guildID types.Snowflake) (*bridge.Bridge, types.StreamDid, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	keys := o.guildIndex[guildID]
	if len(keys) == 0 {
		return nil, "", false
	}
	b, ok := o.bridges[keys[0]]
	if !ok {
		return nil, "", false
	}
	_, spaceID, _ := keys[0].Split()
	return b, spaceID, true
}

// SpaceForGuild returns the Roomy space DID bridged to guildID, if any.
func (o *Orchestrator) SpaceForGuild(guildID types.Snowflake) (types.StreamDid, bool) {
	_, spaceID, ok := o.BridgeFor(guildID)
	return spaceID, ok
}

// GuildForSpace returns the Discord guild bridged to spaceID, if any.
func (o *Orchestrator) GuildForSpace(spaceID types.StreamDid) (types.Snowflake, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	for key := range o.bridges {
		if guildID, sid, ok := key.Split(); ok && sid == spaceID {
			return guildID, true
		}
	}
	return "", false
}

// BotUserID exposes the shared Discord session's own user id.
func (o *Orchestrator) BotUserID() types.Snowflake {
	if o.discord == nil {
		return ""
	}
	return o.discord.BotUserID()
}

func removeKey(keys []types.GuildSpaceKey, target types.GuildSpaceKey) []types.GuildSpaceKey {
	out := keys[:0]
	for _, k := range keys {
		if k != target {
			out = append(out, k)
		}
	}
	return out
}

// --- discordapi.BridgeCommandHandler ---

func (o *Orchestrator) Create(guildID, spaceID string) (string, error) {
	if guildID == "" || spaceID == "" {
		return "", fmt.Errorf("guild and space are required")
	}
	ctx := context.Background()
	if _, err := o.CreateBridge(ctx, types.Snowflake(guildID), types.StreamDid(spaceID)); err != nil {
		return "", err
	}
	return "Bridge created. Reconciliation is running in the background.", nil
}

func (o *Orchestrator) Delete(guildID string) (string, error) {
	if err := o.DeleteBridge(context.Background(), types.Snowflake(guildID)); err != nil {
		return "", err
	}
	return "Bridge removed.", nil
}

func (o *Orchestrator) Info(guildID string) (string, error) {
	b, spaceID, ok := o.BridgeFor(types.Snowflake(guildID))
	if !ok {
		return "No bridge configured for this server.", nil
	}
	return fmt.Sprintf("Bridged to space %s, phase: %s", spaceID, b.Phase()), nil
}
