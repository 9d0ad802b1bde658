package state

import (
	"context"
	"encoding/json"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"github.com/filegrind/inpage-go/events"
	"github.com/filegrind/inpage-go/jsonrpc"
)

// Snapshot is one pushed configuration update. Nil fields were absent or null.
type Snapshot struct {
	ChainID        *string `json:"chainId,omitempty"`
	NetworkVersion *string `json:"networkVersion,omitempty"`
	IsUnlocked     *bool   `json:"isUnlocked,omitempty"`
}

const snapshotSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"properties": {
		"chainId": {"type": ["string", "null"]},
		"networkVersion": {"type": ["string", "null"]},
		"isUnlocked": {"type": ["boolean", "null"]}
	}
}`

var snapshotSchemaLoader = gojsonschema.NewStringLoader(snapshotSchema)

// Source is the inbound side of the config channel.
type Source interface {
	Recv(ctx context.Context) ([]byte, error)
}

// ConfigSync diffs pushed snapshots against the cached state and emits an
// event for every field that actually changed.
type ConfigSync struct {
	state *State
	pub   Publisher
	log   *zap.Logger
}

// NewConfigSync creates a ConfigSync writing to st and emitting on pub.
func NewConfigSync(st *State, pub Publisher, log *zap.Logger) *ConfigSync {
	if log == nil {
		log = zap.NewNop()
	}
	return &ConfigSync{state: st, pub: pub, log: log}
}

// Apply merges snap into the state. Changed chain ids emit ChainChanged and
// its deprecated alias; changed network versions emit NetworkChanged; the
// unlock flag is updated without an event.
func (c *ConfigSync) Apply(snap Snapshot) {
	var chainChanged, networkChanged bool
	var chainID, network string

	c.state.mu.Lock()
	if snap.ChainID != nil && (!c.state.hasChainID || c.state.chainID != *snap.ChainID) {
		c.state.chainID = *snap.ChainID
		c.state.hasChainID = true
		chainChanged = true
		chainID = *snap.ChainID
	}
	if snap.NetworkVersion != nil && (!c.state.hasNetwork || c.state.networkVersion != *snap.NetworkVersion) {
		c.state.networkVersion = *snap.NetworkVersion
		c.state.hasNetwork = true
		networkChanged = true
		network = *snap.NetworkVersion
	}
	if snap.IsUnlocked != nil && c.state.unlocked != *snap.IsUnlocked {
		c.state.unlocked = *snap.IsUnlocked
		c.log.Debug("unlock status changed", zap.Bool("unlocked", *snap.IsUnlocked))
	}
	c.state.mu.Unlock()

	if chainChanged {
		c.pub.Emit(events.ChainChanged, chainID)
		c.pub.Emit(events.ChainIDChanged, chainID)
	}
	if networkChanged {
		c.pub.Emit(events.NetworkChanged, network)
	}
}

// ApplyRaw validates and applies an encoded snapshot. Invalid payloads are
// logged and ignored.
func (c *ConfigSync) ApplyRaw(payload []byte) error {
	if err := jsonrpc.ValidateAgainst(snapshotSchemaLoader, payload); err != nil {
		c.log.Warn("ignoring invalid config snapshot", zap.Error(err))
		return err
	}
	var snap Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		c.log.Warn("ignoring undecodable config snapshot", zap.Error(err))
		return err
	}
	c.Apply(snap)
	return nil
}

// Run applies snapshots from src until it ends. The end is logged and
// returned; it never affects the connection lifecycle.
func (c *ConfigSync) Run(ctx context.Context, src Source) error {
	for {
		payload, err := src.Recv(ctx)
		if err != nil {
			if ctx.Err() == nil {
				c.log.Warn("config channel ended", zap.Error(err))
			}
			return err
		}
		_ = c.ApplyRaw(payload)
	}
}
