package inpage

import (
	"go.uber.org/zap"

	"github.com/filegrind/inpage-go/events"
	"github.com/filegrind/inpage-go/jsonrpc"
	"github.com/filegrind/inpage-go/state"
)

// ConnectInfo is the argument of the connect event.
type ConnectInfo struct {
	ChainID string
}

// CloseInfo is the argument of the close event.
type CloseInfo struct {
	Code   int
	Reason string
}

// lifecycle owns the connected flag. Connect is announced once; close is
// announced at most once, and only after a connect.
type lifecycle struct {
	state *state.State
	pub   state.Publisher
	log   *zap.Logger
}

func (l *lifecycle) connect() bool {
	if !l.state.MarkConnected() {
		return false
	}
	chainID, _ := l.state.ChainID()
	l.log.Debug("connected")
	l.pub.Emit(events.Connect, ConnectInfo{ChainID: chainID})
	return true
}

func (l *lifecycle) disconnect(cause error) bool {
	if !l.state.MarkDisconnected() {
		return false
	}
	reason := "connection closed"
	if cause != nil {
		reason = "connection closed: " + cause.Error()
	}
	l.log.Info("disconnected", zap.Error(cause))
	l.pub.Emit(events.Close, CloseInfo{Code: jsonrpc.CodeCloseInternalError, Reason: reason})
	return true
}
