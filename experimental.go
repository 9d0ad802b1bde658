package inpage

import (
	"context"
)

// Capabilities are non-standard queries kept for older hosts.
type Capabilities interface {
	// IsEnabled reports whether any account is exposed.
	IsEnabled() bool
	// IsApproved asks the remote whether any account is exposed.
	IsApproved(ctx context.Context) (bool, error)
	// IsUnlocked reports the last unlock status pushed by the remote.
	IsUnlocked() bool
}

type capabilities struct {
	p *Provider
}

// Experimental returns the non-standard capabilities. The first call logs a
// warning that they may be removed.
func (p *Provider) Experimental() Capabilities {
	p.experimentalOnce.Do(func() {
		if p.cfg.Provider.WarnExperimental {
			p.log.Warn("experimental provider capabilities are unstable and may be removed")
		}
	})
	return capabilities{p: p}
}

func (c capabilities) IsEnabled() bool {
	return len(c.p.state.Accounts()) > 0
}

func (c capabilities) IsApproved(ctx context.Context) (bool, error) {
	accounts, err := c.p.queryAccounts(ctx)
	if err != nil {
		return false, err
	}
	return len(accounts) > 0, nil
}

func (c capabilities) IsUnlocked() bool {
	return c.p.state.IsUnlocked()
}
