package events

// Event names published by the provider.
const (
	Connect         = "connect"
	Close           = "close"
	ChainChanged    = "chainChanged"
	ChainIDChanged  = "chainIdChanged" // deprecated alias of ChainChanged
	NetworkChanged  = "networkChanged"
	AccountsChanged = "accountsChanged"
	Notification    = "notification"
	Error           = "error"
)
