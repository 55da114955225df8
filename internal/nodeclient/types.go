package nodeclient

// ApplyPayload carries a compiled tunnel configuration to a node agent.
type ApplyPayload struct {
	TunnelID string `json:"tunnel_id"`
	Name     string `json:"name"`
	Core     string `json:"core"`
	Type     string `json:"type"`
	Revision int64  `json:"revision"`
	Rendered []byte `json:"rendered"`
}

// TeardownPayload instructs a node agent to remove a tunnel configuration.
type TeardownPayload struct {
	TunnelID string `json:"tunnel_id"`
}

// AgentStatus is the agent's self-report.
type AgentStatus struct {
	Status  string   `json:"status"`
	Tunnels []string `json:"tunnels"`
}
