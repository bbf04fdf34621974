package usage

// Agent names used as ledger dimensions. Every model-calling component
// records under one of these.
const (
	AgentScout        = "scout"
	AgentArchitect    = "architect"
	AgentJanitor      = "janitor"
	AgentConsolidator = "consolidator"
	AgentObserver     = "observer"
)

// Ledger is the persisted usage structure: one grand total plus breakdowns
// by agent, by model, and by brain. All values are TokenDetail monoids, so
// every breakdown sums to the total.
type Ledger struct {
	Version string                 `json:"version"`
	Total   TokenDetail            `json:"total"`
	ByAgent map[string]TokenDetail `json:"by_agent"`
	ByModel map[string]TokenDetail `json:"by_model"`
	ByBrain map[string]TokenDetail `json:"by_brain"`
}

func newLedger() Ledger {
	return Ledger{
		Version: "1.0",
		ByAgent: make(map[string]TokenDetail),
		ByModel: make(map[string]TokenDetail),
		ByBrain: make(map[string]TokenDetail),
	}
}

func (l *Ledger) ensureMaps() {
	if l.ByAgent == nil {
		l.ByAgent = make(map[string]TokenDetail)
	}
	if l.ByModel == nil {
		l.ByModel = make(map[string]TokenDetail)
	}
	if l.ByBrain == nil {
		l.ByBrain = make(map[string]TokenDetail)
	}
}
