package observerproto

// Version is the observer stream protocol version.
const Version = "1"

const (
	TypeSubscribe = "SUBSCRIBE"
	TypeWelcome   = "WELCOME"
	TypeRunStart  = "RUN_START"
	TypeRound     = "ROUND"
	TypeDone      = "DONE"
)

// SubscribeMsg is the first message a client sends. Every thins the stream
// to one ROUND message per Every rounds.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Every           uint64 `json:"every,omitempty"`
}

type RunParams struct {
	RunID           string `json:"run_id"`
	Source          string `json:"source,omitempty"`
	Agents          int    `json:"agents"`
	Relief          string `json:"relief"`
	Modulus         uint64 `json:"modulus,omitempty"`
	RoundsRequested uint64 `json:"rounds_requested"`
}

type WelcomeMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	SessionID       string     `json:"session_id"`
	Every           uint64     `json:"every"`
	Run             *RunParams `json:"run,omitempty"`
	Round           uint64     `json:"round"`
}

type RunStartMsg struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	Run             RunParams `json:"run"`
}

type RoundMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	RunID           string   `json:"run_id"`
	Round           uint64   `json:"round"`
	Inspections     []uint64 `json:"inspections"`
	Delta           []uint64 `json:"delta"`
	QueueLens       []int    `json:"queue_lens"`
	Digest          string   `json:"digest"`
}

type DoneMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	RunID           string   `json:"run_id"`
	Rounds          uint64   `json:"rounds"`
	Inspections     []uint64 `json:"inspections"`
	Score           uint64   `json:"score"`
	ScoreErr        string   `json:"score_err,omitempty"`
	Interrupted     bool     `json:"interrupted,omitempty"`
}

type BootstrapResponse struct {
	ProtocolVersion string     `json:"protocol_version"`
	Run             *RunParams `json:"run,omitempty"`
	Round           uint64     `json:"round"`
	Inspections     []uint64   `json:"inspections,omitempty"`
	Done            bool       `json:"done"`
}
