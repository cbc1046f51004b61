package page

import "context"

// Direction is a vertical scroll direction.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// Health is the resource-health snapshot reported alongside a job.
type Health struct {
	Available int     `json:"available"`
	Total     int     `json:"total"`
	Failed    int     `json:"failed"`
	Current   string  `json:"current,omitempty"`
	AvgScore  float64 `json:"avg_score"`
}

// Browser is the browsing collaborator the agent drives. Index-bearing calls
// take the snapshot the index came from.
type Browser interface {
	Navigate(ctx context.Context, url string) error
	Snapshot(ctx context.Context, withScreenshot bool) (*Snapshot, error)
	Click(ctx context.Context, index int, snap *Snapshot) error
	Type(ctx context.Context, index int, text string, snap *Snapshot) error
	Scroll(ctx context.Context, dir Direction, amount int) error
	PressKey(ctx context.Context, key string) error
	CurrentURL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	RawHTML(ctx context.Context) (string, error)
	BodyText(ctx context.Context) (string, error)
	HealthStats() Health
}

// ChallengeSurface is the part of the browser used to clear an anti-bot
// challenge once it has been detected.
type ChallengeSurface interface {
	ChallengePresent(ctx context.Context) (bool, error)
	FillFirstTextInput(ctx context.Context, text string) error
	ClickFirstSubmit(ctx context.Context) error
	Screenshot(ctx context.Context) ([]byte, error)
}
