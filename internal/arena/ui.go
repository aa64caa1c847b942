package arena

import (
	"arena-duel/server/internal/draft"
	"arena-duel/server/internal/geom"
	"arena-duel/server/internal/session"
)

// UI is the presentation collaborator of one peer.
type UI interface {
	draft.UI
	FlashDamage(amount int)
	ShowScore(actor session.ActorNumber, score int)
	ShowEndGame(winner session.ActorNumber)
	ShowExplosion(point geom.Vec3, radius float64)
}

// NopUI ignores every notification.
type NopUI struct{}

func (NopUI) ShowDraft(draft.View)               {}
func (NopUI) HideDraft()                         {}
func (NopUI) SetInputEnabled(bool)               {}
func (NopUI) FlashDamage(int)                    {}
func (NopUI) ShowScore(session.ActorNumber, int) {}
func (NopUI) ShowEndGame(session.ActorNumber)    {}
func (NopUI) ShowExplosion(geom.Vec3, float64)   {}

// inputGate tracks whether the draft has disabled local input before
// forwarding to the real UI.
type inputGate struct {
	UI
	enabled bool
	view    *draft.View
}

func (g *inputGate) SetInputEnabled(on bool) {
	g.enabled = on
	g.UI.SetInputEnabled(on)
}

func (g *inputGate) ShowDraft(v draft.View) {
	g.view = &v
	g.UI.ShowDraft(v)
}

func (g *inputGate) HideDraft() {
	g.view = nil
	g.UI.HideDraft()
}
