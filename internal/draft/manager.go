package draft

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"arena-duel/server/internal/messaging"
	"arena-duel/server/internal/net/proto"
	"arena-duel/server/internal/session"
	"arena-duel/server/internal/stats"
	"arena-duel/server/internal/telemetry"
	"arena-duel/server/logging"
	loggingdraft "arena-duel/server/logging/draft"
)

// OptionsPerPanel is the number of rewards offered to each participant.
const OptionsPerPanel = 3

var (
	// ErrDraftPending is returned by Begin while a draft is unresolved.
	ErrDraftPending = errors.New("draft: a draft is already pending")
	// ErrTooFewParticipants is returned when fewer than two peers are present.
	ErrTooFewParticipants = errors.New("draft: need two participants")
	// ErrEmptyPool is returned when no participant could be offered anything.
	ErrEmptyPool = errors.New("draft: reward pool is empty")
	// ErrNoPanel is returned by Choose when the local peer has nothing to pick.
	ErrNoPanel = errors.New("draft: no panel for local peer")
	// ErrAlreadyChosen is returned by Choose after the local pick was sent.
	ErrAlreadyChosen = errors.New("draft: choice already submitted")
)

// Phase is the Authority-side draft state.
type Phase uint8

const (
	PhaseIdle Phase = iota
	PhaseAwaiting
	PhaseResolved
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAwaiting:
		return "awaiting_both_choices"
	case PhaseResolved:
		return "resolved"
	default:
		return "unknown"
	}
}

// View is what the UI shows on one peer. Panel is -1 for spectators.
type View struct {
	Round    int
	Loser    session.ActorNumber
	LossName string
	Panel    int
	Options  []Reward
}

// UI is the presentation collaborator.
type UI interface {
	ShowDraft(View)
	HideDraft()
	SetInputEnabled(bool)
}

type nopUI struct{}

func (nopUI) ShowDraft(View)       {}
func (nopUI) HideDraft()           {}
func (nopUI) SetInputEnabled(bool) {}

// Respawner starts the next round once picks are applied.
type Respawner interface {
	Respawn(ctx context.Context) error
}

// RespawnerFunc adapts a function into a Respawner.
type RespawnerFunc func(ctx context.Context) error

func (f RespawnerFunc) Respawn(ctx context.Context) error { return f(ctx) }

// Config bundles the manager's collaborators.
type Config struct {
	Catalog Catalog
	Sampler *Sampler
	Roster  *session.Roster
	Sender  messaging.Sender
	// Stats resolves the stat component of a participant's avatar.
	Stats     func(actor session.ActorNumber) (*stats.Component, bool)
	Respawner Respawner
	UI        UI
	// OnApplied runs after a reward lands on a participant.
	OnApplied func(actor session.ActorNumber, reward Reward)

	Logger      telemetry.Logger
	Publisher   logging.Publisher
	CurrentTick func() uint64
	Tracer      trace.Tracer
}

type participant struct {
	actor   session.ActorNumber
	options []int
	pick    int
}

// Manager is present on every peer. Only the Authority's instance runs the
// lottery and the rendezvous; every instance shows the panels and applies
// resolved picks.
type Manager struct {
	cfg Config

	phase   Phase
	round   int
	loser   session.ActorNumber
	panels  []participant
	applied int

	view   *View
	chosen bool
}

func NewManager(cfg Config) *Manager {
	if cfg.Catalog == nil {
		cfg.Catalog = DefaultCatalog()
	}
	if cfg.Sampler == nil {
		cfg.Sampler = NewSampler(nil)
	}
	if cfg.UI == nil {
		cfg.UI = nopUI{}
	}
	if cfg.Publisher == nil {
		cfg.Publisher = logging.NopPublisher()
	}
	if cfg.CurrentTick == nil {
		cfg.CurrentTick = func() uint64 { return 0 }
	}
	if cfg.Tracer == nil {
		cfg.Tracer = noop.NewTracerProvider().Tracer("draft")
	}
	if cfg.Logger == nil {
		cfg.Logger = telemetry.LoggerFunc(nil)
	}
	return &Manager{cfg: cfg}
}

func (m *Manager) Phase() Phase { return m.phase }

// Pending reports whether a draft is unresolved on the Authority.
func (m *Manager) Pending() bool { return m.phase != PhaseIdle }

// Catalog exposes the loaded reward list.
func (m *Manager) Catalog() Catalog { return m.cfg.Catalog }

// Begin opens a draft for the first two peers in join order. Panel i belongs
// to the i-th peer.
func (m *Manager) Begin(ctx context.Context, loser, winner session.ActorNumber) error {
	if err := m.cfg.Roster.CanCommitOutcome(m.cfg.Roster.Local()); err != nil {
		return fmt.Errorf("begin draft: %w", err)
	}
	if m.phase != PhaseIdle {
		return ErrDraftPending
	}
	peers := m.cfg.Roster.Peers()
	if len(peers) < 2 {
		return ErrTooFewParticipants
	}
	ctx, span := m.cfg.Tracer.Start(ctx, "draft.begin", trace.WithAttributes(
		attribute.Int("arena.loser", int(loser)),
		attribute.Int("arena.winner", int(winner)),
	))
	defer span.End()

	panels := make([]participant, 2)
	offered := 0
	for i := range panels {
		panels[i] = participant{
			actor:   peers[i].Actor,
			options: m.cfg.Sampler.Draw(m.cfg.Catalog, OptionsPerPanel),
			pick:    -1,
		}
		offered += len(panels[i].options)
	}
	if offered == 0 || len(panels[0].options) == 0 || len(panels[1].options) == 0 {
		return ErrEmptyPool
	}

	if m.applied > m.round {
		m.round = m.applied
	}
	m.round++
	m.phase = PhaseAwaiting
	m.loser = loser
	m.panels = panels

	msg := proto.ShowChoiceUI{Round: m.round, Loser: loser}
	if p, ok := m.cfg.Roster.Peer(loser); ok {
		msg.LossName = p.Nickname
	}
	options := make(map[string][]int, len(panels))
	for _, p := range panels {
		msg.Panels = append(msg.Panels, proto.ChoicePanel{Participant: p.actor, Options: append([]int(nil), p.options...)})
		options[actorKey(p.actor)] = p.options
	}
	span.SetAttributes(attribute.Int("arena.round", m.round))
	loggingdraft.Started(ctx, m.cfg.Publisher, m.cfg.CurrentTick(), loggingdraft.StartedPayload{Round: m.round, Loser: actorKey(loser), Options: options}, nil)
	return m.cfg.Sender.Send(ctx, messaging.All(), msg)
}

// Cancel drops any pending draft and closes the local panel.
func (m *Manager) Cancel() {
	m.phase = PhaseIdle
	m.panels = nil
	if m.view != nil {
		m.view = nil
		m.cfg.UI.HideDraft()
	}
}

// HandleShowChoiceUI disables local input and shows only the local panel.
func (m *Manager) HandleShowChoiceUI(ctx context.Context, msg proto.ShowChoiceUI) {
	if m.view != nil && m.view.Round >= msg.Round {
		return
	}
	view := View{Round: msg.Round, Loser: msg.Loser, LossName: msg.LossName, Panel: -1}
	local := m.cfg.Roster.Local()
	for i, panel := range msg.Panels {
		if panel.Participant != local {
			continue
		}
		view.Panel = i
		for _, idx := range panel.Options {
			if reward, ok := m.cfg.Catalog.Get(idx); ok {
				view.Options = append(view.Options, reward)
			}
		}
		break
	}
	m.view = &view
	m.chosen = false
	m.cfg.UI.SetInputEnabled(false)
	m.cfg.UI.ShowDraft(view)
}

// Choose submits the local pick by panel-local option index.
func (m *Manager) Choose(ctx context.Context, option int) error {
	if m.view == nil || m.view.Panel < 0 {
		return ErrNoPanel
	}
	if m.chosen {
		return ErrAlreadyChosen
	}
	if option < 0 || option >= len(m.view.Options) {
		return fmt.Errorf("choose option %d: out of range", option)
	}
	m.chosen = true
	m.cfg.UI.HideDraft()
	return m.cfg.Sender.Send(ctx, messaging.Authority(), proto.SubmitChoice{Panel: m.view.Panel, Choice: option})
}

// HandleSubmitChoice records a pick on the Authority. Submissions whose
// sender does not own the claimed panel are rejected without mutation. The
// resume broadcast happens only once both panels hold a pick.
func (m *Manager) HandleSubmitChoice(ctx context.Context, from session.ActorNumber, msg proto.SubmitChoice) error {
	if err := m.cfg.Roster.CanCommitOutcome(m.cfg.Roster.Local()); err != nil {
		return fmt.Errorf("submit choice: %w", err)
	}
	payload := loggingdraft.ChoicePayload{Panel: msg.Panel, Choice: msg.Choice}
	reject := func(reason string) error {
		payload.Reason = reason
		loggingdraft.ChoiceRejected(ctx, m.cfg.Publisher, m.cfg.CurrentTick(), peerRef(from), payload, nil)
		return nil
	}
	if m.phase != PhaseAwaiting {
		return reject("no pending draft")
	}
	if msg.Panel < 0 || msg.Panel >= len(m.panels) {
		return reject("unknown panel")
	}
	panel := &m.panels[msg.Panel]
	if panel.actor != from {
		return reject("sender does not own panel")
	}
	if msg.Choice < 0 || msg.Choice >= len(panel.options) {
		return reject("choice out of range")
	}
	if panel.pick >= 0 {
		return reject("already chosen")
	}
	panel.pick = panel.options[msg.Choice]
	payload.Reward = panel.pick
	loggingdraft.ChoiceRecorded(ctx, m.cfg.Publisher, m.cfg.CurrentTick(), peerRef(from), payload, nil)

	for _, p := range m.panels {
		if p.pick < 0 {
			return nil
		}
	}

	ctx, span := m.cfg.Tracer.Start(ctx, "draft.resolve", trace.WithAttributes(attribute.Int("arena.round", m.round)))
	defer span.End()
	m.phase = PhaseResolved
	resume := proto.ApplyChoicesAndResume{Round: m.round}
	for _, p := range m.panels {
		resume.Picks = append(resume.Picks, proto.ChoicePick{Participant: p.actor, Reward: p.pick})
	}
	return m.cfg.Sender.Send(ctx, messaging.All(), resume)
}

// HandleApplyChoicesAndResume applies both picks to the participants' stats,
// closes the draft and, on the Authority, starts the next round. A missing
// participant is skipped; the other side still applies.
func (m *Manager) HandleApplyChoicesAndResume(ctx context.Context, msg proto.ApplyChoicesAndResume) error {
	if msg.Round <= m.applied {
		return nil
	}
	m.applied = msg.Round

	picks := make(map[string]int, len(msg.Picks))
	for _, pick := range msg.Picks {
		picks[actorKey(pick.Participant)] = pick.Reward
		m.applyPick(ctx, msg.Round, pick)
	}
	loggingdraft.Resolved(ctx, m.cfg.Publisher, m.cfg.CurrentTick(), loggingdraft.ResolvedPayload{Round: msg.Round, Picks: picks}, nil)

	m.view = nil
	m.chosen = false
	m.cfg.UI.HideDraft()
	m.cfg.UI.SetInputEnabled(true)

	if !m.cfg.Roster.LocalIsAuthority() {
		return nil
	}
	m.phase = PhaseIdle
	m.panels = nil
	if m.cfg.Respawner == nil {
		return nil
	}
	return m.cfg.Respawner.Respawn(ctx)
}

func (m *Manager) applyPick(ctx context.Context, round int, pick proto.ChoicePick) {
	skip := func(reason string) {
		loggingdraft.SideSkipped(ctx, m.cfg.Publisher, m.cfg.CurrentTick(), peerRef(pick.Participant), loggingdraft.SkippedPayload{Reward: pick.Reward, Reason: reason}, nil)
	}
	reward, ok := m.cfg.Catalog.Get(pick.Reward)
	if !ok {
		skip("unknown reward")
		return
	}
	delta, err := reward.Delta()
	if err != nil {
		skip(err.Error())
		return
	}
	if m.cfg.Stats == nil {
		skip("no stats collaborator")
		return
	}
	comp, ok := m.cfg.Stats(pick.Participant)
	if !ok || comp == nil {
		skip("avatar not found")
		return
	}
	key := stats.SourceKey{Kind: "reward", ID: fmt.Sprintf("round-%d/%d", round, pick.Participant)}
	if !comp.Apply(stats.LayerReward, key, delta) {
		return
	}
	if m.cfg.OnApplied != nil {
		m.cfg.OnApplied(pick.Participant, reward)
	}
}

func actorKey(actor session.ActorNumber) string {
	return strconv.Itoa(int(actor))
}

func peerRef(actor session.ActorNumber) logging.EntityRef {
	return logging.PeerRef(actorKey(actor))
}
