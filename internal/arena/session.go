// Package arena assembles one peer's view of a duel: it owns the avatars and
// every authority component, routes inbound messages to them, and advances
// the owned simulation once per fixed step.
package arena

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"arena-duel/server/internal/combat"
	"arena-duel/server/internal/draft"
	"arena-duel/server/internal/geom"
	"arena-duel/server/internal/health"
	"arena-duel/server/internal/match"
	"arena-duel/server/internal/messaging"
	"arena-duel/server/internal/net/proto"
	"arena-duel/server/internal/projectile"
	"arena-duel/server/internal/session"
	"arena-duel/server/internal/sim"
	"arena-duel/server/internal/stats"
	"arena-duel/server/logging"
	loggingnetwork "arena-duel/server/logging/network"
)

// ReasonRoundReset is the destroy reason for projectiles cleared on respawn.
const ReasonRoundReset = "round_reset"

// Session is the per-match context. It is not safe for concurrent use: the
// sim loop is its only caller.
type Session struct {
	cfg Config

	roster   *session.Roster
	registry *session.Registry
	book     *health.Book
	outbox   *messaging.Outbox
	gate     *inputGate

	pipeline    *combat.Pipeline
	projectiles *projectile.Sim
	director    *match.Director
	draft       *draft.Manager

	avatars map[session.ActorNumber]*Avatar

	tick        uint64
	now         time.Duration
	nextFireAt  time.Duration
	lastPublish time.Time
	resetQueued bool
	autoRound   int
}

// NewSession builds every component around the given link.
func NewSession(cfg Config) *Session {
	cfg = cfg.normalized()
	s := &Session{
		roster:   session.NewRoster(cfg.Local),
		registry: session.NewRegistry(),
		book:     health.NewBook(),
		gate:     &inputGate{UI: cfg.UI, enabled: true},
		avatars:  make(map[session.ActorNumber]*Avatar),
	}
	cfg.Publisher = logging.WithMatch(cfg.Publisher, cfg.MatchID)
	s.cfg = cfg
	s.outbox = messaging.NewOutbox(s.roster, s.registry, cfg.Link)
	currentTick := func() uint64 { return s.tick }

	s.draft = draft.NewManager(draft.Config{
		Catalog: cfg.Catalog,
		Sampler: cfg.Sampler,
		Roster:  s.roster,
		Sender:  s.outbox,
		Stats: func(actor session.ActorNumber) (*stats.Component, bool) {
			a, ok := s.avatars[actor]
			if !ok {
				return nil, false
			}
			return a.Stats, true
		},
		Respawner:   draft.RespawnerFunc(func(ctx context.Context) error { return s.director.Respawn(ctx) }),
		UI:          s.gate,
		OnApplied:   s.rewardApplied,
		Logger:      cfg.Logger,
		Publisher:   cfg.Publisher,
		CurrentTick: currentTick,
		Tracer:      cfg.Tracer,
	})

	s.director = match.NewDirector(match.DirectorConfig{
		Rules:       cfg.Match,
		MatchID:     cfg.MatchID,
		Roster:      s.roster,
		Sender:      s.outbox,
		Health:      s.book,
		Draft:       s.draft,
		Recorder:    cfg.Recorder,
		Reposition:  s.reposition,
		OnScore:     cfg.UI.ShowScore,
		OnEndGame:   cfg.UI.ShowEndGame,
		OnRespawn:   s.respawned,
		Logger:      cfg.Logger,
		Publisher:   cfg.Publisher,
		CurrentTick: currentTick,
		Tracer:      cfg.Tracer,
	})

	s.pipeline = combat.NewPipeline(combat.PipelineConfig{
		Roster:   s.roster,
		Registry: s.registry,
		Health:   s.book,
		Sender:   s.outbox,
		Deaths:   s.director,
		LifeSteal: func(actor session.ActorNumber) float64 {
			if a, ok := s.avatars[actor]; ok {
				return a.Stats.Snapshot().LifeSteal
			}
			return 0
		},
		Position: func(id session.EntityID) (geom.Vec3, bool) {
			owner, ok := s.registry.Owner(id)
			if !ok {
				return geom.Zero, false
			}
			a, ok := s.avatars[owner]
			if !ok {
				return geom.Zero, false
			}
			return a.Center(), true
		},
		Flash: func(victim session.EntityID, amount int) {
			if victim == session.AvatarID(s.roster.Local()) {
				s.gate.FlashDamage(amount)
			}
		},
		Publisher:   cfg.Publisher,
		CurrentTick: currentTick,
		Tracer:      cfg.Tracer,
	})

	s.projectiles = projectile.NewSim(projectile.SimConfig{
		Config:     cfg.Projectile,
		Roster:     s.roster,
		Registry:   s.registry,
		Sender:     s.outbox,
		Damage:     s.pipeline,
		Candidates: s.candidates,
	})

	return s
}

func (s *Session) Roster() *session.Roster      { return s.roster }
func (s *Session) Director() *match.Director    { return s.director }
func (s *Session) Draft() *draft.Manager        { return s.draft }
func (s *Session) Projectiles() *projectile.Sim { return s.projectiles }
func (s *Session) Health() *health.Book         { return s.book }
func (s *Session) MatchID() string              { return s.cfg.MatchID }
func (s *Session) InputEnabled() bool           { return s.gate.enabled }
func (s *Session) TimeScale() float64           { return s.director.TimeScale() }
func (s *Session) Now() time.Duration           { return s.now }

// LocalAvatar returns the avatar this peer owns.
func (s *Session) LocalAvatar() (*Avatar, bool) { return s.Avatar(s.roster.Local()) }

func (s *Session) Avatar(actor session.ActorNumber) (*Avatar, bool) {
	a, ok := s.avatars[actor]
	return a, ok
}

// Join admits a peer without a relay, used by in-process matches.
func (s *Session) Join(ctx context.Context, actor session.ActorNumber, nickname string) error {
	peer := s.roster.Join(actor, nickname, -1)
	s.ensureAvatar(actor)
	loggingnetwork.PeerJoined(ctx, s.cfg.Publisher, s.tick, peerRef(actor), loggingnetwork.PeerPayload{Nickname: nickname, Slot: peer.Slot}, nil)
	return s.director.Join(ctx, actor)
}

// Leave removes a peer and its avatar.
func (s *Session) Leave(ctx context.Context, actor session.ActorNumber) error {
	previous, _ := s.roster.Authority()
	next, changed := s.roster.Leave(actor)
	return s.departed(ctx, []session.ActorNumber{actor}, previous, next, changed)
}

func (s *Session) departed(ctx context.Context, gone []session.ActorNumber, previous, next session.ActorNumber, changed bool) error {
	for _, actor := range gone {
		if a, ok := s.avatars[actor]; ok {
			s.registry.Remove(a.ID)
			s.book.Forget(a.ID)
			delete(s.avatars, actor)
		}
		loggingnetwork.PeerLeft(ctx, s.cfg.Publisher, s.tick, peerRef(actor), loggingnetwork.PeerPayload{Reason: "disconnected"}, nil)
	}
	if changed {
		loggingnetwork.AuthorityChanged(ctx, s.cfg.Publisher, s.tick, peerRef(next), loggingnetwork.AuthorityPayload{Previous: int(previous), Next: int(next)}, nil)
	}
	if len(gone) == 0 || !s.roster.LocalIsAuthority() {
		return nil
	}
	// A departure can strand the round: the old Authority may have owned the
	// slow-motion timer, or the draft may be waiting on a missing pick.
	slowed := changed && s.director.TimeScale() != 1
	if !slowed && !s.draft.Pending() && s.gate.view == nil {
		return nil
	}
	s.draft.Cancel()
	s.gate.SetInputEnabled(true)
	if slowed {
		if err := s.outbox.Send(ctx, messaging.All(), proto.SetTimeScale{Scale: 1}); err != nil {
			return err
		}
	}
	return s.director.Respawn(ctx)
}

func (s *Session) ensureAvatar(actor session.ActorNumber) *Avatar {
	if a, ok := s.avatars[actor]; ok {
		return a
	}
	a := newAvatar(actor)
	if err := s.registry.Register(session.Entity{ID: a.ID, Kind: session.EntityAvatar, Owner: actor}); err != nil {
		s.cfg.Logger.Printf("arena: avatar for %d: %v", actor, err)
	}
	s.book.Track(a.ID, a.Stats.Snapshot().MaxHealth)
	if slot, err := s.roster.Slot(actor); err == nil {
		spawn := s.cfg.Match.SpawnPoints[slot%len(s.cfg.Match.SpawnPoints)]
		a.place(spawn.Position, spawn.Yaw)
	}
	s.avatars[actor] = a
	return a
}

// Dispatch routes one inbound envelope. Every message kind has exactly one
// handler.
func (s *Session) Dispatch(ctx context.Context, env proto.Envelope) error {
	if env.Message == nil {
		return fmt.Errorf("dispatch: nil message from %d", env.From)
	}
	err := s.route(ctx, env)
	if errors.Is(err, session.ErrNotAuthority) {
		loggingnetwork.MessageDropped(ctx, s.cfg.Publisher, s.tick, peerRef(env.From), loggingnetwork.DropPayload{
			Kind:   env.Message.Kind().String(),
			Reason: "not_authority",
		}, nil)
		return nil
	}
	return err
}

func (s *Session) route(ctx context.Context, env proto.Envelope) error {
	switch msg := env.Message.(type) {
	case proto.ApplyDamage:
		return s.pipeline.HandleApplyDamage(ctx, msg)
	case proto.ShowDamageEffect:
		return s.pipeline.HandleShowDamageEffect(ctx, msg)
	case proto.Heal:
		return s.pipeline.HandleHeal(ctx, msg)
	case proto.Explode:
		s.gate.ShowExplosion(msg.Point, msg.Radius)
		return s.pipeline.HandleExplode(ctx, msg)
	case proto.UpdateScore:
		s.director.HandleUpdateScore(ctx, msg)
	case proto.EndGame:
		s.draft.Cancel()
		s.director.HandleEndGame(ctx, msg)
	case proto.SetTimeScale:
		s.director.HandleSetTimeScale(ctx, msg)
	case proto.RespawnAll:
		if !s.gate.enabled {
			s.draft.Cancel()
			s.gate.SetInputEnabled(true)
		}
		s.director.HandleRespawnAll(ctx, msg)
	case proto.ShowChoiceUI:
		s.draft.HandleShowChoiceUI(ctx, msg)
	case proto.SubmitChoice:
		return s.draft.HandleSubmitChoice(ctx, env.From, msg)
	case proto.ApplyChoicesAndResume:
		return s.draft.HandleApplyChoicesAndResume(ctx, msg)
	case proto.SpawnProjectile:
		s.projectiles.HandleSpawnProjectile(msg)
	case proto.DestroyProjectile:
		s.projectiles.HandleDestroyProjectile(msg)
	case proto.Welcome:
		s.roster.SetLocal(msg.Actor)
	case proto.Roster:
		return s.applyRoster(ctx, msg)
	default:
		return fmt.Errorf("dispatch %s: %w", env.Message.Kind(), proto.ErrUnknownKind)
	}
	return nil
}

// applyRoster replaces membership with the relay's view and reconciles
// avatars, scores and any draft that lost a participant.
func (s *Session) applyRoster(ctx context.Context, msg proto.Roster) error {
	previous, _ := s.roster.Authority()
	before := make(map[session.ActorNumber]bool, s.roster.Len())
	for _, p := range s.roster.Peers() {
		before[p.Actor] = true
	}

	peers := make([]session.Peer, 0, len(msg.Peers))
	for _, p := range msg.Peers {
		peers = append(peers, session.Peer{Actor: p.Actor, Nickname: p.Nickname, Slot: p.Slot})
	}
	s.roster.Replace(peers)

	for _, p := range msg.Peers {
		if before[p.Actor] {
			delete(before, p.Actor)
			continue
		}
		s.ensureAvatar(p.Actor)
		loggingnetwork.PeerJoined(ctx, s.cfg.Publisher, s.tick, peerRef(p.Actor), loggingnetwork.PeerPayload{Nickname: p.Nickname, Slot: p.Slot}, nil)
	}
	gone := make([]session.ActorNumber, 0, len(before))
	for actor := range before {
		gone = append(gone, actor)
	}
	sort.Slice(gone, func(i, j int) bool { return gone[i] < gone[j] })

	next, _ := s.roster.Authority()
	if msg.Authority != 0 && msg.Authority != next {
		s.cfg.Logger.Printf("arena: relay names %d as authority, roster order gives %d", msg.Authority, next)
	}
	if err := s.departed(ctx, gone, previous, next, previous != next); err != nil {
		return err
	}
	for _, p := range msg.Peers {
		if err := s.director.Join(ctx, p.Actor); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) reposition(spawn match.SpawnPoint) {
	if a, ok := s.LocalAvatar(); ok {
		a.place(spawn.Position, spawn.Yaw)
	}
}

func (s *Session) respawned(round int) {
	s.resetQueued = true
	if lockout := s.now + s.cfg.RespawnFireLockout; lockout > s.nextFireAt {
		s.nextFireAt = lockout
	}
}

func (s *Session) rewardApplied(actor session.ActorNumber, reward draft.Reward) {
	if reward.Effect != draft.EffectMaxHealth {
		return
	}
	a, ok := s.avatars[actor]
	if !ok {
		return
	}
	if st, ok := s.book.Get(a.ID); ok {
		st.SetMax(a.Stats.Snapshot().MaxHealth)
	}
}

func (s *Session) candidates() []projectile.Candidate {
	out := make([]projectile.Candidate, 0, len(s.avatars))
	for _, a := range s.avatars {
		if st, ok := s.book.Get(a.ID); !ok || !st.Alive() {
			continue
		}
		out = append(out, projectile.Candidate{Avatar: a.ID, Position: a.Center()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Avatar < out[j].Avatar })
	return out
}

func (s *Session) bodies() []Body {
	out := make([]Body, 0, len(s.avatars))
	for _, c := range s.candidates() {
		owner, _ := s.registry.Owner(c.Avatar)
		out = append(out, Body{Avatar: c.Avatar, Owner: owner, Center: c.Position})
	}
	return out
}

// Contact reports a collision from an external physics engine.
func (s *Session) Contact(ctx context.Context, id session.EntityID, contact projectile.Contact) error {
	return s.projectiles.Collide(ctx, id, contact)
}

// Choose submits the local draft pick.
func (s *Session) Choose(ctx context.Context, option int) error {
	return s.draft.Choose(ctx, option)
}

// Step implements sim.Stepper.
func (s *Session) Step(ctx context.Context, tick sim.TickContext) error {
	s.tick = tick.Tick
	s.now = tick.ScaledNow

	if s.cfg.Link != nil {
		envs, err := s.cfg.Link.Drain()
		for _, env := range envs {
			if derr := s.Dispatch(ctx, env); derr != nil {
				s.cfg.Logger.Printf("arena: %s from %d: %v", env.Message.Kind(), env.From, derr)
			}
		}
		if err != nil {
			return fmt.Errorf("drain link: %w", err)
		}
		for _, frame := range s.cfg.Link.DrainStates() {
			s.applySelfState(frame)
		}
	}

	if s.resetQueued {
		s.resetQueued = false
		if err := s.projectiles.DestroyAll(ctx, ReasonRoundReset); err != nil {
			return err
		}
	}

	commands := tick.Commands
	if s.cfg.Autopilot {
		commands = append(commands, s.autopilot(tick.Now)...)
	}
	for _, cmd := range commands {
		if err := s.apply(ctx, cmd); err != nil {
			s.cfg.Logger.Printf("arena: command %s: %v", cmd.Type, err)
		}
	}

	if a, ok := s.LocalAvatar(); ok {
		a.integrate(s.now, tick.Scaled, a.Stats.Snapshot(), s.cfg.Movement, s.cfg.Bounds)
	}

	if err := s.projectiles.Step(ctx, s.now, tick.Scaled); err != nil {
		return err
	}
	bodies := s.bodies()
	for _, id := range s.projectiles.Owned() {
		p, ok := s.projectiles.Get(id)
		if !ok || p.Destroyed() {
			continue
		}
		contact, hit := s.cfg.Physics.Detect(p, bodies)
		if !hit {
			continue
		}
		if !contact.Damageable {
			p.Position = contact.Point
		}
		if err := s.projectiles.Collide(ctx, id, contact); err != nil {
			return err
		}
	}

	if err := s.director.Tick(ctx, s.now); err != nil {
		return err
	}
	s.publish(tick.Now)
	return nil
}

func (s *Session) localAlive() (*Avatar, bool) {
	a, ok := s.LocalAvatar()
	if !ok {
		return nil, false
	}
	st, ok := s.book.Get(a.ID)
	return a, ok && st.Alive()
}

func (s *Session) apply(ctx context.Context, cmd sim.Command) error {
	if cmd.Type == sim.CommandChoose {
		if cmd.Choose == nil {
			return fmt.Errorf("choose without payload")
		}
		return s.draft.Choose(ctx, cmd.Choose.Option)
	}
	if !s.gate.enabled || s.director.Phase() == match.PhaseEnded {
		return nil
	}
	a, alive := s.localAlive()
	if !alive {
		return nil
	}
	snap := a.Stats.Snapshot()
	switch cmd.Type {
	case sim.CommandMove:
		if cmd.Move != nil {
			a.setMove(*cmd.Move)
		}
	case sim.CommandLook:
		if cmd.Look != nil {
			a.look(*cmd.Look, s.cfg.Movement)
		}
	case sim.CommandJump:
		a.jump(snap)
	case sim.CommandDash:
		a.dash(s.now, snap, s.cfg.Movement)
	case sim.CommandFire:
		if s.now < s.nextFireAt {
			return nil
		}
		if _, err := s.projectiles.Fire(ctx, s.now, a.Muzzle(s.cfg.Movement), a.Facing(), snap); err != nil {
			return err
		}
		s.nextFireAt = s.now + snap.FireCooldown
	default:
		return fmt.Errorf("unknown command %q", cmd.Type)
	}
	return nil
}

// autopilot aims at the opponent and fires, and takes the first option of
// any draft panel it is shown.
func (s *Session) autopilot(now time.Time) []sim.Command {
	if v := s.gate.view; v != nil {
		if v.Panel >= 0 && v.Round > s.autoRound {
			s.autoRound = v.Round
			return []sim.Command{{Type: sim.CommandChoose, IssuedAt: now, Choose: &sim.ChooseCommand{Option: 0}}}
		}
		return nil
	}
	a, ok := s.LocalAvatar()
	if !ok {
		return nil
	}
	opponent, ok := s.roster.Opponent(a.Owner)
	if !ok {
		return nil
	}
	target, ok := s.avatars[opponent.Actor]
	if !ok {
		return nil
	}
	aim := target.Center().Sub(a.Muzzle(s.cfg.Movement))
	planar := math.Hypot(aim.X, aim.Z)
	look := &sim.LookCommand{Yaw: math.Atan2(aim.X, aim.Z), Pitch: math.Atan2(aim.Y, planar)}
	return []sim.Command{
		{Type: sim.CommandLook, IssuedAt: now, Look: look},
		{Type: sim.CommandFire, IssuedAt: now},
	}
}

func (s *Session) publish(now time.Time) {
	if s.cfg.Link == nil || (!s.lastPublish.IsZero() && now.Sub(s.lastPublish) < s.cfg.PublishInterval) {
		return
	}
	a, ok := s.LocalAvatar()
	if !ok {
		return
	}
	st, ok := s.book.Get(a.ID)
	if !ok {
		return
	}
	data, err := proto.EncodeSelfState(proto.SelfState{
		Actor:     a.Owner,
		Avatar:    a.ID,
		Health:    st.Current(),
		MaxHealth: st.Max(),
		Revision:  st.Revision(),
		Position:  a.Position,
		Yaw:       a.Yaw,
		Pitch:     a.Pitch,
		Tick:      s.tick,
	})
	if err != nil {
		s.cfg.Logger.Printf("arena: %v", err)
		return
	}
	s.lastPublish = now
	s.cfg.Link.PublishState(data)
}

// applySelfState adopts a remote owner's publication for its avatar replica.
func (s *Session) applySelfState(frame []byte) {
	state, err := proto.DecodeSelfState(frame)
	if err != nil {
		s.cfg.Logger.Printf("arena: %v", err)
		return
	}
	if state.Actor == s.roster.Local() {
		return
	}
	a, ok := s.avatars[state.Actor]
	if !ok || a.ID != state.Avatar {
		return
	}
	a.Position = state.Position
	a.Yaw = state.Yaw
	a.Pitch = state.Pitch
	if hs, ok := s.book.Get(a.ID); ok {
		hs.Sync(state.Health, state.MaxHealth, state.Revision)
	}
}

func peerRef(actor session.ActorNumber) logging.EntityRef {
	return logging.PeerRef(fmt.Sprintf("%d", actor))
}

var _ sim.Stepper = (*Session)(nil)
