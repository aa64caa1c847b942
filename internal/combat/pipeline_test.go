package combat

import (
	"context"
	"testing"

	"arena-duel/server/internal/geom"
	"arena-duel/server/internal/health"
	"arena-duel/server/internal/messaging"
	"arena-duel/server/internal/net/proto"
	"arena-duel/server/internal/session"
	loggingcombat "arena-duel/server/logging/combat"
	"arena-duel/server/logging/sinks"
)

type testPeer struct {
	actor    session.ActorNumber
	roster   *session.Roster
	registry *session.Registry
	book     *health.Book
	endpoint *messaging.Endpoint
	pipeline *Pipeline
	events   *sinks.Memory
	deaths   []session.ActorNumber
	flashes  int
	ratio    float64
	pos      map[session.EntityID]geom.Vec3
}

func newTestPeer(t *testing.T, bus *messaging.Bus, actor session.ActorNumber, actors ...session.ActorNumber) *testPeer {
	t.Helper()
	p := &testPeer{
		actor:    actor,
		roster:   session.NewRoster(actor),
		registry: session.NewRegistry(),
		book:     health.NewBook(),
		endpoint: bus.Connect(actor),
		events:   sinks.NewMemory(),
		pos:      make(map[session.EntityID]geom.Vec3),
	}
	for _, a := range actors {
		p.roster.Join(a, "", -1)
		if err := p.registry.Register(session.Entity{ID: session.AvatarID(a), Kind: session.EntityAvatar, Owner: a}); err != nil {
			t.Fatalf("register: %v", err)
		}
		p.book.Track(session.AvatarID(a), 100)
	}
	p.pipeline = NewPipeline(PipelineConfig{
		Roster:   p.roster,
		Registry: p.registry,
		Health:   p.book,
		Sender:   messaging.NewOutbox(p.roster, p.registry, p.endpoint),
		Deaths: DeathSinkFunc(func(_ context.Context, victim, attacker session.ActorNumber) {
			p.deaths = append(p.deaths, victim)
		}),
		LifeSteal: func(session.ActorNumber) float64 { return p.ratio },
		Position: func(id session.EntityID) (geom.Vec3, bool) {
			v, ok := p.pos[id]
			return v, ok
		},
		Flash:     func(session.EntityID, int) { p.flashes++ },
		Publisher: p.events,
	})
	return p
}

func (p *testPeer) pump(t *testing.T) int {
	t.Helper()
	envs, err := p.endpoint.Drain()
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	ctx := context.Background()
	for _, env := range envs {
		switch msg := env.Message.(type) {
		case proto.ApplyDamage:
			err = p.pipeline.HandleApplyDamage(ctx, msg)
		case proto.ShowDamageEffect:
			err = p.pipeline.HandleShowDamageEffect(ctx, msg)
		case proto.Heal:
			err = p.pipeline.HandleHeal(ctx, msg)
		case proto.Explode:
			err = p.pipeline.HandleExplode(ctx, msg)
		}
		if err != nil {
			t.Fatalf("handle %s: %v", env.Message.Kind(), err)
		}
	}
	return len(envs)
}

func settle(t *testing.T, peers ...*testPeer) {
	t.Helper()
	for round := 0; round < 10; round++ {
		moved := 0
		for _, p := range peers {
			moved += p.pump(t)
		}
		if moved == 0 {
			return
		}
	}
	t.Fatalf("messages did not settle")
}

func TestLifeStealScenario(t *testing.T) {
	bus := messaging.NewBus()
	attacker := newTestPeer(t, bus, 1, 1, 2)
	victim := newTestPeer(t, bus, 2, 1, 2)
	attacker.ratio = 0.3

	attackerHealth, _ := attacker.book.Get(session.AvatarID(1))
	attackerHealth.ApplyDamage(20)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := attacker.pipeline.RequestDamage(ctx, session.AvatarID(2), 40, 1, proto.CauseDirect); err != nil {
			t.Fatalf("request: %v", err)
		}
	}
	settle(t, attacker, victim)

	victimOnOwner, _ := victim.book.Get(session.AvatarID(2))
	if victimOnOwner.Current() != 20 {
		t.Fatalf("expected victim owner to commit 20, got %d", victimOnOwner.Current())
	}
	victimOnAuthority, _ := attacker.book.Get(session.AvatarID(2))
	if victimOnAuthority.Current() != 20 || victimOnAuthority.Revision() != victimOnOwner.Revision() {
		t.Fatalf("authority and owner disagree: %d/%d vs %d/%d", victimOnAuthority.Current(), victimOnAuthority.Revision(), victimOnOwner.Current(), victimOnOwner.Revision())
	}
	if attackerHealth.Current() != 100 {
		t.Fatalf("expected attacker healed 80+12+12 clamped to 100, got %d", attackerHealth.Current())
	}
	if victim.flashes != 2 {
		t.Fatalf("expected two damage flashes, got %d", victim.flashes)
	}
	if steals := attacker.events.OfType(loggingcombat.EventLifeSteal); len(steals) != 2 {
		t.Fatalf("expected two life-steal events, got %d", len(steals))
	}
}

func TestDeathNotifiedOnceUnderDuplicateHits(t *testing.T) {
	bus := messaging.NewBus()
	authority := newTestPeer(t, bus, 1, 1, 2)
	other := newTestPeer(t, bus, 2, 1, 2)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := other.pipeline.RequestDamage(ctx, session.AvatarID(1), 60, 2, proto.CauseDirect); err != nil {
			t.Fatalf("request: %v", err)
		}
	}
	settle(t, authority, other)

	if len(authority.deaths) != 1 || authority.deaths[0] != 1 {
		t.Fatalf("expected exactly one death notification for actor 1, got %v", authority.deaths)
	}
	if len(other.deaths) != 0 {
		t.Fatalf("non-authority must never signal deaths")
	}
	state, _ := authority.book.Get(session.AvatarID(1))
	if state.Alive() || state.Current() != 0 {
		t.Fatalf("expected dead at zero, got %d %s", state.Current(), state.Status())
	}
	if discarded := authority.events.OfType(loggingcombat.EventDamageDiscarded); len(discarded) != 1 {
		t.Fatalf("expected one discarded request, got %d", len(discarded))
	}
	replica, _ := other.book.Get(session.AvatarID(1))
	if replica.Alive() || replica.Revision() != state.Revision() {
		t.Fatalf("replica missed the lethal commit: %d %s rev %d", replica.Current(), replica.Status(), replica.Revision())
	}
	if other.flashes != 0 {
		t.Fatalf("only the victim's owner plays the damage indicator")
	}
}

func TestNonAuthorityRejectsCommit(t *testing.T) {
	bus := messaging.NewBus()
	newTestPeer(t, bus, 1, 1, 2)
	other := newTestPeer(t, bus, 2, 1, 2)
	err := other.pipeline.HandleApplyDamage(context.Background(), proto.ApplyDamage{Target: session.AvatarID(1), Amount: 10, Attacker: 2})
	if err == nil {
		t.Fatalf("expected non-authority commit to fail")
	}
	state, _ := other.book.Get(session.AvatarID(1))
	if state.Current() != 100 {
		t.Fatalf("non-authority must not mutate health")
	}
}

func TestExplosionExcludesAttackerAndRespectsRadius(t *testing.T) {
	bus := messaging.NewBus()
	authority := newTestPeer(t, bus, 1, 1, 2, 3)
	b := newTestPeer(t, bus, 2, 1, 2, 3)
	c := newTestPeer(t, bus, 3, 1, 2, 3)

	authority.pos[session.AvatarID(1)] = geom.V(2, 0, 0)
	authority.pos[session.AvatarID(2)] = geom.V(0, 0, 0)
	authority.pos[session.AvatarID(3)] = geom.V(0, 0, 10)

	err := b.pipeline.cfg.Sender.Send(context.Background(), messaging.All(), proto.Explode{
		Projectile: "projectile-x",
		Attacker:   2,
		Point:      geom.V(1, 0, 0),
		Radius:     4,
		Damage:     15,
	})
	if err != nil {
		t.Fatalf("send explode: %v", err)
	}
	settle(t, authority, b, c)

	hp := func(actor session.ActorNumber) int {
		s, _ := authority.book.Get(session.AvatarID(actor))
		return s.Current()
	}
	if hp(1) != 85 {
		t.Fatalf("expected avatar in radius damaged, got %d", hp(1))
	}
	if hp(2) != 100 {
		t.Fatalf("attacker avatar must be excluded, got %d", hp(2))
	}
	if hp(3) != 100 {
		t.Fatalf("avatar outside radius must be untouched, got %d", hp(3))
	}
	if explosions := authority.events.OfType(loggingcombat.EventExplosion); len(explosions) != 1 {
		t.Fatalf("expected exactly one explosion fan-out, got %d", len(explosions))
	}
	if len(b.events.OfType(loggingcombat.EventExplosion)) != 0 {
		t.Fatalf("non-authority peers must not fan out explosions")
	}
}
