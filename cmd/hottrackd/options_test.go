package main

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mohammed-shakir/hottrack/internal/config"
	"github.com/mohammed-shakir/hottrack/internal/hotness/expdecay"
	"github.com/mohammed-shakir/hottrack/internal/hotness/metricswrap"
	"github.com/mohammed-shakir/hottrack/internal/hottrack"
)

func newRoot(t *testing.T, cfg config.Config) *hottrack.Root {
	t.Helper()
	reg, err := policyRegistry(cfg, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	opts := append(rootOptions(cfg, reg, nil, zerolog.Nop()), hottrack.WithManualAging())
	root, err := hottrack.New("vol0", opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(root.Stop)
	return root
}

func unwrap(t *testing.T, p hottrack.Policy) hottrack.Policy {
	t.Helper()
	w, ok := p.(*metricswrap.Policy)
	if !ok {
		t.Fatalf("policy %T is not wrapped", p)
	}
	return w.Unwrap()
}

func TestPolicyRegistryNames(t *testing.T) {
	reg, err := policyRegistry(config.Defaults(), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	got := reg.Names()
	want := []string{hottrack.DefaultPolicyName, expdecay.Name, TunedPolicyName}
	if len(got) != len(want) {
		t.Fatalf("names=%v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("names=%v want %v", got, want)
		}
	}
}

func TestRootOptionsFromConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.Policy = TunedPolicyName
	cfg.KickThreshold = 42 * time.Second
	cfg.RangeBits = 16
	cfg.DoorkeeperItems = 1000

	root := newRoot(t, cfg)
	info := root.Info()
	if info.Policy != TunedPolicyName || info.RangeBits != 16 {
		t.Fatalf("info=%+v", info)
	}
	dp, ok := unwrap(t, root.Policy()).(*hottrack.DefaultPolicy)
	if !ok {
		t.Fatalf("policy type %T", root.Policy())
	}
	if got := dp.Params().KickThreshold; got != 42*time.Second {
		t.Fatalf("kick threshold=%v", got)
	}
}

func TestExpDecayFromConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.Policy = expdecay.Name
	cfg.HalfLife = 10 * time.Second

	root := newRoot(t, cfg)
	p, ok := unwrap(t, root.Policy()).(*expdecay.Policy)
	if !ok || p.HalfLife != 10*time.Second {
		t.Fatalf("policy=%+v", root.Policy())
	}
}

func TestUnknownPolicyFallsBack(t *testing.T) {
	cfg := config.Defaults()
	cfg.Policy = "nope"
	root := newRoot(t, cfg)
	if got := root.Info().Policy; got != hottrack.DefaultPolicyName {
		t.Fatalf("policy=%q", got)
	}
	if unwrap(t, root.Policy()) != hottrack.Default() {
		t.Fatal("fallback is not the wrapped built-in policy")
	}
}
