package main

import (
	"github.com/rs/zerolog"

	"github.com/mohammed-shakir/hottrack/internal/config"
	"github.com/mohammed-shakir/hottrack/internal/hotness/expdecay"
	"github.com/mohammed-shakir/hottrack/internal/hotness/metricswrap"
	"github.com/mohammed-shakir/hottrack/internal/hottrack"
)

// TunedPolicyName is the built-in formula with the configured kick threshold.
const TunedPolicyName = "tuned"

const (
	doorkeeperFP = 0.01
	hotLogSample = 0.01
)

// policyRegistry binds every policy the daemon offers, each wrapped with
// scoring metrics.
func policyRegistry(cfg config.Config, log zerolog.Logger) (*hottrack.Registry, error) {
	reg := hottrack.NewRegistry()
	reg.Unregister(hottrack.Default())

	tuned := hottrack.DefaultParams()
	tuned.KickThreshold = cfg.KickThreshold

	policies := map[string]hottrack.Policy{
		hottrack.DefaultPolicyName: hottrack.Default(),
		TunedPolicyName:            hottrack.NewDefaultPolicy(tuned),
		expdecay.Name:              expdecay.New(cfg.HalfLife),
	}
	for name, p := range policies {
		var opts []metricswrap.Option
		if cfg.HotBucket > 0 {
			opts = append(opts, metricswrap.WithHotLog(log, cfg.HotBucket, hotLogSample))
		}
		if err := reg.Register(name, metricswrap.New(p, name, opts...)); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// rootOptions maps the daemon configuration onto the options every tracked
// domain is created with. sink may be nil.
func rootOptions(cfg config.Config, reg *hottrack.Registry, sink hottrack.EventSink, log zerolog.Logger) []hottrack.Option {
	opts := []hottrack.Option{
		hottrack.WithLogger(log),
		hottrack.WithRegistry(reg),
		hottrack.WithPolicyName(cfg.Policy),
		hottrack.WithRangeBits(cfg.RangeBits),
		hottrack.WithAgingInterval(cfg.AgingInterval),
		hottrack.WithMaxObjects(cfg.MaxObjects),
		hottrack.WithMaxRanges(cfg.MaxRanges),
		hottrack.WithMaxSpanRanges(cfg.MaxSpanRanges),
		hottrack.WithObjectEviction(cfg.EvictObjects),
	}
	if cfg.DoorkeeperItems > 0 {
		opts = append(opts, hottrack.WithDoorkeeper(cfg.DoorkeeperItems, doorkeeperFP))
	}
	if sink != nil {
		opts = append(opts, hottrack.WithEventSink(sink))
	}
	return opts
}
