package main

import (
	"testing"
	"time"

	"github.com/tamwuff/scan2blob/internal/config"
	"github.com/tamwuff/scan2blob/internal/mimetypes"
)

func TestBuildGateAppliesDefaults(t *testing.T) {
	g := buildGate(config.GateConfig{})
	st := g.CurrentState()
	if st.Open {
		t.Errorf("expected gate closed by default")
	}
}

func TestBuildGateDefaultOpen(t *testing.T) {
	g := buildGate(config.GateConfig{DefaultOpen: true})
	st := g.CurrentState()
	if !st.Open {
		t.Errorf("expected gate open")
	}
}

func TestBuildGateHonorsExplicitLifetimes(t *testing.T) {
	g := buildGate(config.GateConfig{TimedAssertionLifetime: 1})
	g.AssertOpenTimed()
	ext := g.CurrentStateExtended()
	if !ext.Open || !ext.ResidualValid {
		t.Fatalf("expected a residual-bounded open gate, got %+v", ext)
	}
	if ext.Residual > time.Second {
		t.Errorf("expected the configured 1s lifetime to apply, got residual %v", ext.Residual)
	}
}

func TestMergeMimeOverrides(t *testing.T) {
	raw := mergeMimeOverrides(map[string]config.MimeOverride{
		"heic": {Suffix: ".heic", ContentType: "image/heic"},
		"pdf":  {ContentType: "application/x-custom-pdf"},
	})
	table := mimetypes.New(raw)

	if _, ct, ok := table.Resolve("scan.heic"); !ok || ct != "image/heic" {
		t.Errorf("heic override not applied: ct=%q ok=%v", ct, ok)
	}
	if _, ct, ok := table.Resolve("scan.pdf"); !ok || ct != "application/x-custom-pdf" {
		t.Errorf("pdf override not applied: ct=%q ok=%v", ct, ok)
	}
	if _, _, ok := table.Resolve("scan.png"); !ok {
		t.Errorf("expected default png entry to survive a partial override map")
	}
}
