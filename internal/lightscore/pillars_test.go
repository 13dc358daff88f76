package lightscore

import (
	"errors"
	"testing"

	"github.com/camly/backend/internal/validation"
)

func TestPillarScoresRoundTripCurrentVersion(t *testing.T) {
	p := PillarScores{Truth: 12, Trust: 7.5, Service: 10, Healing: 5, Community: 4, Sequence: 3}
	raw, err := EncodePillarScores(p)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodePillarScores(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	p.Version = CurrentPillarVersion
	if got != p {
		t.Errorf("got %+v, want %+v", got, p)
	}
}

func TestDecodePillarScoresMigratesV1(t *testing.T) {
	raw := []byte(`{"version":1,"truth":10,"trust":5,"service":8,"healing":2,"community":6}`)
	got, err := DecodePillarScores(raw)
	if err != nil {
		t.Fatalf("decode v1: %v", err)
	}
	want := PillarScores{Version: CurrentPillarVersion, Truth: 10, Trust: 5, Service: 8, Healing: 2, Community: 6}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestDecodePillarScoresFailsLoudly(t *testing.T) {
	cases := map[string]string{
		"missing version": `{"T":1}`,
		"future version":  `{"version":7,"T":1}`,
		"unknown field":   `{"version":2,"T":1,"bonus":4}`,
		"v1 with v2 keys": `{"version":1,"T":1}`,
		"out of range":    `{"version":2,"T":25,"U":0,"S":0,"H":0,"C":0,"SEQ":0}`,
		"not json":        `nope`,
		"truncated v2":    `{"version":2,"T":5}`,
		"v2 missing SEQ":  `{"version":2,"T":5,"U":1,"S":1,"H":1,"C":1}`,
		"truncated v1":    `{"version":1,"truth":10}`,
		"string score":    `{"version":2,"T":"5","U":1,"S":1,"H":1,"C":1,"SEQ":0}`,
	}
	for name, raw := range cases {
		if _, err := DecodePillarScores([]byte(raw)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}

	_, err := DecodePillarScores([]byte(`{"version":3}`))
	if !errors.Is(err, ErrUnknownPillarVersion) {
		t.Errorf("expected ErrUnknownPillarVersion, got %v", err)
	}
}

func TestEncodePillarScoresRejectsOutOfRange(t *testing.T) {
	if _, err := EncodePillarScores(PillarScores{Community: 16}); err == nil {
		t.Fatal("expected error for community above max")
	}
}

func TestDecodePillarScoresReportsSchemaFailure(t *testing.T) {
	_, err := DecodePillarScores([]byte(`{"version":2,"T":5}`))
	if !errors.Is(err, validation.ErrValidation) {
		t.Fatalf("expected a schema validation error, got %v", err)
	}
}
