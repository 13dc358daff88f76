package lightscore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/camly/backend/internal/validation"
)

const CurrentPillarVersion = 2

var ErrUnknownPillarVersion = errors.New("unknown pillar score version")

// PillarScores is the persisted per-pillar breakdown. Stored rows carry a
// version so older shapes are migrated explicitly instead of defaulting.
type PillarScores struct {
	Version   int     `json:"version"`
	Truth     float64 `json:"T"`
	Trust     float64 `json:"U"`
	Service   float64 `json:"S"`
	Healing   float64 `json:"H"`
	Community float64 `json:"C"`
	Sequence  float64 `json:"SEQ"`
}

// v1 rows used long names and had no sequence bonus.
type pillarScoresV1 struct {
	Version   int     `json:"version"`
	Truth     float64 `json:"truth"`
	Trust     float64 `json:"trust"`
	Service   float64 `json:"service"`
	Healing   float64 `json:"healing"`
	Community float64 `json:"community"`
}

func (p PillarScores) Sum() float64 {
	return p.Truth + p.Trust + p.Service + p.Healing + p.Community + p.Sequence
}

func (p PillarScores) rounded() PillarScores {
	r := func(v float64) float64 { return math.Round(v*100) / 100 }
	p.Truth, p.Trust, p.Service = r(p.Truth), r(p.Trust), r(p.Service)
	p.Healing, p.Community, p.Sequence = r(p.Healing), r(p.Community), r(p.Sequence)
	return p
}

func (p PillarScores) validate() error {
	check := func(name string, v, hi float64) error {
		if math.IsNaN(v) || v < 0 || v > hi {
			return fmt.Errorf("pillar %s out of range: %v", name, v)
		}
		return nil
	}
	return errors.Join(
		check("T", p.Truth, MaxTruth),
		check("U", p.Trust, MaxTrust),
		check("S", p.Service, MaxService),
		check("H", p.Healing, MaxHealing),
		check("C", p.Community, MaxCommunity),
		check("SEQ", p.Sequence, MaxSequence),
	)
}

func EncodePillarScores(p PillarScores) ([]byte, error) {
	p.Version = CurrentPillarVersion
	if err := p.validate(); err != nil {
		return nil, err
	}
	return json.Marshal(p)
}

// DecodePillarScores reads any known version and returns the current shape.
// Blobs are checked against their version's schema before migration, so a
// missing or extra field is an error rather than a zero.
func DecodePillarScores(raw []byte) (PillarScores, error) {
	var head struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return PillarScores{}, fmt.Errorf("decode pillar scores: %w", err)
	}
	if head.Version != 1 && head.Version != CurrentPillarVersion {
		return PillarScores{}, fmt.Errorf("%w: %d", ErrUnknownPillarVersion, head.Version)
	}
	if err := validation.ValidatePillarScores(head.Version, raw); err != nil {
		return PillarScores{}, fmt.Errorf("decode v%d pillar scores: %w", head.Version, err)
	}

	if head.Version == 1 {
		var v1 pillarScoresV1
		if err := strictUnmarshal(raw, &v1); err != nil {
			return PillarScores{}, fmt.Errorf("decode v1 pillar scores: %w", err)
		}
		p := PillarScores{
			Version:   CurrentPillarVersion,
			Truth:     v1.Truth,
			Trust:     v1.Trust,
			Service:   v1.Service,
			Healing:   v1.Healing,
			Community: v1.Community,
		}
		return p, p.validate()
	}
	var p PillarScores
	if err := strictUnmarshal(raw, &p); err != nil {
		return PillarScores{}, fmt.Errorf("decode pillar scores: %w", err)
	}
	return p, p.validate()
}

func strictUnmarshal(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
