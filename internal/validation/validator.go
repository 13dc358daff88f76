package validation

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrValidation can be used with errors.Is to detect validation failures.
var ErrValidation = errors.New("validation failed")

//go:embed schemas/mint_evidence.v1.json
var mintEvidenceSchema string

//go:embed schemas/pillar_scores.v1.json
var pillarScoresV1Schema string

//go:embed schemas/pillar_scores.v2.json
var pillarScoresV2Schema string

// ErrUnknownSchemaVersion is returned for a pillar blob version with no schema.
var ErrUnknownSchemaVersion = errors.New("no schema for version")

var pillarSchemas = sync.OnceValues(func() (map[int]*jsonschema.Schema, error) {
	out := make(map[int]*jsonschema.Schema, 2)
	for version, src := range map[int]string{1: pillarScoresV1Schema, 2: pillarScoresV2Schema} {
		url := fmt.Sprintf("https://camly.app/schemas/pillar_scores.v%d.json", version)
		s, err := jsonschema.CompileString(url, src)
		if err != nil {
			return nil, fmt.Errorf("compile pillar scores v%d schema: %w", version, err)
		}
		out[version] = s
	}
	return out, nil
})

type Validator struct {
	evidence *jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	evidence, err := jsonschema.CompileString("https://camly.app/schemas/mint_evidence.v1.json", mintEvidenceSchema)
	if err != nil {
		return nil, fmt.Errorf("compile mint evidence schema: %w", err)
	}
	return &Validator{evidence: evidence}, nil
}

// ValidateEvidence checks the free-form evidence attached to a mint request.
// Empty evidence is allowed.
func (v *Validator) ValidateEvidence(raw json.RawMessage) error {
	if len(strings.TrimSpace(string(raw))) == 0 || string(raw) == "null" {
		return nil
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%w: invalid JSON: %v", ErrValidation, err)
	}
	if err := v.evidence.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

// ValidatePillarScores checks a stored pillar blob against the schema of its
// version. Every field is required, so truncated blobs fail here.
func ValidatePillarScores(version int, raw []byte) error {
	schemas, err := pillarSchemas()
	if err != nil {
		return err
	}
	schema, ok := schemas[version]
	if !ok {
		return fmt.Errorf("%w: pillar scores v%d", ErrUnknownSchemaVersion, version)
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%w: invalid JSON: %v", ErrValidation, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

// NormalizeWallet validates an EVM address and returns its checksummed form.
// Mixed-case input must already carry a valid EIP-55 checksum.
func NormalizeWallet(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if !common.IsHexAddress(addr) || !strings.HasPrefix(strings.ToLower(addr), "0x") {
		return "", fmt.Errorf("%w: %q is not a wallet address", ErrValidation, addr)
	}
	checksummed := common.HexToAddress(addr).Hex()
	body := addr[2:]
	mixed := strings.ToLower(body) != body && strings.ToUpper(body) != body
	if mixed && addr[2:] != checksummed[2:] {
		return "", fmt.Errorf("%w: %q has an invalid checksum", ErrValidation, addr)
	}
	if checksummed == (common.Address{}).Hex() {
		return "", fmt.Errorf("%w: zero address", ErrValidation)
	}
	return checksummed, nil
}
