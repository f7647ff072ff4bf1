package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"qcert/internal/contract"
	"qcert/internal/domain"
)

// Engine computes the two content hashes of a normalized packet. The
// contract decides which fields are in scope of the judgement-equal hash;
// free-text never participates in it.
type Engine struct {
	contract *contract.Contract
}

// NewEngine builds a fingerprint engine over the loaded contract.
func NewEngine(c *contract.Contract) *Engine {
	return &Engine{contract: c}
}

// Hashes returns (packet_hash, packet_full_hash). Two packets with equal
// packet_hash are judgement-equal; packet_full_hash additionally covers
// free-text for change detection and audit.
func (e *Engine) Hashes(p *domain.NormalizedPacket) (string, string, error) {
	packetHash, err := e.hash(p, e.contract.HashKeys())
	if err != nil {
		return "", "", err
	}
	fullHash, err := e.hash(p, e.contract.FieldKeys())
	if err != nil {
		return "", "", err
	}
	return packetHash, fullHash, nil
}

func (e *Engine) hash(p *domain.NormalizedPacket, keys []string) (string, error) {
	payload, err := canonicalJSON(p, keys)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

// canonicalJSON serializes the packet deterministically: sorted keys, no
// whitespace, UTF-8, nulls as JSON null. Every in-scope declared key is
// present, absent packet values serialize as null. Measurement rows are an
// array of objects sorted by row index.
func canonicalJSON(p *domain.NormalizedPacket, keys []string) ([]byte, error) {
	fields := make(map[string]*string, len(keys))
	for _, key := range keys {
		fields[key] = p.Fields[key]
	}

	rows := make([]domain.MeasurementRow, len(p.MeasurementRows))
	copy(rows, p.MeasurementRows)
	sort.Slice(rows, func(i, j int) bool { return rows[i].Index < rows[j].Index })

	doc := map[string]any{
		"fields":           fields,
		"measurement_rows": rows,
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("canonical serialization: %w", err)
	}
	return payload, nil
}
