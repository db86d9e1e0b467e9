package engine

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"secretsanta/internal/domain"
)

// ImportSkip describes a CSV row that was not imported.
type ImportSkip struct {
	Line   int    `json:"line"`
	Name   string `json:"name,omitempty"`
	Reason string `json:"reason"`
}

type ImportResult struct {
	Added   []domain.Participant `json:"added"`
	Skipped []ImportSkip         `json:"skipped"`
}

// ImportParticipants reads "name[,password]" rows and adds each participant.
// Malformed or conflicting rows are skipped; storage failures abort the import.
func (e Engine) ImportParticipants(ctx context.Context, r io.Reader, actorID string) (ImportResult, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	var res ImportResult
	for first := true; ; first = false {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return res, fmt.Errorf("read csv: %w", err)
		}
		line, _ := reader.FieldPos(0)
		if first && len(record) > 0 && strings.EqualFold(strings.TrimSpace(strings.TrimPrefix(record[0], bom)), "name") {
			continue
		}
		if len(record) == 0 || len(record) > 2 {
			e.logger().Info("skipping malformed participant csv record", "line", line)
			res.Skipped = append(res.Skipped, ImportSkip{Line: line, Reason: "malformed"})
			continue
		}
		name := strings.TrimPrefix(record[0], bom)
		password := ""
		if len(record) == 2 {
			password = record[1]
		}
		p, err := e.AddParticipant(ctx, AddParticipantOptions{Name: name, Password: password, ActorID: actorID})
		if err != nil {
			code := domain.Code(err)
			if code == "" {
				return res, err
			}
			res.Skipped = append(res.Skipped, ImportSkip{Line: line, Name: strings.TrimSpace(name), Reason: code})
			continue
		}
		res.Added = append(res.Added, p)
	}
	return res, nil
}

const bom = "\xef\xbb\xbf"

// ExportPairs writes the drawn pairs as CSV, prefixed with a UTF-8 BOM for spreadsheet apps.
func (e Engine) ExportPairs(ctx context.Context, w io.Writer) error {
	pairs, err := e.Pairs(ctx)
	if err != nil {
		return err
	}
	if len(pairs) == 0 {
		return domain.ErrNotDistributedYet
	}
	if _, err := io.WriteString(w, bom); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"giver", "receiver"}); err != nil {
		return err
	}
	for _, p := range pairs {
		if err := cw.Write([]string{p.Giver, p.Receiver}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
