// Package validate runs the second LLM pass that classifies "demand"
// signals as commercially relevant or not.
package validate

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/d-kowalski/signalpipe/internal/database"
	"github.com/d-kowalski/signalpipe/internal/llm"
	"github.com/d-kowalski/signalpipe/internal/model"
)

const (
	// Window limits validation to recently ingested signals.
	Window = 7 * 24 * time.Hour
	// MaxPerRun caps one validation pass.
	MaxPerRun = 5000
	// BatchSize is the number of signals per LLM call.
	BatchSize = 500
)

// Validator classifies unvalidated demand signals.
type Validator struct {
	db     database.Store
	client llm.Client
}

// New creates a validator with an injected LLM client.
func New(db database.Store, client llm.Client) *Validator {
	return &Validator{db: db, client: client}
}

// ValidateAndUpdate classifies pending demand signals and writes each
// verdict independently. Returns how many signals were updated. A
// provider or parse failure defaults the affected batch to valid (fail
// open) rather than aborting the run.
func (v *Validator) ValidateAndUpdate(ctx context.Context) (int, error) {
	since := time.Now().Add(-Window)
	signals, err := v.db.GetUnvalidatedDemandSignals(model.DemandTypes, since, MaxPerRun)
	if err != nil {
		return 0, fmt.Errorf("load demand signals: %w", err)
	}
	if len(signals) == 0 {
		return 0, nil
	}
	log.Printf("validate: classifying %d demand signals", len(signals))

	updated := 0
	for start := 0; start < len(signals); start += BatchSize {
		end := start + BatchSize
		if end > len(signals) {
			end = len(signals)
		}
		batch := signals[start:end]
		results := v.classifyBatch(ctx, batch)
		// Each update is issued independently; failures are counted,
		// never rolled back.
		for _, res := range results {
			if err := v.db.UpdateDemandValidation(res.SignalID, res.IsValid, res.Reason); err != nil {
				log.Printf("validate: write signal %d failed: %v", res.SignalID, err)
				continue
			}
			updated++
		}
	}
	return updated, nil
}

// verdict is one element of the array the prompt asks for. Index is
// 0-based.
type verdict struct {
	Index   *int   `json:"index"`
	IsValid *bool  `json:"isValid"`
	Reason  string `json:"reason"`
}

// classifyBatch returns one result per input signal. Results are
// matched strictly by the model's index field, not array position;
// signals the model skipped default to valid.
func (v *Validator) classifyBatch(ctx context.Context, batch []model.Signal) []model.ValidationResult {
	results := make([]model.ValidationResult, len(batch))
	for i, sig := range batch {
		results[i] = model.ValidationResult{SignalID: sig.ID, IsValid: true, Reason: "default: not classified"}
	}

	text, err := v.client.Generate(ctx, buildPrompt(batch))
	if err != nil {
		log.Printf("validate: llm call failed, batch defaults to valid: %v", err)
		return results
	}
	verdicts, err := parseVerdicts(text)
	if err != nil {
		log.Printf("validate: unparsable response, batch defaults to valid: %v", err)
		return results
	}
	for _, vd := range verdicts {
		if vd.Index == nil || *vd.Index < 0 || *vd.Index >= len(batch) || vd.IsValid == nil {
			continue
		}
		results[*vd.Index].IsValid = *vd.IsValid
		results[*vd.Index].Reason = vd.Reason
	}
	return results
}

// parseVerdicts tries a fenced code block first, then the first
// bracketed array anywhere in the raw text.
func parseVerdicts(text string) ([]verdict, error) {
	var verdicts []verdict
	if err := json.Unmarshal([]byte(llm.StripFences(text)), &verdicts); err == nil {
		return verdicts, nil
	}
	arr := llm.FirstJSONArray(text)
	if arr == "" {
		return nil, fmt.Errorf("no json array in response")
	}
	if err := json.Unmarshal([]byte(arr), &verdicts); err != nil {
		return nil, fmt.Errorf("decode verdicts: %w", err)
	}
	return verdicts, nil
}

func buildPrompt(batch []model.Signal) string {
	var b strings.Builder
	b.WriteString("You review user-posted items and decide whether each expresses a real, actionable demand ")
	b.WriteString("(a problem someone wants solved, a product request, a paid task) as opposed to chit-chat, spam or news.\n")
	b.WriteString(fmt.Sprintf("Respond with strict JSON only: an array of %d objects ", len(batch)))
	b.WriteString(`{"index":0,"isValid":true,"reason":"..."} where index is the 0-based item number.` + "\n\n")
	for i, sig := range batch {
		platform := sig.Metadata["platform"]
		if platform == "" {
			platform = sig.SourceType
		}
		b.WriteString(fmt.Sprintf("%d. [%s/%s] %s\n", i, platform, sig.Category, sig.Title))
	}
	return b.String()
}
