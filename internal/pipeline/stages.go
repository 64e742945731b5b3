package pipeline

import (
	"bytes"
	"context"
	"fmt"

	"mminte/internal/blob"
	"mminte/internal/community"
	"mminte/internal/diet"
	"mminte/internal/growth"
	"mminte/internal/model"
	"mminte/internal/modelio"
	"mminte/internal/tables"
)

// ContentTypeSBML is stored with every community model.
const ContentTypeSBML = "application/sbml+xml"

// Blob metadata keys of a community model.
const (
	MetaSpeciesA = "species-a"
	MetaSpeciesB = "species-b"
)

// assemble loads both species of pair and merges them, applying the build
// diet if one is set.
func (p *Pipeline) assemble(pair tables.Pair) (*model.Model, error) {
	p.observer().PairStarted(pair)
	a, err := modelio.Load(p.modelPath(pair.A))
	if err != nil {
		return nil, err
	}
	b, err := modelio.Load(p.modelPath(pair.B))
	if err != nil {
		return nil, err
	}
	m, err := community.Assemble(a, b)
	if err != nil {
		return nil, err
	}
	if p.BuildDiet != nil {
		var rep diet.Report
		if m, rep, err = diet.Apply(m, *p.BuildDiet); err != nil {
			return nil, err
		}
		p.observer().DietApplied(m.ID(), rep)
	}
	return m, nil
}

// persist writes m as SBML under its community file name.
func (p *Pipeline) persist(ctx context.Context, m *model.Model) (string, error) {
	data, err := modelio.Marshal(m, modelio.FormatSBML)
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", m.ID(), err)
	}
	key := community.FileName(m.ID())
	md := map[string]string{}
	if a, b, ok := community.Members(m); ok {
		md[MetaSpeciesA] = a
		md[MetaSpeciesB] = b
	}
	if _, err := p.Blob.Put(ctx, key, bytes.NewReader(data), blob.PutOptions{ContentType: ContentTypeSBML, Metadata: md}); err != nil {
		return "", fmt.Errorf("store %s: %w", key, err)
	}
	return key, nil
}

// loadCommunity reads a community model back from the blob store.
func (p *Pipeline) loadCommunity(ctx context.Context, key string) (*model.Model, error) {
	f, err := modelio.DetectFormat(key)
	if err != nil {
		return nil, &modelio.LoadError{Path: key, Err: err}
	}
	data, err := blob.ReadAll(ctx, p.Blob, key)
	if err != nil {
		return nil, &modelio.LoadError{Path: key, Err: err}
	}
	return modelio.LoadBytes(key, data, f)
}

// evaluateKey loads and evaluates one community model. Failures are
// reported to the observer and returned as *TaskError.
func (p *Pipeline) evaluateKey(ctx context.Context, ev *growth.Evaluator, key string) (growth.Record, error) {
	m, err := p.loadCommunity(ctx, key)
	var rec growth.Record
	if err == nil {
		rec, err = ev.Evaluate(ctx, m)
	}
	if err != nil {
		p.observer().EvaluationFailed(key, err)
		return growth.Record{}, &TaskError{Stage: StageGrow, Subject: key, Err: err}
	}
	return rec, nil
}
