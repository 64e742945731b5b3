package pipeline

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"mminte/internal/growth"
	"mminte/internal/interaction"
	"mminte/internal/logging"
	"mminte/internal/tables"
)

func TestZapObserverCategories(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	z := NewZapObserver(logging.Wrap(zap.New(core)))

	pair := tables.Pair{A: "a.xml", B: "b.xml"}
	z.PairFailed(pair, errors.New("bad file"))
	z.CommunityBuilt(pair, "aXb", "communityaXb.sbml", time.Millisecond)
	z.GrowthEvaluated(growth.Record{CommunityID: "aXb", FullA: 1}, time.Millisecond)
	z.Undetermined(interaction.Record{Record: growth.Record{CommunityID: "aXb"}})

	entries := logs.All()
	require.Len(t, entries, 4)
	assert.Equal(t, "assembly", entries[0].LoggerName)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, "a.xml/b.xml", entries[0].ContextMap()["pair"])
	assert.Equal(t, "communityaXb.sbml", entries[1].ContextMap()["file"])
	assert.Equal(t, "growth", entries[2].LoggerName)
	assert.Equal(t, "interaction", entries[3].LoggerName)
	assert.Equal(t, zapcore.WarnLevel, entries[3].Level)
}

func TestObserversFanOut(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	obs := Observers{a, b, NopObserver{}}
	obs.PairStarted(tables.Pair{A: "x", B: "y"})
	obs.Classified(interaction.Record{Type: interaction.Mutualism})
	for _, r := range []*recorder{a, b} {
		assert.Equal(t, 1, r.started)
		assert.Equal(t, []interaction.Type{interaction.Mutualism}, r.classified)
	}
}
