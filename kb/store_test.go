package kb

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/surveyflow/config"
	"github.com/BaSui01/surveyflow/types"
)

func sampleExperience(scoutID string, personaID, answered int, term types.Termination) types.ScoutExperience {
	return types.ScoutExperience{
		ScoutID:       scoutID,
		Persona:       types.Persona{ID: personaID, Name: fmt.Sprintf("p%d", personaID), Age: 30},
		Termination:   term,
		AnsweredCount: answered,
		StartedAt:     time.Now().Add(-time.Minute),
		FinishedAt:    time.Now(),
	}
}

// ephemeralBackends returns one of each backend so shared contract tests run
// against both.
func ephemeralBackends(t *testing.T) map[string]EphemeralStore {
	t.Helper()

	mr := miniredis.RunT(t)
	redisStore, err := NewRedisStore(config.KBConfig{RedisAddr: mr.Addr()}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = redisStore.Close() })

	return map[string]EphemeralStore{
		"memory": NewMemoryStore(),
		"redis":  redisStore,
	}
}

func TestEphemeralRecordAndSnapshot(t *testing.T) {
	for name, store := range ephemeralBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, store.RecordExperience(ctx, "https://q.example/u1", sampleExperience("s1", 1, 5, types.TerminationNormal)))
			require.NoError(t, store.RecordExperience(ctx, "https://q.example/u1", sampleExperience("s2", 2, 3, types.TerminationTrap)))

			got, err := store.ExperiencesFor(ctx, "https://q.example/u1")
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "s1", got[0].ScoutID)
			assert.Equal(t, 5, got[0].AnsweredCount)
		})
	}
}

func TestEphemeralURLIsolation(t *testing.T) {
	for name, store := range ephemeralBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			urlA, urlB := "https://q.example/a", "https://q.example/b"

			require.NoError(t, store.RecordExperience(ctx, urlA, sampleExperience("a1", 1, 1, types.TerminationNormal)))
			require.NoError(t, store.RecordExperience(ctx, urlB, sampleExperience("b1", 2, 2, types.TerminationNormal)))

			// Writes land in distinct partitions.
			gotA, err := store.ExperiencesFor(ctx, urlA)
			require.NoError(t, err)
			require.Len(t, gotA, 1)
			assert.Equal(t, "a1", gotA[0].ScoutID)

			// Wiping one URL leaves the other intact.
			require.NoError(t, store.Wipe(ctx, urlA))
			gotA, err = store.ExperiencesFor(ctx, urlA)
			require.NoError(t, err)
			assert.Empty(t, gotA)

			gotB, err := store.ExperiencesFor(ctx, urlB)
			require.NoError(t, err)
			require.Len(t, gotB, 1)

			// A second wipe is a no-op.
			require.NoError(t, store.Wipe(ctx, urlA))
		})
	}
}

func TestEphemeralIntelligenceLatestWriterWins(t *testing.T) {
	for name, store := range ephemeralBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			url := "https://q.example/u1"

			_, err := store.IntelligenceFor(ctx, url)
			assert.ErrorIs(t, err, ErrNotFound)

			first := types.QuestionnaireIntelligence{QuestionnaireURL: url, Confidence: 0.5, Source: "rules"}
			second := types.QuestionnaireIntelligence{QuestionnaireURL: url, Confidence: 0.9, Source: "llm"}
			require.NoError(t, store.RecordIntelligence(ctx, url, first))
			require.NoError(t, store.RecordIntelligence(ctx, url, second))

			got, err := store.IntelligenceFor(ctx, url)
			require.NoError(t, err)
			assert.Equal(t, 0.9, got.Confidence)
			assert.Equal(t, "llm", got.Source)
		})
	}
}

func TestMemoryStoreConcurrentWriters(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	url := "https://q.example/u1"

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = store.RecordExperience(ctx, url, sampleExperience(fmt.Sprintf("s%d", n), n, n, types.TerminationNormal))
		}(i)
	}
	wg.Wait()

	got, err := store.ExperiencesFor(ctx, url)
	require.NoError(t, err)
	assert.Len(t, got, 20)
}

func TestPersistentStoreUpsertAndRules(t *testing.T) {
	store, err := NewPersistentStore(":memory:", nil)
	require.NoError(t, err)
	ctx := context.Background()
	url := "https://q.example/u1"

	qi := types.QuestionnaireIntelligence{
		QuestionnaireURL: url,
		Theme:            "beverage habits",
		Confidence:       0.75,
		Source:           "rules",
		GeneratedAt:      time.Now(),
		Rules: []types.GuidanceRule{
			{Pattern: "how often.*coffee", Answer: "2-3 times a week", Confidence: 0.6, SuccessRate: 0.8},
		},
	}
	require.NoError(t, store.SaveIntelligence(ctx, url, qi))
	require.NoError(t, store.SaveGeneralRules(ctx, url, qi.Rules))

	got, err := store.IntelligenceFor(ctx, url)
	require.NoError(t, err)
	assert.Equal(t, "beverage habits", got.Theme)

	// Re-analysis overwrites the record for the URL.
	qi.Confidence = 0.9
	qi.Source = "llm"
	require.NoError(t, store.SaveIntelligence(ctx, url, qi))
	got, err = store.IntelligenceFor(ctx, url)
	require.NoError(t, err)
	assert.Equal(t, 0.9, got.Confidence)

	rules, err := store.GeneralRules(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "2-3 times a week", rules[0].Answer)

	_, err = store.IntelligenceFor(ctx, "https://q.example/other")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDualKBIntelligenceSurvivesWipe(t *testing.T) {
	persistent, err := NewPersistentStore(":memory:", nil)
	require.NoError(t, err)
	kb := NewDualKB(NewMemoryStore(), persistent, nil)
	ctx := context.Background()
	url := "https://q.example/u1"

	qi := types.QuestionnaireIntelligence{QuestionnaireURL: url, Confidence: 0.8, GeneratedAt: time.Now()}
	require.NoError(t, kb.RecordIntelligence(ctx, url, qi))

	require.NoError(t, kb.WipeEphemeral(ctx, url))

	// The persistent copy still answers.
	got, ok := kb.IntelligenceFor(ctx, url)
	require.True(t, ok)
	assert.Equal(t, 0.8, got.Confidence)
}

func TestBuildGuidancePrompt(t *testing.T) {
	kb := NewDualKB(NewMemoryStore(), nil, nil)
	ctx := context.Background()
	url := "https://q.example/u1"

	// No intelligence yet: scouts run with an empty guidance stanza.
	assert.Empty(t, kb.BuildGuidancePrompt(ctx, url, types.Persona{ID: 1}))

	qi := types.QuestionnaireIntelligence{
		QuestionnaireURL: url,
		Theme:            "fitness habits",
		TargetAudience:   types.TargetAudience{AgeMin: 20, AgeMax: 35, GenderSkew: "female"},
		TrapQuestions: []types.TrapDescriptor{
			{QuestionText: "Do you work in market research?", FatalAnswer: "Yes"},
		},
		Rules: []types.GuidanceRule{
			{Pattern: "exercise frequency", Answer: "3-4 times a week", Confidence: 0.7, SuccessRate: 0.9},
		},
		Strategies: []string{"prefer moderate options over extremes"},
		Confidence: 0.8,
	}
	require.NoError(t, kb.RecordIntelligence(ctx, url, qi))

	insider := types.Persona{ID: 1, Age: 25, Gender: "female"}
	prompt := kb.BuildGuidancePrompt(ctx, url, insider)
	assert.Contains(t, prompt, "fitness habits")
	assert.Contains(t, prompt, "Do you work in market research?")
	assert.Contains(t, prompt, "3-4 times a week")
	assert.Contains(t, prompt, "moderate options")
	assert.NotContains(t, prompt, "outside the inferred audience")

	outsider := types.Persona{ID: 2, Age: 60, Gender: "male"}
	prompt = kb.BuildGuidancePrompt(ctx, url, outsider)
	assert.Contains(t, prompt, "outside the inferred audience")
}
