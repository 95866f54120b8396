package session

import (
	"context"
	"testing"
	"time"

	"github.com/ashureev/readiness-wizard/internal/domain"
	"github.com/ashureev/readiness-wizard/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAutoSave_DebounceCoalescesBurst(t *testing.T) {
	env := newTestEnv(t)
	p := env.provider(t, ProviderOptions{Debounce: 50 * time.Millisecond, SaveInterval: 5 * time.Second})

	for i := 0; i < 10; i++ {
		p.SetStepData(0, domain.StepData{"companyName": "Acme", "revision": i})
	}
	assert.Zero(t, env.session.writes(sessionKey), "nothing is written before the debounce elapses")

	require.Eventually(t, func() bool { return env.session.writes(sessionKey) == 1 },
		time.Second, 5*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, env.session.writes(sessionKey))

	stored, ok := env.storedSession(t)
	require.True(t, ok)
	assert.Equal(t, float64(9), stored.Steps[0].Data["revision"])
	assert.False(t, stored.IsAutoSaving)

	s := p.State()
	require.NotNil(t, s.LastSaved)
	assert.False(t, s.IsAutoSaving)
}

func TestAutoSave_BackstopFiresUnderContinuousInput(t *testing.T) {
	env := newTestEnv(t)
	p := env.provider(t, ProviderOptions{Debounce: time.Second, SaveInterval: 50 * time.Millisecond})

	deadline := time.Now().Add(300 * time.Millisecond)
	for i := 0; time.Now().Before(deadline); i++ {
		p.SetStepData(0, domain.StepData{"revision": i})
		time.Sleep(5 * time.Millisecond)
	}

	assert.GreaterOrEqual(t, env.session.writes(sessionKey), 1,
		"the backstop must flush while the debounce keeps restarting")
}

func TestAutoSave_SupersededDebounceCallbackDoesNotFlush(t *testing.T) {
	env := newTestEnv(t)
	p := env.provider(t, ProviderOptions{Debounce: time.Hour, SaveInterval: time.Hour})

	p.SetStepData(0, domain.StepData{"revision": 1})
	p.autosave.mu.Lock()
	burst, stale := p.autosave.burst, p.autosave.restart
	p.autosave.mu.Unlock()

	p.SetStepData(0, domain.StepData{"revision": 2})

	// A callback of the replaced timer that was already running when
	// Stop was called.
	p.autosave.fire(burst, stale)
	assert.Zero(t, env.session.writes(sessionKey))
	assert.True(t, p.autosave.Pending())

	p.autosave.mu.Lock()
	current := p.autosave.restart
	p.autosave.mu.Unlock()
	p.autosave.fire(burst, current)
	assert.Equal(t, 1, env.session.writes(sessionKey))
	assert.False(t, p.autosave.Pending())
}

func TestAutoSave_OnlyQualifyingChangesSchedule(t *testing.T) {
	env := newTestEnv(t)
	p := env.provider(t, ProviderOptions{})

	p.BindAssessment("asmt-1")
	p.Dispatch(SetAutoSaving{Saving: true})
	p.Dispatch(SetStepErrors{StepIndex: 0, Errors: domain.FieldErrors{"x": {"bad"}}})
	p.GoToStep(0)
	assert.False(t, p.autosave.Pending())

	p.CompleteStep(0)
	assert.True(t, p.autosave.Pending())
}

func TestAutoSave_SavesPreferencesWithSelection(t *testing.T) {
	env := newTestEnv(t)
	p := env.provider(t, ProviderOptions{})

	p.SetSelection(&domain.Department{ID: 3, Name: "Finance"}, &domain.JobRole{ID: 7, Title: "Engineer"})

	require.Eventually(t, func() bool {
		return env.local.writes("assessment_cache_user_preferences") == 1
	}, time.Second, 5*time.Millisecond)

	var prefs domain.UserPreferences
	require.True(t, env.storage.Load(context.Background(), KeyUserPreferences, storage.LocalStore, &prefs))
	require.NotNil(t, prefs.SelectedJobRole)
	assert.Equal(t, "Engineer", prefs.SelectedJobRole.Title)
	assert.Equal(t, "Finance", prefs.SelectedDepartment.Name)
}

func TestAutoSave_NoPreferencesWithoutSelection(t *testing.T) {
	env := newTestEnv(t)
	p := env.provider(t, ProviderOptions{})

	p.SetStepData(0, domain.StepData{"companyName": "Acme"})
	require.Eventually(t, func() bool { return env.session.writes(sessionKey) == 1 },
		time.Second, 5*time.Millisecond)
	assert.Zero(t, env.local.writes("assessment_cache_user_preferences"))
}

func TestAutoSave_FailureSetsLastError(t *testing.T) {
	env := newTestEnv(t)
	p := env.provider(t, ProviderOptions{})
	env.session.SetDisabled(true)

	p.SetStepData(0, domain.StepData{"companyName": "Acme"})

	require.Eventually(t, func() bool { return p.State().LastError != "" }, time.Second, 5*time.Millisecond)
	s := p.State()
	assert.Contains(t, s.LastError, "Failed to save session")
	assert.False(t, s.IsAutoSaving)
	assert.Nil(t, s.LastSaved)
}

func TestAutoSave_CancelDropsPendingSave(t *testing.T) {
	env := newTestEnv(t)
	p := env.provider(t, ProviderOptions{Debounce: 30 * time.Millisecond})

	p.SetStepData(0, domain.StepData{"companyName": "Acme"})
	require.True(t, p.autosave.Pending())
	p.autosave.Cancel()
	assert.False(t, p.autosave.Pending())

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, env.session.writes(sessionKey))
}

func TestAutoSave_FlushNowWritesImmediately(t *testing.T) {
	env := newTestEnv(t)
	p := env.provider(t, ProviderOptions{Debounce: time.Hour, SaveInterval: time.Hour})

	p.SetStepData(0, domain.StepData{"companyName": "Acme"})
	p.Flush()

	assert.Equal(t, 1, env.session.writes(sessionKey))
	assert.False(t, p.autosave.Pending())
	assert.NotNil(t, p.State().LastSaved)
}
