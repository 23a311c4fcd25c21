package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/caremesh/scheduling/internal/schedule"
)

type fakeScheduleRepo struct {
	mu        sync.Mutex
	templates map[uuid.UUID]schedule.WeeklySlotTemplate
	absences  map[uuid.UUID]schedule.AbsencePeriod
}

func newFakeScheduleRepo() *fakeScheduleRepo {
	return &fakeScheduleRepo{
		templates: make(map[uuid.UUID]schedule.WeeklySlotTemplate),
		absences:  make(map[uuid.UUID]schedule.AbsencePeriod),
	}
}

func (r *fakeScheduleRepo) ListTemplates(_ context.Context, practitionerID uuid.UUID) ([]schedule.WeeklySlotTemplate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []schedule.WeeklySlotTemplate
	for _, t := range r.templates {
		if t.PractitionerID == practitionerID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *fakeScheduleRepo) GetTemplateByID(_ context.Context, id uuid.UUID) (*schedule.WeeklySlotTemplate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.templates[id]
	if !ok {
		return nil, schedule.ErrTemplateNotFound
	}
	return &t, nil
}

func (r *fakeScheduleRepo) InsertTemplate(_ context.Context, t schedule.WeeklySlotTemplate) (*schedule.WeeklySlotTemplate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[t.ID] = t
	return &t, nil
}

func (r *fakeScheduleRepo) UpdateTemplate(_ context.Context, t schedule.WeeklySlotTemplate) (*schedule.WeeklySlotTemplate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.templates[t.ID]; !ok {
		return nil, schedule.ErrTemplateNotFound
	}
	r.templates[t.ID] = t
	return &t, nil
}

func (r *fakeScheduleRepo) SetTemplateActive(_ context.Context, id uuid.UUID, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.templates[id]
	if !ok {
		return schedule.ErrTemplateNotFound
	}
	t.Active = active
	r.templates[id] = t
	return nil
}

func (r *fakeScheduleRepo) ListAbsences(_ context.Context, practitionerID uuid.UUID, _, _ time.Time) ([]schedule.AbsencePeriod, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []schedule.AbsencePeriod
	for _, a := range r.absences {
		if a.PractitionerID == practitionerID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *fakeScheduleRepo) InsertAbsence(_ context.Context, a schedule.AbsencePeriod) (*schedule.AbsencePeriod, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.absences[a.ID] = a
	return &a, nil
}

func (r *fakeScheduleRepo) DeleteAbsence(_ context.Context, id, practitionerID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.absences[id]
	if !ok || a.PractitionerID != practitionerID {
		return schedule.ErrAbsenceNotFound
	}
	delete(r.absences, id)
	return nil
}

func (r *fakeScheduleRepo) CountActiveAppointments(_ context.Context, _ uuid.UUID, _, _ time.Time) (int, error) {
	return 0, nil
}

func newScheduleRouter(t *testing.T) (http.Handler, *fakeScheduleRepo) {
	t.Helper()
	repo := newFakeScheduleRepo()
	router := NewRouter(RouterConfig{
		Schedules: schedule.NewService(repo, zap.NewNop()),
		Logger:    zap.NewNop(),
		Env:       "dev",
		Version:   "test",
	})
	return router, repo
}

func doJSON(t *testing.T, router http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestScheduleTemplateRoutes(t *testing.T) {
	router, repo := newScheduleRouter(t)
	practitionerID := uuid.New()

	rec := doJSON(t, router, http.MethodPost, "/schedule/templates", TemplateRequest{
		PractitionerID:      practitionerID.String(),
		Weekday:             2,
		StartMinute:         9 * 60,
		EndMinute:           12 * 60,
		SlotDurationMinutes: 30,
		Kind:                "standing",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created schedule.WeeklySlotTemplate
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEqual(t, uuid.Nil, created.ID)

	t.Run("update shifts the window", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPut, "/schedule/templates/"+created.ID.String(), TemplateRequest{
			PractitionerID:      practitionerID.String(),
			Weekday:             2,
			StartMinute:         14 * 60,
			EndMinute:           17 * 60,
			SlotDurationMinutes: 30,
			Kind:                "standing",
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var updated schedule.WeeklySlotTemplate
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
		assert.Equal(t, created.ID, updated.ID)
		assert.Equal(t, 14*60, updated.StartMinute)
	})

	t.Run("update of an unknown template is 404", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPut, "/schedule/templates/"+uuid.NewString(), TemplateRequest{
			PractitionerID:      practitionerID.String(),
			Weekday:             2,
			StartMinute:         9 * 60,
			EndMinute:           12 * 60,
			SlotDurationMinutes: 30,
			Kind:                "standing",
		})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("invalid window is 422", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPut, "/schedule/templates/"+created.ID.String(), TemplateRequest{
			PractitionerID:      practitionerID.String(),
			Weekday:             2,
			StartMinute:         12 * 60,
			EndMinute:           9 * 60,
			SlotDurationMinutes: 30,
			Kind:                "standing",
		})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("deactivate", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodDelete, "/schedule/templates/"+created.ID.String(), nil)
		require.Equal(t, http.StatusNoContent, rec.Code)

		stored, err := repo.GetTemplateByID(context.Background(), created.ID)
		require.NoError(t, err)
		assert.False(t, stored.Active)
	})

	t.Run("list includes the deactivated template", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodGet, "/schedule/templates?practitioner_id="+practitionerID.String(), nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var templates []schedule.WeeklySlotTemplate
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &templates))
		assert.Len(t, templates, 1)
	})
}

func TestScheduleAbsenceRoutes(t *testing.T) {
	router, _ := newScheduleRouter(t)
	practitionerID := uuid.New()

	start := time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 4)

	rec := doJSON(t, router, http.MethodPost, "/schedule/absences", AbsenceRequest{
		PractitionerID: practitionerID.String(),
		StartDate:      start,
		EndDate:        end,
		Kind:           "vacation",
		WholeDay:       true,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created schedule.AbsencePeriod
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	t.Run("list", func(t *testing.T) {
		target := "/schedule/absences?practitioner_id=" + practitionerID.String() +
			"&from=" + start.Format(time.RFC3339) + "&to=" + end.Format(time.RFC3339)
		rec := doJSON(t, router, http.MethodGet, target, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var absences []schedule.AbsencePeriod
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &absences))
		assert.Len(t, absences, 1)
	})

	t.Run("delete requires the owning practitioner", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodDelete,
			"/schedule/absences/"+created.ID.String()+"?practitioner_id="+uuid.NewString(), nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("delete", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodDelete,
			"/schedule/absences/"+created.ID.String()+"?practitioner_id="+practitionerID.String(), nil)
		require.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("missing practitioner_id is 400", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodDelete, "/schedule/absences/"+created.ID.String(), nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
